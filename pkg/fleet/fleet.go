// Package fleet derives the yard metadata attached to each tracked identity:
// the zone of the yard it sits in and the simulated fleet model it belongs to.
package fleet

import (
	"image"
	"math/rand/v2"
	"sort"
	"sync"
)

const (
	ClassMotorcycle = "motorcycle"

	ModelUnidentified  = "unidentified"
	ModelNotApplicable = "not applicable"
	ZoneUnknown        = "ZONE_UNKNOWN"

	// DefaultConfidenceThreshold is the minimum detector confidence kept upstream
	DefaultConfidenceThreshold = 0.4
	// modelConfidence is the confidence above which a motorcycle gets a model
	modelConfidence = 0.8
)

// TargetClasses are the detector classes relevant to the yard
var TargetClasses = []string{ClassMotorcycle, "bicycle", "car", "truck"}

// Models is the simulated fleet catalogue
var Models = []string{
	"Sport 110i",
	"Urban",
	"Delivery",
	"Classic",
}

// Accept reports whether a detection of class with confidence conf should be
// forwarded to the tracker
func Accept(class string, conf, threshold float64) bool {
	if conf < threshold {
		return false
	}
	for _, c := range TargetClasses {
		if c == class {
			return true
		}
	}
	return false
}

// Zone maps a point of a width x height frame to a yard zone. The yard is
// split in thirds along x (A, B, C) and in halves along y (NORTH, SOUTH).
func Zone(pt image.Point, width, height int) string {
	if width <= 0 || height <= 0 {
		return ZoneUnknown
	}
	var zone string
	switch {
	case pt.X < width/3:
		zone = "ZONE_A"
	case pt.X < 2*width/3:
		zone = "ZONE_B"
	default:
		zone = "ZONE_C"
	}
	if pt.Y < height/2 {
		return zone + "_NORTH"
	}
	return zone + "_SOUTH"
}

// Classifier assigns a simulated fleet model to each identity. A model, once
// assigned, sticks to the identity until Forget is called.
type Classifier struct {
	mu     sync.Mutex
	rng    *rand.Rand
	models map[int]string
}

// NewClassifier returns a classifier whose model choices are reproducible for a given seed
func NewClassifier(seed uint64) *Classifier {
	return &Classifier{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		models: make(map[int]string),
	}
}

// Classify returns the model of identity id given its latest class and confidence
func (c *Classifier) Classify(id int, class string, conf float64) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[id]; ok {
		return m
	}
	if class != ClassMotorcycle {
		return ModelNotApplicable
	}
	if conf <= modelConfidence {
		return ModelUnidentified
	}
	m := Models[c.rng.IntN(len(Models))]
	c.models[id] = m
	return m
}

// Forget drops the model of an evicted identity
func (c *Classifier) Forget(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.models, id)
}

// Object is the part of a tracked identity the summary looks at
type Object struct {
	Class      string
	Zone       string
	Model      string
	Confidence float64
}

// Summary aggregates the fleet metadata of one frame
type Summary struct {
	Motorcycles       int            `json:"motorcycles"`
	Models            map[string]int `json:"models"`
	Zones             map[string]int `json:"zones"`
	ModelsVariety     int            `json:"models_variety"`
	ZonesCoverage     int            `json:"zones_coverage"`
	OccupiedZoneNames []string       `json:"occupied_zones"`
	HighestConfidence float64        `json:"highest_confidence"`
}

// Summarize counts the objects per model and zone
func Summarize(objects []Object) Summary {
	s := Summary{
		Models: make(map[string]int),
		Zones:  make(map[string]int),
	}
	for _, o := range objects {
		if o.Class == ClassMotorcycle {
			s.Motorcycles++
		}
		s.Models[o.Model]++
		s.Zones[o.Zone]++
		if o.Confidence > s.HighestConfidence {
			s.HighestConfidence = o.Confidence
		}
	}
	s.ModelsVariety = len(s.Models)
	s.OccupiedZoneNames = s.OccupiedZones()
	s.ZonesCoverage = len(s.OccupiedZoneNames)
	return s
}

// OccupiedZones returns the zones holding at least one object, sorted
func (s Summary) OccupiedZones() []string {
	zones := make([]string, 0, len(s.Zones))
	for z := range s.Zones {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}
