package tracker

import (
	"fmt"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultMaxDisappeared is the number of consecutive missed frames tolerated
// before a tracked object is removed
const DefaultMaxDisappeared = 50

// Object is the state of a single tracked identity
type Object struct {
	ID          int
	Centroid    image.Point
	Box         image.Rectangle
	Disappeared int
}

// Snapshot maps identities to a copy of their tracked state
type Snapshot map[int]Object

// IDs returns the identities of the snapshot in ascending order
func (s Snapshot) IDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// CentroidTracker associates per-frame boxes into persistent identities by
// greedily matching the nearest centroids. It is not safe for concurrent use.
type CentroidTracker struct {
	// Next identity to hand out, never reissued
	nextID int
	// Live objects keyed by identity
	objects map[int]*Object
	// Consecutive missed frames tolerated before eviction
	maxDisappeared int
}

// NewCentroidTracker returns an empty tracker evicting objects missing for
// more than maxDisappeared consecutive updates
func NewCentroidTracker(maxDisappeared int) (*CentroidTracker, error) {
	if maxDisappeared <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxDisappeared, maxDisappeared)
	}
	return &CentroidTracker{
		objects:        make(map[int]*Object),
		maxDisappeared: maxDisappeared,
	}, nil
}

// Len returns the number of live objects
func (ct *CentroidTracker) Len() int {
	return len(ct.objects)
}

// MaxDisappeared returns the configured eviction threshold
func (ct *CentroidTracker) MaxDisappeared() int {
	return ct.maxDisappeared
}

// Update applies the boxes detected in one frame and returns the registry.
// Boxes are validated first; a malformed box fails the call without touching
// the tracker state.
func (ct *CentroidTracker) Update(boxes []image.Rectangle) (Snapshot, error) {
	for i, box := range boxes {
		if err := Validate(box); err != nil {
			return nil, fmt.Errorf("box %d: %w", i, err)
		}
	}

	if len(boxes) == 0 {
		for _, id := range ct.sortedIDs() {
			ct.markDisappeared(id)
		}
		return ct.snapshot(), nil
	}

	centroids := make([]image.Point, len(boxes))
	for i, box := range boxes {
		centroids[i] = Centroid(box)
	}

	if len(ct.objects) == 0 {
		for i := range boxes {
			ct.register(centroids[i], boxes[i])
		}
		return ct.snapshot(), nil
	}

	ids := ct.sortedIDs()
	dist := distanceMatrix(ct.objects, ids, centroids)

	// argmin column of each row and the distance it sits at
	cols := make([]int, len(ids))
	minDist := make([]float64, len(ids))
	for r := range ids {
		row := dist.RawRowView(r)
		cols[r] = floats.MinIdx(row)
		minDist[r] = row[cols[r]]
	}

	rows := make([]int, len(ids))
	for r := range rows {
		rows[r] = r
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return minDist[rows[a]] < minDist[rows[b]]
	})

	usedRows := make([]bool, len(ids))
	usedCols := make([]bool, len(boxes))
	for _, r := range rows {
		c := cols[r]
		if usedRows[r] || usedCols[c] {
			continue
		}
		obj := ct.objects[ids[r]]
		obj.Centroid = centroids[c]
		obj.Box = boxes[c]
		obj.Disappeared = 0
		usedRows[r] = true
		usedCols[c] = true
	}

	for r, id := range ids {
		if !usedRows[r] {
			ct.markDisappeared(id)
		}
	}

	for c := range boxes {
		if !usedCols[c] {
			ct.register(centroids[c], boxes[c])
		}
	}

	return ct.snapshot(), nil
}

func (ct *CentroidTracker) register(centroid image.Point, box image.Rectangle) {
	ct.objects[ct.nextID] = &Object{
		ID:       ct.nextID,
		Centroid: centroid,
		Box:      box,
	}
	ct.nextID++
}

func (ct *CentroidTracker) deregister(id int) {
	delete(ct.objects, id)
}

// markDisappeared ages an unmatched object, removing it once the counter
// exceeds maxDisappeared
func (ct *CentroidTracker) markDisappeared(id int) {
	obj := ct.objects[id]
	obj.Disappeared++
	if obj.Disappeared > ct.maxDisappeared {
		ct.deregister(id)
	}
}

func (ct *CentroidTracker) sortedIDs() []int {
	ids := make([]int, 0, len(ct.objects))
	for id := range ct.objects {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (ct *CentroidTracker) snapshot() Snapshot {
	s := make(Snapshot, len(ct.objects))
	for id, obj := range ct.objects {
		s[id] = *obj
	}
	return s
}

// distanceMatrix holds the euclidean distance between every tracked centroid
// (rows, in ids order) and every candidate centroid (columns, input order).
// Integer offsets are squared exactly so equal distances compare equal.
func distanceMatrix(objects map[int]*Object, ids []int, centroids []image.Point) *mat.Dense {
	d := mat.NewDense(len(ids), len(centroids), nil)
	for r, id := range ids {
		o := objects[id].Centroid
		for c, p := range centroids {
			dx, dy := o.X-p.X, o.Y-p.Y
			d.Set(r, c, math.Sqrt(float64(dx*dx+dy*dy)))
		}
	}
	return d
}
