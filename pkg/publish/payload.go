package publish

import (
	"encoding/json"
	"time"

	api "github.com/etesami/moto-tracking-system/api"
	"github.com/etesami/moto-tracking-system/pkg/fleet"
)

// Detection is the per-identity record of a published frame
type Detection struct {
	Id         int     `json:"id"`
	BBox       [4]int  `json:"bbox"`
	Centroid   [2]int  `json:"centroid"`
	Class      string  `json:"class,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
	Zone       string  `json:"zone,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// Payload is the message published for every tracked frame, empty frames included
type Payload struct {
	RunId      string        `json:"run_id"`
	SourceId   string        `json:"source_id"`
	FrameId    int64         `json:"frame_id"`
	Timestamp  float64       `json:"timestamp"`
	Detections []Detection   `json:"detections"`
	Summary    fleet.Summary `json:"summary"`
}

// NewPayload builds the message of one frame from the tracked objects
func NewPayload(runId string, meta api.FrameMetadata, objects []api.TrackedObject, ts time.Time) Payload {
	p := Payload{
		RunId:      runId,
		SourceId:   meta.SourceId,
		FrameId:    meta.FrameId,
		Timestamp:  float64(ts.UnixMicro()) / 1e6,
		Detections: make([]Detection, 0, len(objects)),
	}
	fo := make([]fleet.Object, 0, len(objects))
	for _, o := range objects {
		p.Detections = append(p.Detections, Detection{
			Id:         o.Id,
			BBox:       [4]int{o.Box.Min.X, o.Box.Min.Y, o.Box.Max.X, o.Box.Max.Y},
			Centroid:   [2]int{o.Centroid.X, o.Centroid.Y},
			Class:      o.Class,
			Confidence: o.Confidence,
			Zone:       o.Zone,
			Model:      o.Model,
		})
		fo = append(fo, fleet.Object{Class: o.Class, Zone: o.Zone, Model: o.Model, Confidence: float64(o.Confidence)})
	}
	p.Summary = fleet.Summarize(fo)
	return p
}

func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
