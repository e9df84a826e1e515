package internal

import (
	"fmt"
	"image"
	"log"
	"sync"

	api "github.com/etesami/moto-tracking-system/api"
	"github.com/etesami/moto-tracking-system/pkg/fleet"
	"github.com/etesami/moto-tracking-system/pkg/tracker"
)

// TrackerClient owns the centroid tracker of one video source. Frames of a
// source are applied one at a time and in increasing frame order.
type TrackerClient struct {
	mu          sync.Mutex
	sourceId    string
	tracker     *tracker.CentroidTracker
	classifier  *fleet.Classifier
	last        tracker.Snapshot
	lastSeen    map[int]api.Detection
	lastFrameId int64
	applied     bool
}

// frameResult is the outcome of applying one frame of detections
type frameResult struct {
	stale      bool
	objects    []api.TrackedObject
	rejected   int
	registered int
	evicted    int
}

func NewTrackerClient(sourceId string, maxDisappeared int, seed uint64) (*TrackerClient, error) {
	ct, err := tracker.NewCentroidTracker(maxDisappeared)
	if err != nil {
		return nil, err
	}
	return &TrackerClient{
		sourceId:   sourceId,
		tracker:    ct,
		classifier: fleet.NewClassifier(seed),
		last:       tracker.Snapshot{},
		lastSeen:   make(map[int]api.Detection),
	}, nil
}

// Apply runs the detections of a frame through the tracker and returns the
// live identities enriched with their yard metadata
func (tc *TrackerClient) Apply(in *api.DetectionData) (*frameResult, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.applied && in.Metadata.FrameId <= tc.lastFrameId {
		return &frameResult{stale: true}, nil
	}

	boxes, dets := make([]image.Rectangle, 0, len(in.Detections)), make([]api.Detection, 0, len(in.Detections))
	res := &frameResult{}
	for i, d := range in.Detections {
		if err := tracker.Validate(d.Box); err != nil {
			log.Printf("Source [%s] frame [%d]: dropping detection [%d]: %v", tc.sourceId, in.Metadata.FrameId, i, err)
			res.rejected++
			continue
		}
		boxes = append(boxes, d.Box)
		dets = append(dets, d)
	}

	snap, err := tc.tracker.Update(boxes)
	if err != nil {
		return nil, fmt.Errorf("tracker update failed for source %s: %w", tc.sourceId, err)
	}
	tc.lastFrameId = in.Metadata.FrameId
	tc.applied = true

	for id := range tc.last {
		if _, ok := snap[id]; !ok {
			res.evicted++
			tc.classifier.Forget(id)
			delete(tc.lastSeen, id)
		}
	}

	// a matched object carries exactly the box of its detection
	byBox := make(map[image.Rectangle]api.Detection, len(dets))
	for _, d := range dets {
		if _, ok := byBox[d.Box]; !ok {
			byBox[d.Box] = d
		}
	}

	for _, id := range snap.IDs() {
		o := snap[id]
		if _, ok := tc.last[id]; !ok {
			res.registered++
		}
		if o.Disappeared == 0 {
			if d, ok := byBox[o.Box]; ok {
				tc.lastSeen[id] = d
			}
		}
		d := tc.lastSeen[id]
		res.objects = append(res.objects, api.TrackedObject{
			Id:          id,
			Centroid:    o.Centroid,
			Box:         o.Box,
			Class:       d.Class,
			Confidence:  d.Confidence,
			Zone:        fleet.Zone(o.Centroid, in.Metadata.Width, in.Metadata.Height),
			Model:       tc.classifier.Classify(id, d.Class, float64(d.Confidence)),
			Disappeared: o.Disappeared,
		})
	}
	tc.last = snap

	return res, nil
}
