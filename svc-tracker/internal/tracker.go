package internal

import (
	"context"
	"log"
	"sync"
	"time"

	api "github.com/etesami/moto-tracking-system/api"
	mt "github.com/etesami/moto-tracking-system/pkg/metric"
	"github.com/etesami/moto-tracking-system/pkg/publish"
	"github.com/etesami/moto-tracking-system/pkg/store"
	"github.com/etesami/moto-tracking-system/pkg/tracker"
	"github.com/etesami/moto-tracking-system/pkg/utils"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Recorder persists tracked frames
type Recorder interface {
	RecordFrame(ctx context.Context, r store.FrameRecord) error
}

// Publisher relays tracked frames to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, p publish.Payload) error
}

// FrameSink receives the encoded frame together with its tracked objects
type FrameSink interface {
	SaveFrame(meta api.FrameMetadata, frame []byte, objects []api.TrackedObject) error
}

type TrConfig struct {
	MaxDisappeared int
	ClassifierSeed uint64
}

type Server struct {
	api.UnimplementedDetectionTrackingPipelineServer

	TrConfig *TrConfig
	RunId    string
	Metric   *mt.Metric

	// Optional sinks, nil disables them
	Recorder  Recorder
	Publisher Publisher
	Sink      FrameSink

	mu       sync.Mutex
	trackers map[string]*TrackerClient
}

// NewServer validates the tracker configuration and returns an empty server
func NewServer(cfg *TrConfig, runId string, m *mt.Metric) (*Server, error) {
	// fail at start-up rather than on the first frame
	if _, err := tracker.NewCentroidTracker(cfg.MaxDisappeared); err != nil {
		return nil, err
	}
	return &Server{
		TrConfig: cfg,
		RunId:    runId,
		Metric:   m,
		trackers: make(map[string]*TrackerClient),
	}, nil
}

// trackerFor returns the tracker client of a source, creating it on first use
func (s *Server) trackerFor(sourceId string) (*TrackerClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tc, ok := s.trackers[sourceId]; ok {
		return tc, nil
	}
	tc, err := NewTrackerClient(sourceId, s.TrConfig.MaxDisappeared, s.TrConfig.ClassifierSeed)
	if err != nil {
		return nil, err
	}
	s.trackers[sourceId] = tc
	log.Printf("New tracker for source [%s], max disappeared [%d]", sourceId, s.TrConfig.MaxDisappeared)
	return tc, nil
}

// SendDetectionsToServer handles the detections of one frame sent by the detector service
func (s *Server) SendDetectionsToServer(ctx context.Context, recData *api.DetectionData) (*api.TrackingResult, error) {
	recTime := time.Now()
	meta := recData.Metadata
	if meta.SourceId == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing source id in frame [%d]", meta.FrameId)
	}
	s.Metric.AddFrameCount("all", 1)

	tc, err := s.trackerFor(meta.SourceId)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "error creating tracker: %v", err)
	}

	res, err := tc.Apply(recData)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	if res.stale {
		s.Metric.AddFrameCount("stale", 1)
		log.Printf("Source [%s]: frame [%d] is stale, skipped", meta.SourceId, meta.FrameId)
		return &api.TrackingResult{Ack: api.NewAck("stale", recData.SentTimestamp, recTime)}, nil
	}

	procMs := utils.ElapsedMs(recTime)
	s.Metric.AddProcessingTime("tracker", procMs)
	s.Metric.SetTrackedObjects(meta.SourceId, len(res.objects), res.registered, res.evicted)
	if res.rejected > 0 {
		s.Metric.AddRejectedBoxes(meta.SourceId, res.rejected)
	}
	s.Metric.AddFrameCount("processed", 1)

	log.Printf("Received [Detector] source [%s] frame [%d]: [%d] detections, [%d] tracked, [+%d/-%d], [%.2f]ms",
		meta.SourceId, meta.FrameId, len(recData.Detections), len(res.objects), res.registered, res.evicted, procMs)

	s.deliver(ctx, recData, res, procMs)

	return &api.TrackingResult{
		Ack:     api.NewAck("ok", recData.SentTimestamp, recTime),
		Objects: res.objects,
	}, nil
}

// deliver hands the tracked frame to the configured sinks. Failures are logged only.
func (s *Server) deliver(ctx context.Context, recData *api.DetectionData, res *frameResult, procMs float64) {
	meta := recData.Metadata

	if s.Recorder != nil {
		rec := store.FrameRecord{
			RunId:        s.RunId,
			SourceId:     meta.SourceId,
			FrameId:      meta.FrameId,
			FrameTime:    meta.Timestamp,
			Detections:   len(recData.Detections),
			Rejected:     res.rejected,
			Registered:   res.registered,
			Evicted:      res.evicted,
			ProcessingMs: procMs,
			Objects:      make([]store.ObjectRecord, 0, len(res.objects)),
		}
		for _, o := range res.objects {
			rec.Objects = append(rec.Objects, store.ObjectRecord{
				FrameId:    meta.FrameId,
				ObjectId:   o.Id,
				Centroid:   o.Centroid,
				Box:        o.Box,
				Class:      o.Class,
				Confidence: float64(o.Confidence),
				Zone:       o.Zone,
				Model:      o.Model,
			})
		}
		if err := s.Recorder.RecordFrame(ctx, rec); err != nil {
			log.Printf("Error recording frame [%d] of [%s]: %v", meta.FrameId, meta.SourceId, err)
		}
	}

	if s.Publisher != nil {
		p := publish.NewPayload(s.RunId, meta, res.objects, time.Now())
		if err := s.Publisher.Publish(ctx, p); err != nil {
			log.Printf("Error publishing frame [%d] of [%s]: %v", meta.FrameId, meta.SourceId, err)
		}
	}

	if s.Sink != nil && len(recData.Frame) > 0 {
		if err := s.Sink.SaveFrame(meta, recData.Frame, res.objects); err != nil {
			log.Printf("Error saving frame [%d] of [%s]: %v", meta.FrameId, meta.SourceId, err)
		}
	}
}
