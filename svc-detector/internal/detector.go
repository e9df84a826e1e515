package internal

import (
	"context"
	"fmt"
	"log"
	"time"

	api "github.com/etesami/moto-tracking-system/api"
	mt "github.com/etesami/moto-tracking-system/pkg/metric"
	"github.com/etesami/moto-tracking-system/pkg/utils"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Detector finds the objects of an encoded frame
type Detector interface {
	Detect(frame []byte) ([]api.Detection, error)
}

type DtConfig struct {
	// ForwardFrame sends the encoded frame along with the detections
	ForwardFrame bool
}

type Server struct {
	api.UnimplementedDetectionTrackingPipelineServer

	DtConfig         *DtConfig
	Detector         Detector
	TrackerClientRef *utils.GrpcClient
	Metric           *mt.Metric
}

// SendFrameToServer handles incoming frames from the aggregator service
func (s *Server) SendFrameToServer(ctx context.Context, recData *api.FrameData) (*api.Ack, error) {
	recTime := time.Now()
	meta := recData.Metadata
	s.Metric.AddFrameCount("all", 1)

	if len(recData.Frame) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "empty frame [%d] from [%s]", meta.FrameId, meta.SourceId)
	}

	dets, err := s.Detector.Detect(recData.Frame)
	if err != nil {
		s.Metric.AddFrameCount("failed", 1)
		return nil, status.Errorf(codes.Internal, "error detecting objects in frame [%d]: %v", meta.FrameId, err)
	}
	s.Metric.AddProcessingTime("detector", utils.ElapsedMs(recTime))
	log.Printf("Received [Aggregator] source [%s] frame [%d]: [%d] detections in [%.2f]ms",
		meta.SourceId, meta.FrameId, len(dets), utils.ElapsedMs(recTime))

	// frames are forwarded in the order they arrive so the tracker sees them in sequence
	st := "ok"
	if err := s.forward(ctx, meta, dets, recData.Frame); err != nil {
		log.Printf("Error forwarding frame [%d] to tracker: %v", meta.FrameId, err)
		s.Metric.AddFrameCount("skipped", 1)
		st = "not forwarded"
	} else {
		s.Metric.AddFrameCount("processed", 1)
	}

	return api.NewAck(st, recData.SentTimestamp, recTime), nil
}

func (s *Server) forward(ctx context.Context, meta api.FrameMetadata, dets []api.Detection, frame []byte) error {
	client := s.TrackerClientRef.Load()
	if client == nil {
		return fmt.Errorf("tracker client is not initialized")
	}

	d := &api.DetectionData{
		Metadata:   meta,
		Detections: dets,
	}
	if s.DtConfig.ForwardFrame {
		d.Frame = frame
	}
	d.SentTimestamp = timestamppb.Now()

	res, err := client.SendDetectionsToServer(ctx, d)
	if err != nil {
		return fmt.Errorf("error sending detections: %w", err)
	}
	now := time.Now()
	if res.Ack == nil {
		return fmt.Errorf("tracker replied without ack")
	}

	s.Metric.AddSentDataBytes("tracker", float64(api.WireSize(d)))
	transTime, err := utils.CalculateRtt(d.SentTimestamp, res.Ack.ReceivedTimestamp, res.Ack.AckSentTimestamp, now)
	if err != nil {
		return fmt.Errorf("error calculating RTT: %w", err)
	}
	e2e := float64(now.Sub(d.SentTimestamp.AsTime()).Microseconds()) / 1000.0
	s.Metric.AddTransitTime("tracker", transTime)
	s.Metric.AddE2ETimes("tracker", e2e)

	log.Printf("Sent frame [%d], [tracker] response: [%s], [%d] tracked, RTT [%.2f]ms, Total [%.2f]ms",
		meta.FrameId, res.Ack.Status, len(res.Objects), transTime, e2e)
	return nil
}
