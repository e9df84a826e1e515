package internal

import (
	"context"
	"fmt"
	"log"
	"time"

	api "github.com/etesami/moto-tracking-system/api"
	mt "github.com/etesami/moto-tracking-system/pkg/metric"
	"github.com/etesami/moto-tracking-system/pkg/utils"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// FrameSource yields encoded frames of one video source in read order
type FrameSource interface {
	Next(ctx context.Context) (api.FrameMetadata, []byte, bool)
}

// Config holds the aggregation parameters
type Config struct {
	// MaxTotalFrames stops the aggregator after that many frames, 0 means unlimited
	MaxTotalFrames int
	// DetectionFrequency sends every n-th frame to the detector
	DetectionFrequency int
}

type Aggregator struct {
	Config   *Config
	Source   FrameSource
	DtClient *utils.GrpcClient
	Metric   *mt.Metric

	frameCount     int
	frameSkipped   int
	frameProcessed int
}

// Run forwards the frames of the source to the detector until the source is
// exhausted, MaxTotalFrames is reached or ctx is done
func (a *Aggregator) Run(ctx context.Context) {
	freq := a.Config.DetectionFrequency
	if freq <= 0 {
		freq = 1
	}

	for {
		if a.Config.MaxTotalFrames > 0 && a.frameCount >= a.Config.MaxTotalFrames {
			log.Printf("Reached max total frames [%d]", a.Config.MaxTotalFrames)
			break
		}
		meta, data, ok := a.Source.Next(ctx)
		if !ok {
			break
		}
		a.countFrame("all")
		if meta.FrameId%int64(freq) != 0 {
			continue
		}

		st := time.Now()
		if err := SendFrame(ctx, meta, data, a.DtClient, a.Metric, "detector"); err != nil {
			log.Printf("Error sending frame [%d]: %v", meta.FrameId, err)
			a.countFrame("skipped")
			continue
		}
		a.Metric.AddProcessingTime("aggregator", utils.ElapsedMs(st))
		a.countFrame("processed")
	}
	log.Printf("Aggregation finished: [%d] frames read, [%d] processed, [%d] skipped",
		a.frameCount, a.frameProcessed, a.frameSkipped)
}

// countFrame records a frame outcome. Frames dropped on a full queue are
// counted as skipped by the video input.
func (a *Aggregator) countFrame(kind string) {
	a.Metric.AddFrameCount(kind, 1)
	switch kind {
	case "all":
		a.frameCount++
	case "skipped":
		a.frameSkipped++
	case "processed":
		a.frameProcessed++
	}
}

// SendFrame sends a frame to the detector service
func SendFrame(ctx context.Context, f api.FrameMetadata, frameByte []byte, clientRef *utils.GrpcClient, m *mt.Metric, dstSvcName string) error {
	client := clientRef.Load()
	if client == nil {
		return fmt.Errorf("client is not initialized")
	}

	d := &api.FrameData{
		Metadata:      f,
		Frame:         frameByte,
		SentTimestamp: timestamppb.Now(),
	}

	pong, err := client.SendFrameToServer(ctx, d)
	if err != nil {
		return fmt.Errorf("error sending frame to server: %w", err)
	}
	now := time.Now()
	m.AddSentDataBytes(dstSvcName, float64(api.WireSize(d)))

	transTime, err := utils.CalculateRtt(d.SentTimestamp, pong.ReceivedTimestamp, pong.AckSentTimestamp, now)
	if err != nil {
		return fmt.Errorf("error calculating RTT: %w", err)
	}
	e2eSvcLatency := float64(now.Sub(d.SentTimestamp.AsTime()).Microseconds()) / 1000.0

	// transit excludes the detector's processing time, e2e includes it
	m.AddTransitTime(dstSvcName, transTime)
	m.AddE2ETimes(dstSvcName, e2eSvcLatency)

	log.Printf("Sent frame [%d], [%s] response: [%s], RTT [%.2f]ms, Total [%.2f]ms", f.FrameId, dstSvcName, pong.Status, transTime, e2eSvcLatency)
	return nil
}
