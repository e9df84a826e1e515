package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	metric "github.com/etesami/moto-tracking-system/pkg/metric"
	utils "github.com/etesami/moto-tracking-system/pkg/utils"
	"github.com/etesami/moto-tracking-system/svc-aggregator/internal"
	"github.com/etesami/moto-tracking-system/svc-aggregator/internal/video"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {

	// Setup the metric service for tracking metrics both locally and remote services
	m := &metric.Metric{}
	m.RegisterMetrics(metric.Buckets{
		SentData:  utils.ParseBuckets(os.Getenv("SENT_DATA_BYTE_BUCKETS")),
		ProcTime:  utils.ParseBuckets(os.Getenv("PROC_TIME_BUCKETS")),
		TransTime: utils.ParseBuckets(os.Getenv("TRANSMIT_TIME_BUCKETS")),
		E2ETime:   utils.ParseBuckets(os.Getenv("E2E_TIME_BUCKETS")),
	})

	source := os.Getenv("VIDEO_SOURCE")
	if source == "" {
		panic("VIDEO_SOURCE environment variable is not set")
	}
	vi, err := video.Open(&video.Config{
		Source:      source,
		SourceId:    utils.GetEnv("SOURCE_ID", "default"),
		QueueSize:   utils.GetEnvInt("QUEUE_SIZE", 10),
		ImageWidth:  utils.GetEnvInt("IMAGE_WIDTH", 640),
		ImageHeight: utils.GetEnvInt("IMAGE_HEIGHT", 360),
		JpegQuality: utils.GetEnvInt("JPEG_QUALITY", 90),
	}, m)
	if err != nil {
		log.Fatalf("Failed to open video input: %v", err)
	}

	// Setup the remote service (detector) and start the connection as client
	tarDtSvc := utils.MustGetService("REMOTE_DETECTOR_HOST", "REMOTE_DETECTOR_PORT")
	agg := &internal.Aggregator{
		Config: &internal.Config{
			MaxTotalFrames:     utils.GetEnvInt("MAX_TOTAL_FRAMES", 0),
			DetectionFrequency: utils.GetEnvInt("DETECTION_FREQUENCY", 1),
		},
		Source:   vi,
		DtClient: &utils.GrpcClient{},
		Metric:   m,
	}
	go utils.MonitorConnection(*tarDtSvc, agg.DtClient)

	metricAddr := os.Getenv("METRIC_ADDR")
	metricPort := os.Getenv("METRIC_PORT")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", metricAddr, metricPort),
		Handler: mux,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting metrics server on %s\n", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()

	// Create a context that will be cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agg.Run(ctx)

	log.Printf("Shutting down\n")
	vi.Close()
	if err := server.Shutdown(context.Background()); err != nil {
		log.Printf("Error shutting down server: %v\n", err)
	}
	log.Printf("Server shut down gracefully\n")
}
