package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	api "github.com/etesami/moto-tracking-system/api"
	"github.com/etesami/moto-tracking-system/pkg/fleet"
	metric "github.com/etesami/moto-tracking-system/pkg/metric"
	utils "github.com/etesami/moto-tracking-system/pkg/utils"
	"github.com/etesami/moto-tracking-system/svc-detector/internal"
	"github.com/etesami/moto-tracking-system/svc-detector/internal/dnn"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
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

	// Local service initialization (detector) to receive frames
	localSvc := utils.MustGetService("SVC_DETECTOR_HOST", "SVC_DETECTOR_PORT")

	// We listen on all interfaces
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", localSvc.Port))
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	dt, err := dnn.NewYoloDetector(
		os.Getenv("YOLO_MODEL"),
		utils.GetEnvInt("IMAGE_WIDTH", 640),
		utils.GetEnvInt("IMAGE_HEIGHT", 640),
		utils.GetEnvFloat("CONFIDENCE_THRESHOLD", fleet.DefaultConfidenceThreshold))
	if err != nil {
		log.Fatalf("Failed to load detector: %v", err)
	}
	defer dt.Close()

	s := &internal.Server{
		DtConfig: &internal.DtConfig{
			ForwardFrame: utils.GetEnvBool("FORWARD_FRAME", false),
		},
		Detector:         dt,
		TrackerClientRef: &utils.GrpcClient{},
		Metric:           m,
	}
	grpcServer := grpc.NewServer()
	api.RegisterDetectionTrackingPipelineServer(grpcServer, s)

	go func() {
		log.Printf("starting gRPC server on port %s:%s\n", localSvc.Address, localSvc.Port)
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	// Setup the remote service (tracker) to send detections
	targetSvc := utils.MustGetService("REMOTE_TRACKER_HOST", "REMOTE_TRACKER_PORT")
	go utils.MonitorConnection(*targetSvc, s.TrackerClientRef)

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

	// Set up channel to listen for interrupt or terminate signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan // Wait for signal
	log.Printf("Received shutdown signal\n")
	grpcServer.GracefulStop()
	if err := server.Shutdown(context.Background()); err != nil {
		log.Printf("Error shutting down server: %v\n", err)
	}
	log.Printf("Server shut down gracefully\n")
}
