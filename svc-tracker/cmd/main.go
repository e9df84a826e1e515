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
	metric "github.com/etesami/moto-tracking-system/pkg/metric"
	"github.com/etesami/moto-tracking-system/pkg/overlay"
	"github.com/etesami/moto-tracking-system/pkg/publish"
	"github.com/etesami/moto-tracking-system/pkg/store"
	"github.com/etesami/moto-tracking-system/pkg/tracker"
	utils "github.com/etesami/moto-tracking-system/pkg/utils"
	"github.com/etesami/moto-tracking-system/svc-tracker/internal"

	"github.com/google/uuid"
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

	// Local service initialization (tracker) to receive detections
	localSvc := utils.MustGetService("SVC_TRACKER_HOST", "SVC_TRACKER_PORT")

	// We listen on all interfaces
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", localSvc.Port))
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	runId := uuid.NewString()
	cfg := &internal.TrConfig{
		MaxDisappeared: utils.GetEnvInt("MAX_DISAPPEARED", tracker.DefaultMaxDisappeared),
		ClassifierSeed: uint64(utils.GetEnvInt("CLASSIFIER_SEED", 42)),
	}
	s, err := internal.NewServer(cfg, runId, m)
	if err != nil {
		log.Fatalf("Invalid tracker configuration: %v", err)
	}
	log.Printf("Tracker run [%s], max disappeared [%d]", runId, cfg.MaxDisappeared)

	var st *store.Store
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		st, err = store.New(dbPath)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer st.Close()
		s.Recorder = st
		log.Printf("Recording tracked frames to [%s]", dbPath)
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		pub, err := publish.NewMQTTPublisher(
			broker,
			utils.GetEnv("MQTT_CLIENT_ID", "moto-tracker-"+runId[:8]),
			utils.GetEnv("MQTT_TOPIC", publish.DefaultTopic),
			byte(utils.GetEnvInt("MQTT_QOS", 0)))
		if err != nil {
			log.Fatalf("Failed to connect to MQTT broker: %v", err)
		}
		defer pub.Close()
		s.Publisher = pub
		log.Printf("Publishing tracked frames to [%s]", broker)
	}

	if utils.GetEnvBool("SAVE_IMAGE", false) {
		s.Sink = &overlay.Writer{
			Dir:       utils.GetEnv("SAVE_IMAGE_PATH", "."),
			Frequency: utils.GetEnvInt("SAVE_IMAGE_FREQUENCY", 10),
		}
	}

	grpcServer := grpc.NewServer()
	api.RegisterDetectionTrackingPipelineServer(grpcServer, s)

	go func() {
		log.Printf("starting gRPC server on port %s:%s\n", localSvc.Address, localSvc.Port)
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	metricAddr := os.Getenv("METRIC_ADDR")
	metricPort := os.Getenv("METRIC_PORT")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if st != nil {
		// recorded frames and identity tracks are served next to the metrics
		internal.NewHistoryAPI(st, runId).RegisterRoutes(mux)
	}

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
