package utils

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	api "github.com/etesami/moto-tracking-system/api"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// GrpcClient holds the current pipeline client of a monitored connection
type GrpcClient struct {
	v atomic.Value
}

// Load returns the stored client or nil if no connection is established yet
func (c *GrpcClient) Load() api.DetectionTrackingPipelineClient {
	if client, ok := c.v.Load().(api.DetectionTrackingPipelineClient); ok {
		return client
	}
	return nil
}

func (c *GrpcClient) Store(client api.DetectionTrackingPipelineClient) {
	c.v.Store(client)
}

// CalculateRtt returns the transit time in milliseconds of a message and its
// ack, excluding the time the remote service spent between receiving the
// message and sending the ack
func CalculateRtt(msgSentTime, msgRecTime, ackSentTime *timestamppb.Timestamp, ackRecTime time.Time) (float64, error) {
	if msgSentTime == nil || msgRecTime == nil || ackSentTime == nil {
		return -1, fmt.Errorf("missing timestamps: (%v, %v, %v)", msgSentTime, msgRecTime, ackSentTime)
	}
	t1 := msgRecTime.AsTime().Sub(msgSentTime.AsTime())
	t2 := ackRecTime.Sub(ackSentTime.AsTime())
	return float64((t1 + t2).Microseconds()) / 1000.0, nil
}

// ElapsedMs returns the milliseconds passed since st
func ElapsedMs(st time.Time) float64 {
	return float64(time.Since(st).Microseconds()) / 1000.0
}

// ParseBuckets parses a comma-separated string of bucket values into a slice of float64
func ParseBuckets(env string) []float64 {
	if env == "" {
		return nil
	}
	parts := strings.Split(env, ",")
	var buckets []float64
	for _, p := range parts {
		if f, err := strconv.ParseFloat(strings.TrimSpace(p), 64); err == nil {
			buckets = append(buckets, f)
		} else {
			log.Printf("Error parsing bucket value [%s]: %v", p, err)
			return nil
		}
	}
	return buckets
}

// GetEnv returns the value of the environment variable or def when unset
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid integer for [%s]: [%s], using [%d]", key, v, def)
		return def
	}
	return i
}

func GetEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Invalid float for [%s]: [%s], using [%g]", key, v, def)
		return def
	}
	return f
}

func GetEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Invalid bool for [%s]: [%s], using [%t]", key, v, def)
		return def
	}
	return b
}

// MustGetService reads the host and port variables of a service and panics
// when either one is missing
func MustGetService(hostKey, portKey string) *api.Service {
	host := os.Getenv(hostKey)
	port := os.Getenv(portKey)
	if host == "" || port == "" {
		panic(fmt.Sprintf("%s or %s environment variable is not set", hostKey, portKey))
	}
	return &api.Service{
		Address: host,
		Port:    port,
	}
}

// MonitorConnection keeps a gRPC connection to the target service alive and
// stores a fresh client in clientRef whenever it is (re)connected. It never returns.
func MonitorConnection(targetSvc api.Service, clientRef *GrpcClient) {
	var conn *grpc.ClientConn

	for {
		if err := targetSvc.ServiceReachable(); err != nil {
			if conn != nil {
				conn.Close()
				conn = nil
			}
			log.Printf("Target service [%s:%s] is not reachable: %v", targetSvc.Address, targetSvc.Port, err)
			time.Sleep(5 * time.Second)
			continue
		}

		if conn == nil || conn.GetState() == connectivity.Shutdown || conn.GetState() == connectivity.TransientFailure {
			if conn != nil {
				conn.Close()
			}
			newConn, err := grpc.NewClient(
				targetSvc.Address+":"+targetSvc.Port,
				grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				log.Println("Failed to connect:", err)
				time.Sleep(5 * time.Second)
				continue
			}

			conn = newConn
			clientRef.Store(api.NewDetectionTrackingPipelineClient(conn))
			log.Printf("gRPC client connected to [%s:%s] and stored", targetSvc.Address, targetSvc.Port)
		}
		time.Sleep(5 * time.Second)
	}
}
