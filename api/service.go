package api

import (
	"fmt"
	"image"
	"net"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// FrameMetadata identifies a frame within a video source
type FrameMetadata struct {
	Timestamp time.Time
	SourceId  string
	FrameId   int64
	Width     int
	Height    int
}

// FrameData carries an encoded (JPEG) frame from the aggregator to the detector
type FrameData struct {
	Metadata      FrameMetadata
	Frame         []byte
	SentTimestamp *timestamppb.Timestamp
}

// Detection is a single box kept by the detector
// Box.Min is the (x1, y1) top left corner, Box.Max the (x2, y2) bottom right corner
type Detection struct {
	Box        image.Rectangle
	ClassId    int
	Class      string
	Confidence float32
}

// DetectionData carries the detections of one frame from the detector to the tracker
type DetectionData struct {
	Metadata      FrameMetadata
	Detections    []Detection
	Frame         []byte
	SentTimestamp *timestamppb.Timestamp
}

// TrackedObject is a live identity after the tracker applied a frame
type TrackedObject struct {
	Id          int
	Centroid    image.Point
	Box         image.Rectangle
	Class       string
	Confidence  float32
	Zone        string
	Model       string
	Disappeared int
}

type Ack struct {
	Status                string
	OriginalSentTimestamp *timestamppb.Timestamp
	ReceivedTimestamp     *timestamppb.Timestamp
	AckSentTimestamp      *timestamppb.Timestamp
}

// TrackingResult is the tracker's reply to a frame of detections
type TrackingResult struct {
	Ack     *Ack
	Objects []TrackedObject
}

type Service struct {
	Address string
	Port    string
}

func (s *Service) ServiceReachable() error {
	if s.Address == "" || s.Port == "" {
		return fmt.Errorf("service address or port is not set")
	}
	address := fmt.Sprintf("%s:%s", s.Address, s.Port)
	conn, err := net.DialTimeout("tcp", address, 3*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	return nil
}

// NewAck builds the acknowledgement for a message sent at sent and received at rec
func NewAck(status string, sent *timestamppb.Timestamp, rec time.Time) *Ack {
	return &Ack{
		Status:                status,
		OriginalSentTimestamp: sent,
		ReceivedTimestamp:     timestamppb.New(rec),
		AckSentTimestamp:      timestamppb.Now(),
	}
}
