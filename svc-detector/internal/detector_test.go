package internal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"

	api "github.com/etesami/moto-tracking-system/api"
	mt "github.com/etesami/moto-tracking-system/pkg/metric"
	"github.com/etesami/moto-tracking-system/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type fakeDetector struct {
	dets []api.Detection
	err  error
}

func (f *fakeDetector) Detect(_ []byte) ([]api.Detection, error) {
	return f.dets, f.err
}

type fakeTracker struct {
	received []*api.DetectionData
	err      error
}

func (f *fakeTracker) SendFrameToServer(context.Context, *api.FrameData, ...grpc.CallOption) (*api.Ack, error) {
	return nil, errors.New("not served")
}

func (f *fakeTracker) SendDetectionsToServer(_ context.Context, in *api.DetectionData, _ ...grpc.CallOption) (*api.TrackingResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.received = append(f.received, in)
	return &api.TrackingResult{Ack: api.NewAck("ok", in.SentTimestamp, in.SentTimestamp.AsTime())}, nil
}

func newTestServer(t *testing.T, det Detector, forward bool) (*Server, *fakeTracker, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := &mt.Metric{}
	m.RegisterMetricsWith(reg, mt.Buckets{})

	tr := &fakeTracker{}
	ref := &utils.GrpcClient{}
	ref.Store(tr)
	return &Server{
		DtConfig:         &DtConfig{ForwardFrame: forward},
		Detector:         det,
		TrackerClientRef: ref,
		Metric:           m,
	}, tr, reg
}

func assertFrames(t *testing.T, reg *prometheus.Registry, all, processed, skipped int) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP frames_total Frames by outcome: all, processed, skipped, empty, stale.
# TYPE frames_total counter
frames_total{kind="all"} %d
frames_total{kind="processed"} %d
frames_total{kind="skipped"} %d
`, all, processed, skipped)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "frames_total"))
}

func frameData(id int64) *api.FrameData {
	return &api.FrameData{
		Metadata:      api.FrameMetadata{SourceId: "cam-1", FrameId: id, Width: 640, Height: 360},
		Frame:         []byte{0xff, 0xd8, 0xff, 0xe0},
		SentTimestamp: timestamppb.Now(),
	}
}

func TestSendFrameForwardsDetections(t *testing.T) {
	det := &fakeDetector{dets: []api.Detection{
		{Box: image.Rect(10, 10, 50, 40), ClassId: 3, Class: "motorcycle", Confidence: 0.9},
	}}
	s, tr, reg := newTestServer(t, det, false)

	ack, err := s.SendFrameToServer(context.Background(), frameData(7))
	require.NoError(t, err)
	assert.Equal(t, "ok", ack.Status)
	assert.NotNil(t, ack.ReceivedTimestamp)

	require.Len(t, tr.received, 1)
	got := tr.received[0]
	assert.Equal(t, int64(7), got.Metadata.FrameId)
	assert.Equal(t, "cam-1", got.Metadata.SourceId)
	assert.Equal(t, det.dets, got.Detections)
	assert.Nil(t, got.Frame)

	// a label set only shows up once it was touched
	s.Metric.AddFrameCount("skipped", 0)
	assertFrames(t, reg, 1, 1, 0)
}

func TestSendFrameForwardsFrameBytes(t *testing.T) {
	s, tr, _ := newTestServer(t, &fakeDetector{}, true)

	in := frameData(1)
	_, err := s.SendFrameToServer(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, tr.received, 1)
	assert.Equal(t, in.Frame, tr.received[0].Frame)
}

func TestSendFrameRejectsEmptyFrame(t *testing.T) {
	s, tr, _ := newTestServer(t, &fakeDetector{}, false)

	in := frameData(1)
	in.Frame = nil
	_, err := s.SendFrameToServer(context.Background(), in)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Empty(t, tr.received)
}

func TestSendFrameDetectorError(t *testing.T) {
	s, tr, _ := newTestServer(t, &fakeDetector{err: errors.New("bad jpeg")}, false)

	_, err := s.SendFrameToServer(context.Background(), frameData(1))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Empty(t, tr.received)
}

func TestSendFrameTrackerUnavailable(t *testing.T) {
	s, tr, reg := newTestServer(t, &fakeDetector{}, false)
	tr.err = errors.New("connection refused")

	ack, err := s.SendFrameToServer(context.Background(), frameData(1))
	require.NoError(t, err)
	assert.Equal(t, "not forwarded", ack.Status)

	s.TrackerClientRef = &utils.GrpcClient{}
	ack, err = s.SendFrameToServer(context.Background(), frameData(2))
	require.NoError(t, err)
	assert.Equal(t, "not forwarded", ack.Status)

	s.Metric.AddFrameCount("processed", 0)
	assertFrames(t, reg, 2, 0, 2)
}
