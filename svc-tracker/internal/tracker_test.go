package internal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"

	api "github.com/etesami/moto-tracking-system/api"
	"github.com/etesami/moto-tracking-system/pkg/fleet"
	mt "github.com/etesami/moto-tracking-system/pkg/metric"
	"github.com/etesami/moto-tracking-system/pkg/publish"
	"github.com/etesami/moto-tracking-system/pkg/store"
	"github.com/etesami/moto-tracking-system/pkg/tracker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []store.FrameRecord
}

func (f *fakeRecorder) RecordFrame(_ context.Context, r store.FrameRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []publish.Payload
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, p publish.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return f.err
}

type fakeSink struct {
	frames []int64
}

func (f *fakeSink) SaveFrame(meta api.FrameMetadata, _ []byte, _ []api.TrackedObject) error {
	f.frames = append(f.frames, meta.FrameId)
	return nil
}

func newTestServer(t *testing.T, maxDisappeared int) (*Server, *fakeRecorder, *fakePublisher) {
	t.Helper()
	m := &mt.Metric{}
	m.RegisterMetricsWith(prometheus.NewRegistry(), mt.Buckets{})

	s, err := NewServer(&TrConfig{MaxDisappeared: maxDisappeared, ClassifierSeed: 1}, "run-test", m)
	require.NoError(t, err)
	rec, pub := &fakeRecorder{}, &fakePublisher{}
	s.Recorder = rec
	s.Publisher = pub
	return s, rec, pub
}

func boxAt(cx, cy int) image.Rectangle {
	return image.Rect(cx-5, cy-5, cx+5, cy+5)
}

func frame(source string, id int64, dets ...api.Detection) *api.DetectionData {
	return &api.DetectionData{
		Metadata:      api.FrameMetadata{SourceId: source, FrameId: id, Width: 600, Height: 400},
		Detections:    dets,
		SentTimestamp: timestamppb.Now(),
	}
}

func moto(box image.Rectangle, conf float32) api.Detection {
	return api.Detection{Box: box, ClassId: 3, Class: fleet.ClassMotorcycle, Confidence: conf}
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	_, err := NewServer(&TrConfig{MaxDisappeared: 0}, "run", &mt.Metric{})
	assert.ErrorIs(t, err, tracker.ErrInvalidMaxDisappeared)
}

func TestSendDetectionsTracksIdentities(t *testing.T) {
	s, rec, pub := newTestServer(t, 50)
	ctx := context.Background()

	res, err := s.SendDetectionsToServer(ctx, frame("cam-1", 1, moto(boxAt(10, 10), 0.9)))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Ack.Status)
	require.Len(t, res.Objects, 1)
	first := res.Objects[0]
	assert.Equal(t, 0, first.Id)
	assert.Equal(t, "ZONE_A_NORTH", first.Zone)
	assert.Contains(t, fleet.Models, first.Model)

	res, err = s.SendDetectionsToServer(ctx, frame("cam-1", 2,
		api.Detection{Box: boxAt(500, 300), Class: "car", Confidence: 0.7},
		moto(boxAt(12, 12), 0.5),
	))
	require.NoError(t, err)
	require.Len(t, res.Objects, 2)
	assert.Equal(t, 0, res.Objects[0].Id)
	assert.Equal(t, image.Pt(12, 12), res.Objects[0].Centroid)
	assert.Equal(t, first.Model, res.Objects[0].Model)
	assert.InDelta(t, 0.5, res.Objects[0].Confidence, 1e-6)
	assert.Equal(t, 1, res.Objects[1].Id)
	assert.Equal(t, "car", res.Objects[1].Class)
	assert.Equal(t, fleet.ModelNotApplicable, res.Objects[1].Model)
	assert.Equal(t, "ZONE_C_SOUTH", res.Objects[1].Zone)

	require.Len(t, rec.records, 2)
	assert.Equal(t, "run-test", rec.records[1].RunId)
	assert.Equal(t, 1, rec.records[1].Registered)
	assert.Len(t, rec.records[1].Objects, 2)

	require.Len(t, pub.payloads, 2)
	assert.Equal(t, int64(2), pub.payloads[1].FrameId)
	assert.Equal(t, 1, pub.payloads[1].Summary.Motorcycles)
}

func TestSendDetectionsDropsMalformedBoxes(t *testing.T) {
	s, rec, _ := newTestServer(t, 50)

	bad := api.Detection{Box: image.Rectangle{Min: image.Pt(30, 30), Max: image.Pt(20, 40)}, Class: "car", Confidence: 0.9}
	res, err := s.SendDetectionsToServer(context.Background(),
		frame("cam-1", 1, bad, moto(boxAt(100, 100), 0.9)))
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, image.Pt(100, 100), res.Objects[0].Centroid)
	require.Len(t, rec.records, 1)
	assert.Equal(t, 1, rec.records[0].Rejected)
	assert.Equal(t, 2, rec.records[0].Detections)
}

func TestSendDetectionsSkipsStaleFrames(t *testing.T) {
	s, rec, _ := newTestServer(t, 50)
	ctx := context.Background()

	_, err := s.SendDetectionsToServer(ctx, frame("cam-1", 5, moto(boxAt(10, 10), 0.9)))
	require.NoError(t, err)

	for _, id := range []int64{5, 3} {
		res, err := s.SendDetectionsToServer(ctx, frame("cam-1", id, moto(boxAt(300, 300), 0.9)))
		require.NoError(t, err)
		assert.Equal(t, "stale", res.Ack.Status)
		assert.Empty(t, res.Objects)
	}
	assert.Len(t, rec.records, 1)

	res, err := s.SendDetectionsToServer(ctx, frame("cam-1", 6))
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, 1, res.Objects[0].Disappeared)
}

func TestSendDetectionsEvictsAndForgets(t *testing.T) {
	s, rec, pub := newTestServer(t, 1)
	ctx := context.Background()

	_, err := s.SendDetectionsToServer(ctx, frame("cam-1", 1, moto(boxAt(10, 10), 0.9)))
	require.NoError(t, err)
	res, err := s.SendDetectionsToServer(ctx, frame("cam-1", 2))
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	// the class of the last sighting is kept while the identity is missing
	assert.Equal(t, fleet.ClassMotorcycle, res.Objects[0].Class)

	res, err = s.SendDetectionsToServer(ctx, frame("cam-1", 3))
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
	assert.Equal(t, 1, rec.records[2].Evicted)

	// heartbeat payloads are still published for empty frames
	require.Len(t, pub.payloads, 3)
	assert.Empty(t, pub.payloads[2].Detections)

	res, err = s.SendDetectionsToServer(ctx, frame("cam-1", 4, moto(boxAt(10, 10), 0.6)))
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, 1, res.Objects[0].Id)
	assert.Equal(t, fleet.ModelUnidentified, res.Objects[0].Model)
}

func TestSendDetectionsSourcesAreIndependent(t *testing.T) {
	s, _, _ := newTestServer(t, 50)

	var wg sync.WaitGroup
	results := make([]*api.TrackingResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.SendDetectionsToServer(context.Background(),
				frame(fmt.Sprintf("cam-%d", i), 1, moto(boxAt(50, 50), 0.9), moto(boxAt(400, 300), 0.9)))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.NoError(t, errs[i])
		require.Len(t, res.Objects, 2)
		assert.Equal(t, 0, res.Objects[0].Id)
		assert.Equal(t, 1, res.Objects[1].Id)
	}
}

func TestSendDetectionsRequiresSource(t *testing.T) {
	s, _, _ := newTestServer(t, 50)

	_, err := s.SendDetectionsToServer(context.Background(), frame("", 1))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSendDetectionsSinkFailuresDoNotFail(t *testing.T) {
	s, _, pub := newTestServer(t, 50)
	pub.err = errors.New("broker down")
	sink := &fakeSink{}
	s.Sink = sink

	in := frame("cam-1", 1, moto(boxAt(10, 10), 0.9))
	res, err := s.SendDetectionsToServer(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, res.Objects, 1)
	assert.Empty(t, sink.frames)

	in = frame("cam-1", 2, moto(boxAt(10, 10), 0.9))
	in.Frame = []byte{0xff, 0xd8, 0xff}
	_, err = s.SendDetectionsToServer(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, sink.frames)
}
