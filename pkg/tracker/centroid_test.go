package tracker

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// boxAt returns a 10x10 box centred on (cx, cy)
func boxAt(cx, cy int) image.Rectangle {
	return image.Rect(cx-5, cy-5, cx+5, cy+5)
}

func newTracker(t *testing.T, maxDisappeared int) *CentroidTracker {
	t.Helper()
	ct, err := NewCentroidTracker(maxDisappeared)
	require.NoError(t, err)
	return ct
}

func TestNewCentroidTracker(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, -1, -50} {
		ct, err := NewCentroidTracker(n)
		assert.ErrorIs(t, err, ErrInvalidMaxDisappeared)
		assert.Nil(t, ct)
	}

	ct := newTracker(t, DefaultMaxDisappeared)
	assert.Equal(t, 50, ct.MaxDisappeared())
	assert.Zero(t, ct.Len())
}

func TestUpdateRegistersInInputOrder(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, DefaultMaxDisappeared)

	snap, err := ct.Update(nil)
	require.NoError(t, err)
	assert.Empty(t, snap)

	boxA := image.Rect(0, 0, 10, 20)
	boxB := image.Rect(200, 200, 240, 260)
	snap, err = ct.Update([]image.Rectangle{boxA, boxB})
	require.NoError(t, err)

	want := Snapshot{
		0: {ID: 0, Centroid: image.Pt(5, 10), Box: boxA},
		1: {ID: 1, Centroid: image.Pt(220, 230), Box: boxB},
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateStaticObjectKeepsIdentity(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, 3)
	box := boxAt(50, 50)

	for i := 0; i < 20; i++ {
		snap, err := ct.Update([]image.Rectangle{box})
		require.NoError(t, err)
		require.Len(t, snap, 1)
		obj, ok := snap[0]
		require.True(t, ok, "frame %d", i)
		assert.Equal(t, 0, obj.Disappeared)
		assert.Equal(t, image.Pt(50, 50), obj.Centroid)
	}
}

func TestUpdateNearestMatch(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, DefaultMaxDisappeared)

	_, err := ct.Update([]image.Rectangle{boxAt(10, 10)})
	require.NoError(t, err)

	snap, err := ct.Update([]image.Rectangle{boxAt(100, 100), boxAt(12, 12)})
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, image.Pt(12, 12), snap[0].Centroid)
	assert.Equal(t, boxAt(12, 12), snap[0].Box)
	assert.Equal(t, image.Pt(100, 100), snap[1].Centroid)
	assert.Zero(t, snap[1].Disappeared)
}

func TestUpdateEmptyFrames(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, 2)

	_, err := ct.Update([]image.Rectangle{boxAt(10, 10)})
	require.NoError(t, err)

	snap, err := ct.Update(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snap[0].Disappeared)

	snap, err = ct.Update([]image.Rectangle{})
	require.NoError(t, err)
	require.Contains(t, snap, 0)
	assert.Equal(t, 2, snap[0].Disappeared)

	snap, err = ct.Update(nil)
	require.NoError(t, err)
	assert.Empty(t, snap)
	assert.Zero(t, ct.Len())
}

func TestUpdateIdleEvictionWithDisjointBoxes(t *testing.T) {
	t.Parallel()
	const n = 4
	ct := newTracker(t, n)

	_, err := ct.Update([]image.Rectangle{boxAt(10, 10), boxAt(500, 500)})
	require.NoError(t, err)

	// only the far object keeps being seen, object 0 is never matched
	for i := 1; i <= n; i++ {
		snap, err := ct.Update([]image.Rectangle{boxAt(500, 500)})
		require.NoError(t, err)
		require.Contains(t, snap, 0, "call %d", i)
		assert.Equal(t, i, snap[0].Disappeared)
	}

	snap, err := ct.Update([]image.Rectangle{boxAt(500, 500)})
	require.NoError(t, err)
	assert.NotContains(t, snap, 0)
	assert.Equal(t, []int{1}, snap.IDs())
}

func TestUpdateNeverReusesIdentities(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, 1)
	seen := make(map[int]bool)
	gone := make(map[int]bool)
	last := -1

	frames := [][]image.Rectangle{
		{boxAt(10, 10)},
		{},
		{},
		{boxAt(10, 10), boxAt(300, 300)},
		{boxAt(300, 300)},
		{},
		{},
		{boxAt(10, 10), boxAt(20, 300), boxAt(600, 20)},
	}
	for i, boxes := range frames {
		snap, err := ct.Update(boxes)
		require.NoError(t, err)

		for id := range seen {
			if _, ok := snap[id]; !ok {
				gone[id] = true
			}
		}
		for _, id := range snap.IDs() {
			assert.False(t, gone[id], "frame %d: identity %d reappeared", i, id)
			if !seen[id] {
				assert.Greater(t, id, last, "frame %d", i)
				last = id
				seen[id] = true
			}
			assert.Equal(t, id, snap[id].ID)
		}
	}
	assert.Len(t, seen, 6)
}

// Two tracked objects share the same nearest candidate. The closer one wins,
// the other gets no match even though a free candidate exists.
func TestUpdateGreedySharedArgmin(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, DefaultMaxDisappeared)

	_, err := ct.Update([]image.Rectangle{boxAt(100, 100), boxAt(110, 100)})
	require.NoError(t, err)

	snap, err := ct.Update([]image.Rectangle{boxAt(104, 100), boxAt(0, 100)})
	require.NoError(t, err)

	want := Snapshot{
		0: {ID: 0, Centroid: image.Pt(104, 100), Box: boxAt(104, 100)},
		1: {ID: 1, Centroid: image.Pt(110, 100), Box: boxAt(110, 100), Disappeared: 1},
		2: {ID: 2, Centroid: image.Pt(0, 100), Box: boxAt(0, 100)},
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateTieKeepsLowerIdentityFirst(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, DefaultMaxDisappeared)

	_, err := ct.Update([]image.Rectangle{boxAt(90, 100), boxAt(110, 100)})
	require.NoError(t, err)

	// both objects are 10px away from the single candidate
	snap, err := ct.Update([]image.Rectangle{boxAt(100, 100)})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(100, 100), snap[0].Centroid)
	assert.Zero(t, snap[0].Disappeared)
	assert.Equal(t, 1, snap[1].Disappeared)
}

// Offsets (30,1) and (26,15) are both sqrt(901) long. Equal distances must
// compare equal whatever the direction of the offset.
func TestUpdateEquidistantCandidatesKeepInputOrder(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, DefaultMaxDisappeared)

	_, err := ct.Update([]image.Rectangle{boxAt(100, 100)})
	require.NoError(t, err)

	snap, err := ct.Update([]image.Rectangle{boxAt(130, 101), boxAt(126, 115)})
	require.NoError(t, err)

	want := Snapshot{
		0: {ID: 0, Centroid: image.Pt(130, 101), Box: boxAt(130, 101)},
		1: {ID: 1, Centroid: image.Pt(126, 115), Box: boxAt(126, 115)},
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateEquidistantRowsKeepIdentityOrder(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, DefaultMaxDisappeared)

	_, err := ct.Update([]image.Rectangle{boxAt(100, 100), boxAt(145, 127)})
	require.NoError(t, err)

	// (130,101) is sqrt(901) away from both, through offsets (30,1) and (15,26)
	snap, err := ct.Update([]image.Rectangle{boxAt(130, 101)})
	require.NoError(t, err)

	want := Snapshot{
		0: {ID: 0, Centroid: image.Pt(130, 101), Box: boxAt(130, 101)},
		1: {ID: 1, Centroid: image.Pt(145, 127), Box: boxAt(145, 127), Disappeared: 1},
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestDistanceMatrixIsExact(t *testing.T) {
	t.Parallel()
	objects := map[int]*Object{0: {Centroid: image.Pt(100, 100)}}

	d := distanceMatrix(objects, []int{0}, []image.Point{image.Pt(130, 101), image.Pt(126, 115), image.Pt(85, 74)})
	assert.Equal(t, d.At(0, 0), d.At(0, 1))
	assert.Equal(t, d.At(0, 0), d.At(0, 2))
}

func TestUpdateRejectsInvalidBox(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, DefaultMaxDisappeared)

	_, err := ct.Update([]image.Rectangle{boxAt(10, 10)})
	require.NoError(t, err)

	bad := image.Rectangle{Min: image.Pt(20, 20), Max: image.Pt(20, 40)}
	snap, err := ct.Update([]image.Rectangle{boxAt(300, 300), bad})
	require.ErrorIs(t, err, ErrInvalidBox)
	assert.Contains(t, err.Error(), "box 1")
	assert.Nil(t, snap)

	// state untouched: no registration, no aging
	assert.Equal(t, 1, ct.Len())
	snap, err = ct.Update([]image.Rectangle{boxAt(10, 10)})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, snap.IDs())
	assert.Zero(t, snap[0].Disappeared)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	ct := newTracker(t, DefaultMaxDisappeared)

	snap, err := ct.Update([]image.Rectangle{boxAt(10, 10)})
	require.NoError(t, err)

	obj := snap[0]
	obj.Centroid = image.Pt(999, 999)
	snap[0] = obj
	delete(snap, 0)

	next, err := ct.Update([]image.Rectangle{boxAt(11, 11)})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, next.IDs())
	assert.Equal(t, image.Pt(11, 11), next[0].Centroid)
}
