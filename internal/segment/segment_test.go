package segment

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-person-blocker/internal/config"
)

func TestDecodeRLE_ColumnMajor(t *testing.T) {
	// 2 rows x 3 cols; pixels in column-major order:
	// (0,0) (0,1) | (1,0) (1,1) | (2,0) (2,1)
	// counts: 1 unset, 2 set, 3 unset → (x=0,y=1) and (x=1,y=0) are set.
	m, err := DecodeRLE(RLE{Size: []int{2, 3}, Counts: []int{1, 2, 3}})
	require.NoError(t, err)
	require.Equal(t, 3, m.W)
	require.Equal(t, 2, m.H)
	require.True(t, m.At(0, 1))
	require.True(t, m.At(1, 0))
	require.False(t, m.At(0, 0))
	require.False(t, m.At(2, 1))
	require.Equal(t, 2, m.Count())

	require.Equal(t, RLE{Size: []int{2, 3}, Counts: []int{1, 2, 3}}, EncodeRLE(m))
}

func TestDecodeRLE_Invalid(t *testing.T) {
	_, err := DecodeRLE(RLE{Size: []int{2}})
	require.Error(t, err)
	_, err = DecodeRLE(RLE{Size: []int{2, 2}, Counts: []int{1, 9}})
	require.Error(t, err)
	_, err = DecodeRLE(RLE{Size: []int{2, 2}, Counts: []int{-1}})
	require.Error(t, err)
	_, err = DecodeRLE(RLE{Size: []int{2, 2}, Counts: []int{1, 2}})
	require.ErrorContains(t, err, "cover 3 of 4")
	_, err = DecodeRLE(RLE{Size: []int{100000, 100000}, Counts: []int{1}})
	require.ErrorContains(t, err, "exceeds")
}

func TestMask_UnionAndBounds(t *testing.T) {
	a := NewMask(2, 2)
	b := NewMask(2, 2)
	a.Set(0, 0)
	b.Set(1, 1)
	b.Set(5, 5) // ignored
	a.Union(b)
	require.Equal(t, 2, a.Count())
	require.False(t, a.At(-1, 0))

	a.Union(NewMask(3, 3)) // size mismatch is ignored
	require.Equal(t, 2, a.Count())
}

func TestScaleMask_NearestNeighbour(t *testing.T) {
	m := NewMask(2, 2)
	m.Set(1, 0) // top-right quadrant

	s := ScaleMask(m, 4, 4)
	require.Equal(t, 4, s.Count())
	require.True(t, s.At(2, 0))
	require.True(t, s.At(3, 1))
	require.False(t, s.At(0, 0))
	require.False(t, s.At(3, 3))

	require.Same(t, m, ScaleMask(m, 2, 2))
}

func TestResolveClasses(t *testing.T) {
	got, err := ResolveClasses([]string{"person"})
	require.NoError(t, err)
	require.Equal(t, map[int]bool{1: true}, got)

	got, err = ResolveClasses([]string{"Dog", " 3 ", "teddy bear"})
	require.NoError(t, err)
	require.Equal(t, map[int]bool{17: true, 3: true, 78: true}, got)

	for _, bad := range [][]string{{"unicorn"}, {"0"}, {"81"}, {}, {" "}} {
		_, err := ResolveClasses(bad)
		require.Error(t, err, "%v", bad)
	}
	require.Len(t, ClassNames, 81)
	require.Equal(t, "BG", ClassNames[0])
}

func TestClassIDFromCategory(t *testing.T) {
	id, ok := ClassIDFromCategory(1)
	require.True(t, ok)
	require.Equal(t, 1, id)

	id, ok = ClassIDFromCategory(90)
	require.True(t, ok)
	require.Equal(t, "toothbrush", ClassNames[id])

	id, ok = ClassIDFromCategory(13)
	require.True(t, ok)
	require.Equal(t, "stop sign", ClassNames[id])

	_, ok = ClassIDFromCategory(12)
	require.False(t, ok)
}

func TestHTTPSegmenter_Segment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "image/png" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		if _, err := imaging.Decode(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// A 2x2 mask with the left column set, plus a low-score instance.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"instances": []map[string]any{
				{"class_id": 1, "score": 0.98, "mask": map[string]any{"size": []int{2, 2}, "counts": []int{0, 2, 2}}},
				{"class_id": 1, "score": 0.2, "mask": map[string]any{"size": []int{2, 2}, "counts": []int{4}}},
			},
		})
	}))
	defer srv.Close()

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	s := NewHTTPSegmenter(srv.URL, 0.7, nil)
	got, err := s.Segment(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 1, got[0].ClassID)
	require.Equal(t, 4, got[0].Mask.W)
	require.Equal(t, 4, got[0].Mask.H)
	require.Equal(t, 8, got[0].Mask.Count())
	require.True(t, got[0].Mask.At(1, 3))
	require.False(t, got[0].Mask.At(2, 0))
}

func TestHTTPSegmenter_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	img := image.NewGray(image.Rect(0, 0, 1, 1))
	_, err := NewHTTPSegmenter(srv.URL, 0.7, nil).Segment(context.Background(), img)
	require.ErrorContains(t, err, "503")

	_, err = NewHTTPSegmenter("", 0.7, nil).Segment(context.Background(), img)
	require.Error(t, err)
}

func TestEnsureWeights(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("weights"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "models", "frozen.pb")
	ctx := context.Background()

	require.NoError(t, EnsureWeights(ctx, path, srv.URL, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "weights", string(data))

	// Cached on disk; no second download.
	require.NoError(t, EnsureWeights(ctx, path, srv.URL, nil))
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))

	entries, _ := os.ReadDir(filepath.Dir(path))
	require.Len(t, entries, 1, "temp file must not linger")

	require.Error(t, EnsureWeights(ctx, filepath.Join(t.TempDir(), "x.pb"), "", nil))
	require.Error(t, EnsureWeights(ctx, "", srv.URL, nil))
}

func TestEnsureWeights_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "frozen.pb")
	require.Error(t, EnsureWeights(context.Background(), path, srv.URL, nil))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestNew_Backends(t *testing.T) {
	s, err := New(context.Background(), config.SegmenterConfig{Backend: "http", URL: "http://model", MinScore: 0.7})
	require.NoError(t, err)
	require.IsType(t, &HTTPSegmenter{}, s)

	_, err = New(context.Background(), config.SegmenterConfig{Backend: "yolo"})
	require.Error(t, err)
}

