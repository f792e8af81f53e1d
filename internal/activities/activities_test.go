package activities

import (
	"bytes"
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"image"
	"image-processing-flow/internal/metrics"
	"image-processing-flow/internal/objectstore"
	"image-processing-flow/internal/pipeline"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/iotest"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	putErr  error
	// readErr fails the body after its bytes are read.
	readErr error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Put(_ context.Context, bucket, key, localPath string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	if m.getErr != nil {
		return nil, 0, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, 0, objectstore.ErrNotFound
	}
	if m.readErr != nil {
		return io.NopCloser(io.MultiReader(bytes.NewReader(data), iotest.ErrReader(m.readErr))), int64(len(data)) * 2, nil
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (m *memStore) PresignedURL(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
	return "https://example.test/" + bucket + "/" + key + "?expires=" + expiry.String(), nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func setupStore(t *testing.T) (*Store, *memStore, *Workspace, *testsuite.TestActivityEnvironment) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	mem := newMemStore()
	store := NewStore(mem, ws, "common-host-1234", StoreOptions{Metrics: metrics.New()})

	s := &testsuite.WorkflowTestSuite{}
	env := s.NewTestActivityEnvironment()
	env.RegisterActivity(store)
	return store, mem, ws, env
}

func TestWorkspace_Path(t *testing.T) {
	ws, err := NewWorkspace(filepath.Join(t.TempDir(), "nested"))
	require.NoError(t, err)

	p, err := ws.Path("run_a.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir(), "run_a.jpg"), p)

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "../x"} {
		_, err := ws.Path(bad)
		assert.Error(t, err, bad)
	}
}

func TestWorkspace_RemoveAbsentIsOk(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, ws.Remove("never-existed"))
}

func TestDownload(t *testing.T) {
	store, mem, ws, env := setupStore(t)
	mem.objects["in/raw/cat.jpg"] = []byte("some image bytes")

	val, err := env.ExecuteActivity(store.Download, DownloadInput{Bucket: "in", Key: "raw/cat.jpg", LocalName: "r1_cat.jpg"})
	require.NoError(t, err)

	var out DownloadOutput
	require.NoError(t, val.Get(&out))
	assert.Equal(t, pipeline.AffinityToken("common-host-1234"), out.Affinity)
	assert.Equal(t, int64(16), out.Bytes)

	data, err := os.ReadFile(filepath.Join(ws.Dir(), "r1_cat.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "some image bytes", string(data))
}

func TestDownload_MissingObjectIsPermanent(t *testing.T) {
	store, _, ws, env := setupStore(t)

	_, err := env.ExecuteActivity(store.Download, DownloadInput{Bucket: "in", Key: "gone.jpg", LocalName: "r1_gone.jpg"})
	require.Error(t, err)
	assert.Equal(t, pipeline.KindPermanentInput, pipeline.KindOf(err))

	_, statErr := os.Stat(filepath.Join(ws.Dir(), "r1_gone.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_StoreFailureIsTransient(t *testing.T) {
	store, mem, _, env := setupStore(t)
	mem.getErr = errors.New("connection reset")

	_, err := env.ExecuteActivity(store.Download, DownloadInput{Bucket: "in", Key: "a.jpg", LocalName: "r1_a.jpg"})
	require.Error(t, err)
	assert.Equal(t, pipeline.KindTransient, pipeline.KindOf(err))
}

func TestDownload_InterruptedRemovesPartialFile(t *testing.T) {
	store, mem, ws, env := setupStore(t)
	mem.objects["in/a.jpg"] = []byte("half of an image")
	mem.readErr = errors.New("connection reset by peer")

	_, err := env.ExecuteActivity(store.Download, DownloadInput{Bucket: "in", Key: "a.jpg", LocalName: "r1_a.jpg"})
	require.Error(t, err)
	assert.Equal(t, pipeline.KindTransient, pipeline.KindOf(err))

	_, statErr := os.Stat(filepath.Join(ws.Dir(), "r1_a.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUpload(t *testing.T) {
	store, mem, ws, env := setupStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir(), "r1_cat.png"), []byte("png"), 0o644))

	val, err := env.ExecuteActivity(store.Upload, UploadInput{Bucket: "out", LocalName: "r1_cat.png", Key: "converted_r1_cat.png"})
	require.NoError(t, err)

	var out UploadOutput
	require.NoError(t, val.Get(&out))
	assert.Equal(t, "https://example.test/out/converted_r1_cat.png?expires=30m0s", out.URL)
	assert.Equal(t, []byte("png"), mem.objects["out/converted_r1_cat.png"])
}

func TestUpload_Failures(t *testing.T) {
	store, mem, ws, env := setupStore(t)

	_, err := env.ExecuteActivity(store.Upload, UploadInput{Bucket: "out", LocalName: "missing.png", Key: "k"})
	assert.Equal(t, pipeline.KindPermanentInput, pipeline.KindOf(err))

	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir(), "r1.png"), []byte("png"), 0o644))
	mem.putErr = errors.New("503 slow down")
	_, err = env.ExecuteActivity(store.Upload, UploadInput{Bucket: "out", LocalName: "r1.png", Key: "k"})
	assert.Equal(t, pipeline.KindTransient, pipeline.KindOf(err))

	mem.putErr = objectstore.ErrAccessDenied
	_, err = env.ExecuteActivity(store.Upload, UploadInput{Bucket: "out", LocalName: "r1.png", Key: "k"})
	assert.Equal(t, pipeline.KindPermanentInput, pipeline.KindOf(err))
}

func TestDeleteLocalFile(t *testing.T) {
	store, _, ws, env := setupStore(t)
	path := filepath.Join(ws.Dir(), "r1_cat.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := env.ExecuteActivity(store.DeleteLocalFile, DeleteInput{LocalName: "r1_cat.jpg"})
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, err = env.ExecuteActivity(store.DeleteLocalFile, DeleteInput{LocalName: "r1_cat.jpg"})
	assert.NoError(t, err)
}

func TestTransformActivities(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir(), "r1_in.png"), pngBytes(t), 0o644))

	tr := NewTransform(ws, nil)
	s := &testsuite.WorkflowTestSuite{}
	env := s.NewTestActivityEnvironment()
	env.RegisterActivity(tr)

	_, err = env.ExecuteActivity(tr.Grayscale, TransformInput{Source: "r1_in.png", Target: "r1_gray.png"})
	require.NoError(t, err)
	_, err = env.ExecuteActivity(tr.Sepia, TransformInput{Source: "r1_in.png", Target: "r1_sepia.png"})
	require.NoError(t, err)

	for _, name := range []string{"r1_gray.png", "r1_sepia.png"} {
		f, err := os.Open(filepath.Join(ws.Dir(), name))
		require.NoError(t, err)
		_, err = png.Decode(f)
		_ = f.Close()
		assert.NoError(t, err, name)
	}

	_, err = env.ExecuteActivity(tr.Grayscale, TransformInput{Source: "absent.png", Target: "r1_x.png"})
	assert.Equal(t, pipeline.KindPermanentInput, pipeline.KindOf(err))
}

type stubRegistry struct {
	alive bool
	err   error
}

func (s stubRegistry) Alive(context.Context, pipeline.AffinityToken) (bool, error) {
	return s.alive, s.err
}

func TestCheckAffinity(t *testing.T) {
	cases := []struct {
		name     string
		registry stubRegistry
		want     pipeline.ErrorKind
	}{
		{"alive", stubRegistry{alive: true}, ""},
		{"gone", stubRegistry{alive: false}, pipeline.KindAffinityUnavailable},
		{"registry down", stubRegistry{err: errors.New("dial tcp: refused")}, pipeline.KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &testsuite.WorkflowTestSuite{}
			env := s.NewTestActivityEnvironment()
			a := NewAffinity(tc.registry)
			env.RegisterActivity(a)

			_, err := env.ExecuteActivity(a.CheckAffinity, CheckAffinityInput{Token: "q1"})
			assert.Equal(t, tc.want, pipeline.KindOf(err))
		})
	}
}

type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func TestProgressWriter_Throttles(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0), step: time.Minute}
	var reports []int
	var buf bytes.Buffer
	pw := newProgressWriter(&buf, 100, 5*time.Minute, clock.now, func(p int) { reports = append(reports, p) })

	for i := 0; i < 10; i++ {
		_, err := pw.Write(make([]byte, 10))
		require.NoError(t, err)
	}

	assert.Equal(t, 100, buf.Len())
	assert.Equal(t, []int{50, 100}, reports)
}

func TestProgressWriter_UnknownSize(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0), step: time.Hour}
	var reports []int
	pw := newProgressWriter(io.Discard, 0, time.Minute, clock.now, func(p int) { reports = append(reports, p) })

	_, _ = pw.Write([]byte("abc"))
	assert.Equal(t, []int{0}, reports)
}
