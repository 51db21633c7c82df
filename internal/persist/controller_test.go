package persist

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bassista/autopersist/internal/codec"
	"github.com/bassista/autopersist/internal/document"
	"github.com/bassista/autopersist/internal/logger"
	"github.com/bassista/autopersist/internal/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWindow = 20 * time.Millisecond

// recordingFiles wraps real files and remembers every successful write.
type recordingFiles struct {
	storage.Files

	mu     sync.Mutex
	writes []string
	fail   error
}

func newRecordingFiles() *recordingFiles {
	return &recordingFiles{Files: storage.NewOSFiles()}
}

func (f *recordingFiles) Write(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	if err := f.Files.Write(path, data); err != nil {
		return err
	}
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *recordingFiles) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *recordingFiles) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// blockingFiles holds every write until release is closed.
type blockingFiles struct {
	storage.Files

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingFiles() *blockingFiles {
	return &blockingFiles{
		Files:   storage.NewOSFiles(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *blockingFiles) Write(path string, data []byte) error {
	f.once.Do(func() { close(f.entered) })
	<-f.release
	return f.Files.Write(path, data)
}

func readDoc(t *testing.T, path string, shape document.Shape) any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc, err := codec.Decode(data, shape)
	require.NoError(t, err)
	return doc.Value()
}

// fileEquals polls until the decoded file equals want.
func fileEquals(t *testing.T, path string, shape document.Shape, want any) {
	t.Helper()
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		doc, err := codec.Decode(data, shape)
		if err != nil {
			return false
		}
		return cmp.Equal(want, doc.Value())
	}, 2*time.Second, testWindow/2)
}

func put(key string, value any) func(document.Document) error {
	return func(d document.Document) error {
		_, _, err := d.(*document.Object).Put(key, value)
		return err
	}
}

func TestController_PersistsAfterQuietPeriod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	files := newRecordingFiles()
	c := NewController(document.NewObject(), path, files, WithDebounceWindow(testWindow))
	defer c.Stop()

	require.NoError(t, c.Update(document.OpPut, put("x", 1)))
	fileEquals(t, path, document.ShapeObject, map[string]any{"x": float64(1)})

	assert.Eventually(t, func() bool {
		return c.Stats().Persists >= 1
	}, 2*time.Second, testWindow/2)
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Notifications)
	assert.False(t, stats.LastPersistAt.IsZero())
}

func TestController_CoalescesBurst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	files := newRecordingFiles()
	c := NewController(document.NewArray(), path, files, WithDebounceWindow(200*time.Millisecond))
	defer c.Stop()

	for i := 0; i < 50; i++ {
		require.NoError(t, c.Update(document.OpAdd, func(d document.Document) error {
			return d.(*document.Array).Add(i)
		}))
	}

	want := make([]any, 50)
	for i := range want {
		want[i] = float64(i)
	}
	fileEquals(t, path, document.ShapeArray, want)

	assert.Equal(t, int64(50), c.Stats().Notifications)
	assert.Less(t, len(files.recorded()), 50, "burst should be folded into few writes")
}

func TestController_StopFlushesPendingMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	// a window this long means only Stop can trigger the write
	c := NewController(document.NewObject(), path, newRecordingFiles(), WithDebounceWindow(time.Hour))

	require.NoError(t, c.Update(document.OpPut, put("a", "b")))

	start := time.Now()
	c.Stop()
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, map[string]any{"a": "b"}, readDoc(t, path, document.ShapeObject))
	assert.Equal(t, int64(1), c.Stats().Persists)
	assert.True(t, c.Stats().Stopped)
}

func TestController_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	c := NewController(document.NewObject(), path, newRecordingFiles(), WithDebounceWindow(testWindow))

	c.Stop()
	c.Stop()

	select {
	case <-c.Done():
	default:
		t.Fatal("expected loop to have exited")
	}
}

func TestController_StopWithoutMutationDoesNotWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	files := newRecordingFiles()
	c := NewController(document.NewObject(), path, files, WithDebounceWindow(testWindow))

	require.NoError(t, c.View(func(d document.Document) error {
		_, ok := d.(*document.Object).Get("x")
		assert.False(t, ok)
		return nil
	}))
	c.Stop()

	assert.Empty(t, files.recorded())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestController_RejectsAfterStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	c := NewController(document.NewObject(), path, newRecordingFiles(), WithDebounceWindow(testWindow))
	c.Stop()

	err := c.Update(document.OpPut, put("x", 1))
	assert.ErrorIs(t, err, ErrControllerStopped)

	err = c.View(func(document.Document) error { return nil })
	assert.ErrorIs(t, err, ErrControllerStopped)

	c.NotifyMutation()
	assert.Equal(t, int64(0), c.Stats().Notifications)
}

func TestController_FailedOperationDoesNotNotify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	files := newRecordingFiles()
	c := NewController(document.NewArray(), path, files, WithDebounceWindow(testWindow))

	err := c.Update(document.OpSet, func(d document.Document) error {
		_, err := d.(*document.Array).Set(3, "x")
		return err
	})
	assert.ErrorIs(t, err, document.ErrIndexOutOfRange)

	c.Stop()
	assert.Equal(t, int64(0), c.Stats().Notifications)
	assert.Empty(t, files.recorded())
}

func TestController_ReadOperationDoesNotNotify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	c := NewController(document.NewObject(), path, newRecordingFiles(), WithDebounceWindow(testWindow))
	defer c.Stop()

	require.NoError(t, c.Update(document.OpGet, func(document.Document) error { return nil }))
	assert.Equal(t, int64(0), c.Stats().Notifications)
}

func TestController_WriteFailureIsNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	files := newRecordingFiles()
	files.setFail(errors.New("disk full"))
	c := NewController(document.NewObject(), path, files, WithDebounceWindow(testWindow))

	require.NoError(t, c.Update(document.OpPut, put("x", 1)))
	assert.Eventually(t, func() bool {
		return c.Stats().FailedPersists > 0
	}, 2*time.Second, testWindow/2)
	assert.Contains(t, c.Stats().LastError, "disk full")

	// the pending change is retried once the disk recovers
	files.setFail(nil)
	fileEquals(t, path, document.ShapeObject, map[string]any{"x": float64(1)})
	assert.Eventually(t, func() bool {
		return c.Stats().LastError == ""
	}, 2*time.Second, testWindow/2)

	c.Stop()
}

func TestController_StopCompletesWhenFinalWriteFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	files := newRecordingFiles()
	files.setFail(errors.New("read-only"))
	c := NewController(document.NewObject(), path, files, WithDebounceWindow(time.Hour))

	require.NoError(t, c.Update(document.OpPut, put("x", 1)))
	c.Stop()

	assert.Equal(t, int64(1), c.Stats().FailedPersists)
}

func TestController_ConcurrentUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	c := NewController(document.NewObject(), path, newRecordingFiles(), WithDebounceWindow(testWindow))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		key := string(rune('a' + i))
		wg.Go(func() {
			for j := 0; j < 10; j++ {
				assert.NoError(t, c.Update(document.OpPut, put(key, j)))
			}
		})
	}
	wg.Wait()
	c.Stop()

	got := readDoc(t, path, document.ShapeObject).(map[string]any)
	assert.Len(t, got, 20)
	for _, v := range got {
		assert.Equal(t, float64(9), v)
	}
}

func TestController_UpdateAndStopRace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	c := NewController(document.NewArray(), path, newRecordingFiles(), WithDebounceWindow(testWindow))

	var applied sync.WaitGroup
	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		applied.Go(func() {
			err := c.Update(document.OpAdd, func(d document.Document) error {
				return d.(*document.Array).Add("x")
			})
			if err == nil {
				mu.Lock()
				count++
				mu.Unlock()
			}
		})
	}
	c.Stop()
	applied.Wait()

	// every update that was accepted made it to disk
	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		return
	}
	got := readDoc(t, path, document.ShapeArray).([]any)
	assert.Len(t, got, count)
}

func TestController_Accessors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	doc := document.NewArray()
	c := NewController(doc, path, newRecordingFiles(),
		WithDebounceWindow(0), WithIdleLogInterval(time.Millisecond))
	defer c.Stop()

	assert.Equal(t, path, c.Path())
	assert.Equal(t, document.ShapeArray, c.Shape())
	assert.Equal(t, DefaultDebounceWindow, c.DebounceWindow())
	assert.Same(t, doc, c.Document())
}

func TestController_StatsWhileStopWaitsOnSlowPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	files := newBlockingFiles()
	c := NewController(document.NewObject(), path, files, WithDebounceWindow(testWindow))

	require.NoError(t, c.Update(document.OpPut, put("x", 1)))
	select {
	case <-files.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("persist never started")
	}

	// the loop now holds the read lock inside a write
	updated := make(chan error, 1)
	go func() { updated <- c.Update(document.OpPut, put("y", 2)) }()
	time.Sleep(testWindow)

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	time.Sleep(testWindow)

	stats := make(chan Stats, 1)
	go func() { stats <- c.Stats() }()
	select {
	case <-stats:
	case <-time.After(2 * time.Second):
		t.Fatal("Stats blocked behind a pending Stop")
	}

	close(files.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the write completed")
	}
	require.NoError(t, <-updated)
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, readDoc(t, path, document.ShapeObject))
}

func idleEntries(hook *test.Hook, path string) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "persistence controller idle" && e.Data["file"] == path {
			n++
		}
	}
	return n
}

func TestController_IdleLogIsThrottled(t *testing.T) {
	hook := test.NewLocal(logger.Logger)
	defer hook.Reset()
	orig := logger.Logger.GetLevel()
	logger.Logger.SetLevel(logrus.DebugLevel)
	defer logger.Logger.SetLevel(orig)

	const interval = 50 * time.Millisecond
	path := filepath.Join(t.TempDir(), "idle.json")
	quiet := filepath.Join(t.TempDir(), "quiet.json")

	start := time.Now()
	c := NewController(document.NewObject(), path, newRecordingFiles(),
		WithDebounceWindow(5*time.Millisecond), WithIdleLogInterval(interval))
	silent := NewController(document.NewObject(), quiet, newRecordingFiles(),
		WithDebounceWindow(5*time.Millisecond))

	assert.Eventually(t, func() bool {
		return idleEntries(hook, path) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	c.Stop()
	silent.Stop()
	elapsed := time.Since(start)

	// the loop wakes every 5ms; without throttling there would be one entry per wake
	assert.LessOrEqual(t, idleEntries(hook, path), int(elapsed/interval)+1)
	assert.Zero(t, idleEntries(hook, quiet))
}
