package scheduler

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubPredictor returns the same confidence vector for every image and
// records the size of each batch it was handed.
type stubPredictor struct {
	mu         sync.Mutex
	vector     []float64
	batchSizes []int
	block      chan struct{}
}

func (p *stubPredictor) PredictBatch(imgs []image.Image) ([][]float64, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.batchSizes = append(p.batchSizes, len(imgs))
	p.mu.Unlock()

	out := make([][]float64, len(imgs))
	for i := range out {
		out[i] = p.vector
	}
	return out, nil
}

func (p *stubPredictor) seenBatches() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.batchSizes...)
}

func newTestScheduler(t *testing.T, batchSize int, predictor BatchPredictor) (*Scheduler, *datastore.SQLiteStore) {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "scheduler-test.db")
	settings.Scheduler.BatchSize = batchSize
	settings.Scheduler.Interval = time.Hour

	store := &datastore.SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	return New(settings, store, predictor, nil), store
}

func writeLeafPNG(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 160, B: 60, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func savePending(t *testing.T, store *datastore.SQLiteStore, serverID, imagePath string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.Save(&datastore.Diagnosis{
		ServerID:        serverID,
		OwnerID:         1,
		ServerImagePath: imagePath,
		ImageName:       serverID + ".png",
		CreatedAt:       createdAt,
	}))
}

func TestRunSweepDiagnosesPending(t *testing.T) {
	predictor := &stubPredictor{vector: []float64{0.1, 0.1, 0.1, 0.6, 0.1}}
	sched, store := newTestScheduler(t, 12, predictor)

	dir := t.TempDir()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3"} {
		savePending(t, store, id, writeLeafPNG(t, dir, id+".png"), base.Add(time.Duration(i)*time.Minute))
	}

	stats, err := sched.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 3, Diagnosed: 3, Failed: 0}, stats)

	for _, id := range []string{"s1", "s2", "s3"} {
		got, err := store.GetByServerID(id)
		require.NoError(t, err)
		assert.True(t, got.IsServerDiagnosed)
		require.NotNil(t, got.ServerDiagnosis)
		assert.Equal(t, datastore.DiseaseHealthy, *got.ServerDiagnosis)
		assert.Equal(t, []float64{0.1, 0.1, 0.1, 0.6, 0.1}, []float64(got.ServerConfidenceScore))
	}

	pending, err := store.GetPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunSweepSkipsUnreadableImages(t *testing.T) {
	predictor := &stubPredictor{vector: []float64{0.8, 0.05, 0.05, 0.05, 0.05}}
	sched, store := newTestScheduler(t, 12, predictor)

	dir := t.TempDir()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	savePending(t, store, "ok1", writeLeafPNG(t, dir, "ok1.png"), base)

	corrupt := filepath.Join(dir, "corrupt.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("not an image"), 0o644))
	savePending(t, store, "bad", corrupt, base.Add(time.Minute))

	savePending(t, store, "ok2", writeLeafPNG(t, dir, "ok2.png"), base.Add(2*time.Minute))

	stats, err := sched.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 3, Diagnosed: 2, Failed: 1}, stats)

	// failed record stays pending for the next sweep
	pending, err := store.GetPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "bad", pending[0].ServerID)

	got, err := store.GetByServerID("ok2")
	require.NoError(t, err)
	require.NotNil(t, got.ServerDiagnosis)
	assert.Equal(t, datastore.DiseaseBrownRust, *got.ServerDiagnosis)
}

func TestRunSweepBatchChunking(t *testing.T) {
	predictor := &stubPredictor{vector: []float64{0.1, 0.1, 0.6, 0.1, 0.1}}
	sched, store := newTestScheduler(t, 2, predictor)

	dir := t.TempDir()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		savePending(t, store, id, writeLeafPNG(t, dir, id+".png"), base.Add(time.Duration(i)*time.Minute))
	}

	stats, err := sched.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Diagnosed)
	assert.Equal(t, []int{2, 2, 1}, predictor.seenBatches())
}

func TestRunSweepDoesNotOverwriteDiagnosedRecords(t *testing.T) {
	predictor := &stubPredictor{vector: []float64{0.1, 0.1, 0.1, 0.6, 0.1}}
	sched, store := newTestScheduler(t, 12, predictor)

	dir := t.TempDir()
	savePending(t, store, "once", writeLeafPNG(t, dir, "once.png"), time.Now().UTC())

	_, err := sched.RunSweep(context.Background())
	require.NoError(t, err)

	// second sweep with a different model output must not touch the record
	predictor.vector = []float64{0.9, 0.025, 0.025, 0.025, 0.025}
	stats, err := sched.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)

	got, err := store.GetByServerID("once")
	require.NoError(t, err)
	require.NotNil(t, got.ServerDiagnosis)
	assert.Equal(t, datastore.DiseaseHealthy, *got.ServerDiagnosis)
}

func TestRunSweepSingleFlight(t *testing.T) {
	predictor := &stubPredictor{
		vector: []float64{0.1, 0.1, 0.1, 0.6, 0.1},
		block:  make(chan struct{}),
	}
	sched, store := newTestScheduler(t, 12, predictor)

	dir := t.TempDir()
	savePending(t, store, "sf", writeLeafPNG(t, dir, "sf.png"), time.Now().UTC())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = sched.RunSweep(context.Background())
	}()

	// wait until the first sweep is inside the predictor
	require.Eventually(t, func() bool { return sched.running.Load() }, time.Second, time.Millisecond)

	stats, err := sched.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)

	close(predictor.block)
	wg.Wait()

	got, err := store.GetByServerID("sf")
	require.NoError(t, err)
	assert.True(t, got.IsServerDiagnosed)
}

func TestStartStop(t *testing.T) {
	predictor := &stubPredictor{vector: []float64{0.1, 0.1, 0.1, 0.6, 0.1}}
	sched, _ := newTestScheduler(t, 12, predictor)
	sched.settings.Scheduler.Interval = 10 * time.Millisecond

	sched.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	sched.Stop()
}
