// Package scheduler periodically sweeps pending diagnosis records through
// the classification model and commits the results.
package scheduler

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leafscan/leafnet-go/internal/conf"
	"github.com/leafscan/leafnet-go/internal/datastore"
	"github.com/leafscan/leafnet-go/internal/leafnet"
	"github.com/leafscan/leafnet-go/internal/logging"
	"github.com/leafscan/leafnet-go/internal/observability"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = logging.ForService("scheduler")
	})
	return logger
}

// BatchPredictor runs the model over a batch of preprocessed images and
// returns one confidence vector per image, in input order.
type BatchPredictor interface {
	PredictBatch(imgs []image.Image) ([][]float64, error)
}

// SweepStats summarizes one completed sweep.
type SweepStats struct {
	Scanned   int `json:"scanned"`
	Diagnosed int `json:"diagnosed"`
	Failed    int `json:"failed"`
}

// Scheduler runs diagnosis sweeps on a fixed interval. At most one sweep
// runs at a time; ticks that arrive while a sweep is in progress are
// dropped, not queued.
type Scheduler struct {
	settings  *conf.Settings
	store     datastore.Interface
	predictor BatchPredictor
	metrics   *observability.SchedulerMetrics

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler. Metrics may be nil.
func New(settings *conf.Settings, store datastore.Interface, predictor BatchPredictor, metrics *observability.SchedulerMetrics) *Scheduler {
	return &Scheduler{
		settings:  settings,
		store:     store,
		predictor: predictor,
		metrics:   metrics,
	}
}

// Start launches the ticker loop in a goroutine. An initial sweep runs
// immediately so pending records are not left waiting a full interval
// after a restart.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	interval := s.settings.Scheduler.Interval
	getLogger().Info("starting diagnosis scheduler", "interval", interval)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.sweepIfIdle(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepIfIdle(ctx)
			}
		}
	}()
}

// Stop cancels the ticker loop and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	getLogger().Info("diagnosis scheduler stopped")
}

// sweepIfIdle runs one sweep unless a previous one is still in flight.
func (s *Scheduler) sweepIfIdle(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		getLogger().Warn("skipping sweep, previous sweep still running")
		if s.metrics != nil {
			s.metrics.SweepSkipped.Inc()
		}
		return
	}
	defer s.running.Store(false)

	stats, err := s.sweep(ctx)
	if err != nil {
		getLogger().Error("diagnosis sweep failed", "error", err)
		return
	}
	getLogger().Info("diagnosis sweep complete",
		"scanned", stats.Scanned, "diagnosed", stats.Diagnosed, "failed", stats.Failed)
}

// RunSweep executes a single sweep on the caller's goroutine, honoring the
// same single-flight guarantee as the ticker loop. It returns the stats of
// the sweep, or zero stats when another sweep was already running.
func (s *Scheduler) RunSweep(ctx context.Context) (SweepStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		getLogger().Warn("skipping sweep, previous sweep still running")
		if s.metrics != nil {
			s.metrics.SweepSkipped.Inc()
		}
		return SweepStats{}, nil
	}
	defer s.running.Store(false)

	return s.sweep(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) (SweepStats, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.SweepInFlight.Set(1)
		defer func() {
			s.metrics.SweepInFlight.Set(0)
			s.metrics.SweepTotal.Inc()
			s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		}()
	}

	pending, err := s.store.GetPending()
	if err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{Scanned: len(pending)}
	batchSize := s.settings.Scheduler.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	for offset := 0; offset < len(pending); offset += batchSize {
		if ctx.Err() != nil {
			getLogger().Info("sweep interrupted", "remaining", len(pending)-offset)
			return stats, nil
		}
		end := offset + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		diagnosed, failed := s.processBatch(pending[offset:end])
		stats.Diagnosed += diagnosed
		stats.Failed += failed
	}
	return stats, nil
}

// processBatch diagnoses one chunk of pending records. A record whose image
// cannot be loaded is logged and left pending for the next sweep; the rest
// of the batch proceeds without it.
func (s *Scheduler) processBatch(records []datastore.Diagnosis) (diagnosed, failed int) {
	imgs := make([]image.Image, 0, len(records))
	loaded := make([]*datastore.Diagnosis, 0, len(records))

	for i := range records {
		record := &records[i]
		img, err := leafnet.LoadImage(record.ServerImagePath)
		if err != nil {
			getLogger().Warn("skipping record, image load failed",
				"server_id", record.ServerID, "path", record.ServerImagePath, "error", err)
			s.countFailure("image_load")
			failed++
			continue
		}
		imgs = append(imgs, img)
		loaded = append(loaded, record)
	}
	if len(imgs) == 0 {
		return diagnosed, failed
	}

	scores, err := s.predictor.PredictBatch(imgs)
	if err != nil {
		getLogger().Error("batch prediction failed", "batch_size", len(imgs), "error", err)
		s.countFailureN("prediction", len(loaded))
		return diagnosed, failed + len(loaded)
	}

	for i, record := range loaded {
		disease, err := leafnet.DecodeDiagnosis(scores[i])
		if err != nil {
			getLogger().Error("decoding prediction failed", "server_id", record.ServerID, "error", err)
			s.countFailure("decode")
			failed++
			continue
		}
		if err := s.store.CommitServerDiagnosis(record.ServerID, disease, scores[i]); err != nil {
			getLogger().Error("committing diagnosis failed", "server_id", record.ServerID, "error", err)
			s.countFailure("commit")
			failed++
			continue
		}
		diagnosed++
	}
	if s.metrics != nil {
		s.metrics.RecordsDiagnosed.Add(float64(diagnosed))
	}
	return diagnosed, failed
}

func (s *Scheduler) countFailure(stage string) {
	if s.metrics != nil {
		s.metrics.RecordsFailed.WithLabelValues(stage).Inc()
	}
}

func (s *Scheduler) countFailureN(stage string, n int) {
	if s.metrics != nil {
		s.metrics.RecordsFailed.WithLabelValues(stage).Add(float64(n))
	}
}
