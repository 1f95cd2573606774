// Package executorsvc implements the executor service (C10): a process
// that accepts pipeline runs from remote clients over WebSocket sessions,
// queues them behind a single execution slot, tracks a memory budget, and
// streams progress back, generalizing the teacher's JobManager
// (single-job-at-a-time) and sentinel.Coordinator (pending-confirmation
// bookkeeping) into a multi-client FIFO queue.
package executorsvc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/runner"
)

// defaultQueueCapacity bounds how many runs may wait behind the single
// execution slot before new submissions are rejected with QueueFull.
const defaultQueueCapacity = 64

// ErrQueueFull is wrapped into the error returned by enqueue once the
// queue is at capacity.
var ErrQueueFull = errors.New("executor queue is full")

// job is one queued or running execution.
type job struct {
	runID    string
	pipeline *pipeline.Pipeline
	bridge   *progress.ChannelBridge
	cancel   context.CancelFunc
	done     chan struct{}
	result   error
	estBytes int64

	// posCh carries this job's most recent queue position (0-indexed).
	// It is buffered 1 and updated non-blockingly: a session reading it
	// always sees the latest position, never a backlog of stale ones.
	posCh chan int
}

// Service is the single-slot, FIFO-queued pipeline executor. Only one
// pipeline runs at a time, matching the teacher's JobManager; every other
// accepted request waits in queue order.
type Service struct {
	logger     zerolog.Logger
	runnerImpl *runner.Runner

	memoryBudgetBytes int64
	queueCapacity     int

	mu        sync.Mutex
	queue     []*job
	running   *job
	byRunID   map[string]*job
	usedBytes int64

	wakeup chan struct{}

	metrics serviceMetrics
}

type serviceMetrics struct {
	queueDepth   prometheus.Gauge
	slotInUse    prometheus.Gauge
	rejected     prometheus.Counter
	memoryInUse  prometheus.Gauge
	completed    prometheus.Counter
	failed       prometheus.Counter
}

func newServiceMetrics(reg prometheus.Registerer) serviceMetrics {
	m := serviceMetrics{
		queueDepth:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "aqueducts_executor_queue_depth", Help: "Number of runs waiting for the execution slot."}),
		slotInUse:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "aqueducts_executor_slot_in_use", Help: "1 if a run currently holds the execution slot."}),
		rejected:    prometheus.NewCounter(prometheus.CounterOpts{Name: "aqueducts_executor_rejected_total", Help: "Runs rejected (over memory budget or queue full)."}),
		memoryInUse: prometheus.NewGauge(prometheus.GaugeOpts{Name: "aqueducts_executor_memory_budget_used_bytes", Help: "Estimated bytes held by queued and running runs."}),
		completed:   prometheus.NewCounter(prometheus.CounterOpts{Name: "aqueducts_executor_runs_completed_total", Help: "Runs that finished successfully."}),
		failed:      prometheus.NewCounter(prometheus.CounterOpts{Name: "aqueducts_executor_runs_failed_total", Help: "Runs that finished with an error."}),
	}
	if reg != nil {
		reg.MustRegister(m.queueDepth, m.slotInUse, m.rejected, m.memoryInUse, m.completed, m.failed)
	}
	return m
}

// New creates a Service with the given per-run sqlengine.Context factory,
// memory budget, queue capacity (0 selects defaultQueueCapacity), and
// Prometheus registerer (nil uses the default registry).
func New(newEngine runner.EngineFactory, memoryBudgetBytes int64, queueCapacity int, reg prometheus.Registerer, logger zerolog.Logger) *Service {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	s := &Service{
		logger:            logger.With().Str("component", "executorsvc").Logger(),
		runnerImpl:        runner.New(newEngine, logger),
		memoryBudgetBytes: memoryBudgetBytes,
		queueCapacity:     queueCapacity,
		byRunID:           make(map[string]*job),
		wakeup:            make(chan struct{}, 1),
		metrics:           newServiceMetrics(reg),
	}
	go s.dispatchLoop()
	return s
}

// estimateBytes is a coarse memory estimate for a queued pipeline: one MiB
// per source, stage and destination; real row volumes are unknown until sources are read,
// so this only protects against obviously oversized submissions.
func estimateBytes(p *pipeline.Pipeline) int64 {
	destCount := 0
	if p.Destination != nil {
		destCount = 1
	}
	stageCount := 0
	for _, level := range p.Stages {
		stageCount += len(level)
	}
	return int64(stageCount+len(p.Sources)+destCount) * 1 << 20
}

// Cancel requests cancellation of a queued or running job by run ID. It
// returns an error if no such job exists.
func (s *Service) Cancel(runID string) error {
	s.mu.Lock()
	j, ok := s.byRunID[runID]
	if ok && s.running != j {
		for i, q := range s.queue {
			if q != j {
				continue
			}
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			delete(s.byRunID, runID)
			s.usedBytes -= j.estBytes
			s.metrics.queueDepth.Set(float64(len(s.queue)))
			s.metrics.memoryInUse.Set(float64(s.usedBytes))
			s.broadcastQueuePositionsLocked()
			j.result = aqerrors.Newf(aqerrors.Cancelled, "cancel", "run %q cancelled while queued", runID)
			close(j.done)
			break
		}
	}
	s.mu.Unlock()
	if !ok {
		return aqerrors.Newf(aqerrors.Protocol, "cancel", "unknown run %q", runID)
	}
	if j.cancel != nil {
		j.cancel()
	}
	return nil
}

func (s *Service) dispatchLoop() {
	for range s.wakeup {
		s.dispatchNext()
	}
}

func (s *Service) dispatchNext() {
	s.mu.Lock()
	if s.running != nil || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	j := s.queue[0]
	s.queue = s.queue[1:]
	s.running = j
	s.metrics.queueDepth.Set(float64(len(s.queue)))
	s.metrics.slotInUse.Set(1)
	s.broadcastQueuePositionsLocked()
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = nil
			s.usedBytes -= j.estBytes
			delete(s.byRunID, j.runID)
			s.metrics.memoryInUse.Set(float64(s.usedBytes))
			s.metrics.slotInUse.Set(0)
			s.broadcastQueuePositionsLocked()
			s.mu.Unlock()
			close(j.done)
			s.triggerDispatch()
		}()

		runCtx, cancel := context.WithCancel(context.Background())
		j.cancel = cancel
		defer cancel()

		err := s.runnerImpl.Run(runCtx, j.pipeline, runner.Options{Tracker: j.bridge})
		j.result = err
		if err != nil {
			s.metrics.failed.Inc()
		} else {
			s.metrics.completed.Inc()
		}
	}()
}

func (s *Service) triggerDispatch() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// broadcastQueuePositionsLocked pushes every queued job's current
// 0-indexed position to its posCh. Callers must hold s.mu. Non-blocking:
// a stale pending value is drained and replaced rather than backed up.
func (s *Service) broadcastQueuePositionsLocked() {
	runningOffset := 0
	if s.running != nil {
		runningOffset = 1
	}
	for i, j := range s.queue {
		pos := i + runningOffset
		select {
		case j.posCh <- pos:
		default:
			select {
			case <-j.posCh:
			default:
			}
			select {
			case j.posCh <- pos:
			default:
			}
		}
	}
}

// enqueue is the real submission path behind SubmitPipeline.
func (s *Service) enqueue(p *pipeline.Pipeline) (*job, int, error) {
	est := estimateBytes(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.memoryBudgetBytes > 0 && s.usedBytes+est > s.memoryBudgetBytes {
		s.metrics.rejected.Inc()
		return nil, 0, aqerrors.Newf(aqerrors.Internal, "submit", "memory budget exceeded: %d + %d > %d", s.usedBytes, est, s.memoryBudgetBytes)
	}

	if len(s.queue) >= s.queueCapacity {
		s.metrics.rejected.Inc()
		return nil, 0, aqerrors.New(aqerrors.Internal, "submit", ErrQueueFull)
	}

	runningOffset := 0
	if s.running != nil {
		runningOffset = 1
	}
	pos := len(s.queue) + runningOffset

	j := &job{
		runID:    uuid.NewString(),
		pipeline: p,
		bridge:   progress.NewChannelBridge(s.logger),
		done:     make(chan struct{}),
		estBytes: est,
		posCh:    make(chan int, 1),
	}
	s.queue = append(s.queue, j)
	s.byRunID[j.runID] = j
	s.usedBytes += est
	s.metrics.queueDepth.Set(float64(len(s.queue)))
	s.metrics.memoryInUse.Set(float64(s.usedBytes))

	j.posCh <- pos
	s.triggerDispatch()
	return j, pos, nil
}

// SubmitPipeline is the executor service's public submission entry
// point: it enqueues p and returns the assigned job for the caller's
// session to subscribe to and await.
func (s *Service) SubmitPipeline(p *pipeline.Pipeline) (*job, int, error) {
	return s.enqueue(p)
}
