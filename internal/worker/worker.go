// Package worker consumes ingested trades from the event bus and runs them
// through the analyzer.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Akoredejo/SentinelShield/internal/analysis"
	"github.com/Akoredejo/SentinelShield/internal/bus"
	"github.com/Akoredejo/SentinelShield/internal/domain"
)

// Analyzer is the part of analysis.Analyzer the worker needs.
type Analyzer interface {
	Analyze(ctx context.Context, sig analysis.Signal) (*analysis.Result, error)
}

// Worker drains sentinel.trade.ingested with a fixed pool of goroutines and
// publishes every outcome on sentinel.analysis.result.
type Worker struct {
	bus      domain.EventBus
	analyzer Analyzer
	count    int

	jobs     chan *domain.Message
	sub      domain.Subscription
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	stopOnce sync.Once

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// ResultMessage is published on TopicAnalysisResult.
type ResultMessage struct {
	MessageID string           `json:"messageId"`
	Signal    analysis.Signal  `json:"signal"`
	Result    *analysis.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Code      string           `json:"code,omitempty"`
}

// NewWorker creates a worker running count analysis goroutines.
func NewWorker(b domain.EventBus, a Analyzer, count int) *Worker {
	if count <= 0 {
		count = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      b,
		analyzer: a,
		count:    count,
		jobs:     make(chan *domain.Message, count*4),
		ctx:      ctx,
		cancel:   cancel,
		quit:     make(chan struct{}),
	}
}

// Start subscribes to ingested trades and launches the pool.
func (w *Worker) Start() error {
	for i := 0; i < w.count; i++ {
		w.wg.Add(1)
		go w.run()
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTradeIngested, w.enqueue)
	if err != nil {
		w.halt()
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTradeIngested, err)
	}
	w.sub = sub

	slog.Info("analysis workers started",
		"worker_count", w.count,
		"topic", domain.TopicTradeIngested,
	)
	return nil
}

func (w *Worker) enqueue(ctx context.Context, msg *domain.Message) error {
	select {
	case <-w.quit:
		w.dropped.Add(1)
		return fmt.Errorf("worker stopping, trade message %s not queued", msg.ID)
	default:
	}
	select {
	case w.jobs <- msg:
		return nil
	case <-w.quit:
		w.dropped.Add(1)
		return fmt.Errorf("worker stopping, trade message %s not queued", msg.ID)
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			w.drain()
			return
		case msg := <-w.jobs:
			w.process(w.ctx, msg)
		}
	}
}

// drain processes whatever is still queued once Stop has been called.
func (w *Worker) drain() {
	for {
		select {
		case msg := <-w.jobs:
			w.process(w.ctx, msg)
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, msg *domain.Message) {
	out := ResultMessage{MessageID: msg.ID}

	if err := json.Unmarshal(msg.Payload, &out.Signal); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse trade message", "message_id", msg.ID, "error", err)
		return
	}

	res, err := w.analyzer.Analyze(ctx, out.Signal)
	if err != nil {
		w.failed.Add(1)
		out.Error = err.Error()
		out.Code = domain.ErrorCode(err)

		logFn := slog.Error
		if errors.Is(err, domain.ErrBlacklisted) || errors.Is(err, domain.ErrInvalidInput) {
			logFn = slog.Warn
		}
		logFn("trade analysis failed",
			"message_id", msg.ID,
			"trader", out.Signal.Trader,
			"trace_id", out.Signal.TraceID,
			"error", err,
		)
	} else {
		w.processed.Add(1)
		out.Result = res
	}

	if err := bus.PublishJSON(ctx, w.bus, domain.TopicAnalysisResult, out); err != nil {
		slog.Error("failed to publish analysis result", "message_id", msg.ID, "error", err)
	}
}

// Stop unsubscribes, then drains the queue: every trade already accepted
// is analyzed and its result published before Stop returns. Deliveries
// racing the shutdown are refused and counted as dropped. Stop is safe to
// call more than once.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		if w.sub != nil {
			if err := w.sub.Unsubscribe(); err != nil {
				slog.Error("failed to unsubscribe", "topic", w.sub.Topic(), "error", err)
			}
			w.sub = nil
		}

		w.halt()

		if n := w.dropped.Load(); n > 0 {
			slog.Warn("trade messages dropped during shutdown", "dropped", n)
		}
		slog.Info("analysis workers stopped",
			"processed", w.processed.Load(),
			"failed", w.failed.Load(),
		)
	})
	return nil
}

func (w *Worker) halt() {
	close(w.quit)
	w.wg.Wait()

	// A delivery can still win the race into the buffer after the last
	// runner has drained it.
	for {
		select {
		case <-w.jobs:
			w.dropped.Add(1)
		default:
			w.cancel()
			return
		}
	}
}

// Stats is a snapshot of worker counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	return Stats{
		Workers:   w.count,
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
		Queued:    len(w.jobs),
	}
}
