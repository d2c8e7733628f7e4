package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/detection"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/shopspring/decimal"
)

// recordingRunner captures requests and fails those without transactions.
type recordingRunner struct {
	mu   sync.Mutex
	reqs []domain.RunRequest
	done chan struct{}
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{done: make(chan struct{}, 10)}
}

func (r *recordingRunner) Run(ctx context.Context, req *domain.RunRequest) (*domain.DetectionRun, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, *req)
	r.mu.Unlock()
	defer func() { r.done <- struct{}{} }()

	if len(req.Transactions) == 0 {
		return nil, errors.New("no transactions")
	}
	return &domain.DetectionRun{ID: req.RunID}, nil
}

func (r *recordingRunner) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for run")
	}
}

func publishRequest(t *testing.T, b domain.EventBus, req domain.RunRequest) {
	t.Helper()
	if err := bus.PublishJSON(context.Background(), b, domain.TopicRunRequested, req); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func sampleTransactions() []domain.Transaction {
	return []domain.Transaction{{
		ID: "T1", UserID: "U1",
		Timestamp: time.Date(2024, 3, 1, 3, 15, 0, 0, time.UTC),
		Amount:    decimal.NewFromInt(25),
		Location:  "Boston, MA", Latitude: 42.3601, Longitude: -71.0589,
	}}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newRecordingRunner())
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicRunRequested {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRequest", func(t *testing.T) {
		runner := newRecordingRunner()
		w := NewWorker(eventBus, runner)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		publishRequest(t, eventBus, domain.RunRequest{
			RunID:             "run-001",
			ConfigurationName: "strict",
			Transactions:      sampleTransactions(),
		})
		runner.wait(t)

		runner.mu.Lock()
		got := runner.reqs[0]
		runner.mu.Unlock()
		if got.RunID != "run-001" || got.ConfigurationName != "strict" || len(got.Transactions) != 1 {
			t.Errorf("unexpected request %+v", got)
		}
		if stats := w.GetStats(); stats.Processed != 1 || stats.Failed != 0 {
			t.Errorf("unexpected counters %+v", stats)
		}
	})

	t.Run("MessageIDBecomesRunID", func(t *testing.T) {
		runner := newRecordingRunner()
		w := NewWorker(eventBus, runner)
		_ = w.Start()
		defer w.Stop()

		publishRequest(t, eventBus, domain.RunRequest{Transactions: sampleTransactions()})
		runner.wait(t)

		runner.mu.Lock()
		defer runner.mu.Unlock()
		if runner.reqs[0].RunID == "" {
			t.Error("expected run id taken from the message envelope")
		}
	})

	t.Run("Failures", func(t *testing.T) {
		runner := newRecordingRunner()
		w := NewWorker(eventBus, runner)
		_ = w.Start()
		defer w.Stop()

		publishRequest(t, eventBus, domain.RunRequest{RunID: "empty"})
		runner.wait(t)

		_ = eventBus.Publish(context.Background(), domain.TopicRunRequested, []byte("{not json"))

		deadline := time.Now().Add(time.Second)
		for w.GetStats().Failed < 2 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if stats := w.GetStats(); stats.Failed != 2 || stats.Processed != 0 {
			t.Errorf("expected 2 failures, got %+v", stats)
		}
	})
}

func TestWorkerWithPipeline(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	p := pipeline.New(pipeline.Options{
		Processor: detection.NewProcessor(2),
		Bus:       eventBus,
	})
	w := NewWorker(eventBus, p)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	completed := make(chan domain.RunCompletedEvent, 1)
	_, err := eventBus.Subscribe(context.Background(), domain.TopicRunCompleted, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.RunCompletedEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		completed <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	publishRequest(t, eventBus, domain.RunRequest{RunID: "async-1", Transactions: sampleTransactions()})

	select {
	case ev := <-completed:
		if ev.RunID != "async-1" {
			t.Errorf("expected run async-1, got %s", ev.RunID)
		}
		// 03:15 falls in the default unusual-hours window.
		if ev.TotalTransactions != 1 || ev.FlaggedCount != 1 {
			t.Errorf("unexpected completion %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for run completion")
	}
}

func TestWorkerKeepsTransactionSet(t *testing.T) {
	tests := []struct {
		name    string
		txs     []domain.Transaction
		wantNil bool
	}{
		{"Empty", []domain.Transaction{}, false},
		{"Unset", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eventBus := bus.NewChannelBus(10)
			defer eventBus.Close()

			runner := newRecordingRunner()
			w := NewWorker(eventBus, runner)
			if err := w.Start(); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer w.Stop()

			publishRequest(t, eventBus, domain.RunRequest{RunID: "R1", Transactions: tt.txs})
			runner.wait(t)

			runner.mu.Lock()
			got := runner.reqs[0].Transactions
			runner.mu.Unlock()
			if (got == nil) != tt.wantNil || len(got) != 0 {
				t.Errorf("expected nil=%v empty set, got nil=%v len=%d", tt.wantNil, got == nil, len(got))
			}
		})
	}
}
