package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// fakeSender records deliveries and can be told to fail.
type fakeSender struct {
	name string
	err  error

	mu    sync.Mutex
	sent  []string
	calls int
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, title+"|"+message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyRespectsEventFilter(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{EventExecFailed}, discard())
	ctx := context.Background()

	if err := n.Notify(ctx, EventEngineStarted, "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := s.callCount(); got != 0 {
		t.Errorf("filtered event reached sender %d times", got)
	}

	if err := n.Notify(ctx, EventExecFailed, "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := s.callCount(); got != 1 {
		t.Errorf("allowed event delivered %d times, want 1", got)
	}
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, nil, discard())

	for _, event := range []string{EventEngineStarted, EventTradingLocked, "something_new"} {
		if err := n.Notify(context.Background(), event, "t", "m"); err != nil {
			t.Fatalf("Notify(%s): %v", event, err)
		}
	}
	if got := s.callCount(); got != 3 {
		t.Errorf("delivered %d times, want 3", got)
	}
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{EventExecFailed}, discard())

	if err := n.NotifyAll(context.Background(), "Trading locked", "drawdown"); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if got := s.callCount(); got != 1 {
		t.Errorf("delivered %d times, want 1", got)
	}
}

func TestDispatchCollectsFailuresWithoutStarvingOthers(t *testing.T) {
	dead := &fakeSender{name: "telegram", err: errors.New("bot token revoked")}
	live := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{dead, live}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("NotifyAll should report the failed sender")
	}
	if !strings.Contains(err.Error(), "telegram") {
		t.Errorf("error should name the failed sender, got: %v", err)
	}
	if got := live.callCount(); got != 1 {
		t.Errorf("healthy sender delivered %d times, want 1", got)
	}
}

func TestNotifyNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	if err := n.NotifyAll(context.Background(), "t", "m"); err != nil {
		t.Errorf("NotifyAll with no senders: %v", err)
	}
}
