package inbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/timvw/pane-conductor/internal/model"
	"github.com/timvw/pane-conductor/internal/provider"
	"github.com/timvw/pane-conductor/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTerminals serves codex terminals whose status is set by the test.
type fakeTerminals struct {
	mu      sync.Mutex
	status  map[string]model.Status
	sent    map[string][]string
	sendErr error
	// hold blocks sends to a terminal until its channel is closed.
	hold map[string]chan struct{}
}

func newFakeTerminals(ids ...string) *fakeTerminals {
	f := &fakeTerminals{
		status: make(map[string]model.Status),
		sent:   make(map[string][]string),
	}
	for _, id := range ids {
		f.status[id] = model.StatusIdle
	}
	return f
}

func (f *fakeTerminals) Lookup(_ context.Context, id string) (model.Terminal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.status[id]; !ok {
		return model.Terminal{}, fmt.Errorf("terminal %s: %w", id, model.ErrNotFound)
	}
	return model.Terminal{ID: id, Provider: model.ProviderCodex}, nil
}

func (f *fakeTerminals) Status(ctx context.Context, id string) (model.Status, error) {
	if _, err := f.Lookup(ctx, id); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[id], nil
}

func (f *fakeTerminals) SendInput(ctx context.Context, id, text string) error {
	f.mu.Lock()
	gate := f.hold[id]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent[id] = append(f.sent[id], text)
	return nil
}

func (f *fakeTerminals) ProviderFor(model.Terminal) (provider.Provider, error) {
	return provider.NewCodex(""), nil
}

func (f *fakeTerminals) holdSends(id string) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	if f.hold == nil {
		f.hold = make(map[string]chan struct{})
	}
	f.hold[id] = gate
	f.mu.Unlock()
	return gate
}

func (f *fakeTerminals) setStatus(id string, s model.Status) {
	f.mu.Lock()
	f.status[id] = s
	f.mu.Unlock()
}

func (f *fakeTerminals) received(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[id]...)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "conductor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubmitUnknownReceiver(t *testing.T) {
	terms := newFakeTerminals()
	q := NewQueue(terms, openStore(t), WithLogger(zaptest.NewLogger(t)))

	_, err := q.Submit(context.Background(), "sup", "ghost", "hi")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubmitDeliversImmediatelyWhenIdle(t *testing.T) {
	terms := newFakeTerminals("worker")
	st := openStore(t)
	q := NewQueue(terms, st, WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	msg, err := q.Submit(ctx, "sup", "worker", "run the tests")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if diff := cmp.Diff([]string{"run the tests"}, terms.received("worker")); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}

	msgs, err := q.List(ctx, "worker")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID || !msgs[0].Delivered {
		t.Errorf("messages = %+v, want one delivered", msgs)
	}
}

func TestDeliveryOrderOnePerCall(t *testing.T) {
	terms := newFakeTerminals("worker")
	terms.setStatus("worker", model.StatusProcessing)
	q := NewQueue(terms, openStore(t), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		if _, err := q.Submit(ctx, "sup", "worker", body); err != nil {
			t.Fatalf("Submit(%s): %v", body, err)
		}
	}
	if got := terms.received("worker"); len(got) != 0 {
		t.Fatalf("delivered to a busy receiver: %v", got)
	}

	terms.setStatus("worker", model.StatusIdle)
	for i, want := range []string{"first", "second", "third"} {
		ok, err := q.CheckAndDeliver(ctx, "worker")
		if err != nil || !ok {
			t.Fatalf("CheckAndDeliver #%d = %v, %v", i, ok, err)
		}
		got := terms.received("worker")
		if len(got) != i+1 || got[i] != want {
			t.Fatalf("after call %d sent = %v, want %q last", i, got, want)
		}
	}

	ok, err := q.CheckAndDeliver(ctx, "worker")
	if err != nil || ok {
		t.Errorf("empty queue CheckAndDeliver = %v, %v; want false, nil", ok, err)
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name               string
		status             model.Status
		deliverOnCompleted bool
		want               bool
	}{
		{name: "idle", status: model.StatusIdle, want: true},
		{name: "processing", status: model.StatusProcessing, want: false},
		{name: "error", status: model.StatusError, want: false},
		{name: "completed strict", status: model.StatusCompleted, want: false},
		{name: "completed allowed", status: model.StatusCompleted, deliverOnCompleted: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := newFakeTerminals("worker")
			terms.setStatus("worker", tt.status)
			st := openStore(t)
			q := NewQueue(terms, st, WithDeliverOnCompleted(tt.deliverOnCompleted))
			ctx := context.Background()

			if _, err := st.AppendMessage(ctx, "sup", "worker", "task"); err != nil {
				t.Fatal(err)
			}
			got, err := q.CheckAndDeliver(ctx, "worker")
			if err != nil {
				t.Fatalf("CheckAndDeliver: %v", err)
			}
			if got != tt.want {
				t.Errorf("delivered = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSendFailureReleasesClaim(t *testing.T) {
	terms := newFakeTerminals("worker")
	terms.sendErr = errors.New("tmux gone")
	st := openStore(t)
	q := NewQueue(terms, st, WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	if _, err := q.Submit(ctx, "sup", "worker", "retry me"); err != nil {
		t.Fatalf("Submit should swallow delivery errors: %v", err)
	}
	if _, err := q.CheckAndDeliver(ctx, "worker"); err == nil {
		t.Fatal("CheckAndDeliver succeeded with a failing send")
	}
	has, err := st.HasPending(ctx, "worker")
	if err != nil || !has {
		t.Fatalf("HasPending = %v, %v; message should still be pending", has, err)
	}

	terms.mu.Lock()
	terms.sendErr = nil
	terms.mu.Unlock()
	ok, err := q.CheckAndDeliver(ctx, "worker")
	if err != nil || !ok {
		t.Fatalf("retry = %v, %v", ok, err)
	}
	if diff := cmp.Diff([]string{"retry me"}, terms.received("worker")); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentDeliveryNeverDuplicates(t *testing.T) {
	terms := newFakeTerminals("worker")
	terms.setStatus("worker", model.StatusProcessing)
	st := openStore(t)
	lockDir := t.TempDir()
	ctx := context.Background()

	var want []string
	for i := range 5 {
		body := fmt.Sprintf("msg-%d", i)
		want = append(want, body)
		if _, err := st.AppendMessage(ctx, "sup", "worker", body); err != nil {
			t.Fatal(err)
		}
	}
	terms.setStatus("worker", model.StatusIdle)

	// Two queues with separate in-process locks model two processes that
	// share only the lock directory and the database.
	queues := []*Queue{
		NewQueue(terms, st, WithLockDir(lockDir)),
		NewQueue(terms, st, WithLockDir(lockDir)),
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(q *Queue) {
			defer wg.Done()
			if _, err := q.CheckAndDeliver(ctx, "worker"); err != nil {
				t.Errorf("CheckAndDeliver: %v", err)
			}
		}(queues[i%2])
	}
	wg.Wait()

	if diff := cmp.Diff(want, terms.received("worker")); diff != "" {
		t.Errorf("deliveries mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliverAll(t *testing.T) {
	terms := newFakeTerminals("a", "b")
	terms.setStatus("b", model.StatusProcessing)
	st := openStore(t)
	q := NewQueue(terms, st, WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	for _, r := range []string{"a", "b"} {
		if _, err := st.AppendMessage(ctx, "sup", r, "hello "+r); err != nil {
			t.Fatal(err)
		}
	}
	n, err := q.DeliverAll(ctx)
	if err != nil {
		t.Fatalf("DeliverAll: %v", err)
	}
	if n != 1 {
		t.Errorf("delivered %d, want 1", n)
	}
	if got := terms.received("b"); len(got) != 0 {
		t.Errorf("busy receiver got %v", got)
	}
}
