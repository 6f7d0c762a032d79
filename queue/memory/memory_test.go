package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
	"github.com/xraph/export/queue"
	"github.com/xraph/export/queue/memory"
)

func msg(tenant string) *queue.Message {
	return &queue.Message{JobID: id.NewExportID(), TenantID: tenant, Filters: &export.Filters{}}
}

// collector records the tenant IDs it sees in order.
type collector struct {
	mu   sync.Mutex
	seen []string
}

func (c *collector) handle(_ context.Context, m *queue.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, m.TenantID)
	return nil
}

func (c *collector) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func TestBuffersUntilSubscribed(t *testing.T) {
	q := memory.New()
	ctx := context.Background()

	for _, tenant := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, msg(tenant)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	c := &collector{}
	q.Subscribe(c.handle)
	q.Wait()

	got := c.list()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("delivery order = %v, want [a b c]", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d", q.Len())
	}
}

func TestDeliversToAllSubscribers(t *testing.T) {
	q := memory.New()
	c1, c2 := &collector{}, &collector{}
	q.Subscribe(c1.handle)
	q.Subscribe(c2.handle)

	_ = q.Enqueue(context.Background(), msg("a"))
	q.Wait()

	if len(c1.list()) != 1 || len(c2.list()) != 1 {
		t.Errorf("expected each subscriber to see one message, got %v and %v", c1.list(), c2.list())
	}
}

func TestHandlerNeverRunsConcurrently(t *testing.T) {
	q := memory.New()
	var active, maxActive, total int32

	q.Subscribe(func(context.Context, *queue.Message) error {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		atomic.AddInt32(&total, 1)
		return nil
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(context.Background(), msg("t"))
		}()
	}
	wg.Wait()
	q.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("max concurrent handler invocations = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&total); got != 20 {
		t.Errorf("handled %d messages, want 20", got)
	}
}

func TestEnqueueFromHandlerIsAbsorbed(t *testing.T) {
	q := memory.New()
	c := &collector{}

	q.Subscribe(func(ctx context.Context, m *queue.Message) error {
		if m.TenantID == "first" {
			if err := q.Enqueue(ctx, msg("second")); err != nil {
				t.Errorf("nested Enqueue: %v", err)
			}
		}
		return c.handle(ctx, m)
	})

	_ = q.Enqueue(context.Background(), msg("first"))
	q.Wait()

	got := c.list()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("got %v, want [first second]", got)
	}
}

func TestHandlerFailuresDoNotStopDrain(t *testing.T) {
	q := memory.New()
	c := &collector{}

	q.Subscribe(func(ctx context.Context, m *queue.Message) error {
		switch m.TenantID {
		case "panic":
			panic("boom")
		case "err":
			return errors.New("failed")
		}
		return c.handle(ctx, m)
	})

	ctx := context.Background()
	_ = q.Enqueue(ctx, msg("panic"))
	_ = q.Enqueue(ctx, msg("err"))
	_ = q.Enqueue(ctx, msg("ok"))
	q.Wait()

	if got := c.list(); len(got) != 1 || got[0] != "ok" {
		t.Errorf("got %v, want [ok]", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	q := memory.New()
	c := &collector{}
	unsubscribe := q.Subscribe(c.handle)
	unsubscribe()
	unsubscribe()

	_ = q.Enqueue(context.Background(), msg("a"))
	q.Wait()

	if len(c.list()) != 0 {
		t.Errorf("unsubscribed handler received %v", c.list())
	}
	if q.Len() != 1 {
		t.Errorf("message should stay buffered, Len = %d", q.Len())
	}
}

func TestEnqueueStampsTime(t *testing.T) {
	q := memory.New()
	var got time.Time
	q.Subscribe(func(_ context.Context, m *queue.Message) error {
		got = m.EnqueuedAt
		return nil
	})
	_ = q.Enqueue(context.Background(), msg("a"))
	q.Wait()

	if got.IsZero() {
		t.Error("EnqueuedAt was not stamped")
	}
}

func TestClosedQueueRejects(t *testing.T) {
	q := memory.New()
	_ = q.Close()
	if err := q.Enqueue(context.Background(), msg("a")); !errors.Is(err, export.ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestEnqueueHonorsContext(t *testing.T) {
	q := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Enqueue(ctx, msg("a")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
