package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/middleware"
)

func testTask() *bridge.Task {
	return &bridge.Task{
		ID:         id.NewTaskID(),
		RunID:      id.NewRunID(),
		Target:     core.Ref(core.KindPipeline, 1),
		Queue:      "default",
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestChainOrdersOutsideIn(t *testing.T) {
	t.Parallel()
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *bridge.Task, next middleware.Handler) error {
			order = append(order, name+"-in")
			err := next(ctx)
			order = append(order, name+"-out")
			return err
		}
	}

	chain := middleware.Chain(tag("outer"), tag("inner"))
	err := chain(context.Background(), testTask(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := "outer-in inner-in handler inner-out outer-out"
	if got := strings.Join(order, " "); got != want {
		t.Errorf("order = %q, want %q", got, want)
	}
}

func TestChainEmptyIsPassThrough(t *testing.T) {
	t.Parallel()
	called := false
	err := middleware.Chain()(context.Background(), testTask(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("empty chain: called=%v err=%v", called, err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	t.Parallel()
	mw := middleware.Recover(slog.Default())
	err := mw(context.Background(), testTask(), func(context.Context) error {
		panic("transform exploded")
	})
	if err == nil {
		t.Fatal("panic not converted to error")
	}
	if !strings.Contains(err.Error(), "transform exploded") {
		t.Errorf("error = %v, want panic message preserved", err)
	}
}

func TestRecoverPassesThroughErrors(t *testing.T) {
	t.Parallel()
	want := errors.New("plain failure")
	mw := middleware.Recover(slog.Default())
	err := mw(context.Background(), testTask(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
}

func TestTimeoutCancelsSlowHandlers(t *testing.T) {
	t.Parallel()
	mw := middleware.Timeout(20 * time.Millisecond)
	err := mw(context.Background(), testTask(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}

func TestTimeoutZeroDisablesBound(t *testing.T) {
	t.Parallel()
	mw := middleware.Timeout(0)
	err := mw(context.Background(), testTask(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			return errors.New("unexpected deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("zero timeout: %v", err)
	}
}

func TestTracingIsPassThroughWithoutProvider(t *testing.T) {
	t.Parallel()
	mw := middleware.Tracing()
	want := errors.New("handler error")
	err := mw(context.Background(), testTask(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("got %v, want handler error surfaced", err)
	}
}
