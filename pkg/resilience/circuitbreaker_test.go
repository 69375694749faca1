package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/diagtrace/pkg/fn"
	"github.com/google/go-cmp/cmp"
)

var errUpstream = errors.New("upstream 503")

// step is one action against a breaker: a failing call, a succeeding call
// or a clock advance.
type step struct {
	fail    bool
	ok      bool
	advance time.Duration
}

var (
	fail = step{fail: true}
	ok   = step{ok: true}
)

func wait(d time.Duration) step { return step{advance: d} }

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name      string
		threshold int
		steps     []step
		want      State
		wantTrans []string
	}{
		{
			name:      "starts closed",
			threshold: 3,
			want:      StateClosed,
		},
		{
			name:      "trips at threshold",
			threshold: 3,
			steps:     []step{fail, fail, fail},
			want:      StateOpen,
			wantTrans: []string{"closed>open"},
		},
		{
			name:      "success resets the failure count",
			threshold: 3,
			steps:     []step{fail, fail, ok, fail, fail},
			want:      StateClosed,
		},
		{
			name:      "half-open after timeout",
			threshold: 2,
			steps:     []step{fail, fail, wait(6 * time.Second)},
			want:      StateHalfOpen,
			wantTrans: []string{"closed>open", "open>half-open"},
		},
		{
			name:      "still open before timeout",
			threshold: 2,
			steps:     []step{fail, fail, wait(4 * time.Second), ok},
			want:      StateOpen,
			wantTrans: []string{"closed>open"},
		},
		{
			name:      "probe success closes",
			threshold: 2,
			steps:     []step{fail, fail, wait(6 * time.Second), ok},
			want:      StateClosed,
			wantTrans: []string{"closed>open", "open>half-open", "half-open>closed"},
		},
		{
			name:      "probe failure reopens",
			threshold: 2,
			steps:     []step{fail, fail, wait(6 * time.Second), fail},
			want:      StateOpen,
			wantTrans: []string{"closed>open", "open>half-open", "half-open>open"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			var trans []string
			b := NewBreaker(BreakerOpts{
				FailThreshold: tt.threshold,
				Timeout:       5 * time.Second,
				HalfOpenMax:   1,
				OnStateChange: func(from, to State) { trans = append(trans, from.String()+">"+to.String()) },
			})
			b.now = func() time.Time { return now }

			ctx := context.Background()
			for _, s := range tt.steps {
				switch {
				case s.fail:
					_ = b.Call(ctx, func(context.Context) error { return errUpstream })
				case s.ok:
					_ = b.Call(ctx, func(context.Context) error { return nil })
				default:
					now = now.Add(s.advance)
				}
			}

			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
			if diff := cmp.Diff(tt.wantTrans, trans); diff != "" {
				t.Errorf("transitions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()
	_ = b.Call(ctx, func(context.Context) error { return errUpstream })

	called := false
	err := b.Call(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("open breaker ran the call")
	}
}

func TestBreakerHalfOpenProbeLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second, HalfOpenMax: 1})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Call(ctx, func(context.Context) error { return errUpstream })
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	entered := make(chan struct{})
	go func() {
		done <- b.Call(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := b.Call(ctx, func(context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerStage(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Second})
	ctx := context.Background()

	calls := 0
	stage := BreakerStage(b, func(_ context.Context, in string) fn.Result[int] {
		calls++
		return fn.Err[int](errUpstream)
	})

	for _, in := range []string{"a", "b"} {
		if _, err := stage(ctx, in).Unwrap(); !errors.Is(err, errUpstream) {
			t.Fatalf("stage(%q) err = %v", in, err)
		}
	}
	if _, err := stage(ctx, "c").Unwrap(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Fatalf("inner stage ran %d times, want 2", calls)
	}
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("cancelled call tripped the breaker: %v", b.State())
	}
}

func TestStateString(t *testing.T) {
	got := []string{StateClosed.String(), StateOpen.String(), StateHalfOpen.String(), State(9).String()}
	if diff := cmp.Diff([]string{"closed", "open", "half-open", "unknown"}, got); diff != "" {
		t.Error(diff)
	}
}
