package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/diagtrace/pkg/fn"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	tests := []struct {
		name    string
		opts    LimiterOpts
		advance time.Duration
		want    int // calls admitted after draining and advancing
	}{
		{"no refill", LimiterOpts{Rate: 10, Burst: 3}, 0, 0},
		{"half second at 10/s", LimiterOpts{Rate: 10, Burst: 5}, 500 * time.Millisecond, 5},
		{"refill capped at burst", LimiterOpts{Rate: 10, Burst: 2}, 10 * time.Second, 2},
		{"zero burst means one", LimiterOpts{Rate: 1}, time.Second, 1},
		{"zero rate never refills", LimiterOpts{Burst: 2}, time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			l := NewLimiter(tt.opts)
			l.now = func() time.Time { return now }

			burst := max(tt.opts.Burst, 1)
			for i := 0; i < burst; i++ {
				if !l.Allow() {
					t.Fatalf("burst call %d rejected", i)
				}
			}
			if l.Allow() {
				t.Fatal("admitted beyond burst")
			}

			now = now.Add(tt.advance)
			got := 0
			for l.Allow() {
				got++
				if got > burst {
					break
				}
			}
			if got != tt.want {
				t.Fatalf("admitted %d after %v, want %d", got, tt.advance, tt.want)
			}
		})
	}
}

func TestLimiterCall(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Call(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	called := false
	err := l.Call(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrRateLimited) || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}

func TestLimiterWait(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		timeout time.Duration
		cancel  bool
		want    error
	}{
		{"token arrives in time", 1000, 100 * time.Millisecond, false, nil},
		{"token after deadline", 0.001, 10 * time.Millisecond, false, ErrRateLimited},
		{"cancelled", 1, time.Second, true, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(LimiterOpts{Rate: tt.rate, Burst: 1})
			l.Allow()

			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()
			if tt.cancel {
				cancel()
			}

			err := l.CallWait(ctx, func(context.Context) error { return nil })
			if tt.want == nil && err != nil || tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLimiterStages(t *testing.T) {
	ctx := context.Background()
	length := func(_ context.Context, in string) fn.Result[int] { return fn.Ok(len(in)) }

	waiting := LimiterStageWait(NewLimiter(LimiterOpts{Rate: 1000, Burst: 1}), length)
	for i := 0; i < 3; i++ {
		if v, err := waiting(ctx, "7E0").Unwrap(); err != nil || v != 3 {
			t.Fatalf("wait stage call %d: %v, %v", i, v, err)
		}
	}

	strict := LimiterStage(NewLimiter(LimiterOpts{Rate: 1, Burst: 1}), length)
	if v, err := strict(ctx, "7E0").Unwrap(); err != nil || v != 3 {
		t.Fatalf("first call: %v, %v", v, err)
	}
	if _, err := strict(ctx, "7E0").Unwrap(); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second call err = %v, want ErrRateLimited", err)
	}
}
