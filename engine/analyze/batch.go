package analyze

import (
	"context"
	"runtime"

	"github.com/WessleyAI/diagtrace/engine/domain"
	"golang.org/x/sync/errgroup"
)

// Session is one named log to analyze in a batch.
type Session struct {
	Name  string
	Lines []domain.RawLine
}

// Result pairs a batch session with its outcome.
type Result struct {
	Name   string
	Report *domain.RootCauseReport
	Err    error
}

// Batch analyzes independent sessions concurrently with at most workers in
// flight. Results keep input order. A failed session does not stop the
// others; a cancelled context marks the remaining sessions with ctx.Err().
func (a *Analyzer) Batch(ctx context.Context, sessions []Session, workers int) []Result {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]Result, len(sessions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range sessions {
		out[i].Name = s.Name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Report, out[i].Err = a.Analyze(gctx, s.Lines)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
