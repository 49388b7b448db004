// Package batch runs per-case work on a bounded pool of goroutines and
// derives the per-case random sources.
package batch

import (
	"context"
	"encoding/binary"
	"runtime"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one case
type Outcome[T any] struct {
	Case     string
	Value    T
	Err      error
	Duration time.Duration
}

// Run calls fn for every case with at most workers cases in flight
// (workers <= 0 uses every CPU). Outcomes are returned in input order. A
// failing case never stops the others; once ctx is cancelled the remaining
// cases are not started and report the context error.
func Run[T any](ctx context.Context, cases []string, workers int, fn func(ctx context.Context, name string) (T, error)) []Outcome[T] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	outcomes := make([]Outcome[T], len(cases))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range cases {
		outcomes[i].Case = name
		if err := gCtx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			start := time.Now()
			v, err := fn(gCtx, name)
			outcomes[i].Value = v
			outcomes[i].Err = err
			outcomes[i].Duration = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// Failed returns the outcomes that carry an error
func Failed[T any](outcomes []Outcome[T]) []Outcome[T] {
	var out []Outcome[T]
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// CaseSeed mixes the run seed with the case name, so that every case gets
// its own reproducible stream independent of scheduling order.
func CaseSeed(seed uint64, caseName string) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(caseName)
	return d.Sum64()
}

// NewRand returns the random source of one case
func NewRand(seed uint64, caseName string) *rand.Rand {
	return rand.New(rand.NewSource(CaseSeed(seed, caseName)))
}
