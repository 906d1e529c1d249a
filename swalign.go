// Package stripedsw exposes the striped Smith-Waterman alignment core
// as a single public façade: build an Aligner from a scoring model,
// then align reads against reference windows across a bounded pool of
// workers, with optional zstd trace logging and DOT predecessor-mask
// dumps for offline debugging.
package stripedsw

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kk-code-lab/stripedsw/internal/bioseq"
	"github.com/kk-code-lab/stripedsw/internal/dpkernel"
	"github.com/kk-code-lab/stripedsw/internal/dotdump"
	"github.com/kk-code-lab/stripedsw/internal/mask"
	"github.com/kk-code-lab/stripedsw/internal/metrics"
	"github.com/kk-code-lab/stripedsw/internal/profile"
	"github.com/kk-code-lab/stripedsw/internal/scoring"
	"github.com/kk-code-lab/stripedsw/internal/tracedump"
	"github.com/kk-code-lab/stripedsw/internal/workerpool"
)

// Request is one alignment to perform: a read against a reference
// window, under the Aligner's scoring model.
type Request struct {
	Read      bioseq.Read
	Ref       bioseq.RefWindow
	LaneWidth profile.LaneWidth
	Local     bool
	MaxWalks  int
}

// Alignment is the result of one Request.
type Alignment = workerpool.Alignment

// Aligner wires a scoring model to a worker pool, a shared metrics
// merger, and the optional diagnostic sinks (trace log, DOT dump
// directory) configured by its options.
type Aligner struct {
	model  *scoring.Model
	pool   *workerpool.Pool
	merger *metrics.Merger

	traceWriter *tracedump.Writer
	traceCloser io.Closer

	dotDumpDir string
}

// Option configures an Aligner at construction time.
type Option func(*Aligner)

// WithWorkers sets the number of concurrent workers; the default is 1.
func WithWorkers(n int) Option {
	return func(a *Aligner) {
		a.pool = workerpool.New(n, a.model, a.merger)
	}
}

// WithTrace routes every completed fill through a zstd-compressed
// trace log written to w. Close on the Aligner flushes the zstd stream
// and, when w also implements io.Closer, closes w as well; a w that
// does not implement io.Closer stays the caller's to manage.
func WithTrace(w io.Writer) Option {
	return func(a *Aligner) {
		tw, err := tracedump.New(w)
		if err != nil {
			panic(fmt.Sprintf("stripedsw: opening trace writer: %v", err))
		}
		a.traceWriter = tw
		if c, ok := w.(io.Closer); ok {
			a.traceCloser = c
		}
	}
}

// WithDotDumpDir enables per-request DOT dumps of the terminal cell's
// predecessor candidates, written under dir.
func WithDotDumpDir(dir string) Option {
	return func(a *Aligner) {
		a.dotDumpDir = dir
	}
}

// New builds an Aligner for model, applying opts in order; a trace
// writer configured by WithTrace is attached to whichever pool
// WithWorkers left in place once every option has run.
func New(model *scoring.Model, opts ...Option) *Aligner {
	model.Validate()
	var mu sync.Mutex
	a := &Aligner{
		model:  model,
		merger: metrics.NewMerger(&mu),
	}
	a.pool = workerpool.New(1, model, a.merger)
	for _, opt := range opts {
		opt(a)
	}
	if a.traceWriter != nil {
		a.pool.SetTracer(a.traceWriter)
	}
	return a
}

// Close flushes any diagnostic sinks the Aligner owns.
func (a *Aligner) Close() error {
	if a.traceWriter == nil {
		return nil
	}
	if err := a.traceWriter.Close(); err != nil {
		return fmt.Errorf("stripedsw: closing trace writer: %w", err)
	}
	if a.traceCloser != nil {
		return a.traceCloser.Close()
	}
	return nil
}

// Counters returns the totals merged in from every worker so far.
func (a *Aligner) Counters() metrics.Counters {
	return a.merger.Snapshot()
}

// FilterPair applies the N-content filter to a pair of mates jointly,
// so a caller aligning paired-end reads can decide which of the two
// mates (if either) are worth submitting to AlignAll before spending a
// DP fill on them. Each request submitted individually is still
// filtered again on its own by the worker pool via the single-read
// form of the filter.
func (a *Aligner) FilterPair(r1, r2 bioseq.Read) (pass1, pass2 bool) {
	return a.model.NFilterPair(r1, r2)
}

func toPoolRequests(reqs []Request) []workerpool.Request {
	out := make([]workerpool.Request, len(reqs))
	for i, r := range reqs {
		lw := r.LaneWidth
		if lw == 0 {
			lw = profile.Lane8
		}
		out[i] = workerpool.Request{
			Read:      r.Read,
			Ref:       r.Ref,
			LaneWidth: lw,
			Local:     r.Local,
			MaxWalks:  r.MaxWalks,
		}
	}
	return out
}

// AlignAll runs every request across the pool and returns results in
// request order.
func (a *Aligner) AlignAll(ctx context.Context, reqs []Request) []Alignment {
	results := a.pool.AlignAll(ctx, toPoolRequests(reqs))
	if a.dotDumpDir != "" {
		a.dumpAll(reqs, results)
	}
	return results
}

// dumpAll renders one DOT graph per successful alignment's terminal
// cell, best-effort: a dump failure is not fatal to the alignment run
// it is only documenting.
func (a *Aligner) dumpAll(reqs []Request, results []Alignment) {
	if err := os.MkdirAll(a.dotDumpDir, 0o755); err != nil {
		return
	}
	for i, res := range results {
		if !res.Found || len(res.Path.Steps) == 0 {
			continue
		}
		lw := reqs[i].LaneWidth
		if lw == 0 {
			lw = profile.Lane8
		}
		prof := profile.Build(reqs[i].Read, a.model, lw)
		mat := dpkernel.New()
		mat.Resize(lw, reqs[i].Read.Len(), reqs[i].Ref.Len())
		dpkernel.Fill(mat, prof, reqs[i].Ref, a.model, dpkernel.Options{Local: reqs[i].Local}, &metrics.Counters{})
		masks := mask.New(mat.NRow, mat.NCol)
		terminal := res.Path.Steps[0]
		path := filepath.Join(a.dotDumpDir, fmt.Sprintf("cell_%d.dot", i))
		_ = dotdump.WriteCellGraph(path, mat, masks, a.model, prof, reqs[i].Ref, prof.Bias, terminal.Cell.Row, terminal.Cell.Col, terminal.Cell.Mat)
	}
}
