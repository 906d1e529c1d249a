// Package workerpool runs many alignment requests concurrently over a
// bounded set of single-threaded workers, each owning its own DP
// matrix, mask annotation buffer, profile cache and RNG so no request
// ever contends with another for working storage.
package workerpool

import (
	"context"
	"math/rand"
	"sync"

	"github.com/kk-code-lab/stripedsw/internal/backtrace"
	"github.com/kk-code-lab/stripedsw/internal/bioseq"
	"github.com/kk-code-lab/stripedsw/internal/dpkernel"
	"github.com/kk-code-lab/stripedsw/internal/mask"
	"github.com/kk-code-lab/stripedsw/internal/metrics"
	"github.com/kk-code-lab/stripedsw/internal/profile"
	"github.com/kk-code-lab/stripedsw/internal/scoring"
)

// Request is one read/reference-window pair to align.
type Request struct {
	Read      bioseq.Read
	Ref       bioseq.RefWindow
	LaneWidth profile.LaneWidth
	Local     bool

	// MaxWalks bounds how many backtrace attempts a worker makes before
	// giving up on finding one more co-optimal path than the last;
	// 0 means "just the single best path".
	MaxWalks int
}

// Alignment is the outcome of aligning one Request.
type Alignment struct {
	Score     int
	Path      backtrace.Path
	Found     bool
	Saturated bool

	// Filtered reports that the read was rejected by model.NFilter
	// before ever reaching the DP kernel; Score/Path/Saturated are
	// zero-valued in this case.
	Filtered bool

	// Alternates holds any additional co-optimal paths found beyond
	// the first, up to Request.MaxWalks.
	Alternates []backtrace.Path
}

// Tracer receives a diagnostic record for every request that reaches
// the DP kernel, in completion order rather than submission order;
// N-filtered reads are not traced. A nil Tracer is a silent no-op.
type Tracer interface {
	TraceFill(req Request, res dpkernel.Result, mc metrics.Counters)
}

// worker owns the per-goroutine working set: a DP matrix, its mask
// annotations, a profile cache (memoising repeated realignment of the
// same read against different windows), a private RNG for backtrace
// sampling, and a scratch Counters block folded into the pool's shared
// Merger after every request.
type worker struct {
	id       int
	mat      *dpkernel.Matrix
	cache    *profile.Cache
	rng      *rand.Rand
	counters metrics.Counters
}

func newWorker(id int, seed int64) *worker {
	return &worker{
		id:    id,
		mat:   dpkernel.New(),
		cache: profile.NewCache(),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (w *worker) align(req Request, model *scoring.Model, tracer Tracer) Alignment {
	if !model.NFilter(req.Read) {
		return Alignment{Filtered: true}
	}

	var reqCounters metrics.Counters
	prof := w.cache.GetOrBuild(req.Read, model, req.LaneWidth)
	w.mat.Resize(req.LaneWidth, req.Read.Len(), req.Ref.Len())

	res := dpkernel.Fill(w.mat, prof, req.Ref, model, dpkernel.Options{Local: req.Local}, &reqCounters)

	minScore := model.MinScore(req.Read.Len())
	if res.BestScore < minScore {
		reqCounters.DPFail++
	} else {
		reqCounters.DPSucc++
	}

	align := Alignment{Saturated: res.Saturated}
	if res.BestScore >= minScore {
		masks := mask.New(w.mat.NRow, w.mat.NCol)
		reqCounters.BT++
		path, ok := backtrace.Walk(w.mat, masks, model, prof, req.Ref, prof.Bias, res.BestCell, w.rng)
		if ok {
			reqCounters.BTSucc++
			reqCounters.BTCell += uint64(len(path.Steps))

			alt := make([]backtrace.Path, 0, req.MaxWalks)
			for i := 0; i < req.MaxWalks; i++ {
				reqCounters.BT++
				p, ok := backtrace.Walk(w.mat, masks, model, prof, req.Ref, prof.Bias, res.BestCell, w.rng)
				if !ok {
					reqCounters.BTFail++
					break
				}
				reqCounters.BTSucc++
				reqCounters.BTCell += uint64(len(p.Steps))
				alt = append(alt, p)
			}

			align = Alignment{
				Score:      res.BestScore,
				Path:       path,
				Found:      true,
				Saturated:  res.Saturated,
				Alternates: alt,
			}
		} else {
			reqCounters.BTFail++
			align = Alignment{Score: res.BestScore, Saturated: res.Saturated}
		}
	}

	w.counters.Add(reqCounters)
	if tracer != nil {
		tracer.TraceFill(req, res, reqCounters)
	}
	return align
}

// job pairs a request with the slot its result belongs in, so results
// can be written back in submission order even though workers finish
// out of order.
type job struct {
	index int
	req   Request
}

// Pool is a bounded set of workers sharing one job queue and one
// metrics Merger. Modeled on the teacher's goroutine-plus-
// context.Context async search dispatch: each call to AlignAll starts
// its own cancellable run, and a canceled context stops workers from
// picking up further queued jobs without needing to kill anything
// mid-flight.
type Pool struct {
	model   *scoring.Model
	workers []*worker
	merger  *metrics.Merger
	tracer  Tracer
}

// New builds a pool of n single-threaded workers scored against model.
// merger receives every worker's counters after each AlignAll call.
func New(n int, model *scoring.Model, merger *metrics.Merger) *Pool {
	if n <= 0 {
		panic("workerpool: n must be > 0")
	}
	p := &Pool{model: model, merger: merger}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, newWorker(i, int64(i)+1))
	}
	return p
}

// SetTracer installs a Tracer that observes every completed fill; pass
// nil to disable tracing.
func (p *Pool) SetTracer(t Tracer) {
	p.tracer = t
}

// AlignAll runs every request across the pool's workers and returns
// results in the same order the requests were given, regardless of
// completion order. If ctx is canceled, workers stop taking queued
// jobs, and the results of requests that were never started are left
// zero-valued.
func (p *Pool) AlignAll(ctx context.Context, reqs []Request) []Alignment {
	results := make([]Alignment, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	jobs := make(chan job, len(reqs))
	for i, r := range reqs {
		jobs <- job{index: i, req: r}
	}
	close(jobs)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, w := range p.workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				res := w.align(j.req, p.model, p.tracer)
				mu.Lock()
				results[j.index] = res
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if p.merger != nil {
		for _, w := range p.workers {
			p.merger.Merge(w.counters)
			w.counters.Reset()
		}
	}
	return results
}

// NumWorkers reports how many workers the pool was built with.
func (p *Pool) NumWorkers() int {
	return len(p.workers)
}
