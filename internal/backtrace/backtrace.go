// Package backtrace walks the striped H/E/F matrices back from a
// terminal cell to a full alignment path, sampling uniformly among
// co-optimal predecessors so repeated walks from the same terminal
// cell explore different optimal paths until the set is exhausted.
package backtrace

import (
	"math/rand"

	"github.com/kk-code-lab/stripedsw/internal/bioseq"
	"github.com/kk-code-lab/stripedsw/internal/dpkernel"
	"github.com/kk-code-lab/stripedsw/internal/mask"
	"github.com/kk-code-lab/stripedsw/internal/profile"
	"github.com/kk-code-lab/stripedsw/internal/scoring"
)

// Transition names one step of a walked path.
type Transition int

const (
	TransDiag Transition = iota // consume one read base and one ref base
	TransReadGapOpen             // open a gap in the read (consume one ref base)
	TransReadGapExtend
	TransRefGapOpen // open a gap in the reference (consume one read base)
	TransRefGapExtend
)

func (t Transition) String() string {
	switch t {
	case TransDiag:
		return "diag"
	case TransReadGapOpen:
		return "read_gap_open"
	case TransReadGapExtend:
		return "read_gap_extend"
	case TransRefGapOpen:
		return "ref_gap_open"
	case TransRefGapExtend:
		return "ref_gap_extend"
	default:
		return "?"
	}
}

// Step is one cell visited along a walked path, and the transition
// that was taken to arrive there from the next cell toward the start
// (paths are constructed terminal-to-origin and kept in that order).
type Step struct {
	Cell       dpkernel.CellRef
	Transition Transition
}

// Path is a complete walked alignment, from the terminal cell (first
// element) back to the cell next to the origin (last element); the
// origin cell itself is not a step.
type Path struct {
	Steps []Step
	Score int
}

// bit positions within each mask field, matching the order in which
// AnalyzeCell populates the H/E/F masks on a cell's first visit. H carries all five
// of the Gotoh recurrence's direct predecessors. A gap can reach H
// either by opening (a single-row/column gap that closes immediately,
// landing straight back on H) or by extending a run already in
// progress (landing on E or F to keep walking through it), and each is
// tested independently against H's own score rather than folded
// through an intermediate E/F equality.
const (
	hBitDiag       = 0
	hBitRefOpen    = 1 // H(row-1,col) - RefGapOpen: a ref gap of exactly one row
	hBitReadOpen   = 2 // H(row,col-1) - ReadGapOpen: a read gap of exactly one column
	hBitRefExtend  = 3 // F(row-1,col) - RefGapExtend: continues a ref gap in progress
	hBitReadExtend = 4 // E(row,col-1) - ReadGapExtend: continues a read gap in progress

	eBitHOpen  = 0
	eBitExtend = 1

	fBitHOpen  = 0
	fBitExtend = 1
)

// aboveFloor reports whether a raw (bias-shifted) lane value represents
// a true score above floor, the per-row floor below which a cell is
// unreachable: a predecessor whose true score does not clear it cannot
// be a genuine backtrace source, only a clamped/boundary value that
// happens to collide with sc_cur. Raw values are bias-shifted
// uniformly, so "true score > floor" is "raw value - bias > floor".
func aboveFloor(raw, bias, floor int) bool {
	return raw-bias > floor
}

// Candidate is one possible predecessor of the cell currently being
// analyzed, paired with the transition that reaches it. Exported so
// diagnostic consumers (dotdump) can render the same candidate edges
// Walk samples from.
type Candidate struct {
	Cell       dpkernel.CellRef
	Transition Transition
}

// IsOrigin reports whether a cell needs no predecessor: row -1 is the
// virtual boundary a diagonal step lands on when it leaves the very
// first read base, column 0 is the boundary column a diagonal step
// lands on when it leaves the very first reference base (it has no
// earlier column to diagonal back into), and an H cell at or below
// model.FloorScore(row) is unreachable
// and therefore where a local alignment starts fresh (the
// floor-generalised form of the classic Smith-Waterman traceback
// stopping rule, which floors at exactly 0).
func IsOrigin(mat *dpkernel.Matrix, model *scoring.Model, bias, row, col int, mt dpkernel.MatrixType) bool {
	if row < 0 || col < 0 {
		return true
	}
	if col == 0 {
		return true
	}
	if mt == dpkernel.MatH && mat.Score(row, col, dpkernel.MatH, bias) <= model.FloorScore(row) {
		return true
	}
	return false
}

// AnalyzeCell inspects one non-origin cell and returns its
// still-unreported predecessor candidates, initialising the cell's
// mask field on first visit. Its very first action, before anything
// else, is to check masks.ReportedThrough: a cell already part of a
// previously committed alignment must never be re-entered by another
// walk, so it is reported back as a dead end (no candidates, and the
// false second result meaning "not never-had-candidates", i.e. a
// genuine claimed cell rather than a legitimate origin) regardless of
// what its predecessor mask would otherwise say.
//
// Otherwise the bool result reports whether the cell never had a valid
// predecessor in the first place (recomputed fresh on every call, not
// just the first): a cell whose score can only be explained by a
// floor-excluded boundary predecessor is indistinguishable, for
// backtrace purposes, from a genuine local-alignment start, and Walk
// is allowed to terminate there. An empty candidate list with this
// false instead means every candidate this cell ever had has already
// been claimed by an earlier walk: a true dead end. prof/ref supply
// the exact diagonal contribution the forward fill used, so the diag
// candidate test is bias-consistent with H/E/F rather than re-deriving
// the match/mismatch score independently.
func AnalyzeCell(mat *dpkernel.Matrix, masks *mask.Masks, model *scoring.Model, prof *profile.Profile, ref bioseq.RefWindow, bias, row, col int, mt dpkernel.MatrixType) ([]Candidate, bool) {
	if masks.ReportedThrough(row, col) {
		return nil, false
	}

	gapsOK := gapAllowedAt(row, mat.NRow, model.GapBarrier)
	floor := model.FloorScore(row)

	switch mt {
	case dpkernel.MatH:
		return analyzeH(mat, masks, model, prof, ref, bias, floor, row, col, gapsOK)
	case dpkernel.MatE:
		return analyzeE(mat, masks, model, bias, floor, row, col)
	case dpkernel.MatF:
		return analyzeF(mat, masks, model, bias, floor, row, col)
	default:
		panic("backtrace: unknown matrix type")
	}
}

func gapAllowedAt(row, nrow, barrier int) bool {
	if barrier <= 0 {
		return true
	}
	return row >= barrier && row < nrow-barrier
}

// analyzeH decides, for one H cell, which of its five possible direct
// predecessors actually achieved the max stored in H: the diagonal
// match/mismatch, a ref gap or read gap opening fresh right here (both
// land straight back on H, one row or one column back), or a ref gap
// or read gap that is a continuation of a run already in progress
// (landing on F or E respectively, where analyzeF/analyzeE take over
// the open-vs-extend decision one step further back). Each of the five
// is tested independently against H's own score, so a cell with
// several genuinely co-optimal sources offers all of them to one flat,
// uniformly sampled draw rather than resolving ties in stages. The
// diag test recomputes the exact match/mismatch contribution from the
// query profile rather than inferring it from H!=E&&H!=F, so a diag
// predecessor that happens to tie E's or F's value numerically is
// still offered rather than silently dropped.
func analyzeH(mat *dpkernel.Matrix, masks *mask.Masks, model *scoring.Model, prof *profile.Profile, ref bioseq.RefWindow, bias, floor, row, col int, gapsOK bool) ([]Candidate, bool) {
	h := mat.H(row, col, bias)

	var origBits uint8
	hUpLeft := mat.H(row-1, col-1, bias)
	// A diagonal step out of read row 0 or reference column 1 lands on
	// the row -1 / column 0 boundary, which IsOrigin treats as an
	// origin, so it is offered even though the boundary's zero score
	// does not clear the floor.
	if row == 0 || col == 1 || aboveFloor(hUpLeft, bias, floor) {
		refBase := ref.Bases[col-1]
		v, lane := row%mat.NVecRow, row/mat.NVecRow
		diagRaw := int(prof.VectorAt(refBase, v)[lane])
		diagScore := diagRaw - prof.Bias
		if h == hUpLeft+diagScore {
			origBits |= 1 << hBitDiag
		}
	}
	if gapsOK {
		hUp := mat.H(row-1, col, bias)
		hLeft := mat.H(row, col-1, bias)
		fUp := mat.F(row-1, col, bias)
		eLeft := mat.E(row, col-1, bias)

		if aboveFloor(hUp, bias, floor) && h == hUp-model.RefGapOpen {
			origBits |= 1 << hBitRefOpen
		}
		if aboveFloor(hLeft, bias, floor) && h == hLeft-model.ReadGapOpen {
			origBits |= 1 << hBitReadOpen
		}
		if aboveFloor(fUp, bias, floor) && h == fUp-model.RefGapExtend {
			origBits |= 1 << hBitRefExtend
		}
		if aboveFloor(eLeft, bias, floor) && h == eLeft-model.ReadGapExtend {
			origBits |= 1 << hBitReadExtend
		}
	}
	if !masks.IsHMaskSet(row, col) {
		masks.HMaskSet(row, col, origBits)
	}

	remaining := masks.HMask(row, col)
	var cands []Candidate
	if remaining&(1<<hBitDiag) != 0 {
		cands = append(cands, Candidate{dpkernel.CellRef{Row: row - 1, Col: col - 1, Mat: dpkernel.MatH}, TransDiag})
	}
	if remaining&(1<<hBitRefOpen) != 0 {
		cands = append(cands, Candidate{dpkernel.CellRef{Row: row - 1, Col: col, Mat: dpkernel.MatH}, TransRefGapOpen})
	}
	if remaining&(1<<hBitReadOpen) != 0 {
		cands = append(cands, Candidate{dpkernel.CellRef{Row: row, Col: col - 1, Mat: dpkernel.MatH}, TransReadGapOpen})
	}
	if remaining&(1<<hBitRefExtend) != 0 {
		cands = append(cands, Candidate{dpkernel.CellRef{Row: row - 1, Col: col, Mat: dpkernel.MatF}, TransRefGapExtend})
	}
	if remaining&(1<<hBitReadExtend) != 0 {
		cands = append(cands, Candidate{dpkernel.CellRef{Row: row, Col: col - 1, Mat: dpkernel.MatE}, TransReadGapExtend})
	}
	return cands, origBits == 0
}

func analyzeE(mat *dpkernel.Matrix, masks *mask.Masks, model *scoring.Model, bias, floor, row, col int) ([]Candidate, bool) {
	e := mat.E(row, col, bias)
	hPrev := mat.H(row, col-1, bias)
	ePrev := mat.E(row, col-1, bias)
	var origBits uint8
	if aboveFloor(hPrev, bias, floor) && e == hPrev-model.ReadGapOpen {
		origBits |= 1 << eBitHOpen
	}
	if aboveFloor(ePrev, bias, floor) && e == ePrev-model.ReadGapExtend {
		origBits |= 1 << eBitExtend
	}
	if !masks.IsEMaskSet(row, col) {
		masks.EMaskSet(row, col, origBits)
	}
	remaining := masks.EMask(row, col)
	var cands []Candidate
	if remaining&(1<<eBitHOpen) != 0 {
		cands = append(cands, Candidate{dpkernel.CellRef{Row: row, Col: col - 1, Mat: dpkernel.MatH}, TransReadGapOpen})
	}
	if remaining&(1<<eBitExtend) != 0 {
		cands = append(cands, Candidate{dpkernel.CellRef{Row: row, Col: col - 1, Mat: dpkernel.MatE}, TransReadGapExtend})
	}
	return cands, origBits == 0
}

// analyzeF decides, for one F cell, whether it opened fresh from H at
// the row above (F depends on H(row-1,col) and F(row-1,col) in the
// classic Gotoh recurrence) or extended a run already in progress.
// mat.H/F already fold in the row=-1 boundary as a zero score, so
// there is no separate row==0 special case to carry here.
func analyzeF(mat *dpkernel.Matrix, masks *mask.Masks, model *scoring.Model, bias, floor, row, col int) ([]Candidate, bool) {
	f := mat.F(row, col, bias)
	hPrev := mat.H(row-1, col, bias)
	fPrev := mat.F(row-1, col, bias)
	var origBits uint8
	if aboveFloor(hPrev, bias, floor) && f == hPrev-model.RefGapOpen {
		origBits |= 1 << fBitHOpen
	}
	if aboveFloor(fPrev, bias, floor) && f == fPrev-model.RefGapExtend {
		origBits |= 1 << fBitExtend
	}
	if !masks.IsFMaskSet(row, col) {
		masks.FMaskSet(row, col, origBits)
	}
	remaining := masks.FMask(row, col)
	var cands []Candidate
	if remaining&(1<<fBitHOpen) != 0 {
		cands = append(cands, Candidate{dpkernel.CellRef{Row: row - 1, Col: col, Mat: dpkernel.MatH}, TransRefGapOpen})
	}
	if remaining&(1<<fBitExtend) != 0 {
		cands = append(cands, Candidate{dpkernel.CellRef{Row: row - 1, Col: col, Mat: dpkernel.MatF}, TransRefGapExtend})
	}
	return cands, origBits == 0
}

// clearCandidateBit removes one candidate's bit from the appropriate
// mask field, so a repeated backtrace from the same terminal cell
// samples a different co-optimal path.
func clearCandidateBit(masks *mask.Masks, row, col int, mt dpkernel.MatrixType, tran Transition) {
	switch mt {
	case dpkernel.MatH:
		bits := masks.HMask(row, col)
		switch tran {
		case TransDiag:
			bits &^= 1 << hBitDiag
		case TransRefGapOpen:
			bits &^= 1 << hBitRefOpen
		case TransReadGapOpen:
			bits &^= 1 << hBitReadOpen
		case TransRefGapExtend:
			bits &^= 1 << hBitRefExtend
		case TransReadGapExtend:
			bits &^= 1 << hBitReadExtend
		}
		masks.HMaskSet(row, col, bits)
	case dpkernel.MatE:
		bits := masks.EMask(row, col)
		switch tran {
		case TransReadGapOpen:
			bits &^= 1 << eBitHOpen
		case TransReadGapExtend:
			bits &^= 1 << eBitExtend
		}
		masks.EMaskSet(row, col, bits)
	case dpkernel.MatF:
		bits := masks.FMask(row, col)
		switch tran {
		case TransRefGapOpen:
			bits &^= 1 << fBitHOpen
		case TransRefGapExtend:
			bits &^= 1 << fBitExtend
		}
		masks.FMaskSet(row, col, bits)
	}
}

// Walk performs one randomized backtrace from a terminal cell. Bits
// are only tentatively chosen while probing forward; nothing is
// committed to the shared masks until the walk actually reaches an
// origin, so a dead end midway through (a cell whose candidates were
// all already consumed by some earlier, unrelated walk) costs nothing
// beyond the failed attempt itself, and the candidates it tentatively
// looked at remain available for the next try. ok=false means every
// path this walk explored dead-ended; the caller should retry, and
// once retries stop finding a path, every co-optimal alignment
// through this terminal cell has been sampled. rng drives the uniform
// choice among tied predecessors at each step; callers share one
// *rand.Rand per worker.
func Walk(mat *dpkernel.Matrix, masks *mask.Masks, model *scoring.Model, prof *profile.Profile, ref bioseq.RefWindow, bias int, start dpkernel.CellRef, rng *rand.Rand) (Path, bool) {
	var visited []dpkernel.CellRef
	var steps []Step
	cur := start
	score := mat.Score(start.Row, start.Col, start.Mat, bias)

	finish := func() (Path, bool) {
		// cur itself may be the virtual row -1 / col -1 boundary a
		// final diagonal or gap-open step lands on; there is no real
		// mask cell to mark for it.
		if cur.Row >= 0 && cur.Col >= 0 {
			visited = append(visited, cur)
		}
		for _, s := range steps {
			clearCandidateBit(masks, s.Cell.Row, s.Cell.Col, s.Cell.Mat, s.Transition)
		}
		for _, c := range visited {
			masks.SetReportedThrough(c.Row, c.Col)
		}
		return Path{Steps: steps, Score: score}, true
	}

	for {
		// A cell already part of a previously committed alignment must
		// never be re-entered by another walk, even one that would
		// otherwise treat it as a legitimate origin (spec.md's
		// analyze_cell step 1 runs this check before the row==0/floor
		// origin test, not after it).
		if cur.Row >= 0 && cur.Col >= 0 && masks.ReportedThrough(cur.Row, cur.Col) {
			return Path{}, false
		}
		if IsOrigin(mat, model, bias, cur.Row, cur.Col, cur.Mat) {
			return finish()
		}

		cands, neverHadCandidates := AnalyzeCell(mat, masks, model, prof, ref, bias, cur.Row, cur.Col, cur.Mat)
		if len(cands) == 0 {
			// A cell whose score can only be explained by a
			// floor-excluded boundary predecessor never had a real
			// backtrace source to begin with; it is indistinguishable
			// from a local-alignment start and the walk may end here.
			// Otherwise every candidate this cell ever had has already
			// been claimed by an earlier walk: a genuine dead end.
			if neverHadCandidates {
				return finish()
			}
			return Path{}, false
		}
		visited = append(visited, cur)
		pick := cands[rng.Intn(len(cands))]
		steps = append(steps, Step{Cell: cur, Transition: pick.Transition})
		cur = pick.Cell
	}
}
