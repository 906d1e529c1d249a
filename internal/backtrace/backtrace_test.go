package backtrace

import (
	"math/rand"
	"testing"

	"github.com/kk-code-lab/stripedsw/internal/bioseq"
	"github.com/kk-code-lab/stripedsw/internal/dpkernel"
	"github.com/kk-code-lab/stripedsw/internal/mask"
	"github.com/kk-code-lab/stripedsw/internal/metrics"
	"github.com/kk-code-lab/stripedsw/internal/profile"
	"github.com/kk-code-lab/stripedsw/internal/scoring"
)

func testModel() *scoring.Model {
	return &scoring.Model{
		Match:         2,
		Mismatch:      scoring.Penalty{Kind: scoring.PenaltyConstant, Constant: 4},
		NPenalty:      scoring.Penalty{Kind: scoring.PenaltyConstant, Constant: 4},
		ReadGapOpen:   6,
		ReadGapExtend: 1,
		RefGapOpen:    6,
		RefGapExtend:  1,
	}
}

func bytesOfQual(n int) []byte {
	q := make([]byte, n)
	for i := range q {
		q[i] = 'I'
	}
	return q
}

// fillMatrix runs a real forward fill and returns the matrix, the
// masks it should be traced against, the model, profile and reference
// window used to build it.
func fillMatrix(t *testing.T, readLetters, refLetters string) (*dpkernel.Matrix, *mask.Masks, *scoring.Model, *profile.Profile, bioseq.RefWindow, int, dpkernel.Result) {
	t.Helper()
	model := testModel()
	read, err := bioseq.NewReadFromLetters([]byte(readLetters), bytesOfQual(len(readLetters)))
	if err != nil {
		t.Fatal(err)
	}
	ref := bioseq.NewRefWindowFromLetters([]byte(refLetters))
	prof := profile.Build(read, model, profile.Lane8)

	mat := dpkernel.New()
	mat.Resize(profile.Lane8, read.Len(), ref.Len())
	var mc metrics.Counters
	res := dpkernel.Fill(mat, prof, ref, model, dpkernel.Options{Local: true}, &mc)

	masks := mask.New(mat.NRow, mat.NCol)
	return mat, masks, model, prof, ref, prof.Bias, res
}

func TestIsOriginAtColumnZero(t *testing.T) {
	mat, _, model, _, _, bias, _ := fillMatrix(t, "ACGT", "ACGT")
	if !IsOrigin(mat, model, bias, 2, 0, dpkernel.MatH) {
		t.Fatal("column 0 should always be an origin")
	}
}

func TestIsOriginAtNegativeCoordinates(t *testing.T) {
	mat, _, model, _, _, bias, _ := fillMatrix(t, "ACGT", "ACGT")
	if !IsOrigin(mat, model, bias, -1, 2, dpkernel.MatH) {
		t.Fatal("row -1 should always be an origin")
	}
	if !IsOrigin(mat, model, bias, 2, -1, dpkernel.MatF) {
		t.Fatal("col -1 should always be an origin")
	}
}

func TestIsOriginAtZeroScoringHCell(t *testing.T) {
	// A read that shares nothing with the reference floors at or below
	// model.FloorScore everywhere, so every H cell past col 0 is its
	// own local-alignment origin.
	mat, _, model, _, _, bias, _ := fillMatrix(t, "AAAA", "TTTT")
	if !IsOrigin(mat, model, bias, 1, 1, dpkernel.MatH) {
		t.Fatal("a floored H cell should be an origin")
	}
}

func TestIsOriginRespectsNonTrivialFloor(t *testing.T) {
	// With a positive floor, a cell scoring above 0 but at or below the
	// floor must still count as an origin rather than a genuine
	// backtrace source.
	mat, _, model, _, _, bias, res := fillMatrix(t, "ACGTACGT", "ACGTACGT")
	model.FloorScoreConst = float64(res.BestScore)
	if !IsOrigin(mat, model, bias, res.BestCell.Row, res.BestCell.Col, dpkernel.MatH) {
		t.Fatal("a cell at exactly the floor should be an origin")
	}
}

func TestAnalyzeHFindsDiagOnExactMatch(t *testing.T) {
	mat, masks, model, prof, ref, bias, _ := fillMatrix(t, "ACGT", "ACGT")
	// Row 3, col 4 is the final cell of a perfect match: its only
	// sensible predecessor is the diagonal.
	cands, _ := AnalyzeCell(mat, masks, model, prof, ref, bias, 3, 4, dpkernel.MatH)
	if len(cands) != 1 || cands[0].Transition != TransDiag {
		t.Fatalf("expected a single diag candidate, got %+v", cands)
	}
	if cands[0].Cell.Row != 2 || cands[0].Cell.Col != 3 {
		t.Fatalf("diag candidate points at (%d,%d), want (2,3)", cands[0].Cell.Row, cands[0].Cell.Col)
	}
}

func TestAnalyzeHRespectsGapBarrier(t *testing.T) {
	model := testModel()
	model.GapBarrier = 10 // forbid gaps everywhere in this short read
	read, _ := bioseq.NewReadFromLetters([]byte("ACGT"), bytesOfQual(4))
	ref := bioseq.NewRefWindowFromLetters([]byte("ACGT"))
	prof := profile.Build(read, model, profile.Lane8)
	mat := dpkernel.New()
	mat.Resize(profile.Lane8, read.Len(), ref.Len())
	var mc metrics.Counters
	dpkernel.Fill(mat, prof, ref, model, dpkernel.Options{Local: true}, &mc)
	masks := mask.New(mat.NRow, mat.NCol)

	cands, _ := AnalyzeCell(mat, masks, model, prof, ref, prof.Bias, 2, 2, dpkernel.MatH)
	for _, c := range cands {
		if c.Transition == TransReadGapOpen || c.Transition == TransRefGapOpen {
			t.Fatalf("gap barrier should forbid gap-opening candidates, got %v", c.Transition)
		}
	}
}

func TestAnalyzeEPredecessorsAreOneColumnBack(t *testing.T) {
	mat, masks, model, prof, ref, bias, _ := fillMatrix(t, "ACGTACGT", "ACGTTACGT")
	cands, _ := AnalyzeCell(mat, masks, model, prof, ref, bias, 3, 5, dpkernel.MatE)
	for _, c := range cands {
		if c.Cell.Col != 4 || c.Cell.Row != 3 {
			t.Fatalf("E predecessor should be (3,4), got (%d,%d)", c.Cell.Row, c.Cell.Col)
		}
		if c.Transition != TransReadGapOpen && c.Transition != TransReadGapExtend {
			t.Fatalf("unexpected transition out of E: %v", c.Transition)
		}
	}
}

func TestAnalyzeFPredecessorsAreOneRowBack(t *testing.T) {
	mat, masks, model, prof, ref, bias, _ := fillMatrix(t, "ACGTTACGT", "ACGTACGT")
	cands, _ := AnalyzeCell(mat, masks, model, prof, ref, bias, 5, 3, dpkernel.MatF)
	for _, c := range cands {
		if c.Cell.Row != 4 || c.Cell.Col != 3 {
			t.Fatalf("F predecessor should be (4,3), got (%d,%d)", c.Cell.Row, c.Cell.Col)
		}
		if c.Transition != TransRefGapOpen && c.Transition != TransRefGapExtend {
			t.Fatalf("unexpected transition out of F: %v", c.Transition)
		}
	}
}

func TestClearCandidateBitRemovesOnlyThatBit(t *testing.T) {
	masks := mask.New(4, 4)
	masks.HMaskSet(1, 1, 1<<hBitDiag|1<<hBitReadOpen)
	clearCandidateBit(masks, 1, 1, dpkernel.MatH, TransDiag)
	remaining := masks.HMask(1, 1)
	if remaining&(1<<hBitDiag) != 0 {
		t.Fatal("diag bit should have been cleared")
	}
	if remaining&(1<<hBitReadOpen) == 0 {
		t.Fatal("read-open bit should still be set")
	}
}

func TestWalkReachesOriginOnExactMatch(t *testing.T) {
	mat, masks, model, prof, ref, bias, res := fillMatrix(t, "ACGTACGT", "ACGTACGT")
	rng := rand.New(rand.NewSource(1))
	path, ok := Walk(mat, masks, model, prof, ref, bias, res.BestCell, rng)
	if !ok {
		t.Fatal("expected a successful walk on an exact match")
	}
	if path.Score != res.BestScore {
		t.Fatalf("path score %d != best score %d", path.Score, res.BestScore)
	}
	for _, s := range path.Steps {
		if s.Transition != TransDiag {
			t.Fatalf("exact match should walk back via diag only, got %v", s.Transition)
		}
	}
	if len(path.Steps) != 8 {
		t.Fatalf("expected 8 steps for an 8-base exact match, got %d", len(path.Steps))
	}
}

func TestAnalyzeCellRefusesAlreadyReportedCell(t *testing.T) {
	mat, masks, model, prof, ref, bias, _ := fillMatrix(t, "ACGT", "ACGT")
	masks.SetReportedThrough(2, 3)
	cands, neverHadCandidates := AnalyzeCell(mat, masks, model, prof, ref, bias, 2, 3, dpkernel.MatH)
	if len(cands) != 0 {
		t.Fatalf("a reported-through cell must offer no candidates, got %+v", cands)
	}
	if neverHadCandidates {
		t.Fatal("a reported-through cell is a claimed cell, not a legitimate origin")
	}
}

func TestWalkRefusesToReenterAReportedCell(t *testing.T) {
	// A successful walk marks every cell on its path as reported
	// through, so starting a fresh walk from the first cell of that
	// path must fail immediately, never falling through to treat it as
	// an origin.
	mat, masks, model, prof, ref, bias, res := fillMatrix(t, "ACGTACGT", "ACGTACGT")
	rng := rand.New(rand.NewSource(7))
	path, ok := Walk(mat, masks, model, prof, ref, bias, res.BestCell, rng)
	if !ok || len(path.Steps) == 0 {
		t.Fatal("expected a successful walk with at least one step")
	}
	reported := path.Steps[0].Cell
	if !masks.ReportedThrough(reported.Row, reported.Col) {
		t.Fatal("expected the walked cell to already be marked reported through")
	}
	if _, ok := Walk(mat, masks, model, prof, ref, bias, reported, rand.New(rand.NewSource(8))); ok {
		t.Fatal("a walk seeded directly at an already-reported cell must fail, not restart an alignment there")
	}
}

func TestWalkMarksReportedThroughOnSuccess(t *testing.T) {
	mat, masks, model, prof, ref, bias, res := fillMatrix(t, "ACGTACGT", "ACGTACGT")
	rng := rand.New(rand.NewSource(2))
	path, ok := Walk(mat, masks, model, prof, ref, bias, res.BestCell, rng)
	if !ok {
		t.Fatal("expected success")
	}
	for _, s := range path.Steps {
		if !masks.ReportedThrough(s.Cell.Row, s.Cell.Col) {
			t.Fatalf("cell (%d,%d) on the walked path should be reported through", s.Cell.Row, s.Cell.Col)
		}
	}
}

func TestWalkFailedAttemptDoesNotConsumeUnrelatedCandidates(t *testing.T) {
	// A read that matches at two disjoint positions in the reference
	// gives two equally-scoring terminal cells with completely
	// disjoint walk-back paths (through different columns), so walking
	// one to exhaustion must never affect the other's candidate pool.
	mat, masks, model, prof, ref, bias, res := fillMatrix(t, "AAAA", "AAAATTTTAAAA")
	rng := rand.New(rand.NewSource(3))

	// Exhaust every co-optimal path from the reported best cell.
	seen := 0
	for {
		_, ok := Walk(mat, masks, model, prof, ref, bias, res.BestCell, rng)
		if !ok {
			break
		}
		seen++
		if seen > 100 {
			t.Fatal("walk did not converge to exhaustion")
		}
	}
	if seen == 0 {
		t.Fatal("expected at least one successful walk before exhaustion")
	}

	// Fill's local harvesting only overwrites BestCell on a STRICT
	// improvement, so a tie leaves it at the first occurrence (columns
	// 1-4); the second occurrence at columns 9-12 should still be
	// fully walkable, its mask bits untouched by the first walk.
	otherTerminal := dpkernel.CellRef{Row: 3, Col: 12, Mat: dpkernel.MatH}
	if mat.Score(otherTerminal.Row, otherTerminal.Col, dpkernel.MatH, bias) != res.BestScore {
		t.Skip("reference layout changed; skipping cross-check")
	}
	_, ok := Walk(mat, masks, model, prof, ref, bias, otherTerminal, rand.New(rand.NewSource(4)))
	if !ok {
		t.Fatal("an independent occurrence's walk should not have been exhausted by the other's")
	}
}

func TestWalkEventuallyExhaustsTiedDiagonalPaths(t *testing.T) {
	// An exact match gives every cell on the best path exactly one
	// diagonal predecessor, so there is a single path: walking once
	// claims it, and the second attempt finds it exhausted.
	mat, masks, model, prof, ref, bias, res := fillMatrix(t, "ACGT", "ACGT")
	rng := rand.New(rand.NewSource(5))
	_, ok := Walk(mat, masks, model, prof, ref, bias, res.BestCell, rng)
	if !ok {
		t.Fatal("first walk should succeed")
	}
	_, ok = Walk(mat, masks, model, prof, ref, bias, res.BestCell, rng)
	if ok {
		t.Fatal("second walk from the same terminal cell along a unique path should be exhausted")
	}
}

// TestAnalyzeHOffersGenuineThreeWayTie builds a homopolymer read one
// base longer than a homopolymer reference and scores it with free
// gaps, which produces a real three-way tie at H(3,1): diag =
// H(2,0)+match = 0+2 = 2, a fresh ref-gap open = H(2,1)-0 = 2, and a
// ref-gap extend = F(2,1)-0 = 2. An analyzeH that pre-selects among
// diag/E/F before choosing open-vs-extend would split this into a
// diag=1/2, open=1/4, extend=1/4 draw instead of a flat 1/3 each; the
// flat five-candidate scheme must offer all three together.
func TestAnalyzeHOffersGenuineThreeWayTie(t *testing.T) {
	model := &scoring.Model{
		Match:    2,
		Mismatch: scoring.Penalty{Kind: scoring.PenaltyConstant, Constant: 4},
		NPenalty: scoring.Penalty{Kind: scoring.PenaltyConstant, Constant: 4},
	}
	read, _ := bioseq.NewReadFromLetters([]byte("AAAA"), bytesOfQual(4))
	ref := bioseq.NewRefWindowFromLetters([]byte("AAA"))
	prof := profile.Build(read, model, profile.Lane8)
	mat := dpkernel.New()
	mat.Resize(profile.Lane8, read.Len(), ref.Len())
	var mc metrics.Counters
	dpkernel.Fill(mat, prof, ref, model, dpkernel.Options{Local: true}, &mc)

	tied := dpkernel.CellRef{Row: 3, Col: 1, Mat: dpkernel.MatH}

	masks := mask.New(mat.NRow, mat.NCol)
	cands, _ := AnalyzeCell(mat, masks, model, prof, ref, prof.Bias, tied.Row, tied.Col, dpkernel.MatH)
	want := map[Transition]bool{TransDiag: true, TransRefGapOpen: true, TransRefGapExtend: true}
	if len(cands) != len(want) {
		t.Fatalf("expected a genuine 3-way tie, got %d candidates: %+v", len(cands), cands)
	}
	for _, c := range cands {
		if !want[c.Transition] {
			t.Fatalf("unexpected transition in tie: %v", c.Transition)
		}
		delete(want, c.Transition)
	}
	if len(want) != 0 {
		t.Fatalf("tie is missing transitions: %v", want)
	}

	// Repeated walks from a freshly-masked tied cell should sample all
	// three transitions close to uniformly, not the 1/2-1/4-1/4 split a
	// two-stage diag/E-or-F draw would produce.
	counts := map[Transition]int{}
	rng := rand.New(rand.NewSource(42))
	const trials = 6000
	for i := 0; i < trials; i++ {
		m := mask.New(mat.NRow, mat.NCol)
		path, ok := Walk(mat, m, model, prof, ref, prof.Bias, tied, rng)
		if !ok || len(path.Steps) == 0 {
			t.Fatal("walk from the tied cell should always find a one-step path")
		}
		counts[path.Steps[0].Transition]++
	}
	for _, tr := range []Transition{TransDiag, TransRefGapOpen, TransRefGapExtend} {
		frac := float64(counts[tr]) / float64(trials)
		if frac < 0.28 || frac > 0.38 {
			t.Fatalf("transition %v sampled %d/%d (%.3f), want close to 1/3", tr, counts[tr], trials, frac)
		}
	}
}
