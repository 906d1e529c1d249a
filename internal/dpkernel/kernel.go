package dpkernel

import (
	"github.com/kk-code-lab/stripedsw/internal/bioseq"
	"github.com/kk-code-lab/stripedsw/internal/metrics"
	"github.com/kk-code-lab/stripedsw/internal/profile"
	"github.com/kk-code-lab/stripedsw/internal/scoring"
)

// Options controls how Fill harvests its result.
type Options struct {
	// Local selects best-anywhere-in-the-matrix harvesting; when
	// false, the harvested score comes from the read's final row in
	// the last column filled (semi-global: the whole read must be
	// consumed).
	Local bool

	// CollectColumnMaxes additionally records the best score seen in
	// each column, for callers that want a coverage profile rather
	// than a single best cell.
	CollectColumnMaxes bool
}

// Result is what one Fill call reports back to the caller.
type Result struct {
	BestScore   int
	BestCell    CellRef
	Saturated   bool
	ColumnMaxes []int // only populated when Options.CollectColumnMaxes

	// Extension names the widest vector extension detected on this
	// core (see the arch-tagged dispatch_*.go files). The fill itself
	// runs the same portable arithmetic regardless; this is recorded
	// for diagnostics only.
	Extension string
}

// negInf stands in for "no predecessor computed yet": subtracted from
// any real gap open/extend cost it still leaves a value clamp() will
// floor to 0, so it never wins a max() against a real contribution.
const negInf = -(1 << 30)

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// gapsAllowed reports whether gapped transitions may originate at this
// read row: rows within GapBarrier of either end of the read forbid
// gap opens/extends, so alignments cannot slip an indel in past the
// unreliable tips of a short read.
func gapsAllowed(row, nrow, barrier int) bool {
	if barrier <= 0 {
		return true
	}
	return row >= barrier && row < nrow-barrier
}

// Fill runs the striped H/E/F recurrence for one read profile against
// one reference window, writing results into mat (which the caller
// must already have Resize'd to match).
//
// Columns are filled left to right. Within a column, E and the
// diagonal-only tentative H' are embarrassingly parallel across all
// rows since they depend only on the previous column. F carries an
// intra-column, same-lane dependency (F(row) depends on H(row-1) and
// F(row-1), all in the current column), which Fill resolves with a
// single top-to-bottom pass per lane followed by a wraparound fixup:
// striped index 0 of lane l's true predecessor is striped index
// Stride-1 of lane l-1 in the SAME column, which is only known once
// that earlier lane's pass has completed. Fill re-examines index 0 of
// every lane after the first pass and, if the wraparound predecessor
// would raise F (and hence H), repropagates down that lane; this
// repeats until no lane changes, which is the lazy-F loop.
func Fill(mat *Matrix, prof *profile.Profile, ref bioseq.RefWindow, model *scoring.Model, opts Options, mc *metrics.Counters) Result {
	mc.DP++
	bias := prof.Bias
	nrow := mat.NRow
	stride := mat.NVecRow
	maxLane := prof.LaneWidth.MaxLaneValue()

	res := Result{BestScore: model.FloorScore(0), Extension: detectExtension()}
	if opts.CollectColumnMaxes {
		res.ColumnMaxes = make([]int, mat.NCol)
	}

	// Column 0 is the boundary column: H=E=F=0 score (raw value =
	// bias) for every row, so column 1's diagonal reads land on the
	// unbiased-zero start-of-alignment condition.
	for row := 0; row < nrow; row++ {
		mat.setH(row, 0, uint16(bias))
		mat.setE(row, 0, uint16(bias))
		mat.setF(row, 0, uint16(bias))
	}

	hPrime := make([]int, nrow)
	numLanes := (nrow-1)/stride + 1

	for col := 1; col < mat.NCol; col++ {
		mc.Col++
		refBase := ref.Bases[col-1]
		profVec := prof.Columns[refBase]

		barrierOK := make([]bool, nrow)
		for row := 0; row < nrow; row++ {
			barrierOK[row] = gapsAllowed(row, nrow, model.GapBarrier)
		}

		// Pass 1: E and tentative H' (diagonal vs E), no F yet. All
		// arithmetic below happens in true (unbiased) score space
		// and is re-biased only when written back into a lane.
		for row := 0; row < nrow; row++ {
			mc.Cell++
			hPrevScore := mat.H(row, col-1, bias) - bias
			ePrevScore := mat.E(row, col-1, bias) - bias

			eScore := maxInt(hPrevScore-model.ReadGapOpen, ePrevScore-model.ReadGapExtend)
			e := clamp(eScore+bias, 0, maxLane)
			if !barrierOK[row] {
				e = 0
				eScore = -bias
			}
			mat.setE(row, col, uint16(e))

			hDiagScore := mat.H(row-1, col-1, bias) - bias
			v, lane := mat.rowToVecLane(row)
			diagContribution := int(profVec[v*prof.Wperv+lane]) - bias
			hScore := maxInt(hDiagScore+diagContribution, eScore)
			hPrime[row] = clamp(hScore+bias, 0, maxLane)
		}

		// Pass 2: F via a single top-to-bottom scan per lane. F(row)
		// depends on H(row-1) and F(row-1) in the SAME column (the
		// classic Gotoh recurrence): within a lane those predecessors
		// were just written by the previous iteration of this loop,
		// but striped index 0 of every lane but the first has its
		// predecessor one striped index short of the PREVIOUS lane,
		// not yet known during this pass. Fill uses a floor there and
		// the wraparound fixup below supplies the true value.
		for lane := 0; lane < numLanes; lane++ {
			for v := 0; v < stride; v++ {
				row := mat.vecLaneToRow(v, lane)
				if row >= nrow {
					continue
				}
				var hPrevScore, fPrevScore int
				if v == 0 {
					hPrevScore, fPrevScore = negInf, negInf // wraparound predecessor unknown; fixed up below
				} else {
					hPrevScore = mat.H(row-1, col, bias) - bias
					fPrevScore = int(mat.slot(col, v-1, slotF)[lane]) - bias
				}
				f := clamp(maxInt(hPrevScore-model.RefGapOpen, fPrevScore-model.RefGapExtend)+bias, 0, maxLane)
				if !barrierOK[row] {
					f = 0
				}
				mat.setF(row, col, uint16(f))
				h := clamp(maxInt(hPrime[row]-bias, f-bias)+bias, 0, maxLane)
				mat.setH(row, col, uint16(h))
			}
		}

		// Lazy-F fixup: striped index 0 of lane l ideally reads its
		// H/F predecessors from striped index Stride-1 of lane l-1,
		// which the pass above could not see yet. Lanes are revisited
		// low to high, so lane l-1 is already corrected by the time
		// lane l is, and a single sweep propagates a correction all
		// the way down; the outer loop just confirms convergence.
		changed := true
		for changed {
			changed = false
			mc.Fixup++
			for lane := 1; lane < numLanes; lane++ {
				row0 := mat.vecLaneToRow(0, lane)
				if row0 >= nrow {
					continue
				}
				predRow := lane*stride - 1
				if predRow < 0 || predRow >= nrow {
					continue
				}
				if !barrierOK[row0] {
					continue
				}
				predH := mat.H(predRow, col, bias) - bias
				predF := mat.F(predRow, col, bias) - bias
				candidate := clamp(maxInt(predH-model.RefGapOpen, predF-model.RefGapExtend)+bias, 0, maxLane)
				curF := int(mat.slot(col, 0, slotF)[lane])
				if candidate <= curF {
					continue
				}
				mc.Inner++
				mat.slot(col, 0, slotF)[lane] = uint16(candidate)
				newH := clamp(maxInt(hPrime[row0]-bias, candidate-bias)+bias, 0, maxLane)
				if newH == mat.H(row0, col, bias) {
					continue
				}
				mat.setH(row0, col, uint16(newH))
				changed = true

				// Repropagate down this lane.
				for v := 1; v < stride; v++ {
					row := mat.vecLaneToRow(v, lane)
					if row >= nrow {
						break
					}
					mc.Inner++
					prevHScore := mat.H(row-1, col, bias) - bias
					prevFScore := int(mat.slot(col, v-1, slotF)[lane]) - bias
					f := clamp(maxInt(prevHScore-model.RefGapOpen, prevFScore-model.RefGapExtend)+bias, 0, maxLane)
					if !barrierOK[row] {
						f = 0
					}
					oldH := mat.H(row, col, bias)
					mat.slot(col, v, slotF)[lane] = uint16(f)
					h := clamp(maxInt(hPrime[row]-bias, f-bias)+bias, 0, maxLane)
					mat.setH(row, col, uint16(h))
					if h != oldH {
						changed = true
					}
				}
			}
		}

		if mat.slotHasSaturated(col, maxLane) {
			mat.Saturated = true
		}

		colMax := -1 << 62
		colMaxRow := -1
		for row := 0; row < nrow; row++ {
			mc.GathCell++
			score := mat.H(row, col, bias) - bias
			if score > colMax {
				colMax = score
				colMaxRow = row
			}
		}
		if opts.CollectColumnMaxes {
			res.ColumnMaxes[col] = colMax
		}
		if opts.Local && colMax > res.BestScore {
			mc.GathSol++
			res.BestScore = colMax
			res.BestCell = CellRef{Row: colMaxRow, Col: col, Mat: MatH}
		}
	}

	if !opts.Local && mat.NCol > 1 {
		lastCol := mat.NCol - 1
		row := nrow - 1
		res.BestScore = mat.H(row, lastCol, bias) - bias
		res.BestCell = CellRef{Row: row, Col: lastCol, Mat: MatH}
	}

	res.Saturated = mat.Saturated
	if mat.Saturated {
		mc.DPSat++
	}
	return res
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// slotHasSaturated reports whether any lane in the given column
// reached the lane width's maximum representable value, which the
// caller must treat as an unreliable score requiring a wider lane
// width escalation and retry.
func (m *Matrix) slotHasSaturated(col, maxLane int) bool {
	for v := 0; v < m.NVecRow; v++ {
		for _, val := range m.slot(col, v, slotH) {
			if int(val) >= maxLane {
				return true
			}
		}
	}
	return false
}
