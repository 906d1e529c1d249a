// Package scoring implements the scoring model: match
// bonus, quality- or constant-based mismatch/N penalties, affine gap
// costs, gap barriers, and the derived min/floor-score and N-ceiling
// bounds that shape the rest of the alignment core.
package scoring

import (
	"fmt"
	"math"

	"github.com/kk-code-lab/stripedsw/internal/bioseq"
)

// PenaltyKind selects how a mismatch or N penalty is computed.
type PenaltyKind int

const (
	// PenaltyConstant charges the same penalty regardless of quality.
	PenaltyConstant PenaltyKind = iota
	// PenaltyQualityLinear looks the penalty up by Phred quality.
	PenaltyQualityLinear
)

// Penalty is a mismatch or N penalty, either a flat constant or a
// table indexed by Phred quality.
type Penalty struct {
	Kind PenaltyKind
	// Constant is used when Kind == PenaltyConstant.
	Constant int
	// ByQuality is used when Kind == PenaltyQualityLinear; index i
	// holds the penalty for Phred quality i. A quality beyond the end
	// of the table clamps to the last entry.
	ByQuality []int
}

func (p Penalty) valueFor(phred byte) int {
	switch p.Kind {
	case PenaltyConstant:
		return p.Constant
	case PenaltyQualityLinear:
		if len(p.ByQuality) == 0 {
			panic("scoring: quality_linear penalty has an empty table")
		}
		q := int(phred)
		if q >= len(p.ByQuality) {
			q = len(p.ByQuality) - 1
		}
		return p.ByQuality[q]
	default:
		panic(fmt.Sprintf("scoring: unknown penalty kind %d", p.Kind))
	}
}

// Model is the immutable-after-construction scoring configuration for
// one alignment run.
type Model struct {
	Match int

	Mismatch Penalty
	NPenalty Penalty

	ReadGapOpen   int
	ReadGapExtend int
	RefGapOpen    int
	RefGapExtend  int

	// GapBarrier is the number of rows at the top and bottom of the
	// matrix within which gaps are forbidden.
	GapBarrier int

	MinScoreConst  float64
	MinScoreLinear float64

	FloorScoreConst  float64
	FloorScoreLinear float64

	NCeilConst  float64
	NCeilLinear float64

	// NCatPair selects whether paired reads are N-filtered jointly by
	// concatenation.
	NCatPair bool
}

// Validate aborts loudly on caller misconfiguration: negative gap
// costs are a programming bug, not an operational outcome.
func (m *Model) Validate() {
	if m.Match < 0 {
		panic("scoring: Match must be >= 0")
	}
	if m.ReadGapOpen < 0 || m.ReadGapExtend < 0 || m.RefGapOpen < 0 || m.RefGapExtend < 0 {
		panic("scoring: gap costs must be >= 0")
	}
	if m.GapBarrier < 0 {
		panic("scoring: GapBarrier must be >= 0")
	}
}

// phred strips the caller's Phred+33 offset. It is the only place that
// touches the offset (profile.Build reaches it through Score): a read's
// quality bytes stay in Phred+33 form everywhere else.
func phred(qualPhred33 byte) byte {
	if qualPhred33 < 33 {
		return 0
	}
	return qualPhred33 - 33
}

// Score computes the contribution of aligning refBase against
// readBase/readQual: the match bonus if they agree and neither is N,
// otherwise the mismatch or N penalty.
func (m *Model) Score(readBase, refBase bioseq.Base, readQualPhred33 byte) int {
	q := phred(readQualPhred33)
	if readBase == bioseq.BaseN || refBase == bioseq.BaseN {
		return -m.NPenalty.valueFor(q)
	}
	if readBase == refBase {
		return m.Match
	}
	return -m.Mismatch.valueFor(q)
}

// MinScore derives the minimum acceptable score for a read of the
// given length.
func (m *Model) MinScore(readLen int) int {
	return int(math.Floor(m.MinScoreConst + m.MinScoreLinear*float64(readLen)))
}

// FloorScore derives the score below which a cell at the given row is
// considered unreachable").
func (m *Model) FloorScore(row int) int {
	return int(math.Floor(m.FloorScoreConst + m.FloorScoreLinear*float64(row)))
}

// MaxReadGaps returns the largest number of read gaps (insertions in
// the reference) an alignment can carry and still reach minScore. Each
// additional gapped column costs a match bonus foregone (the column no
// longer contributes a match) plus the affine gap cost, open on the
// first gap and extend on every one after.
func (m *Model) MaxReadGaps(minScore, readLen int) int {
	sc := readLen * m.Match
	if sc < minScore {
		panic(fmt.Sprintf("scoring: precondition violated: read_len*match (%d) < min_score (%d)", sc, minScore))
	}
	count := 0
	for {
		sc -= m.Match
		if count == 0 {
			sc -= m.ReadGapOpen
		} else {
			sc -= m.ReadGapExtend
		}
		count++
		if sc < minScore {
			break
		}
	}
	return count - 1
}

// MaxRefGaps is MaxReadGaps' mirror image for reference gaps
// (insertions in the read), with one asymmetry: a reference gap
// consumes no read base, so it never forfeits a match bonus the way a
// read gap does. Only the affine gap cost itself is charged.
func (m *Model) MaxRefGaps(minScore, readLen int) int {
	sc := readLen * m.Match
	if sc < minScore {
		panic(fmt.Sprintf("scoring: precondition violated: read_len*match (%d) < min_score (%d)", sc, minScore))
	}
	count := 0
	for {
		if count == 0 {
			sc -= m.RefGapOpen
		} else {
			sc -= m.RefGapExtend
		}
		count++
		if sc < minScore {
			break
		}
	}
	return count - 1
}

func (m *Model) nCeil(length int) int {
	ceil := m.NCeilConst + m.NCeilLinear*float64(length)
	if ceil < 0 {
		ceil = 0
	}
	return int(math.Floor(ceil))
}

// NFilter reports whether a read has few enough Ns to proceed to DP
//.
func (m *Model) NFilter(read bioseq.Read) bool {
	return bioseq.CountNs(read.Bases) <= m.nCeil(read.Len())
}

// NFilterPair applies the N-content filter to a mate pair, jointly by
// concatenation when NCatPair is set, independently otherwise
//.
func (m *Model) NFilterPair(r1, r2 bioseq.Read) (pass1, pass2 bool) {
	if !m.NCatPair {
		return m.NFilter(r1), m.NFilter(r2)
	}
	ceil := m.nCeil(r1.Len() + r2.Len())
	ok := bioseq.CountNs(r1.Bases)+bioseq.CountNs(r2.Bases) <= ceil
	return ok, ok
}
