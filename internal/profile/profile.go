// Package profile builds the striped query profile: a
// per-reference-character, per-striped-vector score lookup table that
// the DP kernel scans column by column.
package profile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash"

	"github.com/kk-code-lab/stripedsw/internal/bioseq"
	"github.com/kk-code-lab/stripedsw/internal/scoring"
)

// LaneWidth is the bit width of one DP lane, either 8 or 16
//.
type LaneWidth int

const (
	Lane8  LaneWidth = 8
	Lane16 LaneWidth = 16
)

// Wperv returns the number of lanes packed into one physical vector.
// The spec fixes vector width at 128 bits regardless of the underlying
// SSE/AVX/NEON/scalar realization, so
// an 8-bit lane packs 16 lanes per vector and a 16-bit lane packs 8.
func (w LaneWidth) Wperv() int {
	switch w {
	case Lane8:
		return 16
	case Lane16:
		return 8
	default:
		panic(fmt.Sprintf("profile: lane width must be 8 or 16, got %d", w))
	}
}

// MaxLaneValue is the largest value representable in one lane before
// saturation.
func (w LaneWidth) MaxLaneValue() int {
	switch w {
	case Lane8:
		return 255
	case Lane16:
		return 65535
	default:
		panic(fmt.Sprintf("profile: lane width must be 8 or 16, got %d", w))
	}
}

// RowToStripe maps a logical read row to its (striped index, lane)
// coordinates, per the shared formula (row mod S, row / S), kept as a
// named helper rather than duplicated inline wherever it's needed.
func RowToStripe(row, stride int) (stripedIndex, lane int) {
	return row % stride, row / stride
}

// StripeToRow is the inverse of RowToStripe.
func StripeToRow(stripedIndex, lane, stride int) int {
	return lane*stride + stripedIndex
}

// Profile is the built, striped query profile for one read under one
// scoring model and lane width.
type Profile struct {
	LaneWidth LaneWidth
	Wperv     int
	Stride    int // S = ceil(L/Wperv)
	Length    int // L

	Bias       int
	MaxPenalty int
	MaxBonus   int

	// LastIter/LastWord locate the final read row's H score:
	// striped index (LastIter) and lane (LastWord).
	LastIter int
	LastWord int

	// Columns[c] holds Stride*Wperv entries; the value for striped
	// vector v, lane l is Columns[c][v*Wperv+l].
	Columns [bioseq.NumBases][]uint16
}

func maxPenaltyValue(p scoring.Penalty) int {
	switch p.Kind {
	case scoring.PenaltyConstant:
		return p.Constant
	case scoring.PenaltyQualityLinear:
		max := 0
		for _, v := range p.ByQuality {
			if v > max {
				max = v
			}
		}
		return max
	default:
		panic("profile: unknown penalty kind")
	}
}

func maxOf(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Build constructs the striped query profile for a read under the
// given scoring model and lane width.
func Build(read bioseq.Read, model *scoring.Model, laneWidth LaneWidth) *Profile {
	if read.Len() == 0 {
		panic("profile: read length must be > 0")
	}
	wperv := laneWidth.Wperv()
	maxLane := laneWidth.MaxLaneValue()
	L := read.Len()
	stride := (L + wperv - 1) / wperv

	maxPenalty := maxOf(maxPenaltyValue(model.Mismatch), maxPenaltyValue(model.NPenalty))
	bias := maxPenalty

	p := &Profile{
		LaneWidth:  laneWidth,
		Wperv:      wperv,
		Stride:     stride,
		Length:     L,
		Bias:       bias,
		MaxPenalty: maxPenalty,
		MaxBonus:   model.Match,
		LastIter:   (L - 1) % stride,
		LastWord:   (L - 1) / stride,
	}

	for c := 0; c < bioseq.NumBases; c++ {
		refBase := bioseq.Base(c)
		col := make([]uint16, stride*wperv)
		for v := 0; v < stride; v++ {
			for lane := 0; lane < wperv; lane++ {
				row := StripeToRow(v, lane, stride)
				var entry int
				if row < L {
					entry = model.Score(read.Bases[row], refBase, read.Qual[row]) + bias
					if entry < 0 {
						entry = 0
					}
					if entry > maxLane {
						entry = maxLane
					}
				}
				col[v*wperv+lane] = uint16(entry)
			}
		}
		p.Columns[c] = col
	}
	return p
}

// VectorAt returns the striped vector at index v for reference
// character c, as a slice of Wperv lane values.
func (p *Profile) VectorAt(c bioseq.Base, v int) []uint16 {
	off := v * p.Wperv
	return p.Columns[c][off : off+p.Wperv]
}

// Fingerprint hashes the (read, model, lane width) triple this profile
// was built from, so callers can memoise profile construction across
// repeated alignments of the same read (e.g. many candidate windows
// from seed extension).
func Fingerprint(read bioseq.Read, model *scoring.Model, laneWidth LaneWidth) uint64 {
	var buf bytes.Buffer
	var scratch [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(scratch[:], uint64(int64(v)))
		buf.Write(scratch[:])
	}
	writeInt(int(laneWidth))
	for _, b := range read.Bases {
		buf.WriteByte(byte(b))
	}
	buf.Write(read.Qual)
	writeInt(model.Match)
	writeInt(int(model.Mismatch.Kind))
	writeInt(model.Mismatch.Constant)
	writeInt(int(model.NPenalty.Kind))
	writeInt(model.NPenalty.Constant)
	writeInt(model.ReadGapOpen)
	writeInt(model.ReadGapExtend)
	writeInt(model.RefGapOpen)
	writeInt(model.RefGapExtend)
	writeInt(model.GapBarrier)
	return xxhash.Sum64(buf.Bytes())
}

// Cache memoises built profiles by Fingerprint, avoiding rebuilding an
// identical profile when the same read is realigned against several
// reference windows. It is not safe for concurrent use across
// workers; each workerpool worker owns its own Cache, matching the
// single-threaded-per-DP-instance model each worker follows.
type Cache struct {
	entries map[uint64]*Profile
}

// NewCache creates an empty profile cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[uint64]*Profile)}
}

// GetOrBuild returns the cached profile for this fingerprint, building
// and storing it if absent.
func (c *Cache) GetOrBuild(read bioseq.Read, model *scoring.Model, laneWidth LaneWidth) *Profile {
	key := Fingerprint(read, model, laneWidth)
	if p, ok := c.entries[key]; ok {
		return p
	}
	p := Build(read, model, laneWidth)
	c.entries[key] = p
	return p
}
