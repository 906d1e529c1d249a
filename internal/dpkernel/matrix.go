// Package dpkernel implements the striped three-matrix (H/E/F) dynamic
// programming kernel, backed by a striped physical matrix layout.
package dpkernel

import (
	"fmt"

	"github.com/kk-code-lab/stripedsw/internal/mask"
	"github.com/kk-code-lab/stripedsw/internal/profile"
)

// slot indexes within one cell's four vectors.
const (
	slotE = 0
	slotF = 1
	slotH = 2
	// slotReserved pads each cell to four vectors; nothing reads or
	// writes it.
	slotReserved = 3
	numSlots     = 4
)

// Matrix is the reusable DP buffer: nrow logical rows
// (read length) by ncol columns (reference-window length + 1), stored
// as striped vectors of Wperv lanes, four vectors per cell.
//
// The matrix buffer is reused across reads; capacity grows to the
// largest L*ncol observed and is never shrunk, the same pooled
// scratch-buffer discipline a busy worker uses for any other
// per-request buffer it can't afford to reallocate every call.
type Matrix struct {
	LaneWidth profile.LaneWidth
	Wperv     int

	NRow    int // L, logical rows (read length)
	NCol    int // W_ref + 1
	NVecRow int // ceil(L / Wperv)

	// Data holds NCol*NVecRow*numSlots*Wperv uint16 words. Column j,
	// striped row v's four vectors start at
	// ((j*NVecRow)+v)*numSlots*Wperv.
	Data []uint16

	Masks *mask.Masks

	Saturated bool
}

// New allocates an empty matrix; call Resize before the first Fill.
func New() *Matrix {
	return &Matrix{Masks: mask.New(0, 0)}
}

// Resize prepares the matrix for a read of length nrow aligned against
// a reference window refLen bases wide (ncol = refLen+1), under the
// given lane width. Backing storage capacity only ever grows.
func (m *Matrix) Resize(laneWidth profile.LaneWidth, nrow, refLen int) {
	if nrow <= 0 {
		panic("dpkernel: nrow must be > 0")
	}
	if refLen < 0 {
		panic("dpkernel: refLen must be >= 0")
	}
	wperv := laneWidth.Wperv()
	ncol := refLen + 1
	nvecrow := (nrow + wperv - 1) / wperv

	m.LaneWidth = laneWidth
	m.Wperv = wperv
	m.NRow = nrow
	m.NCol = ncol
	m.NVecRow = nvecrow
	m.Saturated = false

	need := ncol * nvecrow * numSlots * wperv
	if cap(m.Data) < need {
		m.Data = make([]uint16, need)
	} else {
		m.Data = m.Data[:need]
		for i := range m.Data {
			m.Data[i] = 0
		}
	}

	m.Masks.Reset(nrow, ncol)
}

func (m *Matrix) rowToVecLane(row int) (v, lane int) {
	return row % m.NVecRow, row / m.NVecRow
}

// vecLaneToRow is the inverse of rowToVecLane, used by callers that
// walk striped vectors directly.
func (m *Matrix) vecLaneToRow(v, lane int) int {
	return lane*m.NVecRow + v
}

func (m *Matrix) cellOffset(col, v int) int {
	if col < 0 || col >= m.NCol || v < 0 || v >= m.NVecRow {
		panic(fmt.Sprintf("dpkernel: cell (col=%d, v=%d) out of range (NCol=%d, NVecRow=%d)", col, v, m.NCol, m.NVecRow))
	}
	return (col*m.NVecRow + v) * numSlots * m.Wperv
}

// slot returns the Wperv-wide vector for the given cell/slot.
func (m *Matrix) slot(col, v, slotIdx int) []uint16 {
	off := m.cellOffset(col, v) + slotIdx*m.Wperv
	return m.Data[off : off+m.Wperv]
}

// EVec, FVec, HVec expose the raw striped vectors of one cell; nothing
// in this module calls them.
func (m *Matrix) EVec(col, v int) []uint16 { return m.slot(col, v, slotE) }
func (m *Matrix) FVec(col, v int) []uint16 { return m.slot(col, v, slotF) }
func (m *Matrix) HVec(col, v int) []uint16 { return m.slot(col, v, slotH) }

// H, E and F read one logical cell's value by (row, col), translating
// through the striped layout. A negative row (the row=-1 boundary) or
// col==-1 (no column yet) returns the biased zero-score boundary
// value: raw lane value equal to bias.
func (m *Matrix) rowCellRaw(row, col, slotIdx, bias int) int {
	if row < 0 || col < 0 {
		return bias
	}
	v, lane := m.rowToVecLane(row)
	return int(m.slot(col, v, slotIdx)[lane])
}

func (m *Matrix) H(row, col, bias int) int { return m.rowCellRaw(row, col, slotH, bias) }
func (m *Matrix) E(row, col, bias int) int { return m.rowCellRaw(row, col, slotE, bias) }
func (m *Matrix) F(row, col, bias int) int { return m.rowCellRaw(row, col, slotF, bias) }

func (m *Matrix) setRaw(row, col, slotIdx int, value uint16) {
	v, lane := m.rowToVecLane(row)
	m.slot(col, v, slotIdx)[lane] = value
}

func (m *Matrix) setH(row, col int, value uint16) { m.setRaw(row, col, slotH, value) }
func (m *Matrix) setE(row, col int, value uint16) { m.setRaw(row, col, slotE, value) }
func (m *Matrix) setF(row, col int, value uint16) { m.setRaw(row, col, slotF, value) }

// Score reads the true (bias-corrected) alignment score ending at a
// cell, for the given matrix type.
func (m *Matrix) Score(row, col int, mt MatrixType, bias int) int {
	switch mt {
	case MatH:
		return m.H(row, col, bias) - bias
	case MatE:
		return m.E(row, col, bias) - bias
	case MatF:
		return m.F(row, col, bias) - bias
	default:
		panic("dpkernel: unknown matrix type")
	}
}

// MatrixType selects which of the three DP matrices a cell reference
// names.
type MatrixType int

const (
	MatH MatrixType = iota
	MatE
	MatF
)

func (t MatrixType) String() string {
	switch t {
	case MatH:
		return "H"
	case MatE:
		return "E"
	case MatF:
		return "F"
	default:
		return "?"
	}
}

// CellRef identifies one logical DP cell and which matrix it belongs
// to.
type CellRef struct {
	Row int
	Col int
	Mat MatrixType
}
