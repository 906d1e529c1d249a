// Package tracedump writes an append-only, zstd-compressed log of DP
// fill outcomes for offline postmortem of saturation, no-alignment and
// backtrace-exhaustion cases. It is purely a diagnostic sink: nothing
// in the alignment core reads its own trace back.
package tracedump

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"

	"github.com/klauspost/compress/zstd"

	"github.com/kk-code-lab/stripedsw/internal/dpkernel"
	"github.com/kk-code-lab/stripedsw/internal/metrics"
	"github.com/kk-code-lab/stripedsw/internal/workerpool"
)

// record is one fixed-width diagnostic entry, written little-endian so
// a dump can be replayed on any architecture. Read/ref lengths are
// carried instead of the sequences themselves: a trace is a
// postmortem of scores and counters, not a copy of the input data.
type record struct {
	ReadLen   uint32
	RefLen    uint32
	BestScore int64
	BestRow   int32
	BestCol   int32
	Saturated uint8
	_         [3]uint8 // pad to keep the struct's binary.Write layout stable
	DP        uint64
	DPSat     uint64
	Col       uint64
	Cell      uint64
	Inner     uint64
	Fixup     uint64
	BT        uint64
	BTFail    uint64
	BTSucc    uint64
	BTCell    uint64
}

// Writer appends fill records to an underlying stream through a zstd
// encoder configured the way a long-running batch job configures one:
// CRC off (the stream is trusted local storage, not a transport that
// needs corruption detection), single-threaded encoding, and the
// fastest compression level, since a trace is written far more often
// than it is ever read back.
type Writer struct {
	zw *zstd.Encoder
}

// New wraps w with a zstd encoder suitable for continuous appending.
func New(w io.Writer) (*Writer, error) {
	zw, err := zstd.NewWriter(w,
		zstd.WithEncoderCRC(false),
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedFastest),
	)
	if err != nil {
		return nil, fmt.Errorf("tracedump: opening zstd writer: %w", err)
	}
	return &Writer{zw: zw}, nil
}

// Close flushes and closes the underlying zstd stream.
func (t *Writer) Close() error {
	return t.zw.Close()
}

// TraceFill implements workerpool.Tracer, writing one record per
// completed DP fill and its accompanying backtrace attempts. A write
// failure is logged rather than propagated: a broken trace stream
// should not take down alignment work that is otherwise succeeding.
func (t *Writer) TraceFill(req workerpool.Request, res dpkernel.Result, mc metrics.Counters) {
	rec := record{
		ReadLen:   uint32(req.Read.Len()),
		RefLen:    uint32(req.Ref.Len()),
		BestScore: int64(res.BestScore),
		BestRow:   int32(res.BestCell.Row),
		BestCol:   int32(res.BestCell.Col),
		DP:        mc.DP,
		DPSat:     mc.DPSat,
		Col:       mc.Col,
		Cell:      mc.Cell,
		Inner:     mc.Inner,
		Fixup:     mc.Fixup,
		BT:        mc.BT,
		BTFail:    mc.BTFail,
		BTSucc:    mc.BTSucc,
		BTCell:    mc.BTCell,
	}
	if res.Saturated {
		rec.Saturated = 1
	}
	if err := binary.Write(t.zw, binary.LittleEndian, rec); err != nil {
		log.Printf("tracedump: writing record: %v", err)
	}
}
