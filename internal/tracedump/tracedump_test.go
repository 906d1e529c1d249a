package tracedump

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/kk-code-lab/stripedsw/internal/bioseq"
	"github.com/kk-code-lab/stripedsw/internal/dpkernel"
	"github.com/kk-code-lab/stripedsw/internal/metrics"
	"github.com/kk-code-lab/stripedsw/internal/workerpool"
)

func testRequest(t *testing.T) workerpool.Request {
	t.Helper()
	read, err := bioseq.NewReadFromLetters([]byte("ACGT"), []byte("IIII"))
	if err != nil {
		t.Fatal(err)
	}
	return workerpool.Request{
		Read: read,
		Ref:  bioseq.NewRefWindowFromLetters([]byte("ACGT")),
	}
}

func TestTraceFillRoundTripsThroughZstd(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(&buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := testRequest(t)
	res := dpkernel.Result{BestScore: 8, BestCell: dpkernel.CellRef{Row: 3, Col: 4, Mat: dpkernel.MatH}}
	mc := metrics.Counters{DP: 1, DPSucc: 1, BT: 1, BTSucc: 1, BTCell: 4}

	w.TraceFill(req, res, mc)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	zr, err := zstd.NewReader(&buf)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer zr.Close()

	var rec record
	if err := binary.Read(zr, binary.LittleEndian, &rec); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if rec.ReadLen != 4 || rec.RefLen != 4 {
		t.Fatalf("expected read/ref lengths 4/4, got %d/%d", rec.ReadLen, rec.RefLen)
	}
	if rec.BestScore != 8 || rec.BestRow != 3 || rec.BestCol != 4 {
		t.Fatalf("best cell/score did not round-trip: %+v", rec)
	}
	if rec.DP != 1 || rec.BTCell != 4 {
		t.Fatalf("counters did not round-trip: %+v", rec)
	}

	if err := binary.Read(zr, binary.LittleEndian, &rec); err != io.EOF {
		t.Fatalf("expected EOF after one record, got %v", err)
	}
}

func TestTraceFillMarksSaturation(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(&buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	req := testRequest(t)
	res := dpkernel.Result{BestScore: 1, Saturated: true}
	w.TraceFill(req, res, metrics.Counters{})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	zr, err := zstd.NewReader(&buf)
	if err != nil {
		t.Fatalf("zstd.NewReader: %v", err)
	}
	defer zr.Close()
	var rec record
	if err := binary.Read(zr, binary.LittleEndian, &rec); err != nil {
		t.Fatalf("decoding record: %v", err)
	}
	if rec.Saturated != 1 {
		t.Fatal("expected the saturated flag to round-trip as 1")
	}
}
