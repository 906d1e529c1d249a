package profile

import (
	"testing"

	"github.com/kk-code-lab/stripedsw/internal/bioseq"
	"github.com/kk-code-lab/stripedsw/internal/scoring"
)

func testModel() *scoring.Model {
	return &scoring.Model{
		Match:         1,
		Mismatch:      scoring.Penalty{Kind: scoring.PenaltyConstant, Constant: 4},
		NPenalty:      scoring.Penalty{Kind: scoring.PenaltyConstant, Constant: 6},
		ReadGapOpen:   2,
		ReadGapExtend: 1,
		RefGapOpen:    2,
		RefGapExtend:  1,
	}
}

func TestRowToStripeAndBackAreInverse(t *testing.T) {
	stride := 4
	for row := 0; row < 16; row++ {
		v, lane := RowToStripe(row, stride)
		if got := StripeToRow(v, lane, stride); got != row {
			t.Fatalf("row=%d -> (v=%d,lane=%d) -> %d, want %d", row, v, lane, got, row)
		}
	}
}

func TestBuildBiasKeepsAllEntriesNonNegative(t *testing.T) {
	read, _ := bioseq.NewReadFromLetters([]byte("ACGTACGTACGT"), []byte("IIIIIIIIIIII"))
	model := testModel()
	p := Build(read, model, Lane8)
	for c := 0; c < bioseq.NumBases; c++ {
		for _, v := range p.Columns[c] {
			if int(v) < 0 {
				t.Fatalf("negative entry in profile column %d", c)
			}
		}
	}
}

func TestBuildLastIterLastWord(t *testing.T) {
	read, _ := bioseq.NewReadFromLetters([]byte("ACGTACGTACG"), []byte("IIIIIIIIIII")) // L = 11
	model := testModel()
	p := Build(read, model, Lane8)
	wantIter := (11 - 1) % p.Stride
	wantWord := (11 - 1) / p.Stride
	if p.LastIter != wantIter || p.LastWord != wantWord {
		t.Fatalf("LastIter/LastWord = %d/%d, want %d/%d", p.LastIter, p.LastWord, wantIter, wantWord)
	}
	if got := StripeToRow(p.LastIter, p.LastWord, p.Stride); got != read.Len()-1 {
		t.Fatalf("LastIter/LastWord locate row %d, want %d", got, read.Len()-1)
	}
}

func TestBuildEncodesExactMatchScoreAtRow(t *testing.T) {
	read, _ := bioseq.NewReadFromLetters([]byte("ACGT"), []byte("IIII"))
	model := testModel()
	p := Build(read, model, Lane16)
	for row, base := range read.Bases {
		v, lane := RowToStripe(row, p.Stride)
		vec := p.VectorAt(base, v)
		got := int(vec[lane]) - p.Bias
		if got != model.Match {
			t.Fatalf("row %d: profile score = %d, want match bonus %d", row, got, model.Match)
		}
	}
}

func TestLaneWidthWpervAndMaxLane(t *testing.T) {
	if Lane8.Wperv() != 16 || Lane8.MaxLaneValue() != 255 {
		t.Fatal("Lane8 should pack 16 lanes with max value 255")
	}
	if Lane16.Wperv() != 8 || Lane16.MaxLaneValue() != 65535 {
		t.Fatal("Lane16 should pack 8 lanes with max value 65535")
	}
}

func TestCacheReusesBuiltProfile(t *testing.T) {
	read, _ := bioseq.NewReadFromLetters([]byte("ACGTACGT"), []byte("IIIIIIII"))
	model := testModel()
	c := NewCache()
	p1 := c.GetOrBuild(read, model, Lane8)
	p2 := c.GetOrBuild(read, model, Lane8)
	if p1 != p2 {
		t.Fatal("expected the same *Profile pointer from the cache on repeat lookups")
	}
}

func TestFingerprintDiffersByLaneWidth(t *testing.T) {
	read, _ := bioseq.NewReadFromLetters([]byte("ACGTACGT"), []byte("IIIIIIII"))
	model := testModel()
	f8 := Fingerprint(read, model, Lane8)
	f16 := Fingerprint(read, model, Lane16)
	if f8 == f16 {
		t.Fatal("fingerprints should differ across lane widths")
	}
}
