// Package bioseq holds the typed data model for reads and reference
// windows that the alignment core operates on.
package bioseq

import (
	"fmt"
	"io"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
)

// Base is the 0..4 nucleotide encoding used throughout this module.
type Base byte

const (
	BaseA Base = iota
	BaseC
	BaseG
	BaseT
	BaseN
)

// NumBases is the size of the reference-character alphabet the profile
// builder iterates over.
const NumBases = 5

var baseLetters = [NumBases]byte{'A', 'C', 'G', 'T', 'N'}

// Letter renders a Base back to its ASCII nucleotide code.
func (b Base) Letter() byte {
	if int(b) >= NumBases {
		return 'N'
	}
	return baseLetters[b]
}

func (b Base) String() string { return string(b.Letter()) }

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// EncodeBase maps an ASCII nucleotide letter to the 0..4 wire encoding.
// Anything biogo's DNA alphabet does not recognise (ambiguity codes,
// gaps, non-nucleotide bytes) becomes N, matching the closed
// {A,C,G,T,N} alphabet.
func EncodeBase(letter byte) Base {
	idx := alphabet.DNA.IndexOf(alphabet.Letter(upperASCII(letter)))
	if idx < 0 || idx >= 4 {
		return BaseN
	}
	return Base(idx)
}

// EncodeSequence encodes a whole ASCII byte slice base by base.
func EncodeSequence(letters []byte) []Base {
	out := make([]Base, len(letters))
	for i, l := range letters {
		out[i] = EncodeBase(l)
	}
	return out
}

// CountNs counts N bases, used by the N-content filter.
func CountNs(bases []Base) int {
	n := 0
	for _, b := range bases {
		if b == BaseN {
			n++
		}
	}
	return n
}

// Read is a short nucleotide query with per-base Phred+33 quality.
// Qual holds the raw encoded byte; scoring.Model is the single place
// that subtracts the +33 offset.
type Read struct {
	Bases []Base
	Qual  []byte
}

// Len is the read length L used throughout alignment.
func (r Read) Len() int { return len(r.Bases) }

// NewReadFromLetters builds a Read from raw ASCII bases and raw
// Phred+33 quality bytes.
func NewReadFromLetters(letters []byte, qual []byte) (Read, error) {
	if len(letters) != len(qual) {
		return Read{}, fmt.Errorf("bioseq: read has %d bases but %d quality scores", len(letters), len(qual))
	}
	return Read{Bases: EncodeSequence(letters), Qual: append([]byte(nil), qual...)}, nil
}

// RefWindow is the reference slice a Read is aligned against.
type RefWindow struct {
	Bases []Base
}

// Len is the reference window length used to size the DP matrix's columns.
func (w RefWindow) Len() int { return len(w.Bases) }

// NewRefWindowFromLetters encodes a raw ASCII reference slice.
func NewRefWindowFromLetters(letters []byte) RefWindow {
	return RefWindow{Bases: EncodeSequence(letters)}
}

// NewRefWindowFromFASTA reads a single FASTA record as a reference
// window using biogo's linear.Seq/fasta.Reader.
func NewRefWindowFromFASTA(r io.Reader) (RefWindow, string, error) {
	fr := fasta.NewReader(r, linear.NewSeq("", nil, alphabet.DNA))
	s, err := fr.Read()
	if err != nil {
		return RefWindow{}, "", fmt.Errorf("bioseq: reading FASTA reference: %w", err)
	}
	seq, ok := s.(*linear.Seq)
	if !ok {
		return RefWindow{}, "", fmt.Errorf("bioseq: unexpected sequence type %T from FASTA reader", s)
	}
	letters := make([]byte, seq.Len())
	for i := range letters {
		letters[i] = byte(seq.Seq[i])
	}
	return NewRefWindowFromLetters(letters), seq.Name(), nil
}
