// Package dotdump renders one cell's H/E/F predecessor candidates,
// exactly as AnalyzeCell computes them, to a DOT graph for visual
// inspection of backtrace uniqueness and exhaustion (which candidates
// a walk could still take from a given cell, and which have already
// been claimed by an earlier walk).
package dotdump

import (
	"fmt"
	"os"

	"github.com/awalterschulze/gographviz"

	"github.com/kk-code-lab/stripedsw/internal/backtrace"
	"github.com/kk-code-lab/stripedsw/internal/bioseq"
	"github.com/kk-code-lab/stripedsw/internal/dpkernel"
	"github.com/kk-code-lab/stripedsw/internal/mask"
	"github.com/kk-code-lab/stripedsw/internal/profile"
	"github.com/kk-code-lab/stripedsw/internal/scoring"
)

func nodeID(mt dpkernel.MatrixType, row, col int) string {
	return fmt.Sprintf("%s_%d_%d", mt, row, col)
}

// CellGraph builds the DOT graph for one cell's candidate set: the
// cell itself plus one edge per still-available predecessor, each edge
// labeled with its transition kind; the root node is drawn Green and
// the predecessor nodes Blue.
func CellGraph(mat *dpkernel.Matrix, masks *mask.Masks, model *scoring.Model, prof *profile.Profile, ref bioseq.RefWindow, bias, row, col int, mt dpkernel.MatrixType) (*gographviz.Graph, error) {
	g := gographviz.NewGraph()
	g.SetName("G")
	g.SetDir(true)
	g.SetStrict(false)

	root := nodeID(mt, row, col)
	cands, neverHadCandidates := backtrace.AnalyzeCell(mat, masks, model, prof, ref, bias, row, col, mt)

	rootAttrs := map[string]string{"color": "Green", "shape": "box"}
	if len(cands) == 0 {
		if neverHadCandidates {
			rootAttrs["label"] = fmt.Sprintf("\"%s (origin)\"", root)
		} else {
			rootAttrs["label"] = fmt.Sprintf("\"%s (exhausted)\"", root)
		}
	}
	if err := g.AddNode("G", root, rootAttrs); err != nil {
		return nil, fmt.Errorf("dotdump: adding root node: %w", err)
	}

	for _, c := range cands {
		dst := nodeID(c.Cell.Mat, c.Cell.Row, c.Cell.Col)
		if !g.IsNode(dst) {
			if err := g.AddNode("G", dst, map[string]string{"color": "Blue"}); err != nil {
				return nil, fmt.Errorf("dotdump: adding predecessor node: %w", err)
			}
		}
		attrs := map[string]string{"label": fmt.Sprintf("\"%s\"", c.Transition)}
		if err := g.AddEdge(root, dst, true, attrs); err != nil {
			return nil, fmt.Errorf("dotdump: adding candidate edge: %w", err)
		}
	}
	return g, nil
}

// WriteCellGraph renders CellGraph and writes it to path as DOT
// source, following the teacher's create-file-then-WriteString
// pattern for graph dumps.
func WriteCellGraph(path string, mat *dpkernel.Matrix, masks *mask.Masks, model *scoring.Model, prof *profile.Profile, ref bioseq.RefWindow, bias, row, col int, mt dpkernel.MatrixType) error {
	g, err := CellGraph(mat, masks, model, prof, ref, bias, row, col, mt)
	if err != nil {
		return err
	}
	fp, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dotdump: creating %s: %w", path, err)
	}
	defer fp.Close()
	if _, err := fp.WriteString(g.String()); err != nil {
		return fmt.Errorf("dotdump: writing %s: %w", path, err)
	}
	return nil
}
