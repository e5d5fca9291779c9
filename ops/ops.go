// Package ops provides differentiable operations on packed
// spatial tensors.
//
// A spatial tensor is an anydiff.Res holding a batch of
// feature maps in batch-major NHWC order: sample by sample,
// row by row, column by column, with channels innermost.
// This matches the packing convention of anyseq batches,
// where each timestep is one packed batch vector.
package ops

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A mapperRes reindexes its input through an anyvec.Mapper.
// The forward pass is a gather; the backward pass scatters
// the upstream gradient through MapTranspose.
type mapperRes struct {
	In  anydiff.Res
	M   anyvec.Mapper
	Pad bool
	Out anyvec.Vector
}

// mapIndices gathers in[table[i]] for every output index.
//
// If pad is true, the table may additionally address index
// in.Len(), which reads as zero and discards gradients.
func mapIndices(in anydiff.Res, table []int, pad bool) anydiff.Res {
	c := in.Output().Creator()
	srcLen := in.Output().Len()
	src := in.Output()
	if pad {
		src = c.Concat(src, c.MakeVector(1))
		srcLen++
	}
	m := c.MakeMapper(srcLen, table)
	out := c.MakeVector(len(table))
	m.Map(src, out)
	return &mapperRes{In: in, M: m, Pad: pad, Out: out}
}

func (m *mapperRes) Output() anyvec.Vector {
	return m.Out
}

func (m *mapperRes) Vars() anydiff.VarSet {
	return m.In.Vars()
}

func (m *mapperRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	c := u.Creator()
	down := c.MakeVector(m.M.InSize())
	m.M.MapTranspose(u, down)
	if m.Pad {
		down = down.Slice(0, down.Len()-1)
	}
	m.In.Propagate(down, g)
}

type concatRes struct {
	Ins []anydiff.Res
	Out anyvec.Vector
	V   anydiff.VarSet
}

// Concat joins tensors end to end.
func Concat(ins ...anydiff.Res) anydiff.Res {
	if len(ins) == 0 {
		panic("need at least one tensor")
	}
	if len(ins) == 1 {
		return ins[0]
	}
	c := ins[0].Output().Creator()
	vecs := make([]anyvec.Vector, len(ins))
	vars := anydiff.VarSet{}
	for i, in := range ins {
		vecs[i] = in.Output()
		vars = anydiff.MergeVarSets(vars, in.Vars())
	}
	return &concatRes{Ins: ins, Out: c.Concat(vecs...), V: vars}
}

func (c *concatRes) Output() anyvec.Vector {
	return c.Out
}

func (c *concatRes) Vars() anydiff.VarSet {
	return c.V
}

func (c *concatRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	var start int
	for _, in := range c.Ins {
		length := in.Output().Len()
		if g.Intersects(in.Vars()) {
			in.Propagate(u.Slice(start, start+length), g)
		}
		start += length
	}
}
