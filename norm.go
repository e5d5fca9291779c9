package sv2p

import (
	"github.com/cyixuan/sv2p/ops"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const layerNormEpsilon = 1e-6

// A layerNorm normalizes each sample of a feature map to
// zero mean and unit variance over its full spatial extent,
// then applies a learned per-channel gain and bias.
type layerNorm struct {
	Depth  int
	RowLen int
	Gain   *anydiff.Var
	Bias   *anydiff.Var
}

func newLayerNorm(c anyvec.Creator, h, w, depth int) *layerNorm {
	gain := make([]float64, depth)
	for i := range gain {
		gain[i] = 1
	}
	return &layerNorm{
		Depth:  depth,
		RowLen: h * w * depth,
		Gain:   anydiff.NewVar(c.MakeVectorData(c.MakeNumericList(gain))),
		Bias:   anydiff.NewVar(c.MakeVector(depth)),
	}
}

func (l *layerNorm) apply(in anydiff.Res, batch int) anydiff.Res {
	c := in.Output().Creator()
	invLen := c.MakeNumeric(1 / float64(l.RowLen))

	mean := anydiff.Scale(ops.SumChunks(in, l.RowLen), invLen)
	centered := anydiff.Sub(in, ops.StretchRows(mean, l.RowLen))
	variance := anydiff.Scale(ops.SumChunks(anydiff.Mul(centered, centered),
		l.RowLen), invLen)
	inv := ops.Rsqrt(anydiff.AddScalar(variance, c.MakeNumeric(layerNormEpsilon)))
	normed := anydiff.Mul(centered, ops.StretchRows(inv, l.RowLen))

	tiles := batch * l.RowLen / l.Depth
	return anydiff.Add(anydiff.Mul(normed, ops.Repeat(l.Gain, tiles)),
		ops.Repeat(l.Bias, tiles))
}

// Parameters exposes the gain and bias for collection by
// anynet.AllParameters.
func (l *layerNorm) Parameters() []*anydiff.Var {
	return []*anydiff.Var{l.Gain, l.Bias}
}
