package sv2p

import (
	"math/rand"

	"github.com/cyixuan/sv2p/ops"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// A LatentTower infers an approximate posterior over the
// stochastic scene variable from a list of frames.
type LatentTower interface {
	// Posterior returns the mean and standard deviation of
	// a diagonal Gaussian, each packed as (batch, channels).
	Posterior(frames []anydiff.Res, batch int) (mean, std anydiff.Res)
}

// A ConvLatentTower is the default LatentTower: a small
// convolutional encoder over channel-concatenated frames
// with dense mean and log-variance heads.
type ConvLatentTower struct {
	H         int
	W         int
	Depth     int
	NumFrames int
	Channels  int

	Conv1    *sameConv
	Conv2    *sameConv
	MeanHead *anynet.FC
	VarHead  *anynet.FC
}

func newConvLatentTower(c anyvec.Creator, conf *Config,
	numFrames int) *ConvLatentTower {
	sizes := conf.tinyify([]int{32, 64})
	h, w, d := conf.FrameHeight, conf.FrameWidth, conf.FrameDepth
	conv1 := newSameConv(c, h, w, d*numFrames, sizes[0], 3, 2, true)
	conv2 := newSameConv(c, conv1.outHeight(), conv1.outWidth(), sizes[0],
		sizes[1], 3, 2, true)
	flat := conv2.outHeight() * conv2.outWidth() * sizes[1]
	return &ConvLatentTower{
		H:         h,
		W:         w,
		Depth:     d,
		NumFrames: numFrames,
		Channels:  conf.LatentChannels,
		Conv1:     conv1,
		Conv2:     conv2,
		MeanHead:  anynet.NewFC(c, flat, conf.LatentChannels),
		VarHead:   anynet.NewFC(c, flat, conf.LatentChannels),
	}
}

// Posterior implements the LatentTower interface.
func (t *ConvLatentTower) Posterior(frames []anydiff.Res, batch int) (anydiff.Res,
	anydiff.Res) {
	if len(frames) != t.NumFrames {
		panic("wrong number of posterior frames")
	}
	c := frames[0].Output().Creator()
	depths := make([]int, len(frames))
	for i := range depths {
		depths[i] = t.Depth
	}
	x := ops.DepthConcat(batch, t.H, t.W, frames, depths)
	x = t.Conv1.apply(x, batch)
	x = t.Conv2.apply(x, batch)
	mean := t.MeanHead.Apply(x, batch)
	logVar := t.VarHead.Apply(x, batch)
	std := anydiff.Exp(anydiff.Scale(logVar, c.MakeNumeric(0.5)))
	return mean, std
}

// Parameters exposes the tower's weights.
func (t *ConvLatentTower) Parameters() []*anydiff.Var {
	res := append([]*anydiff.Var{}, t.Conv1.Parameters()...)
	res = append(res, t.Conv2.Parameters()...)
	res = append(res, t.MeanHead.Parameters()...)
	return append(res, t.VarHead.Parameters()...)
}

// GaussianSample draws mean + std*eps with eps from the
// standard normal. The noise is a constant with respect to
// differentiation, so gradients flow into mean and std via
// the reparameterization trick.
func GaussianSample(gen *rand.Rand, mean, std anydiff.Res) anydiff.Res {
	c := mean.Output().Creator()
	noise := c.MakeVector(mean.Output().Len())
	anyvec.Rand(noise, anyvec.Normal, gen)
	return anydiff.Add(mean, anydiff.Mul(std, anydiff.NewConst(noise)))
}

// KLDivergence is the batch-mean KL divergence between the
// diagonal Gaussian (mean, std) and the standard normal,
// as a single-component tensor.
func KLDivergence(mean, std anydiff.Res, batch int) anydiff.Res {
	c := mean.Output().Creator()
	terms := anydiff.AddScalar(
		anydiff.Sub(
			anydiff.Add(anydiff.Mul(mean, mean), anydiff.Mul(std, std)),
			anydiff.Scale(anydiff.Log(std), c.MakeNumeric(2.0)),
		),
		c.MakeNumeric(-1.0),
	)
	return anydiff.Scale(ops.SumAll(terms), c.MakeNumeric(0.5/float64(batch)))
}
