package sv2p

import (
	"github.com/cyixuan/sv2p/ops"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anyvec"
)

// A rewardPredictor maps a short buffer of frames (plus the
// action, reward, and latent inputs) to a reward vector. It
// runs on a small strided convolutional stack of its own
// rather than sharing the frame towers.
type rewardPredictor struct {
	H      int
	W      int
	Depth  int
	BufLen int

	Norm0  *anyconv.BatchNorm
	Conv1  *sameConv
	Norm1  *anyconv.BatchNorm
	Action *injector
	Reward *injector
	Latent *injector
	Conv2  *sameConv
	Norm2  *anyconv.BatchNorm
	Conv3  *sameConv
	Decode *anynet.FC
}

func newRewardPredictor(c anyvec.Creator, conf *Config) *rewardPredictor {
	sizes := conf.tinyify([]int{32, 16, 8})
	h, w, d := conf.FrameHeight, conf.FrameWidth, conf.FrameDepth

	bufLen := conf.bufferSize()
	if conf.TwoFramePosterior {
		bufLen = 1
	}

	r := &rewardPredictor{H: h, W: w, Depth: d, BufLen: bufLen}
	r.Norm0 = anyconv.NewBatchNorm(c, bufLen*d)
	r.Conv1 = newSameConv(c, h, w, bufLen*d, sizes[0], 3, 2, true)
	h1, w1 := r.Conv1.outHeight(), r.Conv1.outWidth()
	r.Norm1 = anyconv.NewBatchNorm(c, sizes[0])

	r.Action = newInjector(c, conf.actionSize(), h1, w1, sizes[0],
		conf.ConcatenateActions)
	mid := r.Action.outDepth()
	if conf.TwoFramePosterior {
		r.Reward = newInjector(c, conf.rewardSize(), h1, w1, mid, true)
		mid = r.Reward.outDepth()
	}
	if conf.StochasticModel {
		r.Latent = newInjector(c, conf.LatentChannels, h1, w1, mid, true)
		mid = r.Latent.outDepth()
	}

	r.Conv2 = newSameConv(c, h1, w1, mid, sizes[1], 3, 2, true)
	r.Norm2 = anyconv.NewBatchNorm(c, sizes[1])
	r.Conv3 = newSameConv(c, r.Conv2.outHeight(), r.Conv2.outWidth(),
		sizes[1], sizes[2], 3, 2, true)
	r.Decode = anynet.NewFC(c,
		r.Conv3.outHeight()*r.Conv3.outWidth()*sizes[2], conf.rewardSize())
	return r
}

func (r *rewardPredictor) apply(frames []anydiff.Res, action, reward,
	latent anydiff.Res, batch int) anydiff.Res {
	if len(frames) != r.BufLen {
		panic("wrong reward buffer length")
	}
	depths := make([]int, len(frames))
	for i := range depths {
		depths[i] = r.Depth
	}
	x := ops.DepthConcat(batch, r.H, r.W, frames, depths)
	x = r.Norm0.Apply(x, batch)
	x = r.Conv1.apply(x, batch)
	x = r.Norm1.Apply(x, batch)

	x = r.Action.apply(x, action, batch)
	if r.Reward != nil {
		x = r.Reward.apply(x, reward, batch)
	}
	if r.Latent != nil {
		x = r.Latent.apply(x, latent, batch)
	}

	x = r.Conv2.apply(x, batch)
	x = r.Norm2.Apply(x, batch)
	x = r.Conv3.apply(x, batch)
	return r.Decode.Apply(x, batch)
}

func (r *rewardPredictor) Parameters() []*anydiff.Var {
	layers := []interface {
		Parameters() []*anydiff.Var
	}{r.Norm0, r.Conv1, r.Norm1, r.Action, r.Conv2, r.Norm2, r.Conv3,
		r.Decode}
	var res []*anydiff.Var
	for _, l := range layers {
		res = append(res, l.Parameters()...)
	}
	if r.Reward != nil {
		res = append(res, r.Reward.Parameters()...)
	}
	if r.Latent != nil {
		res = append(res, r.Latent.Parameters()...)
	}
	return res
}
