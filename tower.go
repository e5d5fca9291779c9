package sv2p

import (
	"github.com/cyixuan/sv2p/ops"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// tileConcat broadcasts a per-sample latent vector over the
// spatial extent of a feature map and concatenates it along
// the channel axis. A zero latent depth passes the layer
// through untouched.
func tileConcat(layer, latent anydiff.Res, batch, h, w, d, zd int) anydiff.Res {
	if zd == 0 {
		return layer
	}
	broad := ops.SpatialBroadcast(latent, batch, h, w, zd)
	return ops.DepthConcat(batch, h, w, []anydiff.Res{layer, broad},
		[]int{d, zd})
}

// A bottomTower encodes one frame (plus the action, reward,
// and latent inputs) down to a low-resolution bottleneck,
// producing two intermediate feature maps for the decoder's
// skip connections.
//
// It owns recurrent state slots 0 through 4.
type bottomTower struct {
	H     int
	W     int
	Depth int

	// Spatial extents after each stride-2 stage.
	H1, W1 int
	H2, W2 int
	H3, W3 int

	// LatentDepth is the channel count tile-concatenated
	// throughout the tower; BotLatent is the channel count
	// concatenated once at the bottleneck instead. At most
	// one of the two is nonzero.
	LatentDepth int
	BotLatent   int

	EncDepth0 int
	EncDepth1 int
	OutDepth  int

	Conv1  *sameConv
	Norm1  *layerNorm
	LSTM1  *convLSTM
	Norm2  *layerNorm
	LSTM2  *convLSTM
	Norm3  *layerNorm
	Conv2  *sameConv
	LSTM3  *convLSTM
	Norm4  *layerNorm
	LSTM4  *convLSTM
	Norm5  *layerNorm
	Conv3  *sameConv
	Action *injector
	Reward *injector
	Conv4  *sameConv
	LSTM5  *convLSTM
	Norm6  *layerNorm
}

func newBottomTower(c anyvec.Creator, conf *Config) *bottomTower {
	ls := conf.tinyify([]int{32, 32, 64, 64, 128, 64, 32})
	cs := conf.tinyify([]int{32})
	h, w, d := conf.FrameHeight, conf.FrameWidth, conf.FrameDepth

	var cz, zd int
	if conf.StochasticModel {
		if conf.ConcatLatent {
			cz = conf.LatentChannels
		} else {
			zd = conf.LatentChannels
		}
	}

	b := &bottomTower{H: h, W: w, Depth: d, LatentDepth: cz, BotLatent: zd}
	b.Conv1 = newSameConv(c, h+h%2, w+w%2, d+cz, cs[0], 5, 2, true)
	b.H1, b.W1 = b.Conv1.outHeight(), b.Conv1.outWidth()
	b.Norm1 = newLayerNorm(c, b.H1, b.W1, cs[0])
	b.LSTM1 = newConvLSTM(c, b.H1, b.W1, cs[0], ls[0])
	b.Norm2 = newLayerNorm(c, b.H1, b.W1, ls[0]+cz)
	b.LSTM2 = newConvLSTM(c, b.H1, b.W1, ls[0]+cz, ls[1])
	b.Norm3 = newLayerNorm(c, b.H1, b.W1, ls[1])

	b.Conv2 = newSameConv(c, b.H1+b.H1%2, b.W1+b.W1%2, ls[1], ls[1], 3, 2, true)
	b.H2, b.W2 = b.Conv2.outHeight(), b.Conv2.outWidth()
	b.LSTM3 = newConvLSTM(c, b.H2, b.W2, ls[1]+cz, ls[2])
	b.Norm4 = newLayerNorm(c, b.H2, b.W2, ls[2]+cz)
	b.LSTM4 = newConvLSTM(c, b.H2, b.W2, ls[2]+cz, ls[3])
	b.Norm5 = newLayerNorm(c, b.H2, b.W2, ls[3]+cz)

	d3 := ls[3] + cz
	b.Conv3 = newSameConv(c, b.H2+b.H2%2, b.W2+b.W2%2, d3, d3, 3, 2, true)
	b.H3, b.W3 = b.Conv3.outHeight(), b.Conv3.outWidth()

	b.Action = newInjector(c, conf.actionSize(), b.H3, b.W3, d3,
		conf.ConcatenateActions)
	mid := b.Action.outDepth()
	if conf.TwoFramePosterior {
		b.Reward = newInjector(c, conf.rewardSize(), b.H3, b.W3, mid, true)
		mid = b.Reward.outDepth()
	}
	b.Conv4 = newSameConv(c, b.H3, b.W3, mid+zd, d3, 1, 1, true)
	b.LSTM5 = newConvLSTM(c, b.H3, b.W3, d3, ls[4])
	b.Norm6 = newLayerNorm(c, b.H3, b.W3, ls[4])

	b.EncDepth0 = cs[0]
	b.EncDepth1 = ls[1] + cz
	b.OutDepth = ls[4] + cz
	return b
}

// apply encodes one timestep. The reward argument is only
// read when the tower was built with reward injection, and
// latent only when the model is stochastic.
func (b *bottomTower) apply(frame, action, reward, latent anydiff.Res,
	batch int, states StateBundle) (bottleneck, enc0, enc1 anydiff.Res,
	out StateBundle) {
	out = states
	cz := b.LatentDepth

	x := tileConcat(frame, latent, batch, b.H, b.W, b.Depth, cz)
	x = ops.Pad(batch, b.H, b.W, b.Depth+cz, x, b.H%2, b.W%2)
	x = b.Conv1.apply(x, batch)
	enc0 = b.Norm1.apply(x, batch)

	var hid anydiff.Res
	hid, out[0] = b.LSTM1.step(states[0], enc0, batch)
	hid = tileConcat(hid, latent, batch, b.H1, b.W1, b.LSTM1.Filters, cz)
	hid = b.Norm2.apply(hid, batch)
	hid, out[1] = b.LSTM2.step(states[1], hid, batch)
	hid = b.Norm3.apply(hid, batch)

	hid = ops.Pad(batch, b.H1, b.W1, b.LSTM2.Filters, hid, b.H1%2, b.W1%2)
	hid = b.Conv2.apply(hid, batch)
	enc1 = tileConcat(hid, latent, batch, b.H2, b.W2, b.LSTM2.Filters, cz)

	hid, out[2] = b.LSTM3.step(states[2], enc1, batch)
	hid = tileConcat(hid, latent, batch, b.H2, b.W2, b.LSTM3.Filters, cz)
	hid = b.Norm4.apply(hid, batch)
	hid, out[3] = b.LSTM4.step(states[3], hid, batch)
	hid = tileConcat(hid, latent, batch, b.H2, b.W2, b.LSTM4.Filters, cz)
	hid = b.Norm5.apply(hid, batch)

	hid = ops.Pad(batch, b.H2, b.W2, b.LSTM4.Filters+cz, hid,
		b.H2%2, b.W2%2)
	hid = b.Conv3.apply(hid, batch)

	hid = b.Action.apply(hid, action, batch)
	depth := b.Action.outDepth()
	if b.Reward != nil {
		hid = b.Reward.apply(hid, reward, batch)
		depth = b.Reward.outDepth()
	}
	if b.BotLatent > 0 {
		broad := ops.SpatialBroadcast(latent, batch, b.H3, b.W3, b.BotLatent)
		hid = ops.DepthConcat(batch, b.H3, b.W3,
			[]anydiff.Res{hid, broad}, []int{depth, b.BotLatent})
	}
	hid = b.Conv4.apply(hid, batch)

	hid, out[4] = b.LSTM5.step(states[4], hid, batch)
	hid = b.Norm6.apply(hid, batch)
	bottleneck = tileConcat(hid, latent, batch, b.H3, b.W3,
		b.LSTM5.Filters, cz)
	return
}

func (b *bottomTower) Parameters() []*anydiff.Var {
	layers := []interface {
		Parameters() []*anydiff.Var
	}{
		b.Conv1, b.Norm1, b.LSTM1, b.Norm2, b.LSTM2, b.Norm3,
		b.Conv2, b.LSTM3, b.Norm4, b.LSTM4, b.Norm5, b.Conv3,
		b.Action, b.Conv4, b.LSTM5, b.Norm6,
	}
	var res []*anydiff.Var
	for _, l := range layers {
		res = append(res, l.Parameters()...)
	}
	if b.Reward != nil {
		res = append(res, b.Reward.Parameters()...)
	}
	return res
}

// A predictiveTower decodes the bottleneck back up to frame
// resolution through the encoder's skip connections and
// composes the next frame from the transformation heads.
//
// It owns recurrent state slots 5 and 6.
type predictiveTower struct {
	H     int
	W     int
	Depth int

	H1, W1 int
	H2, W2 int
	H3, W3 int

	LatentDepth int
	EncDepth0   int
	EncDepth1   int
	InDepth     int

	Option     string
	NumMasks   int
	KernelSize int
	ReluShift  float64

	Up1   *upsampler
	LSTM6 *convLSTM
	Norm7 *layerNorm
	Up2   *upsampler
	LSTM7 *convLSTM
	Norm8 *layerNorm
	Up3   *upsampler
	Norm9 *layerNorm

	Direct *sameConv
	DNA    *sameConv
	CDNA   *anynet.FC
	Masks  *sameConv
}

func newPredictiveTower(c anyvec.Creator, conf *Config,
	b *bottomTower) *predictiveTower {
	ls := conf.tinyify([]int{32, 32, 64, 64, 128, 64, 32})
	cz := b.LatentDepth

	p := &predictiveTower{
		H:     b.H,
		W:     b.W,
		Depth: b.Depth,

		H1: b.H1, W1: b.W1,
		H2: b.H2, W2: b.W2,
		H3: b.H3, W3: b.W3,

		LatentDepth: cz,
		EncDepth0:   b.EncDepth0,
		EncDepth1:   b.EncDepth1,
		InDepth:     b.OutDepth,

		Option:     conf.Options,
		NumMasks:   conf.NumMasks,
		KernelSize: conf.DNAKernelSize,
		ReluShift:  conf.ReluShift,
	}

	p.Up1 = newUpsampler(c, conf.upsampleMethod(), b.H3, b.W3,
		p.InDepth, p.InDepth)
	p.LSTM6 = newConvLSTM(c, b.H2, b.W2, p.InDepth+cz, ls[5])
	p.Norm7 = newLayerNorm(c, b.H2, b.W2, ls[5]+cz)

	d7 := ls[5] + cz + b.EncDepth1
	p.Up2 = newUpsampler(c, conf.upsampleMethod(), b.H2, b.W2, d7, d7)
	p.LSTM7 = newConvLSTM(c, b.H1, b.W1, d7+cz, ls[6])
	p.Norm8 = newLayerNorm(c, b.H1, b.W1, ls[6])

	d8 := ls[6] + b.EncDepth0
	p.Up3 = newUpsampler(c, conf.upsampleMethod(), b.H1, b.W1, d8, d8)
	p.Norm9 = newLayerNorm(c, 2*b.H1, 2*b.W1, d8)

	d9 := d8 + cz
	kk := conf.DNAKernelSize * conf.DNAKernelSize
	switch conf.Options {
	case OptionDNA:
		p.DNA = newSameConv(c, b.H, b.W, d9, kk, 1, 1, false)
	case OptionCDNA:
		p.Direct = newSameConv(c, b.H, b.W, d9, b.Depth, 1, 1, false)
		p.CDNA = anynet.NewFC(c, b.H3*b.W3*p.InDepth, kk*conf.NumMasks)
	default:
		p.Direct = newSameConv(c, b.H, b.W, d9, b.Depth, 1, 1, false)
	}
	p.Masks = newSameConv(c, b.H, b.W, d9, conf.NumMasks+1, 1, 1, false)
	return p
}

// apply decodes one timestep into the next frame. The input
// argument is the frame the tower was fed, which anchors the
// static background and the pixel transformations.
func (p *predictiveTower) apply(bottleneck, enc0, enc1, input,
	latent anydiff.Res, batch int, states StateBundle) (anydiff.Res,
	StateBundle) {
	out := states
	cz := p.LatentDepth

	x := p.Up1.apply(bottleneck, batch)
	x = ops.Crop(batch, 2*p.H3, 2*p.W3, p.InDepth, x, p.H2, p.W2)
	x = tileConcat(x, latent, batch, p.H2, p.W2, p.InDepth, cz)
	var hid anydiff.Res
	hid, out[5] = p.LSTM6.step(states[5], x, batch)
	hid = tileConcat(hid, latent, batch, p.H2, p.W2, p.LSTM6.Filters, cz)
	hid = p.Norm7.apply(hid, batch)
	hid = ops.DepthConcat(batch, p.H2, p.W2, []anydiff.Res{hid, enc1},
		[]int{p.LSTM6.Filters + cz, p.EncDepth1})

	d7 := p.LSTM6.Filters + cz + p.EncDepth1
	x = p.Up2.apply(hid, batch)
	x = ops.Crop(batch, 2*p.H2, 2*p.W2, d7, x, p.H1, p.W1)
	x = tileConcat(x, latent, batch, p.H1, p.W1, d7, cz)
	hid, out[6] = p.LSTM7.step(states[6], x, batch)
	hid = p.Norm8.apply(hid, batch)
	hid = ops.DepthConcat(batch, p.H1, p.W1, []anydiff.Res{hid, enc0},
		[]int{p.LSTM7.Filters, p.EncDepth0})

	d8 := p.LSTM7.Filters + p.EncDepth0
	x = p.Up3.apply(hid, batch)
	x = p.Norm9.apply(x, batch)
	x = tileConcat(x, latent, batch, 2*p.H1, 2*p.W1, d8, cz)
	x = ops.Crop(batch, 2*p.H1, 2*p.W1, d8+cz, x, p.H, p.W)

	return p.compose(x, input, bottleneck, batch), out
}

// compose mixes the input frame with the heads' outputs
// under a softmax mask. The first mask keeps input pixels,
// the second weighs the direct (or DNA) head, and the rest
// weigh the compositional kernels.
func (p *predictiveTower) compose(head, input, bottleneck anydiff.Res,
	batch int) anydiff.Res {
	n := p.NumMasks
	masks := ops.Softmax(p.Masks.apply(head, batch), n+1)
	maskChan := func(i int) anydiff.Res {
		m := ops.DepthSlice(batch, p.H, p.W, n+1, masks, i, i+1)
		return ops.StretchRows(m, p.Depth)
	}

	out := anydiff.Mul(input, maskChan(0))
	switch p.Option {
	case OptionDNA:
		kern := p.DNA.apply(head, batch)
		moved := p.dnaTransform(input, kern, batch)
		out = anydiff.Add(out, anydiff.Mul(moved, maskChan(1)))
	case OptionCDNA:
		direct := anydiff.Sigmoid(p.Direct.apply(head, batch))
		out = anydiff.Add(out, anydiff.Mul(direct, maskChan(1)))
		if n >= 2 {
			out = anydiff.Add(out,
				p.cdnaTransform(input, bottleneck, masks, batch))
		}
	default:
		direct := anydiff.Sigmoid(p.Direct.apply(head, batch))
		out = anydiff.Add(out, anydiff.Mul(direct, maskChan(1)))
	}
	return out
}

// shiftedReLU clips kernel weights to a small positive floor
// so that the normalizing sums stay away from zero.
func (p *predictiveTower) shiftedReLU(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	shifted := anydiff.AddScalar(in, c.MakeNumeric(-p.ReluShift))
	return anydiff.AddScalar(anydiff.ClipPos(shifted),
		c.MakeNumeric(p.ReluShift))
}

// dnaTransform convolves every pixel of the input frame with
// its own predicted kernel.
func (p *predictiveTower) dnaTransform(input, rawKern anydiff.Res,
	batch int) anydiff.Res {
	kk := p.KernelSize * p.KernelSize
	kern := p.shiftedReLU(rawKern)
	sums := ops.SumChunks(kern, kk)
	kern = anydiff.Mul(kern, ops.StretchRows(ops.Reciprocal(sums), kk))

	patches := ops.Patches(batch, p.H, p.W, p.Depth, input, p.KernelSize)
	kern = ops.RepeatRows(kern, kk, p.Depth)
	return ops.SumChunks(anydiff.Mul(patches, kern), kk)
}

// cdnaTransform applies a bank of per-sample kernels to the
// input frame and sums the results under their mask weights.
// Mask channel 1 belongs to the direct head, so the kernels
// take channels 2 and up and the last kernel goes unused.
func (p *predictiveTower) cdnaTransform(input, bottleneck, masks anydiff.Res,
	batch int) anydiff.Res {
	c := input.Output().Creator()
	kk := p.KernelSize * p.KernelSize
	n := p.NumMasks
	raw := p.shiftedReLU(p.CDNA.Apply(bottleneck, batch))

	onesRow := &anydiff.Matrix{Data: ops.Ones(c, kk), Rows: 1, Cols: kk}
	patches := ops.Patches(batch, p.H, p.W, p.Depth, input, p.KernelSize)
	pixels := p.H * p.W * p.Depth

	parts := make([]anydiff.Res, batch)
	for b := 0; b < batch; b++ {
		kern := anydiff.Slice(raw, b*kk*n, (b+1)*kk*n)
		sums := anydiff.MatMul(false, false, onesRow,
			&anydiff.Matrix{Data: kern, Rows: kk, Cols: n})
		inv := ops.Repeat(ops.Reciprocal(sums.Data), kk)
		kern = anydiff.Mul(kern, inv)
		pb := anydiff.Slice(patches, b*pixels*kk, (b+1)*pixels*kk)
		moved := anydiff.MatMul(false, false,
			&anydiff.Matrix{Data: pb, Rows: pixels, Cols: kk},
			&anydiff.Matrix{Data: kern, Rows: kk, Cols: n})
		parts[b] = moved.Data
	}
	transformed := ops.Concat(parts...)

	tail := ops.DepthSlice(batch, p.H, p.W, n+1, masks, 2, n+1)
	zero := anydiff.NewConst(c.MakeVector(batch * p.H * p.W))
	weights := ops.DepthConcat(batch, p.H, p.W, []anydiff.Res{tail, zero},
		[]int{n - 1, 1})
	weights = ops.RepeatRows(weights, n, p.Depth)
	return ops.SumChunks(anydiff.Mul(transformed, weights), n)
}

func (p *predictiveTower) Parameters() []*anydiff.Var {
	layers := []interface {
		Parameters() []*anydiff.Var
	}{p.Up1, p.LSTM6, p.Norm7, p.Up2, p.LSTM7, p.Norm8, p.Up3, p.Norm9}
	var res []*anydiff.Var
	for _, l := range layers {
		res = append(res, l.Parameters()...)
	}
	if p.Direct != nil {
		res = append(res, p.Direct.Parameters()...)
	}
	if p.DNA != nil {
		res = append(res, p.DNA.Parameters()...)
	}
	if p.CDNA != nil {
		res = append(res, p.CDNA.Parameters()...)
	}
	return append(res, p.Masks.Parameters()...)
}
