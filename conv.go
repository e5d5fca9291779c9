package sv2p

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet/anyconv"
	"github.com/unixpickle/anyvec"
)

// A sameConv is a convolution with TensorFlow-style SAME
// padding: the output spatial extent is the input extent
// divided by the stride, rounded up, with any necessary
// zero padding split between the two sides (extra on the
// bottom and right).
type sameConv struct {
	Pad  *anyconv.Padding
	Conv *anyconv.Conv
	ReLU bool
}

func newSameConv(c anyvec.Creator, h, w, depth, filters, kernel, stride int,
	relu bool) *sameConv {
	outH := (h + stride - 1) / stride
	outW := (w + stride - 1) / stride
	padH := (outH-1)*stride + kernel - h
	padW := (outW-1)*stride + kernel - w
	if padH < 0 {
		padH = 0
	}
	if padW < 0 {
		padW = 0
	}

	res := &sameConv{ReLU: relu}
	if padH > 0 || padW > 0 {
		res.Pad = &anyconv.Padding{
			InputWidth:    w,
			InputHeight:   h,
			InputDepth:    depth,
			PaddingTop:    padH / 2,
			PaddingBottom: padH - padH/2,
			PaddingLeft:   padW / 2,
			PaddingRight:  padW - padW/2,
		}
	}
	res.Conv = &anyconv.Conv{
		FilterCount:  filters,
		FilterWidth:  kernel,
		FilterHeight: kernel,
		StrideX:      stride,
		StrideY:      stride,
		InputWidth:   w + padW,
		InputHeight:  h + padH,
		InputDepth:   depth,
	}
	res.Conv.InitRand(c)
	return res
}

func (s *sameConv) apply(in anydiff.Res, batch int) anydiff.Res {
	out := in
	if s.Pad != nil {
		out = s.Pad.Apply(out, batch)
	}
	out = s.Conv.Apply(out, batch)
	if s.ReLU {
		out = anydiff.ClipPos(out)
	}
	return out
}

func (s *sameConv) outHeight() int {
	return s.Conv.OutputHeight()
}

func (s *sameConv) outWidth() int {
	return s.Conv.OutputWidth()
}

// Parameters exposes the filter weights for collection by
// anynet.AllParameters.
func (s *sameConv) Parameters() []*anydiff.Var {
	return s.Conv.Parameters()
}
