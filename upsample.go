package sv2p

import (
	"github.com/cyixuan/sv2p/ops"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// An upsampler doubles the spatial extent of a feature map
// with a learned convolution on top of a fixed resize.
//
// The "nn_upsample_conv" method duplicates pixels before
// the convolution. The "conv2d_transpose" method
// interleaves zeros, making the pair equivalent to a
// stride-2 transposed convolution.
type upsampler struct {
	Method  string
	H       int
	W       int
	Depth   int
	Filters int
	Conv    *sameConv
}

func newUpsampler(c anyvec.Creator, method string, h, w, depth,
	filters int) *upsampler {
	return &upsampler{
		Method:  method,
		H:       h,
		W:       w,
		Depth:   depth,
		Filters: filters,
		Conv:    newSameConv(c, 2*h, 2*w, depth, filters, 3, 1, true),
	}
}

func (u *upsampler) apply(in anydiff.Res, batch int) anydiff.Res {
	var up anydiff.Res
	if u.Method == UpsampleTranspose {
		up = ops.UpsampleZeros(batch, u.H, u.W, u.Depth, in)
	} else {
		up = ops.UpsampleNearest(batch, u.H, u.W, u.Depth, in)
	}
	return u.Conv.apply(up, batch)
}

func (u *upsampler) Parameters() []*anydiff.Var {
	return u.Conv.Parameters()
}
