package sv2p

import (
	"github.com/cyixuan/sv2p/ops"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// An injector merges a low-dimensional per-sample vector
// (action, reward, or flattened latent) into a spatial
// feature map.
//
// In concat mode the vector is embedded to the map's depth,
// broadcast spatially, and concatenated along the channel
// axis, doubling the depth. In gate mode the broadcast
// embedding multiplies the map element-wise instead.
type injector struct {
	Concat bool
	H      int
	W      int
	Depth  int
	Embed  *anynet.FC
}

func newInjector(c anyvec.Creator, inDim, h, w, depth int, concat bool) *injector {
	return &injector{
		Concat: concat,
		H:      h,
		W:      w,
		Depth:  depth,
		Embed:  anynet.NewFC(c, inDim, depth),
	}
}

// outDepth is the channel count of the merged map.
func (j *injector) outDepth() int {
	if j.Concat {
		return 2 * j.Depth
	}
	return j.Depth
}

func (j *injector) apply(layer, in anydiff.Res, batch int) anydiff.Res {
	emb := j.Embed.Apply(in, batch)
	broad := ops.SpatialBroadcast(emb, batch, j.H, j.W, j.Depth)
	if j.Concat {
		return ops.DepthConcat(batch, j.H, j.W,
			[]anydiff.Res{layer, broad}, []int{j.Depth, j.Depth})
	}
	return anydiff.Mul(layer, broad)
}

func (j *injector) Parameters() []*anydiff.Var {
	return j.Embed.Parameters()
}
