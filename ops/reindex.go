package ops

import "github.com/unixpickle/anydiff"

// spatialIndex computes the packed offset of (b, y, x, ch)
// in a batch-major NHWC tensor.
func spatialIndex(h, w, d, b, y, x, ch int) int {
	return ((b*h+y)*w+x)*d + ch
}

// DepthConcat concatenates feature maps along the channel
// axis. All maps must share the batch size and spatial
// dimensions; depths[i] is the channel count of maps[i].
func DepthConcat(batch, h, w int, maps []anydiff.Res, depths []int) anydiff.Res {
	if len(maps) != len(depths) || len(maps) == 0 {
		panic("mismatched map and depth counts")
	}
	if len(maps) == 1 {
		return maps[0]
	}
	var total int
	offsets := make([]int, len(maps))
	for i, d := range depths {
		offsets[i] = total
		total += batch * h * w * d
	}
	var outDepth int
	for _, d := range depths {
		outDepth += d
	}
	table := make([]int, 0, batch*h*w*outDepth)
	for b := 0; b < batch; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for i, d := range depths {
					base := offsets[i] + spatialIndex(h, w, d, b, y, x, 0)
					for ch := 0; ch < d; ch++ {
						table = append(table, base+ch)
					}
				}
			}
		}
	}
	return mapIndices(Concat(maps...), table, false)
}

// DepthSlice extracts the channel range [from, to).
func DepthSlice(batch, h, w, d int, in anydiff.Res, from, to int) anydiff.Res {
	if from < 0 || to > d || from >= to {
		panic("channel range out of bounds")
	}
	table := make([]int, 0, batch*h*w*(to-from))
	for b := 0; b < batch; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for ch := from; ch < to; ch++ {
					table = append(table, spatialIndex(h, w, d, b, y, x, ch))
				}
			}
		}
	}
	return mapIndices(in, table, false)
}

// Crop keeps the top-left newH by newW region of each map.
func Crop(batch, h, w, d int, in anydiff.Res, newH, newW int) anydiff.Res {
	if newH > h || newW > w {
		panic("crop cannot enlarge")
	}
	if newH == h && newW == w {
		return in
	}
	table := make([]int, 0, batch*newH*newW*d)
	for b := 0; b < batch; b++ {
		for y := 0; y < newH; y++ {
			for x := 0; x < newW; x++ {
				for ch := 0; ch < d; ch++ {
					table = append(table, spatialIndex(h, w, d, b, y, x, ch))
				}
			}
		}
	}
	return mapIndices(in, table, false)
}

// Pad zero-pads each map at the bottom and right.
func Pad(batch, h, w, d int, in anydiff.Res, bottom, right int) anydiff.Res {
	if bottom == 0 && right == 0 {
		return in
	}
	zero := batch * h * w * d
	table := make([]int, 0, batch*(h+bottom)*(w+right)*d)
	for b := 0; b < batch; b++ {
		for y := 0; y < h+bottom; y++ {
			for x := 0; x < w+right; x++ {
				for ch := 0; ch < d; ch++ {
					if y < h && x < w {
						table = append(table, spatialIndex(h, w, d, b, y, x, ch))
					} else {
						table = append(table, zero)
					}
				}
			}
		}
	}
	return mapIndices(in, table, true)
}

// SpatialBroadcast tiles a batch of d-dimensional vectors
// over an h by w spatial extent.
func SpatialBroadcast(in anydiff.Res, batch, h, w, d int) anydiff.Res {
	table := make([]int, 0, batch*h*w*d)
	for b := 0; b < batch; b++ {
		for i := 0; i < h*w; i++ {
			for ch := 0; ch < d; ch++ {
				table = append(table, b*d+ch)
			}
		}
	}
	return mapIndices(in, table, false)
}

// StretchRows repeats each component of in count times.
func StretchRows(in anydiff.Res, count int) anydiff.Res {
	n := in.Output().Len()
	table := make([]int, 0, n*count)
	for i := 0; i < n; i++ {
		for j := 0; j < count; j++ {
			table = append(table, i)
		}
	}
	return mapIndices(in, table, false)
}

// RepeatRows repeats each rowLen-sized row of in count
// times in place.
func RepeatRows(in anydiff.Res, rowLen, count int) anydiff.Res {
	n := in.Output().Len()
	if n%rowLen != 0 {
		panic("row length must divide the tensor size")
	}
	table := make([]int, 0, n*count)
	for r := 0; r < n/rowLen; r++ {
		for j := 0; j < count; j++ {
			for i := 0; i < rowLen; i++ {
				table = append(table, r*rowLen+i)
			}
		}
	}
	return mapIndices(in, table, false)
}

// Repeat tiles the whole of in count times.
func Repeat(in anydiff.Res, count int) anydiff.Res {
	n := in.Output().Len()
	table := make([]int, 0, n*count)
	for i := 0; i < count; i++ {
		for j := 0; j < n; j++ {
			table = append(table, j)
		}
	}
	return mapIndices(in, table, false)
}

// UpsampleNearest doubles the spatial extent by duplicating
// each pixel into a 2x2 block.
func UpsampleNearest(batch, h, w, d int, in anydiff.Res) anydiff.Res {
	table := make([]int, 0, batch*h*w*d*4)
	for b := 0; b < batch; b++ {
		for y := 0; y < 2*h; y++ {
			for x := 0; x < 2*w; x++ {
				for ch := 0; ch < d; ch++ {
					table = append(table, spatialIndex(h, w, d, b, y/2, x/2, ch))
				}
			}
		}
	}
	return mapIndices(in, table, false)
}

// UpsampleZeros doubles the spatial extent by interleaving
// zeros, placing each pixel at the even coordinates of its
// 2x2 block. Following it with a stride-1 convolution is
// equivalent to a stride-2 transposed convolution.
func UpsampleZeros(batch, h, w, d int, in anydiff.Res) anydiff.Res {
	zero := batch * h * w * d
	table := make([]int, 0, batch*h*w*d*4)
	for b := 0; b < batch; b++ {
		for y := 0; y < 2*h; y++ {
			for x := 0; x < 2*w; x++ {
				for ch := 0; ch < d; ch++ {
					if y%2 == 0 && x%2 == 0 {
						table = append(table, spatialIndex(h, w, d, b, y/2, x/2, ch))
					} else {
						table = append(table, zero)
					}
				}
			}
		}
	}
	return mapIndices(in, table, true)
}

// Patches extracts the k by k neighborhood of every pixel,
// zero-padded at the borders, producing a tensor of shape
// (batch, h, w, d, k*k) with the neighborhood innermost.
func Patches(batch, h, w, d int, in anydiff.Res, k int) anydiff.Res {
	off := (k - 1) / 2
	zero := batch * h * w * d
	table := make([]int, 0, batch*h*w*d*k*k)
	for b := 0; b < batch; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for ch := 0; ch < d; ch++ {
					for dy := 0; dy < k; dy++ {
						for dx := 0; dx < k; dx++ {
							sy := y + dy - off
							sx := x + dx - off
							if sy < 0 || sy >= h || sx < 0 || sx >= w {
								table = append(table, zero)
							} else {
								table = append(table, spatialIndex(h, w, d, b, sy, sx, ch))
							}
						}
					}
				}
			}
		}
	}
	return mapIndices(in, table, true)
}

// ChooseRows mixes two equally shaped tensors of batch rows,
// taking the row from gt where useGT is true and from gen
// elsewhere.
func ChooseRows(gt, gen anydiff.Res, rowLen int, useGT []bool) anydiff.Res {
	if gt.Output().Len() != gen.Output().Len() ||
		gt.Output().Len() != rowLen*len(useGT) {
		panic("mismatched row dimensions")
	}
	genOff := gt.Output().Len()
	table := make([]int, 0, genOff)
	for b, keep := range useGT {
		base := b * rowLen
		if !keep {
			base += genOff
		}
		for i := 0; i < rowLen; i++ {
			table = append(table, base+i)
		}
	}
	return mapIndices(Concat(gt, gen), table, false)
}

// Rows gathers the given rows of a row-major tensor.
func Rows(in anydiff.Res, rowLen int, rows []int) anydiff.Res {
	table := make([]int, 0, rowLen*len(rows))
	for _, r := range rows {
		for i := 0; i < rowLen; i++ {
			table = append(table, r*rowLen+i)
		}
	}
	return mapIndices(in, table, false)
}
