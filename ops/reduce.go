package ops

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// Ones returns a constant vector of ones.
func Ones(c anyvec.Creator, n int) anydiff.Res {
	data := make([]float64, n)
	for i := range data {
		data[i] = 1
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(data)))
}

// SumChunks sums consecutive chunks of the given size,
// producing one component per chunk.
func SumChunks(in anydiff.Res, chunk int) anydiff.Res {
	n := in.Output().Len()
	if n%chunk != 0 {
		panic("chunk size must divide the tensor size")
	}
	c := in.Output().Creator()
	mat := &anydiff.Matrix{Data: in, Rows: n / chunk, Cols: chunk}
	ones := &anydiff.Matrix{Data: Ones(c, chunk), Rows: chunk, Cols: 1}
	return anydiff.MatMul(false, false, mat, ones).Data
}

// SumAll sums every component into a single-component
// tensor.
func SumAll(in anydiff.Res) anydiff.Res {
	return SumChunks(in, in.Output().Len())
}

// Mean averages every component into a single-component
// tensor.
func Mean(in anydiff.Res) anydiff.Res {
	n := in.Output().Len()
	c := in.Output().Creator()
	return anydiff.Scale(SumAll(in), c.MakeNumeric(1/float64(n)))
}

// Softmax applies a softmax over consecutive chunks of the
// given size.
func Softmax(in anydiff.Res, chunk int) anydiff.Res {
	return anydiff.Exp(anydiff.LogSoftmax(in, chunk))
}

// Reciprocal computes 1/x for strictly positive inputs.
func Reciprocal(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	return anydiff.Pow(in, c.MakeNumeric(-1))
}

// Rsqrt computes x^(-1/2) for strictly positive inputs.
func Rsqrt(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	return anydiff.Pow(in, c.MakeNumeric(-0.5))
}
