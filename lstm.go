package sv2p

import (
	"github.com/cyixuan/sv2p/ops"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// NumStates is the number of recurrent layers in the
// bottom and predictive towers combined.
const NumStates = 7

// An LSTMState holds the hidden and cell tensors of one
// convolutional LSTM layer.
type LSTMState struct {
	Hidden anydiff.Res
	Cell   anydiff.Res
}

// A StateBundle carries the recurrent states of all seven
// conv-LSTM layers across timesteps. Each slot is written
// by exactly one tower stage per timestep. A nil slot reads
// as a zero state, which is how sequences start.
type StateBundle [NumStates]*LSTMState

// A convLSTM is a convolutional LSTM layer: a plain LSTM
// whose gates are computed by a 5x5 SAME convolution over
// the channel-concatenated input and hidden maps.
type convLSTM struct {
	H       int
	W       int
	InDepth int
	Filters int
	Gates   *sameConv
}

func newConvLSTM(c anyvec.Creator, h, w, inDepth, filters int) *convLSTM {
	return &convLSTM{
		H:       h,
		W:       w,
		InDepth: inDepth,
		Filters: filters,
		Gates:   newSameConv(c, h, w, inDepth+filters, 4*filters, 5, 1, false),
	}
}

// step advances the layer by one timestep, returning the
// new hidden map and the state for the next timestep.
func (l *convLSTM) step(s *LSTMState, in anydiff.Res, batch int) (anydiff.Res,
	*LSTMState) {
	c := in.Output().Creator()
	if s == nil {
		size := batch * l.H * l.W * l.Filters
		s = &LSTMState{
			Hidden: anydiff.NewConst(c.MakeVector(size)),
			Cell:   anydiff.NewConst(c.MakeVector(size)),
		}
	}

	joined := ops.DepthConcat(batch, l.H, l.W,
		[]anydiff.Res{in, s.Hidden}, []int{l.InDepth, l.Filters})
	acts := l.Gates.apply(joined, batch)

	f := l.Filters
	gate := func(i int) anydiff.Res {
		return ops.DepthSlice(batch, l.H, l.W, 4*f, acts, i*f, (i+1)*f)
	}
	inGate := anydiff.Sigmoid(gate(0))
	update := anydiff.Tanh(gate(1))
	// Forget bias of 1 keeps early cells open.
	forget := anydiff.Sigmoid(anydiff.AddScalar(gate(2), c.MakeNumeric(1)))
	outGate := anydiff.Sigmoid(gate(3))

	cell := anydiff.Add(anydiff.Mul(s.Cell, forget), anydiff.Mul(inGate, update))
	hidden := anydiff.Mul(anydiff.Tanh(cell), outGate)
	return hidden, &LSTMState{Hidden: hidden, Cell: cell}
}

// Parameters exposes the gate convolution's weights.
func (l *convLSTM) Parameters() []*anydiff.Var {
	return l.Gates.Parameters()
}
