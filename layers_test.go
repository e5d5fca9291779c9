package sv2p

import (
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestSameConvGeometry(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	cases := []struct{ h, w, kernel, stride, outH, outW int }{
		{8, 8, 5, 2, 4, 4},
		{8, 8, 3, 1, 8, 8},
		{7, 5, 3, 2, 4, 3},
		{1, 1, 5, 2, 1, 1},
	}
	for _, tc := range cases {
		conv := newSameConv(c, tc.h, tc.w, 3, 2, tc.kernel, tc.stride, false)
		if conv.outHeight() != tc.outH || conv.outWidth() != tc.outW {
			t.Errorf("%dx%d k%d s%d: got %dx%d (want %dx%d)", tc.h, tc.w,
				tc.kernel, tc.stride, conv.outHeight(), conv.outWidth(),
				tc.outH, tc.outW)
		}
	}
}

func TestLayerNorm(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	gen := rand.New(rand.NewSource(9))
	ln := newLayerNorm(c, 2, 3, 2)
	batch := 2
	in := anydiff.NewVar(randVec(c, gen, batch*2*3*2))

	out := ln.apply(in, batch).Output().Data().([]float64)
	rowLen := 2 * 3 * 2
	for b := 0; b < batch; b++ {
		var sum float64
		for _, x := range out[b*rowLen : (b+1)*rowLen] {
			sum += x
		}
		if mean := sum / float64(rowLen); math.Abs(mean) > 1e-6 {
			t.Errorf("sample %d: mean %v", b, mean)
		}
	}

	ch := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return ln.apply(in, batch)
		},
		V: []*anydiff.Var{in, ln.Gain, ln.Bias},
	}
	ch.FullCheck(t)
}

func TestConvLSTMStep(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	gen := rand.New(rand.NewSource(9))
	lstm := newConvLSTM(c, 3, 3, 2, 2)
	batch := 2
	size := batch * 3 * 3 * 2

	in := anydiff.NewVar(randVec(c, gen, size))
	hidden, state := lstm.step(nil, in, batch)
	if hidden.Output().Len() != size {
		t.Fatalf("hidden length %d", hidden.Output().Len())
	}
	if state.Hidden != hidden {
		t.Error("state should carry the hidden output")
	}

	// Second step reuses the state.
	in2 := anydiff.NewVar(randVec(c, gen, size))
	hidden2, _ := lstm.step(state, in2, batch)
	if hidden2.Output().Len() != size {
		t.Fatalf("hidden length %d", hidden2.Output().Len())
	}

	ch := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			h, _ := lstm.step(nil, in, batch)
			return h
		},
		V: append([]*anydiff.Var{in}, lstm.Parameters()...),
	}
	ch.FullCheck(t)
}

func TestUpsampler(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	gen := rand.New(rand.NewSource(9))
	batch := 2
	for _, method := range []string{UpsampleNNConv, UpsampleTranspose} {
		up := newUpsampler(c, method, 3, 4, 2, 5)
		in := anydiff.NewConst(randVec(c, gen, batch*3*4*2))
		out := up.apply(in, batch)
		if out.Output().Len() != batch*6*8*5 {
			t.Errorf("%s: output length %d", method, out.Output().Len())
		}
	}
}

func TestInjector(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	gen := rand.New(rand.NewSource(9))
	batch := 2
	layer := anydiff.NewVar(randVec(c, gen, batch*3*3*4))
	vec := anydiff.NewVar(randVec(c, gen, batch*6))

	concat := newInjector(c, 6, 3, 3, 4, true)
	if concat.outDepth() != 8 {
		t.Errorf("concat depth %d", concat.outDepth())
	}
	out := concat.apply(layer, vec, batch)
	if out.Output().Len() != batch*3*3*8 {
		t.Fatalf("concat length %d", out.Output().Len())
	}

	gate := newInjector(c, 6, 3, 3, 4, false)
	if gate.outDepth() != 4 {
		t.Errorf("gate depth %d", gate.outDepth())
	}
	out = gate.apply(layer, vec, batch)
	if out.Output().Len() != batch*3*3*4 {
		t.Fatalf("gate length %d", out.Output().Len())
	}

	ch := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return gate.apply(layer, vec, batch)
		},
		V: []*anydiff.Var{layer, vec},
	}
	ch.FullCheck(t)
}

func TestTowerStep(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	gen := rand.New(rand.NewSource(9))
	conf := testConfig()
	bottom := newBottomTower(c, conf)
	pred := newPredictiveTower(c, conf, bottom)

	batch := 2
	frame := anydiff.NewConst(randVec(c, gen,
		batch*conf.FrameHeight*conf.FrameWidth*conf.FrameDepth))
	action := anydiff.NewConst(c.MakeVector(batch * conf.actionSize()))

	var states StateBundle
	bott, enc0, enc1, states := bottom.apply(frame, action, nil, nil,
		batch, states)
	if bott.Output().Len() != batch*bottom.H3*bottom.W3*bottom.OutDepth {
		t.Fatalf("bottleneck length %d", bott.Output().Len())
	}
	if enc0.Output().Len() != batch*bottom.H1*bottom.W1*bottom.EncDepth0 {
		t.Fatalf("enc0 length %d", enc0.Output().Len())
	}
	if enc1.Output().Len() != batch*bottom.H2*bottom.W2*bottom.EncDepth1 {
		t.Fatalf("enc1 length %d", enc1.Output().Len())
	}
	for i := 0; i < 5; i++ {
		if states[i] == nil {
			t.Fatalf("state slot %d not written", i)
		}
	}
	if states[5] != nil || states[6] != nil {
		t.Fatal("decoder slots written by the encoder")
	}

	out, states := pred.apply(bott, enc0, enc1, frame, nil, batch, states)
	size := batch * conf.FrameHeight * conf.FrameWidth * conf.FrameDepth
	if out.Output().Len() != size {
		t.Fatalf("output length %d", out.Output().Len())
	}
	if states[5] == nil || states[6] == nil {
		t.Fatal("decoder slots not written")
	}
	checkFrameRange(t, []anydiff.Res{out})
}
