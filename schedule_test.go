package sv2p

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func testSampler() *ScheduledSampler {
	conf := testConfig()
	return newScheduledSampler(conf)
}

func TestSamplerWarmStart(t *testing.T) {
	s := testSampler()
	c := anyvec64.DefaultCreator{}
	gt := anydiff.NewConst(c.MakeVector(4))
	gen := anydiff.NewConst(c.MakeVector(4))

	// Decayed all the way down, the warm start must still
	// force ground truth.
	mixed := s.Inputs(1, 1e6, true, 2, []anydiff.Res{gt},
		[]anydiff.Res{gen})
	if mixed[0] != gt {
		t.Error("warm-start step did not use ground truth")
	}
}

func TestSamplerInference(t *testing.T) {
	s := testSampler()
	c := anyvec64.DefaultCreator{}
	gt := anydiff.NewConst(c.MakeVector(4))
	gen := anydiff.NewConst(c.MakeVector(4))
	mixed := s.Inputs(3, 0, false, 2, []anydiff.Res{gt},
		[]anydiff.Res{gen})
	if mixed[0] != gen {
		t.Error("inference step did not use the generated item")
	}
}

func TestSamplerProbability(t *testing.T) {
	s := testSampler()
	cases := map[int]float64{0: 1, 50: 0.5, 100: 0, 200: 0}
	for iter, want := range cases {
		if got := s.Probability(iter); math.Abs(got-want) > 1e-9 {
			t.Errorf("iter %d: probability %v (want %v)", iter, got, want)
		}
	}

	s.DecaySteps = 0
	if s.Probability(0) != 1 {
		t.Error("zero horizon should keep ground truth at iteration 0")
	}
	if s.Probability(1) != 0 {
		t.Error("zero horizon should drop ground truth after iteration 0")
	}
}

func TestSamplerCount(t *testing.T) {
	s := testSampler()
	s.Mode = SampleCount
	s.K = 10

	if got := s.NumGroundTruth(0, 11); got != 10 {
		t.Errorf("iteration 0: %d ground-truth rows (want 10)", got)
	}
	if got := s.NumGroundTruth(1e6, 11); got != 0 {
		t.Errorf("late iteration: %d ground-truth rows (want 0)", got)
	}

	s.K = 0
	if got := s.NumGroundTruth(0, 11); got != 0 {
		t.Errorf("disabled decay: %d ground-truth rows (want 0)", got)
	}
}

func TestSamplerMixing(t *testing.T) {
	s := testSampler()
	s.DecaySteps = 100
	c := anyvec64.DefaultCreator{}

	batch, rowLen := 8, 3
	ones := make([]float64, batch*rowLen)
	for i := range ones {
		ones[i] = 1
	}
	gt := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(ones)))
	gen := anydiff.NewConst(c.MakeVector(batch * rowLen))

	mixed := s.Inputs(2, 50, true, batch, []anydiff.Res{gt},
		[]anydiff.Res{gen})
	data := mixed[0].Output().Data().([]float64)
	for b := 0; b < batch; b++ {
		row := data[b*rowLen : (b+1)*rowLen]
		for _, x := range row[1:] {
			if x != row[0] {
				t.Fatalf("row %d mixes sources: %v", b, row)
			}
		}
	}
}
