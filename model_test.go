package sv2p

import (
	"math/rand"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func testConfig() *Config {
	return &Config{
		NumInputFrames:  2,
		NumTargetFrames: 2,
		FrameHeight:     8,
		FrameWidth:      8,
		FrameDepth:      3,
		HiddenSize:      4,
		NumMasks:        1,
		SamplingMode:    SampleProb,
		DecaySteps:      100,
		TinyMode:        true,
		Seed:            7,
	}
}

func randVec(c anyvec.Creator, gen *rand.Rand, n int) anyvec.Vector {
	data := make([]float64, n)
	for i := range data {
		data[i] = gen.Float64()
	}
	return c.MakeVectorData(c.MakeNumericList(data))
}

func randFrames(c anyvec.Creator, gen *rand.Rand, conf *Config, batch,
	count int) []anydiff.Res {
	size := batch * conf.FrameHeight * conf.FrameWidth * conf.FrameDepth
	res := make([]anydiff.Res, count)
	for i := range res {
		res[i] = anydiff.NewVar(randVec(c, gen, size))
	}
	return res
}

func zeroSteps(c anyvec.Creator, batch, dim, count int) []anydiff.Res {
	res := make([]anydiff.Res, count)
	for i := range res {
		res[i] = anydiff.NewConst(c.MakeVector(batch * dim))
	}
	return res
}

func checkFrameRange(t *testing.T, frames []anydiff.Res) {
	t.Helper()
	for i, f := range frames {
		for _, x := range f.Output().Data().([]float64) {
			if x < -1e-8 || x > 1+1e-8 {
				t.Fatalf("frame %d: pixel %v out of range", i, x)
			}
		}
	}
}

func rolloutFor(t *testing.T, conf *Config, batch int) (*Model,
	*RolloutResult) {
	t.Helper()
	c := anyvec64.DefaultCreator{}
	gen := rand.New(rand.NewSource(3))
	model, err := NewModel(c, conf)
	if err != nil {
		t.Fatal(err)
	}
	total := conf.NumInputFrames + conf.NumTargetFrames
	frames := randFrames(c, gen, conf, batch, total)
	actions := zeroSteps(c, batch, conf.actionSize(), total-1)
	rewards := zeroSteps(c, batch, conf.rewardSize(), total-1)
	return model, model.Unroll(frames, actions, rewards, batch, 0, true)
}

func TestModelDirect(t *testing.T) {
	conf := testConfig()
	batch := 2
	_, res := rolloutFor(t, conf, batch)

	if len(res.Frames) != 3 || len(res.Rewards) != 3 {
		t.Fatalf("got %d frames and %d rewards", len(res.Frames),
			len(res.Rewards))
	}
	size := batch * conf.FrameHeight * conf.FrameWidth * conf.FrameDepth
	for i, f := range res.Frames {
		if f.Output().Len() != size {
			t.Errorf("frame %d: length %d (want %d)", i,
				f.Output().Len(), size)
		}
	}
	checkFrameRange(t, res.Frames)
	if len(res.LatentMeans) != 0 {
		t.Error("deterministic rollout produced posteriors")
	}
}

func TestModelCDNA(t *testing.T) {
	conf := testConfig()
	conf.Options = OptionCDNA
	conf.NumMasks = 3
	conf.DNAKernelSize = 3
	conf.ReluShift = 1e-12
	_, res := rolloutFor(t, conf, 2)
	checkFrameRange(t, res.Frames)
}

func TestModelDNA(t *testing.T) {
	conf := testConfig()
	conf.Options = OptionDNA
	conf.DNAKernelSize = 3
	conf.ReluShift = 1e-12
	_, res := rolloutFor(t, conf, 2)
	checkFrameRange(t, res.Frames)
}

func TestModelOddGeometry(t *testing.T) {
	conf := testConfig()
	conf.FrameHeight = 7
	conf.FrameWidth = 5
	batch := 2
	_, res := rolloutFor(t, conf, batch)
	size := batch * 7 * 5 * conf.FrameDepth
	for i, f := range res.Frames {
		if f.Output().Len() != size {
			t.Errorf("frame %d: length %d (want %d)", i,
				f.Output().Len(), size)
		}
	}
}

func TestModelStochastic(t *testing.T) {
	conf := testConfig()
	conf.StochasticModel = true
	conf.LatentChannels = 2
	conf.ConcatLatent = true
	conf.Beta = 1e-3
	model, res := rolloutFor(t, conf, 2)

	if len(res.LatentMeans) != 1 || len(res.LatentStds) != 1 {
		t.Fatalf("got %d posteriors (want 1)", len(res.LatentMeans))
	}
	checkFrameRange(t, res.Frames)

	loss := model.LatentLoss(res, 2, true)
	if loss.Output().Len() != 1 {
		t.Fatalf("loss length %d", loss.Output().Len())
	}
	if v := loss.Output().Data().([]float64)[0]; v < 0 {
		t.Errorf("negative KL penalty %v", v)
	}
	eval := model.LatentLoss(res, 2, false)
	if v := eval.Output().Data().([]float64)[0]; v != 0 {
		t.Errorf("KL penalty %v outside of training", v)
	}
}

func TestModelTwoFrame(t *testing.T) {
	conf := testConfig()
	conf.StochasticModel = true
	conf.TwoFramePosterior = true
	conf.LatentChannels = 2
	conf.RewardPrediction = true
	conf.RewardSize = 3
	conf.Beta = 1e-3
	batch := 2
	_, res := rolloutFor(t, conf, batch)

	if len(res.LatentMeans) != 3 {
		t.Fatalf("got %d posteriors (want one per step)",
			len(res.LatentMeans))
	}
	for i, r := range res.Rewards {
		if r.Output().Len() != batch*3 {
			t.Errorf("reward %d: length %d", i, r.Output().Len())
		}
	}
	checkFrameRange(t, res.Frames)
}

func TestModelRewardPrediction(t *testing.T) {
	conf := testConfig()
	conf.RewardPrediction = true
	conf.RewardStopGradient = true
	batch := 2
	model, res := rolloutFor(t, conf, batch)

	for i, r := range res.Rewards {
		if r.Output().Len() != batch*conf.rewardSize() {
			t.Errorf("reward %d: length %d", i, r.Output().Len())
		}
	}
	// With a stopped gradient, reward errors must not reach
	// the frame towers.
	for _, r := range res.Rewards {
		vars := r.Vars()
		for _, p := range model.Bottom.Conv1.Parameters() {
			if vars.Has(p) {
				t.Fatal("reward depends on the frame towers")
			}
		}
	}
}

func TestModelParameters(t *testing.T) {
	conf := testConfig()
	conf.StochasticModel = true
	conf.LatentChannels = 2
	conf.RewardPrediction = true
	c := anyvec64.DefaultCreator{}
	model, err := NewModel(c, conf)
	if err != nil {
		t.Fatal(err)
	}
	params := model.Parameters()
	if len(params) == 0 {
		t.Fatal("no parameters")
	}
	seen := map[*anydiff.Var]bool{}
	for _, p := range params {
		if seen[p] {
			t.Fatal("duplicate parameter")
		}
		seen[p] = true
	}
}
