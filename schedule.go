package sv2p

import (
	"math"
	"math/rand"

	"github.com/cyixuan/sv2p/ops"
	"github.com/unixpickle/anydiff"
)

// A ScheduledSampler decides, per timestep and batch
// element, whether the next input comes from the ground
// truth or from the model's own predictions.
//
// Until the warm start is over (timestep <= context-1) the
// ground truth is used unconditionally. Outside of training
// the generated items are used unconditionally. Otherwise
// the configured sampling mode applies.
type ScheduledSampler struct {
	// Mode is SampleProb or SampleCount.
	Mode string

	// DecaySteps is the probability decay horizon for
	// SampleProb. A non-positive horizon collapses the
	// probability to zero after iteration 0.
	DecaySteps int

	// K is the SampleCount decay constant.
	K float64

	// Context is the warm-start length in timesteps.
	Context int

	rng *rand.Rand
}

func newScheduledSampler(conf *Config) *ScheduledSampler {
	return &ScheduledSampler{
		Mode:       conf.SamplingMode,
		DecaySteps: conf.DecaySteps,
		K:          conf.SamplingK,
		Context:    conf.contextLength(),
		rng:        rand.New(rand.NewSource(conf.Seed)),
	}
}

// Inputs mixes matched lists of ground-truth and generated
// items for timestep t at training iteration iter. Items
// are packed batch-major tensors; selection is element-wise
// over the batch and consistent across the items of one
// call.
func (s *ScheduledSampler) Inputs(t, iter int, training bool, batch int,
	groundTruth, generated []anydiff.Res) []anydiff.Res {
	if len(groundTruth) != len(generated) {
		panic("mismatched item lists")
	}
	doneWarmStart := t > s.Context-1
	if !doneWarmStart {
		return groundTruth
	}
	if !training {
		return generated
	}

	useGT := s.pick(iter, batch)
	mixed := make([]anydiff.Res, len(groundTruth))
	for i, gt := range groundTruth {
		rowLen := gt.Output().Len() / batch
		mixed[i] = ops.ChooseRows(gt, generated[i], rowLen, useGT)
	}
	return mixed
}

// Probability is the chance of keeping a ground-truth item
// at the given iteration in SampleProb mode, decaying
// linearly from 1 to 0 over DecaySteps.
func (s *ScheduledSampler) Probability(iter int) float64 {
	if s.DecaySteps <= 0 {
		if iter > 0 {
			return 0
		}
		return 1
	}
	frac := float64(iter) / float64(s.DecaySteps)
	if frac > 1 {
		frac = 1
	}
	return 1 - frac
}

// NumGroundTruth is the number of batch elements that keep
// ground truth at the given iteration in SampleCount mode.
func (s *ScheduledSampler) NumGroundTruth(iter, batch int) int {
	if s.K <= 0 {
		return 0
	}
	frac := s.K / (s.K + math.Exp(float64(iter)/s.K))
	return int(math.Round(float64(batch) * frac))
}

func (s *ScheduledSampler) pick(iter, batch int) []bool {
	useGT := make([]bool, batch)
	if s.Mode == SampleProb {
		p := s.Probability(iter)
		for i := range useGT {
			useGT[i] = s.rng.Float64() < p
		}
	} else {
		n := s.NumGroundTruth(iter, batch)
		for _, i := range s.rng.Perm(batch)[:n] {
			useGT[i] = true
		}
	}
	return useGT
}
