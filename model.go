// Package sv2p implements stochastic variational video
// prediction: a recurrent convolutional model that rolls a
// short context of frames forward in time, conditioned on
// actions and a learned latent variable, optionally
// predicting per-step rewards.
package sv2p

import (
	"math/rand"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
)

// A Model predicts future video frames (and optionally
// rewards) from context frames, actions, and a stochastic
// latent variable.
type Model struct {
	Config  *Config
	Creator anyvec.Creator

	Bottom     *bottomTower
	Predictive *predictiveTower
	Reward     *rewardPredictor
	Latent     LatentTower
	Sampler    *ScheduledSampler

	rng *rand.Rand
}

// NewModel builds all of the model's layers up front from a
// validated configuration.
func NewModel(c anyvec.Creator, conf *Config) (*Model, error) {
	if err := conf.Valid(); err != nil {
		return nil, err
	}
	m := &Model{Config: conf, Creator: c}
	m.Bottom = newBottomTower(c, conf)
	m.Predictive = newPredictiveTower(c, conf, m.Bottom)
	if conf.RewardPrediction {
		m.Reward = newRewardPredictor(c, conf)
	}
	if conf.StochasticModel {
		posteriorFrames := conf.NumInputFrames + conf.NumTargetFrames
		if conf.TwoFramePosterior {
			posteriorFrames = 2
		}
		m.Latent = newConvLatentTower(c, conf, posteriorFrames)
	}
	m.Sampler = newScheduledSampler(conf)
	m.rng = rand.New(rand.NewSource(conf.Seed + 1))
	return m, nil
}

// Parameters gathers every trainable variable in the model.
func (m *Model) Parameters() []*anydiff.Var {
	items := []interface{}{m.Bottom, m.Predictive}
	if m.Reward != nil {
		items = append(items, m.Reward)
	}
	if m.Latent != nil {
		items = append(items, m.Latent)
	}
	return anynet.AllParameters(items...)
}
