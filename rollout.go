package sv2p

import (
	"github.com/unixpickle/anydiff"
)

// A RolloutResult holds the outputs of one unrolled
// sequence: a predicted frame and reward per timestep after
// the first, plus the posterior parameters behind each
// latent sample.
type RolloutResult struct {
	Frames  []anydiff.Res
	Rewards []anydiff.Res

	LatentMeans []anydiff.Res
	LatentStds  []anydiff.Res
}

// Unroll runs the model over a full sequence of frames,
// predicting each frame (and reward) from the one before it.
//
// All slices are packed batch-major; frames must cover the
// context and target steps, and actions and rewards need an
// entry for every input step. The result has one entry per
// predicted step, len(frames)-1 in total.
func (m *Model) Unroll(frames, actions, rewards []anydiff.Res, batch,
	iter int, training bool) *RolloutResult {
	if len(actions) < len(frames)-1 || len(rewards) < len(frames)-1 {
		panic("not enough actions or rewards for the sequence")
	}
	if len(frames) != m.Config.NumInputFrames+m.Config.NumTargetFrames {
		panic("wrong sequence length")
	}
	if m.Config.TwoFramePosterior {
		return m.unrollTwoFrame(frames, actions, rewards, batch, iter,
			training)
	}
	return m.unrollScan(frames, actions, rewards, batch, iter, training)
}

// unrollScan shares one posterior, inferred from the entire
// sequence, across every timestep.
func (m *Model) unrollScan(frames, actions, rewards []anydiff.Res, batch,
	iter int, training bool) *RolloutResult {
	conf := m.Config
	res := &RolloutResult{}

	var latent anydiff.Res
	if m.Latent != nil {
		mean, std := m.Latent.Posterior(frames, batch)
		latent = GaussianSample(m.rng, mean, std)
		res.LatentMeans = append(res.LatentMeans, mean)
		res.LatentStds = append(res.LatentStds, std)
	}

	var states StateBundle
	buffer := m.zeroFrameBuffer(batch)
	prevReward := m.zeroVector(batch * conf.rewardSize())

	for t := 0; t < len(frames)-1; t++ {
		in := frames[t]
		if t > 0 {
			in = m.Sampler.Inputs(t, iter, training, batch,
				[]anydiff.Res{frames[t]},
				[]anydiff.Res{res.Frames[t-1]})[0]
		}

		bott, enc0, enc1, ns := m.Bottom.apply(in, actions[t], nil, latent,
			batch, states)
		pred, ns := m.Predictive.apply(bott, enc0, enc1, in, latent, batch,
			ns)
		states = ns
		res.Frames = append(res.Frames, pred)

		if m.Reward != nil {
			frame := pred
			if conf.RewardStopGradient {
				frame = anydiff.NewConst(pred.Output())
			}
			buffer = append([]anydiff.Res{frame},
				buffer[:len(buffer)-1]...)
			prevReward = m.Reward.apply(buffer, actions[t], nil, latent,
				batch)
		}
		res.Rewards = append(res.Rewards, prevReward)
	}
	return res
}

// unrollTwoFrame infers a fresh posterior at every timestep
// from the current and next frames, and scheduled-samples
// the reward input alongside the frame.
func (m *Model) unrollTwoFrame(frames, actions, rewards []anydiff.Res,
	batch, iter int, training bool) *RolloutResult {
	conf := m.Config
	res := &RolloutResult{}
	var states StateBundle

	for t := 0; t < len(frames)-1; t++ {
		inFrame, inReward := frames[t], rewards[t]
		if t > 0 {
			mixed := m.Sampler.Inputs(t, iter, training, batch,
				[]anydiff.Res{frames[t], rewards[t]},
				[]anydiff.Res{res.Frames[t-1], res.Rewards[t-1]})
			inFrame, inReward = mixed[0], mixed[1]
		}

		var latent anydiff.Res
		if m.Latent != nil {
			mean, std := m.Latent.Posterior(
				[]anydiff.Res{frames[t], frames[t+1]}, batch)
			latent = GaussianSample(m.rng, mean, std)
			res.LatentMeans = append(res.LatentMeans, mean)
			res.LatentStds = append(res.LatentStds, std)
		}

		bott, enc0, enc1, ns := m.Bottom.apply(inFrame, actions[t],
			inReward, latent, batch, states)
		pred, ns := m.Predictive.apply(bott, enc0, enc1, inFrame, latent,
			batch, ns)
		states = ns
		res.Frames = append(res.Frames, pred)

		predReward := inReward
		if m.Reward != nil {
			frame := pred
			if conf.RewardStopGradient {
				frame = anydiff.NewConst(pred.Output())
			}
			predReward = m.Reward.apply([]anydiff.Res{frame}, actions[t],
				inReward, latent, batch)
		}
		res.Rewards = append(res.Rewards, predReward)
	}
	return res
}

// LatentLoss is the KL penalty for a rollout, scaled by the
// configured beta. It is zero outside of training and for
// deterministic models.
func (m *Model) LatentLoss(res *RolloutResult, batch int,
	training bool) anydiff.Res {
	if !training || len(res.LatentMeans) == 0 || m.Config.Beta == 0 {
		return m.zeroVector(1)
	}
	var total anydiff.Res
	for i, mean := range res.LatentMeans {
		kl := KLDivergence(mean, res.LatentStds[i], batch)
		if total == nil {
			total = kl
		} else {
			total = anydiff.Add(total, kl)
		}
	}
	return anydiff.Scale(total, m.Creator.MakeNumeric(m.Config.Beta))
}

func (m *Model) zeroVector(size int) anydiff.Res {
	return anydiff.NewConst(m.Creator.MakeVector(size))
}

func (m *Model) zeroFrameBuffer(batch int) []anydiff.Res {
	if m.Reward == nil {
		return nil
	}
	conf := m.Config
	size := batch * conf.FrameHeight * conf.FrameWidth * conf.FrameDepth
	buffer := make([]anydiff.Res, m.Reward.BufLen)
	for i := range buffer {
		buffer[i] = m.zeroVector(size)
	}
	return buffer
}
