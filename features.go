package sv2p

import (
	"fmt"

	"github.com/cyixuan/sv2p/ops"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Features is a named bundle of packed (batch, time, ...)
// tensors, keyed the way dataset pipelines key them:
// "inputs" and "targets" for frames, "input_action",
// "target_action", "input_reward" and "target_reward" for
// the per-step vectors. Vector features may be absent or
// short; missing steps read as zeros.
type Features map[string]anydiff.Res

// Body runs a forward pass over the feature bundle. It
// returns the predictions for the target steps under the
// "targets" and "target_reward" keys, plus the auxiliary
// loss (the KL penalty, and the prediction error when the
// internal loss is enabled).
func (m *Model) Body(features Features, batch, iter int,
	training bool) (Features, anydiff.Res, error) {
	conf := m.Config
	frameRow := conf.FrameHeight * conf.FrameWidth * conf.FrameDepth
	nIn, nTarget := conf.NumInputFrames, conf.NumTargetFrames
	total := nIn + nTarget

	inputs, ok := features["inputs"]
	if !ok {
		return nil, nil, fmt.Errorf("missing inputs feature")
	}
	targets, ok := features["targets"]
	if !ok {
		return nil, nil, fmt.Errorf("missing targets feature")
	}
	if inputs.Output().Len() != batch*nIn*frameRow {
		return nil, nil, fmt.Errorf("bad inputs size %d",
			inputs.Output().Len())
	}
	if targets.Output().Len() != batch*nTarget*frameRow {
		return nil, nil, fmt.Errorf("bad targets size %d",
			targets.Output().Len())
	}

	frames := append(timeSlices(inputs, batch, nIn, frameRow),
		timeSlices(targets, batch, nTarget, frameRow)...)
	actions := m.vectorSteps(features, "input_action", "target_action",
		batch, conf.actionSize(), total-1)
	rewards := m.vectorSteps(features, "input_reward", "target_reward",
		batch, conf.rewardSize(), total)

	rollout := m.Unroll(frames, actions, rewards[:total-1], batch, iter,
		training)

	outFrames := joinTime(rollout.Frames[nIn-1:], batch, frameRow)
	outRewards := joinTime(rollout.Rewards[nIn-1:], batch,
		conf.rewardSize())
	out := Features{"targets": outFrames, "target_reward": outRewards}

	loss := m.LatentLoss(rollout, batch, training)
	if conf.InternalLoss {
		// The reconstruction error covers every predicted step,
		// warm-start predictions included.
		predAll := joinTime(rollout.Frames, batch, frameRow)
		gtAll := joinTime(frames[1:], batch, frameRow)
		cost := anynet.MSE{}.Cost(gtAll, predAll, batch*(total-1))
		loss = anydiff.Add(loss, ops.Mean(cost))
		if m.Reward != nil {
			predR := joinTime(rollout.Rewards, batch, conf.rewardSize())
			gtR := joinTime(rewards[1:], batch, conf.rewardSize())
			rcost := anynet.MSE{}.Cost(gtR, predR, batch*(total-1))
			loss = anydiff.Add(loss, ops.Mean(rcost))
		}
	}
	return out, loss, nil
}

// Infer predicts target frames and rewards from context
// features alone, synthesizing zero targets to drive the
// rollout. The predicted frames are aliased under the
// "outputs" and "scores" keys, and each predicted reward is
// reduced to its arg-max index.
func (m *Model) Infer(features Features, batch int) (Features, error) {
	conf := m.Config
	frameRow := conf.FrameHeight * conf.FrameWidth * conf.FrameDepth

	in := Features{}
	for k, v := range features {
		in[k] = v
	}
	if _, ok := in["inputs"]; !ok {
		return nil, fmt.Errorf("missing inputs feature")
	}
	if _, ok := in["targets"]; !ok {
		in["targets"] = m.zeroVector(batch * conf.NumTargetFrames * frameRow)
	}

	out, _, err := m.Body(in, batch, 0, false)
	if err != nil {
		return nil, err
	}
	out["target_reward"] = argmaxRows(out["target_reward"],
		batch*conf.NumTargetFrames, conf.rewardSize())
	out["outputs"] = out["targets"]
	out["scores"] = out["targets"]
	return out, nil
}

// vectorSteps splits the named per-step vector features into
// batch-major slices, zero-filling missing keys and steps.
func (m *Model) vectorSteps(features Features, inKey, targetKey string,
	batch, dim, steps int) []anydiff.Res {
	res := make([]anydiff.Res, 0, steps)
	parts := []struct {
		key   string
		count int
	}{
		{inKey, m.Config.NumInputFrames},
		{targetKey, m.Config.NumTargetFrames},
	}
	for _, part := range parts {
		in, ok := features[part.key]
		if !ok {
			for i := 0; i < part.count; i++ {
				res = append(res, m.zeroVector(batch*dim))
			}
			continue
		}
		avail := in.Output().Len() / (batch * dim)
		use := essentials.MinInt(avail, part.count)
		res = append(res, timeSlices(in, batch, avail, dim)[:use]...)
		for i := use; i < part.count; i++ {
			res = append(res, m.zeroVector(batch*dim))
		}
	}
	return res[:steps]
}

// timeSlices splits a (batch, time, ...) tensor into one
// batch-major tensor per timestep.
func timeSlices(in anydiff.Res, batch, steps, rowLen int) []anydiff.Res {
	out := make([]anydiff.Res, steps)
	for t := 0; t < steps; t++ {
		rows := make([]int, batch)
		for b := range rows {
			rows[b] = b*steps + t
		}
		out[t] = ops.Rows(in, rowLen, rows)
	}
	return out
}

// joinTime packs per-timestep batch-major tensors back into
// one (batch, time, ...) tensor.
func joinTime(slices []anydiff.Res, batch, rowLen int) anydiff.Res {
	steps := len(slices)
	joined := ops.Concat(slices...)
	rows := make([]int, 0, batch*steps)
	for b := 0; b < batch; b++ {
		for t := 0; t < steps; t++ {
			rows = append(rows, t*batch+b)
		}
	}
	return ops.Rows(joined, rowLen, rows)
}

// PredictionSeq exposes a rollout's frames as a sequence
// batch for downstream sequence tooling.
func PredictionSeq(c anyvec.Creator, res *RolloutResult,
	batch int) anyseq.Seq {
	present := make([]bool, batch)
	for i := range present {
		present[i] = true
	}
	batches := make([]*anyseq.ResBatch, len(res.Frames))
	for i, f := range res.Frames {
		batches[i] = &anyseq.ResBatch{Packed: f, Present: present}
	}
	return anyseq.ResSeq(c, batches)
}

// argmaxRows computes the index of each row's largest entry
// on the host, returning the indices as a constant tensor.
func argmaxRows(in anydiff.Res, rows, rowLen int) anydiff.Res {
	c := in.Output().Creator()
	var data []float64
	switch d := in.Output().Data().(type) {
	case []float64:
		data = d
	case []float32:
		data = make([]float64, len(d))
		for i, x := range d {
			data[i] = float64(x)
		}
	default:
		panic("unsupported numeric type")
	}
	res := make([]float64, rows)
	for r := 0; r < rows; r++ {
		best := 0
		for i := 1; i < rowLen; i++ {
			if data[r*rowLen+i] > data[r*rowLen+best] {
				best = i
			}
		}
		res[r] = float64(best)
	}
	return anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(res)))
}
