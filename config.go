package sv2p

import "fmt"

// Model options for the predictive tower's transformation
// head. Any other value selects the direct generation head
// on its own.
const (
	OptionCDNA = "CDNA"
	OptionDNA  = "DNA"
)

// Scheduled sampling modes.
const (
	SampleProb  = "prob"
	SampleCount = "count"
)

// Upsample methods for the predictive tower.
const (
	UpsampleNNConv    = "nn_upsample_conv"
	UpsampleTranspose = "conv2d_transpose"
)

// A Config describes the shape and behavior of a Model.
//
// The zero values of RewardBufferSize, ActionSize,
// RewardSize and UpsampleMethod select defaults: the
// context length, HiddenSize, HiddenSize and
// UpsampleNNConv respectively.
type Config struct {
	// Sequence layout.
	NumInputFrames  int
	NumTargetFrames int

	// Frame geometry.
	FrameHeight int
	FrameWidth  int
	FrameDepth  int

	// Feature dimension used for absent action/reward
	// inputs and for their zero substitutes.
	HiddenSize int

	// Dimensions of action and reward vectors.
	ActionSize int
	RewardSize int

	// Reward prediction.
	RewardPrediction   bool
	RewardBufferSize   int
	RewardStopGradient bool

	// Stochastic latent variable.
	StochasticModel   bool
	TwoFramePosterior bool
	LatentChannels    int
	ConcatLatent      bool
	Beta              float64

	// Transformation head.
	Options       string
	NumMasks      int
	DNAKernelSize int
	ReluShift     float64

	// Scheduled sampling.
	SamplingMode string
	DecaySteps   int
	SamplingK    float64

	// Injection and decoding details.
	ConcatenateActions bool
	UpsampleMethod     string
	TinyMode           bool
	InternalLoss       bool

	// Seed for sampling decisions and latent noise.
	Seed int64
}

// Valid checks the configuration, returning a descriptive
// error for the first problem found. It must pass before
// any model is constructed.
func (c *Config) Valid() error {
	if c.NumInputFrames < 1 || c.NumTargetFrames < 1 {
		return fmt.Errorf("need at least one input and one target frame")
	}
	if c.FrameHeight < 1 || c.FrameWidth < 1 || c.FrameDepth < 1 {
		return fmt.Errorf("invalid frame geometry %dx%dx%d", c.FrameHeight,
			c.FrameWidth, c.FrameDepth)
	}
	if c.HiddenSize < 1 {
		return fmt.Errorf("hidden size must be positive")
	}
	if c.RewardBufferSize > c.NumInputFrames {
		return fmt.Errorf("reward buffer size %d exceeds context length %d",
			c.RewardBufferSize, c.NumInputFrames)
	}
	if c.NumMasks < 1 {
		return fmt.Errorf("need at least one mask")
	}
	if c.Options == OptionDNA && c.NumMasks != 1 {
		return fmt.Errorf("only one mask is supported for the DNA model")
	}
	if c.Options == OptionDNA || c.Options == OptionCDNA {
		if c.DNAKernelSize < 1 {
			return fmt.Errorf("kernel size must be positive")
		}
	}
	if c.StochasticModel && c.LatentChannels < 1 {
		return fmt.Errorf("stochastic model needs latent channels")
	}
	switch c.SamplingMode {
	case SampleProb, SampleCount:
	default:
		return fmt.Errorf("unknown scheduled sampling mode %q", c.SamplingMode)
	}
	switch c.UpsampleMethod {
	case "", UpsampleNNConv, UpsampleTranspose:
	default:
		return fmt.Errorf("unsupported upsample method %q", c.UpsampleMethod)
	}
	return nil
}

// contextLength is the warm-start length in timesteps.
func (c *Config) contextLength() int {
	return c.NumInputFrames
}

// bufferSize is the effective reward frame buffer length.
func (c *Config) bufferSize() int {
	if c.RewardBufferSize == 0 {
		return c.NumInputFrames
	}
	return c.RewardBufferSize
}

func (c *Config) actionSize() int {
	if c.ActionSize == 0 {
		return c.HiddenSize
	}
	return c.ActionSize
}

func (c *Config) rewardSize() int {
	if c.RewardSize == 0 {
		return c.HiddenSize
	}
	return c.RewardSize
}

func (c *Config) upsampleMethod() string {
	if c.UpsampleMethod == "" {
		return UpsampleNNConv
	}
	return c.UpsampleMethod
}

// tinyify shrinks channel presets in tiny mode.
func (c *Config) tinyify(sizes []int) []int {
	if !c.TinyMode {
		return sizes
	}
	tiny := make([]int, len(sizes))
	for i := range tiny {
		tiny[i] = 2
	}
	return tiny
}
