package sv2p

import "testing"

func TestConfigValid(t *testing.T) {
	if err := testConfig().Valid(); err != nil {
		t.Fatal(err)
	}

	cases := map[string]func(c *Config){
		"no frames":         func(c *Config) { c.NumTargetFrames = 0 },
		"bad geometry":      func(c *Config) { c.FrameDepth = 0 },
		"bad hidden size":   func(c *Config) { c.HiddenSize = 0 },
		"oversized buffer":  func(c *Config) { c.RewardBufferSize = 3 },
		"no masks":          func(c *Config) { c.NumMasks = 0 },
		"multi-mask dna":    func(c *Config) { c.Options = OptionDNA; c.NumMasks = 2 },
		"missing kernel":    func(c *Config) { c.Options = OptionCDNA; c.NumMasks = 3 },
		"missing latent":    func(c *Config) { c.StochasticModel = true },
		"bad sampling mode": func(c *Config) { c.SamplingMode = "linear" },
		"bad upsample":      func(c *Config) { c.UpsampleMethod = "bilinear" },
	}
	for name, mutate := range cases {
		conf := testConfig()
		mutate(conf)
		if conf.Valid() == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	conf := testConfig()
	if conf.bufferSize() != conf.NumInputFrames {
		t.Error("buffer size should default to the context length")
	}
	if conf.actionSize() != conf.HiddenSize ||
		conf.rewardSize() != conf.HiddenSize {
		t.Error("vector sizes should default to the hidden size")
	}
	if conf.upsampleMethod() != UpsampleNNConv {
		t.Error("upsampling should default to nearest neighbor")
	}

	conf.RewardBufferSize = 1
	conf.ActionSize = 5
	conf.RewardSize = 6
	conf.UpsampleMethod = UpsampleTranspose
	if conf.bufferSize() != 1 || conf.actionSize() != 5 ||
		conf.rewardSize() != 6 {
		t.Error("explicit sizes should pass through")
	}
	if conf.upsampleMethod() != UpsampleTranspose {
		t.Error("explicit upsample method should pass through")
	}
}

func TestConfigTinyMode(t *testing.T) {
	conf := testConfig()
	sizes := conf.tinyify([]int{32, 16, 8})
	for _, s := range sizes {
		if s != 2 {
			t.Fatalf("tiny sizes %v", sizes)
		}
	}
	conf.TinyMode = false
	sizes = conf.tinyify([]int{32, 16, 8})
	if sizes[0] != 32 || sizes[1] != 16 || sizes[2] != 8 {
		t.Fatalf("full sizes %v", sizes)
	}
}
