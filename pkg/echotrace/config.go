package echotrace

import (
	"github.com/echotrace/echotrace/pkg/echotrace/fingerprint"
)

type Config struct {
	DBPath         string
	IndexPath      string
	SampleRate     uint32
	SegmentSeconds float64
	TopK           int
	MinConfidence  float32
	Extractor      fingerprint.Config
	Logger         Logger
	Store          FingerprintStore
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

// WithIndexPath enables the on-disk digest index at dir. Empty disables it.
func WithIndexPath(dir string) Option {
	return func(c *Config) {
		c.IndexPath = dir
	}
}

func WithSampleRate(rate uint32) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithSegmentSeconds(seconds float64) Option {
	return func(c *Config) {
		c.SegmentSeconds = seconds
	}
}

func WithTopK(k int) Option {
	return func(c *Config) {
		c.TopK = k
	}
}

func WithMinConfidence(min float32) Option {
	return func(c *Config) {
		c.MinConfidence = min
	}
}

func WithExtractorConfig(cfg fingerprint.Config) Option {
	return func(c *Config) {
		c.Extractor = cfg
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStore(store FingerprintStore) Option {
	return func(c *Config) {
		c.Store = store
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:         "echotrace.sqlite3",
		SampleRate:     16000,
		SegmentSeconds: 10,
		TopK:           5,
		MinConfidence:  0,
		Logger:         nil,
	}
}
