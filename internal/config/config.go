package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/satindergrewal/phrasegen/internal/evolve"
	"github.com/satindergrewal/phrasegen/internal/markov"
)

// EnvPrefix prefixes every environment override, e.g. PHRASEGEN_SEED.
const EnvPrefix = "PHRASEGEN"

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Keys understood by Load. Each maps to PHRASEGEN_<KEY> in the environment.
const (
	KeyConfigFile           = "config"
	KeySource               = "source"
	KeyScore                = "score"
	KeySeed                 = "seed"
	KeyPopulationSize       = "population_size"
	KeyConvergenceThreshold = "convergence_threshold"
	KeyIterationCap         = "iteration_cap"
	KeyExtinctionThreshold  = "extinction_threshold"
	KeyMutateThreshold      = "mutate_threshold"
	KeyStatistic            = "statistic"
	KeyMarkovSeed           = "markov_seed"
	KeyMarkovSteps          = "markov_steps"
	KeyDrift                = "drift"
	KeyMarkovFallback       = "markov_fallback"
	KeyRepeatProbability    = "repeat_probability"
	KeyNoiseEvery           = "noise_every"
	KeyInvertTail           = "invert_tail"
	KeyOut                  = "out"
	KeyPort                 = "port"
	KeyBufferAhead          = "buffer_ahead"
	KeyCrossfade            = "crossfade"
	KeyICEServers           = "ice_servers"
	KeyLogLevel             = "log_level"
	KeyLogFormat            = "log_format"
)

var defaults = map[string]any{
	KeySource:               "I will give my love an apple.ogg",
	KeyScore:                "",
	KeySeed:                 1,
	KeyPopulationSize:       4,
	KeyConvergenceThreshold: 4.5,
	KeyIterationCap:         3,
	KeyExtinctionThreshold:  20,
	KeyMutateThreshold:      40,
	KeyStatistic:            "fold",
	KeyMarkovSeed:           "apple",
	KeyMarkovSteps:          27,
	KeyDrift:                0.0,
	KeyMarkovFallback:       "stay",
	KeyRepeatProbability:    20,
	KeyNoiseEvery:           0,
	KeyInvertTail:           20,
	KeyOut:                  "composition.wav",
	KeyPort:                 8080,
	KeyBufferAhead:          2,
	KeyCrossfade:            4 * time.Second,
	KeyICEServers:           []string{},
	KeyLogLevel:             "info",
	KeyLogFormat:            "text",
}

// Config holds all run configuration.
type Config struct {
	// Composition input
	Source    string // source recording
	ScorePath string // optional YAML score; empty uses the built-in phrase

	// Randomness
	Seed uint64

	// Population search
	PopulationSize       int
	ConvergenceThreshold float64 // stop once the grade reaches this
	IterationCap         int     // evolution steps after the initial population
	ExtinctionThreshold  int     // percent
	MutateThreshold      int     // percent
	Statistic            string  // fold or skew

	// Markov development
	MarkovSeed     string
	MarkovSteps    int
	Drift          float64
	MarkovFallback string // stay or restart when no weight reaches the draw

	// Structure
	RepeatProbability int // percent chance an intro repeat doubles a word
	NoiseEvery        int // splice noise after every n-th segment of an individual, 0 = off
	InvertTail        int // fragments phase-inverted in the final recap

	// Output
	OutPath string

	// Serve mode
	Port              int
	BufferAhead       int           // compositions to prepare ahead of playback
	CrossfadeDuration time.Duration // crossfade between compositions
	ICEServers        []string      // STUN/TURN URLs offered to WebRTC peers

	LogLevel  string
	LogFormat string
}

// New returns a viper instance preloaded with defaults and environment
// bindings. Callers may bind flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	return v
}

// Load reads configuration from v, merging in the config file named by the
// "config" key when set, and validates it.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Source:    v.GetString(KeySource),
		ScorePath: v.GetString(KeyScore),

		Seed: v.GetUint64(KeySeed),

		PopulationSize:       v.GetInt(KeyPopulationSize),
		ConvergenceThreshold: v.GetFloat64(KeyConvergenceThreshold),
		IterationCap:         v.GetInt(KeyIterationCap),
		ExtinctionThreshold:  v.GetInt(KeyExtinctionThreshold),
		MutateThreshold:      v.GetInt(KeyMutateThreshold),
		Statistic:            v.GetString(KeyStatistic),

		MarkovSeed:     v.GetString(KeyMarkovSeed),
		MarkovSteps:    v.GetInt(KeyMarkovSteps),
		Drift:          v.GetFloat64(KeyDrift),
		MarkovFallback: v.GetString(KeyMarkovFallback),

		RepeatProbability: v.GetInt(KeyRepeatProbability),
		NoiseEvery:        v.GetInt(KeyNoiseEvery),
		InvertTail:        v.GetInt(KeyInvertTail),

		OutPath: v.GetString(KeyOut),

		Port:              v.GetInt(KeyPort),
		BufferAhead:       v.GetInt(KeyBufferAhead),
		CrossfadeDuration: v.GetDuration(KeyCrossfade),
		ICEServers:        v.GetStringSlice(KeyICEServers),

		LogLevel:  v.GetString(KeyLogLevel),
		LogFormat: v.GetString(KeyLogFormat),
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the composer cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Source == "":
		return fmt.Errorf("%w: source cannot be empty", ErrInvalid)
	case c.PopulationSize < 1:
		return fmt.Errorf("%w: population_size must be at least 1, got %d", ErrInvalid, c.PopulationSize)
	case c.IterationCap < 0:
		return fmt.Errorf("%w: iteration_cap cannot be negative, got %d", ErrInvalid, c.IterationCap)
	case !percent(c.ExtinctionThreshold):
		return fmt.Errorf("%w: extinction_threshold must be within [0,100], got %d", ErrInvalid, c.ExtinctionThreshold)
	case !percent(c.MutateThreshold):
		return fmt.Errorf("%w: mutate_threshold must be within [0,100], got %d", ErrInvalid, c.MutateThreshold)
	case !percent(c.RepeatProbability):
		return fmt.Errorf("%w: repeat_probability must be within [0,100], got %d", ErrInvalid, c.RepeatProbability)
	case c.Drift < 0 || c.Drift > 1:
		return fmt.Errorf("%w: drift must be within [0,1], got %f", ErrInvalid, c.Drift)
	case c.MarkovSteps < 0:
		return fmt.Errorf("%w: markov_steps cannot be negative, got %d", ErrInvalid, c.MarkovSteps)
	case c.NoiseEvery < 0:
		return fmt.Errorf("%w: noise_every cannot be negative, got %d", ErrInvalid, c.NoiseEvery)
	case c.InvertTail < 0:
		return fmt.Errorf("%w: invert_tail cannot be negative, got %d", ErrInvalid, c.InvertTail)
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d", ErrInvalid, c.Port)
	case c.BufferAhead < 1:
		return fmt.Errorf("%w: buffer_ahead must be at least 1, got %d", ErrInvalid, c.BufferAhead)
	case c.CrossfadeDuration < 0:
		return fmt.Errorf("%w: crossfade cannot be negative, got %s", ErrInvalid, c.CrossfadeDuration)
	}
	if _, err := evolve.ParseStatistic(c.Statistic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := markov.ParseFallback(c.MarkovFallback); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("%w: log_level must be one of [debug, info, warn, error], got %q", ErrInvalid, c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: log_format must be 'json' or 'text', got %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

func percent(v int) bool { return v >= 0 && v <= 100 }
