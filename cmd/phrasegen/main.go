package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/satindergrewal/phrasegen/internal/composer"
	"github.com/satindergrewal/phrasegen/internal/config"
	"github.com/satindergrewal/phrasegen/internal/evolve"
	"github.com/satindergrewal/phrasegen/internal/markov"
)

func main() {
	if err := execute(newRootCmd(config.New()), log.StandardLogger()); err != nil {
		os.Exit(1)
	}
}

// execute runs root and reports a failure through logger, since cobra's own
// error printing is silenced.
func execute(root *cobra.Command, logger log.FieldLogger) error {
	err := root.Execute()
	if err != nil {
		logger.WithError(err).Error("phrasegen failed")
	}
	return err
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "phrasegen",
		Short:         "Recompose a recorded phrase with Markov chains and a small evolutionary search",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml, json or toml)")
	pf.String("source", "", "source recording")
	pf.String("score", "", "score file with cut points and transitions (default: built-in phrase)")
	pf.Uint64("seed", 0, "random seed")
	pf.Int("population-size", 0, "individuals per population")
	pf.Float64("convergence-threshold", 0, "stop evolving once the grade reaches this")
	pf.Int("iteration-cap", 0, "maximum evolution steps after the initial population")
	pf.String("statistic", "", "deviation statistic: fold or skew")
	pf.String("markov-seed", "", "word the development starts from")
	pf.Int("markov-steps", 0, "length of the development")
	pf.Float64("drift", 0, "per-step chance of nudging the Markov state")
	pf.Int("noise-every", 0, "splice a noise burst after every n-th word of an individual (0 = off)")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")
	bindFlags(v, root, map[string]string{
		"config":                config.KeyConfigFile,
		"source":                config.KeySource,
		"score":                 config.KeyScore,
		"seed":                  config.KeySeed,
		"population-size":       config.KeyPopulationSize,
		"convergence-threshold": config.KeyConvergenceThreshold,
		"iteration-cap":         config.KeyIterationCap,
		"statistic":             config.KeyStatistic,
		"markov-seed":           config.KeyMarkovSeed,
		"markov-steps":          config.KeyMarkovSteps,
		"drift":                 config.KeyDrift,
		"noise-every":           config.KeyNoiseEvery,
		"log-level":             config.KeyLogLevel,
		"log-format":            config.KeyLogFormat,
	})

	root.AddCommand(newComposeCmd(v), newServeCmd(v))
	return root
}

// bindFlags binds each flag to its config key. Flags only override the key
// when set on the command line.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil {
			f = cmd.Flags().Lookup(flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

// load reads and validates the configuration, then sets up logging.
func load(v *viper.Viper) (config.Config, *config.Score, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return cfg, nil, err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	score, err := config.LoadScore(cfg.ScorePath)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, score, nil
}

func setupLogging(level, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stderr)
}

// composerConfig maps run configuration and a score onto composer settings.
func composerConfig(cfg config.Config, score *config.Score) (composer.Config, error) {
	table, err := score.Table()
	if err != nil {
		return composer.Config{}, err
	}
	stat, err := evolve.ParseStatistic(cfg.Statistic)
	if err != nil {
		return composer.Config{}, err
	}
	fallback, err := markov.ParseFallback(cfg.MarkovFallback)
	if err != nil {
		return composer.Config{}, err
	}

	cc := composer.DefaultConfig()
	cc.Source = cfg.Source
	cc.Cuts = score.Segments
	cc.Table = table
	cc.RepeatProbability = cfg.RepeatProbability
	cc.MarkovSeed = cfg.MarkovSeed
	cc.MarkovSteps = cfg.MarkovSteps
	cc.Markov = markov.Options{Drift: cfg.Drift, Fallback: fallback}
	cc.PopulationSize = cfg.PopulationSize
	cc.ConvergenceThreshold = cfg.ConvergenceThreshold
	cc.IterationCap = cfg.IterationCap
	cc.Evolve = evolve.Options{
		Extinction: cfg.ExtinctionThreshold,
		Mutate:     cfg.MutateThreshold,
		Statistic:  stat,
	}
	cc.Builder.NoiseEvery = cfg.NoiseEvery
	cc.InvertTail = cfg.InvertTail
	return cc, nil
}
