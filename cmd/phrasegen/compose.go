package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/satindergrewal/phrasegen/internal/audio"
	"github.com/satindergrewal/phrasegen/internal/composer"
	"github.com/satindergrewal/phrasegen/internal/config"
	"github.com/satindergrewal/phrasegen/internal/evolve"
)

func newComposeCmd(v *viper.Viper) *cobra.Command {
	var decisions, quiet bool
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose once and write the result as a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, score, err := load(v)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runCompose(ctx, cfg, score, decisions, quiet)
		},
	}
	cmd.Flags().StringP("out", "o", "", "output WAV path")
	cmd.Flags().BoolVar(&decisions, "decisions", false, "print the (phase, word, effect) decision log to stdout")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	bindFlags(v, cmd, map[string]string{"out": config.KeyOut})
	return cmd
}

func runCompose(ctx context.Context, cfg config.Config, score *config.Score, printDecisions, quiet bool) error {
	cc, err := composerConfig(cfg, score)
	if err != nil {
		return err
	}

	var obs composer.Observer
	var p *mpb.Progress
	if !quiet {
		p = mpb.NewWithContext(ctx, mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
		obs = newProgress(p)
	}

	start := time.Now()
	tl, err := composer.New(cc, audio.Engine{}, log.StandardLogger(), obs).Compose(ctx, cfg.Seed)
	if p != nil {
		if err != nil {
			obs.(*progress).abort()
		}
		p.Wait()
	}
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}

	if err := writeWAV(cfg.OutPath, tl); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"run":       tl.ID.String(),
		"seed":      cfg.Seed,
		"out":       cfg.OutPath,
		"fragments": tl.Len(),
		"duration":  tl.Duration().Round(time.Millisecond),
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("Composition written")

	if printDecisions {
		for _, d := range tl.Decisions() {
			fmt.Println(d)
		}
	}
	return nil
}

func writeWAV(path string, tl *composer.Timeline) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := audio.EncodeWAV(f, tl.Clip()); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// progress shows composing progress as fragments are laid down.
type progress struct {
	bar *mpb.Bar
}

func newProgress(p *mpb.Progress) *progress {
	bar := p.AddBar(0,
		mpb.PrependDecorators(
			decor.Name("Composing: "),
			decor.CurrentNoUnit("%d fragments"),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)
	return &progress{bar: bar}
}

func (p *progress) OnFragment(composer.Fragment) { p.bar.Increment() }

func (p *progress) OnGeneration(evolve.Generation) {}

func (p *progress) OnComplete(*composer.Timeline) { p.bar.SetTotal(-1, true) }

func (p *progress) abort() { p.bar.Abort(false) }
