package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/satindergrewal/phrasegen/internal/audio"
	"github.com/satindergrewal/phrasegen/internal/composer"
	"github.com/satindergrewal/phrasegen/internal/config"
	"github.com/satindergrewal/phrasegen/internal/metrics"
	"github.com/satindergrewal/phrasegen/internal/radio"
	"github.com/satindergrewal/phrasegen/internal/stream"
)

const stationName = "phrasegen radio"

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Compose endlessly and stream the result over HTTP and WebRTC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, score, err := load(v)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg, score)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP listen port")
	cmd.Flags().Int("buffer-ahead", 0, "compositions to keep queued")
	cmd.Flags().Duration("crossfade", 0, "crossfade between compositions")
	cmd.Flags().StringSlice("ice-server", nil, "STUN/TURN URL for WebRTC peers (repeatable)")
	bindFlags(v, cmd, map[string]string{
		"port":         config.KeyPort,
		"buffer-ahead": config.KeyBufferAhead,
		"crossfade":    config.KeyCrossfade,
		"ice-server":   config.KeyICEServers,
	})
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, score *config.Score) error {
	cc, err := composerConfig(cfg, score)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Fail before serving when the source is missing or undecodable.
	comp := composer.New(cc, audio.Engine{}, log.StandardLogger(), m)
	if err := comp.Load(); err != nil {
		return fmt.Errorf("load source: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Audio pipeline
	pipeline := audio.NewPipeline(cfg.CrossfadeDuration)
	go pipeline.Run(ctx)

	// Broadcaster: fan-out PCM frames to all listeners
	broadcaster := stream.NewBroadcaster()
	broadcaster.SetRecorder(m)
	go broadcaster.Run(ctx, pipeline.Frames())

	sched := radio.NewScheduler(comp, pipeline, radio.SchedulerConfig{
		Seed:        cfg.Seed,
		BufferAhead: cfg.BufferAhead,
		Theme:       cfg.MarkovSeed,
	}, nil)
	sched.SetRecorder(m)
	radioErr := make(chan error, 1)
	go func() {
		if err := sched.Run(ctx); err != nil {
			radioErr <- err
			cancel()
		}
	}()

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, stream.WebRTCOptions{ICEServers: cfg.ICEServers})
	defer webrtcHandler.Close()

	srv := &server{
		cfg:         cfg,
		pipeline:    pipeline,
		broadcaster: broadcaster,
		webrtc:      webrtcHandler,
		sched:       sched,
		metrics:     m,
		registry:    reg,
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.routes()}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
	}()

	log.WithFields(log.Fields{
		"addr":   addr,
		"source": cfg.Source,
		"seed":   cfg.Seed,
	}).Info("phrasegen radio live")
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	select {
	case err := <-radioErr:
		return fmt.Errorf("radio: %w", err)
	default:
		return nil
	}
}

// Player is the playback state the API reports on and controls.
type Player interface {
	Status() (track audio.Track, position, duration time.Duration)
	Played() int
	SetCrossfade(d time.Duration)
	CrossfadeDuration() time.Duration
}

// Peers counts WebRTC listeners.
type Peers interface {
	http.Handler
	PeerCount() int
}

// Radio is the scheduler side of the API.
type Radio interface {
	Status() radio.SchedulerStatus
	SetSeed(seed uint64)
	Skip()
}

type server struct {
	cfg         config.Config
	pipeline    Player
	broadcaster *stream.Broadcaster
	webrtc      Peers
	sched       Radio
	metrics     *metrics.Metrics
	registry    *prometheus.Registry
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Audio streams
	mux.Handle("/stream", stream.NewHTTPHandler(s.broadcaster, stationName))
	mux.Handle("/offer", s.webrtc)

	// API endpoints
	mux.HandleFunc("/api/status", s.metrics.Wrap("/api/status", s.handleStatus))
	mux.HandleFunc("/api/skip", s.metrics.Wrap("/api/skip", s.handleSkip))
	mux.HandleFunc("/api/seed", s.metrics.Wrap("/api/seed", s.handleSeed))
	mux.HandleFunc("/api/config", s.metrics.Wrap("/api/config", s.handleConfig))

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.sched.Status()
	track, pos, dur := s.pipeline.Status()

	writeJSON(w, map[string]any{
		"radio":            status,
		"track_id":         track.ID,
		"track_name":       track.Name,
		"track_seed":       track.Seed,
		"position":         pos.Seconds(),
		"duration":         dur.Seconds(),
		"played":           s.pipeline.Played(),
		"http_listeners":   s.broadcaster.Count(stream.TransportHTTP),
		"webrtc_listeners": s.webrtc.PeerCount(),
		"config": map[string]any{
			"source":                s.cfg.Source,
			"population_size":       s.cfg.PopulationSize,
			"convergence_threshold": s.cfg.ConvergenceThreshold,
			"iteration_cap":         s.cfg.IterationCap,
			"statistic":             s.cfg.Statistic,
			"markov_seed":           s.cfg.MarkovSeed,
			"markov_steps":          s.cfg.MarkovSteps,
			"crossfade":             s.pipeline.CrossfadeDuration().Seconds(),
		},
	})
}

func (s *server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	s.sched.Skip()
	writeJSON(w, map[string]any{"ok": true})
}

func (s *server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Seed *uint64 `json:"seed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seed == nil {
		http.Error(w, "invalid seed", http.StatusBadRequest)
		return
	}
	s.sched.SetSeed(*req.Seed)
	writeJSON(w, map[string]any{"ok": true, "seed": *req.Seed})
}

func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Crossfade *float64 `json:"crossfade"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Crossfade != nil {
		v := *req.Crossfade
		if v < 0 || v > 30 {
			http.Error(w, "crossfade must be 0-30", http.StatusBadRequest)
			return
		}
		s.pipeline.SetCrossfade(time.Duration(v * float64(time.Second)))
	}
	writeJSON(w, map[string]any{
		"ok":        true,
		"crossfade": s.pipeline.CrossfadeDuration().Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("encode response")
	}
}
