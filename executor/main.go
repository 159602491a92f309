package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/executor/inference"
	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/executor/selfplay"
	"github.com/brensch/c4zero/game"
)

var totalMoves atomic.Int64
var totalInferences atomic.Int64

type instrumentedEvaluator struct {
	selfplay.Evaluator
}

func (c *instrumentedEvaluator) Predict(s *game.State) (mcts.Prediction, error) {
	totalInferences.Add(1)
	return c.Evaluator.Predict(s)
}

func setupLogging(level string, out io.Writer) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	return nil
}

// buildEvaluator returns the trainable network with its checkpoint directory,
// or a frozen ONNX model when one is configured. The returned func releases
// the runtime.
func buildEvaluator(cfg Config) (selfplay.Evaluator, selfplay.Checkpointer, string, func(), error) {
	if cfg.Model != "" {
		if _, err := os.Stat(cfg.Model); err != nil {
			return nil, nil, "", nil, fmt.Errorf("model file: %w", err)
		}
		client, err := inference.NewOnnxClient(cfg.Model)
		if err != nil {
			return nil, nil, "", nil, fmt.Errorf("create onnx client: %w", err)
		}
		closeFn := func() {
			st := client.Stats()
			log.Info().Int64("calls", st.TotalCalls).Float64("avg_run_ms", st.AvgRunMs).Msg("onnx stats")
			_ = client.Close()
		}
		return inference.Frozen{Predictor: client}, nil, filepath.Base(cfg.Model), closeFn, nil
	}

	netCfg := cfg.Network
	if netCfg.Seed == 0 {
		netCfg.Seed = cfg.Seed
	}
	net := inference.NewNetwork(netCfg)
	return net, &inference.CheckpointDir{Dir: cfg.CheckpointDir, Net: net}, "mlp", func() {}, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	var logOut io.Writer = os.Stderr
	if cfg.TUI {
		if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		f, err := os.OpenFile(filepath.Join(cfg.OutDir, "executor.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	if err := setupLogging(cfg.LogLevel, logOut); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eval, ckpt, modelTag, closeEval, err := buildEvaluator(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create evaluator")
	}
	defer closeEval()
	if cfg.Run.Model == "" {
		cfg.Run.Model = modelTag
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	driver := selfplay.NewDriver(&instrumentedEvaluator{Evaluator: eval}, mcts.Config{
		Cpuct:             cfg.Cpuct,
		RenormalizePriors: cfg.RenormalizePriors,
	}, cfg.Simulations, rand.New(rand.NewSource(seed)))
	driver.ExploreMoves = cfg.ExploreMoves
	driver.OnMove = func(*game.State, selfplay.Decision) { totalMoves.Add(1) }

	sink := selfplay.NewParquetSink(cfg.OutDir, cfg.GamesPerFlush)
	sink.WithRoots = cfg.WithRoots

	log.Info().
		Str("model", cfg.Run.Model).
		Int("sims", cfg.Simulations).
		Float32("cpuct", driver.Engine.Config.Cpuct).
		Int("iterations", cfg.Run.Iterations).
		Int("games_per_iteration", cfg.Run.GamesPerIteration).
		Str("out_dir", cfg.OutDir).
		Msg("starting self-play")

	if !cfg.TUI {
		err = selfplay.Run(ctx, cfg.Run, driver, sink, ckpt, func(p selfplay.Progress) {
			log.Info().
				Int("iteration", p.Iteration).
				Int("game", p.Game).
				Str("winner", selfplay.ResultName(p.Result)).
				Int("plies", p.Plies).
				Float64("loss", p.MeanLoss).
				Dur("took", p.Duration).
				Msg("game finished")
		})
		finish(err)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates := make(chan gameUpdate, 16)
	done := make(chan runDone, 1)
	go func() {
		err := selfplay.Run(runCtx, cfg.Run, driver, sink, ckpt, func(p selfplay.Progress) {
			// Avoid blocking the run if the UI stops consuming.
			select {
			case updates <- gameUpdate(p):
			default:
			}
		})
		done <- runDone{err: err}
	}()

	p := tea.NewProgram(initialModel(updates, done), tea.WithAltScreen(), tea.WithContext(ctx))
	final, uiErr := p.Run()
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		log.Error().Err(uiErr).Msg("tui stopped")
	}
	if m, ok := final.(model); ok && m.finished {
		finish(m.err)
		return
	}

	// The UI quit first: stop after the game in flight and wait for the flush.
	cancel()
	finish((<-done).err)
}

func finish(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("self-play failed")
	}
	log.Info().Int64("moves", totalMoves.Load()).Int64("inferences", totalInferences.Load()).Msg("shutdown complete")
}
