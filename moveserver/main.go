package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/executor/inference"
	"github.com/brensch/c4zero/executor/mcts"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen", ":8080", "HTTP listen address")
	modelPath := fs.String("model", "", "Path to an ONNX model; empty uses the latest checkpoint")
	checkpointDir := fs.String("checkpoint-dir", "data/checkpoints", "Checkpoint directory used when -model is empty")
	sims := fs.Int("sims", 800, "Default simulations per move")
	maxSims := fs.Int("max-sims", 20000, "Upper bound on requested simulations")
	cpuct := fs.Float64("cpuct", float64(mcts.DefaultCpuct), "PUCT exploration constant")
	renormalize := fs.Bool("renormalize-priors", false, "Renormalize priors over legal columns")
	concurrency := fs.Int("concurrency", 2, "Searches run at once")
	useCUDA := fs.Bool("cuda", false, "Use the CUDA execution provider for ONNX models")
	logLevel := fs.String("log-level", "info", "Log level")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	client, closeFn, err := inference.LoadPredictor(*modelPath, *checkpointDir, *useCUDA)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load evaluator")
	}
	defer closeFn()

	server := NewServer(client, mcts.Config{Cpuct: float32(*cpuct), RenormalizePriors: *renormalize}, *sims, *maxSims, *concurrency)
	srv := &http.Server{
		Addr:              *listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("listen", *listen).Int("sims", *sims).Msg("move server listening")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
