package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/executor/inference"
	"github.com/brensch/c4zero/executor/mcts"
)

func main() {
	modelPath := flag.String("model", "", "Path to an ONNX model; empty uses the latest checkpoint")
	checkpointDir := flag.String("checkpoint-dir", "data/checkpoints", "Checkpoint directory used when -model is empty")
	sims := flag.Int("sims", 800, "Simulations per engine move")
	cpuct := flag.Float64("cpuct", float64(mcts.DefaultCpuct), "PUCT exploration constant")
	engineFirst := flag.Bool("engine-first", false, "Let the engine make the first move")
	logPath := flag.String("log", filepath.Join(os.TempDir(), "c4zero-play.log"), "Log file (the terminal belongs to the board)")
	flag.Parse()

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open log file")
	}
	defer logFile.Close()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: time.TimeOnly, NoColor: true})

	client, closeFn, err := inference.LoadPredictor(*modelPath, *checkpointDir, false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model")
	}
	defer closeFn()

	engine := mcts.New(client, mcts.Config{Cpuct: float32(*cpuct)})
	p := tea.NewProgram(newModel(engine, *sims, !*engineFirst))
	if _, err := p.Run(); err != nil {
		log.Fatal().Err(err).Msg("tui failed")
	}
}
