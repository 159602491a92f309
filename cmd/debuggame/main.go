package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/executor/inference"
	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/executor/selfplay"
	"github.com/brensch/c4zero/game"
)

func main() {
	modelPath := flag.String("model", "", "Path to an ONNX model; empty uses the latest checkpoint")
	checkpointDir := flag.String("checkpoint-dir", "data/checkpoints", "Checkpoint directory used when -model is empty")
	outDir := flag.String("out-dir", "debug_games", "Output directory for debug games")
	sims := flag.Int("sims", 200, "Number of MCTS simulations per move")
	cpuct := flag.Float64("cpuct", float64(mcts.DefaultCpuct), "MCTS exploration constant")
	renormalize := flag.Bool("renormalize-priors", false, "Renormalize priors over legal columns")
	cuda := flag.Bool("cuda", false, "Enable CUDA for inference")
	frontendHost := flag.String("frontend", "http://localhost:5173", "Frontend base URL")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	client, closeFn, err := inference.LoadPredictor(*modelPath, *checkpointDir, *cuda)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model")
	}
	defer closeFn()

	model := *modelPath
	if model == "" {
		model = "mlp"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 5*time.Minute)
	defer cancelTimeout()

	log.Info().Int("sims", *sims).Float64("cpuct", *cpuct).Msg("generating debug game")

	onProgress := func(p selfplay.DebugProgress) {
		fmt.Printf("  Ply %2d | %s plays %d\n", p.Ply, string(game.MarkRune(markAt(p.Ply))), p.Chosen)
	}

	cfg := mcts.Config{Cpuct: float32(*cpuct), RenormalizePriors: *renormalize}
	result, err := selfplay.PlayDebugGame(ctx, cfg, client, model, *sims, onProgress)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate debug game")
	}

	final, err := game.FromMoves(chosen(result))
	if err == nil {
		selfplay.PrintBoard(os.Stdout, final)
	}
	log.Info().Int32("plies", result.Meta.Plies).Str("winner", result.Meta.Winner).Msg("game complete")

	parquetPath, err := selfplay.WriteDebugGame(*outDir, result)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write debug game")
	}
	log.Info().Str("path", parquetPath).Msg("debug game written")

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("  Debug game ready! Open in browser:\n")
	fmt.Printf("  %s/debug/%s\n", *frontendHost, result.Meta.GameID)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}

// markAt is the mark that moves at ply.
func markAt(ply int) int8 {
	if ply%2 == 0 {
		return game.First
	}
	return game.Second
}

func chosen(res *selfplay.DebugGameResult) []int {
	out := make([]int, len(res.Rows))
	for i, r := range res.Rows {
		out[i] = int(r.Chosen)
	}
	return out
}
