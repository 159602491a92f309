package selfplay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/rules"
)

// RunConfig drives the training loop. Iterations <= 0 runs until ctx ends.
type RunConfig struct {
	Iterations        int    `yaml:"iterations"`
	GamesPerIteration int    `yaml:"games_per_iteration"`
	CheckpointEvery   int    `yaml:"checkpoint_every"`
	Source            string `yaml:"source"`
	Model             string `yaml:"model"`
}

// Sink receives every finished game.
type Sink interface {
	WriteGame(g *Game, meta RowMeta) error
	Flush() error
}

// Checkpointer persists evaluator parameters by iteration.
type Checkpointer interface {
	Save(iter int) error
	Restore() (iter int, ok bool, err error)
}

// Progress is reported after every game.
type Progress struct {
	Iteration int
	Game      int
	GameID    string
	Plies     int
	Result    int8
	MeanLoss  float64
	Duration  time.Duration
}

// Run plays and trains GamesPerIteration games per iteration, saving a
// checkpoint every CheckpointEvery iterations. It resumes after the latest
// checkpoint when one exists. ctx is only checked between games; on
// cancellation the sink is flushed and ctx.Err() returned.
func Run(ctx context.Context, cfg RunConfig, d *Driver, sink Sink, ckpt Checkpointer, onGame func(Progress)) error {
	if cfg.GamesPerIteration <= 0 {
		cfg.GamesPerIteration = 1
	}
	if cfg.Source == "" {
		cfg.Source = "selfplay"
	}

	start := 0
	if ckpt != nil {
		iter, ok, err := ckpt.Restore()
		if err != nil {
			return fmt.Errorf("restore checkpoint: %w", err)
		}
		if ok {
			start = iter + 1
			log.Info().Int("iteration", iter).Msg("resuming from checkpoint")
		}
	}

	flush := func() error {
		if sink == nil {
			return nil
		}
		return sink.Flush()
	}

	for iter := start; cfg.Iterations <= 0 || iter < cfg.Iterations; iter++ {
		var lossSum float64
		wins := map[int8]int{}
		for n := 0; n < cfg.GamesPerIteration; n++ {
			if err := ctx.Err(); err != nil {
				if ferr := flush(); ferr != nil {
					log.Error().Err(ferr).Msg("flush on shutdown failed")
				}
				return err
			}

			g, err := d.PlayGame(game.NewState())
			if err != nil {
				return fmt.Errorf("iteration %d game %d: %w", iter, n, err)
			}
			lossSum += g.MeanLoss()
			wins[g.Result]++

			meta := RowMeta{Iteration: iter, Source: cfg.Source, Model: cfg.Model, Sims: d.Simulations}
			if sink != nil {
				if err := sink.WriteGame(g, meta); err != nil {
					return fmt.Errorf("write game %s: %w", g.ID, err)
				}
			}
			if onGame != nil {
				onGame(Progress{
					Iteration: iter,
					Game:      n,
					GameID:    g.ID,
					Plies:     len(g.Moves),
					Result:    g.Result,
					MeanLoss:  g.MeanLoss(),
					Duration:  g.Duration,
				})
			}
		}

		log.Info().
			Int("iteration", iter).
			Int("games", cfg.GamesPerIteration).
			Int("first_wins", wins[game.First]).
			Int("second_wins", wins[game.Second]).
			Int("draws", wins[game.Empty]).
			Float64("mean_loss", lossSum/float64(cfg.GamesPerIteration)).
			Msg("iteration done")

		if err := flush(); err != nil {
			return fmt.Errorf("flush iteration %d: %w", iter, err)
		}

		last := cfg.Iterations > 0 && iter == cfg.Iterations-1
		if ckpt != nil && (last || (cfg.CheckpointEvery > 0 && (iter+1)%cfg.CheckpointEvery == 0)) {
			if err := ckpt.Save(iter); err != nil {
				return fmt.Errorf("save checkpoint %d: %w", iter, err)
			}
		}
	}
	return nil
}

// ResultName is a short label for logs.
func ResultName(r int8) string { return rules.Winner(r) }
