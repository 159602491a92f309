// Command archive2train featurizes self-play batch shards into train_ shards
// that a trainer can read without replaying games.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/executor/convert"
	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/store"
)

type options struct {
	InDir   string
	OutDir  string
	LogPath string
	Reflect bool
}

type summary struct {
	Shards  int
	Skipped int
	Rows    int
	Games   int
}

func main() {
	var opts options
	flag.StringVar(&opts.InDir, "in-dir", "", "Directory containing batch_ parquet shards")
	flag.StringVar(&opts.OutDir, "out-dir", "", "Output directory for featurized train_ shards")
	flag.StringVar(&opts.LogPath, "log", "", "Processed shard log (default <out-dir>/processed.log)")
	flag.BoolVar(&opts.Reflect, "reflect", false, "Also emit the left-right reflection of every row")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	if opts.InDir == "" || opts.OutDir == "" {
		fmt.Fprintln(os.Stderr, "-in-dir and -out-dir are required")
		os.Exit(2)
	}

	sum, err := run(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("archive2train failed")
	}
	log.Info().
		Int("shards", sum.Shards).
		Int("skipped", sum.Skipped).
		Int("rows", sum.Rows).
		Int("games", sum.Games).
		Msg("done")
}

func run(opts options) (summary, error) {
	var sum summary

	absIn, _ := filepath.Abs(opts.InDir)
	absOut, _ := filepath.Abs(opts.OutDir)
	if absIn == absOut {
		return sum, fmt.Errorf("out-dir must be different from in-dir")
	}
	if opts.LogPath == "" {
		opts.LogPath = filepath.Join(absOut, "processed.log")
	}

	shardLog, err := store.OpenShardLog(opts.LogPath)
	if err != nil {
		return sum, err
	}
	defer shardLog.Close()

	inputs, err := store.ListShards(absIn, store.TrainingPrefix)
	if err != nil {
		return sum, fmt.Errorf("list inputs: %w", err)
	}

	for _, in := range inputs {
		name := filepath.Base(in)
		if shardLog.Has(name) {
			sum.Skipped++
			continue
		}

		w, err := store.NewFeaturizedWriter(absOut)
		if err != nil {
			return sum, err
		}
		if err := convertShard(in, w, opts.Reflect); err != nil {
			_, _, _, _ = w.Finalize()
			_ = os.Remove(w.OutPath())
			return sum, fmt.Errorf("convert %s: %w", name, err)
		}
		out, rows, games, err := w.Finalize()
		if err != nil {
			return sum, err
		}
		if err := shardLog.Add(name, rows); err != nil {
			return sum, err
		}

		log.Info().Str("in", name).Str("out", filepath.Base(out)).Int("rows", rows).Int("games", games).Msg("converted shard")
		sum.Shards++
		sum.Rows += rows
		sum.Games += games
	}
	return sum, nil
}

// convertShard streams one batch shard into w. Rows whose move prefix does
// not replay to the stored board are skipped.
func convertShard(inPath string, w *store.BatchWriter[store.TrainingXRow], reflect bool) error {
	f, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[store.TrainingRow](f)
	defer reader.Close()

	buf := make([]store.TrainingRow, 256)
	out := make([]store.TrainingXRow, 0, 2048)
	lastGame := ""

	flush := func() error {
		if err := w.WriteRows(out); err != nil {
			return err
		}
		out = out[:0]
		return nil
	}

	for {
		n, err := reader.Read(buf)
		for _, row := range buf[:n] {
			if row.GameID != lastGame {
				w.NoteGameWritten()
				lastGame = row.GameID
			}
			xs, ok := featurize(row, reflect)
			if !ok {
				log.Warn().Str("game", row.GameID).Int32("ply", row.Ply).Msg("row does not replay, skipping")
				continue
			}
			out = append(out, xs...)
			if len(out) >= 2048 {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
	}
	return flush()
}

func featurize(row store.TrainingRow, reflect bool) ([]store.TrainingXRow, bool) {
	moves := make([]int, len(row.Moves))
	for i, m := range row.Moves {
		moves[i] = int(m)
	}
	st, err := game.FromMoves(moves)
	if err != nil {
		return nil, false
	}
	if len(row.Board) > 0 && string(row.Board) != string(convert.BoardBytes(st)) {
		return nil, false
	}

	policy := row.Policy
	if len(policy) != game.Columns {
		// Fall back to a one-hot target on the committed column.
		if row.Chosen < 0 || int(row.Chosen) >= game.Columns {
			return nil, false
		}
		policy = make([]float32, game.Columns)
		policy[row.Chosen] = 1
	}

	out := []store.TrainingXRow{xRow(row, st, policy)}
	if reflect {
		flipped := make([]float32, game.Columns)
		for i, p := range policy {
			flipped[game.Columns-1-i] = p
		}
		out = append(out, xRow(row, st.Reflect(), flipped))
	}
	return out, true
}

func xRow(row store.TrainingRow, st *game.State, policy []float32) store.TrainingXRow {
	ptr := convert.StateToBytes(st)
	x := make([]byte, len(*ptr))
	copy(x, *ptr)
	convert.PutBuffer(ptr)

	r := store.TrainingXRow{
		GameID: row.GameID,
		Ply:    row.Ply,
		X:      x,
		Value:  row.Value,
	}
	r.SetPolicy(policy)
	return r
}
