package selfplay

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/store"
)

// ParquetSink buffers finished games and writes them as a batch_ shard of
// training rows plus a games_ shard of summaries once GamesPerFlush games
// are buffered, or on Flush.
type ParquetSink struct {
	OutDir        string
	GamesPerFlush int
	// WithRoots embeds per-ply root statistics in the game rows.
	WithRoots bool

	mu    sync.Mutex
	rows  []store.TrainingRow
	games []store.GameRow
}

func NewParquetSink(outDir string, gamesPerFlush int) *ParquetSink {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 1
	}
	return &ParquetSink{OutDir: outDir, GamesPerFlush: gamesPerFlush}
}

func (p *ParquetSink) WriteGame(g *Game, meta RowMeta) error {
	gr, err := g.GameRow(meta, p.WithRoots)
	if err != nil {
		return fmt.Errorf("game row: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = append(p.rows, g.TrainingRows(meta)...)
	p.games = append(p.games, gr)
	if len(p.games) < p.GamesPerFlush {
		return nil
	}
	return p.flushLocked()
}

func (p *ParquetSink) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

// Pending is the number of buffered games.
func (p *ParquetSink) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.games)
}

func (p *ParquetSink) flushLocked() error {
	if len(p.games) == 0 {
		return nil
	}
	if len(p.rows) > 0 {
		path, err := store.WriteBatchParquetAtomic(p.OutDir, p.rows)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Int("rows", len(p.rows)).Msg("wrote training batch")
	}
	path, err := store.WriteGamesParquetAtomic(p.OutDir, p.games)
	if err != nil {
		return err
	}
	log.Info().Str("path", path).Int("games", len(p.games)).Msg("wrote games")
	p.rows = p.rows[:0]
	p.games = p.games[:0]
	return nil
}
