package selfplay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/c4zero/executor/convert"
	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/rules"
	"github.com/brensch/c4zero/store"
)

// DebugGameResult holds a traced game, one row per ply.
type DebugGameResult struct {
	Meta store.DebugGameMeta
	Rows []store.DebugPlyRow
}

// DebugProgress is passed to the progress callback after each ply.
type DebugProgress struct {
	Ply    int
	Chosen int
	Render string
}

// PlayDebugGame plays a game from the empty board taking the most visited
// column each ply, with search tracing on, and captures the root statistics
// of every search. Nothing is trained.
func PlayDebugGame(ctx context.Context, cfg mcts.Config, client mcts.Predictor, model string, sims int, onProgress func(DebugProgress)) (*DebugGameResult, error) {
	if sims <= 0 {
		sims = 1
	}
	cfg.Trace = true
	m := mcts.New(client, cfg)
	s := game.NewState()
	id := "debug_" + uuid.NewString()

	res := &DebugGameResult{
		Meta: store.DebugGameMeta{
			GameID:    id,
			Model:     model,
			CreatedNs: time.Now().UnixNano(),
			Sims:      int32(sims),
			Cpuct:     m.Config.Cpuct,
		},
	}

	for !rules.IsGameOver(s) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		col, tree, err := m.ProposeMove(s, sims)
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", s.Ply(), err)
		}
		root := tree.Node(tree.Root())
		stats := tree.Summarize(tree.Root(), m.Config.Cpuct)
		children := make([]store.DebugChild, 0, len(stats))
		for _, st := range stats {
			children = append(children, store.DebugChild{
				Move:   int32(st.Move),
				Visits: int32(st.Visits),
				Q:      st.Q,
				Prior:  st.Prior,
				Score:  st.Score,
			})
		}
		res.Rows = append(res.Rows, store.DebugPlyRow{
			GameID:      id,
			Model:       model,
			Ply:         int32(s.Ply()),
			Board:       convert.BoardBytes(s),
			Perspective: int32(s.Perspective()),
			Chosen:      int32(col),
			Sims:        int32(sims),
			Cpuct:       m.Config.Cpuct,
			PriorValue:  root.Prediction.Value,
			TreeNodes:   int32(tree.Len()),
			Children:    children,
		})

		if err := s.Apply(col); err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(DebugProgress{Ply: s.Ply() - 1, Chosen: col, Render: s.Render()})
		}
	}

	res.Meta.Plies = int32(s.Ply())
	res.Meta.Winner = rules.Winner(rules.Result(s))
	return res, nil
}

// WriteDebugGame stores a traced game under outDir.
func WriteDebugGame(outDir string, res *DebugGameResult) (string, error) {
	return store.WriteDebugGameParquet(outDir, res.Meta, res.Rows)
}
