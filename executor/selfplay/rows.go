package selfplay

import (
	"encoding/json"
	"time"

	"github.com/brensch/c4zero/rules"
	"github.com/brensch/c4zero/store"
)

// RowMeta labels rows with where they came from.
type RowMeta struct {
	Iteration int
	Source    string
	Model     string
	Sims      int
}

// TrainingRows converts every trained decision of g into a store row, in ply
// order.
func (g *Game) TrainingRows(meta RowMeta) []store.TrainingRow {
	byPly := make(map[int]Example, len(g.Examples))
	for _, ex := range g.Examples {
		byPly[ex.Ply] = ex
	}

	rows := make([]store.TrainingRow, 0, len(g.Examples))
	for _, dec := range g.History {
		ex, ok := byPly[dec.Ply]
		if !ok {
			continue
		}
		row := store.TrainingRow{
			GameID:      g.ID,
			Iteration:   int32(meta.Iteration),
			Ply:         int32(dec.Ply),
			Moves:       toInt32(dec.Moves),
			Board:       dec.Board,
			Perspective: int32(dec.Perspective),
			Visits:      make([]int32, len(dec.Visits)),
			Policy:      append([]float32(nil), ex.Target.Policy[:]...),
			Chosen:      int32(dec.Chosen),
			Value:       ex.Target.Value,
			PriorPolicy: append([]float32(nil), dec.Prediction.Policy[:]...),
			PriorValue:  dec.Prediction.Value,
			Loss:        float32(ex.Loss),
			Source:      meta.Source,
			Model:       meta.Model,
		}
		for i, v := range dec.Visits {
			row.Visits[i] = int32(v)
		}
		rows = append(rows, row)
	}
	return rows
}

// GameRow summarises g. withRoots embeds the per-ply root statistics as JSON.
func (g *Game) GameRow(meta RowMeta, withRoots bool) (store.GameRow, error) {
	row := store.GameRow{
		GameID:    g.ID,
		Iteration: int32(meta.Iteration),
		Moves:     toInt32(g.Moves),
		Result:    int32(g.Result),
		Winner:    rules.Winner(g.Result),
		Plies:     int32(len(g.Moves)),
		Sims:      int32(meta.Sims),
		MeanLoss:  float32(g.MeanLoss()),
		Source:    meta.Source,
		Model:     meta.Model,
		CreatedNs: time.Now().UnixNano(),
	}
	if withRoots {
		roots := make([][]store.DebugChild, len(g.History))
		for i, dec := range g.History {
			roots[i] = debugChildren(dec)
		}
		b, err := json.Marshal(roots)
		if err != nil {
			return row, err
		}
		row.RootJSON = b
	}
	return row, nil
}

func debugChildren(dec Decision) []store.DebugChild {
	out := make([]store.DebugChild, 0, len(dec.Summary))
	for _, st := range dec.Summary {
		out = append(out, store.DebugChild{
			Move:   int32(st.Move),
			Visits: int32(st.Visits),
			Q:      st.Q,
			Prior:  st.Prior,
			Score:  st.Score,
		})
	}
	return out
}

func toInt32(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
