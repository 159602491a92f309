package selfplay

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/rules"
	"github.com/brensch/c4zero/store"
)

var errBoom = errors.New("boom")

// stubEvaluator predicts a uniform policy and counts training steps.
type stubEvaluator struct {
	Predicts int
	Trained  []int // ply of every TrainStep position, in call order

	FailPredictAt int
	FailTrainAt   int
}

func (e *stubEvaluator) Predict(s *game.State) (mcts.Prediction, error) {
	e.Predicts++
	if e.FailPredictAt > 0 && e.Predicts >= e.FailPredictAt {
		return mcts.Prediction{}, errBoom
	}
	var p mcts.Prediction
	for i := range p.Policy {
		p.Policy[i] = 1.0 / game.Columns
	}
	return p, nil
}

func (e *stubEvaluator) TrainStep(s *game.State, pred mcts.Prediction, target Target) (float64, error) {
	e.Trained = append(e.Trained, s.Ply())
	if e.FailTrainAt > 0 && len(e.Trained) >= e.FailTrainAt {
		return 0, errBoom
	}
	return 0.25, nil
}

func newTestDriver(eval Evaluator, sims int) *Driver {
	return NewDriver(eval, mcts.Config{}, sims, rand.New(rand.NewSource(1)))
}

func TestPlayGameRecordsEveryDecision(t *testing.T) {
	eval := &stubEvaluator{}
	d := newTestDriver(eval, 30)
	s := game.NewState()

	g, err := d.PlayGame(s)
	require.NoError(t, err)

	assert.Zero(t, s.Ply(), "state must be back at the start")
	require.Len(t, g.History, len(g.Moves))
	for i, dec := range g.History {
		assert.Equal(t, i, dec.Ply)
		assert.Positive(t, dec.Children)
		assert.Equal(t, g.Moves[i], dec.Chosen)
		assert.Equal(t, g.Moves[:i], dec.Moves)
	}

	final, err := game.FromMoves(g.Moves)
	require.NoError(t, err)
	assert.True(t, rules.IsGameOver(final))
	assert.Equal(t, rules.Result(final), g.Result)
	assert.Contains(t, g.ID, "selfplay_")
}

func TestOneTrainStepPerDecision(t *testing.T) {
	eval := &stubEvaluator{}
	d := newTestDriver(eval, 20)

	g, err := d.PlayGame(game.NewState())
	require.NoError(t, err)

	require.Len(t, eval.Trained, len(g.History))
	require.Len(t, g.Examples, len(g.History))
	// Training runs while unwinding: deepest position first.
	for i, ply := range eval.Trained {
		assert.Equal(t, len(g.History)-1-i, ply)
		assert.Equal(t, ply, g.Examples[i].Ply)
	}
	assert.InDelta(t, 0.25, g.MeanLoss(), 1e-9)
}

func TestTargetsMatchResult(t *testing.T) {
	d := newTestDriver(&stubEvaluator{}, 25)

	g, err := d.PlayGame(game.NewState())
	require.NoError(t, err)

	byPly := map[int]Decision{}
	for _, dec := range g.History {
		byPly[dec.Ply] = dec
	}
	for _, ex := range g.Examples {
		var sum float32
		for _, p := range ex.Target.Policy {
			assert.GreaterOrEqual(t, p, float32(0))
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-5)
		want := float32(g.Result * byPly[ex.Ply].Perspective)
		assert.Equal(t, want, ex.Target.Value)
	}
}

func TestPlayGameFromOpening(t *testing.T) {
	s, err := game.FromMoves([]int{3, 3, 2})
	require.NoError(t, err)
	before := s.Clone()

	g, err := newTestDriver(&stubEvaluator{}, 20).PlayGame(s)
	require.NoError(t, err)

	assert.True(t, s.Equal(before))
	assert.Equal(t, []int{3, 3, 2}, g.Opening)
	assert.Equal(t, []int{3, 3, 2}, g.Moves[:3])
	require.NotEmpty(t, g.History)
	assert.Equal(t, 3, g.History[0].Ply)
}

func TestPlayGameOnDecidedPosition(t *testing.T) {
	s, err := game.FromMoves([]int{0, 1, 0, 1, 0, 1, 0})
	require.NoError(t, err)
	eval := &stubEvaluator{}

	g, err := newTestDriver(eval, 10).PlayGame(s)
	require.NoError(t, err)
	assert.Equal(t, game.First, g.Result)
	assert.Empty(t, g.History)
	assert.Zero(t, eval.Predicts)
}

func TestPlayGameErrorsRestoreState(t *testing.T) {
	for name, eval := range map[string]*stubEvaluator{
		"predict": {FailPredictAt: 30},
		"train":   {FailTrainAt: 3},
	} {
		t.Run(name, func(t *testing.T) {
			s, err := game.FromMoves([]int{3, 4})
			require.NoError(t, err)
			before := s.Clone()

			_, err = newTestDriver(eval, 20).PlayGame(s)
			require.ErrorIs(t, err, errBoom)
			assert.True(t, s.Equal(before))
		})
	}
}

func TestExploreMovesSamples(t *testing.T) {
	policy := [game.Columns]float32{0, 0, 1}
	col, ok := sampleMove(rand.New(rand.NewSource(7)), policy)
	require.True(t, ok)
	assert.Equal(t, 2, col)

	_, ok = sampleMove(rand.New(rand.NewSource(7)), [game.Columns]float32{})
	assert.False(t, ok)

	// Sampled openings differ between seeds while greedy play does not.
	openings := map[int]bool{}
	for seed := int64(0); seed < 8; seed++ {
		d := NewDriver(&stubEvaluator{}, mcts.Config{}, 14, rand.New(rand.NewSource(seed)))
		d.ExploreMoves = 2
		g, err := d.PlayGame(game.NewState())
		require.NoError(t, err)
		openings[g.Moves[0]] = true
	}
	assert.Greater(t, len(openings), 1)
}

func TestBuildTarget(t *testing.T) {
	_, ok := BuildTarget(Decision{}, game.First)
	assert.False(t, ok)

	dec := Decision{Children: 7, Perspective: game.Second, Visits: [game.Columns]int{1, 0, 3}}
	target, ok := BuildTarget(dec, game.First)
	require.True(t, ok)
	assert.Equal(t, [game.Columns]float32{0.25, 0, 0.75}, target.Policy)
	assert.Equal(t, float32(-1), target.Value)

	target, ok = BuildTarget(dec, game.Empty)
	require.True(t, ok)
	assert.Zero(t, target.Value)
}

func TestOnMoveSeesEveryDecision(t *testing.T) {
	d := newTestDriver(&stubEvaluator{}, 10)
	var seen []int
	d.OnMove = func(s *game.State, dec Decision) {
		assert.Equal(t, s.Ply(), dec.Ply)
		seen = append(seen, dec.Chosen)
	}
	g, err := d.PlayGame(game.NewState())
	require.NoError(t, err)
	assert.Equal(t, g.Moves, seen)
}

func TestGameRows(t *testing.T) {
	g, err := newTestDriver(&stubEvaluator{}, 15).PlayGame(game.NewState())
	require.NoError(t, err)
	meta := RowMeta{Iteration: 4, Source: "selfplay", Model: "m", Sims: 15}

	rows := g.TrainingRows(meta)
	require.Len(t, rows, len(g.History))
	for i, r := range rows {
		assert.Equal(t, int32(i), r.Ply)
		assert.Equal(t, int32(4), r.Iteration)
		assert.Len(t, r.Board, game.Cells)
		assert.Len(t, r.Policy, game.Columns)
		assert.Equal(t, int32(g.Moves[i]), r.Chosen)
	}

	gr, err := g.GameRow(meta, true)
	require.NoError(t, err)
	assert.Equal(t, rules.Winner(g.Result), gr.Winner)
	assert.Equal(t, int32(len(g.Moves)), gr.Plies)

	var roots [][]store.DebugChild
	require.NoError(t, json.Unmarshal(gr.RootJSON, &roots))
	assert.Len(t, roots, len(g.History))

	gr, err = g.GameRow(meta, false)
	require.NoError(t, err)
	assert.Empty(t, gr.RootJSON)
}

type memorySink struct {
	games   []RowMeta
	flushes int
}

func (m *memorySink) WriteGame(g *Game, meta RowMeta) error {
	m.games = append(m.games, meta)
	return nil
}

func (m *memorySink) Flush() error {
	m.flushes++
	return nil
}

type memoryCheckpointer struct {
	saved   []int
	restore int
	ok      bool
}

func (m *memoryCheckpointer) Save(iter int) error {
	m.saved = append(m.saved, iter)
	return nil
}

func (m *memoryCheckpointer) Restore() (int, bool, error) {
	return m.restore, m.ok, nil
}

func TestRunCheckpoints(t *testing.T) {
	sink := &memorySink{}
	ckpt := &memoryCheckpointer{}
	var progress []Progress

	cfg := RunConfig{Iterations: 3, GamesPerIteration: 2, CheckpointEvery: 2}
	err := Run(context.Background(), cfg, newTestDriver(&stubEvaluator{}, 8), sink, ckpt, func(p Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Len(t, sink.games, 6)
	assert.Len(t, progress, 6)
	assert.Equal(t, 3, sink.flushes)
	assert.Equal(t, []int{1, 2}, ckpt.saved)
	assert.Equal(t, "selfplay", sink.games[0].Source)
}

func TestRunResumes(t *testing.T) {
	sink := &memorySink{}
	ckpt := &memoryCheckpointer{restore: 1, ok: true}

	cfg := RunConfig{Iterations: 3, GamesPerIteration: 2}
	require.NoError(t, Run(context.Background(), cfg, newTestDriver(&stubEvaluator{}, 8), sink, ckpt, nil))

	require.Len(t, sink.games, 2)
	for _, meta := range sink.games {
		assert.Equal(t, 2, meta.Iteration)
	}
	assert.Equal(t, []int{2}, ckpt.saved)
}

func TestRunStopsOnCancel(t *testing.T) {
	sink := &memorySink{}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Run(ctx, RunConfig{GamesPerIteration: 3}, newTestDriver(&stubEvaluator{}, 8), sink, nil, func(Progress) {
		calls++
		if calls == 2 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sink.games, 2, "the game in flight finishes")
	assert.Equal(t, 1, sink.flushes)
}

func TestParquetSink(t *testing.T) {
	dir := t.TempDir()
	sink := NewParquetSink(dir, 2)
	sink.WithRoots = true
	d := newTestDriver(&stubEvaluator{}, 8)

	var plies int
	for i := 0; i < 3; i++ {
		g, err := d.PlayGame(game.NewState())
		require.NoError(t, err)
		plies += len(g.History)
		require.NoError(t, sink.WriteGame(g, RowMeta{Iteration: 0, Source: "selfplay"}))
	}
	assert.Equal(t, 1, sink.Pending())
	require.NoError(t, sink.Flush())
	assert.Zero(t, sink.Pending())

	batches, err := store.ListShards(dir, store.TrainingPrefix)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	total := 0
	for _, b := range batches {
		rows, err := store.ReadTrainingRows(b)
		require.NoError(t, err)
		total += len(rows)
	}
	assert.Equal(t, plies, total)

	games, err := store.ListShards(dir, store.GamePrefix)
	require.NoError(t, err)
	assert.Len(t, games, 2)
}

func TestPlayDebugGame(t *testing.T) {
	var steps int
	res, err := PlayDebugGame(context.Background(), mcts.Config{}, &stubEvaluator{}, "stub", 10, func(DebugProgress) { steps++ })
	require.NoError(t, err)

	require.Len(t, res.Rows, int(res.Meta.Plies))
	assert.Equal(t, steps, len(res.Rows))
	assert.NotEmpty(t, res.Meta.Winner)
	for i, r := range res.Rows {
		assert.Equal(t, int32(i), r.Ply)
		assert.NotEmpty(t, r.Children)
	}

	path, err := WriteDebugGame(t.TempDir(), res)
	require.NoError(t, err)
	got, err := store.ReadDebugGame(path)
	require.NoError(t, err)
	assert.Len(t, got, len(res.Rows))
}

func TestPlayDebugGameCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := PlayDebugGame(ctx, mcts.Config{}, &stubEvaluator{}, "stub", 10, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
