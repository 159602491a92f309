package main

import (
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/c4zero/executor/convert"
	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/store"
)

func rowFor(t *testing.T, gameID string, moves []int, policy []float32, value float32) store.TrainingRow {
	t.Helper()
	st, err := game.FromMoves(moves)
	require.NoError(t, err)
	m := make([]int32, len(moves))
	for i, c := range moves {
		m[i] = int32(c)
	}
	return store.TrainingRow{
		GameID:      gameID,
		Ply:         int32(len(moves)),
		Moves:       m,
		Board:       convert.BoardBytes(st),
		Perspective: int32(st.Perspective()),
		Policy:      policy,
		Chosen:      2,
		Value:       value,
		Source:      "selfplay",
	}
}

func TestRunConvertsOnce(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "train")

	policy := []float32{0.5, 0.25, 0.25, 0, 0, 0, 0}
	rows := []store.TrainingRow{
		rowFor(t, "g1", nil, policy, 1),
		rowFor(t, "g1", []int{3}, policy, -1),
		rowFor(t, "g2", []int{3, 3}, nil, 0),
	}
	// A row whose board disagrees with its move prefix.
	bad := rowFor(t, "g2", []int{4}, policy, 1)
	bad.Board[0] = 1
	rows = append(rows, bad)

	_, err := store.WriteBatchParquetAtomic(in, rows)
	require.NoError(t, err)

	sum, err := run(options{InDir: in, OutDir: out})
	require.NoError(t, err)
	assert.Equal(t, summary{Shards: 1, Rows: 3, Games: 2}, sum)

	shards, err := store.ListShards(out, store.FeaturizedPrefix)
	require.NoError(t, err)
	require.Len(t, shards, 1)

	got, err := parquet.ReadFile[store.TrainingXRow](shards[0])
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, policy, got[0].Policy())
	assert.Equal(t, float32(-1), got[1].Value)
	// Missing policy falls back to the chosen column.
	assert.Equal(t, []float32{0, 0, 1, 0, 0, 0, 0}, got[2].Policy())

	x := convert.BytesToFloat32(got[1].X)
	require.Len(t, x, game.Cells)
	// After one move in column 3 the mover sees the opponent's marker.
	assert.Equal(t, float32(-1), x[convert.Index(3, 0)])

	sum, err = run(options{InDir: in, OutDir: out})
	require.NoError(t, err)
	assert.Equal(t, summary{Skipped: 1}, sum)
}

func TestReflectDoublesRows(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	policy := []float32{1, 0, 0, 0, 0, 0, 0}
	_, err := store.WriteBatchParquetAtomic(in, []store.TrainingRow{rowFor(t, "g1", []int{1}, policy, 1)})
	require.NoError(t, err)

	sum, err := run(options{InDir: in, OutDir: out, Reflect: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rows)

	shards, err := store.ListShards(out, store.FeaturizedPrefix)
	require.NoError(t, err)
	require.Len(t, shards, 1)
	got, err := parquet.ReadFile[store.TrainingXRow](shards[0])
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0, 1}, got[1].Policy())
	x := convert.BytesToFloat32(got[1].X)
	assert.Equal(t, float32(-1), x[convert.Index(5, 0)])
	assert.Zero(t, x[convert.Index(1, 0)])
}

func TestSameDirRejected(t *testing.T) {
	dir := t.TempDir()
	_, err := run(options{InDir: dir, OutDir: dir})
	assert.Error(t, err)
}
