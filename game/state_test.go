package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlacesBottomUp(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Apply(3))
	require.NoError(t, s.Apply(3))

	assert.Equal(t, First, s.Cell(3, 0))
	assert.Equal(t, Second, s.Cell(3, 1))
	assert.Equal(t, Empty, s.Cell(3, 2))
	assert.Equal(t, 2, s.Height(3))
	assert.Equal(t, First, s.Perspective())
	assert.Equal(t, []int{3, 3}, s.Moves())
}

func TestApplyUndoRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	s := NewState()

	for s.Ply() < Cells {
		legal := s.LegalMoves()
		if len(legal) == 0 {
			break
		}
		before := s.Clone()
		col := legal[r.Intn(len(legal))]

		require.NoError(t, s.Apply(col))
		require.NoError(t, s.Undo())
		require.True(t, s.Equal(before), "apply/undo of %d changed the state:\n%s", col, s.Render())

		require.NoError(t, s.Apply(col))
	}
	assert.Equal(t, Cells, s.Ply())
	assert.Empty(t, s.LegalMoves())
}

func TestFullColumnIsIllegal(t *testing.T) {
	s := NewState()
	for i := 0; i < Rows; i++ {
		require.True(t, s.IsLegal(0))
		require.NoError(t, s.Apply(0))
	}

	assert.False(t, s.IsLegal(0))
	assert.NotContains(t, s.LegalMoves(), 0)

	before := s.Clone()
	err := s.Apply(0)
	assert.ErrorIs(t, err, ErrIllegalMove)
	assert.True(t, s.Equal(before), "rejected move must not touch the board")
}

func TestOutOfRangeColumns(t *testing.T) {
	s := NewState()
	assert.False(t, s.IsLegal(-1))
	assert.False(t, s.IsLegal(Columns))
	assert.ErrorIs(t, s.Apply(Columns), ErrIllegalMove)
}

func TestUndoEmptyHistory(t *testing.T) {
	s := NewState()
	assert.ErrorIs(t, s.Undo(), ErrEmptyHistory)
}

func TestPlayReleaseRestores(t *testing.T) {
	s, err := FromMoves([]int{0, 1, 2})
	require.NoError(t, err)
	before := s.Clone()

	release, err := s.Play(4)
	require.NoError(t, err)
	assert.Equal(t, Second, s.Cell(4, 0))

	release()
	assert.True(t, s.Equal(before))
}

func TestPlayReleaseOutOfOrderPanics(t *testing.T) {
	s := NewState()
	outer, err := s.Play(0)
	require.NoError(t, err)
	_, err = s.Play(1)
	require.NoError(t, err)

	assert.Panics(t, outer)
}

func TestFromMovesRejectsIllegal(t *testing.T) {
	_, err := FromMoves([]int{0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestMirror(t *testing.T) {
	s, err := FromMoves([]int{2, 3, 2})
	require.NoError(t, err)
	m := s.Mirror()

	assert.Equal(t, -s.Perspective(), m.Perspective())
	for col := 0; col < Columns; col++ {
		for row := 0; row < Rows; row++ {
			assert.Equal(t, -s.Cell(col, row), m.Cell(col, row))
		}
	}

	require.NoError(t, m.Undo())
	assert.Equal(t, Empty, m.Cell(2, 1))
}

func TestReflect(t *testing.T) {
	s, err := FromMoves([]int{0, 1, 0, 5})
	require.NoError(t, err)
	r := s.Reflect()

	want, err := FromMoves([]int{6, 5, 6, 1})
	require.NoError(t, err)
	assert.True(t, want.Equal(r))
	assert.True(t, s.Equal(r.Reflect()))
	assert.Equal(t, 2, r.Height(6))

	require.NoError(t, r.Undo())
	assert.Equal(t, Empty, r.Cell(1, 1))
	assert.Equal(t, Empty, r.Cell(1, 0))
}

func TestRender(t *testing.T) {
	s, err := FromMoves([]int{0, 6})
	require.NoError(t, err)

	want := "" +
		".......\n" +
		".......\n" +
		".......\n" +
		".......\n" +
		".......\n" +
		"O.....X\n" +
		"0123456\n"
	assert.Equal(t, want, s.Render())
}
