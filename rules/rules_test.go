package rules

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/c4zero/game"
)

func play(t *testing.T, moves ...int) *game.State {
	t.Helper()
	s, err := game.FromMoves(moves)
	require.NoError(t, err)
	return s
}

func TestVerticalWin(t *testing.T) {
	s := game.NewState()
	moves := []int{0, 1, 0, 1, 0, 1, 0}
	for i, col := range moves {
		require.Equal(t, game.Empty, Result(s), "no result expected before ply %d", i)
		require.NoError(t, s.Apply(col))
	}
	assert.Equal(t, game.First, Result(s))
	assert.True(t, IsGameOver(s))
}

func TestHorizontalWin(t *testing.T) {
	s := play(t, 0, 0, 1, 1, 2, 2, 3)
	assert.Equal(t, game.First, Result(s), s.Render())
}

func TestSecondPlayerWin(t *testing.T) {
	s := play(t, 6, 0, 6, 1, 5, 2, 6, 3)
	assert.Equal(t, game.Second, Result(s), s.Render())
}

func TestRisingDiagonal(t *testing.T) {
	// O on (0,0) (1,1) (2,2) (3,3).
	s := play(t, 0, 1, 1, 2, 2, 3, 2, 3, 3, 6, 3)
	assert.Equal(t, game.First, Result(s), s.Render())
}

func TestFallingDiagonal(t *testing.T) {
	// O on (3,0) (2,1) (1,2) (0,3).
	s := play(t, 3, 2, 2, 1, 1, 0, 1, 0, 0, 6, 0)
	assert.Equal(t, game.First, Result(s), s.Render())
}

func TestNoResultOnOpenBoard(t *testing.T) {
	s := play(t, 3, 3, 4, 4)
	assert.Equal(t, game.Empty, Result(s))
	assert.False(t, IsGameOver(s))
}

func TestTerminalSymmetry(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		s := game.NewState()
		for !IsGameOver(s) {
			legal := s.LegalMoves()
			require.NoError(t, s.Apply(legal[r.Intn(len(legal))]))

			m := s.Mirror()
			require.Equal(t, -Result(s), Result(m), "\n%s", s.Render())
		}
	}
}

func TestFullBoardDraw(t *testing.T) {
	// Column pairs filled in an order that never lines up four.
	order := []int{0, 1, 0, 1, 0, 1, 1, 0, 1, 0, 1, 0,
		2, 3, 2, 3, 2, 3, 3, 2, 3, 2, 3, 2,
		4, 5, 4, 5, 4, 5, 5, 4, 5, 4, 5, 4,
		6, 6, 6, 6, 6, 6}
	s := game.NewState()
	for _, col := range order {
		require.Equal(t, game.Empty, Result(s), s.Render())
		require.NoError(t, s.Apply(col))
	}
	assert.Equal(t, game.Empty, Result(s), s.Render())
	assert.True(t, IsGameOver(s))
	assert.Equal(t, "draw", Winner(Result(s)))
}
