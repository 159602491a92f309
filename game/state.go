// Package game defines the Connect Four board state.
//
// A single State is shared by the whole search: moves are applied and undone
// in place rather than cloning the board per tree node. The board stores
// absolute marks for the two fixed players plus a separate perspective flag
// naming the player to move.
package game

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Columns = 7
	Rows    = 6
	Cells   = Columns * Rows
)

// Marks. First always moves on even plies.
const (
	Empty  int8 = 0
	First  int8 = 1
	Second int8 = -1
)

var (
	ErrIllegalMove  = errors.New("illegal move")
	ErrEmptyHistory = errors.New("undo with empty move history")
)

// State is the complete position: board, move history and side to move.
// Row 0 is the bottom row.
type State struct {
	board       [Rows][Columns]int8
	heights     [Columns]int8
	history     []int8
	perspective int8
}

// NewState returns the empty starting position with First to move.
func NewState() *State {
	return &State{
		history:     make([]int8, 0, Cells),
		perspective: First,
	}
}

// FromMoves replays moves from the empty board.
func FromMoves(moves []int) (*State, error) {
	s := NewState()
	for i, col := range moves {
		if err := s.Apply(col); err != nil {
			return nil, fmt.Errorf("ply %d: %w", i, err)
		}
	}
	return s, nil
}

// IsLegal reports whether col has an empty top cell.
func (s *State) IsLegal(col int) bool {
	if col < 0 || col >= Columns {
		return false
	}
	return s.board[Rows-1][col] == Empty
}

// Apply drops the mover's marker into col and passes the turn.
func (s *State) Apply(col int) error {
	if !s.IsLegal(col) {
		return fmt.Errorf("%w: column %d", ErrIllegalMove, col)
	}
	row := s.heights[col]
	s.board[row][col] = s.perspective
	s.heights[col]++
	s.history = append(s.history, int8(col))
	s.perspective = -s.perspective
	return nil
}

// Undo removes the marker placed by the most recent Apply.
func (s *State) Undo() error {
	n := len(s.history)
	if n == 0 {
		return ErrEmptyHistory
	}
	col := s.history[n-1]
	s.history = s.history[:n-1]
	s.heights[col]--
	s.board[s.heights[col]][col] = Empty
	s.perspective = -s.perspective
	return nil
}

// Play applies col and returns the matching release. Callers defer the
// release so the move is undone on every exit path. Releasing out of order
// panics: it means some other apply was left unpaired.
func (s *State) Play(col int) (func(), error) {
	if err := s.Apply(col); err != nil {
		return nil, err
	}
	depth := len(s.history)
	return func() {
		if len(s.history) != depth || int(s.history[depth-1]) != col {
			panic(fmt.Sprintf("game: release of column %d at ply %d does not match history %v", col, depth, s.history))
		}
		if err := s.Undo(); err != nil {
			panic(err)
		}
	}, nil
}

// LegalMoves lists the playable columns in ascending order.
func (s *State) LegalMoves() []int {
	moves := make([]int, 0, Columns)
	for col := 0; col < Columns; col++ {
		if s.IsLegal(col) {
			moves = append(moves, col)
		}
	}
	return moves
}

// Perspective is the mark of the player to move.
func (s *State) Perspective() int8 {
	return s.perspective
}

// Cell returns the mark at (col, row), row 0 being the bottom.
func (s *State) Cell(col, row int) int8 {
	return s.board[row][col]
}

// Height is the number of markers in col.
func (s *State) Height(col int) int {
	return int(s.heights[col])
}

// Ply is the number of moves played from the empty board.
func (s *State) Ply() int {
	return len(s.history)
}

// Moves returns a copy of the move history.
func (s *State) Moves() []int {
	out := make([]int, len(s.history))
	for i, c := range s.history {
		out[i] = int(c)
	}
	return out
}

// Board returns a copy of the absolute board.
func (s *State) Board() [Rows][Columns]int8 {
	return s.board
}

// Equal compares board, history and side to move.
func (s *State) Equal(o *State) bool {
	if s.board != o.board || s.perspective != o.perspective || len(s.history) != len(o.history) {
		return false
	}
	for i := range s.history {
		if s.history[i] != o.history[i] {
			return false
		}
	}
	return true
}

// Clone performs a deep copy of the state.
func (s *State) Clone() *State {
	out := *s
	out.history = make([]int8, len(s.history), Cells)
	copy(out.history, s.history)
	return &out
}

// Mirror returns a copy with every marker and the perspective negated.
// The history is kept so the copy can still be undone column by column.
func (s *State) Mirror() *State {
	out := s.Clone()
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns; c++ {
			out.board[r][c] = -out.board[r][c]
		}
	}
	out.perspective = -out.perspective
	return out
}

// Reflect returns the left-right reflection: column c becomes Columns-1-c,
// history included.
func (s *State) Reflect() *State {
	out := s.Clone()
	for r := 0; r < Rows; r++ {
		for c := 0; c < Columns/2; c++ {
			out.board[r][c], out.board[r][Columns-1-c] = out.board[r][Columns-1-c], out.board[r][c]
		}
	}
	for c := 0; c < Columns/2; c++ {
		out.heights[c], out.heights[Columns-1-c] = out.heights[Columns-1-c], out.heights[c]
	}
	for i, c := range out.history {
		out.history[i] = Columns - 1 - c
	}
	return out
}

// Render draws the board top row first. O is First, X is Second.
func (s *State) Render() string {
	var sb strings.Builder
	for r := Rows - 1; r >= 0; r-- {
		for c := 0; c < Columns; c++ {
			sb.WriteByte(MarkRune(s.board[r][c]))
		}
		sb.WriteByte('\n')
	}
	for c := 0; c < Columns; c++ {
		sb.WriteByte(byte('0' + c))
	}
	sb.WriteByte('\n')
	return sb.String()
}

// MarkRune is the single character used for a mark in renders.
func MarkRune(mark int8) byte {
	switch mark {
	case First:
		return 'O'
	case Second:
		return 'X'
	default:
		return '.'
	}
}
