// Package rules decides when a Connect Four position is over and who won.
package rules

import (
	"github.com/brensch/c4zero/game"
)

const lineLength = 4

// Result returns the mark of the player owning a four-in-a-row, or 0.
//
// Windows are scanned horizontal, vertical, then the rising and falling
// diagonals, returning on the first match. A reachable position holds at most
// one winning line that matters, so the order only affects speed.
func Result(s *game.State) int8 {
	// Horizontal.
	for row := 0; row < game.Rows; row++ {
		for col := 0; col+lineLength <= game.Columns; col++ {
			if w := line(s, col, row, 1, 0); w != game.Empty {
				return w
			}
		}
	}

	// Vertical.
	for row := 0; row+lineLength <= game.Rows; row++ {
		for col := 0; col < game.Columns; col++ {
			if w := line(s, col, row, 0, 1); w != game.Empty {
				return w
			}
		}
	}

	// Diagonals.
	for row := 0; row+lineLength <= game.Rows; row++ {
		for col := 0; col+lineLength <= game.Columns; col++ {
			if w := line(s, col, row, 1, 1); w != game.Empty {
				return w
			}
			if w := line(s, col, row+lineLength-1, 1, -1); w != game.Empty {
				return w
			}
		}
	}

	return game.Empty
}

// line returns the shared mark of the four cells starting at (col, row)
// stepping by (dc, dr), or Empty if they differ.
func line(s *game.State, col, row, dc, dr int) int8 {
	first := s.Cell(col, row)
	if first == game.Empty {
		return game.Empty
	}
	for i := 1; i < lineLength; i++ {
		if s.Cell(col+i*dc, row+i*dr) != first {
			return game.Empty
		}
	}
	return first
}

// IsGameOver reports whether someone has won or the board is full.
func IsGameOver(s *game.State) bool {
	if Result(s) != game.Empty {
		return true
	}
	for col := 0; col < game.Columns; col++ {
		if s.IsLegal(col) {
			return false
		}
	}
	return true
}

// Winner names the result for logs and rows.
func Winner(result int8) string {
	switch result {
	case game.First:
		return "first"
	case game.Second:
		return "second"
	default:
		return "draw"
	}
}
