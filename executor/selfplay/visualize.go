package selfplay

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"

	"github.com/brensch/c4zero/executor/convert"
	"github.com/brensch/c4zero/game"
)

// PrintBoard writes a coloured board followed by the encoded input the
// evaluator sees for the player to move.
func PrintBoard(w io.Writer, s *game.State) {
	out := termenv.NewOutput(w)
	first := out.Color("#e74c3c")
	second := out.Color("#f1c40f")

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n=== ply %d, %c to move ===\n", s.Ply(), game.MarkRune(s.Perspective()))
	for row := game.Rows - 1; row >= 0; row-- {
		for col := 0; col < game.Columns; col++ {
			switch s.Cell(col, row) {
			case game.First:
				sb.WriteString(out.String("●").Foreground(first).String())
			case game.Second:
				sb.WriteString(out.String("●").Foreground(second).String())
			default:
				sb.WriteString(out.String("·").Faint().String())
			}
			sb.WriteString(" ")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("0 1 2 3 4 5 6\n")

	printEncoded(&sb, s)
	fmt.Fprint(w, sb.String())
}

func printEncoded(sb *strings.Builder, s *game.State) {
	ptr := convert.StateToFloat32(s)
	defer convert.PutFloatBuffer(ptr)
	data := *ptr

	sb.WriteString("--- encoded (mover = +1) ---\n")
	for row := game.Rows - 1; row >= 0; row-- {
		for col := 0; col < game.Columns; col++ {
			v := data[convert.Index(col, row)]
			if v == 0 {
				sb.WriteString("  . ")
				continue
			}
			fmt.Fprintf(sb, "%+3.0f ", v)
		}
		sb.WriteString("\n")
	}
}
