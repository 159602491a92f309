package mcts

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/rules"
)

func (m *MCTS) traceSelection(t *Tree, id NodeID, s *game.State, move int) {
	if !log.Debug().Enabled() {
		return
	}
	arr := zerolog.Arr()
	for _, st := range t.Summarize(id, m.Config.Cpuct) {
		arr.Dict(zerolog.Dict().
			Int("move", st.Move).
			Float32("score", st.Score).
			Float32("q", st.Q).
			Int("visits", st.Visits).
			Float32("prior", st.Prior))
	}
	log.Debug().
		Int("ply", s.Ply()).
		Str("mover", string(game.MarkRune(s.Perspective()))).
		Array("children", arr).
		Int("exploring", move).
		Msg("select")
}

func (m *MCTS) traceTerminal(s *game.State, result int8) {
	log.Debug().
		Int("ply", s.Ply()).
		Str("result", rules.Winner(result)).
		Msgf("ended with result\n%s", s.Render())
}
