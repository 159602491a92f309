package mcts

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/rules"
)

var ErrGameOver = errors.New("position is already decided")

// puct is the selection score of child under a parent with parentVisits.
// Unvisited children get no exploitation term.
func puct(child *Node, parentVisits int, cpuct float32) float32 {
	return child.Q() + cpuct*child.Prior*math32.Sqrt(float32(parentVisits))/(1+float32(child.Visits))
}

// Validate rejects predictions holding NaN, Inf or negative policy mass.
func Validate(p Prediction) error {
	if math32.IsNaN(p.Value) || math32.IsInf(p.Value, 0) {
		return fmt.Errorf("%w: value %v", ErrInvalidPrediction, p.Value)
	}
	for col, v := range p.Policy {
		if math32.IsNaN(v) || math32.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: policy[%d] = %v", ErrInvalidPrediction, col, v)
		}
	}
	return nil
}

// Search runs the MCTS simulations from a fresh root at s. s is left exactly
// as it was passed in.
func (m *MCTS) Search(s *game.State, simulations int) (*Tree, error) {
	t := NewTree()
	for i := 0; i < simulations; i++ {
		if _, err := m.Simulate(t, t.Root(), s); err != nil {
			return t, fmt.Errorf("simulation %d: %w", i, err)
		}
	}
	return t, nil
}

// ProposeMove searches s and returns the most visited root column.
func (m *MCTS) ProposeMove(s *game.State, simulations int) (int, *Tree, error) {
	if rules.IsGameOver(s) {
		return -1, nil, ErrGameOver
	}
	t, err := m.Search(s, simulations)
	if err != nil {
		return -1, t, err
	}
	best := t.MostVisited(t.Root())
	if best == NoNode {
		return -1, t, ErrGameOver
	}
	return t.Node(best).Move, t, nil
}

// Simulate runs one simulation from node id, whose position is s, down to a
// decided position. It returns the absolute result reached (+1 First, -1
// Second, 0 draw). Every move applied to s is undone before returning.
func (m *MCTS) Simulate(t *Tree, id NodeID, s *game.State) (int8, error) {
	t.nodes[id].Visits++

	if !t.nodes[id].Expanded {
		if err := m.expand(t, id, s); err != nil {
			return 0, err
		}
	}

	result := rules.Result(s)
	if result != game.Empty || len(t.nodes[id].Children) == 0 {
		if m.Config.Trace {
			m.traceTerminal(s, result)
		}
		t.nodes[id].ScoreTotal += int(result) * int(-s.Perspective())
		return result, nil
	}

	child := m.selectChild(t, id)
	move := t.nodes[child].Move
	if m.Config.Trace {
		m.traceSelection(t, id, s, move)
	}

	release, err := s.Play(move)
	if err != nil {
		return 0, err
	}
	r, err := m.Simulate(t, child, s)
	release()
	if err != nil {
		return 0, err
	}

	t.nodes[id].ScoreTotal += int(r) * int(-s.Perspective())
	return r, nil
}

// expand creates one child per legal column, prior taken from a single
// evaluator call. Decided positions still get children; Simulate checks the
// result before selecting.
func (m *MCTS) expand(t *Tree, id NodeID, s *game.State) error {
	pred, err := m.Client.Predict(s)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	if err := Validate(pred); err != nil {
		return err
	}

	legal := s.LegalMoves()
	priors := pred.Policy
	if m.Config.RenormalizePriors {
		var sum float32
		for _, col := range legal {
			sum += priors[col]
		}
		if sum > 0 {
			for _, col := range legal {
				priors[col] /= sum
			}
		}
	}

	children := make([]NodeID, 0, len(legal))
	for _, col := range legal {
		children = append(children, t.add(id, col, priors[col]))
	}

	n := &t.nodes[id]
	n.Children = children
	n.Prediction = pred
	n.Expanded = true
	return nil
}

// selectChild returns the child with the highest PUCT score. Strict
// comparison keeps the first child on ties.
func (m *MCTS) selectChild(t *Tree, id NodeID) NodeID {
	parent := &t.nodes[id]
	best := NoNode
	bestScore := math32.Inf(-1)
	for _, c := range parent.Children {
		if u := puct(&t.nodes[c], parent.Visits, m.Config.Cpuct); u > bestScore {
			bestScore = u
			best = c
		}
	}
	return best
}
