package selfplay

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/c4zero/executor/convert"
	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/rules"
)

// Target is what one search taught about one position: the visit share per
// column and the final result from the mover's point of view.
type Target struct {
	Policy [game.Columns]float32
	Value  float32
}

// Trainer takes one optimisation step on position s. pred is the evaluator
// output recorded for s during search.
type Trainer interface {
	TrainStep(s *game.State, pred mcts.Prediction, target Target) (float64, error)
}

// Evaluator both guides search and learns from finished games.
type Evaluator interface {
	mcts.Predictor
	Trainer
}

// Decision is the root of one committed search.
type Decision struct {
	Ply         int
	Moves       []int
	Board       []byte
	Perspective int8
	Chosen      int
	Visits      [game.Columns]int
	Children    int
	TreeNodes   int
	Prediction  mcts.Prediction
	Summary     []mcts.ChildStat
}

// Example is a training step issued for one decision once the game ended.
type Example struct {
	Ply    int
	Target Target
	Loss   float64
}

// Game is one finished self-play game.
type Game struct {
	ID       string
	Opening  []int
	Moves    []int
	Result   int8
	History  []Decision
	Examples []Example
	Duration time.Duration
}

// MeanLoss averages the loss over the game's training steps.
func (g *Game) MeanLoss() float64 {
	if len(g.Examples) == 0 {
		return 0
	}
	var sum float64
	for _, ex := range g.Examples {
		sum += ex.Loss
	}
	return sum / float64(len(g.Examples))
}

// Driver plays games against itself, one search per move.
type Driver struct {
	Engine      *mcts.MCTS
	Trainer     Trainer
	Simulations int

	// ExploreMoves plays the first plies by sampling visit counts instead of
	// taking the most visited column.
	ExploreMoves int
	Rng          *rand.Rand

	// OnMove, if set, sees every committed move before it is applied.
	OnMove func(s *game.State, d Decision)
}

// NewDriver wires an evaluator into both the search and the training side.
func NewDriver(eval Evaluator, cfg mcts.Config, simulations int, rng *rand.Rand) *Driver {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Driver{
		Engine:      mcts.New(eval, cfg),
		Trainer:     eval,
		Simulations: simulations,
		Rng:         rng,
	}
}

// PlayGame plays from s until the game is decided. Each position on the way
// gets a fresh search; on the way back up every decision is trained against
// the final result. s is returned to its starting position, error paths
// included.
func (d *Driver) PlayGame(s *game.State) (*Game, error) {
	start := time.Now()
	g := &Game{
		ID:      "selfplay_" + uuid.NewString(),
		Opening: s.Moves(),
	}
	result, err := d.play(s, g)
	if err != nil {
		return nil, err
	}
	g.Result = result
	g.Duration = time.Since(start)
	return g, nil
}

func (d *Driver) play(s *game.State, g *Game) (int8, error) {
	if rules.IsGameOver(s) {
		g.Moves = s.Moves()
		return rules.Result(s), nil
	}

	sims := d.Simulations
	if sims <= 0 {
		sims = 1
	}
	tree, err := d.Engine.Search(s, sims)
	if err != nil {
		return 0, fmt.Errorf("ply %d: %w", s.Ply(), err)
	}
	root := tree.Root()
	rootNode := tree.Node(root)

	dec := Decision{
		Ply:         s.Ply(),
		Moves:       s.Moves(),
		Board:       convert.BoardBytes(s),
		Perspective: s.Perspective(),
		Visits:      tree.VisitCounts(root),
		Children:    len(rootNode.Children),
		TreeNodes:   tree.Len(),
		Prediction:  rootNode.Prediction,
		Summary:     tree.Summarize(root, d.Engine.Config.Cpuct),
	}
	dec.Chosen = d.choose(tree, s.Ply())
	if d.OnMove != nil {
		d.OnMove(s, dec)
	}
	idx := len(g.History)
	g.History = append(g.History, dec)

	release, err := s.Play(dec.Chosen)
	if err != nil {
		return 0, err
	}
	result, err := d.play(s, g)
	release()
	if err != nil {
		return 0, err
	}

	target, ok := BuildTarget(g.History[idx], result)
	if !ok {
		return result, nil
	}
	ex := Example{Ply: dec.Ply, Target: target}
	if d.Trainer != nil {
		if ex.Loss, err = d.Trainer.TrainStep(s, dec.Prediction, target); err != nil {
			return 0, fmt.Errorf("train ply %d: %w", dec.Ply, err)
		}
	}
	g.Examples = append(g.Examples, ex)
	return result, nil
}

// choose commits the most visited root child, or samples by visit share
// during the opening plies.
func (d *Driver) choose(tree *mcts.Tree, ply int) int {
	root := tree.Root()
	if ply < d.ExploreMoves && d.Rng != nil {
		if col, ok := sampleMove(d.Rng, tree.VisitPolicy(root)); ok {
			return col
		}
	}
	return tree.Node(tree.MostVisited(root)).Move
}

// BuildTarget turns a committed decision and the final result into training
// targets. Decisions without children yield nothing.
func BuildTarget(dec Decision, result int8) (Target, bool) {
	var t Target
	if dec.Children == 0 {
		return t, false
	}
	total := 0
	for _, v := range dec.Visits {
		total += v
	}
	if total == 0 {
		return t, false
	}
	for col, v := range dec.Visits {
		t.Policy[col] = float32(v) / float32(total)
	}
	t.Value = float32(result * dec.Perspective)
	return t, true
}

func sampleMove(rng *rand.Rand, policy [game.Columns]float32) (int, bool) {
	r := rng.Float32()
	sum := float32(0)
	last := -1
	for i, p := range policy {
		if p <= 0 {
			continue
		}
		last = i
		sum += p
		if r < sum {
			return i, true
		}
	}
	return last, last >= 0
}
