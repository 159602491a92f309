package inference

import (
	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/executor/selfplay"
	"github.com/brensch/c4zero/game"
)

// Frozen turns a fixed predictor into an evaluator. TrainStep only reports
// the loss; the parameters are trained offline from the written rows.
type Frozen struct {
	mcts.Predictor
}

func (f Frozen) TrainStep(_ *game.State, pred mcts.Prediction, target selfplay.Target) (float64, error) {
	return Loss(pred, target), nil
}
