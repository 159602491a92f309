package inference

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/executor/selfplay"
	"github.com/brensch/c4zero/game"
)

func smallNet(seed int64) *Network {
	return NewNetwork(NetworkConfig{Hidden: []int{32, 32}, LearningRate: 1e-3, Seed: seed})
}

func TestPredictIsADistribution(t *testing.T) {
	net := NewNetwork(DefaultNetworkConfig())
	s, err := game.FromMoves([]int{3, 3, 4})
	require.NoError(t, err)

	p, err := net.Predict(s)
	require.NoError(t, err)

	var sum float32
	for _, v := range p.Policy {
		assert.GreaterOrEqual(t, v, float32(0))
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.GreaterOrEqual(t, p.Value, float32(-1))
	assert.LessOrEqual(t, p.Value, float32(1))
}

func TestPredictIsMoverRelative(t *testing.T) {
	net := smallNet(3)
	s, err := game.FromMoves([]int{2, 5, 2})
	require.NoError(t, err)

	a, err := net.Predict(s)
	require.NoError(t, err)
	b, err := net.Predict(s.Mirror())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTrainStepReducesLoss(t *testing.T) {
	net := smallNet(5)
	s, err := game.FromMoves([]int{0, 1, 0, 1})
	require.NoError(t, err)

	target := selfplay.Target{Value: 1}
	target.Policy[0] = 0.8
	target.Policy[3] = 0.2

	pred, err := net.Predict(s)
	require.NoError(t, err)
	first, err := net.TrainStep(s, pred, target)
	require.NoError(t, err)
	assert.InDelta(t, Loss(pred, target), first, 1e-6)

	var last float64
	for i := 0; i < 200; i++ {
		last, err = net.TrainStep(s, pred, target)
		require.NoError(t, err)
	}
	assert.Less(t, last, first)
	assert.Equal(t, 201, net.Steps())

	after, err := net.Predict(s)
	require.NoError(t, err)
	assert.Greater(t, after.Policy[0], pred.Policy[0])
	assert.Greater(t, after.Value, pred.Value)
}

func TestLoss(t *testing.T) {
	var pred mcts.Prediction
	var target selfplay.Target
	pred.Policy[2] = 1
	target.Policy[2] = 1
	pred.Value = 0.5
	target.Value = -0.5
	assert.InDelta(t, 1.0, Loss(pred, target), 1e-6)

	// Zero probability on a targeted column stays finite.
	pred.Policy[2] = 0
	assert.False(t, Loss(pred, target) > 1e6)
}

func TestFrozenLeavesParametersAlone(t *testing.T) {
	net := smallNet(9)
	f := Frozen{Predictor: net}
	s := game.NewState()

	pred, err := f.Predict(s)
	require.NoError(t, err)
	loss, err := f.TrainStep(s, pred, selfplay.Target{Value: 1})
	require.NoError(t, err)
	assert.InDelta(t, Loss(pred, selfplay.Target{Value: 1}), loss, 1e-9)

	again, err := f.Predict(s)
	require.NoError(t, err)
	assert.Equal(t, pred, again)
	assert.Zero(t, net.Steps())
}

func TestCheckpointRestoresPredictions(t *testing.T) {
	dir := t.TempDir()
	net := smallNet(11)
	s, err := game.FromMoves([]int{6, 0, 5})
	require.NoError(t, err)

	pred, err := net.Predict(s)
	require.NoError(t, err)
	_, err = net.TrainStep(s, pred, selfplay.Target{Value: -1})
	require.NoError(t, err)

	require.NoError(t, SaveCheckpoint(dir, 3, net))
	require.NoError(t, SaveCheckpoint(dir, 12, net))

	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, 12, latest)

	loaded, err := LoadCheckpoint(dir, latest)
	require.NoError(t, err)
	assert.Equal(t, []int{32, 32}, loaded.Config().Hidden)
	assert.Equal(t, net.Steps(), loaded.Steps())

	want, err := net.Predict(s)
	require.NoError(t, err)
	got, err := loaded.Predict(s)
	require.NoError(t, err)
	for i := range want.Policy {
		assert.InDelta(t, want.Policy[i], got.Policy[i], 1e-6)
	}
	assert.InDelta(t, want.Value, got.Value, 1e-6)

	_, err = os.Stat(filepath.Join(dir, "iter_000012.ckpt.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestCheckpointDirRestore(t *testing.T) {
	dir := t.TempDir()
	fresh := &CheckpointDir{Dir: dir, Net: smallNet(1)}

	_, ok, err := fresh.Restore()
	require.NoError(t, err)
	assert.False(t, ok)

	trained := smallNet(2)
	s := game.NewState()
	pred, err := trained.Predict(s)
	require.NoError(t, err)
	_, err = trained.TrainStep(s, pred, selfplay.Target{Value: 1})
	require.NoError(t, err)
	require.NoError(t, (&CheckpointDir{Dir: dir, Net: trained}).Save(4))

	iter, ok, err := fresh.Restore()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, iter)

	want, _ := trained.Predict(s)
	got, _ := fresh.Net.Predict(s)
	assert.InDelta(t, want.Value, got.Value, 1e-6)
}

func TestLatestCheckpointMissing(t *testing.T) {
	_, err := LatestCheckpoint(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	_, err = LoadCheckpoint(t.TempDir(), 1)
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestReadNetworkRejectsGarbage(t *testing.T) {
	_, err := ReadNetwork(bytes.NewReader([]byte("definitely not a checkpoint file")))
	assert.Error(t, err)
}

func TestLoadPredictorUsesLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	s, err := game.FromMoves([]int{3, 2})
	require.NoError(t, err)

	fresh, closeFn, err := LoadPredictor("", dir, false)
	require.NoError(t, err)
	closeFn()
	require.IsType(t, &Network{}, fresh)

	saved := NewNetwork(NetworkConfig{Hidden: []int{12, 12}, Seed: 9})
	require.NoError(t, SaveCheckpoint(dir, 4, saved))

	loaded, closeFn, err := LoadPredictor("", dir, false)
	require.NoError(t, err)
	defer closeFn()

	want, err := saved.Predict(s)
	require.NoError(t, err)
	got, err := loaded.Predict(s)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
