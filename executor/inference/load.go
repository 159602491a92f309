package inference

import (
	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/executor/mcts"
)

// LoadPredictor prefers an ONNX model, then the latest checkpoint in
// checkpointDir, then a freshly initialised network. The returned func
// releases the predictor.
func LoadPredictor(modelPath, checkpointDir string, useCUDA bool) (mcts.Predictor, func(), error) {
	if modelPath != "" {
		client, err := NewOnnxClientWithConfig(modelPath, OnnxClientConfig{UseCUDA: useCUDA, Threads: 1})
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	}

	net := NewNetwork(DefaultNetworkConfig())
	ckpt := &CheckpointDir{Dir: checkpointDir, Net: net}
	iter, ok, err := ckpt.Restore()
	if err != nil {
		return nil, nil, err
	}
	if ok {
		log.Info().Int("iteration", iter).Str("dir", checkpointDir).Msg("loaded checkpoint")
	} else {
		log.Warn().Str("dir", checkpointDir).Msg("no checkpoint found, playing with an untrained network")
	}
	return net, func() {}, nil
}
