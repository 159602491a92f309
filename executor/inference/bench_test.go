package inference

import (
	"math/rand"
	"os"
	"testing"

	"github.com/brensch/c4zero/executor/selfplay"
	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/rules"
)

func randomState(r *rand.Rand) *game.State {
	s := game.NewState()
	plies := r.Intn(30)
	for i := 0; i < plies && !rules.IsGameOver(s); i++ {
		legal := s.LegalMoves()
		_ = s.Apply(legal[r.Intn(len(legal))])
	}
	return s
}

func BenchmarkNetworkPredict(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	states := make([]*game.State, 1024)
	for i := range states {
		states[i] = randomState(r)
	}
	net := NewNetwork(DefaultNetworkConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := net.Predict(states[i%len(states)]); err != nil {
			b.Fatalf("predict: %v", err)
		}
	}
}

func BenchmarkNetworkTrainStep(b *testing.B) {
	r := rand.New(rand.NewSource(2))
	s := randomState(r)
	net := NewNetwork(DefaultNetworkConfig())
	target := selfplay.Target{Value: 1}
	target.Policy[3] = 1
	pred, _ := net.Predict(s)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := net.TrainStep(s, pred, target); err != nil {
			b.Fatalf("train: %v", err)
		}
	}
}

func BenchmarkOnnxPredict(b *testing.B) {
	modelPath := os.Getenv("C4ZERO_BENCH_ONNX_MODEL")
	if modelPath == "" {
		modelPath = "../../models/c4zero.onnx"
	}
	if _, err := os.Stat(modelPath); err != nil {
		b.Skip("ONNX model not found; set C4ZERO_BENCH_ONNX_MODEL")
	}
	b.Logf("Using model: %s", modelPath)

	client, err := NewOnnxClient(modelPath)
	if err != nil {
		b.Skipf("ORT unavailable: %v", err)
	}
	defer client.Close()

	r := rand.New(rand.NewSource(3))
	states := make([]*game.State, 256)
	for i := range states {
		states[i] = randomState(r)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.Predict(states[i%len(states)]); err != nil {
			b.Fatalf("predict: %v", err)
		}
	}
	b.StopTimer()
	b.ReportMetric(client.Stats().AvgRunMs, "ms/run")
}
