package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/brensch/c4zero/executor/convert"
	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/game"
)

type OnnxClientConfig struct {
	// UseCUDA appends the CUDA provider when it is available.
	UseCUDA bool
	// Threads sets intra-op threads. 0 keeps the runtime default.
	Threads int
}

// RuntimeStats are cumulative counters for one client.
type RuntimeStats struct {
	TotalCalls    int64
	TotalRunNanos int64
	AvgRunMs      float64
}

// OnnxClient evaluates positions with an exported model through ONNX Runtime.
// The model takes "input" [1,42] and produces "policy" [1,7] (probabilities)
// and "value" [1,1]. Calls are serialised on a single session.
type OnnxClient struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	input   *ort.Tensor[float32]
	policy  *ort.Tensor[float32]
	value   *ort.Tensor[float32]

	calls    atomic.Int64
	runNanos atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{Threads: 1})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if runtime.GOOS == "linux" {
		configureSharedLibrary()
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	if cfg.Threads > 0 {
		options.SetIntraOpNumThreads(cfg.Threads)
		options.SetInterOpNumThreads(1)
	}

	if cfg.UseCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("failed to append CUDA provider")
			} else {
				log.Info().Msg("CUDA provider enabled")
			}
		} else {
			log.Warn().Err(err).Msg("failed to create CUDA options")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy", "value"}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c := &OnnxClient{session: session}
	if c.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, InputSize)); err != nil {
		_ = c.Close()
		return nil, err
	}
	if c.policy, err = ort.NewEmptyTensor[float32](ort.NewShape(1, PolicySize)); err != nil {
		_ = c.Close()
		return nil, err
	}
	if c.value, err = ort.NewEmptyTensor[float32](ort.NewShape(1, ValueSize)); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// configureSharedLibrary points the runtime at ORT_SHARED_LIBRARY_PATH, or at
// a libonnxruntime found in the working directory.
func configureSharedLibrary() {
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		ort.SetSharedLibraryPath(p)
		return
	}
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
		abs := filepath.Join(cwd, name)
		if _, err := os.Stat(abs); err == nil {
			ort.SetSharedLibraryPath(abs)
			return
		}
	}
}

func (c *OnnxClient) Close() error {
	for _, t := range []*ort.Tensor[float32]{c.input, c.policy, c.value} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	return c.session.Destroy()
}

func (c *OnnxClient) Predict(s *game.State) (mcts.Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	convert.Fill(c.input.GetData(), s)

	start := time.Now()
	if err := c.session.Run([]ort.Value{c.input}, []ort.Value{c.policy, c.value}); err != nil {
		return mcts.Prediction{}, fmt.Errorf("onnx run: %w", err)
	}
	c.calls.Add(1)
	c.runNanos.Add(time.Since(start).Nanoseconds())

	var p mcts.Prediction
	copy(p.Policy[:], c.policy.GetData())
	p.Value = c.value.GetData()[0]
	return p, mcts.Validate(p)
}

func (c *OnnxClient) Stats() RuntimeStats {
	calls := c.calls.Load()
	nanos := c.runNanos.Load()
	st := RuntimeStats{TotalCalls: calls, TotalRunNanos: nanos}
	if calls > 0 {
		st.AvgRunMs = (float64(nanos) / 1e6) / float64(calls)
	}
	return st
}
