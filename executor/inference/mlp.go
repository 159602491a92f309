package inference

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/brensch/c4zero/executor/convert"
	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/executor/selfplay"
	"github.com/brensch/c4zero/game"
)

const (
	InputSize  = game.Cells
	PolicySize = game.Columns
	ValueSize  = 1
	OutputSize = PolicySize + ValueSize
)

// minProb keeps log(p) finite in the policy loss.
const minProb = 1e-7

type NetworkConfig struct {
	Hidden       []int   `yaml:"hidden"`
	LearningRate float32 `yaml:"learning_rate"`
	Beta1        float32 `yaml:"beta1"`
	Beta2        float32 `yaml:"beta2"`
	Epsilon      float32 `yaml:"epsilon"`
	Seed         int64   `yaml:"seed"`
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Hidden:       []int{200, 200, 200},
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		Seed:         1,
	}
}

func (c NetworkConfig) withDefaults() NetworkConfig {
	d := DefaultNetworkConfig()
	if len(c.Hidden) == 0 {
		c.Hidden = d.Hidden
	}
	if c.LearningRate == 0 {
		c.LearningRate = d.LearningRate
	}
	if c.Beta1 == 0 {
		c.Beta1 = d.Beta1
	}
	if c.Beta2 == 0 {
		c.Beta2 = d.Beta2
	}
	if c.Epsilon == 0 {
		c.Epsilon = d.Epsilon
	}
	return c
}

// affine is one fully connected layer. Weight is stored inputs x outputs.
type affine struct {
	Weight blas32.General
	Bias   blas32.Vector

	// Adam moments, same layout as the parameters.
	mW, vW []float32
	mB, vB []float32
}

func newAffine(in, out int, rng *rand.Rand) *affine {
	bound := 1 / math32.Sqrt(float32(in))
	uni := func() float32 { return (rng.Float32()*2 - 1) * bound }

	l := &affine{
		Weight: blas32.General{Rows: in, Cols: out, Stride: out, Data: make([]float32, in*out)},
		Bias:   blas32.Vector{N: out, Inc: 1, Data: make([]float32, out)},
		mW:     make([]float32, in*out),
		vW:     make([]float32, in*out),
		mB:     make([]float32, out),
		vB:     make([]float32, out),
	}
	for i := range l.Weight.Data {
		l.Weight.Data[i] = uni()
	}
	for i := range l.Bias.Data {
		l.Bias.Data[i] = uni()
	}
	return l
}

func (l *affine) forward(x blas32.Vector) blas32.Vector {
	y := blas32.Vector{N: l.Weight.Cols, Inc: 1, Data: make([]float32, l.Weight.Cols)}
	blas32.Copy(l.Bias, y)
	blas32.Gemv(blas.Trans, 1.0, l.Weight, x, 1.0, y)
	return y
}

// Network is a fully connected policy/value net: ReLU hidden layers and a
// final layer whose first PolicySize outputs go through softmax and whose
// last output goes through tanh. It trains one position at a time with Adam.
type Network struct {
	mu     sync.Mutex
	cfg    NetworkConfig
	layers []*affine
	step   int
}

// NewNetwork builds a freshly initialised network.
func NewNetwork(cfg NetworkConfig) *Network {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))

	sizes := append([]int{InputSize}, cfg.Hidden...)
	sizes = append(sizes, OutputSize)

	n := &Network{cfg: cfg}
	for i := 0; i+1 < len(sizes); i++ {
		n.layers = append(n.layers, newAffine(sizes[i], sizes[i+1], rng))
	}
	return n
}

func (n *Network) Config() NetworkConfig { return n.cfg }

// Steps is the number of optimizer updates applied so far.
func (n *Network) Steps() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.step
}

// forward returns every layer input (post activation) plus the final logits.
func (n *Network) forward(x []float32) ([]blas32.Vector, blas32.Vector) {
	acts := make([]blas32.Vector, 0, len(n.layers))
	a := blas32.Vector{N: len(x), Inc: 1, Data: x}
	for i, l := range n.layers {
		acts = append(acts, a)
		a = l.forward(a)
		if i < len(n.layers)-1 {
			for j, v := range a.Data {
				if v < 0 {
					a.Data[j] = 0
				}
			}
		}
	}
	return acts, a
}

func heads(logits blas32.Vector) mcts.Prediction {
	var p mcts.Prediction
	maxV := logits.Data[0]
	for i := 1; i < PolicySize; i++ {
		maxV = math32.Max(maxV, logits.Data[i])
	}
	var sum float32
	for i := 0; i < PolicySize; i++ {
		p.Policy[i] = math32.Exp(logits.Data[i] - maxV)
		sum += p.Policy[i]
	}
	for i := range p.Policy {
		p.Policy[i] /= sum
	}
	p.Value = math32.Tanh(logits.Data[PolicySize])
	return p
}

// Predict evaluates s from the mover's point of view.
func (n *Network) Predict(s *game.State) (mcts.Prediction, error) {
	x := make([]float32, InputSize)
	convert.Fill(x, s)

	n.mu.Lock()
	_, logits := n.forward(x)
	n.mu.Unlock()

	p := heads(logits)
	return p, mcts.Validate(p)
}

// Loss is -sum(t * log p) + (v - z)^2.
func Loss(pred mcts.Prediction, target selfplay.Target) float64 {
	var policyLoss float32
	for i := range pred.Policy {
		if target.Policy[i] == 0 {
			continue
		}
		policyLoss -= target.Policy[i] * math32.Log(math32.Max(pred.Policy[i], minProb))
	}
	d := pred.Value - target.Value
	return float64(policyLoss + d*d)
}

// TrainStep takes one Adam step towards target at position s and returns the
// loss measured before the update. pred is the caller's earlier evaluation
// of s; the step recomputes it so gradients match the current weights.
func (n *Network) TrainStep(s *game.State, pred mcts.Prediction, target selfplay.Target) (float64, error) {
	x := make([]float32, InputSize)
	convert.Fill(x, s)

	n.mu.Lock()
	defer n.mu.Unlock()

	acts, logits := n.forward(x)
	cur := heads(logits)
	if err := mcts.Validate(cur); err != nil {
		return 0, err
	}
	loss := Loss(cur, target)

	// d loss / d logits. Softmax cross entropy for the policy, tanh for the value.
	var tSum float32
	for _, t := range target.Policy {
		tSum += t
	}
	chain := blas32.Vector{N: OutputSize, Inc: 1, Data: make([]float32, OutputSize)}
	for i := 0; i < PolicySize; i++ {
		chain.Data[i] = cur.Policy[i]*tSum - target.Policy[i]
	}
	chain.Data[PolicySize] = 2 * (cur.Value - target.Value) * (1 - cur.Value*cur.Value)

	dWs := make([]blas32.General, len(n.layers))
	dBs := make([]blas32.Vector, len(n.layers))
	for i := len(n.layers) - 1; i >= 0; i-- {
		l := n.layers[i]
		in := acts[i]

		dw := blas32.General{Rows: l.Weight.Rows, Cols: l.Weight.Cols, Stride: l.Weight.Cols, Data: make([]float32, len(l.Weight.Data))}
		blas32.Ger(1.0, in, chain, dw)
		db := blas32.Vector{N: chain.N, Inc: 1, Data: make([]float32, chain.N)}
		blas32.Copy(chain, db)
		dWs[i], dBs[i] = dw, db

		if i == 0 {
			break
		}
		dx := blas32.Vector{N: l.Weight.Rows, Inc: 1, Data: make([]float32, l.Weight.Rows)}
		blas32.Gemv(blas.NoTrans, 1.0, l.Weight, chain, 0.0, dx)
		// ReLU: in holds the activated output of the previous layer.
		for j, v := range in.Data {
			if v <= 0 {
				dx.Data[j] = 0
			}
		}
		chain = dx
	}

	n.step++
	for i, l := range n.layers {
		n.adam(l.Weight.Data, dWs[i].Data, l.mW, l.vW)
		n.adam(l.Bias.Data, dBs[i].Data, l.mB, l.vB)
	}
	return loss, nil
}

func (n *Network) adam(param, grad, m, v []float32) {
	b1, b2 := n.cfg.Beta1, n.cfg.Beta2
	c1 := 1 - math32.Pow(b1, float32(n.step))
	c2 := 1 - math32.Pow(b2, float32(n.step))
	for i, g := range grad {
		m[i] = b1*m[i] + (1-b1)*g
		v[i] = b2*v[i] + (1-b2)*g*g
		mh := m[i] / c1
		vh := v[i] / c2
		param[i] -= n.cfg.LearningRate * mh / (math32.Sqrt(vh) + n.cfg.Epsilon)
	}
}

func (n *Network) String() string {
	return fmt.Sprintf("mlp%v lr=%g steps=%d", n.cfg.Hidden, n.cfg.LearningRate, n.Steps())
}
