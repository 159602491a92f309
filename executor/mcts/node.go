package mcts

import (
	"errors"

	"github.com/brensch/c4zero/game"
)

// NodeID addresses a node inside a Tree.
type NodeID int32

// NoNode marks the root's missing parent.
const NoNode NodeID = -1

// DefaultCpuct is the exploration constant used when a Config leaves it zero.
const DefaultCpuct float32 = 0.5

var ErrInvalidPrediction = errors.New("evaluator returned a non-finite prediction")

// Node is one position reached during search. ScoreTotal is kept from the
// point of view of the player who moved into the node, so a parent compares
// its children by their mean score directly.
type Node struct {
	Move       int
	Parent     NodeID
	Visits     int
	ScoreTotal int
	Prior      float32
	Children   []NodeID
	Expanded   bool
	Prediction Prediction
}

// Q is the mean score, 0 before the first visit.
func (n *Node) Q() float32 {
	if n.Visits == 0 {
		return 0
	}
	return float32(n.ScoreTotal) / float32(n.Visits)
}

// Tree owns every node of one search. Children hold owning handles, Parent is
// for lookups only. The whole tree is dropped after each decision.
type Tree struct {
	nodes []Node
}

// NewTree returns a tree holding only a root with prior 0 and no parent.
func NewTree() *Tree {
	t := &Tree{nodes: make([]Node, 0, 256)}
	t.add(NoNode, -1, 0)
	return t
}

func (t *Tree) add(parent NodeID, move int, prior float32) NodeID {
	t.nodes = append(t.nodes, Node{Move: move, Parent: parent, Prior: prior})
	return NodeID(len(t.nodes) - 1)
}

// Root is always the first node.
func (t *Tree) Root() NodeID { return 0 }

// Node returns the node for id. The pointer is invalidated by the next
// expansion, so callers must not hold it across a Simulate call.
func (t *Tree) Node(id NodeID) *Node { return &t.nodes[id] }

// Len is the number of nodes allocated.
func (t *Tree) Len() int { return len(t.nodes) }

// ChildFor returns the child reached by playing col from id.
func (t *Tree) ChildFor(id NodeID, col int) (NodeID, bool) {
	for _, c := range t.nodes[id].Children {
		if t.nodes[c].Move == col {
			return c, true
		}
	}
	return NoNode, false
}

// MostVisited returns the child with the highest visit count, the first one
// on ties. NoNode if id has no children.
func (t *Tree) MostVisited(id NodeID) NodeID {
	best := NoNode
	bestVisits := -1
	for _, c := range t.nodes[id].Children {
		if v := t.nodes[c].Visits; v > bestVisits {
			best = c
			bestVisits = v
		}
	}
	return best
}

// VisitCounts lists child visits by column. Columns without a child are 0.
func (t *Tree) VisitCounts(id NodeID) [game.Columns]int {
	var out [game.Columns]int
	for _, c := range t.nodes[id].Children {
		out[t.nodes[c].Move] = t.nodes[c].Visits
	}
	return out
}

// VisitPolicy is the share of child visits per column. All zero when the
// children have no visits.
func (t *Tree) VisitPolicy(id NodeID) [game.Columns]float32 {
	var out [game.Columns]float32
	counts := t.VisitCounts(id)
	total := 0
	for _, v := range counts {
		total += v
	}
	if total == 0 {
		return out
	}
	for col, v := range counts {
		out[col] = float32(v) / float32(total)
	}
	return out
}

// ChildStat is a read-only summary of one root child.
type ChildStat struct {
	Move   int     `json:"move"`
	Visits int     `json:"visits"`
	Q      float32 `json:"q"`
	Prior  float32 `json:"prior"`
	Score  float32 `json:"score"`
}

// Summarize reports every child of id with the selection score it would get
// under cpuct right now.
func (t *Tree) Summarize(id NodeID, cpuct float32) []ChildStat {
	n := &t.nodes[id]
	out := make([]ChildStat, 0, len(n.Children))
	for _, c := range n.Children {
		child := &t.nodes[c]
		out = append(out, ChildStat{
			Move:   child.Move,
			Visits: child.Visits,
			Q:      child.Q(),
			Prior:  child.Prior,
			Score:  puct(child, n.Visits, cpuct),
		})
	}
	return out
}

// Config holds MCTS configuration
type Config struct {
	Cpuct float32

	// RenormalizePriors rescales the priors of legal columns to sum to 1.
	// Off by default: mass on full columns is dropped.
	RenormalizePriors bool

	// Trace logs every selection step at debug level.
	Trace bool
}

// Prediction is the evaluator output for one position. Value is from the
// mover's point of view. Policy covers all columns, legal or not.
type Prediction struct {
	Policy [game.Columns]float32
	Value  float32
}

// Predictor defines the interface for inference
type Predictor interface {
	Predict(s *game.State) (Prediction, error)
}

// MCTS holds the search context
type MCTS struct {
	Config Config
	Client Predictor
}

// New returns an engine with the default exploration constant filled in.
func New(client Predictor, cfg Config) *MCTS {
	if cfg.Cpuct == 0 {
		cfg.Cpuct = DefaultCpuct
	}
	return &MCTS{Config: cfg, Client: client}
}
