// Package main serves engine moves over HTTP and websocket play sessions.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/rules"
)

type MoveRequest struct {
	Moves       []int `json:"moves"`
	Simulations int   `json:"simulations"`
}

type MoveResponse struct {
	Column int                   `json:"column"`
	Visits [game.Columns]int     `json:"visits"`
	Policy [game.Columns]float32 `json:"policy"`
	Value  float32               `json:"value"`
	Board  string                `json:"board"`
	Stats  []mcts.ChildStat      `json:"stats"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server answers move requests with a fresh search per request.
type Server struct {
	client     mcts.Predictor
	mctsConfig mcts.Config
	sims       int
	maxSims    int
	// searches share one evaluator; this bounds concurrent searches.
	sem chan struct{}
}

func NewServer(client mcts.Predictor, cfg mcts.Config, sims, maxSims, concurrency int) *Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	if maxSims < sims {
		maxSims = sims
	}
	return &Server{
		client:     client,
		mctsConfig: cfg,
		sims:       sims,
		maxSims:    maxSims,
		sem:        make(chan struct{}, concurrency),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/move", s.handleMove)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"apiversion":  "1",
		"author":      "c4zero",
		"columns":     game.Columns,
		"rows":        game.Rows,
		"simulations": s.sims,
	})
}

func (s *Server) simulations(requested int) int {
	if requested <= 0 {
		return s.sims
	}
	if requested > s.maxSims {
		return s.maxSims
	}
	return requested
}

// think searches st and returns the engine's reply. st is left unchanged.
func (s *Server) think(st *game.State, sims int) (MoveResponse, error) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	m := mcts.New(s.client, s.mctsConfig)
	col, tree, err := m.ProposeMove(st, sims)
	if err != nil {
		return MoveResponse{}, err
	}
	root := tree.Root()
	return MoveResponse{
		Column: col,
		Visits: tree.VisitCounts(root),
		Policy: tree.VisitPolicy(root),
		Value:  tree.Node(root).Prediction.Value,
		Board:  st.Render(),
		Stats:  tree.Summarize(root, m.Config.Cpuct),
	}, nil
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST only"})
		return
	}
	start := time.Now()

	var req MoveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	st, err := game.FromMoves(req.Moves)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	sims := s.simulations(req.Simulations)
	resp, err := s.think(st, sims)
	switch {
	case errors.Is(err, mcts.ErrGameOver):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Ints("moves", req.Moves).Msg("search failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	log.Info().
		Int("ply", st.Ply()).
		Int("column", resp.Column).
		Int("sims", sims).
		Dur("took", time.Since(start)).
		Msg("move")
	writeJSON(w, http.StatusOK, resp)
}

// wsMessage is both directions of a play session.
type wsMessage struct {
	Type string `json:"type"`

	// client -> server
	Column      *int `json:"column,omitempty"`
	EngineFirst bool `json:"engine_first,omitempty"`
	Simulations int  `json:"simulations,omitempty"`

	// server -> client
	Moves  []int         `json:"moves,omitempty"`
	Board  string        `json:"board,omitempty"`
	ToMove string        `json:"to_move,omitempty"`
	Result string        `json:"result,omitempty"`
	Reply  *MoveResponse `json:"reply,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// session is one websocket game: the client plays one side, the engine the other.
type session struct {
	srv   *Server
	mu    sync.Mutex
	state *game.State
	sims  int
}

func (ss *session) snapshot(reply *MoveResponse) wsMessage {
	msg := wsMessage{
		Type:   "state",
		Moves:  ss.state.Moves(),
		Board:  ss.state.Render(),
		ToMove: string(game.MarkRune(ss.state.Perspective())),
		Reply:  reply,
	}
	if rules.IsGameOver(ss.state) {
		msg.Result = rules.Winner(rules.Result(ss.state))
	}
	return msg
}

// engineMove searches and applies the engine's reply unless the game is over.
func (ss *session) engineMove() (*MoveResponse, error) {
	if rules.IsGameOver(ss.state) {
		return nil, nil
	}
	resp, err := ss.srv.think(ss.state, ss.sims)
	if err != nil {
		return nil, err
	}
	if err := ss.state.Apply(resp.Column); err != nil {
		return nil, err
	}
	resp.Board = ss.state.Render()
	return &resp, nil
}

func (ss *session) handle(in wsMessage) wsMessage {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	switch in.Type {
	case "new":
		ss.state = game.NewState()
		ss.sims = ss.srv.simulations(in.Simulations)
		if !in.EngineFirst {
			return ss.snapshot(nil)
		}
		reply, err := ss.engineMove()
		if err != nil {
			return wsMessage{Type: "error", Error: err.Error()}
		}
		return ss.snapshot(reply)

	case "move":
		if ss.state == nil {
			return wsMessage{Type: "error", Error: "no game in progress; send {\"type\":\"new\"}"}
		}
		if in.Column == nil {
			return wsMessage{Type: "error", Error: "column is required"}
		}
		if rules.IsGameOver(ss.state) {
			return wsMessage{Type: "error", Error: mcts.ErrGameOver.Error()}
		}
		if !ss.state.IsLegal(*in.Column) {
			return wsMessage{Type: "error", Error: fmt.Sprintf("%v: column %d", game.ErrIllegalMove, *in.Column)}
		}
		if err := ss.state.Apply(*in.Column); err != nil {
			return wsMessage{Type: "error", Error: err.Error()}
		}
		reply, err := ss.engineMove()
		if err != nil {
			return wsMessage{Type: "error", Error: err.Error()}
		}
		return ss.snapshot(reply)

	default:
		return wsMessage{Type: "error", Error: fmt.Sprintf("unknown message type %q", in.Type)}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(1 << 12)

	ss := &session{srv: s, sims: s.sims}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket read")
			}
			return
		}

		var in wsMessage
		out := wsMessage{Type: "error", Error: "malformed message"}
		if err := json.Unmarshal(data, &in); err == nil {
			out = ss.handle(in)
		}
		if err := conn.WriteJSON(out); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
