package main

import "encoding/json"

// GameSummary is one row of the games list.
type GameSummary struct {
	GameID     string  `json:"game_id"`
	Iteration  int32   `json:"iteration"`
	Plies      int32   `json:"plies"`
	Result     int32   `json:"result"`
	Winner     string  `json:"winner"`
	MeanLoss   float32 `json:"mean_loss"`
	Sims       int32   `json:"sims"`
	Source     string  `json:"source"`
	Model      string  `json:"model"`
	CreatedNs  int64   `json:"created_ns"`
	SourceFile string  `json:"file"`
}

type GamesResponse struct {
	Total int64         `json:"total"`
	Games []GameSummary `json:"games"`
}

// Position is one searched position of a game with its training targets.
type Position struct {
	Ply         int32     `json:"ply"`
	Moves       []int32   `json:"moves"`
	Board       string    `json:"board"`
	Perspective int32     `json:"perspective"`
	Visits      []int32   `json:"visits"`
	Policy      []float32 `json:"policy"`
	Chosen      int32     `json:"chosen"`
	Value       float32   `json:"value"`
	PriorPolicy []float32 `json:"prior_policy"`
	PriorValue  float32   `json:"prior_value"`
	Loss        float32   `json:"loss"`
}

type GameResponse struct {
	Game      GameSummary     `json:"game"`
	Moves     []int32         `json:"moves"`
	Final     string          `json:"final"`
	Positions []Position      `json:"positions"`
	Roots     json.RawMessage `json:"roots,omitempty"`
}

// StatsPoint aggregates the games of one iteration.
type StatsPoint struct {
	Iteration  int32   `json:"iteration"`
	Games      int64   `json:"games"`
	FirstWins  int64   `json:"first_wins"`
	SecondWins int64   `json:"second_wins"`
	Draws      int64   `json:"draws"`
	AvgPlies   float64 `json:"avg_plies"`
	AvgLoss    float64 `json:"avg_loss"`
}

type StatsResponse struct {
	Points []StatsPoint `json:"points"`
}

type DebugGameSummary struct {
	GameID   string  `json:"game_id"`
	Model    string  `json:"model"`
	Plies    int     `json:"plies"`
	Sims     int     `json:"sims"`
	Cpuct    float32 `json:"cpuct"`
	FileName string  `json:"file"`
}
