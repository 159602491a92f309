package main

import (
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Server holds shared state for HTTP handlers.
type Server struct {
	roots    []string
	debugDir string
	dbCache  *DBCache
}

func NewServer(roots []string, debugDir string, refresh time.Duration) *Server {
	return &Server{
		roots:    roots,
		debugDir: debugDir,
		dbCache:  NewDBCache(roots, refresh),
	}
}

// RegisterRoutes sets up all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/games", s.handleGames)
	mux.HandleFunc("/api/games/", s.handleGame)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/debug_games", s.handleDebugGamesList)
	mux.HandleFunc("/api/debug_games/", s.handleDebugGame)
}

// getOnly applies CORS and reports whether the handler should continue.
func getOnly(w http.ResponseWriter, r *http.Request) bool {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return false
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	limit := parseIntQuery(r, "limit", 100)
	offset := parseIntQuery(r, "offset", 0)
	sortKey := strings.TrimSpace(r.URL.Query().Get("sort"))
	sortDir := strings.TrimSpace(r.URL.Query().Get("dir"))

	total, err := queryGamesTotal(r.Context(), db)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	games, err := queryGames(r.Context(), db, s.roots, limit, offset, sortKey, sortDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, GamesResponse{Total: total, Games: games})
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	gameID, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/games/"))
	if err != nil || gameID == "" || strings.Contains(gameID, "/") {
		http.NotFound(w, r)
		return
	}
	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp, err := queryGame(r.Context(), db, s.roots, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	points, err := queryStats(r.Context(), db)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, StatsResponse{Points: points})
}

func (s *Server) handleDebugGamesList(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	games, err := listDebugGames(s.debugDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, games)
}

func (s *Server) handleDebugGame(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	gameID, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/debug_games/"))
	if err != nil || gameID == "" || strings.ContainsAny(gameID, `/\`) {
		http.NotFound(w, r)
		return
	}
	rows, err := loadDebugGame(s.debugDir, gameID)
	if errors.Is(err, os.ErrNotExist) {
		http.Error(w, "debug game not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}
