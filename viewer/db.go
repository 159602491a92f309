package main

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/brensch/c4zero/game"
	"github.com/brensch/c4zero/store"
)

// DBCache maintains a cached DuckDB connection that refreshes periodically.
// The connection exposes two views: games (games_ shards) and positions
// (batch_ shards).
type DBCache struct {
	roots       []string
	refreshRate time.Duration

	mu          sync.RWMutex
	db          *sql.DB
	lastRefresh time.Time
}

func NewDBCache(roots []string, refreshRate time.Duration) *DBCache {
	return &DBCache{
		roots:       roots,
		refreshRate: refreshRate,
	}
}

// Get returns the cached DB connection, refreshing if needed.
func (c *DBCache) Get() (*sql.DB, error) {
	c.mu.RLock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		db := c.db
		c.mu.RUnlock()
		return db, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		return c.db, nil
	}
	return c.refreshLocked()
}

func (c *DBCache) refreshLocked() (*sql.DB, error) {
	start := time.Now()

	newDB, err := openDuckDB(c.roots)
	if err != nil {
		return nil, err
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	c.db = newDB
	c.lastRefresh = time.Now()

	log.Debug().Dur("took", time.Since(start)).Msg("db refreshed")
	return c.db, nil
}

func (c *DBCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

const emptyGamesView = `CREATE OR REPLACE VIEW games AS
	SELECT * FROM (
		SELECT
			NULL::VARCHAR AS game_id,
			NULL::INTEGER AS iteration,
			NULL::INTEGER[] AS moves,
			NULL::INTEGER AS result,
			NULL::VARCHAR AS winner,
			NULL::INTEGER AS plies,
			NULL::INTEGER AS sims,
			NULL::REAL AS mean_loss,
			NULL::VARCHAR AS source,
			NULL::VARCHAR AS model,
			NULL::BIGINT AS created_ns,
			NULL::BLOB AS root_json,
			NULL::VARCHAR AS filename
	) WHERE 1=0`

const emptyPositionsView = `CREATE OR REPLACE VIEW positions AS
	SELECT * FROM (
		SELECT
			NULL::VARCHAR AS game_id,
			NULL::INTEGER AS iteration,
			NULL::INTEGER AS ply,
			NULL::INTEGER[] AS moves,
			NULL::BLOB AS board,
			NULL::INTEGER AS perspective,
			NULL::INTEGER[] AS visits,
			NULL::REAL[] AS policy,
			NULL::INTEGER AS chosen,
			NULL::REAL AS value,
			NULL::REAL[] AS prior_policy,
			NULL::REAL AS prior_value,
			NULL::REAL AS loss,
			NULL::VARCHAR AS source,
			NULL::VARCHAR AS model,
			NULL::VARCHAR AS filename
	) WHERE 1=0`

// openDuckDB creates an in-memory DuckDB with one view per shard kind. Kinds
// with no shards on disk get an empty typed view.
func openDuckDB(roots []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	// Basic pragmas; ignore errors for compatibility across versions.
	_, _ = db.Exec("PRAGMA threads=4")

	for _, v := range []struct {
		name, prefix, empty string
	}{
		{"games", store.GamePrefix, emptyGamesView},
		{"positions", store.TrainingPrefix, emptyPositionsView},
	} {
		sqlText := v.empty
		if globs := shardGlobs(roots, v.prefix); len(globs) > 0 {
			// union_by_name tolerates shards written before optional columns existed.
			sqlText = `CREATE OR REPLACE VIEW ` + v.name + ` AS
				SELECT * FROM read_parquet([` + strings.Join(globs, ",") + `], filename=true, union_by_name=true)`
		}
		if _, err := db.Exec(sqlText); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// shardGlobs returns one quoted recursive glob per root that holds at least
// one shard with prefix.
func shardGlobs(roots []string, prefix string) []string {
	globs := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" || !hasShard(root, prefix) {
			continue
		}
		glob := filepath.Join(root, "**", prefix+"*.parquet")
		globs = append(globs, "'"+escapeSQLString(glob)+"'")
	}
	return globs
}

func hasShard(root, prefix string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found {
			return filepath.SkipDir
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".parquet") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func normalizeSort(sortKey, sortDir string) (string, string) {
	dir := "DESC"
	if strings.EqualFold(sortDir, "asc") {
		dir = "ASC"
	}
	switch sortKey {
	case "game_id", "iteration", "plies", "winner", "mean_loss", "sims", "source", "model", "created_ns":
		return sortKey, dir
	default:
		return "created_ns", dir
	}
}

func makeRelativeToRoots(filename string, roots []string) string {
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(abs, filename); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
		if rel, err := filepath.Rel(root, filename); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return filepath.Base(filename)
}

const gameColumns = `game_id, iteration::INTEGER, plies::INTEGER, result::INTEGER, winner,
	COALESCE(mean_loss, 0)::REAL, COALESCE(sims, 0)::INTEGER, source, COALESCE(model, ''),
	created_ns::BIGINT, filename`

func scanGame(sc interface{ Scan(...any) error }, roots []string) (GameSummary, error) {
	var g GameSummary
	var file string
	err := sc.Scan(&g.GameID, &g.Iteration, &g.Plies, &g.Result, &g.Winner, &g.MeanLoss, &g.Sims, &g.Source, &g.Model, &g.CreatedNs, &file)
	g.SourceFile = makeRelativeToRoots(file, roots)
	return g, err
}

func queryGamesTotal(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games`).Scan(&n)
	return n, err
}

func queryGames(ctx context.Context, db *sql.DB, roots []string, limit, offset int, sortKey, sortDir string) ([]GameSummary, error) {
	sk, sd := normalizeSort(sortKey, sortDir)
	query := `SELECT ` + gameColumns + ` FROM games
		ORDER BY ` + sk + ` ` + sd + ` NULLS LAST, game_id DESC
		LIMIT ? OFFSET ?`

	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]GameSummary, 0, limit)
	for rows.Next() {
		g, err := scanGame(rows, roots)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// queryGame loads one game summary, its move list and root statistics.
// It returns sql.ErrNoRows for an unknown id.
func queryGame(ctx context.Context, db *sql.DB, roots []string, gameID string) (GameResponse, error) {
	var resp GameResponse
	var movesAny, rootsAny any
	row := db.QueryRowContext(ctx, `SELECT `+gameColumns+`, moves, root_json FROM games WHERE game_id = ? LIMIT 1`, gameID)

	var file string
	g := &resp.Game
	if err := row.Scan(&g.GameID, &g.Iteration, &g.Plies, &g.Result, &g.Winner, &g.MeanLoss, &g.Sims, &g.Source, &g.Model, &g.CreatedNs, &file, &movesAny, &rootsAny); err != nil {
		return resp, err
	}
	g.SourceFile = makeRelativeToRoots(file, roots)
	resp.Moves = asInt32Slice(movesAny)
	if b := asBytes(rootsAny); len(b) > 0 {
		resp.Roots = b
	}
	resp.Final = renderMoves(resp.Moves)

	positions, err := queryPositions(ctx, db, gameID)
	if err != nil {
		return resp, err
	}
	resp.Positions = positions
	return resp, nil
}

func queryPositions(ctx context.Context, db *sql.DB, gameID string) ([]Position, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ply::INTEGER, moves, perspective::INTEGER, visits, policy, chosen::INTEGER,
		        value::REAL, prior_policy, COALESCE(prior_value, 0)::REAL, COALESCE(loss, 0)::REAL
		 FROM positions
		 WHERE game_id = ?
		 ORDER BY ply ASC`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Position, 0, game.Cells)
	for rows.Next() {
		var p Position
		var movesAny, visitsAny, policyAny, priorAny any
		if err := rows.Scan(&p.Ply, &movesAny, &p.Perspective, &visitsAny, &policyAny, &p.Chosen, &p.Value, &priorAny, &p.PriorValue, &p.Loss); err != nil {
			return nil, err
		}
		p.Moves = asInt32Slice(movesAny)
		p.Visits = asInt32Slice(visitsAny)
		p.Policy = asFloat32Slice(policyAny)
		p.PriorPolicy = asFloat32Slice(priorAny)
		p.Board = renderMoves(p.Moves)
		out = append(out, p)
	}
	return out, rows.Err()
}

// renderMoves replays moves and draws the board; invalid histories render
// empty.
func renderMoves(moves []int32) string {
	ms := make([]int, len(moves))
	for i, m := range moves {
		ms[i] = int(m)
	}
	st, err := game.FromMoves(ms)
	if err != nil {
		return ""
	}
	return st.Render()
}

func queryStats(ctx context.Context, db *sql.DB) ([]StatsPoint, error) {
	rows, err := db.QueryContext(ctx, `SELECT
			iteration::INTEGER,
			COUNT(*)::BIGINT,
			SUM(CASE WHEN result > 0 THEN 1 ELSE 0 END)::BIGINT,
			SUM(CASE WHEN result < 0 THEN 1 ELSE 0 END)::BIGINT,
			SUM(CASE WHEN result = 0 THEN 1 ELSE 0 END)::BIGINT,
			AVG(plies)::DOUBLE,
			COALESCE(AVG(mean_loss), 0)::DOUBLE
		FROM games
		GROUP BY iteration
		ORDER BY iteration ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]StatsPoint, 0, 64)
	for rows.Next() {
		var p StatsPoint
		if err := rows.Scan(&p.Iteration, &p.Games, &p.FirstWins, &p.SecondWins, &p.Draws, &p.AvgPlies, &p.AvgLoss); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
