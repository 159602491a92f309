package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const DebugSchema = "c4_debug_game_v1"

// DebugChild is one root child as seen when the move was committed.
type DebugChild struct {
	Move   int32   `parquet:"move" json:"move"`
	Visits int32   `parquet:"visits" json:"visits"`
	Q      float32 `parquet:"q" json:"q"`
	Prior  float32 `parquet:"prior" json:"prior"`
	Score  float32 `parquet:"score" json:"score"`
}

// DebugPlyRow stores the search statistics of a traced game at one ply.
type DebugPlyRow struct {
	GameID      string       `parquet:"game_id,dict" json:"game_id"`
	Model       string       `parquet:"model,dict" json:"model"`
	Ply         int32        `parquet:"ply" json:"ply"`
	Board       []byte       `parquet:"board" json:"board"`
	Perspective int32        `parquet:"perspective" json:"perspective"`
	Chosen      int32        `parquet:"chosen" json:"chosen"`
	Sims        int32        `parquet:"sims" json:"sims"`
	Cpuct       float32      `parquet:"cpuct" json:"cpuct"`
	PriorValue  float32      `parquet:"prior_value" json:"prior_value"`
	TreeNodes   int32        `parquet:"tree_nodes" json:"tree_nodes"`
	Children    []DebugChild `parquet:"children" json:"children"`
}

// DebugGameMeta contains metadata about a debug game.
type DebugGameMeta struct {
	GameID    string  `json:"game_id"`
	Model     string  `json:"model"`
	CreatedNs int64   `json:"created_ns"`
	Plies     int32   `json:"plies"`
	Sims      int32   `json:"sims"`
	Cpuct     float32 `json:"cpuct"`
	Winner    string  `json:"winner"`
}

// WriteDebugGameParquet writes a debug game to a parquet file.
func WriteDebugGameParquet(outDir string, meta DebugGameMeta, rows []DebugPlyRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	name := fmt.Sprintf("debug_%s_%d.parquet", meta.GameID, time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := finalPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", DebugSchema),
		parquet.KeyValueMetadata("winner", meta.Winner),
		parquet.KeyValueMetadata("sims", fmt.Sprint(meta.Sims)),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

func ReadDebugGame(path string) ([]DebugPlyRow, error) {
	rows, err := parquet.ReadFile[DebugPlyRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}
