package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const (
	TrainingSchema   = "c4_training_row_v1"
	GameSchema       = "c4_game_row_v1"
	FeaturizedSchema = "c4_training_x_v1"

	TrainingPrefix   = "batch_"
	GamePrefix       = "games_"
	FeaturizedPrefix = "train_"
)

// TrainingRow is one self-play decision with its training targets.
//
// Board holds the absolute marks (+1 first player, -1 second player) as
// signed bytes, row 0 (bottom) first. Perspective is the mark of the player
// to move. Policy is the visit share per column and Value is the game result
// from the mover's point of view.
type TrainingRow struct {
	GameID      string    `parquet:"game_id,dict"`
	Iteration   int32     `parquet:"iteration"`
	Ply         int32     `parquet:"ply"`
	Moves       []int32   `parquet:"moves"`
	Board       []byte    `parquet:"board"`
	Perspective int32     `parquet:"perspective"`
	Visits      []int32   `parquet:"visits"`
	Policy      []float32 `parquet:"policy"`
	Chosen      int32     `parquet:"chosen"`
	Value       float32   `parquet:"value"`
	PriorPolicy []float32 `parquet:"prior_policy"`
	PriorValue  float32   `parquet:"prior_value"`
	Loss        float32   `parquet:"loss"`
	Source      string    `parquet:"source,dict"`
	Model       string    `parquet:"model,dict,optional"`
}

// GameRow summarises one finished game.
//
// Result is +1 when the first player won, -1 for the second player, 0 for a
// draw. RootJSON optionally carries the per-ply root child statistics.
type GameRow struct {
	GameID    string  `parquet:"game_id,dict"`
	Iteration int32   `parquet:"iteration"`
	Moves     []int32 `parquet:"moves"`
	Result    int32   `parquet:"result"`
	Winner    string  `parquet:"winner,dict"`
	Plies     int32   `parquet:"plies"`
	Sims      int32   `parquet:"sims"`
	MeanLoss  float32 `parquet:"mean_loss"`
	Source    string  `parquet:"source,dict"`
	Model     string  `parquet:"model,dict,optional"`
	CreatedNs int64   `parquet:"created_ns"`
	RootJSON  []byte  `parquet:"root_json,optional,zstd"`
}

// TrainingXRow is a featurized sample: X is the mover-relative encoding as
// little endian float32, ready to feed a trainer without replaying moves.
type TrainingXRow struct {
	GameID string  `parquet:"game_id,dict"`
	Ply    int32   `parquet:"ply"`
	X      []byte  `parquet:"x"`
	P0     float32 `parquet:"policy_p0"`
	P1     float32 `parquet:"policy_p1"`
	P2     float32 `parquet:"policy_p2"`
	P3     float32 `parquet:"policy_p3"`
	P4     float32 `parquet:"policy_p4"`
	P5     float32 `parquet:"policy_p5"`
	P6     float32 `parquet:"policy_p6"`
	Value  float32 `parquet:"value"`
}

// SetPolicy copies a 7-wide distribution into the policy columns.
func (r *TrainingXRow) SetPolicy(p []float32) {
	dst := []*float32{&r.P0, &r.P1, &r.P2, &r.P3, &r.P4, &r.P5, &r.P6}
	for i := range dst {
		if i < len(p) {
			*dst[i] = p[i]
		} else {
			*dst[i] = 0
		}
	}
}

func (r *TrainingXRow) Policy() []float32 {
	return []float32{r.P0, r.P1, r.P2, r.P3, r.P4, r.P5, r.P6}
}

// writeParquetAtomic writes rows into outDir/tmp and then renames the file
// into outDir so readers never observe a partial file.
func writeParquetAtomic[T any](outDir, prefix, schema string, rows []T, opts ...parquet.WriterOption) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("%s%d.parquet", prefix, time.Now().UnixNano())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	opts = append([]parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", schema),
	}, opts...)
	if err := parquet.WriteFile(tmpPath, rows, opts...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return finalPath, nil
}

// WriteBatchParquetAtomic writes training rows as one batch_<nanos>.parquet.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	return writeParquetAtomic(outDir, TrainingPrefix, TrainingSchema, rows, parquet.SkipPageBounds("board"))
}

// WriteGamesParquetAtomic writes game summaries as one games_<nanos>.parquet.
func WriteGamesParquetAtomic(outDir string, rows []GameRow) (string, error) {
	return writeParquetAtomic(outDir, GamePrefix, GameSchema, rows, parquet.SkipPageBounds("root_json"))
}

func ReadTrainingRows(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func ReadGameRows(path string) ([]GameRow, error) {
	rows, err := parquet.ReadFile[GameRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// SchemaOf returns the "schema" key/value metadata of a parquet file.
func SchemaOf(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return "", fmt.Errorf("open parquet: %w", err)
	}
	v, _ := pf.Lookup("schema")
	return v, nil
}

// ListShards returns the finished parquet files in dir whose names start with
// prefix, oldest first. Files still in dir/tmp are not included.
func ListShards(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}
