package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// BatchWriter streams rows of one type into outDir/tmp and moves the file
// into outDir on Finalize. A writer produces a single file; callers rotate by
// finalizing and opening a new one.
type BatchWriter[T any] struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[T]

	bufferedGames int
	bufferedRows  int
}

func NewBatchWriter[T any](outDir, prefix, schema string, opts ...parquet.WriterOption) (*BatchWriter[T], error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("%s%d.parquet", prefix, time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)
	outPath := filepath.Join(absOut, name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	opts = append([]parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	}, opts...)
	w := parquet.NewGenericWriter[T](f, opts...)
	w.SetKeyValueMetadata("schema", schema)

	return &BatchWriter[T]{
		tmpPath: tmpPath,
		outPath: outPath,
		file:    f,
		writer:  w,
	}, nil
}

// NewFeaturizedWriter opens a writer for TrainingXRow shards.
func NewFeaturizedWriter(outDir string) (*BatchWriter[TrainingXRow], error) {
	return NewBatchWriter[TrainingXRow](outDir, FeaturizedPrefix, FeaturizedSchema, parquet.SkipPageBounds("x"))
}

func (b *BatchWriter[T]) TmpPath() string { return b.tmpPath }
func (b *BatchWriter[T]) OutPath() string { return b.outPath }

func (b *BatchWriter[T]) WriteRows(rows []T) error {
	if b.writer == nil || b.file == nil {
		return fmt.Errorf("batch writer is closed")
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := b.writer.Write(rows); err != nil {
		return err
	}
	b.bufferedRows += len(rows)
	return nil
}

func (b *BatchWriter[T]) NoteGameWritten() {
	b.bufferedGames++
}

// Finalize closes the parquet writer and moves the file from tmp/ to outDir.
// If no rows were written, the tmp file is removed and outPath is returned empty.
func (b *BatchWriter[T]) Finalize() (outPath string, rows int, games int, err error) {
	if b.writer == nil && b.file == nil {
		return "", 0, 0, nil
	}

	rows = b.bufferedRows
	games = b.bufferedGames
	outPath = b.outPath

	var closeErr error
	if b.writer != nil {
		closeErr = b.writer.Close()
		b.writer = nil
	}
	var fileErr error
	if b.file != nil {
		_ = b.file.Sync()
		fileErr = b.file.Close()
		b.file = nil
	}
	if closeErr != nil {
		return "", 0, 0, fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return "", 0, 0, fmt.Errorf("close parquet file: %w", fileErr)
	}

	if rows == 0 {
		_ = os.Remove(b.tmpPath)
		return "", 0, 0, nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		return "", 0, 0, fmt.Errorf("rename parquet: %w", err)
	}
	return outPath, rows, games, nil
}
