package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/brensch/c4zero/store"
)

// listDebugGames summarises every debug game parquet file in dir.
func listDebugGames(dir string) ([]DebugGameSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DebugGameSummary{}, nil
		}
		return nil, err
	}

	games := make([]DebugGameSummary, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			continue
		}
		summary, err := readDebugGameSummary(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // Skip invalid files
		}
		summary.FileName = entry.Name()
		games = append(games, summary)
	}
	return games, nil
}

// readDebugGameSummary reads the first row and the row count only.
func readDebugGameSummary(path string) (DebugGameSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return DebugGameSummary{}, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return DebugGameSummary{}, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return DebugGameSummary{}, err
	}
	if schema, _ := pf.Lookup("schema"); schema != store.DebugSchema {
		return DebugGameSummary{}, os.ErrInvalid
	}

	reader := parquet.NewGenericReader[store.DebugPlyRow](pf)
	defer reader.Close()

	rows := make([]store.DebugPlyRow, 1)
	n, _ := reader.Read(rows)
	if n == 0 {
		return DebugGameSummary{}, os.ErrInvalid
	}
	return DebugGameSummary{
		GameID: rows[0].GameID,
		Model:  rows[0].Model,
		Plies:  int(reader.NumRows()),
		Sims:   int(rows[0].Sims),
		Cpuct:  rows[0].Cpuct,
	}, nil
}

// loadDebugGame finds the file holding gameID and reads every ply.
func loadDebugGame(dir, gameID string) ([]store.DebugPlyRow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := "debug_" + gameID + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".parquet") {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) {
			return store.ReadDebugGame(filepath.Join(dir, entry.Name()))
		}
	}
	return nil, os.ErrNotExist
}
