package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen", "127.0.0.1:8080", "HTTP listen address")
	dataDirs := fs.String("data-dirs", filepath.Join("data", "generated"), "Comma-separated list of directories containing batch_ and games_ shards")
	debugDir := fs.String("debug-dir", "debug_games", "Directory containing debug game parquet files")
	refresh := fs.Duration("refresh", 30*time.Second, "How long a DuckDB snapshot of the shards is reused")
	staticDir := fs.String("static-dir", "", "Optional directory to serve as SPA static (e.g. viewer/web/dist)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("flag parse")
	}

	roots := parseDataRoots(*dataDirs)
	log.Info().Strs("roots", roots).Str("debug_dir", *debugDir).Msg("viewer data roots")

	srv := NewServer(roots, *debugDir, *refresh)
	defer srv.dbCache.Close()

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	if strings.TrimSpace(*staticDir) != "" {
		spa := spaHandler{staticPath: *staticDir, indexPath: filepath.Join(*staticDir, "index.html")}
		mux.Handle("/", spa)
	}

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("listen", *listen).Msg("viewer listening")
	log.Fatal().Err(httpSrv.ListenAndServe()).Msg("server stopped")
}

func parseDataRoots(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

type spaHandler struct {
	staticPath string
	indexPath  string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Serve exact static asset if exists; otherwise serve index.html for client-side routing.
	path := filepath.Clean(r.URL.Path)
	if path == "/" {
		http.ServeFile(w, r, h.indexPath)
		return
	}
	candidate := filepath.Join(h.staticPath, strings.TrimPrefix(path, "/"))
	if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
		http.ServeFile(w, r, candidate)
		return
	}
	http.ServeFile(w, r, h.indexPath)
}
