package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brensch/c4zero/executor/inference"
	"github.com/brensch/c4zero/executor/mcts"
	"github.com/brensch/c4zero/executor/selfplay"
)

// Config is everything the executor needs. It can be loaded from a YAML file
// with -config; flags given on the command line override the file.
type Config struct {
	OutDir        string `yaml:"out_dir"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	// Model is an ONNX file. When set it is used frozen and nothing is trained.
	Model string `yaml:"model"`

	Simulations       int     `yaml:"simulations"`
	Cpuct             float32 `yaml:"cpuct"`
	RenormalizePriors bool    `yaml:"renormalize_priors"`
	ExploreMoves      int     `yaml:"explore_moves"`

	GamesPerFlush int  `yaml:"games_per_flush"`
	WithRoots     bool `yaml:"with_roots"`

	Seed     int64  `yaml:"seed"`
	LogLevel string `yaml:"log_level"`
	TUI      bool   `yaml:"tui"`

	Run     selfplay.RunConfig      `yaml:"run"`
	Network inference.NetworkConfig `yaml:"network"`
}

func defaultConfig() Config {
	return Config{
		OutDir:        "data/generated",
		CheckpointDir: "data/checkpoints",
		Simulations:   200,
		Cpuct:         mcts.DefaultCpuct,
		GamesPerFlush: 50,
		LogLevel:      "info",
		Run: selfplay.RunConfig{
			Iterations:        100,
			GamesPerIteration: 20,
			CheckpointEvery:   1,
			Source:            "selfplay",
		},
		Network: inference.DefaultNetworkConfig(),
	}
}

// intList is a comma separated list of ints, e.g. "200,200,200".
type intList struct{ v *[]int }

func (l intList) String() string {
	if l.v == nil {
		return ""
	}
	parts := make([]string, len(*l.v))
	for i, n := range *l.v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

func (l intList) Set(s string) error {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid layer width %q", p)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return fmt.Errorf("at least one hidden layer is required")
	}
	*l.v = out
	return nil
}

func newFlagSet(cfg *Config, configPath *string) *flag.FlagSet {
	fs := flag.NewFlagSet("executor", flag.ContinueOnError)
	fs.StringVar(configPath, "config", *configPath, "YAML config file; flags override it")
	fs.StringVar(&cfg.OutDir, "out-dir", cfg.OutDir, "Output directory for training and game parquet shards")
	fs.StringVar(&cfg.CheckpointDir, "checkpoint-dir", cfg.CheckpointDir, "Directory for network checkpoints")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "ONNX model to play with instead of the trainable network (not trained)")
	fs.IntVar(&cfg.Run.Iterations, "iterations", cfg.Run.Iterations, "Training iterations; 0 runs until interrupted")
	fs.IntVar(&cfg.Run.GamesPerIteration, "games", cfg.Run.GamesPerIteration, "Games per iteration")
	fs.IntVar(&cfg.Run.CheckpointEvery, "checkpoint-every", cfg.Run.CheckpointEvery, "Save a checkpoint every N iterations")
	fs.IntVar(&cfg.Simulations, "sims", cfg.Simulations, "Simulations per move")
	fs.Var(float32Value{&cfg.Cpuct}, "cpuct", "PUCT exploration constant")
	fs.BoolVar(&cfg.RenormalizePriors, "renormalize-priors", cfg.RenormalizePriors, "Renormalize priors over legal columns")
	fs.IntVar(&cfg.ExploreMoves, "explore-moves", cfg.ExploreMoves, "Sample the first N plies by visit share")
	fs.IntVar(&cfg.GamesPerFlush, "games-per-flush", cfg.GamesPerFlush, "Number of games to buffer per parquet flush")
	fs.BoolVar(&cfg.WithRoots, "with-roots", cfg.WithRoots, "Store per-ply root statistics in game rows")
	fs.Var(intList{&cfg.Network.Hidden}, "hidden", "Hidden layer widths, comma separated")
	fs.Var(float32Value{&cfg.Network.LearningRate}, "lr", "Adam learning rate")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed; 0 picks one from the clock")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.TUI, "tui", cfg.TUI, "Show the live terminal dashboard")
	return fs
}

type float32Value struct{ v *float32 }

func (f float32Value) String() string {
	if f.v == nil {
		return ""
	}
	return strconv.FormatFloat(float64(*f.v), 'g', -1, 32)
}

func (f float32Value) Set(s string) error {
	n, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return err
	}
	*f.v = float32(n)
	return nil
}

// parseConfig reads flags, then the YAML file named by -config if any, then
// the flags again on top of the file.
func parseConfig(args []string) (Config, error) {
	cfg := defaultConfig()
	var path string
	if err := newFlagSet(&cfg, &path).Parse(args); err != nil {
		return cfg, err
	}
	if path == "" {
		return cfg, nil
	}

	fileCfg := defaultConfig()
	if err := loadConfigFile(path, &fileCfg); err != nil {
		return cfg, err
	}
	if err := newFlagSet(&fileCfg, &path).Parse(args); err != nil {
		return cfg, err
	}
	return fileCfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
