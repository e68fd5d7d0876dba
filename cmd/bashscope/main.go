package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/bashscope"
	"github.com/jward/bashscope/internal/config"
)

var (
	flagDB          string
	flagFormat      string
	flagConfig      string
	flagSearchPaths []string
	flagVerbose     bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// logger is installed by the root command before any subcommand runs.
var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "bashscope",
	Short:         "Include-aware name resolution for shell scripts",
	Long:          "Bashscope follows source and . includes between shell scripts, producing a SQLite index for include and declaration queries.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if flagVerbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return validateFormat(flagFormat)
	},
	// No Run; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: .bashscope/index.db relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .bashscope.yml, .bashscope.yaml or .bashscope.toml in the repo root)")
	rootCmd.PersistentFlags().StringSliceVar(&flagSearchPaths, "search-path", nil, "include fallback directory, repeatable (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging to stderr")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
}

var flagForce bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a project's shell scripts",
	Long:  "Parses shell scripts with tree-sitter, follows their includes, and writes files, includes and declarations to the SQLite database.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}

	repoRoot := findRepoRoot(targetDir)
	dbPath := resolveDBPath(repoRoot)

	bashscopeDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(bashscopeDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", bashscopeDir, err)
	}

	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing database for --force: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", dbPath)
	}

	opts, err := engineOptions()
	if err != nil {
		return err
	}
	engine, err := bashscope.New(targetDir, append(opts, bashscope.WithStore(dbPath))...)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	ctx := context.Background()

	indexStart := time.Now()
	if err := engine.IndexDirectory(ctx); err != nil {
		return fmt.Errorf("indexing: %w", err)
	}
	indexDuration := time.Since(indexStart)

	persistStart := time.Now()
	if err := engine.Persist(ctx); err != nil {
		return fmt.Errorf("persisting: %w", err)
	}
	persistDuration := time.Since(persistStart)

	stats := engine.Stats()
	fmt.Fprintf(os.Stderr, "Indexed %s in %s (parse: %s, persist: %s)\n",
		targetDir,
		time.Since(start).Round(time.Millisecond),
		indexDuration.Round(time.Millisecond),
		persistDuration.Round(time.Millisecond),
	)
	fmt.Fprintf(os.Stderr, "Files: %d, includes: %d\n", stats.Files, stats.Edges)
	fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)

	return nil
}

// engineOptions translates the global flags into engine options.
func engineOptions() ([]bashscope.Option, error) {
	opts := []bashscope.Option{bashscope.WithLogger(logger)}
	if flagConfig != "" {
		cfg, err := config.LoadFile(flagConfig)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bashscope.WithConfig(cfg))
	}
	if len(flagSearchPaths) > 0 {
		opts = append(opts, bashscope.WithSearchPaths(flagSearchPaths...))
	}
	return opts, nil
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveDBPath returns the database path from the --db flag or the default.
func resolveDBPath(repoRoot string) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(repoRoot, flagDB)
	}
	return filepath.Join(repoRoot, ".bashscope", "index.db")
}
