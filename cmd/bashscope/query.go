package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jward/bashscope"
	"github.com/jward/bashscope/internal/store"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the include index",
	Long:  "Run queries against an indexed project. Include and declaration queries read the database; position queries parse the project live. All line and column numbers are 0-based.",
}

func init() {
	queryCmd.AddCommand(includedCmd)
	queryCmd.AddCommand(includingCmd)
	queryCmd.AddCommand(inclusionsCmd)
	queryCmd.AddCommand(cyclesCmd)
	queryCmd.AddCommand(filesCmd)
	queryCmd.AddCommand(declarationsCmd)
	queryCmd.AddCommand(definitionCmd)
	queryCmd.AddCommand(useScopeCmd)
	queryCmd.AddCommand(resolveScopeCmd)
}

// --- Helpers ---

// openStore opens the Store from the --db flag path (or default).
func openStore() (*store.Store, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	repoRoot := findRepoRoot(cwd)
	dbPath := resolveDBPath(repoRoot)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'bashscope index' first)", dbPath)
	}

	return store.NewStore(dbPath)
}

// openEngine indexes the repository containing the working directory in
// memory. Position queries need parse trees, which the database does not
// keep.
func openEngine(ctx context.Context) (*bashscope.Engine, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	opts, err := engineOptions()
	if err != nil {
		return nil, err
	}
	engine, err := bashscope.New(findRepoRoot(cwd), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	if err := engine.IndexDirectory(ctx); err != nil {
		engine.Close()
		return nil, fmt.Errorf("indexing: %w", err)
	}
	return engine, nil
}

// resolveFilePath converts a file argument to an absolute path.
// If the path is already absolute, it's returned as-is.
// Otherwise, it's resolved relative to the current working directory.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return abs, nil
}

// parseIntArg parses a positional argument as an integer with a clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be non-negative", name, value)
	}
	return n, nil
}

// parsePosition parses <file> <line> <col> positional arguments.
func parsePosition(args []string) (file string, line, col int, err error) {
	if file, err = resolveFilePath(args[0]); err != nil {
		return "", 0, 0, err
	}
	if line, err = parseIntArg(args[1], "line"); err != nil {
		return "", 0, 0, err
	}
	if col, err = parseIntArg(args[2], "col"); err != nil {
		return "", 0, 0, err
	}
	return file, line, col, nil
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

func intPtr(n int) *int { return &n }

// reachToCLI converts a stored traversal to a CLIFileSet.
func reachToCLI(r *store.Reach) CLIFileSet {
	files := r.Paths
	if files == nil {
		files = []string{}
	}
	return CLIFileSet{Files: files, Widened: r.Widened}
}

// inclusionToCLI converts a store.Inclusion to a CLIInclusion.
func inclusionToCLI(inc *store.Inclusion) CLIInclusion {
	return CLIInclusion{
		File:    inc.FilePath,
		Expr:    inc.Expr,
		Target:  inc.TargetPath,
		Dynamic: inc.Dynamic,
		Line:    inc.Line,
		Col:     inc.Col,
	}
}

// declarationToCLI converts a store.Declaration to a CLIDeclaration.
func declarationToCLI(d *store.Declaration) CLIDeclaration {
	return CLIDeclaration{
		Name:     d.Name,
		Kind:     d.Kind,
		File:     d.FilePath,
		Line:     d.Line,
		Col:      d.Col,
		Function: d.Function,
	}
}

// engineDeclarationToCLI converts an engine result, returning nil for nil.
func engineDeclarationToCLI(d *bashscope.Declaration) *CLIDeclaration {
	if d == nil {
		return nil
	}
	return &CLIDeclaration{
		Name:     d.Name,
		Kind:     d.Kind,
		File:     d.File,
		Line:     d.Line,
		Col:      d.Col,
		Function: d.Function,
	}
}

// scopeToCLI converts an engine search scope to a CLIScope.
func scopeToCLI(d *bashscope.Declaration, sc bashscope.SearchScope) CLIScope {
	files := sc.Files
	if files == nil {
		files = []string{}
	}
	return CLIScope{
		Declaration: engineDeclarationToCLI(d),
		Files:       files,
		Local:       sc.Local,
		Widened:     sc.Widened,
	}
}
