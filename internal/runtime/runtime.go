// Package runtime runs a user-supplied Risor script that maps include
// expressions the static evaluator gave up on to concrete paths.
//
// The script sees the globals expr, includer, includer_dir and
// search_paths plus the host functions file_exists, is_known, join,
// dirname, basename and log. Its final expression is the result: a string
// path, or nil to leave the include dynamic.
package runtime

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/bashscope/internal/extract"
)

// Runtime evaluates include expressions with a Risor script.
type Runtime struct {
	scriptPath  string
	scriptsDir  string
	fsys        fs.FS
	source      string
	searchPaths []string
	known       func(path string) bool
	logger      *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// withRuntimeFS loads the script and its imports from fsys instead of disk.
func withRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithSearchPaths exposes the include search paths to the script.
func WithSearchPaths(paths ...string) RuntimeOption {
	return func(r *Runtime) {
		r.searchPaths = append([]string(nil), paths...)
	}
}

// WithKnownFiles installs the predicate behind is_known.
func WithKnownFiles(known func(path string) bool) RuntimeOption {
	return func(r *Runtime) {
		r.known = known
	}
}

// WithLogger routes the script's log calls to l.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRuntime loads the resolver script at scriptPath. Imports resolve
// relative to the script's directory.
func NewRuntime(scriptPath string, opts ...RuntimeOption) (*Runtime, error) {
	r := &Runtime{
		scriptPath: scriptPath,
		scriptsDir: filepath.Dir(scriptPath),
		known:      func(string) bool { return false },
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	r.source = src
	return r, nil
}

// NewRuntimeFromSource creates a Runtime around inline script source.
func NewRuntimeFromSource(source string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptPath: "<inline>",
		source:     source,
		known:      func(string) bool { return false },
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadScript reads a .risor file. With an fs.FS configured the path is
// taken relative to the FS root.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", path, err)
	}
	return string(data), nil
}

// EvaluateInclude runs the script for one include expression.
func (r *Runtime) EvaluateInclude(ctx context.Context, req extract.Request) (string, bool, error) {
	globals := r.buildGlobals(req)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	result, err := risor.Eval(ctx, r.source, opts...)
	if err != nil {
		return "", false, fmt.Errorf("runtime: script %s: %w", r.scriptPath, err)
	}

	switch v := result.(type) {
	case nil:
		return "", false, nil
	case *object.String:
		if v.Value() == "" {
			return "", false, nil
		}
		r.logger.Debug("runtime.resolved", "expr", req.Expr, "path", v.Value())
		return v.Value(), true, nil
	}
	if result == object.Nil || result == object.False {
		return "", false, nil
	}
	return "", false, fmt.Errorf("runtime: script %s: result is %s, want string or nil", r.scriptPath, result.Type())
}

func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: names,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: names,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

func (r *Runtime) buildGlobals(req extract.Request) map[string]any {
	paths := make([]object.Object, len(r.searchPaths))
	for i, p := range r.searchPaths {
		paths[i] = object.NewString(p)
	}
	return map[string]any{
		"expr":         object.NewString(req.Expr),
		"includer":     object.NewString(req.Includer),
		"includer_dir": object.NewString(req.Dir),
		"search_paths": object.NewList(paths),
		"file_exists":  makeFileExistsFn(),
		"is_known":     makeIsKnownFn(r.known),
		"join":         makeJoinFn(),
		"dirname":      makeDirnameFn(),
		"basename":     makeBasenameFn(),
		"log":          mustProxy(&logObject{logger: r.logger, expr: req.Expr}),
	}
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
