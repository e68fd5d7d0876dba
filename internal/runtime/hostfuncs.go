package runtime

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/risor-io/risor/object"
)

// stringArgs checks that every argument is a string and unwraps them.
func stringArgs(name string, args []object.Object) ([]string, *object.Error) {
	out := make([]string, len(args))
	for i, a := range args {
		s, ok := a.(*object.String)
		if !ok {
			return nil, object.Errorf("%s: argument %d must be a string, got %s", name, i+1, a.Type())
		}
		out[i] = s.Value()
	}
	return out, nil
}

// makeFileExistsFn creates "file_exists".
//
// file_exists(path) → bool
func makeFileExistsFn() *object.Builtin {
	return object.NewBuiltin("file_exists", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("file_exists", 1, len(args))
		}
		s, err := stringArgs("file_exists", args)
		if err != nil {
			return err
		}
		info, statErr := os.Stat(s[0])
		return object.NewBool(statErr == nil && !info.IsDir())
	})
}

// makeIsKnownFn creates "is_known", true for paths registered in the
// project.
//
// is_known(path) → bool
func makeIsKnownFn(known func(string) bool) *object.Builtin {
	return object.NewBuiltin("is_known", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("is_known", 1, len(args))
		}
		s, err := stringArgs("is_known", args)
		if err != nil {
			return err
		}
		return object.NewBool(known(s[0]))
	})
}

// makeJoinFn creates "join".
//
// join(elem, ...) → string
func makeJoinFn() *object.Builtin {
	return object.NewBuiltin("join", func(ctx context.Context, args ...object.Object) object.Object {
		s, err := stringArgs("join", args)
		if err != nil {
			return err
		}
		return object.NewString(filepath.Join(s...))
	})
}

// makeDirnameFn creates "dirname".
//
// dirname(path) → string
func makeDirnameFn() *object.Builtin {
	return object.NewBuiltin("dirname", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("dirname", 1, len(args))
		}
		s, err := stringArgs("dirname", args)
		if err != nil {
			return err
		}
		return object.NewString(filepath.Dir(s[0]))
	})
}

// makeBasenameFn creates "basename".
//
// basename(path) → string
func makeBasenameFn() *object.Builtin {
	return object.NewBuiltin("basename", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("basename", 1, len(args))
		}
		s, err := stringArgs("basename", args)
		if err != nil {
			return err
		}
		return object.NewString(filepath.Base(s[0]))
	})
}

// logObject provides log.info/warn/error methods for resolver scripts.
type logObject struct {
	logger *slog.Logger
	expr   string
}

func (l *logObject) Info(msg string) {
	l.logger.Info("runtime.script", "msg", msg, "expr", l.expr)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn("runtime.script", "msg", msg, "expr", l.expr)
}

func (l *logObject) Error(msg string) {
	l.logger.Error("runtime.script", "msg", msg, "expr", l.expr)
}
