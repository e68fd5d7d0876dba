package tree

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
)

// extToDialect maps file extensions to shell dialects the bash grammar
// parses acceptably.
var extToDialect = map[string]string{
	".sh":   "sh",
	".bash": "bash",
	".ksh":  "ksh",
	".zsh":  "zsh",
	".bats": "bash",
}

// shebangInterpreters are interpreter names recognized on a #! line.
var shebangInterpreters = map[string]string{
	"sh":   "sh",
	"bash": "bash",
	"dash": "sh",
	"ksh":  "ksh",
	"zsh":  "zsh",
	"bats": "bash",
}

var (
	grammar     *sitter.Language
	grammarOnce sync.Once
)

// Grammar returns the tree-sitter bash language, initialized on first use.
func Grammar() *sitter.Language {
	grammarOnce.Do(func() {
		grammar = bash.GetLanguage()
	})
	return grammar
}

// DialectForFile returns the shell dialect for a path based on its extension.
// Extra extensions (with or without the leading dot) are treated as bash.
func DialectForFile(path string, extra ...string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if d, ok := extToDialect[ext]; ok {
		return d, true
	}
	for _, e := range extra {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.ToLower(e) == ext && ext != "" {
			return "bash", true
		}
	}
	return "", false
}

// DialectForShebang inspects the first line of src for a shell interpreter,
// handling both "#!/bin/bash" and "#!/usr/bin/env bash" forms.
func DialectForShebang(src []byte) (string, bool) {
	if !bytes.HasPrefix(src, []byte("#!")) {
		return "", false
	}
	line := src[2:]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return "", false
	}
	interp := filepath.Base(fields[0])
	if interp == "env" {
		rest := fields[1:]
		for len(rest) > 0 && strings.HasPrefix(rest[0], "-") {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return "", false
		}
		interp = filepath.Base(rest[0])
	}
	d, ok := shebangInterpreters[interp]
	return d, ok
}
