package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

var (
	// widenedNote marks results that unresolved includes may have cut short.
	widenedNote = color.New(color.FgYellow, color.Bold).Sprint("widened: unresolved includes present")
	cycleLabel  = color.New(color.FgRed, color.Bold)
)

// formatFileSetText formats a CLIFileSet as one path per line.
func formatFileSetText(w io.Writer, fs CLIFileSet) {
	for _, f := range fs.Files {
		fmt.Fprintln(w, f)
	}
	if fs.Widened {
		fmt.Fprintln(w, widenedNote)
	}
}

// formatInclusionsText formats CLIInclusion results as aligned columns.
func formatInclusionsText(w io.Writer, incs []CLIInclusion) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tCOL\tEXPR\tTARGET")
	for _, inc := range incs {
		target := "-"
		switch {
		case inc.Target != nil:
			target = *inc.Target
		case inc.Dynamic:
			target = "(dynamic)"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", inc.Line, inc.Col, inc.Expr, target)
	}
	tw.Flush()
}

// formatDeclarationsText formats CLIDeclaration results as aligned columns.
func formatDeclarationsText(w io.Writer, decls []CLIDeclaration) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tFILE\tLINE\tCOL\tFUNCTION")
	for _, d := range decls {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			d.Name, d.Kind, d.File, d.Line, d.Col, d.Function)
	}
	tw.Flush()
}

// formatFilesText formats CLIFile results as aligned columns.
func formatFilesText(w io.Writer, files []CLIFile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tDIALECT")
	for _, f := range files {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", f.ID, f.Path, f.Dialect)
	}
	tw.Flush()
}

// formatCyclesText prints each cycle group on one line.
func formatCyclesText(w io.Writer, cycles []CLICycle) {
	for i, c := range cycles {
		fmt.Fprintf(w, "%s %s\n", cycleLabel.Sprintf("cycle %d:", i+1), strings.Join(c.Files, " <-> "))
	}
}

// formatScopeText formats a CLIScope with its declaration header.
func formatScopeText(w io.Writer, sc CLIScope) {
	if sc.Declaration != nil {
		formatDeclarationsText(w, []CLIDeclaration{*sc.Declaration})
		fmt.Fprintln(w)
	}
	if sc.Local {
		fmt.Fprintln(w, "Scope: local")
	}
	formatFileSetText(w, CLIFileSet{Files: sc.Files, Widened: sc.Widened})
}

// outputResultText dispatches text formatting based on the result type.
func outputResultText(result CLIResult) error {
	return writeResultText(os.Stdout, result)
}

func writeResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIFileSet:
		formatFileSetText(w, v)
	case []CLIInclusion:
		formatInclusionsText(w, v)
	case []CLIDeclaration:
		formatDeclarationsText(w, v)
	case CLIDeclaration:
		formatDeclarationsText(w, []CLIDeclaration{v})
	case []CLIFile:
		formatFilesText(w, v)
	case []CLICycle:
		formatCyclesText(w, v)
	case CLIScope:
		formatScopeText(w, v)
	case nil:
		// No output for nil results (e.g., definition with no match).
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
