package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// --- Declaration and Scope Commands ---

var declarationsCmd = &cobra.Command{
	Use:   "declarations <name>",
	Short: "Indexed declarations with the given name",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeclarations,
}

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <line> <col>",
	Short: "Declaration the name at a position resolves to",
	Args:  cobra.ExactArgs(3),
	RunE:  runDefinition,
}

var useScopeCmd = &cobra.Command{
	Use:   "use-scope <file> <line> <col>",
	Short: "Files to search for references to the name at a position",
	Args:  cobra.ExactArgs(3),
	RunE:  runUseScope,
}

var resolveScopeCmd = &cobra.Command{
	Use:   "resolve-scope <file>",
	Short: "Files whose declarations a script can see",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolveScope,
}

func runDeclarations(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return outputError("declarations", err)
	}
	defer s.Close()

	decls, err := s.DeclarationsByName(args[0])
	if err != nil {
		return outputError("declarations", err)
	}
	cliDecls := make([]CLIDeclaration, len(decls))
	for i, d := range decls {
		cliDecls[i] = declarationToCLI(d)
	}
	return outputResult(CLIResult{
		Command:    "declarations",
		Results:    cliDecls,
		TotalCount: intPtr(len(cliDecls)),
	})
}

func runDefinition(cmd *cobra.Command, args []string) error {
	file, line, col, err := parsePosition(args)
	if err != nil {
		return outputError("definition", err)
	}
	ctx := context.Background()
	engine, err := openEngine(ctx)
	if err != nil {
		return outputError("definition", err)
	}
	defer engine.Close()

	d, err := engine.DefinitionAt(ctx, file, line, col)
	if err != nil {
		return outputError("definition", err)
	}
	result := CLIResult{Command: "definition"}
	if cd := engineDeclarationToCLI(d); cd != nil {
		result.Results = *cd
	}
	return outputResult(result)
}

func runUseScope(cmd *cobra.Command, args []string) error {
	file, line, col, err := parsePosition(args)
	if err != nil {
		return outputError("use-scope", err)
	}
	ctx := context.Background()
	engine, err := openEngine(ctx)
	if err != nil {
		return outputError("use-scope", err)
	}
	defer engine.Close()

	d, sc, err := engine.UseScopeAt(ctx, file, line, col)
	if err != nil {
		return outputError("use-scope", err)
	}
	if d == nil {
		return outputError("use-scope", fmt.Errorf("no declaration found at %s:%d:%d", file, line, col))
	}
	return outputResult(CLIResult{
		Command: "use-scope",
		Results: scopeToCLI(d, sc),
	})
}

func runResolveScope(cmd *cobra.Command, args []string) error {
	file, err := resolveFilePath(args[0])
	if err != nil {
		return outputError("resolve-scope", err)
	}
	ctx := context.Background()
	engine, err := openEngine(ctx)
	if err != nil {
		return outputError("resolve-scope", err)
	}
	defer engine.Close()

	sc, err := engine.ResolveScope(ctx, file)
	if err != nil {
		return outputError("resolve-scope", err)
	}
	return outputResult(CLIResult{
		Command: "resolve-scope",
		Results: scopeToCLI(nil, sc),
	})
}
