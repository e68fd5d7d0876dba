package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/bashscope/internal/store"
)

// --- Include Graph Commands ---

var (
	flagDirect          bool
	flagIncludingDirect bool
	flagPrefix          string
)

var includedCmd = &cobra.Command{
	Use:   "included <file>",
	Short: "Files a script includes, transitively by default",
	Args:  cobra.ExactArgs(1),
	RunE:  runIncluded,
}

var includingCmd = &cobra.Command{
	Use:   "including <file>",
	Short: "Files that include a script, directly or transitively",
	Args:  cobra.ExactArgs(1),
	RunE:  runIncluding,
}

var inclusionsCmd = &cobra.Command{
	Use:   "inclusions <file>",
	Short: "Inclusion statements of a script, resolved or not",
	Args:  cobra.ExactArgs(1),
	RunE:  runInclusions,
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "Groups of scripts that include each other",
	Args:  cobra.NoArgs,
	RunE:  runCycles,
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List indexed files",
	Args:  cobra.NoArgs,
	RunE:  runFiles,
}

func init() {
	includedCmd.Flags().BoolVar(&flagDirect, "direct", false, "only files included by the script's own statements")
	includingCmd.Flags().BoolVar(&flagIncludingDirect, "direct", false, "only files whose own statements include the script")
	filesCmd.Flags().StringVar(&flagPrefix, "prefix", "", "filter by path prefix")
}

func runIncluded(cmd *cobra.Command, args []string) error {
	file, err := resolveFilePath(args[0])
	if err != nil {
		return outputError("included", err)
	}
	s, err := openStore()
	if err != nil {
		return outputError("included", err)
	}
	defer s.Close()

	reach, err := s.IncludedFiles(file, !flagDirect)
	if err != nil {
		return outputError("included", err)
	}
	result := reachToCLI(reach)
	return outputResult(CLIResult{
		Command:    "included",
		Results:    result,
		TotalCount: intPtr(len(result.Files)),
	})
}

func runIncluding(cmd *cobra.Command, args []string) error {
	file, err := resolveFilePath(args[0])
	if err != nil {
		return outputError("including", err)
	}
	s, err := openStore()
	if err != nil {
		return outputError("including", err)
	}
	defer s.Close()

	var reach *store.Reach
	if flagIncludingDirect {
		reach, err = directIncluders(s, file)
	} else {
		reach, err = s.IncludingFiles(file)
	}
	if err != nil {
		return outputError("including", err)
	}
	result := reachToCLI(reach)
	return outputResult(CLIResult{
		Command:    "including",
		Results:    result,
		TotalCount: intPtr(len(result.Files)),
	})
}

func directIncluders(s *store.Store, file string) (*store.Reach, error) {
	paths, err := s.DirectIncluders(file)
	if err != nil {
		return nil, err
	}
	widened, err := s.HasUnresolved()
	if err != nil {
		return nil, err
	}
	return &store.Reach{Paths: paths, Widened: widened}, nil
}

func runInclusions(cmd *cobra.Command, args []string) error {
	file, err := resolveFilePath(args[0])
	if err != nil {
		return outputError("inclusions", err)
	}
	s, err := openStore()
	if err != nil {
		return outputError("inclusions", err)
	}
	defer s.Close()

	incs, err := s.InclusionsByFile(file)
	if err != nil {
		return outputError("inclusions", err)
	}
	cliIncs := make([]CLIInclusion, len(incs))
	for i, inc := range incs {
		cliIncs[i] = inclusionToCLI(inc)
		cliIncs[i].File = file
	}
	return outputResult(CLIResult{
		Command:    "inclusions",
		Results:    cliIncs,
		TotalCount: intPtr(len(cliIncs)),
	})
}

func runCycles(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return outputError("cycles", err)
	}
	defer s.Close()

	groups, err := s.Cycles()
	if err != nil {
		return outputError("cycles", err)
	}
	cycles := make([]CLICycle, len(groups))
	for i, g := range groups {
		cycles[i] = CLICycle{Files: g}
	}
	return outputResult(CLIResult{
		Command:    "cycles",
		Results:    cycles,
		TotalCount: intPtr(len(cycles)),
	})
}

func runFiles(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return outputError("files", err)
	}
	defer s.Close()

	files, err := s.Files()
	if err != nil {
		return outputError("files", err)
	}

	cliFiles := make([]CLIFile, 0, len(files))
	for _, f := range files {
		if flagPrefix != "" && !strings.HasPrefix(f.Path, flagPrefix) {
			continue
		}
		cliFiles = append(cliFiles, CLIFile{
			ID:      f.ID,
			Path:    f.Path,
			Dialect: f.Dialect,
			Hash:    f.Hash,
		})
	}

	return outputResult(CLIResult{
		Command:    "files",
		Results:    cliFiles,
		TotalCount: intPtr(len(cliFiles)),
	})
}
