package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file>",
		Short: "Apply a JSON or YAML request document",
		Long: `Apply resolves a request document in a single transaction. Any error
rolls back every write in the document. Use "-" to read from stdin.`,
		Example: `  sequelactl apply request.yaml
  cat request.json | sequelactl apply -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			report, res, err := a.svc.ApplyDocument(cmd.Context(), data)
			if err != nil {
				printViolations(cmd.ErrOrStderr(), res)
				return err
			}
			out := cmd.OutOrStdout()
			counts := make(map[string]int)
			for _, op := range report.Operations {
				counts[op.Table+" "+string(op.Action)]++
			}
			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(out, "applied %d operations\n", len(report.Operations))
			for _, k := range keys {
				fmt.Fprintf(out, "  %-40s %d\n", k, counts[k])
			}
			printViolations(out, res)
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
