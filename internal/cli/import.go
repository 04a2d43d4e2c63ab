package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/wvb/internal/core"
)

var importCmd = &cobra.Command{
	Use:   "import [file...]",
	Short: "Import objects and references from NDJSON files",
	Long: `Import objects and references into Weaviate.

Each input line holds either {"object": {...}} or {"reference": {...}}.
Files are read in order; with no file, or "-", input is read from stdin.
Items that still fail after retries are written to the dead-letter journal.`,
	Run: runImport,
}

var (
	importManual    bool
	importBatchSize int
	importQuiet     bool
)

func init() {
	importCmd.Flags().BoolVar(&importManual, "manual", false, "Disable background flushing and send everything at the end")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 0, "Override auto_batch.max_objects")
	importCmd.Flags().BoolVarP(&importQuiet, "quiet", "q", false, "Do not print progress")
}

func runImport(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	c := initFullContext(ctx)
	defer c.Close()

	if importBatchSize > 0 {
		c.Config.AutoBatch.MaxObjects = importBatchSize
	}
	auto := c.Config.AutoBatch.Enabled && !importManual

	input, closeInput, err := openInputs(args)
	if err != nil {
		exitError("%v", err)
	}
	defer closeInput()

	cyan := color.New(color.FgCyan)
	summary, err := core.Import(ctx, c.Transport, input, core.ImportOptions{
		Batch:       c.batchOptions(ctx, auto),
		DeadLetters: c.DeadLetters,
		Logger:      c.Logger,
		Progress: func(s core.ImportSummary) {
			if !importQuiet {
				cyan.Printf("\rflushed %d batches: %d ok, %d failed", s.Flushes, s.Succeeded, s.Failed)
			}
		},
	})
	if !importQuiet && summary != nil && summary.Flushes > 0 {
		fmt.Println()
	}
	if summary != nil {
		printImportSummary(summary)
	}
	if err != nil {
		c.Close()
		exitError("import failed: %v", err)
	}
	if summary.Failed > 0 {
		c.Close()
		os.Exit(2)
	}
}

func printImportSummary(s *core.ImportSummary) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	fmt.Printf("Read %d lines: %d objects, %d references\n", s.Lines, s.Objects, s.References)
	green.Printf("  %d succeeded\n", s.Succeeded)
	if s.Failed > 0 {
		red.Printf("  %d failed", s.Failed)
		if s.DeadLettered > 0 {
			fmt.Printf(" (%d written to the dead-letter journal, see 'wvb deadletter list')", s.DeadLettered)
		}
		fmt.Println()
	}
}

// openInputs concatenates the named files, or stdin.
func openInputs(paths []string) (io.Reader, func(), error) {
	if len(paths) == 0 {
		return os.Stdin, func() {}, nil
	}

	var readers []io.Reader
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, p := range paths {
		if p == "-" {
			readers = append(readers, os.Stdin)
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open %s: %w", p, err)
		}
		files = append(files, f)
		// a missing trailing newline must not glue two files' lines together
		readers = append(readers, f, strings.NewReader("\n"))
	}
	return io.MultiReader(readers...), closeAll, nil
}
