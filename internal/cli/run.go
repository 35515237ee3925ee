package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MimeLyc/chunked-sql-translator/internal/pipeline"
	"github.com/MimeLyc/chunked-sql-translator/pkg/file"
	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Input             string
	Example           string
	SourceFormat      string
	DestinationFormat string
	Dialect           string
	Prompt            string
	PromptFile        string
	TargetSchema      string
	MergeN            int
	Normalize         bool
	OutDir            string
}

type runReport struct {
	Input   string `json:"input"`
	Output  string `json:"output,omitempty"`
	TaskID  string `json:"task_id"`
	Units   int    `json:"units,omitempty"`
	Resumed bool   `json:"resumed,omitempty"`
	Error   string `json:"error,omitempty"`
	Advice  string `json:"advice,omitempty"`
}

func newRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Convert DDL files",
		Long: `Convert one DDL file, or every .sql/.txt file under a directory.

Results are written to <out-dir>/<name>_to_<destination>.sql. Re-running the
same command resumes from the checkpoint database; finished units are reused.

Example:
  sqltrans run -i orders.sql --source gbase8c --dest gbasehd --schema stg_cwsw
  sqltrans run -i ./ddl --source mysql --dest hive --prompt-file rules.txt --normalize`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "input file or directory (required)")
	cmd.Flags().StringVar(&opts.Example, "example", "", "reference DDL in the destination format")
	cmd.Flags().StringVar(&opts.SourceFormat, "source", "", "source format (required)")
	cmd.Flags().StringVar(&opts.DestinationFormat, "dest", "", "destination format (required)")
	cmd.Flags().StringVar(&opts.Dialect, "dialect", "", "validation dialect, defaults to the destination format's")
	cmd.Flags().StringVar(&opts.Prompt, "prompt", "", "conversion instructions")
	cmd.Flags().StringVar(&opts.PromptFile, "prompt-file", "", "file holding conversion instructions")
	cmd.Flags().StringVar(&opts.TargetSchema, "schema", "", "rename every schema to this one")
	cmd.Flags().IntVar(&opts.MergeN, "merge-n", 0, "tables per unit, overrides MERGE_N")
	cmd.Flags().BoolVar(&opts.Normalize, "normalize", false, "rewrite the instructions into a per-unit template first")
	cmd.Flags().StringVarP(&opts.OutDir, "out-dir", "o", "results", "output directory")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")

	return cmd
}

func runConvert(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	instructions := opts.Prompt
	if opts.PromptFile != "" {
		data, err := os.ReadFile(opts.PromptFile)
		if err != nil {
			return fmt.Errorf("read prompt file: %w", err)
		}
		instructions = string(data)
	}
	var example string
	if opts.Example != "" {
		data, err := os.ReadFile(opts.Example)
		if err != nil {
			return fmt.Errorf("read example: %w", err)
		}
		example = string(data)
	}
	mergeN := opts.MergeN
	if mergeN <= 0 {
		mergeN = cfg.Engine.MergeN
	}

	inputs, err := file.FindByExt(opts.Input, ".sql", ".txt")
	if err != nil {
		return fmt.Errorf("find inputs: %w", err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no .sql or .txt files under %s", opts.Input)
	}

	a, err := newApp(cfg, opts.Service)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var errs []error
	for _, input := range inputs {
		report := runReport{Input: input}
		data, err := os.ReadFile(input)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", input, err))
			continue
		}

		res, err := a.engine.Submit(ctx, pipeline.Config{
			SourceFormat:      opts.SourceFormat,
			DestinationFormat: opts.DestinationFormat,
			Dialect:           opts.Dialect,
			SourceSQL:         string(data),
			InputToken:        input,
			Example:           example,
			TargetSchema:      opts.TargetSchema,
			Instructions:      instructions,
			MergeN:            mergeN,
			NormalizePrompt:   opts.Normalize,
		})
		if err != nil {
			report.TaskID = pipeline.TaskIDOf(err)
			report.Error = err.Error()
			report.Advice = pipeline.Advice(err)
			log.Error("Conversion of %s failed: %v", input, err)
			errs = append(errs, fmt.Errorf("%s: %w", input, err))
			printReport(cmd, opts.Format, report)
			continue
		}

		out := file.ResultPath(opts.OutDir, input, opts.DestinationFormat)
		if err := writeResult(out, res.SQL); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Output = out
		report.TaskID = res.TaskID
		report.Units = res.Units
		report.Resumed = res.Resumed
		printReport(cmd, opts.Format, report)
	}
	return errors.Join(errs...)
}

func writeResult(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printReport(cmd *cobra.Command, format string, r runReport) {
	w := cmd.OutOrStdout()
	if format == "json" {
		_ = json.NewEncoder(w).Encode(r)
		return
	}
	if r.Error != "" {
		fmt.Fprintf(w, "FAILED %s (task %s)\n  %s\n  %s\n", r.Input, r.TaskID, r.Error, r.Advice)
		return
	}
	var resumed string
	if r.Resumed {
		resumed = ", resumed"
	}
	fmt.Fprintf(w, "Converted %s -> %s (%d units%s)\n", r.Input, r.Output, r.Units, resumed)
	fmt.Fprintf(w, "  task %s\n", r.TaskID)
}
