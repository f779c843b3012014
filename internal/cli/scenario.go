package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/revtrail/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern on the file name)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "none"
	Errors []string `json:"errors,omitempty"`
}

// ScenarioSummary holds the overall result.
type ScenarioSummary struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>...",
		Short: "Run audit trail scenarios",
		Long: `Run YAML scenarios against fresh in-memory stores and check their
assertions. When golden/<name>.golden exists next to a scenario file, the
recorded audit trail must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  revtrail scenario ./scenarios
  revtrail scenario ./scenarios/alice-age.yaml
  revtrail scenario ./scenarios --filter "team-*"
  revtrail scenario ./scenarios --update`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *ScenarioOptions, paths []string) error {
	out := newFormatter(cmd, opts.RootOptions)

	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}

	summary := ScenarioSummary{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	if len(files) == 0 {
		return out.Success(summary, "No scenarios found.\n")
	}

	var text bytes.Buffer
	for _, file := range files {
		res := runScenarioFile(file, opts, cmd.ErrOrStderr())
		writeScenarioResult(&text, res)
		summary.Scenarios = append(summary.Scenarios, res)
		if res.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	fmt.Fprintf(&text, "\nSummary: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	if summary.Failed == 0 {
		fmt.Fprintln(&text, "✓ All scenarios passed")
		return out.Success(summary, text.String())
	}

	msg := fmt.Sprintf("%d scenario(s) failed", summary.Failed)
	if out.JSON() {
		err := out.encode(CLIResponse{
			Status: "error",
			Data:   summary,
			Error:  &CLIError{Code: "E_SCENARIO_FAILED", Message: msg},
		})
		if err != nil {
			return err
		}
	} else if _, err := io.WriteString(out.Writer, text.String()); err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}

// findScenarioFiles returns path itself when it is a file, or every
// .yaml/.yml file below it when it is a directory. Golden directories are
// skipped.
func findScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		ok, err := matchesFilter(path, filter)
		if err != nil || !ok {
			return nil, err
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		ok, err := matchesFilter(p, filter)
		if err != nil {
			return err
		}
		if ok {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func matchesFilter(path, filter string) (bool, error) {
	if filter == "" {
		return true, nil
	}
	base := filepath.Base(path)
	matched, err := filepath.Match(filter, strings.TrimSuffix(base, filepath.Ext(base)))
	if err != nil {
		return false, fmt.Errorf("invalid filter pattern: %w", err)
	}
	return matched, nil
}

// runScenarioFile executes one scenario and checks it against its golden file.
func runScenarioFile(file string, opts *ScenarioOptions, logOut io.Writer) ScenarioResult {
	res := ScenarioResult{Name: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return res
	}
	res.Name = scenario.Name

	var result *harness.Result
	if opts.Verbose {
		result, err = harness.RunWithLogger(scenario, newLogger(logOut, true))
	} else {
		result, err = harness.Run(scenario)
	}
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Errors = result.Errors

	trace, err := harness.MarshalTrace(scenario.Name, result.Trace)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to marshal trace: %v", err))
		return res
	}

	goldenPath := goldenFilePath(file)
	switch {
	case opts.Update:
		if err := writeGolden(goldenPath, trace); err != nil {
			res.Errors = append(res.Errors, err.Error())
			return res
		}
		res.Golden = "updated"
	default:
		want, err := os.ReadFile(goldenPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			res.Golden = "none"
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("failed to read golden file: %v", err))
			return res
		case !bytes.Equal(want, trace):
			res.Errors = append(res.Errors, "trace does not match golden file (run with --update to regenerate)")
			return res
		default:
			res.Golden = "match"
		}
	}

	res.Pass = result.Pass
	return res
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

func writeGolden(path string, trace []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, trace, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func writeScenarioResult(w io.Writer, res ScenarioResult) {
	if res.Pass {
		switch res.Golden {
		case "updated":
			fmt.Fprintf(w, "✓ %s (golden updated)\n", res.Name)
		default:
			fmt.Fprintf(w, "✓ %s\n", res.Name)
		}
		return
	}
	fmt.Fprintf(w, "✗ %s\n", res.Name)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
