package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/apexlog/backend/internal/models"
	"github.com/apexlog/backend/internal/scanner"
)

// ErrFindings is returned by scan --fail-on-error when errors were found.
var ErrFindings = errors.New("error findings present")

type scanOptions struct {
	rulesFile   string
	failOnError bool
}

// NewScanCommand creates the scan subcommand. It does not need the config
// file, so it works on logs copied off another machine.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan [file...]",
		Short: "Scan Apex debug logs for error patterns",
		Long: `Scan one or more Apex debug log files with the error rules.
Reads stdin when no file is given or a file is "-". Arguments may be
recursive globs such as '.sf-log_archive_*/**/*.log'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, rootOpts, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.rulesFile, "rules", "", "YAML rules file (default: built-in rules)")
	cmd.Flags().BoolVar(&opts.failOnError, "fail-on-error", false, "exit non-zero when error findings are present")

	return cmd
}

func runScan(cmd *cobra.Command, rootOpts *RootOptions, opts *scanOptions, args []string) error {
	s := scanner.Default()
	if opts.rulesFile != "" {
		rules, err := scanner.LoadRules(opts.rulesFile)
		if err != nil {
			return err
		}
		s = scanner.New(rules)
	}
	if len(args) == 0 {
		args = []string{"-"}
	}
	args, err := expandArgs(args)
	if err != nil {
		return err
	}

	out := NewRenderer(rootOpts.Format, cmd.OutOrStdout())
	errorCount := 0
	for _, name := range args {
		text, err := readInput(cmd.InOrStdin(), name)
		if err != nil {
			return err
		}
		report := s.Scan(text)
		report.Source = models.SourceScanner
		errorCount += report.ErrorCount()

		source := name
		if name == "-" {
			source = "stdin"
		}
		if err := out.Render(source, report); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	if opts.failOnError && errorCount > 0 {
		return fmt.Errorf("%w: %d", ErrFindings, errorCount)
	}
	return nil
}

func readInput(stdin io.Reader, name string) (string, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(data), nil
}

// expandArgs replaces glob arguments with the files they match, sorted.
// Plain paths pass through so a missing file still reports its name.
func expandArgs(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "-" || !strings.ContainsAny(arg, "*?[{") {
			out = append(out, arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %s", arg)
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}
