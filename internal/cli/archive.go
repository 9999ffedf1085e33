package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/apexlog/backend/internal/archive"
	"github.com/apexlog/backend/internal/models"
)

type archiveOptions struct {
	analysis bool
	list     bool
}

// NewArchiveCommand creates the archive subcommand.
func NewArchiveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &archiveOptions{}

	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive the current log directory into a snapshot",
		Long: `Move the streamed logs into a timestamped snapshot directory.
Run it only while no server is streaming into the same project.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			mgr := archive.NewManager(layoutFor(cfg), logger)
			return runArchive(cmd.OutOrStdout(), rootOpts.Format, mgr, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.analysis, "analysis", false, "also snapshot the analysis directory and stage a fresh copy")
	cmd.Flags().BoolVar(&opts.list, "list", false, "list existing snapshots instead of archiving")

	return cmd
}

func runArchive(w io.Writer, format string, mgr *archive.Manager, opts *archiveOptions) error {
	if opts.list {
		snaps, err := mgr.ListSnapshots()
		if err != nil {
			return err
		}
		if format == "json" {
			return json.NewEncoder(w).Encode(snaps)
		}
		for _, s := range snaps {
			fmt.Fprintf(w, "%s  %-8s  %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"), s.Kind, s.Path)
		}
		return nil
	}

	var (
		result models.ArchiveResult
		err    error
	)
	if opts.analysis {
		result = mgr.ArchivePreAnalysis(nil)
	} else {
		result, err = mgr.ArchivePreAudit()
		if err != nil {
			return err
		}
	}

	if format == "json" {
		return json.NewEncoder(w).Encode(result)
	}
	if result.Snapshot == nil {
		fmt.Fprintln(w, "nothing to archive")
		return nil
	}
	fmt.Fprintf(w, "%s %s (moved %d, copied %d)\n",
		styleClean.Render("archived"), result.Snapshot.Path, result.Moved, result.Copied)
	for _, s := range result.Skipped {
		fmt.Fprintf(w, "  %s %s\n", styleWarn.Render("skipped"), s)
	}
	return nil
}
