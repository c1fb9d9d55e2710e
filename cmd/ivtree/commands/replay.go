package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/ivtree/pkg/ivtree"
	"github.com/Sumatoshi-tech/ivtree/pkg/observability"
	"github.com/Sumatoshi-tech/ivtree/pkg/oplog"
)

const (
	replayCmdUse   = "replay <oplog>"
	replayCmdShort = "Re-run a recorded operation log with validation"

	replayNoValidateFlag = "no-validate"
)

// ReplayReport summarizes one replay.
type ReplayReport struct {
	File       string `json:"file"              yaml:"file"`
	Ops        int    `json:"ops"               yaml:"ops"`
	Inserts    int    `json:"inserts"           yaml:"inserts"`
	Deletes    int    `json:"deletes"           yaml:"deletes"`
	Size       int    `json:"size"              yaml:"size"`
	Depth      int    `json:"depth"             yaml:"depth"`
	DepthBound int    `json:"depth_bound"       yaml:"depth_bound"`
	Validated  bool   `json:"validated"         yaml:"validated"`
	DurationMs int64  `json:"duration_ms"       yaml:"duration_ms"`
	Failure    string `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// NewReplayCommand creates the replay subcommand.
func NewReplayCommand() *cobra.Command {
	var (
		format     string
		noValidate bool
	)

	cmd := &cobra.Command{
		Use:   replayCmdUse,
		Short: replayCmdShort,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			rt, err := openSession(cmd, observability.ModeReplay)
			if err != nil {
				return err
			}

			defer func() { _ = rt.close(context.Background()) }()

			report, runErr := runReplay(cmd.Context(), rt, args[0], !noValidate)
			if report == nil {
				return runErr
			}

			out := cmd.OutOrStdout()

			if err := writeReport(out, format, report, report.table); err != nil {
				return errors.Join(runErr, err)
			}

			if format == formatTable {
				printVerdict(out, runErr)
			}

			return runErr
		},
	}

	cmd.Flags().BoolVar(&noValidate, replayNoValidateFlag, false, "skip the invariant check after every operation")
	cmd.Flags().StringVarP(&format, formatFlag, formatFlagShort, formatTable, formatFlagUsage)

	return cmd
}

func runReplay(ctx context.Context, rt *session, path string, validate bool) (*ReplayReport, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open op log: %w", err)
	}

	log, err := oplog.Decode(file)
	_ = file.Close()

	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	ops := log.Ops()

	_, span := rt.providers.Tracer.Start(ctx, "ivtree.replay")
	defer span.End()

	tree := newTree[uint64](rt)
	defer tree.Destroy()

	report := &ReplayReport{File: path, Ops: len(ops), Validated: validate}

	for _, op := range ops {
		if op.Kind == oplog.KindInsert {
			report.Inserts++
		} else {
			report.Deletes++
		}
	}

	var check oplog.CheckFunc
	if validate {
		check = func(_ int, _ oplog.Op) error { return tree.Validate() }
	}

	start := time.Now()
	runErr := oplog.Replay(ops, tree, check)

	report.DurationMs = time.Since(start).Milliseconds()
	report.Size = tree.Size()
	report.Depth = tree.Depth()
	report.DepthBound = tree.MaxDepth()

	if runErr == nil && report.Depth > report.DepthBound {
		runErr = fmt.Errorf("%w: %d > %d", ErrDepthBound, report.Depth, report.DepthBound)
	}

	if runErr != nil {
		report.Failure = runErr.Error()
		rt.logger.ErrorContext(ctx, "replay failed", "file", path, "error", runErr)

		return report, runErr
	}

	rt.logger.InfoContext(ctx, "replay finished", "file", path, "ops", len(ops), "size", report.Size)

	return report, nil
}

// A uint64-valued tree replays logs directly.
var _ oplog.Applier = (*ivtree.Tree[uint64])(nil)

func (r *ReplayReport) table() string {
	tbl := newTable("Operation log replay")
	tbl.AppendHeader(table.Row{"Metric", "Value"})
	tbl.AppendRows([]table.Row{
		{"File", r.File},
		{"Operations", humanize.Comma(int64(r.Ops))},
		{"Inserts / deletes", fmt.Sprintf("%s / %s", humanize.Comma(int64(r.Inserts)), humanize.Comma(int64(r.Deletes)))},
		{"Validated each step", r.Validated},
		{"Final size", humanize.Comma(int64(r.Size))},
		{"Depth / bound", fmt.Sprintf("%d / %d", r.Depth, r.DepthBound)},
		{"Duration", (time.Duration(r.DurationMs) * time.Millisecond).String()},
	})

	return tbl.Render()
}
