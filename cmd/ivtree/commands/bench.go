package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Sumatoshi-tech/ivtree/pkg/freelist"
	"github.com/Sumatoshi-tech/ivtree/pkg/ivtree"
	"github.com/Sumatoshi-tech/ivtree/pkg/observability"
)

const (
	benchCmdUse   = "bench"
	benchCmdShort = "Insert, find and delete random address ranges and report timings"

	benchCountFlag = "count"
	benchWidthFlag = "width"
	benchSeedFlag  = "seed"
	benchMaskFlag  = "mask"
	benchPlotFlag  = "plot"

	benchSamples = 32
	plotFilePerm = 0o600
)

// ErrLookupMiss is returned when an inserted interval cannot be found again.
var ErrLookupMiss = errors.New("inserted interval not found")

// DepthSample is the tree depth observed at one size during the insert phase.
type DepthSample struct {
	Size  int `json:"size"  yaml:"size"`
	Depth int `json:"depth" yaml:"depth"`
	Bound int `json:"bound" yaml:"bound"`
}

// BenchReport summarizes one bench run.
type BenchReport struct {
	Count       int            `json:"count"          yaml:"count"`
	Width       uint64         `json:"width"          yaml:"width"`
	Seed        uint64         `json:"seed"           yaml:"seed"`
	InsertAvgNs int64          `json:"insert_avg_ns"  yaml:"insert_avg_ns"`
	FindAvgNs   int64          `json:"find_avg_ns"    yaml:"find_avg_ns"`
	DeleteAvgNs int64          `json:"delete_avg_ns"  yaml:"delete_avg_ns"`
	Depth       int            `json:"depth"          yaml:"depth"`
	DepthBound  int            `json:"depth_bound"    yaml:"depth_bound"`
	Pool        freelist.Stats `json:"pool"           yaml:"pool"`
	Samples     []DepthSample  `json:"samples"        yaml:"samples"`
}

type benchParams struct {
	count  int
	width  uint64
	seed   uint64
	mask   uint64
	format string
	plot   string
}

// NewBenchCommand creates the bench subcommand.
func NewBenchCommand() *cobra.Command {
	var params benchParams

	cmd := &cobra.Command{
		Use:   benchCmdUse,
		Short: benchCmdShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(params.format); err != nil {
				return err
			}

			rt, err := openSession(cmd, observability.ModeBench)
			if err != nil {
				return err
			}

			defer func() { _ = rt.close(context.Background()) }()

			params.applyDefaults(cmd, rt)

			report, err := runBench(cmd.Context(), rt, params)
			if err != nil {
				return err
			}

			if params.plot != "" {
				if err := writeDepthPlot(params.plot, report); err != nil {
					return err
				}
			}

			return writeReport(cmd.OutOrStdout(), params.format, report, report.table)
		},
	}

	cmd.Flags().IntVar(&params.count, benchCountFlag, 0, "number of intervals (default from config)")
	cmd.Flags().Uint64Var(&params.width, benchWidthFlag, 0, "interval width (default from config)")
	cmd.Flags().Uint64Var(&params.seed, benchSeedFlag, 0, "random seed (default from config)")
	cmd.Flags().Uint64Var(&params.mask, benchMaskFlag, 0, "mask applied to random bases (default from config)")
	cmd.Flags().StringVarP(&params.format, formatFlag, formatFlagShort, formatTable, formatFlagUsage)
	cmd.Flags().StringVar(&params.plot, benchPlotFlag, "", "write an HTML depth chart to this file")

	return cmd
}

// applyDefaults fills every flag the user did not set from the configuration.
func (p *benchParams) applyDefaults(cmd *cobra.Command, rt *session) {
	flags := cmd.Flags()

	if !flags.Changed(benchCountFlag) {
		p.count = rt.cfg.Bench.Count
	}

	if !flags.Changed(benchWidthFlag) {
		p.width = rt.cfg.Bench.Width
	}

	if !flags.Changed(benchSeedFlag) {
		p.seed = rt.cfg.Bench.Seed
	}

	if !flags.Changed(benchMaskFlag) {
		p.mask = rt.cfg.Bench.Mask
	}
}

func runBench(ctx context.Context, rt *session, p benchParams) (*BenchReport, error) {
	if p.count <= 0 {
		return nil, fmt.Errorf("%w: count %d", ivtree.ErrBadParameter, p.count)
	}

	if p.mask > math.MaxUint64-p.width {
		return nil, fmt.Errorf("%w: mask %#x plus width %d overflows", ivtree.ErrBadParameter, p.mask, p.width)
	}

	tree := newTree[uint64](rt)
	defer tree.Destroy()

	rng := rand.New(rand.NewPCG(p.seed, p.seed)) //nolint:gosec // reproducible workload

	bases := make([]uint64, p.count)
	for i := range bases {
		bases[i] = rng.Uint64() & p.mask
	}

	report := &BenchReport{Count: p.count, Width: p.width, Seed: p.seed}
	every := max(1, p.count/benchSamples)

	ctx, span := rt.providers.Tracer.Start(ctx, "ivtree.bench")
	span.SetAttributes(attribute.Int("bench.count", p.count))

	defer span.End()

	var elapsed time.Duration

	for i, base := range bases {
		start := time.Now()
		err := tree.Insert(uint64(i), base, base+p.width)
		elapsed += time.Since(start)

		if err != nil {
			return nil, fmt.Errorf("insert #%d: %w", i, err)
		}

		if (i+1)%every == 0 || i+1 == p.count {
			report.Samples = append(report.Samples, DepthSample{
				Size: i + 1, Depth: tree.Depth(), Bound: ivtree.DepthBound(i + 1),
			})
		}
	}

	report.InsertAvgNs = elapsed.Nanoseconds() / int64(p.count)
	report.Depth = tree.Depth()
	report.DepthBound = tree.MaxDepth()
	report.Pool = tree.Stats().Pool

	if err := tree.Validate(); err != nil {
		return nil, err
	}

	elapsed = 0

	for i, base := range bases {
		start := time.Now()
		_, err := tree.FindOverlapping(base, base+p.width)
		elapsed += time.Since(start)

		if err != nil {
			return nil, fmt.Errorf("%w: #%d [%#x, %#x]", ErrLookupMiss, i, base, base+p.width)
		}
	}

	report.FindAvgNs = elapsed.Nanoseconds() / int64(p.count)
	elapsed = 0

	for i, base := range bases {
		start := time.Now()
		err := tree.Delete(base, base+p.width)
		elapsed += time.Since(start)

		if err != nil {
			return nil, fmt.Errorf("delete #%d: %w", i, err)
		}
	}

	report.DeleteAvgNs = elapsed.Nanoseconds() / int64(p.count)

	if err := tree.Validate(); err != nil {
		return nil, err
	}

	rt.logger.InfoContext(ctx, "bench finished",
		"count", p.count,
		"insert_avg_ns", report.InsertAvgNs,
		"depth", report.Depth,
		"bound", report.DepthBound,
	)

	return report, nil
}

// table renders the report for terminal output.
func (r *BenchReport) table() string {
	tbl := newTable("Interval tree benchmark")
	tbl.AppendHeader(table.Row{"Metric", "Value"})
	tbl.AppendRows([]table.Row{
		{"Intervals", humanize.Comma(int64(r.Count))},
		{"Width", humanize.IBytes(r.Width)},
		{"Avg insert", time.Duration(r.InsertAvgNs).String()},
		{"Avg exact find", time.Duration(r.FindAvgNs).String()},
		{"Avg delete", time.Duration(r.DeleteAvgNs).String()},
		{"Depth / bound", fmt.Sprintf("%d / %d", r.Depth, r.DepthBound)},
		{"Pool nodes", humanize.Comma(int64(r.Pool.Allocated))},
		{"Pool slabs", humanize.Comma(int64(r.Pool.Slabs))},
	})

	return tbl.Render()
}

// writeDepthPlot renders depth against the red-black bound as an HTML line chart.
func writeDepthPlot(path string, report *BenchReport) error {
	sizes := make([]string, len(report.Samples))
	depths := make([]opts.LineData, len(report.Samples))
	bounds := make([]opts.LineData, len(report.Samples))

	for i, sample := range report.Samples {
		sizes[i] = strconv.Itoa(sample.Size)
		depths[i] = opts.LineData{Value: sample.Depth}
		bounds[i] = opts.LineData{Value: sample.Bound}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Interval tree depth",
			Subtitle: fmt.Sprintf("%d random intervals, width %s", report.Count, humanize.IBytes(report.Width)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "size"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "levels"}),
	)
	line.SetXAxis(sizes).
		AddSeries("depth", depths).
		AddSeries("2*log2(n+1)", bounds)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, plotFilePerm)
	if err != nil {
		return fmt.Errorf("create plot: %w", err)
	}

	if err := line.Render(file); err != nil {
		_ = file.Close()

		return fmt.Errorf("render plot: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close plot: %w", err)
	}

	return nil
}
