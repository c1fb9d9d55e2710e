package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Sumatoshi-tech/ivtree/pkg/ivtree"
	"github.com/Sumatoshi-tech/ivtree/pkg/observability"
	"github.com/Sumatoshi-tech/ivtree/pkg/oplog"
)

const (
	stressCmdUse   = "stress"
	stressCmdShort = "Randomized insert/delete with concurrent readers and invariant checks"

	stressOpsFlag      = "ops"
	stressReadersFlag  = "readers"
	stressSeedFlag     = "seed"
	stressKeySpaceFlag = "key-space"
	stressMaxWidthFlag = "max-width"
	stressValidateFlag = "validate-every"
	stressRecordFlag   = "record"
	stressMetricsFlag  = "metrics-addr"

	metricsPath        = "/metrics"
	recordFilePerm     = 0o600
	readHeaderTimeout  = 5 * time.Second
	serverStopTimeout  = 5 * time.Second
	stressDeleteChance = 3
	readerSeedStride   = 0x9e3779b97f4a7c15
)

// ErrDepthBound is returned when the tree grows deeper than 2*log2(n+1).
var ErrDepthBound = errors.New("tree depth exceeds red-black bound")

// StressReport summarizes one stress run.
type StressReport struct {
	Ops         int    `json:"ops"                 yaml:"ops"`
	Inserts     int    `json:"inserts"             yaml:"inserts"`
	Deletes     int    `json:"deletes"             yaml:"deletes"`
	Reads       int64  `json:"reads"               yaml:"reads"`
	Validations int    `json:"validations"         yaml:"validations"`
	Size        int    `json:"size"                yaml:"size"`
	Depth       int    `json:"depth"               yaml:"depth"`
	DepthBound  int    `json:"depth_bound"         yaml:"depth_bound"`
	DurationMs  int64  `json:"duration_ms"         yaml:"duration_ms"`
	Record      string `json:"record,omitempty"    yaml:"record,omitempty"`
	Failure     string `json:"failure,omitempty"   yaml:"failure,omitempty"`
}

type stressParams struct {
	ops           int
	readers       int
	seed          uint64
	keySpace      uint64
	maxWidth      uint64
	validateEvery int
	record        string
	metricsAddr   string
	format        string
}

// NewStressCommand creates the stress subcommand.
func NewStressCommand() *cobra.Command {
	var params stressParams

	cmd := &cobra.Command{
		Use:   stressCmdUse,
		Short: stressCmdShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(params.format); err != nil {
				return err
			}

			rt, err := openSession(cmd, observability.ModeStress)
			if err != nil {
				return err
			}

			defer func() { _ = rt.close(context.Background()) }()

			params.applyDefaults(cmd, rt)

			report, runErr := runStress(cmd.Context(), rt, params)
			if report == nil {
				return runErr
			}

			out := cmd.OutOrStdout()

			if err := writeReport(out, params.format, report, report.table); err != nil {
				return errors.Join(runErr, err)
			}

			if params.format == formatTable {
				printVerdict(out, runErr)
			}

			return runErr
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&params.ops, stressOpsFlag, 0, "number of insert/delete operations (default from config)")
	flags.IntVar(&params.readers, stressReadersFlag, 0, "concurrent reader goroutines (default from config)")
	flags.Uint64Var(&params.seed, stressSeedFlag, 0, "random seed (default from config)")
	flags.Uint64Var(&params.keySpace, stressKeySpaceFlag, 0, "interval lows are drawn from [0, key-space)")
	flags.Uint64Var(&params.maxWidth, stressMaxWidthFlag, 0, "interval widths are drawn from [0, max-width)")
	flags.IntVar(&params.validateEvery, stressValidateFlag, 0, "validate invariants every N operations; 0 only at the end")
	flags.StringVar(&params.record, stressRecordFlag, "", "write the operation log to this file")
	flags.StringVar(&params.metricsAddr, stressMetricsFlag, "", "serve Prometheus metrics on this address while running")
	flags.StringVarP(&params.format, formatFlag, formatFlagShort, formatTable, formatFlagUsage)

	return cmd
}

func (p *stressParams) applyDefaults(cmd *cobra.Command, rt *session) {
	flags := cmd.Flags()
	cfg := rt.cfg.Stress

	if !flags.Changed(stressOpsFlag) {
		p.ops = cfg.Ops
	}

	if !flags.Changed(stressReadersFlag) {
		p.readers = cfg.Readers
	}

	if !flags.Changed(stressSeedFlag) {
		p.seed = cfg.Seed
	}

	if !flags.Changed(stressKeySpaceFlag) {
		p.keySpace = cfg.KeySpace
	}

	if !flags.Changed(stressMaxWidthFlag) {
		p.maxWidth = cfg.MaxWidth
	}

	if !flags.Changed(stressValidateFlag) {
		p.validateEvery = cfg.ValidateEvery
	}

	if !flags.Changed(stressMetricsFlag) {
		p.metricsAddr = rt.cfg.Observability.MetricsAddr
	}
}

// stressWriter owns the single mutating goroutine of a stress run.
type stressWriter struct {
	tree    *ivtree.Tree[uint64]
	rng     *rand.Rand
	log     *oplog.Log
	metrics *observability.TreeMetrics
	params  stressParams
	live    [][2]uint64
	report  *StressReport
}

func runStress(ctx context.Context, rt *session, p stressParams) (*StressReport, error) {
	if p.ops <= 0 || p.readers < 0 || p.keySpace == 0 || p.validateEvery < 0 {
		return nil, fmt.Errorf("%w: ops %d readers %d key space %d validate every %d",
			ivtree.ErrBadParameter, p.ops, p.readers, p.keySpace, p.validateEvery)
	}

	tree := newTree[uint64](rt)
	defer tree.Destroy()

	meter := rt.providers.Meter

	if p.metricsAddr != "" {
		prom, err := observability.NewPrometheusProvider()
		if err != nil {
			return nil, err
		}

		defer func() { _ = prom.Shutdown(context.Background()) }()

		server, err := startMetricsServer(p.metricsAddr, prom.Handler, rt.logger)
		if err != nil {
			return nil, err
		}

		defer stopMetricsServer(server, rt.logger)

		meter = prom.Meter
	}

	metrics, err := observability.NewTreeMetrics(meter, snapshotOf(tree))
	if err != nil {
		return nil, err
	}

	defer func() { _ = metrics.Close() }()

	ctx, span := rt.providers.Tracer.Start(ctx, "ivtree.stress")
	span.SetAttributes(attribute.Int("stress.ops", p.ops), attribute.Int("stress.readers", p.readers))

	defer span.End()

	writer := &stressWriter{
		tree:    tree,
		rng:     rand.New(rand.NewPCG(p.seed, p.seed)), //nolint:gosec // reproducible workload
		log:     oplog.New(),
		metrics: metrics,
		params:  p,
		report:  &StressReport{Ops: p.ops},
	}

	var (
		wg    sync.WaitGroup
		done  atomic.Bool
		reads atomic.Int64
	)

	for idx := range p.readers {
		wg.Add(1)

		go func(seed uint64) {
			defer wg.Done()

			runReader(tree, seed, p.keySpace, &done, &reads)
		}(p.seed + uint64(idx+1)*readerSeedStride)
	}

	start := time.Now()

	var runErr error

	for op := range p.ops {
		if runErr = writer.step(ctx, op); runErr != nil {
			break
		}
	}

	done.Store(true)
	wg.Wait()

	if runErr == nil {
		runErr = writer.check(p.ops)
	}

	report := writer.report
	report.DurationMs = time.Since(start).Milliseconds()
	report.Reads = reads.Load()
	report.Size = tree.Size()
	report.Depth = tree.Depth()
	report.DepthBound = tree.MaxDepth()

	if p.record != "" {
		if err := writeOpLog(p.record, writer.log); err != nil {
			return nil, errors.Join(runErr, err)
		}

		report.Record = p.record
	}

	if runErr != nil {
		report.Failure = runErr.Error()
		rt.logger.ErrorContext(ctx, "stress failed", "error", runErr, "ops_applied", writer.log.Len())

		return report, runErr
	}

	rt.logger.InfoContext(ctx, "stress passed", "ops", p.ops, "reads", report.Reads, "size", report.Size)

	return report, nil
}

// step applies one random insert or delete and validates on schedule.
func (w *stressWriter) step(ctx context.Context, op int) error {
	if len(w.live) == 0 || w.rng.IntN(stressDeleteChance) != 0 {
		low := w.rng.Uint64N(w.params.keySpace)
		width := w.rng.Uint64N(max(w.params.maxWidth, 1))
		high := low + min(width, math.MaxUint64-low)

		start := time.Now()
		err := w.tree.Insert(uint64(op), low, high)
		w.metrics.RecordOp(ctx, "insert", statusOf(err), time.Since(start))

		if err != nil {
			return fmt.Errorf("op %d insert [%d, %d]: %w", op, low, high, err)
		}

		w.log.Append(oplog.Op{Kind: oplog.KindInsert, Low: low, High: high})
		w.live = append(w.live, [2]uint64{low, high})
		w.report.Inserts++
	} else {
		idx := w.rng.IntN(len(w.live))
		victim := w.live[idx]

		start := time.Now()
		err := w.tree.Delete(victim[0], victim[1])
		w.metrics.RecordOp(ctx, "delete", statusOf(err), time.Since(start))

		if err != nil {
			return fmt.Errorf("op %d delete [%d, %d]: %w", op, victim[0], victim[1], err)
		}

		w.log.Append(oplog.Op{Kind: oplog.KindDelete, Low: victim[0], High: victim[1]})
		w.live[idx] = w.live[len(w.live)-1]
		w.live = w.live[:len(w.live)-1]
		w.report.Deletes++
	}

	if every := w.params.validateEvery; every > 0 && (op+1)%every == 0 {
		return w.check(op + 1)
	}

	return nil
}

// check validates invariants, size and the depth bound.
func (w *stressWriter) check(applied int) error {
	w.report.Validations++

	if err := w.tree.Validate(); err != nil {
		return fmt.Errorf("after %d ops: %w", applied, err)
	}

	if size := w.tree.Size(); size != len(w.live) {
		return fmt.Errorf("after %d ops: %w: size %d, expected %d", applied, ivtree.ErrInvariant, size, len(w.live))
	}

	if depth, bound := w.tree.Depth(), w.tree.MaxDepth(); depth > bound {
		return fmt.Errorf("after %d ops: %w: %d > %d", applied, ErrDepthBound, depth, bound)
	}

	return nil
}

// runReader issues lock-free queries until done is set.
func runReader(tree *ivtree.Tree[uint64], seed, keySpace uint64, done *atomic.Bool, reads *atomic.Int64) {
	rng := rand.New(rand.NewPCG(seed, seed)) //nolint:gosec // reproducible workload

	for !done.Load() {
		point := rng.Uint64N(keySpace)

		tree.QueryPoint(point)
		_, _ = tree.FindContaining(point, point)
		_ = tree.Depth()

		reads.Add(1)
	}
}

// startMetricsServer binds addr and serves handler at /metrics in the background.
func startMetricsServer(addr string, handler http.Handler, logger *slog.Logger) (*http.Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, handler)

	server := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", serveErr)
		}
	}()

	logger.Info("serving metrics", "addr", listener.Addr().String(), "path", metricsPath)

	return server, nil
}

func stopMetricsServer(server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "error", err)
	}
}

// writeOpLog encodes log to path.
func writeOpLog(path string, log *oplog.Log) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, recordFilePerm)
	if err != nil {
		return fmt.Errorf("create op log: %w", err)
	}

	if err := log.Encode(file); err != nil {
		_ = file.Close()

		return fmt.Errorf("encode op log: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close op log: %w", err)
	}

	return nil
}

// table renders the report for terminal output.
func (r *StressReport) table() string {
	tbl := newTable("Interval tree stress run")
	tbl.AppendHeader(table.Row{"Metric", "Value"})
	tbl.AppendRows([]table.Row{
		{"Operations", humanize.Comma(int64(r.Ops))},
		{"Inserts / deletes", fmt.Sprintf("%s / %s", humanize.Comma(int64(r.Inserts)), humanize.Comma(int64(r.Deletes)))},
		{"Concurrent reads", humanize.Comma(r.Reads)},
		{"Validations", humanize.Comma(int64(r.Validations))},
		{"Final size", humanize.Comma(int64(r.Size))},
		{"Depth / bound", fmt.Sprintf("%d / %d", r.Depth, r.DepthBound)},
		{"Duration", (time.Duration(r.DurationMs) * time.Millisecond).String()},
	})

	if r.Record != "" {
		tbl.AppendRow(table.Row{"Op log", r.Record})
	}

	return tbl.Render()
}

// printVerdict writes a colored PASS or FAIL line.
func printVerdict(w io.Writer, err error) {
	if err == nil {
		color.New(color.FgGreen, color.Bold).Fprintln(w, "PASS")

		return
	}

	color.New(color.FgRed, color.Bold).Fprintf(w, "FAIL: %v\n", err)
}
