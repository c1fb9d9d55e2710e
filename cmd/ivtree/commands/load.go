package commands

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/ivtree/pkg/ivtree"
	"github.com/Sumatoshi-tech/ivtree/pkg/observability"
)

const (
	loadCmdUse   = "load <intervals.json>"
	loadCmdShort = "Load intervals from a JSON file and query them"

	loadQueryFlag      = "query"
	loadCompleteFlag   = "complete"
	loadContainingFlag = "containing"

	rangeSeparator = ":"
)

//go:embed intervals.schema.json
var intervalsSchema []byte

// Load errors.
var (
	ErrSchema     = errors.New("interval file does not match schema")
	ErrRangeValue = errors.New("range must be low:high")
)

// IntervalRecord is one interval in a load file.
type IntervalRecord struct {
	Low   uint64 `json:"low"             yaml:"low"`
	High  uint64 `json:"high"            yaml:"high"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

type intervalFile struct {
	Intervals []IntervalRecord `json:"intervals"`
}

// LoadReport lists what a load run found.
type LoadReport struct {
	File    string           `json:"file"            yaml:"file"`
	Loaded  int              `json:"loaded"          yaml:"loaded"`
	Depth   int              `json:"depth"           yaml:"depth"`
	Query   string           `json:"query,omitempty" yaml:"query,omitempty"`
	Matches []IntervalRecord `json:"matches"         yaml:"matches"`
}

type loadParams struct {
	query      string
	complete   bool
	containing string
	format     string
}

// NewLoadCommand creates the load subcommand.
func NewLoadCommand() *cobra.Command {
	var params loadParams

	cmd := &cobra.Command{
		Use:   loadCmdUse,
		Short: loadCmdShort,
		Long: `Load validates a JSON interval file, builds a tree from it and lists intervals.

With --query low:high only intervals overlapping the range are listed, or with
--complete only those the range fully contains. --containing low:high prints the
interval that contains the range.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(params.format); err != nil {
				return err
			}

			if params.query != "" && params.containing != "" {
				return fmt.Errorf("%w: --%s and --%s are exclusive", ivtree.ErrBadParameter, loadQueryFlag, loadContainingFlag)
			}

			rt, err := openSession(cmd, observability.ModeCLI)
			if err != nil {
				return err
			}

			defer func() { _ = rt.close(context.Background()) }()

			report, err := runLoad(rt, args[0], params)
			if err != nil {
				return err
			}

			return writeReport(cmd.OutOrStdout(), params.format, report, report.table)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&params.query, loadQueryFlag, "", "list intervals overlapping low:high")
	flags.BoolVar(&params.complete, loadCompleteFlag, false, "with --query, list only intervals inside the range")
	flags.StringVar(&params.containing, loadContainingFlag, "", "print the interval containing low:high")
	flags.StringVarP(&params.format, formatFlag, formatFlagShort, formatTable, formatFlagUsage)

	return cmd
}

func runLoad(rt *session, path string, p loadParams) (*LoadReport, error) {
	records, err := readIntervals(path)
	if err != nil {
		return nil, err
	}

	tree := newTree[string](rt)
	defer tree.Destroy()

	for idx, rec := range records {
		if err := tree.Insert(rec.Label, rec.Low, rec.High); err != nil {
			return nil, fmt.Errorf("interval %d [%d, %d]: %w", idx, rec.Low, rec.High, err)
		}
	}

	rt.logger.Debug("intervals loaded", "file", path, "count", len(records), "depth", tree.Depth())

	report := &LoadReport{File: path, Loaded: tree.Size(), Depth: tree.Depth(), Matches: []IntervalRecord{}}

	collect := func(low, high uint64, label string) {
		report.Matches = append(report.Matches, IntervalRecord{Low: low, High: high, Label: label})
	}

	switch {
	case p.containing != "":
		low, high, err := parseRange(p.containing)
		if err != nil {
			return nil, err
		}

		report.Query = "containing " + p.containing

		entry, err := tree.FindContaining(low, high)

		switch {
		case errors.Is(err, ivtree.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			collect(entry.Low, entry.High, entry.Value)
		}
	case p.query != "":
		low, high, err := parseRange(p.query)
		if err != nil {
			return nil, err
		}

		report.Query = "overlapping " + p.query
		if p.complete {
			report.Query = "inside " + p.query
		}

		if err := tree.Traverse(low, high, p.complete, collect); err != nil {
			return nil, err
		}
	default:
		if err := tree.Traverse(0, math.MaxUint64, false, collect); err != nil {
			return nil, err
		}
	}

	return report, nil
}

// readIntervals validates path against the embedded schema and decodes it.
func readIntervals(path string) ([]IntervalRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intervals: %w", err)
	}

	var document any

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(&document); err != nil {
		return nil, fmt.Errorf("%s: invalid JSON: %w", path, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(intervalsSchema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", verr.Field(), verr.Description()))
		}

		return nil, fmt.Errorf("%w: %s", ErrSchema, strings.Join(problems, "; "))
	}

	var file intervalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return file.Intervals, nil
}

// parseRange parses "low:high" into its bounds.
func parseRange(value string) (low, high uint64, err error) {
	lowText, highText, ok := strings.Cut(value, rangeSeparator)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrRangeValue, value)
	}

	low, err = strconv.ParseUint(strings.TrimSpace(lowText), 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %w", ErrRangeValue, value, err)
	}

	high, err = strconv.ParseUint(strings.TrimSpace(highText), 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %w", ErrRangeValue, value, err)
	}

	if low > high {
		return 0, 0, fmt.Errorf("%w: %q: %w", ErrRangeValue, value, ivtree.ErrBadParameter)
	}

	return low, high, nil
}

// table renders a summary block followed by the matching intervals. Titles
// wrap to the table width, so paths and queries go in cells.
func (r *LoadReport) table() string {
	summary := newTable("Interval set")
	summary.AppendHeader(table.Row{"Metric", "Value"})
	summary.AppendRows([]table.Row{
		{"File", r.File},
		{"Intervals", humanize.Comma(int64(r.Loaded))},
		{"Depth", r.Depth},
	})

	if r.Query != "" {
		summary.AppendRow(table.Row{"Query", r.Query})
	}

	matches := newTable("Matches")
	matches.AppendHeader(table.Row{"Low", "High", "Label"})

	for _, rec := range r.Matches {
		matches.AppendRow(table.Row{fmt.Sprintf("%#x", rec.Low), fmt.Sprintf("%#x", rec.High), rec.Label})
	}

	matches.AppendFooter(table.Row{"", "Total", len(r.Matches)})

	return summary.Render() + "\n\n" + matches.Render()
}
