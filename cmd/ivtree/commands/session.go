package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/ivtree/pkg/config"
	"github.com/Sumatoshi-tech/ivtree/pkg/ivtree"
	"github.com/Sumatoshi-tech/ivtree/pkg/observability"
	"github.com/Sumatoshi-tech/ivtree/pkg/version"
)

// Operation status labels used in metrics and reports.
const (
	statusOK            = "ok"
	statusNotFound      = "not_found"
	statusBadParameter  = "bad_parameter"
	statusOutOfResource = "out_of_resource"
	statusError         = "error"
)

// session bundles what every tree command needs.
type session struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
}

// openSession loads configuration and starts telemetry for one command run.
func openSession(cmd *cobra.Command, mode observability.AppMode) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, err := observability.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	if verbose, _ := cmd.Flags().GetBool(verboseFlag); verbose {
		level = slog.LevelDebug
	}

	if quiet, _ := cmd.Flags().GetBool(quietFlag); quiet {
		level = slog.LevelError
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceName = cfg.Observability.ServiceName
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Observability.Environment
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Observability.OTLPInsecure
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.OTLPHeaders)
	obsCfg.SampleRatio = cfg.Observability.SampleRatio
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Logging.Format == "json"

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	slog.SetDefault(providers.Logger)

	return &session{cfg: cfg, providers: providers, logger: providers.Logger}, nil
}

// loadConfig reads the file named by the persistent --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString(configFlag)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}

// close flushes telemetry.
func (rt *session) close(ctx context.Context) error {
	if err := rt.providers.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown observability: %w", err)
	}

	return nil
}

// newTree creates a tree sized by the pool configuration.
func newTree[V any](rt *session) *ivtree.Tree[V] {
	return ivtree.New[V](
		ivtree.WithNodesPerAlloc(rt.cfg.Pool.NodesPerAlloc),
		ivtree.WithMaxNodes(rt.cfg.Pool.MaxNodes),
		ivtree.WithLogger(rt.logger),
	)
}

// snapshotOf adapts tree stats to the metrics gauge view.
func snapshotOf[V any](tree *ivtree.Tree[V]) func() observability.TreeSnapshot {
	return func() observability.TreeSnapshot {
		stats := tree.Stats()

		return observability.TreeSnapshot{
			Size:           stats.Size,
			PoolAllocated:  stats.Pool.Allocated,
			PoolInUse:      stats.Pool.InUse,
			RetiredPending: stats.RetiredPending,
		}
	}
}

// statusOf maps a tree error to its metric status label.
func statusOf(err error) string {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, ivtree.ErrNotFound):
		return statusNotFound
	case errors.Is(err, ivtree.ErrBadParameter):
		return statusBadParameter
	case errors.Is(err, ivtree.ErrOutOfResource):
		return statusOutOfResource
	default:
		return statusError
	}
}
