package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"sequelacore/internal/blob"
	"sequelacore/internal/config"
	"sequelacore/internal/core"
	"sequelacore/internal/metrics"
	"sequelacore/internal/platform/logger"
	"sequelacore/pkg/domain"
)

// app carries the state shared by every subcommand for one invocation.
type app struct {
	configPath  string
	logMode     string
	trace       bool
	showMetrics bool

	cfg      *config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	svc      *core.Service
	closer   io.Closer
}

// run executes one invocation and always releases the store, including when
// the subcommand fails.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	err := rootCmd.Execute()
	return errors.Join(err, a.close(stderr))
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sequelactl",
		Short: "Manage sequela hierarchies, rei rows and set versions",
		Long: `sequelactl applies request documents to the sequela store and runs
version maintenance: activation, backfill, validation and export.

Storage and blob backends are configured through a YAML file and
SEQUELACORE_* environment variables.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "sequelacore.yaml", "Path to the YAML config file; a missing file is ignored")
	rootCmd.PersistentFlags().StringVar(&a.logMode, "log-mode", "", "Log mode: development, production or off (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&a.trace, "trace", false, "Write one JSON trace line per operation to stderr")
	rootCmd.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "Print Prometheus metrics to stderr on exit")

	rootCmd.AddCommand(
		newApplyCmd(a),
		newActivateCmd(a),
		newBackfillCmd(a),
		newAddVersionCmd(a),
		newExportCmd(a),
		newValidateCmd(a),
	)
	return rootCmd
}

func (a *app) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadDefault(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	mode := cfg.LogMode
	if a.logMode != "" {
		mode = a.logMode
	}
	if strings.EqualFold(mode, "off") {
		a.log = logger.Nop()
	} else if a.log, err = logger.New(mode); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx := cmd.Context()
	store, closer, err := core.OpenPersistentStore(ctx, cfg, core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	a.closer = closer

	a.registry = prometheus.NewRegistry()
	opts := []core.Option{
		core.WithLogger(a.log.With("driver", cfg.Storage.Driver)),
		core.WithMetricsRecorder(metrics.NewRecorder(a.registry)),
		core.WithDefaultRound(cfg.DefaultRoundID),
	}
	if a.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(cmd.ErrOrStderr())))
	}
	a.svc = core.NewService(store, opts...)
	return nil
}

// blobs opens the export blob store on first use so that commands which never
// export do not create directories or dial S3.
func (a *app) blobs(ctx context.Context) error {
	b, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return fmt.Errorf("open %s blob store: %w", a.cfg.Blob.Driver, err)
	}
	core.WithBlobStore(b)(a.svc)
	return nil
}

func (a *app) close(stderr io.Writer) error {
	var errs []error
	if a.showMetrics && a.registry != nil {
		errs = append(errs, writeMetrics(stderr, a.registry))
	}
	if a.closer != nil {
		errs = append(errs, a.closer.Close())
		a.closer = nil
	}
	if a.log != nil {
		a.log.Sync()
	}
	return errors.Join(errs...)
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func printViolations(w io.Writer, res domain.Result) {
	for _, v := range res.Violations {
		fmt.Fprintf(w, "%s %s: %s (%s %s)\n", strings.ToUpper(string(v.Severity)), v.Rule, v.Message, v.Entity, v.EntityID)
	}
}

