package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/exitshim/internal/cgroups"
	"github.com/psantana5/exitshim/internal/harness"
	"github.com/psantana5/exitshim/internal/observe"
	"github.com/psantana5/exitshim/internal/report"
	"github.com/psantana5/exitshim/internal/server"
	"github.com/psantana5/exitshim/pkg/auth"
	"github.com/psantana5/exitshim/pkg/logging"
	"github.com/psantana5/exitshim/pkg/shutdown"
	"github.com/psantana5/exitshim/pkg/store"
	shimtls "github.com/psantana5/exitshim/pkg/tls"
	"github.com/psantana5/exitshim/pkg/tracing"
)

var (
	runEntry  string
	runCorpus string
	runIntent string
)

var runCmd = &cobra.Command{
	Use:   "run --entry <name> --corpus <dir> [-- args...]",
	Short: "Drive an entry point over a fuzz corpus",
	Long: `Run calls a registered entry point once per corpus input inside this
process. Termination requests made by the entry point are intercepted and
recorded with their status; the harness keeps going.

Arguments after -- follow argv[0]; "@@" is replaced by the input path, which
is appended when no "@@" is given.

Example:
  exitshim run --entry demo --corpus ./corpus
  exitshim run --entry demo --corpus ./corpus --max-iterations 100000 -- -v @@
  exitshim run --entry demo --corpus ./corpus --store results.db --listen :9400`,
	RunE: runCampaign,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runEntry, "entry", "", "registered entry point to drive (required)")
	runCmd.Flags().StringVar(&runCorpus, "corpus", "", "directory of inputs (required)")
	runCmd.Flags().StringVar(&runIntent, "intent", "", "label stored with every result")
	runCmd.Flags().Int("max-iterations", 0, "iterations to run, cycling over the corpus (0 = each input once)")
	runCmd.Flags().Float64("execs-per-second", 0, "iteration rate limit (0 = unlimited)")
	runCmd.Flags().String("work-dir", "", "directory for temporary input files")
	runCmd.Flags().String("listen", "", "serve /metrics and /interceptions on this address")
	runCmd.Flags().String("tls-cert", "", "serve the observation endpoint over TLS with this certificate")
	runCmd.Flags().String("tls-key", "", "private key for --tls-cert")
	runCmd.Flags().String("tls-client-ca", "", "require client certificates signed by this CA")
	runCmd.Flags().Bool("tls-self-signed", false, "serve TLS with a generated self-signed certificate")
	runCmd.Flags().Int64("memory-limit", 0, "confine the harness to this many MB (cgroups, best effort)")
	runCmd.Flags().Int("cpu-quota", 0, "confine the harness to this percentage of one CPU (cgroups v2)")
	runCmd.Flags().Int("cpu-weight", 0, "cgroup CPU weight 1-10000")
	runCmd.MarkFlagRequired("entry")
	runCmd.MarkFlagRequired("corpus")

	viper.BindPFlag("run.max_iterations", runCmd.Flags().Lookup("max-iterations"))
	viper.BindPFlag("run.execs_per_second", runCmd.Flags().Lookup("execs-per-second"))
	viper.BindPFlag("run.work_dir", runCmd.Flags().Lookup("work-dir"))
	viper.BindPFlag("server.addr", runCmd.Flags().Lookup("listen"))
	viper.BindPFlag("server.tls_cert", runCmd.Flags().Lookup("tls-cert"))
	viper.BindPFlag("server.tls_key", runCmd.Flags().Lookup("tls-key"))
	viper.BindPFlag("server.tls_client_ca", runCmd.Flags().Lookup("tls-client-ca"))
	viper.BindPFlag("server.tls_self_signed", runCmd.Flags().Lookup("tls-self-signed"))
	viper.BindPFlag("run.memory_limit_mb", runCmd.Flags().Lookup("memory-limit"))
	viper.BindPFlag("run.cpu_quota", runCmd.Flags().Lookup("cpu-quota"))
	viper.BindPFlag("run.cpu_weight", runCmd.Flags().Lookup("cpu-weight"))
}

func runCampaign(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd, "harness")
	if err != nil {
		return err
	}
	defer logger.Close()

	shut := shutdown.New(10*time.Second, logger)
	defer shut.Shutdown()

	ctx, stop := shut.WithSignals(cmd.Context())
	defer stop()

	confine(shut, logger)

	corpus, err := harness.LoadCorpus(runCorpus)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, viper.GetString("store.dsn"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	shut.Register("store", shutdown.CloseResource(st))

	pruner := store.NewPruner(store.RetentionConfig{
		MaxAge:   viper.GetDuration("store.retention"),
		Interval: viper.GetDuration("store.prune_interval"),
	}, st, logger)
	pruner.Start(ctx)
	shut.Register("pruner", func(context.Context) error {
		pruner.Stop()
		return nil
	})

	tracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "exitshim",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   viper.GetString("tracing.endpoint"),
		Enabled:        viper.GetBool("tracing.enabled"),
		SampleRatio:    viper.GetFloat64("tracing.sample_ratio"),
	})
	if err != nil {
		return err
	}
	shut.Register("tracer", tracer.Shutdown)

	metrics := report.NewMetrics()
	recent := report.NewInterceptionLog(viper.GetInt("run.recent"))
	opts := []harness.Option{
		harness.WithStore(st),
		harness.WithMetrics(metrics),
		harness.WithInterceptionLog(recent),
		harness.WithLogger(logger),
		harness.WithTracer(tracer),
	}
	if sampler, err := observe.NewMemorySampler(); err == nil {
		opts = append(opts, harness.WithMemorySampler(sampler))
	} else {
		logger.Warn("memory sampling disabled", logging.Fields{"error": err.Error()})
	}

	h, err := harness.New(harness.Config{
		Entry:          runEntry,
		Args:           args,
		MaxIterations:  viper.GetInt("run.max_iterations"),
		ExecsPerSecond: viper.GetFloat64("run.execs_per_second"),
		WorkDir:        viper.GetString("run.work_dir"),
		Intent:         runIntent,
		RecentSize:     viper.GetInt("run.recent"),
	}, opts...)
	if err != nil {
		return err
	}

	if addr := viper.GetString("server.addr"); addr != "" {
		obs := server.New(metrics, recent, st, logger)
		keys, err := apiKeys()
		if err != nil {
			return err
		}
		obs.RequireKeys(keys)
		srv := obs.HTTPServer(addr)
		tlsCfg, err := serverTLS()
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
		shut.Register("server", shutdown.StopHTTPServer(srv))
		go func() {
			logger.Info("Observation server listening", logging.Fields{"addr": addr, "tls": tlsCfg != nil})
			var err error
			if tlsCfg != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				logger.Error("Observation server error", logging.Fields{"error": err.Error()})
			}
		}()
	}

	summary, err := h.Run(ctx, corpus)
	if summary != nil {
		if werr := writeSummary(cmd.OutOrStdout(), summary); werr != nil {
			return werr
		}
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("Run interrupted", logging.Fields{"run": h.RunID()})
		return nil
	}
	return err
}

// apiKeys collects server.api_keys (plaintext) and server.api_key_hashes
// (bcrypt, from "exitshim keygen").
func apiKeys() (*auth.KeySet, error) {
	keys := auth.NewKeySet()
	for _, k := range viper.GetStringSlice("server.api_keys") {
		if err := keys.Add(k); err != nil {
			return nil, err
		}
	}
	for _, h := range viper.GetStringSlice("server.api_key_hashes") {
		if err := keys.AddHash(h); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// serverTLS returns the observation server's TLS config, nil for plain HTTP.
func serverTLS() (*tls.Config, error) {
	cfg := shimtls.Config{
		CertFile:     viper.GetString("server.tls_cert"),
		KeyFile:      viper.GetString("server.tls_key"),
		ClientCAFile: viper.GetString("server.tls_client_ca"),
	}
	if !cfg.Enabled() && viper.GetBool("server.tls_self_signed") {
		dir := viper.GetString("run.work_dir")
		if dir == "" {
			dir = os.TempDir()
		}
		generated, err := shimtls.SelfSigned(dir, "exitshim")
		if err != nil {
			return nil, err
		}
		generated.ClientCAFile = cfg.ClientCAFile
		cfg = generated
	}
	if !cfg.Enabled() {
		return nil, nil
	}
	return shimtls.ServerConfig(cfg)
}

// confine places the harness in a cgroup of its own when limits are
// configured. Failure only costs the limits.
func confine(shut *shutdown.Manager, logger *logging.Logger) {
	limits := cgroups.Limits{
		CPUMax:    cgroups.CPUMaxPercent(viper.GetInt("run.cpu_quota")),
		CPUWeight: viper.GetInt("run.cpu_weight"),
		MemoryMax: viper.GetInt64("run.memory_limit_mb") << 20,
	}
	if limits.IsZero() {
		return
	}

	name := fmt.Sprintf("%s-%d", runEntry, os.Getpid())
	c, err := cgroups.New().Confine(name, os.Getpid(), limits)
	switch {
	case err != nil:
		logger.Warn("cgroup confinement failed, running unconfined", logging.Fields{"error": err.Error()})
	case c == nil:
		logger.Warn("cgroups not writable, running unconfined", nil)
	default:
		logger.Info("harness confined", logging.Fields{"cgroup": c.Path, "memory_max": limits.MemoryMax})
		shut.Register("cgroup", func(ctx context.Context) error { return c.Release() })
	}
}

func writeSummary(w io.Writer, s *report.Summary) error {
	switch {
	case IsJSONOutput():
		return s.WriteJSON(w)
	case IsYAMLOutput():
		return s.WriteYAML(w)
	}
	return s.WriteTable(w)
}
