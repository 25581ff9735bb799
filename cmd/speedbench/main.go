package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yourorg/speedbench/internal/client"
	"github.com/yourorg/speedbench/internal/config"
	"github.com/yourorg/speedbench/internal/logging"
	"github.com/yourorg/speedbench/internal/report"
	"github.com/yourorg/speedbench/internal/server"
	"github.com/yourorg/speedbench/internal/session"
	"github.com/yourorg/speedbench/internal/store"
	"github.com/yourorg/speedbench/pkg/types"
)

const defaultConfigContent = `optimizer:
  provider: "http"            # http | gemini
  base_url: "http://localhost:8080"
  variant: "input"            # input | deploy
  api_key: ""                 # gemini only, or GEMINI_API_KEY
  models:
    - gemini-1.5-pro
    - gemini-2.5-flash
  timeout: 120s
  max_retries: 0
  cache_size: 0

executor:
  base_url: ""                # defaults to optimizer.base_url
  variant: "bare"             # bare | source
  timeout: 5m

cluster:
  worker_count: 4

session:
  min_source_length: 5
  clear_artifact_on_edit: true

store:
  driver: "sqlite"            # sqlite | redis | none
  path: ""                    # defaults to ~/.speedbench/speedbench.db
  redis_addr: "localhost:6379"
  redis_db: 0

server:
  host: "127.0.0.1"
  port: 3000
  allow_origin: "*"

log:
  level: "info"
  format: "text"
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	cfgPath string
	debug   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "speedbench",
		Short:         "Optimize a program for a cluster and benchmark it against a single worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgPath, "config", "", "config file path")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug output")

	root.AddCommand(newInitCmd())
	root.AddCommand(newOptimizeCmd(opts))
	root.AddCommand(newBenchCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newHistoryCmd(opts))

	return root
}

// load reads the config and builds the logger every command shares.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if o.debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Log, cmd.ErrOrStderr()), nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.speedbench directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseDir, err := config.BaseDir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			cfgFile := filepath.Join(baseDir, "config.yaml")
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			dbPath := filepath.Join(baseDir, "speedbench.db")
			s, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", dbPath)
			fmt.Fprintln(cmd.OutOrStdout(), "please update optimizer.base_url in", cfgFile)
			return nil
		},
	}
}

func newOptimizeCmd(opts *rootOptions) *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Send a program to the optimization service and print the parallel version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			m, err := newMachine(ctx, cfg, logger, cliNotifier(cmd.ErrOrStderr()), nil)
			if err != nil {
				return err
			}
			if err := loadSource(ctx, m, newFileClipboard(in, cmd.InOrStdin(), nil)); err != nil {
				return err
			}
			if err := m.Optimize(ctx); err != nil {
				return err
			}
			return m.Copy(ctx, newFileClipboard(out, nil, cmd.OutOrStdout()))
		},
	}
	cmd.Flags().StringVarP(&in, "file", "f", "-", "source file, - for stdin")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "write the optimized program here, - for stdout")
	return cmd
}

func newBenchCmd(opts *rootOptions) *cobra.Command {
	var in, format string
	var workers int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Optimize a program, run both paths and compare them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Cluster.WorkerCount = workers
			}
			ctx := cmd.Context()

			st, err := store.Open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close()
			}
			rec := &lastRecord{store: st, logger: logger}
			m, err := newMachine(ctx, cfg, logger, cliNotifier(cmd.ErrOrStderr()), rec)
			if err != nil {
				return err
			}

			if err := loadSource(ctx, m, newFileClipboard(in, cmd.InOrStdin(), nil)); err != nil {
				return err
			}
			if err := m.Optimize(ctx); err != nil {
				return err
			}
			if err := runBoth(ctx, m); err != nil {
				return err
			}
			if rec.last == nil {
				s := m.Snapshot()
				return fmt.Errorf("no comparison: single %.4fs (%s), cluster %.4fs (%s)",
					s.Single.ElapsedSeconds, s.Single.ResultSummary, s.Cluster.ElapsedSeconds, s.Cluster.ResultSummary)
			}
			data, _, err := report.Render(rec.last, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&in, "file", "f", "-", "source file, - for stdin")
	cmd.Flags().StringVar(&format, "format", "markdown", "output format: markdown, yaml or json")
	cmd.Flags().IntVar(&workers, "workers", 0, "override cluster.worker_count")
	return cmd
}

// loadSource pastes the program into the session and rejects empty input,
// which would otherwise leave the placeholder in place.
func loadSource(ctx context.Context, m *session.Machine, cb session.Clipboard) error {
	if err := m.Paste(ctx, cb); err != nil {
		return err
	}
	if m.Snapshot().Source == m.Policy().Placeholder {
		return errors.New("no source program given")
	}
	return nil
}

// runBoth starts both paths together and waits for them.
func runBoth(ctx context.Context, m *session.Machine) error {
	var errs []error
	var waits []<-chan error
	for _, mode := range []types.Mode{types.ModeSingle, types.ModeCluster} {
		done, err := m.RunAsync(ctx, mode)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		waits = append(waits, done)
	}
	for _, done := range waits {
		if err := <-done; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := store.Open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			var recorder session.Recorder
			if st != nil {
				defer st.Close()
				recorder = store.Recorder{Store: st, Logger: logger}
			}
			inbox := server.NewInbox(session.LogNotifier{Logger: logger}.Notify)
			m, err := newMachine(ctx, cfg, logger, inbox, recorder)
			if err != nil {
				return err
			}
			srv, err := server.New(cfg, m, st, inbox, logger)
			if err != nil {
				return err
			}
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			logger.Info("listening", "addr", addr)
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVar(&port, "port", 3000, "server port")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Inspect recorded benchmarks"}
	cmd.AddCommand(newHistoryListCmd(opts))
	cmd.AddCommand(newHistoryShowCmd(opts))
	cmd.AddCommand(newHistoryDeleteCmd(opts))
	return cmd
}

func (o *rootOptions) openStore(cmd *cobra.Command) (store.Store, error) {
	cfg, _, err := o.load(cmd)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("history is disabled (store.driver: none)")
	}
	return st, nil
}

func newHistoryListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded benchmarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			recs, err := st.ListBenchmarks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSINGLE(s)\tCLUSTER(s)\tWORKERS\tSPEEDUP\tEFFICIENCY")
			for _, r := range recs {
				c := r.Comparison
				fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%d\t%.2fx\t%.1f%%\n",
					r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), c.SingleSeconds, c.ClusterSeconds, c.WorkerCount, c.Speedup, c.Efficiency)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records, 0 for all")
	return cmd
}

func newHistoryShowCmd(opts *rootOptions) *cobra.Command {
	var format, outDir string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one benchmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			rec, err := st.GetBenchmark(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outDir != "" {
				path, err := report.WriteFile(rec, format, outDir)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
				return nil
			}
			data, _, err := report.Render(rec, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "output format: markdown, yaml or json")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "write the report into this directory instead of stdout")
	return cmd
}

func newHistoryDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one benchmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.DeleteBenchmark(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
}

func newMachine(ctx context.Context, cfg *config.Config, logger *slog.Logger, n session.Notifier, r session.Recorder) (*session.Machine, error) {
	opt, err := client.NewOptimizer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return session.New(opt, client.NewExecutor(cfg, logger), session.Options{
		Policy:          session.PolicyFromConfig(cfg),
		OptimizeTimeout: cfg.Optimizer.Timeout,
		RunTimeout:      cfg.Executor.Timeout,
		Notifier:        n,
		Recorder:        r,
		Logger:          logger,
	}), nil
}

func cliNotifier(w io.Writer) session.Notifier {
	return session.NotifierFunc(func(n types.Notification) {
		if n.Level == types.LevelInfo {
			return
		}
		fmt.Fprintf(w, "%s: %s\n", n.Level, n.Message)
	})
}

// lastRecord saves each comparison when a store is configured and keeps
// the newest one for printing.
type lastRecord struct {
	store  store.Store
	logger *slog.Logger
	last   *types.BenchmarkRecord
}

func (l *lastRecord) Record(ctx context.Context, rec types.BenchmarkRecord) error {
	if l.store != nil {
		if err := l.store.SaveBenchmark(ctx, &rec); err != nil {
			return err
		}
		l.logger.Info("benchmark recorded", "id", rec.ID)
	}
	l.last = &rec
	return nil
}
