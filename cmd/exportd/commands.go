package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/export"
	"github.com/xraph/export/analytics"
	"github.com/xraph/export/engine"
	"github.com/xraph/export/id"
	"github.com/xraph/export/job"
	memqueue "github.com/xraph/export/queue/memory"
	"github.com/xraph/export/worker"
)

// cli carries state shared by every sub-command.
type cli struct {
	v          *viper.Viper
	configPath string
	settings   *settings
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: newViper()}

	root := &cobra.Command{
		Use:           "exportd",
		Short:         "Analytics export engine and delivery worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ./exportd.yaml)")

	root.AddCommand(
		c.newExportCmd(),
		c.newStatusCmd(),
		c.newListCmd(),
		c.newWorkerCmd(),
		c.newVerifyCmd(),
		c.newSeedCmd(),
		c.newMigrateCmd(),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	if err := readConfigFile(c.v, c.configPath); err != nil {
		return err
	}
	s, err := loadSettings(c.v)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), s.Log)
	if err != nil {
		return err
	}
	c.settings = s
	c.logger = logger
	return nil
}

func (c *cli) open(ctx context.Context) (*app, error) {
	return newApp(ctx, c.settings, c.logger)
}

// ──────────────────────────────────────────────────
// export
// ──────────────────────────────────────────────────

func (c *cli) newExportCmd() *cobra.Command {
	var (
		tenantID     string
		actorID      string
		from, to     string
		mode         string
		minWave      int
		format       string
		webhookURL   string
		schedule     string
		sessionsFile string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Create an export job",
		Long: `Create an export job for a tenant. Small exports complete inline;
larger ones are queued. With the in-process memory queue the command
also runs the worker and waits for the queued job to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			filters, err := buildFilters(from, to, mode, minWave, format, webhookURL, schedule)
			if err != nil {
				return err
			}

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionsFile != "" {
				if _, err := loadSessionsFile(ctx, a.store, tenantID, sessionsFile); err != nil {
					return err
				}
			}

			// The memory queue only reaches workers inside this process.
			mq, inProcess := a.queue.(*memqueue.Queue)
			var rt *worker.Runtime
			if inProcess {
				rt = a.newRuntime()
				if err := rt.Start(ctx); err != nil {
					return err
				}
				defer rt.Stop(context.Background()) //nolint:errcheck // best-effort on exit
			}

			res, err := a.engine.CreateExportJob(ctx, tenantID, filters, engine.AuthContext{ActorID: actorID})
			if err != nil {
				if res != nil {
					// The job completed; only its delivery failed.
					_ = writeJSON(cmd.OutOrStdout(), res)
				}
				return err
			}
			if !inProcess || res.Status != job.StatusQueued {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			mq.Wait()
			view, err := a.engine.GetJobStatus(ctx, tenantID, res.JobID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), view)
		},
	}

	f := cmd.Flags()
	f.StringVar(&tenantID, "tenant", "", "tenant ID (required)")
	f.StringVar(&actorID, "actor", "", "actor ID recorded in the audit trail")
	f.StringVar(&from, "from", "", "range start, RFC 3339 (required)")
	f.StringVar(&to, "to", "", "range end, RFC 3339 (required)")
	f.StringVar(&mode, "mode", "", "game mode filter")
	f.IntVar(&minWave, "min-wave", 0, "minimum completed wave")
	f.StringVar(&format, "format", string(export.FormatCSV), "artifact format: csv or json")
	f.StringVar(&webhookURL, "webhook", "", "deliver the download link to this URL")
	f.StringVar(&schedule, "schedule", "", "5-field cron expression for recurring webhook delivery")
	f.StringVar(&sessionsFile, "sessions", "", "JSON file of sessions to load before exporting")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// buildFilters plays the role of the request validation layer.
func buildFilters(from, to, mode string, minWave int, format, webhookURL, schedule string) (*export.Filters, error) {
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return nil, export.NewValidationError("from", err.Error())
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return nil, export.NewValidationError("to", err.Error())
	}

	delivery := export.Delivery{Type: export.DeliveryImmediate}
	if webhookURL != "" {
		delivery = export.Delivery{Type: export.DeliveryWebhook, WebhookURL: webhookURL, Schedule: schedule}
	} else if schedule != "" {
		return nil, export.NewValidationError("schedule", "requires --webhook")
	}

	f := &export.Filters{
		RangeStart:       start.UTC(),
		RangeEnd:         end.UTC(),
		GameMode:         mode,
		MinCompletedWave: minWave,
		Format:           export.Format(format),
		Delivery:         delivery,
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// ──────────────────────────────────────────────────
// status / list
// ──────────────────────────────────────────────────

func (c *cli) newStatusCmd() *cobra.Command {
	var (
		tenantID string
		jobID    string
		history  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of an export job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			jID, err := id.ParseExportID(jobID)
			if err != nil {
				return export.NewValidationError("job", err.Error())
			}

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.engine.GetJobStatus(ctx, tenantID, jID)
			if err != nil {
				return err
			}
			if view == nil {
				return fmt.Errorf("%w: %s", export.ErrJobNotFound, jID)
			}
			if !history {
				return writeJSON(cmd.OutOrStdout(), view)
			}

			entries, err := a.engine.History(ctx, tenantID, jID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"job": view, "history": entries})
		},
	}

	f := cmd.Flags()
	f.StringVar(&tenantID, "tenant", "", "tenant ID (required)")
	f.StringVar(&jobID, "job", "", "export job ID (required)")
	f.BoolVar(&history, "history", false, "include the audit trail")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func (c *cli) newListCmd() *cobra.Command {
	var (
		tenantID string
		status   string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's export jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			views, err := a.engine.ListJobs(ctx, tenantID, job.ListOpts{
				Status: job.Status(status),
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), views)
		},
	}

	f := cmd.Flags()
	f.StringVar(&tenantID, "tenant", "", "tenant ID (required)")
	f.StringVar(&status, "status", "", "only jobs in this status")
	f.IntVar(&limit, "limit", 50, "maximum number of jobs")
	f.IntVar(&offset, "offset", 0, "number of jobs to skip")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// ──────────────────────────────────────────────────
// worker
// ──────────────────────────────────────────────────

func (c *cli) newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Drain the delivery queue and fire scheduled webhooks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return c.runWorker(ctx, a)
		},
	}
}

// runWorker runs the queue runtime and, when configured, the schedule
// ticker until ctx is done, then stops both within the shutdown timeout.
func (c *cli) runWorker(ctx context.Context, a *app) error {
	rt := a.newRuntime()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := rt.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), c.settings.ShutdownTimeout)
		defer cancel()
		return rt.Stop(stopCtx)
	})

	if a.scheduler != nil {
		g.Go(func() error {
			if err := a.scheduler.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			return a.scheduler.Stop(context.Background())
		})
	}

	c.logger.Info("exportd: worker running",
		slog.String("queue", c.settings.Queue.Driver),
		slog.String("store", c.settings.Store.Driver),
		slog.Bool("scheduler", a.scheduler != nil),
	)
	return g.Wait()
}

// ──────────────────────────────────────────────────
// verify
// ──────────────────────────────────────────────────

func (c *cli) newVerifyCmd() *cobra.Command {
	var fetch bool

	cmd := &cobra.Command{
		Use:   "verify <download-url>",
		Short: "Verify a signed download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			grant, err := a.signer.Verify(args[0], time.Now())
			if err != nil {
				return err
			}
			if !fetch {
				return writeJSON(cmd.OutOrStdout(), grant)
			}

			rc, err := a.artifacts.Bucket().Get(ctx, grant.Key())
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(cmd.OutOrStdout(), rc)
			return err
		},
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "write the artifact to stdout instead of the grant")
	return cmd
}

// ──────────────────────────────────────────────────
// seed / migrate
// ──────────────────────────────────────────────────

func (c *cli) newSeedCmd() *cobra.Command {
	var (
		tenantID string
		file     string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load gameplay sessions from a JSON file into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := loadSessionsFile(ctx, a.store, tenantID, file)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"tenantId": tenantID, "loaded": n})
		},
	}

	f := cmd.Flags()
	f.StringVar(&tenantID, "tenant", "", "tenant ID (required)")
	f.StringVar(&file, "file", "", "JSON array of session records (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c.settings.Store.AutoMigrate = true
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			c.logger.Info("exportd: migrations applied", slog.String("store", c.settings.Store.Driver))
			return nil
		},
	}
}

// ──────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────

// loadSessionsFile reads a JSON array of session records, in any of the
// field spellings Normalize accepts, and loads it for tenantID.
func loadSessionsFile(ctx context.Context, l analytics.Loader, tenantID, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read sessions: %w", err)
	}
	var raw []analytics.RawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("decode sessions: %w", err)
	}
	return l.LoadSessions(ctx, tenantID, analytics.Normalize(raw))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
