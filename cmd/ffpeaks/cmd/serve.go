package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/ffpeaks/internal/config"
	"github.com/jmylchreest/ffpeaks/internal/events"
	internalhttp "github.com/jmylchreest/ffpeaks/internal/http"
	"github.com/jmylchreest/ffpeaks/internal/http/handlers"
	"github.com/jmylchreest/ffpeaks/internal/repository"
	"github.com/jmylchreest/ffpeaks/internal/scheduler"
	"github.com/jmylchreest/ffpeaks/internal/version"
)

// dbStatsInterval is how often pool statistics are logged while serving.
const dbStatsInterval = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ffpeaks API server",
	Long: `Start the HTTP API.

The server provides:
- POST /api/v1/peaks to extract peaks from stored media
- GET /api/v1/jobs for the transcode history
- GET /api/v1/events for live job events (server-sent events)
- Health endpoints and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (default from config)")
	serveCmd.Flags().Int("port", 0, "port to listen on (default from config)")
}

// applyServeFlags copies explicitly set flags over the loaded config.
func applyServeFlags(flags *pflag.FlagSet, server *config.ServerConfig) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			server.Host = f.Value.String()
		case "port":
			if port, err := strconv.Atoi(f.Value.String()); err == nil {
				server.Port = port
			}
		}
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	applyServeFlags(cmd.Flags(), &cfg.Server)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info, err := detectBinaries(ctx)
	if err != nil {
		return err
	}
	store, err := newLocalStore()
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	db.StartStatsMonitor(ctx, dbStatsInterval)

	jobRepo := repository.NewTranscodeJobRepository(db.DB)
	broadcaster := events.NewBroadcaster(logger)
	sink := events.Multi(
		events.NewLogSink(logger),
		repository.NewJobRecorder(jobRepo, logger),
		broadcaster,
	)
	exec := newExecutor(info, sink)

	var pruner *scheduler.Pruner
	if cfg.History.Enabled {
		pruner, err = scheduler.NewPruner(jobRepo, cfg.History)
		if err != nil {
			return fmt.Errorf("creating pruner: %w", err)
		}
		if err := pruner.WithLogger(logger).Start(ctx); err != nil {
			return fmt.Errorf("starting pruner: %w", err)
		}
		defer pruner.Stop()
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Short())
	api := server.API()

	health := handlers.NewHealthHandler(version.Short()).WithDB(db.DB)
	if pruner != nil {
		health.WithScheduler(pruner.Running)
	}
	health.Register(api)
	handlers.NewJobHandler(jobRepo).Register(api)
	handlers.NewPeaksHandler(exec, store, info.FFmpegPath, peaksDefaults(cfg.Peaks)).Register(api)
	handlers.NewEventsHandler(broadcaster).RegisterSSE(server.Router())

	logger.Info("ffpeaks ready",
		slog.String("version", version.Short()),
		slog.String("address", server.Addr()),
		slog.String("storage", store.Sandbox().BaseDir()),
		slog.String("database", db.Driver()))

	if err := server.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("ffpeaks stopped")
	return nil
}
