package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/ffpeaks/internal/config"
	"github.com/jmylchreest/ffpeaks/internal/database"
	"github.com/jmylchreest/ffpeaks/internal/events"
	"github.com/jmylchreest/ffpeaks/internal/executor"
	"github.com/jmylchreest/ffpeaks/internal/ffmpeg"
	"github.com/jmylchreest/ffpeaks/internal/httpclient"
	"github.com/jmylchreest/ffpeaks/internal/peaks"
	"github.com/jmylchreest/ffpeaks/internal/repository"
	"github.com/jmylchreest/ffpeaks/internal/storage"
)

// detectBinaries resolves ffmpeg and, when available, ffprobe.
func detectBinaries(ctx context.Context) (*ffmpeg.BinaryInfo, error) {
	info, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Debug("ffmpeg detected",
		slog.String("ffmpeg", info.FFmpegPath),
		slog.String("ffprobe", info.FFprobePath),
		slog.String("version", info.Version))
	return info, nil
}

// newProber returns nil when ffprobe is unavailable; layouts then fall back
// to the peaks defaults.
func newProber(info *ffmpeg.BinaryInfo) executor.Prober {
	if info.FFprobePath == "" {
		return nil
	}
	return ffmpeg.NewProber(info.FFprobePath).WithTimeout(cfg.FFmpeg.ProbeTimeout)
}

func newExecutor(info *ffmpeg.BinaryInfo, sink events.Sink) *executor.Executor {
	return executor.New(executor.Options{
		FFmpegPath:      info.FFmpegPath,
		Prober:          newProber(info),
		Sink:            sink,
		Logger:          logger,
		Timeout:         cfg.FFmpeg.Timeout,
		PollInterval:    cfg.FFmpeg.PollInterval,
		ReadSize:        int(cfg.FFmpeg.ReadSize.Bytes()),
		MonitorInterval: cfg.FFmpeg.MonitorInterval,
	})
}

// newLocalStore opens the storage sandbox.
func newLocalStore() (*storage.LocalStore, error) {
	store, err := storage.NewLocalStore(cfg.Storage.BaseDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

// newStore returns the configured destination store.
func newStore() (storage.Store, error) {
	if !cfg.Storage.Remote() {
		return newLocalStore()
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Storage.Upload.Timeout
	hc.Logger = logger
	return storage.NewHTTPStore(storage.HTTPStoreConfig{
		Endpoint: cfg.Storage.Upload.Endpoint,
		Token:    cfg.Storage.Upload.Token,
		MaxSize:  cfg.Storage.Upload.MaxSize.Bytes(),
		Client:   httpclient.New(hc),
		Logger:   logger,
	})
}

// peaksDefaults converts configured peaks defaults.
func peaksDefaults(c config.PeaksConfig) peaks.Config {
	out := peaks.Config{
		SamplesPerPixel: c.SamplesPerPixel,
		Format:          peaks.Format(c.Format),
	}
	if len(c.NormalizeRange) == 2 {
		out.Normalize = &peaks.Range{Lo: c.NormalizeRange[0], Hi: c.NormalizeRange[1]}
	}
	return out.WithDefaults()
}

// openDatabase connects and migrates the job history store.
func openDatabase(ctx context.Context) (*database.DB, error) {
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// newRecorderSink opens the history store and returns a sink that records
// jobs into it. The returned close func releases the connection.
func newRecorderSink(ctx context.Context) (events.Sink, func(), error) {
	db, err := openDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}
	recorder := repository.NewJobRecorder(repository.NewTranscodeJobRepository(db.DB), logger)
	return recorder, func() { _ = db.Close() }, nil
}
