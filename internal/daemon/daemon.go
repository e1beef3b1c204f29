package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"opdeck/internal/config"
	"opdeck/internal/device/mount"
	"opdeck/internal/history"
	"opdeck/internal/logging"
	"opdeck/internal/monitor"
	"opdeck/internal/samples"
	"opdeck/internal/settings"
	"opdeck/internal/usb"
)

// Daemon owns the device monitor and its collaborators and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	settings    *settings.Store
	history     *history.Store
	historyKeep time.Duration
	registry    *monitor.Registry
	broadcaster *monitor.Broadcaster
	monitor     *monitor.Monitor
	converter   *samples.Converter
	api         *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// historyRecorder adapts the history store to the monitor's Recorder.
type historyRecorder struct {
	store  *history.Store
	logger *slog.Logger
}

func (r historyRecorder) Record(kindID string, status monitor.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Append(ctx, kindID, status); err != nil {
		r.logger.Warn("failed to record device event",
			logging.Error(err),
			logging.String(logging.FieldDevice, kindID),
			logging.String(logging.FieldEventType, "history_append_failed"),
			logging.String(logging.FieldImpact, "event missing from device history"))
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := settings.Open(cfg.Paths.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	d := &Daemon{
		cfg:         cfg,
		logger:      logger,
		settings:    store,
		registry:    monitor.NewRegistry(),
		broadcaster: monitor.NewBroadcaster(logger),
		lockPath:    filepath.Join(cfg.Paths.DataDir, "opdeckd.lock"),
	}
	d.lock = flock.New(d.lockPath)

	var recorder monitor.Recorder
	if cfg.History.Enabled {
		historyStore, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		d.history = historyStore
		d.historyKeep = time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
		recorder = historyRecorder{
			store:  historyStore,
			logger: logging.NewComponentLogger(logger, "history"),
		}
	}

	d.monitor = monitor.New(monitor.Config{
		Logger:          logger,
		Registry:        d.registry,
		Broadcaster:     d.broadcaster,
		Resolver:        mount.NewResolver(logger),
		Source:          usb.NewPlatformSource(logger),
		Paths:           store,
		History:         recorder,
		PollMaxAttempts: cfg.Monitor.PollMaxAttempts,
		PollInterval:    time.Duration(cfg.Monitor.PollIntervalSeconds) * time.Second,
		SettleDelay:     time.Duration(cfg.Monitor.SettleDelayMillis) * time.Millisecond,
	})

	d.converter = samples.NewConverter(samples.Options{
		Logger:       logger,
		FFmpegBinary: store.GetString(settings.KeyFFmpegPath, cfg.FFmpegBinary()),
		UploadDir:    cfg.Paths.UploadDir,
		ConvertedDir: cfg.Paths.ConvertedDir,
		Timeout:      time.Duration(cfg.Convert.TimeoutSeconds) * time.Second,
	})

	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, begins monitoring, and starts the API
// server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another instance holds %s", d.lockPath)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.monitor.Start(d.ctx)

	if d.history != nil && d.historyKeep > 0 {
		go d.historyRetentionLoop(d.ctx)
	}

	if err := d.api.start(d.ctx); err != nil {
		d.monitor.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api_bind", d.cfg.Paths.APIBind),
		logging.String(logging.FieldEventType, "daemon_started"))
	return nil
}

// Stop shuts everything down in reverse start order.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}

	d.api.stop()
	d.monitor.Stop()
	if d.cancel != nil {
		d.cancel()
	}
	if d.history != nil {
		_ = d.history.Close()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String("lock", d.lockPath))
	}

	d.logger.Info("daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"))
}

// historyPruneInterval is how often the retention pass runs while the daemon
// is up. The first pass runs immediately so restarts do not defer pruning.
const historyPruneInterval = 6 * time.Hour

func (d *Daemon) historyRetentionLoop(ctx context.Context) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	d.pruneHistory(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pruneHistory(ctx)
		}
	}
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := d.history.Prune(pruneCtx, d.historyKeep)
	if err != nil {
		d.logger.Warn("failed to prune device history",
			logging.Error(err),
			logging.String(logging.FieldEventType, "history_prune_failed"),
			logging.String(logging.FieldImpact, "history database keeps growing"))
		return
	}
	if deleted > 0 {
		d.logger.Info("pruned device history",
			logging.Int64("deleted", deleted),
			logging.Duration("retention", d.historyKeep))
	}
}

// Wait blocks until the daemon's context ends.
func (d *Daemon) Wait() {
	if d.ctx != nil {
		<-d.ctx.Done()
	}
}
