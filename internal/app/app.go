package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"cardsignal/internal/acquisition"
	"cardsignal/internal/alerting"
	"cardsignal/internal/config"
	"cardsignal/internal/grading"
	"cardsignal/internal/metrics"
	"cardsignal/internal/quota"
	"cardsignal/internal/scheduler"
	"cardsignal/internal/service"
	"cardsignal/internal/source"
	"cardsignal/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSources() (*source.Tracker, *source.Catalog) {
	tracker := source.NewTracker(source.TrackerOptions{
		BaseURL:   a.Config.Tracker.BaseURL,
		APIKey:    a.Config.Tracker.APIKey,
		Timeout:   a.Config.Tracker.RequestTimeout,
		UserAgent: a.Config.Tracker.UserAgent,
	}, a.Logger)

	var catalog *source.Catalog
	if a.Config.Catalog.BaseURL != "" {
		catalog = source.NewCatalog(source.CatalogOptions{
			BaseURL:   a.Config.Catalog.BaseURL,
			APIKey:    a.Config.Catalog.APIKey,
			Timeout:   a.Config.Catalog.RequestTimeout,
			UserAgent: a.Config.Catalog.UserAgent,
		}, a.Logger)
	}

	return tracker, catalog
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) loadRecords() service.RecordSource {
	if a.Config.Records.Path == "" {
		return nil
	}
	records, err := source.LoadRecords(a.Config.Records.Path)
	if err != nil {
		a.Logger.Warn().Err(err).Str("path", a.Config.Records.Path).Msg("legacy records unavailable")
		return nil
	}
	return records
}

// backend bundles whichever persistence implementation the config selects.
// Fields are nil when the backend is not configured; callers degrade.
type backend struct {
	cache    acquisition.CacheStore
	throttle acquisition.ThrottleStore
	counter  quota.CounterStore
	signals  storage.SignalStore
	locker   storage.AdvisoryLocker
	closer   func()
}

func (b *backend) close() {
	if b != nil && b.closer != nil {
		b.closer()
	}
}

// openBackend connects the configured storage. A nil backend with nil error
// means persistence is simply not configured.
func (a *App) openBackend(ctx context.Context) (*backend, error) {
	switch a.Config.Storage.Backend {
	case "redis":
		store, err := storage.NewRedisStore(ctx, a.Config.Storage.Redis)
		if err != nil {
			return nil, err
		}
		return &backend{
			cache:    store,
			throttle: store,
			counter:  store,
			signals:  store,
			closer:   func() { _ = store.Close() },
		}, nil

	default:
		if a.Config.Storage.Postgres.DSN == "" {
			return nil, nil
		}
		pool, err := storage.NewPool(ctx, a.Config.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		store := storage.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return &backend{
			cache:    store,
			throttle: store,
			counter:  store,
			signals:  store,
			locker:   store,
			closer:   store.Close,
		}, nil
	}
}

// memoryBackend backs dry runs and alert simulations; nothing survives the
// process.
func memoryBackend() *backend {
	store := acquisition.NewMemoryStore()
	return &backend{
		cache:    store,
		throttle: store,
		counter:  quota.NewMemoryCounter(),
	}
}

func (a *App) buildService(b *backend, sched *scheduler.Scheduler, recorder *metrics.Recorder) *service.Service {
	tracker, catalog := a.newSources()
	notifier := a.newNotifier()

	controller := acquisition.NewController(b.cache, b.throttle, acquisition.Options{
		MaxAge:           a.Config.Acquisition.CacheMaxAge,
		SuccessBackoff:   a.Config.Acquisition.SuccessBackoff,
		RateLimitBackoff: a.Config.Acquisition.RateLimitBackoff,
		ErrorBackoff:     a.Config.Acquisition.ErrorBackoff,
		FetchTimeout:     a.Config.Acquisition.FetchTimeout,
	}, recorder, a.Logger)

	manager := quota.NewManager(b.counter, quota.Options{
		DailyLimit: a.Config.Quota.DailyLimit,
		Thresholds: quota.Thresholds{
			Warning:   a.Config.Quota.WarningPct,
			Critical:  a.Config.Quota.CriticalPct,
			Emergency: a.Config.Quota.EmergencyPct,
		},
		Location: a.Config.QuotaLocation(),
		LogSize:  a.Config.Quota.LogSize,
	}, a.quotaAlert(notifier, recorder))

	var deps service.Deps
	deps.Scheduler = sched
	deps.Tracker = tracker
	if catalog != nil {
		deps.Catalog = catalog
	}
	deps.Records = a.loadRecords()
	deps.Controller = controller
	deps.Quota = manager
	deps.Estimator = grading.NewEstimator(a.Config.Grading.Baselines)
	deps.Signals = b.signals
	deps.Locker = b.locker
	deps.Recorder = recorder

	return service.New(a.Config, deps, a.Logger)
}

// quotaAlert bridges quota snapshots to the notifier and the metrics gauge.
func (a *App) quotaAlert(notifier alerting.Notifier, recorder *metrics.Recorder) quota.AlertFunc {
	return func(snap quota.Snapshot) {
		recorder.RecordQuotaUsed(snap.Used)
		if notifier == nil {
			return
		}
		note := alerting.Notification{
			At:         time.Now().UTC(),
			Status:     snap.Status,
			Used:       snap.Used,
			Limit:      snap.Limit,
			Percentage: snap.Percentage,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.Notify(ctx, note); err != nil {
			a.Logger.Error().Err(err).Msg("failed to dispatch quota alert")
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	if !a.Config.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: a.Config.Metrics.Listen, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		a.Logger.Info().Str("listen", a.Config.Metrics.Listen).Msg("metrics listener started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()
}

// Run executes the long-running watchlist scanner.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	if b == nil {
		a.Logger.Warn().Msg("storage not configured; running with in-memory state only")
		b = memoryBackend()
	}
	defer b.close()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scanner.Interval,
		AlignToStart: a.Config.Scanner.AlignToInterval,
		StartupDelay: a.Config.Scanner.StartupDelay,
		ScanOnStart:  a.Config.Scanner.ScanOnStart,
	}, a.Logger)

	recorder := metrics.New()
	a.serveMetrics(ctx)

	svc := a.buildService(b, sched, recorder)

	a.Logger.Info().Int("watchlist", len(a.Config.Scanner.Watchlist)).Msg("starting signal scanner")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scanner terminated with error")
		return err
	}

	a.Logger.Info().Msg("signal scanner stopped")
	return nil
}

// ScanOptions configure a one-shot scan.
type ScanOptions struct {
	SetID  string
	Number string
	Name   string
	DryRun bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting a card's signal history.
type ExportOptions struct {
	SetID     string
	Number    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
