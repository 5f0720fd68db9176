package bootstrap

import (
	"fmt"
	"net/http"
	"os"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	historyinadapter "sightsync/internal/modules/history/adapter/in"
	historyoutadapter "sightsync/internal/modules/history/adapter/out"
	historyservice "sightsync/internal/modules/history/service"
	historyusecase "sightsync/internal/modules/history/usecase"
	"sightsync/internal/platform/clock"
	"sightsync/internal/platform/config"
	"sightsync/internal/platform/id"
	"sightsync/internal/platform/logging"
)

type App struct {
	Config     config.Config
	Log        hclog.Logger
	HistoryCLI historyinadapter.CLIHandler
	Scheduler  *historyusecase.Scheduler

	registry *prometheus.Registry
	store    *historyoutadapter.SQLiteEventStore
}

func New(cfg config.Config) (*App, error) {
	log := NewLogger(cfg)
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clk := clock.SystemClock{}

	store, err := historyoutadapter.NewSQLiteEventStore(cfg.DBPath, clk)
	if err != nil {
		return nil, fmt.Errorf("new event store: %w", err)
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	notifications := historyoutadapter.NewFileNotifier(cfg.NotificationsPath())
	syncSvc := historyservice.NewSyncService(historyservice.SyncDeps{
		Transport: historyoutadapter.NewPluginTransport(historyoutadapter.DriverManifest{
			Binary:   cfg.Driver.Binary,
			SHA256:   cfg.Driver.SHA256,
			PageSize: cfg.Sync.PageSize,
		}, log),
		WakeLock: historyoutadapter.NewFileWakeLock(cfg.WakeLockPath(), clk),
		Events:   store,
		Offsets:  store,
		Notifier: historyoutadapter.MultiNotifier{notifications, historyoutadapter.NewLogNotifier(log)},
		Metrics:  historyoutadapter.NewPromMetrics(registry),
		Clock:    clk,
		IDs:      id.UUID{},
		Log:      log,
	}, historyservice.SyncOptions{
		WakeLockTimeout:     cfg.Sync.WakeLockTimeout,
		ConnectTimeout:      cfg.Sync.ConnectTimeout,
		IsolateDecodeErrors: cfg.Sync.IsolateDecodeErrors,
		Location:            loc,
	})
	historyUC := historyusecase.NewInteractor(syncSvc, syncSvc.Offsets(), store, notifications, loc)

	return &App{
		Config:     cfg,
		Log:        log,
		HistoryCLI: historyinadapter.NewCLIHandler(historyUC),
		Scheduler:  historyusecase.NewScheduler(historyUC, log),
		registry:   registry,
		store:      store,
	}, nil
}

// NewDecoder builds a handler that can only decode frames. It opens no store and
// launches no driver.
func NewDecoder(cfg config.Config) (historyinadapter.CLIHandler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return historyinadapter.CLIHandler{}, err
	}
	return historyinadapter.NewCLIHandler(historyusecase.NewInteractor(nil, nil, nil, nil, loc)), nil
}

func NewLogger(cfg config.Config) hclog.Logger {
	return logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Output: os.Stderr})
}

func (a *App) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (a *App) Close() error {
	return a.store.Close()
}
