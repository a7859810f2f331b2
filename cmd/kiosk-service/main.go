package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/puntosalud/vitaledger/pkg/alerting"
	"github.com/puntosalud/vitaledger/pkg/common/config"
	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/common/retry"
	"github.com/puntosalud/vitaledger/pkg/intake"
	"github.com/puntosalud/vitaledger/pkg/ledger"
	"github.com/puntosalud/vitaledger/pkg/ledgersync"
	"github.com/puntosalud/vitaledger/pkg/observability/metrics"
	"github.com/puntosalud/vitaledger/pkg/remotefile"
	"github.com/puntosalud/vitaledger/pkg/transport"
)

func main() {
	logger.Init()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Log.WithError(err).Fatal("invalid configuration")
	}

	policy := retry.Policy{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelay}
	opener := transport.NewOpener(transport.EndpointFromConfig(cfg), policy)
	channel := remotefile.NewChannel(opener, policy)

	paths := ledgersync.PathsFromConfig(cfg)
	store := ledger.NewStore(paths.LocalLedger)
	if err := store.EnsureExists(); err != nil {
		logger.Log.WithError(err).Fatal("failed to initialize local ledger")
	}

	syncer := ledgersync.New(channel, store, paths, policy)

	// Initial reconciliation before taking traffic. A failure is not fatal:
	// local work proceeds and the next pass repairs the remote side.
	if result, err := syncer.Sync(context.Background()); err != nil {
		logger.Log.WithError(err).Warn("initial sync failed, proceeding with local copy")
	} else {
		logger.Log.WithField("outcome", string(result.Outcome)).Info("initial sync completed")
	}

	rules, err := alerting.LoadRules(cfg.AlertRulesFile)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load alert rules")
	}
	var notifier alerting.Notifier = alerting.LogNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		notifier = alerting.NewKafkaNotifier(cfg.KafkaBrokers, cfg.AlertTopic)
	}
	defer notifier.Close()
	alertSvc := alerting.NewService(store, alerting.NewDetector(rules), notifier, syncer)

	writer := intake.NewWriter(intake.NewValidator(), store, channel, syncer, paths)
	handler := intake.NewHTTPHandler(writer, store, syncer, alertSvc, cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Kiosk Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Kiosk Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Kiosk Service stopped")
}
