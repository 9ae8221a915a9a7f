package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/birddigital/intercom-gatekeeper/pkg/actuator"
	"github.com/birddigital/intercom-gatekeeper/pkg/config"
	"github.com/birddigital/intercom-gatekeeper/pkg/directory"
	"github.com/birddigital/intercom-gatekeeper/pkg/history"
	"github.com/birddigital/intercom-gatekeeper/pkg/logging"
	"github.com/birddigital/intercom-gatekeeper/pkg/matcher"
	"github.com/birddigital/intercom-gatekeeper/pkg/telephony"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the YAML config file")
	logLevel := pflag.String("log-level", "", "override the configured log level")
	simulateCall := pflag.String("simulate-call", "", "run one simulated call from this caller ID and exit")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			panic(err)
		}
		// No config file: run on defaults.
		cfg = config.Default()
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	run(cfg, logger, *simulateCall)
}

func run(cfg *config.Config, logger *zap.Logger, simulateCaller string) {
	// Caller-ID matcher, fed by the directory client below.
	m := matcher.New(matcher.RewritePolicy{
		CountryCode: cfg.Matcher.CountryCode,
		MinDigits:   cfg.Matcher.MinNationalDigits,
		MaxDigits:   cfg.Matcher.MaxNationalDigits,
	}, logger)

	// Release device and its single-flight guard.
	var device actuator.Device
	if cfg.Actuator.Mode == "simulated" {
		device = actuator.NewSimulated(cfg.Actuator.Pin, logger)
	} else {
		device = actuator.Open(cfg.Actuator.Pin, logger)
	}
	guard := actuator.NewGuard(device, cfg.Actuator.ActiveDuration(), logger)
	defer guard.Cleanup()

	// Directory of authorized numbers.
	client := directory.NewClient(directory.Config{
		URL:               cfg.Directory.URL,
		AuthToken:         cfg.Directory.AuthToken,
		AuthHeader:        cfg.Directory.AuthHeader,
		Method:            cfg.Directory.Method,
		DataKey:           cfg.Directory.DataKey,
		RefreshInterval:   cfg.Directory.RefreshInterval(),
		Timeout:           cfg.Directory.Timeout(),
		CacheFile:         cfg.Directory.CacheFile,
		UseCacheOnFailure: cfg.Directory.UseCacheOnFailure,
		OnUpdate: func(numbers []string) {
			m.Load(numbers)
		},
	}, logger)
	if !client.Start() {
		logger.Warn("starting with an empty authorized list; all callers will be rejected until a refresh succeeds")
	}
	defer client.Stop()

	// Optional Postgres call log.
	var sink telephony.Sink
	if cfg.CallLog.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := history.NewPostgres(ctx, cfg.CallLog.PostgresDSN, logger)
		if err == nil {
			err = pg.EnsureSchema(ctx)
		}
		cancel()
		if err != nil {
			logger.Warn("call log unavailable, continuing without it", zap.Error(err))
		} else {
			defer pg.Close()
			sink = pg
		}
	}

	manager := telephony.NewManager(telephony.ManagerConfig{
		AnswerDelay: cfg.Gateway.AnswerDelay(),
		HangupDelay: cfg.Gateway.HangupDelay(),
	}, m, guard, sink, logger)
	defer manager.Stop()

	if simulateCaller != "" {
		logger.Info("simulating call", zap.String("caller", simulateCaller))
		manager.OnIncomingCall(telephony.NewSimulatedCall(logger), simulateCaller)
		// Let the session play out its configured timing before the
		// deferred Stop joins it.
		time.Sleep(cfg.Gateway.AnswerDelay() + cfg.Gateway.HangupDelay() + 500*time.Millisecond)
		return
	}

	driver := telephony.NewGatewayDriver(manager, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/gateway", driver.HandleWebSocket)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"calls":           manager.GetStats(),
			"directory":       client.GetStatus(),
			"patterns":        m.Len(),
			"actuator_active": guard.IsActive(),
			"activations":     guard.ActivationCount(),
		})
	})
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		client.ForceRefresh()
		w.WriteHeader(http.StatusAccepted)
	})

	server := &http.Server{
		Addr:    cfg.Gateway.Listen,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Gateway.Listen))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	// Deferred cleanup then stops the manager, the directory client,
	// and finally the actuator guard.
}
