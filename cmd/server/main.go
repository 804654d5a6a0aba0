package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"parkwatch/internal/api"
	"parkwatch/internal/auth"
	"parkwatch/internal/config"
	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
	"parkwatch/internal/repository"
	"parkwatch/internal/retry"
	"parkwatch/internal/service"
	"parkwatch/internal/tables"
)

var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	queryTimeout    = 60 * time.Second
)

func main() {
	envFile := flag.String("env", "", "path to a .env file (default .env)")
	query := flag.String("query", "", "answer a single parking query and exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging, version)

	if err := run(cfg, log, *query); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger, query string) error {
	tb, err := tables.Load(cfg.TablesPath)
	if err != nil {
		return fmt.Errorf("loading tables: %w", err)
	}
	log.Info("tables loaded", "version", tb.Version(), "places", len(tb.Keys()))

	policy := retry.Policy{
		Attempts:  cfg.Retry.Attempts,
		Delay:     cfg.Retry.Delay,
		Retryable: perrors.IsRetryable,
		OnRetry: func(attempt int, err error) {
			log.Debug("retrying remote call", "attempt", attempt, "error", err)
		},
	}
	client := &http.Client{}

	creds := auth.NewCredentialManager(auth.CredentialConfig{
		TokenURL:     cfg.TDX.TokenURL,
		ClientID:     cfg.TDX.ClientID,
		ClientSecret: cfg.TDX.ClientSecret,
		Margin:       cfg.TDX.TokenMargin,
		RateLimit:    cfg.TDX.TokenRateLimit,
		Timeout:      cfg.TDX.RequestTimeout,
		Retry:        policy,
	}, client, log)

	repo := repository.NewParkingRepository(repository.ParkingRepositoryConfig{
		BaseURL:     cfg.TDX.BaseURL,
		Timeout:     cfg.TDX.RequestTimeout,
		ChunkSize:   cfg.TDX.ChunkSize,
		Concurrency: cfg.TDX.Concurrency,
		Top:         cfg.TDX.Top,
		Retry:       policy,
	}, client, creds, repository.NewSegmentNameCache(), log)

	resolver := service.NewAddressResolver(tb, repo, service.HomeCity(cfg.HomeAddress), log)
	aggregator := service.NewAggregator(service.NewSpotClassifier(tb), tb, service.DefaultDisplayCap)
	parking := service.NewParkingService(resolver, repo, aggregator, log)

	if query != "" {
		return answer(parking, query)
	}

	router := service.NewNotifierRouter(cfg.Notify.DefaultChannel, log)
	if cfg.Notify.Twilio.Enabled() {
		router.Register(service.ChannelSMS, service.NewTwilioNotifier(cfg.Notify.Twilio, log))
	}
	if cfg.Notify.SendGrid.Enabled() {
		router.Register(service.ChannelEmail, service.NewSendGridNotifier(cfg.Notify.SendGrid, log))
	}
	if cfg.Notify.MQTT.Enabled() {
		notifier, mqttClient, err := service.ConnectMQTTNotifier(cfg.Notify.MQTT, log)
		if err != nil {
			return err
		}
		defer service.DisconnectMQTT(mqttClient)
		router.Register(service.ChannelMQTT, notifier)
	}
	log.Info("notification channels", "channels", router.Channels(), "default", cfg.Notify.DefaultChannel)

	monitors := service.NewMonitorService(parking, service.NewSenderService(router, log),
		repository.NewMonitorRepository(), cfg.Monitor, log)

	jobs := service.NewJobService(creds, monitors, log)
	if err := jobs.Schedule(cfg.Jobs); err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	var adminRoutes *api.AdminRoutes
	if cfg.Admin.Enabled() {
		secret := []byte(cfg.Admin.JWTSecret)
		authSvc := service.NewAdminAuthService(
			repository.NewAdminAuthRepository(cfg.Admin.Username, cfg.Admin.PasswordHash), secret, cfg.Admin.TokenTTL)
		adminSvc := service.NewAdminService(monitors, creds, repo, tb, router, version)
		adminRoutes = &api.AdminRoutes{
			Auth:      api.NewAdminAuthHandler(authSvc),
			Admin:     api.NewAdminHandler(adminSvc),
			JWTSecret: secret,
		}
	}

	r := api.NewRouter(api.NewUserParkingHandler(parking, monitors), adminRoutes, version)
	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.RecoveryHandler()(handlers.CombinedLoggingHandler(os.Stdout, cors(r))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server running", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(srv.Shutdown(shutdownCtx), monitors.Shutdown(shutdownCtx))
}

// answer prints the reply for one query, the way the chat front-end shows it.
func answer(parking *service.ParkingService, query string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	resp, err := parking.Availability(ctx, query)
	if err != nil {
		fmt.Println(perrors.MessageOf(err))
		return err
	}
	if !resp.Available {
		fmt.Println(resp.Message)
		return nil
	}
	fmt.Println(resp.Text)
	return nil
}
