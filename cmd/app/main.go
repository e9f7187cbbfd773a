package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TambongStercy/SBC-MS-sub014/internal/config"
	"github.com/TambongStercy/SBC-MS-sub014/internal/db"
	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway/cryptopay"
	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway/mobilemoney"
	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
	"github.com/TambongStercy/SBC-MS-sub014/internal/ledger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/logger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/metrics"
	"github.com/TambongStercy/SBC-MS-sub014/internal/notify"
	"github.com/TambongStercy/SBC-MS-sub014/internal/payment"
	"github.com/TambongStercy/SBC-MS-sub014/internal/reconciler"
	"github.com/TambongStercy/SBC-MS-sub014/internal/server"
	"github.com/TambongStercy/SBC-MS-sub014/internal/withdrawal"
)

func main() {
	logger.Init()
	logger.Info("Starting SBC payment service")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Connecting to database...")
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	logger.Info("Database connected")

	if err := db.RunMigrations(database, "migrations"); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Migrations completed")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	notifier := notify.New(
		rdb,
		cfg.EmailFrom,
		cfg.EmailFromName,
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPUser,
		cfg.SMTPPass,
	)

	mobile := mobilemoney.New(mobilemoney.Config{
		APIKey:        cfg.CinetPayAPIKey,
		SiteID:        cfg.CinetPaySiteID,
		Secret:        cfg.CinetPaySecret,
		TransferToken: cfg.CinetPayTransferToken,
	})
	crypto := cryptopay.New(cryptopay.Config{
		APIKey:       cfg.NowPaymentsAPIKey,
		IPNSecret:    cfg.NowPaymentsIPNSecret,
		USDToXAFRate: cfg.USDToXAFRate,
	})
	registry := gateway.NewRegistry(mobile, crypto)

	ledgerClient := ledger.NewHTTPClient(cfg.LedgerBaseURL, cfg.LedgerAPIKey)

	intentRepo := intent.NewRepository(database)
	withdrawalRepo := withdrawal.NewRepository(database)

	otpStore := withdrawal.NewOTPStore(rdb, cfg.OTPTTL)

	paymentSvc := payment.NewService(intentRepo, registry)
	withdrawalSvc := withdrawal.NewService(withdrawalRepo, ledgerClient, mobile, otpStore, notifier)

	processor := payment.NewProcessor(intentRepo, withdrawalRepo, registry, ledgerClient, notifier)

	paymentHandler := payment.NewHandler(paymentSvc, processor)
	withdrawalHandler := withdrawal.NewHandler(withdrawalSvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go notifier.Start(ctx)

	poller := reconciler.New(intentRepo, withdrawalRepo, registry, processor, reconciler.Config{
		Interval: cfg.PollInterval,
		Grace: map[string]time.Duration{
			mobilemoney.Name: cfg.MobileMoneyGrace,
			cryptopay.Name:   cfg.CryptoGrace,
		},
		DefaultGrace: cfg.MobileMoneyGrace,
		MaxAge:       cfg.MaxIntentAge,
		BatchLimit:   cfg.ReconcileBatchLimit,
	})
	go poller.Run(ctx)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.NotifyQueueLength.Set(float64(notifier.QueueLength(ctx)))
			}
		}
	}()

	srv := server.New(cfg, paymentHandler, withdrawalHandler)

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(cfg.Port); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
