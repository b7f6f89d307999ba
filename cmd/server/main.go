package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"opencat/internal/api"
	"opencat/internal/config"
	"opencat/internal/cryptor"
	"opencat/internal/events"
	"opencat/internal/productsync"
	"opencat/internal/receipts"
	"opencat/internal/storage"
	"opencat/internal/storeadapter"
	"opencat/internal/webhook"
	"opencat/pkg/logging"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	logging.InitLogging()

	if err := storage.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer storage.Close()

	cryptorInstance, err := cryptor.New(config.AppConfig.MasterKey)
	if err != nil {
		log.Fatal("Failed to initialize cryptor:", err)
	}

	apps := storage.NewAppRepo()
	entitlements := storage.NewEntitlementRepo()
	products := storage.NewProductRepo()
	subscribers := storage.NewSubscriberRepo()
	transactions := storage.NewTransactionRepo()
	eventRepo := storage.NewEventRepo()
	webhooks := storage.NewWebhookRepo()
	credentials := storage.NewCredentialsRepo()

	var allocator events.Allocator
	if config.AppConfig.MultiNode {
		allocator = events.NewMultiNodeAllocator(eventRepo)
		logging.Infof("event sequencing: multi-node (row-lock) mode")
	} else {
		allocator = events.NewSingleNodeAllocator(eventRepo)
		logging.Infof("event sequencing: single-node (in-process actor) mode")
	}

	credentialLoader := receipts.NewStoredCredentialLoader(credentials, cryptorInstance, apps)

	adapters := map[storage.Store]storeadapter.Adapter{
		storage.StoreApple:  storeadapter.NewApple(config.AppConfig.StoreVerifyTimeout, storeadapter.AppleRootCAs()),
		storage.StoreGoogle: storeadapter.NewGoogle(config.AppConfig.StoreVerifyTimeout),
	}

	dispatcher := webhook.NewDispatcher(webhooks, eventRepo, config.AppConfig.WebhookPostTimeout, storage.GetRedis())

	publish := func(ctx context.Context, appID string) {
		storage.PublishEventSignal(ctx, appID)
		dispatcher.Notify(appID)
	}

	pipeline := receipts.New(storage.GetDB(), subscribers, transactions, products, allocator, credentialLoader, adapters, publish)

	scheduler := productsync.NewScheduler(
		storage.GetDB(), apps, products, credentialLoader, adapters, allocator,
		config.AppConfig.ProductSyncInterval, config.AppConfig.ProductSyncTimeout,
	)

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	if err := dispatcher.Start(backgroundCtx); err != nil {
		log.Fatal("Failed to start webhook dispatcher:", err)
	}
	if err := scheduler.Start(backgroundCtx); err != nil {
		log.Fatal("Failed to start product sync scheduler:", err)
	}

	server := &api.Server{
		Apps:         apps,
		Entitlements: entitlements,
		Products:     products,
		Subscribers:  subscribers,
		Transactions: transactions,
		Events:       eventRepo,
		Webhooks:     webhooks,
		Credentials:  credentials,
		Cryptor:      cryptorInstance,
		Pipeline:     pipeline,
		ProductSync:  scheduler,
		Dispatcher:   dispatcher,
	}

	gin.SetMode(config.AppConfig.Mode)
	r := gin.Default()
	api.SetupRoutes(r, server, config.AppConfig.AdminKey)

	httpServer := &http.Server{
		Addr:    ":" + config.AppConfig.Port,
		Handler: r,
	}

	go func() {
		logging.Infof("Starting server on port %s", config.AppConfig.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Infof("Shutting down, draining up to %s", config.AppConfig.ShutdownDrainPeriod)
	cancelBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.AppConfig.ShutdownDrainPeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Errorf("HTTP server shutdown error: %v", err)
	}

	dispatcher.Shutdown(config.AppConfig.ShutdownDrainPeriod)
}
