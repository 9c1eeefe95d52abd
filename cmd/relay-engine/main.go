package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/chainflow/relay-engine/internal/api"
	"github.com/chainflow/relay-engine/internal/chainrpc"
	"github.com/chainflow/relay-engine/internal/config"
	"github.com/chainflow/relay-engine/internal/consumer"
	"github.com/chainflow/relay-engine/internal/engine"
	"github.com/chainflow/relay-engine/internal/httpclient"
	"github.com/chainflow/relay-engine/internal/publisher"
	"github.com/chainflow/relay-engine/internal/rate"
	"github.com/chainflow/relay-engine/internal/relay"
	"github.com/chainflow/relay-engine/internal/store"
	"github.com/chainflow/relay-engine/internal/wallet"
	"github.com/chainflow/relay-engine/pkg/logger"
	"github.com/chainflow/relay-engine/pkg/secrets"
	"github.com/chainflow/relay-engine/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [relay-engine]...")

	// --- API access credential (env, or AWS Secrets Manager) ---
	apiKey := cfg.EngineAPIKey
	var credResolver *secrets.Resolver
	if apiKey == "" && cfg.APIKeySecret != "" {
		awsProvider, err := secrets.NewAWSProvider(cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		credResolver = secrets.NewResolver(awsProvider, cfg.APIKeySecret, "api_key", 1*time.Hour)
		apiKey, err = credResolver.Value(ctx)
		if err != nil {
			logg.Fatalw("failed to resolve engine API key",
				"secret", cfg.APIKeySecret,
				"error", err)
		}
	}
	logg.Info("engine API key: ", utils.MaskKey(apiKey))

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	pub, err := publisher.New(nc, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Rate limiter ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: 10,
		Burst:             20,
	})

	// --- Progress snapshot store (Redis) ---
	st, err := store.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.SnapshotTTL, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Relay API + chain clients ---
	relayExec := httpclient.New(logg.Desugar(), rateMgr, &http.Client{Timeout: 30 * time.Second}, 2, "relay")
	relayClient := relay.NewClient(logg.Desugar(), relayExec, cfg.EngineBaseURL, apiKey)
	if credResolver != nil {
		relayClient.SetCredentialSource(credResolver)
	}

	chainExec := httpclient.New(logg.Desugar(), rateMgr, &http.Client{Timeout: 15 * time.Second}, 2, "chainrpc")
	chainClient := chainrpc.NewClient(logg.Desugar(), chainExec, cfg.ChainRPCURLs)

	// --- Wallet ---
	if cfg.WalletURL == "" {
		logg.Fatal("WALLET_SIGNER_URL is required")
	}
	walletExec := httpclient.New(logg.Desugar(), nil, &http.Client{Timeout: 5 * time.Minute}, 0, "wallet")
	w := wallet.NewRemoteSigner(logg.Desugar(), walletExec, cfg.WalletURL, cfg.WalletAddress)

	// --- Engine + service ---
	eng := engine.New(logg.Desugar(), relayClient, chainClient, engine.Config{
		PollInterval:      cfg.PollInterval,
		MaxAttempts:       cfg.PollMaxAttempts,
		Referrer:          cfg.Referrer,
		ExecutorAddress:   cfg.ExecutorAddress,
		OriginGasOverhead: cfg.OriginGasOverhead,
	})
	svc := engine.NewService(logg.Desugar(), eng, w, st, pub, cfg.WSURL)

	// --- RabbitMQ command consumer ---
	cons, err := consumer.NewConsumer(cfg.RabbitMQURL, svc, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to connect to RabbitMQ", "error", err)
	}
	if err := cons.Start(ctx); err != nil {
		logg.Fatalw("failed to start consumer", "error", err)
	}

	// --- Fiber HTTP server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	})
	handler := api.NewHandler(ctx, logg.Desugar(), svc)
	api.RegisterRoutes(app, nc, st, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[relay-engine] running",
		"base_url", cfg.EngineBaseURL,
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"poll_interval", cfg.PollInterval,
		"chains", len(cfg.ChainRPCURLs))

	<-ctx.Done()
	logg.Info("shutting down [relay-engine]...")

	if err := cons.Close(); err != nil {
		logg.Warnw("consumer.close_failed", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	pub.Close()
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}
