package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/receiptd/internal/api"
	"github.com/orrn/receiptd/internal/api/middleware"
	"github.com/orrn/receiptd/internal/config"
	"github.com/orrn/receiptd/internal/core"
	"github.com/orrn/receiptd/internal/lockfile"
	"github.com/orrn/receiptd/internal/receipt"
	"github.com/orrn/receiptd/internal/webhook"
)

func main() {
	var configFile, envFile, hashPassword string
	var listPorts bool

	flag.StringVar(&configFile, "config", "receiptd.yaml", "Path to the YAML config file")
	flag.StringVar(&envFile, "env", ".env", "Optional dotenv file loaded before the config")
	flag.StringVar(&hashPassword, "hash-password", "", "Print the bcrypt hash of the given password and exit")
	flag.BoolVar(&listPorts, "list-ports", false, "List serial ports and exit")
	flag.Parse()

	if hashPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(hashPassword), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(hash))
		return
	}

	if listPorts {
		ports, err := serial.GetPortsList()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("receiptd stopped")
	}
	logger.Info("receiptd exited")
}

func run(cfg *config.Config, logger *log.Logger) error {
	lock, err := lockfile.Acquire(cfg.Storage.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	renderer := receipt.NewRenderer(receipt.Options{
		Store: receipt.Store{
			Name:          cfg.Receipt.StoreName,
			AddressLines:  cfg.Receipt.StoreAddress,
			Phone:         cfg.Receipt.StorePhone,
			Document:      cfg.Receipt.StoreDocument,
			FooterMessage: cfg.Receipt.FooterMessage,
		},
		CodePage: cfg.Receipt.CodePage,
		Location: loc,
	})

	printers, err := core.NewPrinterManager(&cfg.Printers, logger)
	if err != nil {
		return err
	}
	printers.Start()
	defer printers.Stop()

	opts := []core.QueueOption{core.WithLogger(logger)}
	if len(cfg.Webhooks) > 0 {
		sender := webhook.NewWebhookSender(cfg.Webhooks, cfg.WebhookDelivery, logger)
		sender.Start()
		defer sender.Stop()
		opts = append(opts, core.WithNotifier(sender))
	}

	queue := core.NewQueue(printers, renderer, store, &cfg.Queue, opts...)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := queue.Start(ctx); err != nil {
		return err
	}
	defer queue.Stop()

	var auth *middleware.AuthMiddleware
	if cfg.Auth.Enabled {
		if auth, err = middleware.NewAuthMiddleware(cfg.Auth); err != nil {
			return err
		}
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Dependencies{
		Queue:    queue,
		Printers: printers,
		Auth:     auth,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":     srv.Addr,
			"printers": len(cfg.Printers.Devices),
			"storage":  cfg.Storage.Driver,
			"auth":     cfg.Auth.Enabled,
		}).Info("receiptd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
