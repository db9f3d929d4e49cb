package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/classifier"
	"smart-mailer-go/internal/config"
	"smart-mailer-go/internal/db"
	"smart-mailer-go/internal/fetcher"
	"smart-mailer-go/internal/handlers"
	"smart-mailer-go/internal/metrics"
	"smart-mailer-go/internal/pipeline"
	"smart-mailer-go/internal/repository"
	"smart-mailer-go/internal/scheduler"
	"smart-mailer-go/internal/sender"
	"smart-mailer-go/internal/server"
	"smart-mailer-go/internal/templates"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting SmartMailer service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := configureLogging(cfg.Log); err != nil {
		return err
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := repository.New(dbConn)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	source, err := newMailSource(cfg)
	if err != nil {
		return err
	}

	replier, err := newReplier(cfg)
	if err != nil {
		return err
	}
	sink := sender.NewSink(replier, sender.NewTelegramNotifier(cfg.Telegram))

	renderer, err := templates.NewRenderer(cfg.Reply.TemplatePath, cfg.Reply.SenderName)
	if err != nil {
		return fmt.Errorf("failed to load auto-reply template: %w", err)
	}

	rules := classifier.New(classifier.Config(cfg.Classifier))
	p := pipeline.New(source, rules, sink, repo, renderer, m, pipeline.Options{
		Lookback:     cfg.Processing.Lookback,
		MaxBatchSize: cfg.Processing.MaxBatchSize,
		ReplyEnabled: cfg.Reply.Enabled,
	})

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 30*time.Second)
	if err := p.CheckConnectivity(checkCtx); err != nil {
		logrus.Warnf("Startup connectivity check failed: %v", err)
	} else {
		logrus.Info("Startup connectivity check passed")
	}
	cancelCheck()

	sched := scheduler.NewScheduler(cfg.Scheduler, cfg.Retention, p, repo, m)

	h := handlers.NewHandlers(repo, p, sink, rules, sched, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), cfg.Retention.Days)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	if err := sched.Shutdown(ctx); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}

	if sqlDB, err := dbConn.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logrus.Errorf("Failed to close database: %v", err)
		}
	}

	logrus.Info("Server stopped gracefully")
	return nil
}

func configureLogging(cfg config.LogConfig) error {
	if strings.EqualFold(cfg.Format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.Level == "" {
		return nil
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	return nil
}

func newMailSource(cfg *config.Config) (pipeline.MailSource, error) {
	switch cfg.Mailbox.Provider {
	case config.ProviderGmail:
		logrus.Info("Using Gmail API for email fetching")
		return fetcher.NewGmailSource(cfg.Gmail), nil
	case config.ProviderIMAP:
		logrus.Info("Using IMAP for email fetching")
		return fetcher.NewIMAPSource(cfg.Mailbox), nil
	default:
		return nil, fmt.Errorf("unsupported mailbox provider: %s", cfg.Mailbox.Provider)
	}
}

// newReplier returns nil when auto-replies are disabled
func newReplier(cfg *config.Config) (sender.Replier, error) {
	if !cfg.Reply.Enabled {
		logrus.Info("Auto-reply disabled")
		return nil, nil
	}
	switch cfg.Reply.Transport {
	case config.TransportGmail:
		replier, err := sender.NewGmailReplier(cfg.Gmail, cfg.Reply.SenderName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail replier: %w", err)
		}
		logrus.Info("Using Gmail API for auto-replies")
		return replier, nil
	case config.TransportSMTP:
		logrus.Info("Using SMTP for auto-replies")
		return sender.NewSMTPReplier(cfg.SMTP, cfg.SMTPSender(), cfg.Reply.SenderName), nil
	default:
		return nil, fmt.Errorf("unsupported reply transport: %s", cfg.Reply.Transport)
	}
}
