package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"subscription_split_bot/internal/app"
	"subscription_split_bot/internal/domain/notifier"
	"subscription_split_bot/internal/infra/config"
	idb "subscription_split_bot/internal/infra/database"
	"subscription_split_bot/internal/infra/email"
	"subscription_split_bot/internal/infra/lock"
	"subscription_split_bot/internal/infra/logger"
	"subscription_split_bot/internal/infra/metrics"
	"subscription_split_bot/internal/infra/scheduler"
	"subscription_split_bot/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}

	log := logger.Init(cfg.LogLevel, cfg.Environment)
	log.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"admin_id":    cfg.AdminTelegramID,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	if err := idb.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Could not apply database schema: %v", err)
	}
	log.Info("Database connection established successfully.")

	// Initialize Repositories
	projectRepo := idb.NewPostgresProjectRepository(db)
	cycleRepo := idb.NewPostgresCycleRepository(db)
	paymentRepo := idb.NewPostgresPaymentRepository(db)
	reminderRepo := idb.NewPostgresReminderRepository(db)

	provider, err := config.NewProvider(cfg.Reminder)
	if err != nil {
		log.Fatalf("Invalid reminder configuration: %v", err)
	}

	// Initialize Telegram Bot
	const pollTimeout = 10 * time.Second
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: pollTimeout},
		Client: telegram.NewHTTPClient(cfg.SendTimeout, pollTimeout),
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := log.WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		log.Fatalf("Could not create Telegram bot: %v", err)
	}

	chat := telegram.NewTelebotAdapter(bot)
	channels := []notifier.Notifier{chat}
	if cfg.SMTP.Host != "" {
		channels = append(channels, email.NewNotifier(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}))
		log.WithField("host", cfg.SMTP.Host).Info("Email channel enabled")
	}

	var locker app.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisLocker, err := lock.NewRedisLocker(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Could not connect to Redis: %v", err)
		}
		defer redisLocker.Close()
		locker = redisLocker
		log.Info("Project leases are shared through Redis.")
	}

	retry := app.NewRetryPolicy(app.RetryConfig{
		MaxAttempts:       cfg.SendMaxAttempts,
		InitialDelay:      cfg.SendInitialBackoff,
		MaxDelay:          cfg.SendMaxBackoff,
		BackoffMultiplier: 2.0,
		AttemptTimeout:    cfg.SendTimeout,
	}, nil)

	engine := app.NewEscalationEngine(reminderRepo, cycleRepo, projectRepo, provider, log)
	dispatcher := app.NewNotificationDispatcher(reminderRepo, retry, log, channels...)
	reminderScheduler := app.NewReminderScheduler(
		projectRepo,
		cycleRepo,
		paymentRepo,
		app.NewCycleGenerator(cycleRepo, projectRepo, log),
		app.NewCycleArchiver(cycleRepo, paymentRepo, log),
		engine,
		dispatcher,
		provider,
		locker,
		telegram.NewOwnerDigest(chat, projectRepo, log),
		app.SchedulerOptions{ProjectWorkers: cfg.PassWorkers, LeaseTTL: cfg.PassTimeout},
		log,
	)
	paymentService := app.NewPaymentService(paymentRepo, cycleRepo, projectRepo, engine, chat, log)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
		log.WithField("addr", cfg.MetricsAddr).Info("Metrics endpoint listening")
	}

	notifScheduler := scheduler.NewNotificationScheduler(
		reminderScheduler,
		m,
		log,
		cfg.Reminder.Location,
		cfg.CronSpecPass,
		cfg.PassTimeout,
	)
	if err := notifScheduler.Start(); err != nil {
		log.Fatalf("Could not schedule reminder pass: %v", err)
	}

	// Register Handlers
	telegram.RegisterBotCommands(ctx, bot, cfg.AdminTelegramID, projectRepo, log)
	telegram.RegisterAdminHandlers(ctx, bot, notifScheduler, engine, projectRepo, cfg.AdminTelegramID, log)
	telegram.RegisterPaymentHandlers(ctx, bot, paymentService, projectRepo, log)
	log.Info("Application setup complete. Bot and Scheduler are starting...")

	go bot.Start()

	<-ctx.Done()

	log.Info("Shutting down application...")
	bot.Stop()
	notifScheduler.Stop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	log.Info("Application shut down gracefully.")
}
