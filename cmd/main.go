package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"price-alert-bot/config"
	"price-alert-bot/internal/commands"
	"price-alert-bot/internal/console"
	"price-alert-bot/internal/database"
	"price-alert-bot/internal/metrics"
	"price-alert-bot/internal/notify"
	"price-alert-bot/internal/price"
	"price-alert-bot/internal/supervisor"
	"price-alert-bot/internal/telegram"
	"price-alert-bot/internal/watcher"
	"price-alert-bot/lib/translation"

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	config.InitConfig()
	setupLogging()
}

func main() {
	translation.Configure("locales", strings.ToLower(config.GetString("lang")))

	store, err := database.Open(config.GetString("db_path"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	botMetrics := metrics.New(prometheus.DefaultRegisterer)
	botMetrics.LoadFromDB(store)

	prices := price.NewCache(
		price.NewPaprika(config.GetString("api_pro_key"), config.GetDuration("fetch_timeout")),
		config.GetDuration("quote_ttl"),
	)

	mode := config.Mode()
	var (
		bot            *telegram.Bot
		terminal       *notify.Console
		sink           supervisor.Sink
		alertsDisabled bool
	)
	switch mode {
	case "telegram":
		bot, err = telegram.NewBot(telegram.BotConfig{
			Token:          config.GetString("telegram_bot_token"),
			Debug:          config.GetBool("debug"),
			UpdatesTimeout: 60,
		})
		if err != nil {
			log.Fatalf("Failed to create bot: %v", err)
		}

		chatID := config.GetInt64("notify_chat_id")
		if chatID == 0 {
			log.Warn("notify_chat_id is not set, new alerts are refused")
			alertsDisabled = true
			sink = notify.NewTelegram(bot.Bot)
		} else {
			sink = notify.NewTelegram(bot.Bot, chatID)
		}
	default:
		terminal = notify.NewConsole(os.Stdout)
		sink = terminal
	}

	alerts := supervisor.New(store, prices, sink, botMetrics, watcher.Config{
		PollInterval:  config.GetDuration("poll_interval"),
		FetchTimeout:  config.GetDuration("fetch_timeout"),
		NotifyTimeout: config.GetDuration("notify_timeout"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := alerts.Startup(ctx); err != nil {
		log.Fatalf("Failed to start alert supervisor: %v", err)
	}

	scheduler := gocron.NewScheduler(time.UTC)
	_, err = scheduler.Every(config.GetDuration("metrics_flush_interval")).WaitForSchedule().Do(func() {
		botMetrics.SaveToDB(store)
	})
	if err != nil {
		log.Errorf("Failed to schedule metrics flush: %v", err)
	}
	scheduler.StartAsync()

	server := launchMetricsAndHealthServer(config.GetInt("metrics_port"))

	handler := commands.NewHandler(alerts, prices, botMetrics)
	if alertsDisabled {
		handler.DisableAlerts(translation.Translate("New alerts are disabled because no notification chat is configured."))
	}
	switch mode {
	case "telegram":
		bot.Commands = handler
		updates, err := bot.GetUpdatesChannel()
		if err != nil {
			log.Fatalf("Failed to get updates channel: %v", err)
		}
		log.Infof("Telegram bot @%s is running", bot.Bot.Self.UserName)
		bot.HandleUpdates(ctx, updates)
		bot.Bot.StopReceivingUpdates()
	default:
		if err := console.Run(ctx, os.Stdin, terminal, handler); err != nil {
			log.Errorf("Console stopped: %v", err)
		}
	}

	log.Info("Shutting down...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to stop metrics server: %v", err)
	}

	// The supervisor closes the store, so metrics go first.
	botMetrics.SaveToDB(store)
	if err := alerts.Shutdown(); err != nil {
		log.Errorf("Failed to shut down alert supervisor: %v", err)
	}
	log.Info("Metrics saved, shutting down...")
}

func setupLogging() {
	log.SetLevel(log.ErrorLevel)
	if config.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	if levelName := config.GetString("log_level"); levelName != "" {
		level, err := log.ParseLevel(levelName)
		if err != nil {
			log.Errorf("Invalid log_level %q: %v", levelName, err)
		} else {
			log.SetLevel(level)
		}
	}

	if logFile := config.GetString("log_file"); logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			log.Errorf("Failed to create log directory: %v", err)
		} else {
			log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     7,
				Compress:   true,
			}))
		}
	}
	log.Debug("Starting price alert bot...")
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func launchMetricsAndHealthServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthCheckHandler)

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		log.Infof("Launching metrics and health endpoint on :%d", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics and health server failed: %v", err)
		}
	}()
	return server
}
