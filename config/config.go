package config

import (
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var once sync.Once

func InitConfig() {
	once.Do(func() {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Warnf("Failed to load .env file: %v", err)
		}

		viper.AutomaticEnv()

		viper.BindEnv("metrics_port", "METRICS_PORT")
		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("notify_chat_id", "NOTIFY_CHAT_ID")
		viper.BindEnv("api_pro_key", "API_PRO_KEY")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("lang", "LANG")
		viper.BindEnv("db_path", "DB_PATH")
		viper.BindEnv("poll_interval", "POLL_INTERVAL")
		viper.BindEnv("fetch_timeout", "FETCH_TIMEOUT")
		viper.BindEnv("notify_timeout", "NOTIFY_TIMEOUT")
		viper.BindEnv("quote_ttl", "QUOTE_TTL")
		viper.BindEnv("mode", "MODE")
		viper.BindEnv("log_level", "LOG_LEVEL")
		viper.BindEnv("log_file", "LOG_FILE")
		viper.BindEnv("metrics_flush_interval", "METRICS_FLUSH_INTERVAL")

		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("debug", false)
		viper.SetDefault("lang", "en")
		viper.SetDefault("db_path", "data/alerts.db")
		viper.SetDefault("poll_interval", 30*time.Second)
		viper.SetDefault("fetch_timeout", 10*time.Second)
		viper.SetDefault("notify_timeout", 10*time.Second)
		viper.SetDefault("quote_ttl", 15*time.Second)
		viper.SetDefault("metrics_flush_interval", 5*time.Minute)
	})
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetInt64(key string) int64 {
	InitConfig()
	return viper.GetInt64(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}

func GetDuration(key string) time.Duration {
	InitConfig()
	return viper.GetDuration(key)
}

// Mode returns "telegram" or "console". Without an explicit mode the bot runs on
// Telegram when a token is configured.
func Mode() string {
	switch mode := GetString("mode"); mode {
	case "telegram", "console":
		return mode
	case "":
	default:
		log.Warnf("Unknown mode %q, picking one from the configuration", mode)
	}

	if GetString("telegram_bot_token") != "" {
		return "telegram"
	}
	return "console"
}
