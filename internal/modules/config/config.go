package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB string `yaml:"db_dsn"`

	Bridge struct {
		URL string `yaml:"url"`
	} `yaml:"bridge"`
	Agents struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"-"`
	} `yaml:"agents"`
	Feed struct {
		URL     string `yaml:"url"`
		Enabled bool   `yaml:"enabled"`
	} `yaml:"feed"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	Coin string `yaml:"coin"`

	// Durations come from env only, yaml does not decode "15m" style values.
	CycleInterval time.Duration `yaml:"-"`

	// Orders above this notional require manual confirmation; 0 = execute everything.
	AutoApproveUSD float64       `yaml:"auto_approve_usd"`
	ConfirmTimeout time.Duration `yaml:"-"`

	Shadow struct {
		FeeRate      float64 `yaml:"fee_rate"`
		SlippageRate float64 `yaml:"slippage_rate"`
	} `yaml:"shadow"`
}

func NewConfig() (*Config, error) {

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{
		Coin:           getenvDefault("COIN", "BTC"),
		CycleInterval:  durationFromEnv("CYCLE_INTERVAL", "15m"),
		AutoApproveUSD: floatFromEnv("AUTO_APPROVE_USD", 0),
		ConfirmTimeout: durationFromEnv("CONFIRM_TIMEOUT", "60s"),
	}
	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}
	if v := int64FromEnv("TELEGRAM_CHAT_ID", 0); v != 0 {
		config.Telegram.ChatID = v
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}
	if v := os.Getenv("BRIDGE_URL"); v != "" {
		config.Bridge.URL = v
	}
	if v := os.Getenv("AGENTS_URL"); v != "" {
		config.Agents.URL = v
	}
	config.Agents.Timeout = durationFromEnv("AGENTS_TIMEOUT", "120s")

	if config.Metrics.Addr == "" {
		config.Metrics.Addr = getenvDefault("METRICS_ADDR", ":9091")
	}

	return &config, nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func int64FromEnv(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
