package config

import (
	"log"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	IsDebug  bool   `yaml:"is_debug" env:"OCPP_DEBUG" env-default:"false"`
	TimeZone string `yaml:"time_zone" env:"OCPP_TIME_ZONE" env-default:"UTC"`
	Listen   struct {
		BindIP   string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port     string `yaml:"port" env:"OCPP_PORT" env-default:"5000"`
		TLS      bool   `yaml:"tls_enabled" env-default:"false"`
		CertFile string `yaml:"cert_file" env-default:""`
		KeyFile  string `yaml:"key_file" env-default:""`
	} `yaml:"listen"`
	Api struct {
		BindIP string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port   string `yaml:"port" env:"OCPP_API_PORT" env-default:"5001"`
	} `yaml:"api"`
	Ocpp struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env-default:"300s"`
		SweepInterval     time.Duration `yaml:"sweep_interval" env-default:"30s"`
		PendingSweep      time.Duration `yaml:"pending_sweep" env-default:"1s"`
		Retention         time.Duration `yaml:"retention" env-default:"10m"`
		WriteTimeout      time.Duration `yaml:"write_timeout" env-default:"10s"`
		RejectUnknown     bool          `yaml:"reject_unknown" env-default:"false"`
	} `yaml:"ocpp"`
	Commands struct {
		DefaultTimeout time.Duration `yaml:"default_timeout" env-default:"30s"`
		ResetTimeout   time.Duration `yaml:"reset_timeout" env-default:"30s"`
		UnlockTimeout  time.Duration `yaml:"unlock_timeout" env-default:"10s"`
		LogQueueLength int           `yaml:"log_queue_length" env-default:"1000"`
	} `yaml:"commands"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:""`
		Password string `yaml:"password" env:"MONGO_PASSWORD" env-default:""`
		Database string `yaml:"database" env-default:"ocpp"`
	} `yaml:"mongo"`
	Postgres struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		Url     string `yaml:"url" env:"POSTGRES_URL" env-default:""`
	} `yaml:"postgres"`
	Redis struct {
		Enabled  bool          `yaml:"enabled" env-default:"false"`
		Address  string        `yaml:"address" env-default:"127.0.0.1:6379"`
		Password string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
		DB       int           `yaml:"db" env-default:"0"`
		TTL      time.Duration `yaml:"ttl" env-default:"15m"`
	} `yaml:"redis"`
	Nats struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		Url     string `yaml:"url" env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
		Subject string `yaml:"subject" env-default:"ocpp.events"`
	} `yaml:"nats"`
	Telegram struct {
		Enabled bool    `yaml:"enabled" env-default:"false"`
		ApiKey  string  `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
		ChatIds []int64 `yaml:"chat_ids"`
	} `yaml:"telegram"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BindIP  string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port    string `yaml:"port" env-default:"9100"`
	} `yaml:"metrics"`
	Alerts struct {
		Cooldown time.Duration `yaml:"cooldown" env-default:"5m"`
	} `yaml:"alerts"`
	Billing struct {
		PricePerKwh float64 `yaml:"price_per_kwh" env-default:"0"`
		Currency    string  `yaml:"currency" env-default:"EUR"`
	} `yaml:"billing"`
}

var instance *Config
var once sync.Once

func GetConfig(path string) (*Config, error) {
	var err error
	once.Do(func() {
		log.Println("reading config from", path)
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			log.Println(desc)
			instance = nil
		}
	})
	return instance, err
}

// HeartbeatTimeout is the silence after which a station is considered gone
func (c *Config) HeartbeatTimeout() time.Duration {
	return c.Ocpp.HeartbeatInterval*2 + 10*time.Second
}

func (c *Config) Location() *time.Location {
	location, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return location
}
