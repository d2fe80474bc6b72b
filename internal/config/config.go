package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Collab struct {
		MaxParticipantsCeiling int           `mapstructure:"max_participants_ceiling"`
		ViewersUnlimited       bool          `mapstructure:"viewers_unlimited"`
		MaxConcurrentSubmits   int           `mapstructure:"max_concurrent_submits"`
		RingSize               int           `mapstructure:"ring_size"`
		FlushInterval          time.Duration `mapstructure:"flush_interval"`
		FlushEveryOps          int           `mapstructure:"flush_every_ops"`
		IdleTimeout            time.Duration `mapstructure:"idle_timeout"`
		ReconnectGrace         time.Duration `mapstructure:"reconnect_grace"`
		HeartbeatTimeout       time.Duration `mapstructure:"heartbeat_timeout"`
		PresenceTTL            time.Duration `mapstructure:"presence_ttl"`
		CoalesceWindow         time.Duration `mapstructure:"coalesce_window"`
	} `mapstructure:"collab"`
}

// Load reads config.yaml from the usual locations, compatible with starting
// from the project root or the deploy directory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("running.port", 8080)
	v.SetDefault("kafka.topic", "session-ops")
	v.SetDefault("collab.max_participants_ceiling", 50)
	v.SetDefault("collab.viewers_unlimited", true)
	v.SetDefault("collab.max_concurrent_submits", 100)
	v.SetDefault("collab.ring_size", 1024)
	v.SetDefault("collab.flush_interval", "15s")
	v.SetDefault("collab.flush_every_ops", 200)
	v.SetDefault("collab.idle_timeout", "1h")
	v.SetDefault("collab.reconnect_grace", "30s")
	v.SetDefault("collab.heartbeat_timeout", "10s")
	v.SetDefault("collab.presence_ttl", "15s")
	v.SetDefault("collab.coalesce_window", "50ms")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
