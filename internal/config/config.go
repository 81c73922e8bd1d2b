package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type TURNServer struct {
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Credential string `mapstructure:"credential"`
}

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	Secret    string `mapstructure:"secret"`
	ReadLimit int64  `mapstructure:"read_limit"`

	PingPeriod  time.Duration `mapstructure:"ping_period"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	WriteWait   time.Duration `mapstructure:"write_wait"`

	SendBuffer     int           `mapstructure:"send_buffer"`
	KickAfterDrops int           `mapstructure:"kick_after_drops"`
	RingingTimeout time.Duration `mapstructure:"ringing_timeout"`
	PresenceGrace  time.Duration `mapstructure:"presence_grace"`

	// Server-side typing backstop: at most TypingBurst frames per
	// TypingWindow per user. TypingBurst 0 disables it.
	TypingBurst  int           `mapstructure:"typing_burst"`
	TypingWindow time.Duration `mapstructure:"typing_window"`

	STUNServers []string     `mapstructure:"stun_servers"`
	TURNServers []TURNServer `mapstructure:"turn_servers"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 16384)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("auth_timeout", "10s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("kick_after_drops", 8)
	v.SetDefault("ringing_timeout", "30s")
	v.SetDefault("presence_grace", "2s")
	v.SetDefault("typing_burst", 5)
	v.SetDefault("typing_window", "3s")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d\n", cfg.Mode, cfg.Port)
	return &cfg, nil
}
