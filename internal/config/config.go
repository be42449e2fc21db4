package config

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL     string        `mapstructure:"API_BASE_URL" validate:"required,url"`
	SocketURL      string        `mapstructure:"SOCKET_URL" validate:"required,url"`
	AuthToken      string        `mapstructure:"AUTH_TOKEN"`
	AppOrigin      string        `mapstructure:"APP_ORIGIN" validate:"required,url"`
	ConnectTimeout time.Duration `mapstructure:"CONNECT_TIMEOUT" validate:"gt=0"`
	ReconnectDelay time.Duration `mapstructure:"RECONNECT_DELAY" validate:"gt=0"`
	RetryDelay     time.Duration `mapstructure:"RETRY_DELAY" validate:"gt=0"`
	HistoryLimit   int           `mapstructure:"HISTORY_LIMIT" validate:"gt=0"`
	FallbackLat    float64       `mapstructure:"FALLBACK_LAT" validate:"gte=-90,lte=90"`
	FallbackLng    float64       `mapstructure:"FALLBACK_LNG" validate:"gte=-180,lte=180"`
}

func Load() (Config, error) {
	viper.AutomaticEnv()
	viper.SetDefault("API_BASE_URL", "http://localhost:5000/api")
	viper.SetDefault("SOCKET_URL", "ws://localhost:5000/socket")
	viper.SetDefault("APP_ORIGIN", "http://localhost:3000")
	viper.SetDefault("CONNECT_TIMEOUT", "20s")
	viper.SetDefault("RECONNECT_DELAY", "1s")
	viper.SetDefault("RETRY_DELAY", "3s")
	viper.SetDefault("HISTORY_LIMIT", 500)
	viper.SetDefault("FALLBACK_LAT", 51.5074)
	viper.SetDefault("FALLBACK_LNG", -0.1278)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
