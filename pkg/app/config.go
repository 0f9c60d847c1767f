package app

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the application specific configuration passed to App.Init.
type Config map[string]interface{}

// BaseConfig contains the process level configuration along with the
// application's own section.
type BaseConfig struct {
	LogLevel string `mapstructure:"log_level"`

	AppName string `mapstructure:"app_name"`

	ListenAddress      string `mapstructure:"listen_address"`
	DebugListenAddress string `mapstructure:"debug_listen_address"`

	// TLSCertificate and TLSKey are optional URLs for serving over TLS. Only
	// the file scheme is registered by default, and a URL without a scheme is
	// treated as a local path.
	TLSCertificate string `mapstructure:"tls_certificate"`
	TLSKey         string `mapstructure:"tls_private_key"`

	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`

	EnablePprof   bool `mapstructure:"enable_pprof"`
	EnableExpvar  bool `mapstructure:"enable_expvar"`
	EnableMetrics bool `mapstructure:"enable_metrics"`

	// Ballast capacity is capped at 50% of the total memory.
	EnableBallast   bool    `mapstructure:"enable_ballast"`
	BallastCapacity float32 `mapstructure:"ballast_capacity"`

	EnableRestartCron   bool   `mapstructure:"enable_restart_cron"`
	RestartCronSchedule string `mapstructure:"restart_cron_schedule"`

	NewRelicLicenseKey string `mapstructure:"new_relic_license_key"`

	AppConfig Config `mapstructure:"app"`
}

var defaultConfig = BaseConfig{
	LogLevel: "info",

	AppName: "custody-localnet",

	ListenAddress:      "localhost:8899",
	DebugListenAddress: "localhost:8123",

	ShutdownGracePeriod: 30 * time.Second,

	EnablePprof:   true,
	EnableExpvar:  true,
	EnableMetrics: true,

	EnableBallast:   false,
	BallastCapacity: 0.25,

	EnableRestartCron:   false,
	RestartCronSchedule: "0 5 * * *",
}

func init() {
	_ = viper.BindEnv("log_level", "LOG_LEVEL")

	_ = viper.BindEnv("app_name", "APP_NAME")

	_ = viper.BindEnv("listen_address", "LISTEN_ADDRESS")
	_ = viper.BindEnv("debug_listen_address", "DEBUG_LISTEN_ADDRESS")

	_ = viper.BindEnv("tls_certificate", "TLS_CERTIFICATE")
	_ = viper.BindEnv("tls_private_key", "TLS_PRIVATE_KEY")

	_ = viper.BindEnv("shutdown_grace_period", "SHUTDOWN_GRACE_PERIOD")

	_ = viper.BindEnv("enable_pprof", "ENABLE_PPROF")
	_ = viper.BindEnv("enable_expvar", "ENABLE_EXPVAR")
	_ = viper.BindEnv("enable_metrics", "ENABLE_METRICS")

	_ = viper.BindEnv("enable_ballast", "ENABLE_BALLAST")
	_ = viper.BindEnv("ballast_capacity", "BALLAST_CAPACITY")

	_ = viper.BindEnv("enable_restart_cron", "ENABLE_RESTART_CRON")
	_ = viper.BindEnv("restart_cron_schedule", "RESTART_CRON_SCHEDULE")

	_ = viper.BindEnv("new_relic_license_key", "NEW_RELIC_LICENSE_KEY")
}
