// Package app runs a long lived HTTP service process: configuration, logging,
// the debug server, memory ballast, scheduled restarts and graceful shutdown.
package app

import (
	"context"
	"crypto/tls"
	"expvar"
	"flag"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	metrics_util "github.com/code-payments/custody-program/pkg/metrics"
	"github.com/code-payments/custody-program/pkg/osutil"
)

// App is a long lived application that serves requests on a listener owned
// by Run.
//
// The app is initialized before it starts serving, and stopped after Run has
// decided to shut down.
type App interface {
	// Init initializes the application. When Init returns, the application
	// must be ready to Serve.
	Init(config Config, metricsProvider *newrelic.Application) error

	// Serve serves requests on the listener until Stop is called.
	Serve(lis net.Listener) error

	// Gatherer returns the application's prometheus metrics, or nil.
	Gatherer() prometheus.Gatherer

	// ShutdownChan returns a channel that is closed when the application
	// wants the process to exit.
	ShutdownChan() <-chan struct{}

	// Stop stops the application and releases its resources. Stop must be
	// idempotent.
	Stop(ctx context.Context)
}

var (
	configPath = flag.String("config", "config.yaml", "configuration file path")

	osSigCh = make(chan os.Signal, 1)
)

func init() {
	signal.Notify(osSigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
}

func Run(app App) error {
	flag.Parse()

	logger := logrus.StandardLogger().WithField("type", "app")

	config, err := loadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Error("failed to load config")
		os.Exit(1)
	}

	var metricsProvider *newrelic.Application
	if len(config.NewRelicLicenseKey) > 0 {
		nr, err := newrelic.NewApplication(
			newrelic.ConfigFromEnvironment(),
			newrelic.ConfigAppName(config.AppName),
			newrelic.ConfigLicense(config.NewRelicLicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.WithError(err).Error("error connecting to new relic")
			os.Exit(1)
		}

		metricsProvider = nr
	}

	configureLogger(config, metricsProvider)

	// pprof and expvar install themselves on the default mux, which must not
	// be reachable from the public listener.
	http.DefaultServeMux = http.NewServeMux()

	var ballast []byte
	if config.EnableBallast {
		ballast = make([]byte, ballastSize(config.BallastCapacity, osutil.GetTotalMemory()))
	}

	restartCh := make(chan struct{})
	if config.EnableRestartCron {
		cronJob := cron.New(cron.WithLocation(time.Local))
		_, err = cronJob.AddFunc(config.RestartCronSchedule, func() {
			close(restartCh)
		})
		if err != nil {
			logger.WithError(err).Error("failed to initialize restart cron")
			os.Exit(1)
		}
		cronJob.Start()
	}

	lis, err := listen(config)
	if err != nil {
		logger.WithError(err).Errorf("failed to listen on %s", config.ListenAddress)
		os.Exit(1)
	}

	if err := app.Init(config.AppConfig, metricsProvider); err != nil {
		logger.WithError(err).Error("failed to initialize application")
		os.Exit(1)
	}

	if debugMux := newDebugMux(config, app.Gatherer()); debugMux != nil {
		go func() {
			for {
				if err := http.ListenAndServe(config.DebugListenAddress, debugMux); err != nil {
					logger.WithError(err).Warn("Debug HTTP server failed. Retrying in 5s...")
				}
				time.Sleep(5 * time.Second)
			}
		}()
	}

	servShutdownCh := make(chan struct{})
	go func() {
		if err := app.Serve(lis); err != nil {
			logger.WithError(err).Error("serve stopped")
		} else {
			logger.Info("server stopped")
		}

		close(servShutdownCh)
	}()

	logger.WithField("address", lis.Addr().String()).Info("serving")

	select {
	case <-osSigCh:
		logger.Info("interrupt received, shutting down")
	case <-servShutdownCh:
		logger.Info("server shutdown")
	case <-restartCh:
		logger.Info("scheduled restart")
	case <-app.ShutdownChan():
		logger.Info("app shutdown")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod)
	defer cancel()

	shutdownCh := make(chan struct{})
	go func() {
		app.Stop(ctx)
		close(shutdownCh)
	}()

	select {
	case <-shutdownCh:
		if len(ballast) > 0 {
			ballast[0] = 1
		}

		return nil
	case <-ctx.Done():
		return errors.Errorf("failed to stop the application within %v", config.ShutdownGracePeriod)
	}
}

// loadConfig reads the optional config file at path and applies environment
// overrides on top of the defaults.
func loadConfig(path string) (BaseConfig, error) {
	// viper only returns ConfigFileNotFoundError while searching for a default
	// file, so a missing explicit path is detected here.
	if _, err := os.Stat(path); err == nil {
		viper.SetConfigFile(path)
	} else if !os.IsNotExist(err) {
		return BaseConfig{}, errors.Wrap(err, "failed to check if config exists")
	}

	err := viper.ReadInConfig()
	_, isConfigNotFound := err.(viper.ConfigFileNotFoundError)
	if err != nil && !isConfigNotFound {
		return BaseConfig{}, errors.Wrap(err, "failed to read config")
	}

	config := defaultConfig
	if err := viper.Unmarshal(&config); err != nil {
		return BaseConfig{}, errors.Wrap(err, "failed to unmarshal config")
	}

	if len(config.AppName) == 0 {
		return BaseConfig{}, errors.New("must specify an application name")
	}
	if len(config.TLSCertificate) > 0 && len(config.TLSKey) == 0 {
		return BaseConfig{}, errors.New("tls key must be provided if certificate is specified")
	}

	return config, nil
}

func listen(config BaseConfig) (net.Listener, error) {
	lis, err := net.Listen("tcp", config.ListenAddress)
	if err != nil {
		return nil, err
	}

	if len(config.TLSCertificate) == 0 {
		return lis, nil
	}

	certBytes, err := LoadFile(config.TLSCertificate)
	if err != nil {
		lis.Close()
		return nil, errors.Wrap(err, "failed to load tls certificate")
	}

	keyBytes, err := LoadFile(config.TLSKey)
	if err != nil {
		lis.Close()
		return nil, errors.Wrap(err, "failed to load tls key")
	}

	cert, err := tls.X509KeyPair(certBytes, keyBytes)
	if err != nil {
		lis.Close()
		return nil, errors.Wrap(err, "invalid certificate/private key")
	}

	return tls.NewListener(lis, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// newDebugMux returns the handlers for the debug server, or nil when every
// debug endpoint is disabled.
func newDebugMux(config BaseConfig, gatherer prometheus.Gatherer) *http.ServeMux {
	if !config.EnableExpvar && !config.EnablePprof && !config.EnableMetrics {
		return nil
	}

	mux := http.NewServeMux()
	if config.EnableExpvar {
		mux.Handle("/debug/vars", expvar.Handler())
	}
	if config.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	if config.EnableMetrics {
		runtimeRegistry := prometheus.NewRegistry()
		runtimeRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		gatherers := prometheus.Gatherers{runtimeRegistry}
		if gatherer != nil {
			gatherers = append(gatherers, gatherer)
		}
		mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	}
	return mux
}

func ballastSize(capacity float32, totalMemory uint64) uint64 {
	if capacity > 0.5 {
		capacity = 0.5
	}
	if capacity < 0 {
		capacity = 0
	}
	return uint64(capacity * float32(totalMemory))
}

func configureLogger(config BaseConfig, metricsProvider *newrelic.Application) {
	if metricsProvider != nil {
		logrus.SetFormatter(metrics_util.NewCustomNewRelicLogFormatter(metricsProvider, &logrus.JSONFormatter{}))
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		logrus.StandardLogger().WithField("log_level", config.LogLevel).Warn("unknown log level, ignoring")
	} else {
		logrus.SetLevel(level)
	}

	logrus.SetOutput(os.Stdout)
}
