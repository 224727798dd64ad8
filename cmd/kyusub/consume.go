package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/venderneutral/kyusub"
	"github.com/venderneutral/kyusub/metrics"
	_ "github.com/venderneutral/kyusub/providers"
)

const (
	defaultURL   = "amqp://localhost:5672"
	defaultTopic = "MyTopic"
)

// Exit statuses besides 0 (SHUTDOWN received or interrupted) and 1 (error).
const (
	exitTimeout = 2
	exitClosed  = 3
)

// flagKeys maps consume flags to configuration keys.
var flagKeys = map[string]string{
	"provider":         "provider",
	"url":              "connection_string",
	"host":             "host",
	"port":             "port",
	"username":         "username",
	"password":         "password",
	"tls":              "use_tls",
	"queue":            "queue",
	"topic":            "topic",
	"subscription":     "subscription",
	"selector":         "selector",
	"ack-mode":         "ack_mode",
	"receive-timeout":  "receive_timeout",
	"sentinel":         "sentinel",
	"malformed-policy": "malformed_policy",
	"credit":           "credit",
	"container-id":     "container_id",
	"close-timeout":    "close_timeout",
}

type consumeOptions struct {
	configPath  string
	metricsAddr string
	log         logOptions
}

func newConsumeCmd() *cobra.Command {
	var opts consumeOptions

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Print text messages until SHUTDOWN arrives",
		Long: `Subscribe to a topic or queue and print each text message as
"Received = <body>". The command exits 0 when a SHUTDOWN message arrives or
when interrupted, 2 when --receive-timeout elapses without a message and 3
when the broker closes the connection.

Every flag can also be set as KYUSUB_<KEY> in the environment or in the
file given by --config, e.g. KYUSUB_CONNECTION_STRING.`,
		Example: `  # ActiveMQ on localhost, topic://MyTopic
  kyusub consume --selector "STREAM = '2.13'"

  # Amazon MQ queue with credentials from .env
  kyusub consume --provider amazonmq --url amqps://b-1234.mq.us-east-1.amazonaws.com:5671 --queue orders

  # Azure Service Bus topic subscription
  kyusub consume --provider azure --topic orders --subscription audit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsume(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML, JSON or TOML configuration file")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.StringVar(&opts.log.Level, "log-level", "info", "log level: debug, info, warn, error")
	f.StringVar(&opts.log.Format, "log-format", "console", "log format: console or json")
	f.StringVar(&opts.log.File, "log-file", "", "write logs to this file with rotation instead of stderr")

	f.String("provider", string(kyusub.ProviderActiveMQ), "broker provider: activemq, amazonmq, azure, memory")
	f.String("url", "", "connection string (default "+defaultURL+")")
	f.String("host", "", "broker host, used when --url is not set")
	f.Int("port", 0, "broker port (default 5671 with TLS, 5672 without)")
	f.String("username", "", "SASL PLAIN username")
	f.String("password", "", "SASL PLAIN password")
	f.Bool("tls", true, "use TLS when building the connection string from --host")
	f.String("queue", "", "queue name")
	f.String("topic", "", "topic name (default "+defaultTopic+" when no queue is given)")
	f.String("subscription", "", "durable subscription name for --topic")
	f.String("selector", "", "message selector, e.g. \"STREAM = '2.13'\"")
	f.String("ack-mode", string(kyusub.AckAuto), "acknowledgement mode: auto or client")
	f.Duration("receive-timeout", 0, "stop when no message arrives within this duration (0 waits forever)")
	f.String("sentinel", kyusub.DefaultSentinel, "message body that stops the consumer")
	f.String("malformed-policy", string(kyusub.PolicyFail), "non-text messages: fail or skip")
	f.Int("credit", 0, "link credit granted to the broker (0 uses the provider default)")
	f.String("container-id", "", "AMQP container ID (generated when empty)")
	f.Duration("close-timeout", kyusub.DefaultCloseTimeout, "time allowed to release the connection")

	return cmd
}

func runConsume(cmd *cobra.Command, opts consumeOptions) error {
	logger, err := newLogger(opts.log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(opts.configPath, cmd.Flags())
	if err != nil {
		return err
	}

	collector, stopMetrics, err := serveMetrics(opts.metricsAddr, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	client, err := kyusub.NewClient(cfg, kyusub.WithClientLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting consumer",
		zap.String("version", version),
		zap.String("provider", string(cfg.Provider)),
		zap.String("selector", cfg.Selector))

	outcome, err := client.Consume(ctx, kyusub.NewWriterSink(cmd.OutOrStdout()), kyusub.WithMetrics(collector))
	return exitStatus(outcome, err, ctx.Err() != nil)
}

// loadConfig layers flags over the environment over the config file, then
// fills in the local ActiveMQ defaults when no endpoint or destination is
// configured anywhere.
func loadConfig(path string, flags *pflag.FlagSet) (*kyusub.Config, error) {
	v := kyusub.NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, kyusub.ErrInvalidConfig(fmt.Sprintf("read %s: %v", path, err))
		}
	}
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if !v.IsSet("connection_string") && !v.IsSet("host") {
		v.SetDefault("connection_string", defaultURL)
	}
	if !v.IsSet("queue") && !v.IsSet("topic") {
		v.SetDefault("topic", defaultTopic)
	}
	return kyusub.ConfigFromViper(v)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// serveMetrics starts a /metrics endpoint on addr. With an empty addr the
// returned collector is nil and records nothing.
func serveMetrics(addr string, logger *zap.Logger) (*metrics.Collector, func(), error) {
	if addr == "" {
		return nil, func() {}, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.New(&metrics.Config{Registerer: reg})
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", ln.Addr().String()))

	return collector, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// exitStatus maps a consume result to the command error. A close caused
// by an interrupt is a clean exit.
func exitStatus(outcome kyusub.Outcome, err error, interrupted bool) error {
	if err != nil {
		return err
	}
	switch outcome {
	case kyusub.OutcomeShutdown:
		return nil
	case kyusub.OutcomeTimeout:
		return &exitError{code: exitTimeout, err: errors.New("no message received before the receive timeout")}
	case kyusub.OutcomeClosed:
		if interrupted {
			return nil
		}
		return &exitError{code: exitClosed, err: errors.New("connection closed before shutdown was requested")}
	}
	return fmt.Errorf("consumer stopped: %s", outcome)
}
