package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	_ "go.uber.org/automaxprocs"

	"github.com/alexforster/goami/internal/ami"
	"github.com/alexforster/goami/internal/bridge"
	"github.com/alexforster/goami/internal/config"
	"github.com/alexforster/goami/internal/health"
	"github.com/alexforster/goami/internal/logging"
	"github.com/alexforster/goami/internal/metrics"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides AMI_LOG_LEVEL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "amicli: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = logging.LevelDebug
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sampler, err := health.NewSampler(cfg.HealthInterval, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create health sampler")
	}
	go sampler.Run(ctx)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Addr()).Msg("failed to dial AMI server")
	}

	client := ami.NewClient(
		ami.WithLogger(logger),
		ami.WithMailboxCapacity(cfg.MailboxCapacity),
	)
	client.DataSent = func(p []byte) { m.MessagesSent.Inc(); m.BytesSent.Add(float64(len(p))) }
	client.DataReceived = func(p []byte) { m.MessagesReceived.Inc(); m.BytesReceived.Add(float64(len(p))) }
	client.Stopped = func(cause error) {
		label := "voluntary"
		if cause != nil {
			label = "fault"
		}
		m.StopsTotal.WithLabelValues(label).Inc()
	}
	client.Dropped = func(ami.Subscriber) { m.DroppedEvents.Inc() }

	if err := client.Start(conn); err != nil {
		m.HandshakeFailures.Inc()
		logger.Fatal().Err(err).Msg("AMI handshake failed")
	}

	go sampleClientGauges(ctx, client, m, cfg.HealthInterval)

	ok, err := ami.Login(client, cfg.Username, cfg.Secret, cfg.UseMD5)
	if err != nil || !ok {
		logger.Fatal().Err(err).Bool("ok", ok).Msg("AMI login failed")
	}
	logger.Info().Str("addr", cfg.Addr()).Msg("logged in to AMI")

	var natsBridge *bridge.Bridge
	if cfg.NATSUrl != "" {
		nc, err := nats.Connect(cfg.NATSUrl)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to NATS, continuing without event bridge")
		} else {
			defer nc.Close()
			natsBridge = bridge.New(nc, m, bridge.WithLogger(logger))
			if err := natsBridge.Start(ctx, client); err != nil {
				logger.Error().Err(err).Msg("failed to start NATS bridge")
				natsBridge = nil
			} else {
				logger.Info().Str("url", cfg.NATSUrl).Msg("bridging AMI events to NATS")
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	if natsBridge != nil {
		natsBridge.Stop()
	}
	if ok, err := ami.Logoff(client); err != nil || !ok {
		logger.Warn().Err(err).Bool("ok", ok).Msg("logoff did not complete cleanly")
	}
	client.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	select {
	case <-client.Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("timed out waiting for client to stop")
	}
}

// sampleClientGauges periodically publishes the client's pending-request and
// subscriber counts as gauges, since those counters live inside the client
// and have no other natural place to be observed from.
func sampleClientGauges(ctx context.Context, client *ami.Client, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PendingActions.Set(float64(client.PendingCount()))
			m.Subscribers.Set(float64(client.SubscriberCount()))
		}
	}
}
