package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/harbor_agent/internal/config"
	"github.com/austindbirch/harbor_agent/internal/db"
	"github.com/austindbirch/harbor_agent/internal/delivery"
	"github.com/austindbirch/harbor_agent/internal/health"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/notify"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

const (
	serviceName     = "harbor-agent-push-worker"
	maxInFlight     = 200
	backlogInterval = 15 * time.Second
)

func main() {
	cfg := config.FromEnv()
	logging.SetDefaultService(serviceName)
	logger := logging.New(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry tracing
	shutdown, err := tracing.InitTracing(ctx, serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	var checks []health.Check

	// Optional delivery ledger
	var ledger *notify.Ledger
	if cfg.DB.LedgerEnabled {
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			logger.Plain().WithError(err).Fatal("db connect failed")
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Plain().WithError(err).Fatal("ledger migration failed")
		}
		ledger = notify.NewLedger(pool)
		checks = append(checks, health.DBCheck(pool))
	}

	// DLQ producer
	var dlq notify.Publisher
	if cfg.Push.PublishDLQ {
		dlqProducer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlqProducer.Stop()
		dlq = dlqProducer
		checks = append(checks, health.QueueCheck(dlqProducer))
	}

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// HTTP health/metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(checks...))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Push.WorkerHTTPPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("push-worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("push-worker HTTP server failed")
		}
	}()

	// NSQ consumer
	conf := nsq.NewConfig()
	conf.MaxInFlight = maxInFlight
	consumer, err := nsq.NewConsumer(cfg.NSQ.PushTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.AddHandler(&pushHandler{
		ctx:      context.WithoutCancel(ctx),
		sender:   delivery.NewSender(cfg.Push.DeliveryTimeout, cfg.Push.NotifyHeader),
		recorder: notify.NewRecorder(ledger, dlq, cfg.NSQ.DLQTopic),
	})

	go newBacklogMonitor(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.PushTopic, cfg.NSQ.DLQTopic).run(ctx, backlogInterval)

	// Connecting directly to nsqd creates the channel before the first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().WithFields(map[string]any{
		"topic":   cfg.NSQ.PushTopic,
		"channel": cfg.NSQ.WorkerChannel,
	}).Info("push-worker started")

	<-ctx.Done()

	logger.Plain().Info("Shutting down push-worker")
	consumer.Stop()
	<-consumer.StopChan

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(sctx)
	logger.Plain().Info("push-worker stopped")
}
