package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/harbor_agent/internal/agent"
	"github.com/austindbirch/harbor_agent/internal/auth"
	"github.com/austindbirch/harbor_agent/internal/config"
	"github.com/austindbirch/harbor_agent/internal/db"
	"github.com/austindbirch/harbor_agent/internal/delivery"
	"github.com/austindbirch/harbor_agent/internal/eventhub"
	"github.com/austindbirch/harbor_agent/internal/exchange"
	"github.com/austindbirch/harbor_agent/internal/grpcapi"
	"github.com/austindbirch/harbor_agent/internal/health"
	"github.com/austindbirch/harbor_agent/internal/jsonrpc"
	"github.com/austindbirch/harbor_agent/internal/llm"
	"github.com/austindbirch/harbor_agent/internal/logging"
	"github.com/austindbirch/harbor_agent/internal/metrics"
	"github.com/austindbirch/harbor_agent/internal/notify"
	"github.com/austindbirch/harbor_agent/internal/taskmanager"
	"github.com/austindbirch/harbor_agent/internal/taskstore"
	"github.com/austindbirch/harbor_agent/internal/tracing"
)

const shutdownTimeout = 20 * time.Second

// pushStack is everything push notifications need, plus what has to be
// closed when the process stops.
type pushStack struct {
	gateway  *notify.Gateway
	direct   *notify.DirectDispatcher // nil when pushes are queued
	producer *nsq.Producer            // nil when nothing publishes to nsqd
	pool     *pgxpool.Pool            // nil when the ledger is off
	checks   []health.Check
}

func (p *pushStack) close(ctx context.Context) {
	if p.direct != nil {
		if err := p.direct.Wait(ctx); err != nil {
			logging.Plain().WithError(err).Warn("in-flight pushes abandoned")
		}
	}
	if p.producer != nil {
		p.producer.Stop()
	}
	if p.pool != nil {
		p.pool.Close()
	}
}

func newPushStack(ctx context.Context, cfg config.Config, signer *auth.Signer) (*pushStack, error) {
	ps := &pushStack{}

	if cfg.DB.LedgerEnabled {
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		ps.pool = pool
		ps.checks = append(ps.checks, health.DBCheck(pool))
	}

	queued := cfg.Push.Dispatcher == "nsq"
	if queued || cfg.Push.PublishDLQ {
		prod, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			ps.close(ctx)
			return nil, fmt.Errorf("nsq producer: %w", err)
		}
		ps.producer = prod
		ps.checks = append(ps.checks, health.QueueCheck(prod))
	}

	var dispatcher notify.Dispatcher
	switch cfg.Push.Dispatcher {
	case "nsq":
		dispatcher = notify.NewNSQDispatcher(ps.producer, cfg.NSQ.PushTopic)
	case "direct", "":
		var ledger *notify.Ledger
		if ps.pool != nil {
			ledger = notify.NewLedger(ps.pool)
		}
		var dlq notify.Publisher
		if cfg.Push.PublishDLQ {
			dlq = ps.producer
		}
		ps.direct = notify.NewDirectDispatcher(
			delivery.NewSender(cfg.Push.DeliveryTimeout, cfg.Push.NotifyHeader),
			notify.NewRecorder(ledger, dlq, cfg.NSQ.DLQTopic),
		)
		dispatcher = ps.direct
	default:
		ps.close(ctx)
		return nil, fmt.Errorf("unknown push dispatcher %q", cfg.Push.Dispatcher)
	}

	ps.gateway = notify.NewGateway(notify.NewVerifier(cfg.Push.VerifyTimeout), signer, dispatcher)
	return ps, nil
}

func main() {
	cfg := config.FromEnv()
	logging.SetDefaultService(cfg.AppName)
	logger := logging.New(cfg.AppName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdownTracing()

	// Signing key and JWKS
	kp, generated, err := auth.LoadOrGenerateKey(cfg.Push.SigningKeyPEM, cfg.Push.KeyID)
	if err != nil {
		logger.Plain().WithError(err).Fatal("signing key load failed")
	}
	if generated {
		logger.Plain().WithField("kid", kp.KeyID).Warn("no JWT_PRIVATE_KEY set, generated an ephemeral signing key")
	}
	jwks, err := kp.PublicSet()
	if err != nil {
		logger.Plain().WithError(err).Fatal("jwks build failed")
	}

	// Push notifications
	var (
		push   taskmanager.Notifier
		pushes *pushStack
		checks []health.Check
	)
	if cfg.Push.Enabled {
		pushes, err = newPushStack(ctx, cfg, auth.NewSigner(kp))
		if err != nil {
			logger.Plain().WithError(err).Fatal("push setup failed")
		}
		push = pushes.gateway
		checks = pushes.checks
	}

	// Agent
	completer, err := llm.NewOpenAI(cfg.LLM)
	if err != nil {
		logger.Plain().WithError(err).Fatal("llm client setup failed")
	}
	sessions := agent.NewSessionStore(agent.SystemInstruction, cfg.Agent.SessionTTL)
	currency := agent.NewCurrencyAgent(
		completer,
		exchange.NewClient(cfg.Exchange.BaseURL, cfg.Exchange.Timeout),
		sessions,
		cfg.LLM.MaxToolRounds,
	)
	mgr := taskmanager.New(taskstore.New(), eventhub.New(), currency, push)

	// gRPC server
	grpcSrv := grpcapi.NewServer(grpcapi.NewService(mgr))
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)

	// HTTP mux: JSON-RPC, agent card, JWKS, REST reads, health, metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	gwmux, err := restRoutes(mgr)
	if err != nil {
		logger.Plain().WithError(err).Fatal("grpc-gateway routes failed")
	}
	card := jsonrpc.CurrencyAgentCard(cfg.PublicURL, mgr.PushEnabled(), mgr.SupportedContentTypes())

	mux := http.NewServeMux()
	mux.Handle("/", jsonrpc.NewServer(mgr, jsonrpc.WithKeepAlive(cfg.SSEKeepAlive)))
	mux.HandleFunc(jsonrpc.AgentCardPath, jsonrpc.AgentCardHandler(card))
	mux.HandleFunc("/.well-known/jwks.json", auth.JWKSHandler(jwks))
	mux.Handle("/v1/", gwmux)
	mux.HandleFunc("/healthz", health.HTTPHandler(checks...))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("gRPC listen: %w", err)
		}
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("agentd gRPC listening")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		logger.Plain().WithFields(map[string]any{
			"addr":       cfg.HTTPPort,
			"public_url": cfg.PublicURL,
			"push":       mgr.PushEnabled(),
			"dispatcher": cfg.Push.Dispatcher,
		}).Info("agentd HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sessions.Run(gctx, cfg.Agent.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Runs end first so open event streams receive their final event.
		if err := mgr.Shutdown(sctx); err != nil {
			logger.Plain().WithError(err).Warn("task runs did not finish before shutdown")
		}
		if err := httpSrv.Shutdown(sctx); err != nil {
			_ = httpSrv.Close()
		}
		grpcSrv.GracefulStop()
		if pushes != nil {
			pushes.close(sctx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Plain().WithError(err).Fatal("agentd failed")
	}
	logger.Plain().Info("agentd stopped")
}
