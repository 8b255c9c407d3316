package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
	// LedgerEnabled turns on the push delivery ledger. The task store never touches Postgres.
	LedgerEnabled bool
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	PushTopic      string // queued webhook pushes
	DLQTopic       string // failed pushes
	WorkerChannel  string // channel consumed by push-worker
}

type Push struct {
	Enabled         bool          // advertise and accept push notification configs
	Dispatcher      string        // direct | nsq
	VerifyTimeout   time.Duration // ownership challenge timeout
	DeliveryTimeout time.Duration // single POST timeout
	PublishDLQ      bool          // publish failed pushes to the DLQ topic
	SigningKeyPEM   string        // RSA private key, generated at start when empty
	KeyID           string        // kid advertised in the JWKS and JWT header
	WorkerHTTPPort  string        // push-worker metrics/health port
	NotifyHeader    string        // header that echoes the caller's push token
}

type LLM struct {
	APIKey        string
	BaseURL       string // empty uses the OpenAI default
	Model         string
	Timeout       time.Duration
	MaxToolRounds int
}

type Exchange struct {
	BaseURL string
	Timeout time.Duration
}

type Agent struct {
	SessionTTL    time.Duration // idle time before a session's memory is dropped
	SweepInterval time.Duration
}

type Receiver struct {
	Port            string
	JWKSURL         string
	IATLeeway       time.Duration
	FailFirstN      int // fail the first N pushes with 503
	ResponseDelayMS int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
}

type Config struct {
	AppName   string
	HTTPPort  string // :8080
	GRPCPort  string // :50051
	PublicURL string // URL advertised in the agent card
	DB        DB
	NSQ       NSQ
	Push      Push
	LLM       LLM
	Exchange  Exchange
	Agent     Agent
	Receiver  Receiver

	// SSEKeepAlive is the interval of comment frames on idle event streams. Zero disables them.
	SSEKeepAlive time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:   getenv("APP_NAME", "harbor-agent"),
		HTTPPort:  getenv("HTTP_PORT", ":8080"),
		GRPCPort:  getenv("GRPC_PORT", ":50051"),
		PublicURL: getenv("PUBLIC_URL", "http://localhost:8080/"),

		SSEKeepAlive: getenvDuration("SSE_KEEPALIVE", 15*time.Second),
		DB: DB{
			User:          getenv("DB_USER", "postgres"),
			Pass:          getenv("DB_PASS", "postgres"),
			Host:          getenv("DB_HOST", "postgres"),
			Port:          getenv("DB_PORT", "5432"),
			Name:          getenv("DB_NAME", "harboragent"),
			LedgerEnabled: getenvBool("PUSH_LEDGER_ENABLED", false),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			PushTopic:      getenv("NSQ_PUSH_TOPIC", "a2a_pushes"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "a2a_pushes_dlq"),
			WorkerChannel:  getenv("NSQ_WORKER_CHANNEL", "push-workers"),
		},
		Push: Push{
			Enabled:         getenvBool("PUSH_ENABLED", true),
			Dispatcher:      getenv("PUSH_DISPATCHER", "direct"),
			VerifyTimeout:   getenvDuration("PUSH_VERIFY_TIMEOUT", 10*time.Second),
			DeliveryTimeout: getenvDuration("PUSH_DELIVERY_TIMEOUT", 10*time.Second),
			PublishDLQ:      getenvBool("PUBLISH_DLQ_TOPIC", false),
			SigningKeyPEM:   getenv("JWT_PRIVATE_KEY", ""),
			KeyID:           getenv("JWT_KEY_ID", "harbor-agent-1"),
			WorkerHTTPPort:  ":" + getenv("WORKER_HTTP_PORT", "8083"),
			NotifyHeader:    getenv("PUSH_TOKEN_HEADER", "X-A2A-Notification-Token"),
		},
		LLM: LLM{
			APIKey:        getenv("OPENAI_API_KEY", ""),
			BaseURL:       getenv("OPENAI_BASE_URL", ""),
			Model:         getenv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout:       getenvDuration("LLM_TIMEOUT", 60*time.Second),
			MaxToolRounds: getenvInt("LLM_MAX_TOOL_ROUNDS", 5),
		},
		Exchange: Exchange{
			BaseURL: getenv("EXCHANGE_BASE_URL", "https://api.frankfurter.app"),
			Timeout: getenvDuration("EXCHANGE_TIMEOUT", 10*time.Second),
		},
		Agent: Agent{
			SessionTTL:    getenvDuration("SESSION_TTL", 30*time.Minute),
			SweepInterval: getenvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Receiver: Receiver{
			Port:            getenv("RECEIVER_PORT", ":8081"),
			JWKSURL:         getenv("JWKS_URL", "http://agentd:8080/.well-known/jwks.json"),
			IATLeeway:       getenvDuration("SIGNING_LEEWAY", 5*time.Minute),
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			ReadTimeout:     getenvDuration("RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
