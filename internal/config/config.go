package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Mongo struct {
	URI      string // full connection string; wins over the parts below
	User     string
	Pass     string
	Cluster  string // e.g. cluster0.abcde.mongodb.net
	Database string
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	NsqdHTTPAddr   string // e.g. nsqd:4151
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	DLQTopic       string // Dead letter topic for exhausted notifications
}

type Worker struct {
	Interval        time.Duration // Fixed period between dispatch ticks
	MaxAttempts     int           // Maximum delivery attempts per notification
	Concurrency     int           // Parallel deliveries within one tick
	DeliveryTimeout time.Duration // Upper bound for one send call
	PublishDLQ      bool          // Whether to publish exhausted notifications to NSQ
	HTTPPort        string        // Worker HTTP health/metrics port
}

type Mail struct {
	Transport     string // smtp | relay | disabled
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPass      string
	From          string
	RelayURL      string // HTTP mail relay endpoint
	RelaySecret   string // HMAC secret for relay signatures
	RelayTimeout  time.Duration
	SignatureHdr  string
	TimestampHdr  string
	DefaultSender string // used when From and SMTPUser are empty
}

type Auth struct {
	Mode         string // jwt | header
	PublicKeyPEM string
	JWKSURL      string
	Issuer       string
	Audience     string
	EmailHeader  string // trusted upstream identity header (header mode)
}

type FakeReceiver struct {
	FailFirstN           int           // Number of requests to fail initially
	RelaySecret          string        // Secret for relay signature verification
	SigningLeewaySeconds int           // Allowed timestamp skew in seconds
	ResponseDelayMS      int           // Simulated response delay in milliseconds
	Port                 string        // Server listen port
	ReadTimeout          time.Duration // HTTP read timeout
	WriteTimeout         time.Duration // HTTP write timeout
	IdleTimeout          time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080
	GRPCPort     string // :50051
	StoreDriver  string // postgres | mongo | memory
	DB           DB
	Mongo        Mongo
	NSQ          NSQ
	Worker       Worker
	Mail         Mail
	Auth         Auth
	FakeReceiver FakeReceiver
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

// port normalizes "8083" and ":8083" to ":8083"
func port(p string) string {
	if p == "" || strings.HasPrefix(p, ":") {
		return p
	}
	return ":" + p
}

func FromEnv() Config {
	return Config{
		AppName:     getenv("APP_NAME", "harborremind"),
		HTTPPort:    port(getenv("HTTP_PORT", ":8080")),
		GRPCPort:    port(getenv("GRPC_PORT", ":50051")),
		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", "postgres")),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "harborremind"),
		},
		Mongo: Mongo{
			URI:      getenv("MONGO_URI", ""),
			User:     getenv("MONGO_USER", ""),
			Pass:     getenv("MONGO_PASS", ""),
			Cluster:  getenv("MONGO_CLUSTER", ""),
			Database: getenv("MONGO_DB", "BillManagementDB"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:   getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "notifications_dlq"),
		},
		Worker: Worker{
			Interval:        getenvDuration("WORKER_INTERVAL", time.Minute),
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 3),
			Concurrency:     getenvInt("WORKER_CONCURRENCY", 4),
			DeliveryTimeout: getenvDuration("DELIVERY_TIMEOUT", 30*time.Second),
			PublishDLQ:      getenvBool("PUBLISH_DLQ_TOPIC", false),
			HTTPPort:        port(getenv("WORKER_HTTP_PORT", "8083")),
		},
		Mail: Mail{
			Transport:     strings.ToLower(getenv("MAIL_TRANSPORT", "smtp")),
			SMTPHost:      getenv("SMTP_HOST", ""),
			SMTPPort:      getenvInt("SMTP_PORT", 587),
			SMTPUser:      getenv("SMTP_USER", ""),
			SMTPPass:      getenv("SMTP_PASS", ""),
			From:          getenv("SMTP_FROM", ""),
			RelayURL:      getenv("MAIL_RELAY_URL", "http://fake-receiver:8081/mail"),
			RelaySecret:   getenv("MAIL_RELAY_SECRET", ""),
			RelayTimeout:  getenvDuration("MAIL_RELAY_TIMEOUT", 15*time.Second),
			SignatureHdr:  getenv("MAIL_RELAY_SIGNATURE_HEADER", "X-HarborRemind-Signature"),
			TimestampHdr:  getenv("MAIL_RELAY_TIMESTAMP_HEADER", "X-HarborRemind-Timestamp"),
			DefaultSender: getenv("MAIL_DEFAULT_SENDER", "no-reply@smartbills.com"),
		},
		Auth: Auth{
			Mode:         strings.ToLower(getenv("AUTH_MODE", "jwt")),
			PublicKeyPEM: getenv("JWT_PUBLIC_KEY", ""),
			JWKSURL:      getenv("JWKS_URL", "http://jwks-server:8082/.well-known/jwks.json"),
			Issuer:       getenv("JWT_ISSUER", "harborremind-auth"),
			Audience:     getenv("JWT_AUDIENCE", "harborremind-api"),
			EmailHeader:  getenv("AUTH_EMAIL_HEADER", "X-User-Email"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			RelaySecret:          getenv("MAIL_RELAY_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			ResponseDelayMS:      getenvInt("RESPONSE_DELAY_MS", 0),
			Port:                 port(getenv("FAKE_RECEIVER_PORT", ":8081")),
			ReadTimeout:          getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}

// MongoURI returns MONGO_URI when set, otherwise an Atlas-style SRV URI built from parts
func (c Config) MongoURI() string {
	if c.Mongo.URI != "" {
		return c.Mongo.URI
	}
	return fmt.Sprintf("mongodb+srv://%s:%s@%s/%s?retryWrites=true&w=majority",
		c.Mongo.User, url.QueryEscape(c.Mongo.Pass), c.Mongo.Cluster, c.Mongo.Database)
}

// MailFrom returns the From header used for outgoing reminders
func (c Config) MailFrom() string {
	if c.Mail.From != "" {
		return c.Mail.From
	}
	user := c.Mail.SMTPUser
	if user == "" {
		user = c.Mail.DefaultSender
	}
	return fmt.Sprintf("SmartBills <%s>", user)
}

// SMTPEnabled reports whether every SMTP setting needed to send mail is present
func (c Config) SMTPEnabled() bool {
	return c.Mail.SMTPHost != "" && c.Mail.SMTPPort > 0 && c.Mail.SMTPUser != "" && c.Mail.SMTPPass != ""
}
