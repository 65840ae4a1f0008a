package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Admin        AdminConfig
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Orders       OrdersConfig
	Outbox       OutboxConfig
	PendingSync  PendingSyncConfig
	Stream       StreamConfig
	Viewer       ViewerConfig
	Notify       NotifyConfig
	Sendgrid     SendgridConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Notify.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"APEX_APP_ENV" required:"true"`
	Port         string `envconfig:"APEX_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"APEX_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"APEX_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"APEX_LOG_FORMAT" default:"json"`
	ShopName     string `envconfig:"APEX_SHOP_NAME" default:"Apex Labs Australia"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"APEX_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"APEX_DB_DSN"`
	Driver string `envconfig:"APEX_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"APEX_DB_HOST"`
	LegacyPort     int    `envconfig:"APEX_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"APEX_DB_USER"`
	LegacyPassword string `envconfig:"APEX_DB_PASSWORD"`
	LegacyName     string `envconfig:"APEX_DB_NAME"`
	LegacySSLMode  string `envconfig:"APEX_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"APEX_DB_SQLITE_PATH" default:"data/orders.db"`

	MaxOpenConns    int           `envconfig:"APEX_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"APEX_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"APEX_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"APEX_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	WriteTimeout time.Duration `envconfig:"APEX_STORE_WRITE_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"APEX_STORE_READ_TIMEOUT" default:"5s"`

	// SlowQuery logs statements slower than this; zero disables query logging.
	SlowQuery time.Duration `envconfig:"APEX_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"APEX_REDIS_URL" required:"true"`
	Address      string        `envconfig:"APEX_REDIS_ADDR"`
	Password     string        `envconfig:"APEX_REDIS_PASSWORD"`
	DB           int           `envconfig:"APEX_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"APEX_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"APEX_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"APEX_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"APEX_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"APEX_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"APEX_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"APEX_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"APEX_JWT_EXPIRATION_MINUTES" default:"1440"`
}

// TTL returns the admin session lifetime.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type AdminConfig struct {
	PasswordHash string `envconfig:"APEX_ADMIN_PASSWORD_HASH"`
	CookieName   string `envconfig:"APEX_ADMIN_COOKIE_NAME" default:"admin_session"`
	CookieSecure bool   `envconfig:"APEX_ADMIN_COOKIE_SECURE" default:"true"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"APEX_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"APEX_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"APEX_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"APEX_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"APEX_ARGON_KEY_LEN" default:"32"`
}

// RateLimitConfig holds per-IP budgets; a zero window or limit disables a policy.
type RateLimitConfig struct {
	LoginWindow  time.Duration `envconfig:"APEX_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginIPLimit int           `envconfig:"APEX_RATE_LIMIT_LOGIN_IP_LIMIT" default:"10"`
	OrderWindow  time.Duration `envconfig:"APEX_RATE_LIMIT_ORDER_WINDOW" default:"1m"`
	OrderIPLimit int           `envconfig:"APEX_RATE_LIMIT_ORDER_IP_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"APEX_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"APEX_AUTO_MIGRATE" default:"false"`
}

type OrdersConfig struct {
	NodeID      int64  `envconfig:"APEX_ORDER_NODE_ID" default:"1"`
	CatalogPath string `envconfig:"APEX_CATALOG_PATH"`
	ListLimit   int    `envconfig:"APEX_ORDERS_LIST_LIMIT" default:"200"`
}

type OutboxConfig struct {
	FilePath    string        `envconfig:"APEX_OUTBOX_FILE" default:"data/pending-orders.json"`
	LockTimeout time.Duration `envconfig:"APEX_OUTBOX_LOCK_TIMEOUT" default:"5s"`
	LockRetry   time.Duration `envconfig:"APEX_OUTBOX_LOCK_RETRY" default:"25ms"`
}

type PendingSyncConfig struct {
	Interval     time.Duration `envconfig:"APEX_PENDING_SYNC_INTERVAL" default:"5m"`
	DrainTimeout time.Duration `envconfig:"APEX_PENDING_SYNC_TIMEOUT" default:"2m"`
	LockTTL      time.Duration `envconfig:"APEX_PENDING_SYNC_LOCK_TTL" default:"10m"`
}

type StreamConfig struct {
	Channel        string        `envconfig:"APEX_STREAM_CHANNEL" default:"orders_changes"`
	Heartbeat      time.Duration `envconfig:"APEX_STREAM_HEARTBEAT" default:"25s"`
	SubscriberBuf  int           `envconfig:"APEX_STREAM_SUBSCRIBER_BUFFER" default:"64"`
	ConnectTimeout time.Duration `envconfig:"APEX_STREAM_CONNECT_TIMEOUT" default:"10s"`
}

type ViewerConfig struct {
	BaseURL      string        `envconfig:"APEX_VIEWER_BASE_URL" default:"http://localhost:8080"`
	Token        string        `envconfig:"APEX_VIEWER_TOKEN"`
	PollInterval time.Duration `envconfig:"APEX_VIEWER_POLL_INTERVAL" default:"10s"`
}

type NotifyConfig struct {
	Driver     string `envconfig:"APEX_NOTIFY_DRIVER" default:"log"`
	OwnerEmail string `envconfig:"APEX_OWNER_EMAIL"`
}

func (n NotifyConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(n.Driver)) {
	case NotifyDriverLog, NotifyDriverSendgrid, NotifyDriverPubSub:
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvNotifyDriver, n.Driver)
	}
}

type SendgridConfig struct {
	APIKey      string `envconfig:"APEX_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"APEX_SENDGRID_FROM_EMAIL" default:"orders@apexlabs.com.au"`
	FromName    string `envconfig:"APEX_SENDGRID_FROM_NAME" default:"Apex Labs"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"APEX_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"APEX_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	NotificationTopic string        `envconfig:"APEX_PUBSUB_NOTIFICATION_TOPIC" default:"apex-order-notifications"`
	PublishDelay      time.Duration `envconfig:"APEX_PUBSUB_PUBLISH_DELAY" default:"10ms"`
	PublishTimeout    time.Duration `envconfig:"APEX_PUBSUB_PUBLISH_TIMEOUT" default:"30s"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"APEX_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DBDriverSQLite
		return nil
	}
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
