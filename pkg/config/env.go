package config

// EnvPrefix is the envconfig prefix; every field also carries its full APEX_* name.
const EnvPrefix = "APEX"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	NotifyDriverLog      = "log"
	NotifyDriverSendgrid = "sendgrid"
	NotifyDriverPubSub   = "pubsub"
)

const (
	EnvAppEnv        = "APEX_APP_ENV"
	EnvPort          = "APEX_APP_PORT"
	EnvDBDSN         = "APEX_DB_DSN"
	EnvDBHost        = "APEX_DB_HOST"
	EnvDBUser        = "APEX_DB_USER"
	EnvDBName        = "APEX_DB_NAME"
	EnvUseSQLite     = "APEX_USE_SQLITE"
	EnvRedisURL      = "APEX_REDIS_URL"
	EnvJWTSecret     = "APEX_JWT_SECRET"
	EnvJWTIssuer     = "APEX_JWT_ISSUER"
	EnvJWTExpMins    = "APEX_JWT_EXPIRATION_MINUTES"
	EnvOutboxFile    = "APEX_OUTBOX_FILE"
	EnvNotifyDriver  = "APEX_NOTIFY_DRIVER"
	EnvOwnerEmail    = "APEX_OWNER_EMAIL"
	EnvCORSOrigins   = "APEX_CORS_ALLOWED_ORIGINS"
	EnvViewerBaseURL = "APEX_VIEWER_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
