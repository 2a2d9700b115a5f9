package config

// EnvPrefix is intentionally empty: every field names its variable explicitly.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv      = "BIZGATE_APP_ENV"
	EnvPort        = "BIZGATE_APP_PORT"
	EnvDBDSN       = "BIZGATE_DB_DSN"
	EnvDBHost      = "BIZGATE_DB_HOST"
	EnvDBUser      = "BIZGATE_DB_USER"
	EnvDBName      = "BIZGATE_DB_NAME"
	EnvRedisURL    = "BIZGATE_REDIS_URL"
	EnvTokenSecret = "BIZGATE_TOKEN_SECRET"
	EnvBaseURL     = "BIZGATE_BASE_URL"
)

// legacyDBEnvVars are the discrete connection vars accepted when no DSN is set.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
