package config

import (
	"fmt"
	"time"
)

// DatabaseConfig holds PostgreSQL configuration for the postgres-backed store
type DatabaseConfig struct {
	Host     string `env:"DEVAUTH_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"DEVAUTH_PG_PORT" env-default:"5432"`
	Database string `env:"DEVAUTH_PG_DATABASE" env-default:"devauth_db"`
	User     string `env:"DEVAUTH_PG_USER" env-default:"devauth"`
	Password string `env:"DEVAUTH_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"DEVAUTH_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

// StoreConfig selects and parameterizes the device store backend
type StoreConfig struct {
	// PersistenceType is one of "inmem", "file", "postgres"
	PersistenceType string `env:"DEVAUTH_STORE_TYPE" env-default:"file"`
	// DataDir holds one JSON record set per device for the file backend
	DataDir string `env:"DEVAUTH_STORE_DATA_DIR" env-default:"./data/devices"`
}

// ResolverConfig parameterizes device resolution
type ResolverConfig struct {
	// ResolveTimeout bounds a single resolution; on expiry the decision
	// falls toward verification, never toward auto-login
	ResolveTimeout time.Duration `env:"DEVAUTH_RESOLVE_TIMEOUT" env-default:"10s"`
	// RecentVerificationWindow is how long a verification keeps boosting
	// confidence
	RecentVerificationWindow time.Duration `env:"DEVAUTH_RECENT_VERIFY_WINDOW" env-default:"168h"`
}

// IdentityHeaderConfig parameterizes the signed identity-header codec
type IdentityHeaderConfig struct {
	// Secret signs identity headers; required in production
	Secret string `env:"DEVAUTH_HEADER_SECRET" env-default:"dev-only-secret-change-me"`
	// TTL bounds how long an issued header stays acceptable
	TTL time.Duration `env:"DEVAUTH_HEADER_TTL" env-default:"8760h"`
}

// VerificationConfig parameterizes out-of-band verification codes
type VerificationConfig struct {
	CodeLength  int           `env:"DEVAUTH_CODE_LENGTH" env-default:"6"`
	CodeTTL     time.Duration `env:"DEVAUTH_CODE_TTL" env-default:"5m"`
	MaxAttempts int           `env:"DEVAUTH_CODE_MAX_ATTEMPTS" env-default:"5"`
	// SendBurst and SendRefill rate-limit code delivery per identifier:
	// a burst of sends, then one more per refill interval
	SendBurst  int           `env:"DEVAUTH_CODE_SEND_BURST" env-default:"3"`
	SendRefill time.Duration `env:"DEVAUTH_CODE_SEND_REFILL" env-default:"5m"`
}

// SyncConfig parameterizes change-log replication
type SyncConfig struct {
	// SyncTimeout bounds one full syncDevice pass
	SyncTimeout time.Duration `env:"DEVAUTH_SYNC_TIMEOUT" env-default:"15s"`
}
