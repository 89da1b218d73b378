// Package types holds the configuration shape the broker is wired from.
package types

// Config is the fully resolved configuration surface the broker runs with.
type Config struct {
	Port int `mapstructure:"port"`

	MongoDBURI    string `mapstructure:"mongodb_uri"`
	MongoDBDBName string `mapstructure:"mongodb_db_name"`

	RedisURL      string `mapstructure:"redis_url"`
	RedisHost     string `mapstructure:"redis_host"`
	RedisPort     string `mapstructure:"redis_port"`
	RedisPassword string `mapstructure:"redis_password"`

	KeyQueueConcurrency      int   `mapstructure:"key_queue_concurrency"`
	KeyQueueBackoffMs        int64 `mapstructure:"key_queue_backoff_ms"`
	KeyQueueMaxWaitMs        int64 `mapstructure:"key_queue_max_wait_ms"`
	KeyQueueRequestTimeoutMs int64 `mapstructure:"key_queue_request_timeout_ms"`

	ProIntervalMs      int64 `mapstructure:"mailtester_pro_interval_ms"`
	UltimateIntervalMs int64 `mapstructure:"mailtester_ultimate_interval_ms"`

	KeysJSON        string `mapstructure:"mailtester_keys_json"`
	KeysJSONPath    string `mapstructure:"mailtester_keys_json_path"`
	KeysWithPlan    string `mapstructure:"mailtester_keys_with_plan"`
	Keys            string `mapstructure:"mailtester_keys"`
	KeysDefaultPlan string `mapstructure:"mailtester_default_plan"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// SeedKey is one entry of the resolved preload key list.
type SeedKey struct {
	SubscriptionID string
	Plan           string
}

// HasRedis reports whether enough Redis configuration is present to prefer
// the Redis-backed store/queue over the in-memory ones.
func (c *Config) HasRedis() bool {
	return c.RedisURL != "" || c.RedisHost != ""
}
