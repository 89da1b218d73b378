package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/types"
)

// Load resolves the configuration surface from environment variables,
// following the teacher's viper.New + AutomaticEnv shape generalized from
// a YAML+PROXY_ prefix scheme to this broker's flat MAILTESTER_/REDIS_/
// KEY_QUEUE_ variable names.
func Load() (*types.Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 3000)
	v.SetDefault("mongodb_db_name", "mailtester")

	v.SetDefault("key_queue_concurrency", 5)
	v.SetDefault("key_queue_backoff_ms", 1000)
	v.SetDefault("key_queue_max_wait_ms", 0)
	v.SetDefault("key_queue_request_timeout_ms", 0)

	v.SetDefault("metrics_addr", ":9090")

	bindEnv(v,
		"port", "mongodb_uri", "mongodb_db_name",
		"redis_url", "redis_host", "redis_port", "redis_password",
		"key_queue_concurrency", "key_queue_backoff_ms", "key_queue_max_wait_ms", "key_queue_request_timeout_ms",
		"mailtester_pro_interval_ms", "mailtester_ultimate_interval_ms",
		"mailtester_keys_json", "mailtester_keys_json_path", "mailtester_keys_with_plan",
		"mailtester_keys", "mailtester_default_plan",
		"metrics_addr",
	)

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnv binds each mapstructure key to its upper-cased literal env var
// name (PORT, REDIS_URL, ...) rather than relying on viper's default
// nested-key-to-env translation, since this surface is a flat list of
// env vars, not a nested config file.
func bindEnv(v *viper.Viper, keys ...string) {
	for _, k := range keys {
		_ = v.BindEnv(k, strings.ToUpper(k))
	}
}

// ResolveSeedKeys applies the priority order: the first non-empty source
// among MAILTESTER_KEYS_JSON, MAILTESTER_KEYS_JSON_PATH,
// MAILTESTER_KEYS_WITH_PLAN, MAILTESTER_KEYS+MAILTESTER_DEFAULT_PLAN wins.
// For the JSON_PATH source raw is the file path, not its contents; the
// file is not read here. cmd/broker reads it once at startup to seed keys
// and also polls it for changes through internal/reconcile.FileSource.
func ResolveSeedKeys(cfg *types.Config) (source string, raw string) {
	switch {
	case cfg.KeysJSON != "":
		return "json", cfg.KeysJSON
	case cfg.KeysJSONPath != "":
		return "json_path", cfg.KeysJSONPath
	case cfg.KeysWithPlan != "":
		return "with_plan", cfg.KeysWithPlan
	case cfg.Keys != "":
		return "plain", cfg.Keys
	default:
		return "", ""
	}
}
