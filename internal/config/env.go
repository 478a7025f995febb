package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyExtraEnv reads environment variables that are not represented by
// dedicated CLI flags in the serve command.
func (c *Config) ApplyExtraEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyBoolEnv("CHAT_SERVICE_DB_MIGRATE_AT_START", &c.DatastoreMigrateAtStart); err != nil {
		return err
	}
	if err = applyDurationEnv("CHAT_SERVICE_CACHE_TTL", &c.CacheTTL); err != nil {
		return err
	}
	if err = applyInt64Env("CHAT_SERVICE_CACHE_RISTRETTO_MAX_COST", &c.RistrettoMaxCost); err != nil {
		return err
	}
	if err = applyInt64Env("CHAT_SERVICE_CACHE_RISTRETTO_NUM_COUNTERS", &c.RistrettoNumCounters); err != nil {
		return err
	}
	applyStringEnv("CHAT_SERVICE_GENAI_OPENAI_MODEL_NAME", &c.OpenAIModelName)
	applyStringEnv("CHAT_SERVICE_GENAI_OPENAI_BASE_URL", &c.OpenAIBaseURL)
	if err = applyBoolEnv("CHAT_SERVICE_CORS_ENABLED", &c.CORSEnabled); err != nil {
		return err
	}
	applyStringEnv("CHAT_SERVICE_CORS_ORIGINS", &c.CORSOrigins)
	if err = applyIntEnv("CHAT_SERVICE_SEARCH_RESULT_LIMIT", &c.SearchResultLimit); err != nil {
		return err
	}

	// API keys: CHAT_SERVICE_API_KEYS_<CLIENT_ID>=<key-value>
	c.APIKeys = loadAPIKeysFromEnv()

	return nil
}

// loadAPIKeysFromEnv scans env vars matching CHAT_SERVICE_API_KEYS_<CLIENT_ID>=<key>[,<key>...]
// and returns a map from key value → clientId. Comma-separated values let one
// client rotate keys without downtime.
func loadAPIKeysFromEnv() map[string]string {
	const prefix = "CHAT_SERVICE_API_KEYS_"
	result := map[string]string{}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		eqIdx := strings.IndexByte(env, '=')
		if eqIdx < 0 {
			continue
		}
		clientID := strings.ToLower(strings.TrimSpace(env[len(prefix):eqIdx]))
		if clientID == "" {
			continue
		}
		for _, key := range strings.Split(env[eqIdx+1:], ",") {
			keyValue := strings.TrimSpace(key)
			if keyValue == "" {
				continue
			}
			result[keyValue] = clientID
		}
	}
	return result
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyInt64Env(key string, dest *int64) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyBoolEnv(key string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(strings.ToLower(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}
