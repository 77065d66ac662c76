package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/stake-plus/govtally/src/data"
)

var (
	source   *viper.Viper
	sourceMu sync.RWMutex
)

// loadEnv reads .env files from dir; later files override earlier ones.
func loadEnv(dir string) {
	for _, name := range []string{".env", ".env.local"} {
		_ = godotenv.Overload(filepath.Join(dir, name))
	}
}

// initSource binds the environment and an optional config file. Keys in the
// file use the same names as the environment variables.
func initSource(configFile string) error {
	v := viper.New()
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	sourceMu.Lock()
	source = v
	sourceMu.Unlock()
	return nil
}

func lookup(envKey string) string {
	sourceMu.RLock()
	v := source
	sourceMu.RUnlock()
	if v != nil && v.IsSet(envKey) {
		return strings.TrimSpace(v.GetString(envKey))
	}
	return strings.TrimSpace(os.Getenv(envKey))
}

// GetSetting resolves a value from the settings table, then the environment
// (or config file), then defaultValue.
func GetSetting(name, envKey, defaultValue string) string {
	val := data.GetSetting(name)
	if val == "" {
		val = lookup(envKey)
	}
	if val == "" {
		val = defaultValue
	}
	return val
}

func getBoolSetting(name, envKey string, defaultValue bool) bool {
	raw := strings.ToLower(GetSetting(name, envKey, ""))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func getIntSetting(name, envKey string, defaultValue int, errs *[]error) int {
	raw := GetSetting(name, envKey, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, settingError(envKey, raw, err))
		return defaultValue
	}
	return n
}

func getFloatSetting(name, envKey string, defaultValue float64, errs *[]error) float64 {
	raw := GetSetting(name, envKey, "")
	if raw == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, settingError(envKey, raw, err))
		return defaultValue
	}
	return f
}

func getDurationSetting(name, envKey string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := GetSetting(name, envKey, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, settingError(envKey, raw, err))
		return defaultValue
	}
	return d
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func settingError(envKey, raw string, err error) error {
	return fmt.Errorf("%s=%q: %w", envKey, raw, err)
}
