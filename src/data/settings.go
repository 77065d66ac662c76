package data

import (
	"fmt"
	"strings"
	"sync"

	"github.com/stake-plus/govtally/src/shared/gov"
	"gorm.io/gorm"
)

var (
	settingsCache map[string]string
	settingsMu    sync.RWMutex
)

// MigrateSettings creates the settings table if it does not exist.
func MigrateSettings(db *gorm.DB) error {
	return db.AutoMigrate(&gov.Setting{})
}

// LoadSettings replaces the cache with the active rows of the settings table.
// A nil db clears the cache.
func LoadSettings(db *gorm.DB) error {
	cache := make(map[string]string)
	if db != nil {
		var settings []gov.Setting
		if err := db.Where("active = ?", 1).Find(&settings).Error; err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		for _, s := range settings {
			cache[strings.ToLower(strings.TrimSpace(s.Name))] = s.Value
		}
	}

	settingsMu.Lock()
	settingsCache = cache
	settingsMu.Unlock()
	return nil
}

// GetSetting retrieves a setting value from cache (call LoadSettings first)
func GetSetting(name string) string {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settingsCache[strings.ToLower(name)]
}
