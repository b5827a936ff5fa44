package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a persisted runtime setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, integer
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppSettings holds the webhook supervisor tunables
type AppSettings struct {
	WebhookWorkerCount     int    `json:"webhook_worker_count" validate:"min=1,max=64"`
	WebhookMaxAttempts     int    `json:"webhook_max_attempts" validate:"min=1,max=10"`
	WebhookRetryDelays     string `json:"webhook_retry_delays" validate:"required,max=255"`
	ProviderTimeoutSeconds int    `json:"provider_timeout_seconds" validate:"min=1,max=600"`
	StuckJobMinutes        int    `json:"stuck_job_minutes" validate:"min=1,max=1440"`
	mu                     sync.RWMutex
}

var (
	appSettings  *AppSettings
	loadDefaults *AppSettings
	settingsMu   sync.RWMutex
)

// Setting keys persisted in the settings table.
const (
	SettingWebhookWorkerCount     = "webhook_worker_count"
	SettingWebhookMaxAttempts     = "webhook_max_attempts"
	SettingWebhookRetryDelays     = "webhook_retry_delays"
	SettingProviderTimeoutSeconds = "provider_timeout_seconds"
	SettingStuckJobMinutes        = "stuck_job_minutes"
)

// DefaultAppSettings returns the built-in defaults
func DefaultAppSettings() *AppSettings {
	return &AppSettings{
		WebhookWorkerCount:     3,
		WebhookMaxAttempts:     3,
		WebhookRetryDelays:     "30s,60s,120s",
		ProviderTimeoutSeconds: 90,
		StuckJobMinutes:        10,
	}
}

// GetAppSettings returns the current application settings
func GetAppSettings() *AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return appSettings
}

// LoadSettings loads settings from database on top of defaults. A nil
// defaults value reuses the defaults of the previous load.
func LoadSettings(db *gorm.DB, defaults *AppSettings) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if defaults != nil {
		loadDefaults = defaults.clone()
	}
	loaded := DefaultAppSettings()
	if loadDefaults != nil {
		loaded.copyFrom(loadDefaults)
	}

	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	for _, setting := range settings {
		switch setting.Key {
		case SettingWebhookWorkerCount:
			loaded.WebhookWorkerCount = atoiOr(setting.Value, loaded.WebhookWorkerCount)
		case SettingWebhookMaxAttempts:
			loaded.WebhookMaxAttempts = atoiOr(setting.Value, loaded.WebhookMaxAttempts)
		case SettingWebhookRetryDelays:
			loaded.WebhookRetryDelays = setting.Value
		case SettingProviderTimeoutSeconds:
			loaded.ProviderTimeoutSeconds = atoiOr(setting.Value, loaded.ProviderTimeoutSeconds)
		case SettingStuckJobMinutes:
			loaded.StuckJobMinutes = atoiOr(setting.Value, loaded.StuckJobMinutes)
		}
	}

	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	appSettings = loaded
	return nil
}

// SaveSettings saves settings to database and makes them current
func SaveSettings(db *gorm.DB, settings *AppSettings) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	settingsMap := map[string]interface{}{
		SettingWebhookWorkerCount:     settings.WebhookWorkerCount,
		SettingWebhookMaxAttempts:     settings.WebhookMaxAttempts,
		SettingWebhookRetryDelays:     settings.WebhookRetryDelays,
		SettingProviderTimeoutSeconds: settings.ProviderTimeoutSeconds,
		SettingStuckJobMinutes:        settings.StuckJobMinutes,
	}

	for key, value := range settingsMap {
		var setting Setting
		result := db.Where("setting_key = ?", key).First(&setting)

		if result.Error != nil {
			if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("failed to query setting %s: %w", key, result.Error)
			}
			setting = Setting{
				Key:   key,
				Value: fmt.Sprintf("%v", value),
				Type:  SettingType(key),
			}
			if err := db.Create(&setting).Error; err != nil {
				return fmt.Errorf("failed to create setting %s: %w", key, err)
			}
			continue
		}

		setting.Value = fmt.Sprintf("%v", value)
		if err := db.Save(&setting).Error; err != nil {
			return fmt.Errorf("failed to update setting %s: %w", key, err)
		}
	}

	appSettings = settings
	return nil
}

// SettingType returns the stored type of a setting key.
func SettingType(key string) string {
	switch key {
	case SettingWebhookRetryDelays:
		return "string"
	default:
		return "integer"
	}
}

// WithValue returns a copy of s with one raw setting applied.
func (s *AppSettings) WithValue(key, value string) (*AppSettings, error) {
	next := s.clone()
	value = strings.TrimSpace(value)
	if key == SettingWebhookRetryDelays {
		next.WebhookRetryDelays = value
		return next, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("setting %s must be an integer: %w", key, err)
	}
	switch key {
	case SettingWebhookWorkerCount:
		next.WebhookWorkerCount = n
	case SettingWebhookMaxAttempts:
		next.WebhookMaxAttempts = n
	case SettingProviderTimeoutSeconds:
		next.ProviderTimeoutSeconds = n
	case SettingStuckJobMinutes:
		next.StuckJobMinutes = n
	default:
		return nil, fmt.Errorf("unknown setting %q", key)
	}
	return next, nil
}

func (s *AppSettings) clone() *AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &AppSettings{
		WebhookWorkerCount:     s.WebhookWorkerCount,
		WebhookMaxAttempts:     s.WebhookMaxAttempts,
		WebhookRetryDelays:     s.WebhookRetryDelays,
		ProviderTimeoutSeconds: s.ProviderTimeoutSeconds,
		StuckJobMinutes:        s.StuckJobMinutes,
	}
}

// Validate validates the settings
func (s *AppSettings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return err
	}
	if _, err := ParseRetryDelays(s.WebhookRetryDelays); err != nil {
		return err
	}
	return nil
}

// ToJSON converts settings to JSON
func (s *AppSettings) ToJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s)
}

func (s *AppSettings) GetWebhookWorkerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WebhookWorkerCount
}

func (s *AppSettings) GetWebhookMaxAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WebhookMaxAttempts
}

// GetWebhookRetryDelays returns the parsed backoff schedule
func (s *AppSettings) GetWebhookRetryDelays() []time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	delays, err := ParseRetryDelays(s.WebhookRetryDelays)
	if err != nil {
		delays, _ = ParseRetryDelays(DefaultAppSettings().WebhookRetryDelays)
	}
	return delays
}

func (s *AppSettings) GetProviderTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.ProviderTimeoutSeconds) * time.Second
}

func (s *AppSettings) GetStuckJobAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.StuckJobMinutes) * time.Minute
}

// ParseRetryDelays parses a comma separated list of positive durations such as
// "30s,60s,120s".
func ParseRetryDelays(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("invalid retry delay %q: %w", p, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("retry delay must be positive: %q", p)
		}
		delays = append(delays, d)
	}
	if len(delays) == 0 {
		return nil, errors.New("retry delays must not be empty")
	}
	return delays, nil
}

func (s *AppSettings) copyFrom(o *AppSettings) {
	if o.WebhookWorkerCount > 0 {
		s.WebhookWorkerCount = o.WebhookWorkerCount
	}
	if o.WebhookMaxAttempts > 0 {
		s.WebhookMaxAttempts = o.WebhookMaxAttempts
	}
	if o.WebhookRetryDelays != "" {
		s.WebhookRetryDelays = o.WebhookRetryDelays
	}
	if o.ProviderTimeoutSeconds > 0 {
		s.ProviderTimeoutSeconds = o.ProviderTimeoutSeconds
	}
	if o.StuckJobMinutes > 0 {
		s.StuckJobMinutes = o.StuckJobMinutes
	}
}

func atoiOr(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
