package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSettingsDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&Setting{}))
	return db
}

func resetSettings() {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	appSettings = nil
	loadDefaults = nil
}

func TestParseRetryDelays(t *testing.T) {
	delays, err := ParseRetryDelays("30s, 60s,2m")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second, time.Minute, 2 * time.Minute}, delays)

	for _, raw := range []string{"", " , ", "30s,soon", "0s", "-5s"} {
		_, err := ParseRetryDelays(raw)
		assert.Error(t, err, raw)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	resetSettings()
	defer resetSettings()
	db := newSettingsDB(t)

	require.NoError(t, LoadSettings(db, nil))
	s := GetAppSettings()
	require.NotNil(t, s)
	assert.Equal(t, 3, s.GetWebhookWorkerCount())
	assert.Equal(t, 3, s.GetWebhookMaxAttempts())
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}, s.GetWebhookRetryDelays())
	assert.Equal(t, 90*time.Second, s.GetProviderTimeout())
	assert.Equal(t, 10*time.Minute, s.GetStuckJobAge())
}

func TestLoadSettingsPrecedence(t *testing.T) {
	resetSettings()
	defer resetSettings()
	db := newSettingsDB(t)

	require.NoError(t, db.Create(&Setting{Key: SettingWebhookMaxAttempts, Value: "5", Type: "integer"}).Error)
	require.NoError(t, db.Create(&Setting{Key: SettingWebhookWorkerCount, Value: "not-a-number", Type: "integer"}).Error)

	env := &AppSettings{WebhookWorkerCount: 8, WebhookMaxAttempts: 2, WebhookRetryDelays: "1s,2s"}
	require.NoError(t, LoadSettings(db, env))

	s := GetAppSettings()
	assert.Equal(t, 5, s.WebhookMaxAttempts, "stored value wins over env")
	assert.Equal(t, 8, s.WebhookWorkerCount, "unparsable stored value keeps env")
	assert.Equal(t, "1s,2s", s.WebhookRetryDelays)

	// A reload without defaults keeps the env values.
	require.NoError(t, LoadSettings(db, nil))
	assert.Equal(t, "1s,2s", GetAppSettings().WebhookRetryDelays)
}

func TestLoadSettingsRejectsInvalid(t *testing.T) {
	resetSettings()
	defer resetSettings()
	db := newSettingsDB(t)

	require.NoError(t, db.Create(&Setting{Key: SettingWebhookRetryDelays, Value: "forever", Type: "string"}).Error)
	assert.Error(t, LoadSettings(db, nil))
	assert.Nil(t, GetAppSettings())
}

func TestSaveSettings(t *testing.T) {
	resetSettings()
	defer resetSettings()
	db := newSettingsDB(t)

	s := DefaultAppSettings()
	s.WebhookWorkerCount = 6
	require.NoError(t, SaveSettings(db, s))

	var count int64
	db.Model(&Setting{}).Count(&count)
	assert.Equal(t, int64(5), count)

	var stored Setting
	require.NoError(t, db.Where("setting_key = ?", SettingWebhookWorkerCount).First(&stored).Error)
	assert.Equal(t, "6", stored.Value)
	assert.Equal(t, "integer", stored.Type)

	s.WebhookWorkerCount = 7
	require.NoError(t, SaveSettings(db, s))
	db.Model(&Setting{}).Count(&count)
	assert.Equal(t, int64(5), count, "save updates rows in place")

	bad := DefaultAppSettings()
	bad.WebhookMaxAttempts = 0
	assert.Error(t, SaveSettings(db, bad))
	assert.Equal(t, 7, GetAppSettings().WebhookWorkerCount)
}

func TestAppSettingsWithValue(t *testing.T) {
	base := DefaultAppSettings()

	next, err := base.WithValue(SettingStuckJobMinutes, " 15 ")
	require.NoError(t, err)
	assert.Equal(t, 15, next.StuckJobMinutes)
	assert.Equal(t, 10, base.StuckJobMinutes, "original is not modified")

	next, err = base.WithValue(SettingWebhookRetryDelays, "5s,10s")
	require.NoError(t, err)
	assert.Equal(t, "5s,10s", next.WebhookRetryDelays)

	_, err = base.WithValue(SettingWebhookMaxAttempts, "three")
	assert.Error(t, err)

	_, err = base.WithValue("theme", "1")
	assert.Error(t, err)

	assert.Equal(t, "string", SettingType(SettingWebhookRetryDelays))
	assert.Equal(t, "integer", SettingType(SettingWebhookWorkerCount))
}
