package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/EnrollSync/app/models"
)

// ErrInvalidSetting marks a rejected key or value.
var ErrInvalidSetting = errors.New("invalid setting")

// settingRepository implements the SettingRepository interface
type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new setting repository instance
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

// Get returns the loaded settings, loading them on first use.
func (r *settingRepository) Get() (*models.AppSettings, error) {
	if s := models.GetAppSettings(); s != nil {
		return s, nil
	}
	if err := models.LoadSettings(r.db, nil); err != nil {
		return nil, err
	}
	return models.GetAppSettings(), nil
}

// Save validates, persists and publishes the settings
func (r *settingRepository) Save(settings *models.AppSettings) error {
	return models.SaveSettings(r.db, settings)
}

// GetValue returns the raw value for key, or "" when unset.
func (r *settingRepository) GetValue(key string) (string, error) {
	var setting models.Setting
	err := r.db.Where("setting_key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return setting.Value, nil
}

// SetValue upserts a single raw value. Known keys are validated by parsing
// them on top of the current settings.
func (r *settingRepository) SetValue(key, value string) error {
	current, err := r.Get()
	if err != nil {
		return err
	}
	next, err := current.WithValue(key, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSetting, err)
	}

	setting := models.Setting{
		Key:   key,
		Value: value,
		Type:  models.SettingType(key),
	}
	err = r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "type", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return err
	}
	return models.LoadSettings(r.db, nil)
}

// All lists every persisted setting row ordered by key.
func (r *settingRepository) All() ([]models.Setting, error) {
	var settings []models.Setting
	err := r.db.Order("setting_key ASC").Find(&settings).Error
	return settings, err
}
