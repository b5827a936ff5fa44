package repository

import (
	"gorm.io/gorm"

	"github.com/ManuelReschke/EnrollSync/app/models"
)

// SettingRepository defines the interface for runtime settings
type SettingRepository interface {
	Get() (*models.AppSettings, error)
	Save(settings *models.AppSettings) error
	GetValue(key string) (string, error)
	SetValue(key, value string) error
	All() ([]models.Setting, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Setting SettingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Setting: NewSettingRepository(db),
	}
}
