package database

import "gorm.io/gorm"

// DB is the process-wide connection set up by SetupDatabase.
var DB *gorm.DB

func GetDB() *gorm.DB {
	return DB
}
