package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// API
	APIPort int

	// Logging
	LogLevel string

	// Backups
	BackupDir        string
	BackupPassphrase string
}

func Load() *Config {
	dbPassword := getEnv("DB_PASSWORD", "")
	if dbPassword == "" {
		log.Println("WARNING: DB_PASSWORD not set - this is insecure for production!")
		dbPassword = "changeme"
	}

	// Backup passphrase - fall back to the DB password so a bare install still
	// produces encrypted dumps
	passphrase := getEnv("BACKUP_PASSPHRASE", "")
	if passphrase == "" {
		log.Println("WARNING: BACKUP_PASSPHRASE not set - deriving backup encryption key from DB_PASSWORD")
		passphrase = dbPassword
	}

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "stocklot"),
		DBPassword: dbPassword,
		DBName:     getEnv("DB_NAME", "stocklot"),

		// API
		APIPort: getEnvInt("API_PORT", 8080),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Backups
		BackupDir:        getEnv("BACKUP_DIR", "/var/backups/stocklot"),
		BackupPassphrase: passphrase,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
