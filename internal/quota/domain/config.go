package domain

import (
	"os"
	"strconv"
)

type Config struct {
	Enabled bool

	// ReceiptValidationsPerHour caps Apple receipt validations per user.
	ReceiptValidationsPerHour int
}

func LoadFromEnv() *Config {
	return &Config{
		Enabled:                   getEnvBool("QUOTA_ENABLED", true),
		ReceiptValidationsPerHour: getEnvInt("QUOTA_RECEIPT_VALIDATIONS_PER_HOUR", 30),
	}
}

func getEnvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return i
}
