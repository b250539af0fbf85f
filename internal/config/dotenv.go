package config

import "github.com/joho/godotenv"

// LoadDotEnv reads a .env file and sets environment variables.
// Existing env vars take precedence over the file.
func LoadDotEnv(path string) error {
	return godotenv.Load(path)
}
