package config

import (
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,notEmpty,required"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY,notEmpty,required"`
	GeminiAPIURL  string `env:"GEMINI_API_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"`
	SessionSecret string `env:"SESSION_SECRET" envDefault:"trauma-chat-dev-secret"`
	Port          string `env:"PORT" envDefault:"3000"`
}

// Load reads an optional .env file and parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
