package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Credentials holds every secret the process reads from the environment.
// Values are loaded once at startup and re-read on broker reconnects, so a
// regenerated session token in .env is picked up without a restart.
type Credentials struct {
	BreezeAPIKey       string
	BreezeAPISecret    string
	BreezeSessionToken string
	ICICIClientCode    string

	KiteAPIKey      string
	KiteAccessToken string

	TelegramToken  string
	TelegramChatID string

	EmailHost      string
	EmailPort      string
	EmailUser      string
	EmailPass      string
	EmailRecipient string
}

// LoadCredentials reads .env (when present) and then the environment.
// A missing .env file is not an error; deployments may export variables
// directly.
func LoadCredentials() Credentials {
	_ = godotenv.Load()
	return credentialsFromEnv()
}

// ReloadCredentials re-reads .env with override semantics so a refreshed
// session token replaces the stale one already in the environment.
func ReloadCredentials() Credentials {
	_ = godotenv.Overload()
	return credentialsFromEnv()
}

func credentialsFromEnv() Credentials {
	return Credentials{
		BreezeAPIKey:       os.Getenv("BREEZE_API_KEY"),
		BreezeAPISecret:    os.Getenv("BREEZE_API_SECRET"),
		BreezeSessionToken: strings.Trim(os.Getenv("BREEZE_SESSION_TOKEN"), `"`),
		ICICIClientCode:    os.Getenv("ICICI_CLIENT_CODE"),
		KiteAPIKey:         os.Getenv("KITE_API_KEY"),
		KiteAccessToken:    os.Getenv("KITE_ACCESS_TOKEN"),
		TelegramToken:      os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:     os.Getenv("TELEGRAM_CHAT_ID"),
		EmailHost:          envOr("EMAIL_HOST", "smtp.gmail.com"),
		EmailPort:          envOr("EMAIL_PORT", "587"),
		EmailUser:          os.Getenv("EMAIL_USER"),
		EmailPass:          os.Getenv("EMAIL_PASS"),
		EmailRecipient:     os.Getenv("EMAIL_RECIPIENT"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// MissingBreeze lists the Breeze credential variables that are unset.
func (c Credentials) MissingBreeze() []string {
	var missing []string
	for _, kv := range []struct{ name, value string }{
		{"BREEZE_API_KEY", c.BreezeAPIKey},
		{"BREEZE_API_SECRET", c.BreezeAPISecret},
		{"BREEZE_SESSION_TOKEN", c.BreezeSessionToken},
		{"ICICI_CLIENT_CODE", c.ICICIClientCode},
	} {
		if kv.value == "" {
			missing = append(missing, kv.name)
		}
	}
	return missing
}

// MissingKite lists the Kite credential variables that are unset.
func (c Credentials) MissingKite() []string {
	var missing []string
	for _, kv := range []struct{ name, value string }{
		{"KITE_API_KEY", c.KiteAPIKey},
		{"KITE_ACCESS_TOKEN", c.KiteAccessToken},
	} {
		if kv.value == "" {
			missing = append(missing, kv.name)
		}
	}
	return missing
}
