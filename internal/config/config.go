package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"development"`

	DBConnectionString string `envconfig:"DATABASE_URL" required:"true"`

	// Moderation upstream settings
	OpenAIAPIKey          string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL         string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel           string `envconfig:"OPENAI_MODEL" default:"gpt-4o"`
	ModerationMaxInFlight int    `envconfig:"MODERATION_MAX_IN_FLIGHT" default:"10"`
	ModerationTimeoutSec  int    `envconfig:"MODERATION_TIMEOUT_SEC" default:"60"`
	ModerationContextSize int    `envconfig:"MODERATION_CONTEXT_SIZE" default:"3"`

	// When set, the moderation API key is read from GCP Secret Manager
	// instead of OPENAI_API_KEY. Full resource name of a secret version.
	OpenAIAPIKeySecret string `envconfig:"OPENAI_API_KEY_SECRET"`
	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`

	// Optional Pub/Sub topic notified about newly approved messages.
	// Empty disables the real-time channel; consumers then poll over HTTP.
	ApprovedTopic string `envconfig:"APPROVED_TOPIC"`

	// Optional HMAC secret guarding the queue admin endpoints.
	// Empty leaves them open, for local development.
	AdminJWTSecret string `envconfig:"ADMIN_JWT_SECRET"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
