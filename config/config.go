package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	FrontendURL string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`

	AccessTokenSecret  string `envconfig:"JWT_ACCESS_TOKEN_SECRET" required:"true"`
	RefreshTokenSecret string `envconfig:"JWT_REFRESH_TOKEN_SECRET" required:"true"`

	StripeKey           string `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	StripeProPriceID    string `envconfig:"STRIPE_PRO_PRICE_ID" default:"price_pro_monthly"`
	StripeBizPriceID    string `envconfig:"STRIPE_BUSINESS_PRICE_ID" default:"price_business_monthly"`

	OpenAIKey     string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`

	AWSRegion    string `envconfig:"AWS_REGION"`
	AWSBucket    string `envconfig:"AWS_BUCKET_NAME"`
	AWSAccessKey string `envconfig:"AWS_S3_ACCESS_KEY"`
	AWSSecretKey string `envconfig:"AWS_S3_SECRET_ACCESS_KEY"`

	// Ceiling applied to users without a paid subscription.
	FreeTierMaxImages int `envconfig:"FREE_TIER_MAX_IMAGES" default:"5"`

	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"migrations"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// S3Enabled reports whether image archiving to S3 is configured. The
// service runs without it; generated images then keep their provider URL
// only.
func (c *Config) S3Enabled() bool {
	return c.AWSRegion != "" && c.AWSBucket != "" && c.AWSAccessKey != "" && c.AWSSecretKey != ""
}
