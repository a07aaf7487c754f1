package pubsubhttp

import (
	"github.com/kelseyhightower/envconfig"
)

// Config is the sample app configuration, read from PUBSUB_* environment
// variables.
type Config struct {
	ProjectID      string `envconfig:"PROJECT_ID" required:"true"`
	Port           int64  `envconfig:"PORT" default:"8080"`
	EmulatorHost   string `envconfig:"EMULATOR_HOST"`
	OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT"`
	AckDeadlineSec int    `envconfig:"ACK_DEADLINE_SEC" default:"10"`
	PullBatchSize  int    `envconfig:"PULL_BATCH_SIZE" default:"10"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("pubsub", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
