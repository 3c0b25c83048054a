package rally

import (
	jlconfig "github.com/JeremyLoy/config"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultLogLevel     = "info"
	defaultRedisAddress = "localhost:6379"
	defaultNamespace    = "rally"
	defaultPort         = "4040"
)

// RallyConfig is loaded from the environment. Field names map to snake-case
// env variables, e.g. RedisAddress <- REDIS_ADDRESS.
type RallyConfig struct {
	RedisAddress   string
	RedisPassword  string
	RallyNamespace string
	RallyPort      string
	RallyLogLevel  string
	// StatsdAddress enables metric emission when set.
	StatsdAddress string
}

var defaultConfig = RallyConfig{
	RedisAddress:   defaultRedisAddress,
	RallyNamespace: defaultNamespace,
	RallyPort:      defaultPort,
	RallyLogLevel:  DefaultLogLevel,
}

func loadConfig() (RallyConfig, error) {
	cfg := defaultConfig
	if err := jlconfig.FromEnv().To(&cfg); err != nil {
		return RallyConfig{}, eris.Wrap(err, "failed to load config from env")
	}
	if err := cfg.Validate(); err != nil {
		return RallyConfig{}, err
	}
	return cfg, nil
}

func (c RallyConfig) Validate() error {
	if c.RedisAddress == "" {
		return eris.New("REDIS_ADDRESS must not be empty")
	}
	if c.RallyNamespace == "" {
		return eris.New("RALLY_NAMESPACE must not be empty")
	}
	if c.RallyPort == "" {
		return eris.New("RALLY_PORT must not be empty")
	}
	if _, err := zerolog.ParseLevel(c.RallyLogLevel); err != nil {
		return eris.Wrapf(err, "RALLY_LOG_LEVEL %q is invalid", c.RallyLogLevel)
	}
	return nil
}

// applyLogLevel sets the process-wide log level. Validate has already vetted
// the value.
func (c RallyConfig) applyLogLevel() {
	level, err := zerolog.ParseLevel(c.RallyLogLevel)
	if err != nil {
		log.Warn().Msgf("unknown log level %q, keeping %s", c.RallyLogLevel, zerolog.GlobalLevel())
		return
	}
	zerolog.SetGlobalLevel(level)
}
