package config

import (
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// deserialize(serialize(config)) keeps every generated field.
func TestConfigRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("config round-trip preserves data", prop.ForAll(
		func(port int, retries int, timeoutSec int, cores int, driver string) bool {
			cfg := DefaultConfig()
			cfg.Server.Address = ":" + strconv.Itoa(port)
			cfg.Master.RetryLimit = retries
			cfg.Master.HeartbeatTimeout = time.Duration(timeoutSec) * time.Second
			cfg.Worker.Cores = cores
			cfg.Journal.Driver = driver

			data, err := cfg.Serialize()
			if err != nil {
				return false
			}
			parsed, err := ParseConfig(data)
			if err != nil {
				return false
			}

			return parsed.Server.Address == cfg.Server.Address &&
				parsed.Master.RetryLimit == cfg.Master.RetryLimit &&
				parsed.Master.HeartbeatTimeout == cfg.Master.HeartbeatTimeout &&
				parsed.Worker.Cores == cfg.Worker.Cores &&
				parsed.Journal.Driver == cfg.Journal.Driver &&
				parsed.Logging == cfg.Logging
		},
		gen.IntRange(1024, 65535),
		gen.IntRange(0, 20),
		gen.IntRange(1, 600),
		gen.IntRange(1, 256),
		gen.OneConstOf("memory", "redis", "mysql", "postgres"),
	))

	properties.TestingRun(t)
}
