package params

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Environment variables recognized by LoadFromEnv.
const (
	EnvServiceName    = "ENDPOINTS_SERVICE_NAME"
	EnvServiceVersion = "ENDPOINTS_SERVICE_VERSION"
)

// ErrNoServiceName is returned when the environment names no service.
var ErrNoServiceName = errors.Errorf("%s is not set", EnvServiceName)

// LoadFile reads a YAML options file on top of the defaults. Unknown keys
// are configuration errors, not silent typos.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied configuration.
	if err != nil {
		return nil, errors.Wrap(err, "could not read options file")
	}
	conf := DefaultConfig().Copy()
	if err := yaml.UnmarshalStrict(raw, conf); err != nil {
		return nil, errors.Wrap(err, "could not parse options file")
	}
	conf.Coerce()
	return conf, nil
}

// LoadFromEnv fills the service identity from the environment. The service
// name is required; the version is optional and an empty version means the
// latest configuration the control plane knows.
func LoadFromEnv(conf *Config) error {
	name := os.Getenv(EnvServiceName)
	if name == "" {
		return ErrNoServiceName
	}
	conf.ServiceName = name
	if v := os.Getenv(EnvServiceVersion); v != "" {
		conf.ServiceConfigID = v
	}
	return nil
}
