package config

import (
	"os"
	"strings"
)

// DefaultPath is the configuration file used when no -config flag is given.
const DefaultPath = "config/config.yml"

const (
	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"
)

type environment struct {
	configPath string
	// secure environments only accept wss:// endpoints
	secure bool
}

var environments = map[string]environment{
	EnvironmentDevelopment: {configPath: DefaultPath},
	EnvironmentStaging:     {configPath: "config/config.staging.yml", secure: true},
	EnvironmentProduction:  {configPath: "config/config.prod.yml", secure: true},
}

// common misspellings seen in deploy manifests
var environmentAliases = map[string]string{
	"dev":         EnvironmentDevelopment,
	"prod":        EnvironmentProduction,
	"producation": EnvironmentProduction,
	"stag":        EnvironmentStaging,
	"stagging":    EnvironmentStaging,
}

func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// ResolvePath returns the configuration file to load for the current APP_ENV.
// An explicit path other than DefaultPath always wins.
func ResolvePath(path string) string {
	if path != "" && path != DefaultPath {
		return path
	}
	if env, ok := environments[getAppEnvironment()]; ok {
		return env.configPath
	}
	return DefaultPath
}

// AppEnvironment returns APP_ENV normalised through the alias table.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether env only accepts wss:// endpoints.
func IsProductionLike(env string) bool {
	return environments[env].secure
}
