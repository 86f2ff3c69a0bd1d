package sdk

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// projectConfigFile is the name of the optional, non-secret,
// repo-committed config file init() checks for in the process's
// working directory. Unlike the credentials file (§6.3, JSON, under
// the home directory, holding the api_key), this file carries no
// secret and is meant to be checked into version control alongside
// the service it configures.
const projectConfigFile = ".logsentry.yml"

// projectConfig is the shape of .logsentry.yml. It never carries an
// api_key — that always comes from the credentials file or an env var,
// never from a file a team might commit to source control.
type projectConfig struct {
	DSN           string  `yaml:"dsn"`
	BatchSize     int     `yaml:"batch_size"`
	FlushInterval float64 `yaml:"flush_interval"`
	MaxBuffer     int     `yaml:"max_buffer"`
}

// loadProjectConfig reads projectConfigFile from the current working
// directory. A missing file is not an error — most processes have none.
func loadProjectConfig() *projectConfig {
	data, err := os.ReadFile(projectConfigFile)
	if err != nil {
		return nil
	}

	var cfg projectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	return &cfg
}

func (p *projectConfig) flushInterval() time.Duration {
	return time.Duration(p.FlushInterval * float64(time.Second))
}
