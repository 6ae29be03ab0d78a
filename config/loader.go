package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is the environment-variable prefix recognized by the
// loader: POLLENFLOW_EXTRACTION_BATCH_SIZE overrides extraction.batch_size.
const DefaultEnvPrefix = "POLLENFLOW"

// Loader assembles one flat Options mapping from a YAML file and
// environment-variable overrides (builder pattern).
//
// Precedence: YAML file -> environment variables. Stage defaults apply
// afterwards, inside each configuration constructor.
type Loader struct {
	configPath string
	envPrefix  string
	environ    func() []string
}

// NewLoader creates a new options loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		environ:   os.Environ,
	}
}

// WithConfigPath sets the YAML file path. An absent file is not an error;
// loading proceeds with environment overrides only.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment-variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnviron overrides the environment source, for tests.
func (l *Loader) WithEnviron(environ func() []string) *Loader {
	l.environ = environ
	return l
}

// Load assembles the flat option mapping.
func (l *Loader) Load() (Options, error) {
	opts := make(Options)

	if l.configPath != "" {
		if err := l.loadFromFile(opts); err != nil {
			return nil, fmt.Errorf("failed to load options from file: %w", err)
		}
	}
	l.loadFromEnv(opts)

	return opts, nil
}

func (l *Loader) loadFromFile(opts Options) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var nested map[string]any
	if err := yaml.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	for k, v := range Flatten(nested) {
		opts[k] = v
	}
	return nil
}

// loadFromEnv maps POLLENFLOW_<PREFIX>_<OPTION_NAME> variables onto flat
// dotted keys. Only the first underscore after the env prefix separates the
// stage prefix from the option name, so option names may themselves carry
// underscores.
func (l *Loader) loadFromEnv(opts Options) {
	envPrefix := l.envPrefix + "_"
	for _, kv := range l.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		stage, option, ok := strings.Cut(strings.TrimPrefix(key, envPrefix), "_")
		if !ok || stage == "" || option == "" {
			continue
		}
		flat := strings.ToLower(stage) + KeySep + strings.ToLower(option)
		opts[flat] = value
	}
}
