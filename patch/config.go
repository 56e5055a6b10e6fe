package patch

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Config holds the sizes the model allocates up front.
type Config struct {
	SampleRate      float64
	BlockSize       int
	ModulationSlots int
	StateSlots      int
	QueueCapacity   int
	UndoDepth       int
	YmlError        error `yaml:"-"`
}

//go:embed config.yml
var defaultConfigYaml []byte

func DefaultConfig() Config {
	var cfg Config
	if err := yaml.UnmarshalStrict(defaultConfigYaml, &cfg); err != nil {
		panic(fmt.Errorf("failed to unmarshal config: %w", err))
	}
	return cfg
}

// ReadCustomConfigYml modifies the target argument, i.e. needs a pointer
func ReadCustomConfigYml(filename string, target any) (exists bool, err error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return false, err
	}
	bytes, err := os.ReadFile(filepath.Join(configDir, "klavier", filename))
	if err != nil {
		return false, err
	}
	return true, yaml.Unmarshal(bytes, target)
}

// MakeConfig returns the default config overridden by config.yml in the user
// config directory, if one exists. A malformed file is reported in YmlError.
func MakeConfig() Config {
	cfg := DefaultConfig()
	if exists, err := ReadCustomConfigYml("config.yml", &cfg); exists {
		cfg.YmlError = err
	}
	return cfg
}
