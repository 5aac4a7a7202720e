package common

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed config.default.yaml
var defaultConfig []byte

const (
	configPathEnv = "CONFIG_PATH"
	configJSONEnv = "CONFIG_JSON"
)

// ConfigManager loads configuration in layers: embedded defaults, then the file
// named by CONFIG_PATH, then an inline JSON document from CONFIG_JSON.
type ConfigManager[T any] struct {
	kf     *koanf.Koanf
	config T
}

func NewConfigManager[T any]() (*ConfigManager[T], error) {
	kf := koanf.New(".")

	if err := kf.Load(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if path := os.Getenv(configPathEnv); path != "" {
		if err := kf.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if raw := os.Getenv(configJSONEnv); raw != "" {
		if err := kf.Load(rawbytes.Provider([]byte(raw)), json.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", configJSONEnv, err)
		}
	}

	cm := &ConfigManager[T]{kf: kf}
	if err := cm.unmarshal(); err != nil {
		return nil, err
	}
	return cm, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser()
	default:
		return yaml.Parser()
	}
}

func (cm *ConfigManager[T]) unmarshal() error {
	var config T
	err := cm.kf.UnmarshalWithConf("", &config, koanf.UnmarshalConf{
		Tag: "key",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &config,
			WeaklyTypedInput: true,
			TagName:          "key",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	cm.config = config
	return nil
}

// GetConfig returns a copy of the loaded configuration
func (cm *ConfigManager[T]) GetConfig() T {
	return cm.config
}

// Print dumps the merged key space, used by the CLI for debugging
func (cm *ConfigManager[T]) Print() string {
	return cm.kf.Sprint()
}
