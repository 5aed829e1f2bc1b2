package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvFile is loaded when present and no other file is named
const DefaultEnvFile = ".env"

// Loader assembles a Config from its sources
type Loader struct {
	koanf     *koanf.Koanf
	validator *validator.Validate
	envFile   string
}

// Option configures a Loader
type Option func(*Loader)

// WithEnvFile names a .env file that must exist
func WithEnvFile(path string) Option {
	return func(l *Loader) {
		l.envFile = path
	}
}

// NewLoader creates a Loader
func NewLoader(opts ...Option) (*Loader, error) {
	v := validator.New()
	if err := RegisterCustomValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	l := &Loader{
		koanf:     koanf.New("."),
		validator: v,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load reads and validates configuration using default loader settings
func Load(opts ...Option) (*Config, error) {
	l, err := NewLoader(opts...)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

// Load reads defaults, the .env file and the environment, then validates the result
func (l *Loader) Load() (*Config, error) {
	l.koanf = koanf.New(".")

	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}

	if err := l.koanf.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadEnvironment(); err != nil {
		return nil, err
	}

	return l.unmarshalAndValidate()
}

// loadEnvFile loads an explicit env file, or .env when it exists
func (l *Loader) loadEnvFile() error {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", l.envFile, err)
		}
		return nil
	}

	if _, err := os.Stat(DefaultEnvFile); err != nil {
		return nil
	}
	if err := godotenv.Load(DefaultEnvFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", DefaultEnvFile, err)
	}
	return nil
}

// loadEnvironment applies only explicitly mapped environment variables
func (l *Loader) loadEnvironment() error {
	envToPath := GenerateEnvToConfigMap()

	if err := l.koanf.Load(env.Provider(".", env.Opt{
		Prefix: "",
		TransformFunc: func(key string, value string) (string, any) {
			if configPath, exists := envToPath[key]; exists {
				return configPath, value
			}
			return "", nil
		},
	}), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if l.koanf.String("sink.dsn") == "" {
		for _, alias := range dsnAliases {
			if dsn := os.Getenv(alias); dsn != "" {
				if err := l.koanf.Set("sink.dsn", dsn); err != nil {
					return fmt.Errorf("failed to apply %s: %w", alias, err)
				}
				break
			}
		}
	}

	return l.resolveEmbedProvider()
}

// resolveEmbedProvider fills embed.provider and embed.api_key from the provider
// API key variables. Without a provider or any key the offline local provider is used.
func (l *Loader) resolveEmbedProvider() error {
	provider := strings.ToLower(strings.TrimSpace(l.koanf.String("embed.provider")))
	apiKey := l.koanf.String("embed.api_key")

	for _, v := range apiKeyVars {
		if provider != "" && provider != v.provider {
			continue
		}
		key := os.Getenv(v.envVar)
		if key == "" {
			continue
		}
		if provider == "" {
			provider = v.provider
		}
		if apiKey == "" {
			apiKey = key
		}
		break
	}
	if provider == "" {
		provider = "local"
	}

	if err := l.koanf.Set("embed.provider", provider); err != nil {
		return fmt.Errorf("failed to set embed provider: %w", err)
	}
	if err := l.koanf.Set("embed.api_key", apiKey); err != nil {
		return fmt.Errorf("failed to set embed api key: %w", err)
	}
	return nil
}

func (l *Loader) unmarshalAndValidate() (*Config, error) {
	var config Config

	if err := l.koanf.UnmarshalWithConf("", &config, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &config,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks config against its struct tags
func (l *Loader) Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := l.validator.Struct(config); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
