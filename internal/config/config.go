// Package config provides configuration management for the application
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"foundrychat/internal/agent"
	"foundrychat/internal/agent/claude"
	"foundrychat/internal/agent/foundry"
	"foundrychat/internal/logger"
)

// Supported agent service backends
const (
	BackendFoundry   = "foundry"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

const (
	DefaultModel        = "gpt-4"
	DefaultAgentName    = "ChatBot Assistant"
	DefaultInstructions = "You are a helpful AI assistant. Provide clear, concise, and helpful responses to user questions."
	DefaultAddr         = ":8080"
)

// Config contains all configuration for the application
type Config struct {
	// Agent service settings
	Backend    string
	Endpoint   string
	APIVersion string
	APIKey     string

	// Agent definition
	Agent     agent.AgentDefinition
	MaxTokens int64

	// Polling and run settings
	PollInitial time.Duration
	PollMax     time.Duration
	RunTimeout  time.Duration

	// CLI settings; zero means no limit
	MaxSessionDuration time.Duration

	// Web settings
	Addr           string
	SessionIdleTTL time.Duration

	Debug bool
}

// agentFile is the optional YAML agent definition referenced by AGENT_CONFIG
type agentFile struct {
	Model        string `yaml:"model"`
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions"`
	MaxTokens    int64  `yaml:"max_tokens"`
}

// LoadDotEnv loads variables from .env files into the environment. A missing
// file is not an error.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Get().Warn().Err(err).Msg("Failed to load .env file")
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	log := logger.Get()
	log.Debug().Msg("Loading configuration from environment")

	config := &Config{
		Backend:    strings.ToLower(getEnvOrDefault("AGENT_BACKEND", BackendFoundry)),
		APIVersion: getEnvOrDefault("AZURE_AI_API_VERSION", foundry.DefaultAPIVersion),
		Agent: agent.AgentDefinition{
			Model:        strings.TrimSpace(os.Getenv("AGENT_MODEL")),
			Name:         strings.TrimSpace(os.Getenv("AGENT_NAME")),
			Instructions: strings.TrimSpace(os.Getenv("AGENT_INSTRUCTIONS")),
		},
		Addr:  listenAddr(),
		Debug: os.Getenv("DEBUG") == "true",
	}

	switch config.Backend {
	case BackendFoundry:
		config.Endpoint = strings.TrimSpace(os.Getenv("AZURE_AI_PROJECT_ENDPOINT"))
	case BackendOpenAI:
		config.Endpoint = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
		config.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	case BackendAnthropic:
		config.Endpoint = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
		config.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}

	var err error
	if config.MaxTokens, err = parseInt("MAX_TOKENS"); err != nil {
		return nil, err
	}
	if config.PollInitial, err = parseDuration("POLL_INITIAL"); err != nil {
		return nil, err
	}
	if config.PollMax, err = parseDuration("POLL_MAX"); err != nil {
		return nil, err
	}
	if config.RunTimeout, err = parseDuration("RUN_TIMEOUT"); err != nil {
		return nil, err
	}
	if config.SessionIdleTTL, err = parseDuration("SESSION_IDLE_TTL"); err != nil {
		return nil, err
	}
	if config.MaxSessionDuration, err = parseDuration("SESSION_MAX_DURATION"); err != nil {
		return nil, err
	}

	if path := strings.TrimSpace(os.Getenv("AGENT_CONFIG")); path != "" {
		if err := config.loadAgentFile(path); err != nil {
			return nil, err
		}
	}

	log.Debug().
		Str("backend", config.Backend).
		Str("endpoint", config.Endpoint).
		Str("model", config.Agent.Model).
		Msg("Loaded configuration")

	return config, nil
}

// loadAgentFile fills agent fields the environment left empty
func (c *Config) loadAgentFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read agent config %s: %w", path, err)
	}

	var file agentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse agent config %s: %w", path, err)
	}

	if c.Agent.Model == "" {
		c.Agent.Model = strings.TrimSpace(file.Model)
	}
	if c.Agent.Name == "" {
		c.Agent.Name = strings.TrimSpace(file.Name)
	}
	if c.Agent.Instructions == "" {
		c.Agent.Instructions = strings.TrimSpace(file.Instructions)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = file.MaxTokens
	}
	logger.Get().Debug().Str("path", path).Msg("Loaded agent definition file")
	return nil
}

// WithDefaults sets default values for configuration fields that aren't set
func (c *Config) WithDefaults() *Config {
	log := logger.Get()
	log.Debug().Msg("Applying default configuration values")

	if c.Backend == "" {
		c.Backend = BackendFoundry
	}
	if c.APIVersion == "" {
		c.APIVersion = foundry.DefaultAPIVersion
	}

	// Set default model if not specified
	if c.Agent.Model == "" {
		c.Agent.Model = DefaultModel
		if c.Backend == BackendAnthropic {
			c.Agent.Model = claude.DefaultModel
		}
	}
	if c.Agent.Name == "" {
		c.Agent.Name = DefaultAgentName
	}
	if c.Agent.Instructions == "" {
		c.Agent.Instructions = DefaultInstructions
	}

	// Set default max tokens if not specified
	if c.MaxTokens <= 0 {
		c.MaxTokens = claude.DefaultMaxTokens
	}

	if c.PollInitial <= 0 {
		c.PollInitial = agent.DefaultPollInitial
	}
	if c.PollMax <= 0 {
		c.PollMax = agent.DefaultPollMax
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = claude.DefaultRunTimeout
	}
	if c.SessionIdleTTL <= 0 {
		c.SessionIdleTTL = time.Hour
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}

	return c
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	log := logger.Get()
	log.Debug().Msg("Validating configuration")

	switch c.Backend {
	case BackendFoundry:
		if c.Endpoint == "" {
			log.Error().Msg("AZURE_AI_PROJECT_ENDPOINT environment variable is not set")
			return fmt.Errorf("AZURE_AI_PROJECT_ENDPOINT environment variable is required: %w", agent.ErrEndpointRequired)
		}
	case BackendOpenAI:
		if c.APIKey == "" {
			log.Error().Msg("OPENAI_API_KEY environment variable is not set")
			return fmt.Errorf("OPENAI_API_KEY environment variable is not set")
		}
	case BackendAnthropic:
		if c.APIKey == "" {
			log.Error().Msg("ANTHROPIC_API_KEY environment variable is not set")
			return fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
	default:
		return fmt.Errorf("unknown AGENT_BACKEND %q", c.Backend)
	}

	if c.PollMax < c.PollInitial {
		return fmt.Errorf("POLL_MAX (%s) must not be shorter than POLL_INITIAL (%s)", c.PollMax, c.PollInitial)
	}

	return nil
}

// Backoff returns the poll schedule for sessions
func (c *Config) Backoff() agent.Backoff {
	return agent.Backoff{Initial: c.PollInitial, Max: c.PollMax}
}

// NewService builds the agent service for the configured backend
func (c *Config) NewService() (agent.Service, error) {
	switch c.Backend {
	case BackendFoundry:
		return foundry.NewAzure(c.Endpoint, c.APIVersion)
	case BackendOpenAI:
		return foundry.New(foundry.Options{Endpoint: c.Endpoint, APIKey: c.APIKey})
	case BackendAnthropic:
		opts := []option.RequestOption{option.WithAPIKey(c.APIKey)}
		if c.Endpoint != "" {
			opts = append(opts, option.WithBaseURL(c.Endpoint))
		}
		client := anthropic.NewClient(opts...)
		return claude.NewFromClient(&client, claude.Config{
			MaxTokens:  c.MaxTokens,
			RunTimeout: c.RunTimeout,
		}), nil
	}
	return nil, fmt.Errorf("unknown AGENT_BACKEND %q", c.Backend)
}

// SessionConfig returns the options for a new conversation session
func (c *Config) SessionConfig(svc agent.Service) agent.Config {
	return agent.Config{
		Service:    svc,
		Definition: c.Agent,
		Backoff:    c.Backoff(),
	}
}

func listenAddr() string {
	if addr := strings.TrimSpace(os.Getenv("ADDR")); addr != "" {
		return addr
	}
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		return ""
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// getEnvOrDefault gets an environment variable or returns the default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Get().Error().Err(err).Str("value", raw).Msgf("Invalid %s value", key)
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDuration(key string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		logger.Get().Error().Err(err).Str("value", raw).Msgf("Invalid %s value", key)
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
