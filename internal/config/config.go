// Package config loads application configuration from appforge.toml and
// APPFORGE_ environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	AI struct {
		Provider          string  `koanf:"provider"`
		APIKey            string  `koanf:"api_key"`
		BaseURL           string  `koanf:"base_url"`
		Model             string  `koanf:"model"`
		Temperature       float64 `koanf:"temperature"`
		RequestsPerMinute int     `koanf:"requests_per_minute"`
	} `koanf:"ai"`

	Sandbox struct {
		Image    string `koanf:"image"`
		AppPort  string `koanf:"app_port"`
		WorkDir  string `koanf:"work_dir"`
		HostAddr string `koanf:"host_addr"`
	} `koanf:"sandbox"`

	Queue struct {
		MaxWorkers int `koanf:"max_workers"`
	} `koanf:"queue"`

	Workflow struct {
		QuestionTimeoutHours int `koanf:"question_timeout_hours"`
		MaxIterations        int `koanf:"max_iterations"`
	} `koanf:"workflow"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"server.port":                     8891,
		"ai.provider":                     "openai",
		"ai.model":                        "gpt-4.1",
		"ai.temperature":                  0.1,
		"sandbox.image":                   "appforge-app:latest",
		"queue.max_workers":               10,
		"workflow.question_timeout_hours": 24,
		"workflow.max_iterations":         15,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations - prioritize afdata directory for containerized environments
		defaultPaths := []string{"./afdata/appforge.toml", "./appforge.toml", "$HOME/.appforge.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix APPFORGE_
	k.Load(env.Provider("APPFORGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# AppForge Configuration

[server]
port = 8891

[ai]
provider = "openai"
api_key = "your-api-key"
model = "gpt-4.1"
temperature = 0.1

[sandbox]
image = "appforge-app:latest"

[queue]
max_workers = 10

[workflow]
question_timeout_hours = 24
max_iterations = 15
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.AI.Provider == "" {
		return fmt.Errorf("ai provider is required")
	}

	switch config.AI.Provider {
	case "openai", "gemini", "claude":
		if config.AI.APIKey == "" {
			return fmt.Errorf("%s api_key is required", config.AI.Provider)
		}
	case "ollama":
		// Local provider, no key needed.
	default:
		return fmt.Errorf("unknown ai provider %q", config.AI.Provider)
	}

	if config.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive")
	}
	if config.Workflow.MaxIterations < 0 {
		return fmt.Errorf("max_iterations cannot be negative")
	}

	return nil
}
