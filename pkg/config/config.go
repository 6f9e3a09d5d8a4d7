package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	Actions  ActionsConfig  `mapstructure:"actions"`
	Media    []MediaConfig  `mapstructure:"media"`
}

type TelegramConfig struct {
	Token       string        `mapstructure:"token"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	SendRate    float64       `mapstructure:"send_rate"`
	SendBurst   int           `mapstructure:"send_burst"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float64       `mapstructure:"temperature"`
	ReasoningEffort string        `mapstructure:"reasoning_effort"`
	Verbosity       string        `mapstructure:"verbosity"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type AgentConfig struct {
	ID              string `mapstructure:"id"`
	OwnerID         string `mapstructure:"owner_id"`
	Name            string `mapstructure:"name"`
	BusinessAddress string `mapstructure:"business_address"`
	SystemPrompt    string `mapstructure:"system_prompt"`
	HistoryLimit    int    `mapstructure:"history_limit"`
}

type CalendarConfig struct {
	DefaultTimezone     string        `mapstructure:"default_timezone"`
	SlotStep            time.Duration `mapstructure:"slot_step"`
	AppointmentDuration time.Duration `mapstructure:"appointment_duration"`
	AvailabilityDays    int           `mapstructure:"availability_days"`
}

type ActionsConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type MediaConfig struct {
	Category string `mapstructure:"category"`
	URL      string `mapstructure:"url"`
	Caption  string `mapstructure:"caption"`
}

const defaultSystemPrompt = `You are a friendly assistant for a small business, chatting with customers.
Answer briefly and politely. Use the available actions to check availability before booking,
book appointments, send the menu or other media, and record important details.
Never show raw errors to the customer.`

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.send_timeout", 10*time.Second)
	v.SetDefault("telegram.send_rate", 25.0)
	v.SetDefault("telegram.send_burst", 5)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.timeout", 30*time.Second)
	v.SetDefault("agent.id", "default")
	v.SetDefault("agent.owner_id", "default")
	v.SetDefault("agent.name", "Assistant")
	v.SetDefault("agent.system_prompt", defaultSystemPrompt)
	v.SetDefault("agent.history_limit", 20)
	v.SetDefault("calendar.default_timezone", "UTC")
	v.SetDefault("calendar.slot_step", 30*time.Minute)
	v.SetDefault("calendar.appointment_duration", time.Hour)
	v.SetDefault("calendar.availability_days", 7)
	v.SetDefault("actions.timeout", 20*time.Second)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai.api_key is required"))
	}
	if c.Agent.ID == "" {
		errs = append(errs, errors.New("agent.id is required"))
	}
	durations := []struct {
		key   string
		value time.Duration
	}{
		{"telegram.send_timeout", c.Telegram.SendTimeout},
		{"openai.timeout", c.OpenAI.Timeout},
		{"calendar.slot_step", c.Calendar.SlotStep},
		{"calendar.appointment_duration", c.Calendar.AppointmentDuration},
		{"actions.timeout", c.Actions.Timeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
		}
	}
	if _, err := time.LoadLocation(c.Calendar.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("calendar.default_timezone: %w", err))
	}
	for i, m := range c.Media {
		if m.Category == "" || m.URL == "" {
			errs = append(errs, fmt.Errorf("media[%d] needs a category and a url", i))
		}
	}
	return errors.Join(errs...)
}
