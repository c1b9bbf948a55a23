package config

// Config is the top-level configuration
type Config struct {
	Workspace string          `json:"workspace"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Cron      CronConfig      `json:"cron"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

// ProvidersConfig holds API keys and settings for LLM providers
type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
	Custom    ProviderConfig `json:"custom"`
}

type ProviderConfig struct {
	APIKey       string `json:"apiKey"`
	BaseURL      string `json:"baseUrl"`
	DefaultModel string `json:"defaultModel"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type DiscordConfig struct {
	Token string `json:"token"`
}

type SlackConfig struct {
	BotToken string `json:"botToken"`
}

// CronConfig configures the job scheduler.
type CronConfig struct {
	StorePath           string        `json:"storePath"`
	RunLogDir           string        `json:"runLogDir"`
	TickIntervalSeconds int           `json:"tickIntervalSeconds"`
	MaxConcurrentRuns   int           `json:"maxConcurrentRuns"`
	Webhook             WebhookConfig `json:"webhook"`
}

type WebhookConfig struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// HeartbeatConfig configures the periodic heartbeat pass.
type HeartbeatConfig struct {
	Model           string `json:"model"`
	IntervalSeconds int    `json:"intervalSeconds"`
}

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.relaybot/workspace",
		Cron: CronConfig{
			StorePath:           "~/.relaybot/cron/jobs.json",
			TickIntervalSeconds: 30,
			MaxConcurrentRuns:   4,
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: 1800,
		},
	}
}
