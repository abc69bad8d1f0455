package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AgentConfig holds configuration for the kiosk agent.
type AgentConfig struct {
	// Server settings
	Port        int
	Environment string
	LogLevel    string
	APIKey      string

	// Identity
	AgentID string

	// Storage
	ScratchDir      string
	DownloadTimeout time.Duration

	// Status push
	HeartbeatURL        string
	AccessKey           string
	SigningKey          string
	StatusInterval      time.Duration
	StatusRetryInterval time.Duration
	StatusStartupDelay  time.Duration
	SelfCheckURL        string

	// Playback
	PlayerPath       string
	PlayerArgs       []string
	PlayerSocketDir  string
	ProbeTimeout     time.Duration
	WatchdogInterval time.Duration
	WatchdogTicks    int

	// Commands
	CommandAcquireTimeout time.Duration
	RepoDir               string
	Schedule              []ScheduleEntry

	// History journal
	DatabaseURL string
}

// ScheduleEntry pairs a cron spec with the command it enqueues.
type ScheduleEntry struct {
	Spec    string
	Command string
}

func setDefaults(v *viper.Viper) {
	hostname, _ := os.Hostname()

	v.SetDefault("port", 8000)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "")
	v.SetDefault("api_key", "")
	v.SetDefault("agent_id", hostname)
	v.SetDefault("scratch_dir", "/tmp")
	v.SetDefault("download_timeout", time.Duration(0))
	v.SetDefault("heartbeat_url", "")
	v.SetDefault("access_key", "")
	v.SetDefault("signing_key", "")
	v.SetDefault("status_interval", 60*time.Second)
	v.SetDefault("status_retry_interval", 5*time.Second)
	v.SetDefault("status_startup_delay", 5*time.Second)
	v.SetDefault("self_check_url", "")
	v.SetDefault("player_path", "mpv")
	v.SetDefault("player_args", "")
	v.SetDefault("player_socket_dir", os.TempDir())
	v.SetDefault("probe_timeout", 10*time.Second)
	v.SetDefault("watchdog_interval", time.Second)
	v.SetDefault("watchdog_ticks", 10)
	v.SetDefault("command_acquire_timeout", 3*time.Second)
	v.SetDefault("repo_dir", ".")
	v.SetDefault("schedule", "")
	v.SetDefault("database_url", "")
}

// LoadAgentConfig loads the agent configuration from the environment and an
// optional agent.yaml in the working directory or /etc/kiosk-agent.
func LoadAgentConfig() (*AgentConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("agent")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/kiosk-agent")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*AgentConfig, error) {
	cfg := &AgentConfig{
		Port:                  v.GetInt("port"),
		Environment:           v.GetString("environment"),
		LogLevel:              v.GetString("log_level"),
		APIKey:                v.GetString("api_key"),
		AgentID:               v.GetString("agent_id"),
		ScratchDir:            v.GetString("scratch_dir"),
		DownloadTimeout:       v.GetDuration("download_timeout"),
		HeartbeatURL:          v.GetString("heartbeat_url"),
		AccessKey:             v.GetString("access_key"),
		SigningKey:            v.GetString("signing_key"),
		StatusInterval:        v.GetDuration("status_interval"),
		StatusRetryInterval:   v.GetDuration("status_retry_interval"),
		StatusStartupDelay:    v.GetDuration("status_startup_delay"),
		SelfCheckURL:          v.GetString("self_check_url"),
		PlayerPath:            v.GetString("player_path"),
		PlayerArgs:            strings.Fields(v.GetString("player_args")),
		PlayerSocketDir:       v.GetString("player_socket_dir"),
		ProbeTimeout:          v.GetDuration("probe_timeout"),
		WatchdogInterval:      v.GetDuration("watchdog_interval"),
		WatchdogTicks:         v.GetInt("watchdog_ticks"),
		CommandAcquireTimeout: v.GetDuration("command_acquire_timeout"),
		RepoDir:               v.GetString("repo_dir"),
		DatabaseURL:           v.GetString("database_url"),
	}

	if cfg.SelfCheckURL == "" {
		cfg.SelfCheckURL = fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Port)
	}

	schedule, err := ParseSchedule(v.GetString("schedule"))
	if err != nil {
		return nil, fmt.Errorf("parse SCHEDULE: %w", err)
	}
	cfg.Schedule = schedule

	if cfg.HeartbeatURL == "" {
		return nil, fmt.Errorf("HEARTBEAT_URL is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("ACCESS_KEY is required")
	}
	if cfg.WatchdogTicks <= 0 {
		return nil, fmt.Errorf("WATCHDOG_TICKS must be positive")
	}
	if cfg.StatusInterval <= 0 || cfg.StatusRetryInterval <= 0 {
		return nil, fmt.Errorf("status intervals must be positive")
	}

	return cfg, nil
}

// ParseSchedule parses "spec=command;spec=command". Cron specs contain
// spaces, so entries are separated by semicolons and split on the last '='.
func ParseSchedule(raw string) ([]ScheduleEntry, error) {
	var entries []ScheduleEntry
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, "=")
		if idx <= 0 || idx == len(part)-1 {
			return nil, fmt.Errorf("invalid schedule entry %q", part)
		}
		entries = append(entries, ScheduleEntry{
			Spec:    strings.TrimSpace(part[:idx]),
			Command: strings.TrimSpace(part[idx+1:]),
		})
	}
	return entries, nil
}
