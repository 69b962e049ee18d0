package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for netopsbot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Device   DeviceConfig   `json:"device"`
	RESTCONF RESTCONFConfig `json:"restconf"`
	NETCONF  NETCONFConfig  `json:"netconf"`
	SSH      SSHConfig      `json:"ssh"`
	Playbook PlaybookConfig `json:"playbook"`
	Extract  ExtractConfig  `json:"extract"`
	Session  SessionConfig  `json:"session"`
	Channel  ChannelConfig  `json:"channel"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	DeviceID string `json:"deviceId"` // commands must start with "/<deviceId> "
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// DeviceConfig holds credentials shared by every backend and the loopback
// interface the config actions manage.
type DeviceConfig struct {
	Username string         `json:"username"`
	Password string         `json:"password"`
	Loopback LoopbackConfig `json:"loopback"`
}

type LoopbackConfig struct {
	Name        string `json:"name,omitempty"` // default: Loopback<deviceId>
	Description string `json:"description"`
	IP          string `json:"ip"`
	Netmask     string `json:"netmask"`
}

type RESTCONFConfig struct {
	Scheme         string `json:"scheme"`
	Port           int    `json:"port,omitempty"` // 0 = scheme default
	InsecureTLS    bool   `json:"insecureTLS"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type NETCONFConfig struct {
	Port           int `json:"port"`
	TimeoutSeconds int `json:"timeoutSeconds"`
}

type SSHConfig struct {
	Port            int    `json:"port"`
	TimeoutSeconds  int    `json:"timeoutSeconds"`
	KnownHostsFile  string `json:"knownHostsFile,omitempty"`
	InsecureHostKey bool   `json:"insecureHostKey"`
}

type PlaybookConfig struct {
	Binary            string `json:"binary"`
	Dir               string `json:"dir"` // working directory; relative paths below resolve against it
	InventoryTemplate string `json:"inventoryTemplate"`
	AnsibleConfig     string `json:"ansibleConfig,omitempty"`
	BackupFile        string `json:"backupFile"`
	BackupPlaybook    string `json:"backupPlaybook"`
	MotdGetPlaybook   string `json:"motdGetPlaybook"`
	MotdSetPlaybook   string `json:"motdSetPlaybook"`
	TimeoutSeconds    int    `json:"timeoutSeconds"`
	MaxOutputBytes    int    `json:"maxOutputBytes"`
}

type ExtractConfig struct {
	TemplatesFile string `json:"templatesFile,omitempty"` // optional YAML index of TextFSM templates overriding the built-ins
}

type SessionConfig struct {
	Backend     string `json:"backend"` // "memory" | "sqlite" | "postgres"
	DBPath      string `json:"dbPath,omitempty"`
	PostgresURL string `json:"postgresUrl,omitempty"`
}

type ChannelConfig struct {
	Type     string         `json:"type"` // "webex" | "telegram" | "slack" | "discord" | "matrix" | "cli"
	Webex    WebexConfig    `json:"webex"`
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	Discord  DiscordConfig  `json:"discord"`
	Matrix   MatrixConfig   `json:"matrix"`
}

type WebexConfig struct {
	Token               string `json:"token"`
	RoomID              string `json:"roomId"`
	APIBase             string `json:"apiBase"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds"`
}

type TelegramConfig struct {
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type SlackConfig struct {
	BotToken  string `json:"botToken"`
	AppToken  string `json:"appToken"` // required for Socket Mode
	ChannelID string `json:"channelId,omitempty"`
}

type DiscordConfig struct {
	Token     string `json:"token"`
	ChannelID string `json:"channelId,omitempty"` // optional: only listen in this channel
}

type MatrixConfig struct {
	Homeserver  string `json:"homeserver"`
	UserID      string `json:"userId"` // full MXID, e.g. @netops:example.org
	AccessToken string `json:"accessToken"`
	RoomID      string `json:"roomId,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.netopsbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netopsbot"
	}
	return filepath.Join(home, ".netopsbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// parse decodes data over Defaults after substituting ${VAR} and
// ${VAR:-default} from the environment, then expands ~ in file paths.
func parse(data []byte) (*Config, error) {
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Session.DBPath = ExpandPath(cfg.Session.DBPath)
	cfg.Playbook.Dir = ExpandPath(cfg.Playbook.Dir)
	cfg.SSH.KnownHostsFile = ExpandPath(cfg.SSH.KnownHostsFile)
	cfg.Extract.TemplatesFile = ExpandPath(cfg.Extract.TemplatesFile)
	return cfg, nil
}

// Update sets key to value in the config file at path. The file is edited
// as written: ${VAR} placeholders and ~ paths are kept, and only the
// environment-expanded view is validated before saving.
func Update(path, key string, value any) error {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	raw := Defaults()
	if err := json.Unmarshal(data, raw); err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := SetByPath(raw, key, value); err != nil {
		return err
	}

	edited, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	expanded, err := parse(edited)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := Validate(expanded); err != nil {
		return err
	}
	return Save(path, raw)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.General.DeviceID) == "" || strings.ContainsAny(cfg.General.DeviceID, " \t\n") {
		errs = append(errs, "general.deviceId must be a non-empty word")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	switch cfg.RESTCONF.Scheme {
	case "http", "https":
	default:
		errs = append(errs, "restconf.scheme must be http or https")
	}
	checkPort := func(name string, port int, allowZero bool) {
		if (port == 0 && !allowZero) || port < 0 || port > 65535 {
			errs = append(errs, fmt.Sprintf("%s must be between 1 and 65535", name))
		}
	}
	checkPort("restconf.port", cfg.RESTCONF.Port, true)
	checkPort("netconf.port", cfg.NETCONF.Port, false)
	checkPort("ssh.port", cfg.SSH.Port, false)

	for name, secs := range map[string]int{
		"restconf.timeoutSeconds": cfg.RESTCONF.TimeoutSeconds,
		"netconf.timeoutSeconds":  cfg.NETCONF.TimeoutSeconds,
		"ssh.timeoutSeconds":      cfg.SSH.TimeoutSeconds,
		"playbook.timeoutSeconds": cfg.Playbook.TimeoutSeconds,
	} {
		if secs < 1 {
			errs = append(errs, name+" must be >= 1")
		}
	}

	if !cfg.SSH.InsecureHostKey && cfg.SSH.KnownHostsFile == "" {
		errs = append(errs, "ssh.knownHostsFile is required when ssh.insecureHostKey is false")
	}
	if cfg.Playbook.Binary == "" {
		errs = append(errs, "playbook.binary is required")
	}

	switch cfg.Session.Backend {
	case "", "memory":
	case "sqlite":
		if cfg.Session.DBPath == "" {
			errs = append(errs, "session.dbPath is required for the sqlite backend")
		}
	case "postgres":
		if cfg.Session.PostgresURL == "" {
			errs = append(errs, "session.postgresUrl is required for the postgres backend")
		}
	default:
		errs = append(errs, "session.backend must be one of: memory, sqlite, postgres")
	}

	switch cfg.Channel.Type {
	case "cli":
	case "webex":
		if cfg.Channel.Webex.RoomID == "" {
			errs = append(errs, "channel.webex.roomId is required")
		}
		if cfg.Channel.Webex.PollIntervalSeconds < 1 {
			errs = append(errs, "channel.webex.pollIntervalSeconds must be >= 1")
		}
	case "telegram", "slack", "discord", "matrix":
	default:
		errs = append(errs, "channel.type must be one of: webex, telegram, slack, discord, matrix, cli")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// LoopbackName returns the managed interface name, defaulting to Loopback<deviceId>.
func (c *Config) LoopbackName() string {
	if c.Device.Loopback.Name != "" {
		return c.Device.Loopback.Name
	}
	return "Loopback" + c.General.DeviceID
}
