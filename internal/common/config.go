// -----------------------------------------------------------------------
// Last Modified: Thursday, 28th May 2026 9:12:33 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration shared by the worker and the coordinator.
// Durations are TOML strings ("20s", "100ms") parsed at wiring time via
// ParseDurationOr so a malformed value degrades to the documented default.
type Config struct {
	Environment string            `toml:"environment"`
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
	Storage     StorageConfig     `toml:"storage"`
	Store       StoreConfig       `toml:"store"`
	Browser     BrowserConfig     `toml:"browser"`
	Proxy       ProxyConfig       `toml:"proxy"`
	Search      SearchConfig      `toml:"search"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	WebSocket   WebSocketConfig   `toml:"websocket"`
}

// ServerConfig contains the HTTP listener settings. HealthPort is a second,
// always-responsive listener that serves /health even while the main server
// is busy driving a search.
type ServerConfig struct {
	Port       int    `toml:"port" validate:"gte=1,lte=65535"`
	Host       string `toml:"host"`
	HealthPort int    `toml:"health_port" validate:"gte=0,lte=65535"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string   `toml:"level"`  // debug|info|warn|error
	Output []string `toml:"output"` // stdout, file
}

// StorageConfig contains local (per-worker) persistence settings
type StorageConfig struct {
	Type   string       `toml:"type" validate:"omitempty,oneof=badger"`
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig contains Badger database settings
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// StoreConfig selects the shared fleet store. The redis backend is the
// deployment default; memory is single-process only and exists for tests
// and local development.
type StoreConfig struct {
	Backend   string `toml:"backend" validate:"oneof=memory redis"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// BrowserConfig contains the Page Driver settings. Flags beyond these are
// built into the driver adapter; the profile list is the identity rotation
// ring.
type BrowserConfig struct {
	BinaryPath  string   `toml:"binary_path"`
	Headless    bool     `toml:"headless"`
	UserAgents  []string `toml:"user_agents"`  // one picked at random per session
	WindowSizes []string `toml:"window_sizes"` // "WIDTHxHEIGHT", one picked at random per session
	ProfileRoot string   `toml:"profile_root"`
	Profiles    []string `toml:"profiles" validate:"min=1"`
	StartURL    string   `toml:"start_url"`
	PageTimeout string   `toml:"page_timeout"`
	QuitTimeout string   `toml:"quit_timeout"`
}

// ProxyConfig contains the proxy pool and rotation policy.
// RotationThreshold 0 disables counter-based rotation.
type ProxyConfig struct {
	Endpoints         []string `toml:"endpoints"`
	Single            string   `toml:"single"`
	BindingMode       string   `toml:"binding_mode" validate:"oneof=independent by_profile"`
	RotationThreshold int      `toml:"rotation_threshold" validate:"gte=0"`
	BlockCooldown     string   `toml:"block_cooldown"`
	ProbeURL          string   `toml:"probe_url"`
	ProbeTimeout      string   `toml:"probe_timeout"`
}

// SearchConfig contains the answer-completion protocol settings. The phrase
// lists split block symptoms into proxy-level (reported to the coordinator)
// and content-level (never reported) kinds.
type SearchConfig struct {
	AnswerTimeout         string   `toml:"answer_timeout"`
	ReadyTimeout          string   `toml:"ready_timeout"`
	PerSearchReadyTimeout string   `toml:"per_search_ready_timeout"`
	PageOpenTimeout       string   `toml:"page_open_timeout"`
	NewSearchWait         string   `toml:"new_search_wait"`
	PollInterval          string   `toml:"poll_interval"`
	StabilityWindow       string   `toml:"stability_window"`
	ErrorGrace            string   `toml:"error_grace"`
	NudgeInterval         string   `toml:"nudge_interval"`
	MaxSearchesPerSession int      `toml:"max_searches_per_session" validate:"gte=1"`
	SessionPerSearch      bool     `toml:"session_per_search"`
	MinAnswerLength       int      `toml:"min_answer_length" validate:"gte=0"`
	ExpectedJSONKeys      []string `toml:"expected_json_keys" validate:"min=1"`
	BlockPhrases          []string `toml:"block_phrases"`
	ContentPhrases        []string `toml:"content_phrases"`
	RefusalPhrases        []string `toml:"refusal_phrases"`

	Selectors SelectorsConfig `toml:"selectors"`
}

// SelectorsConfig carries the DOM entry points for the target surface.
// These drift with the surface and are deliberately configuration, not code.
// Submit and NewSearch are candidate lists tried in order.
type SelectorsConfig struct {
	InputPrimary   string   `toml:"input_primary"`
	InputFallback  string   `toml:"input_fallback"`
	Submit         []string `toml:"submit"`
	NewSearch      []string `toml:"new_search"`
	Answer         string   `toml:"answer"`
	AnswerFallback string   `toml:"answer_fallback"`
}

// CoordinatorConfig covers both sides: URL/NotifyTimeout are used by the
// worker's client, WorkerEndpoints/FanoutTimeout/SweepCron by the
// coordinator binary.
type CoordinatorConfig struct {
	URL             string   `toml:"url"`
	NotifyTimeout   string   `toml:"notify_timeout"`
	WorkerEndpoints []string `toml:"worker_endpoints"`
	FanoutTimeout   string   `toml:"fanout_timeout"`
	SweepCron       string   `toml:"sweep_cron"`
}

// WebSocketConfig contains event stream settings for the worker /ws endpoint
type WebSocketConfig struct {
	AllowedEvents     []string          `toml:"allowed_events"`
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// NewDefaultConfig creates a configuration with default values.
// Timing defaults mirror the production deployment; only user-facing
// settings should need a quaesitor.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:       4101,
			Host:       "0.0.0.0",
			HealthPort: 4102,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data/quaesitor",
			},
		},
		Store: StoreConfig{
			Backend:   "memory",
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "browser_worker",
		},
		Browser: BrowserConfig{
			Headless: true,
			UserAgents: []string{
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0 Safari/537.36",
			},
			WindowSizes: []string{"1366x768", "1440x900", "1536x864", "1600x900", "1920x1080"},
			ProfileRoot: "./data/profiles",
			Profiles:    []string{"default"},
			StartURL:    "https://www.google.com/?udm=50&hl=en&gl=US",
			PageTimeout: "45s",
			QuitTimeout: "5s",
		},
		Proxy: ProxyConfig{
			BindingMode:       "independent",
			RotationThreshold: 0, // counter-based rotation disabled
			BlockCooldown:     "300s",
			ProbeURL:          "https://www.gstatic.com/generate_204",
			ProbeTimeout:      "5s",
		},
		Search: SearchConfig{
			AnswerTimeout:         "20s",
			ReadyTimeout:          "25s",
			PerSearchReadyTimeout: "8s",
			PageOpenTimeout:       "12s",
			NewSearchWait:         "5s",
			PollInterval:          "100ms",
			StabilityWindow:       "2s",
			ErrorGrace:            "3s",
			NudgeInterval:         "2500ms",
			MaxSearchesPerSession: 50,
			SessionPerSearch:      true,
			MinAnswerLength:       10,
			ExpectedJSONKeys:      []string{"domain", "patterns"},
			BlockPhrases: []string{
				"something went wrong",
				"ai response wasn't generated",
			},
			ContentPhrases: []string{
				"this request is not supported",
			},
			RefusalPhrases: []string{
				"no response available",
				"try asking something else",
			},
			Selectors: SelectorsConfig{
				InputPrimary:  `textarea[aria-label]`,
				InputFallback: `div[contenteditable="true"]`,
				Submit: []string{
					`button[aria-label="Send"]`,
					`button[data-xid="input-plate-send-button"]`,
				},
				NewSearch: []string{
					`button[aria-label="New search"]`,
					`button[aria-label="Start new search"]`,
				},
				Answer:         `[data-subtree="aimfl"]`,
				AnswerFallback: `div[data-rl]`,
			},
		},
		Coordinator: CoordinatorConfig{
			URL:           "http://127.0.0.1:8900",
			NotifyTimeout: "2s",
			FanoutTimeout: "10s",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"search_progress": "500ms",
			},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Proxy.BindingMode == "by_profile" && len(c.ProxyEndpoints()) == 0 {
		return fmt.Errorf("invalid configuration: binding_mode by_profile requires a proxy list")
	}
	return nil
}

// ProxyEndpoints returns the effective proxy list: the configured pool, or
// the single proxy as a one-element pool when no pool is configured.
func (c *Config) ProxyEndpoints() []string {
	if len(c.Proxy.Endpoints) > 0 {
		return c.Proxy.Endpoints
	}
	if c.Proxy.Single != "" {
		return []string{c.Proxy.Single}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("QUAESITOR_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("QUAESITOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("QUAESITOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("QUAESITOR_HEALTH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.HealthPort = p
		}
	}

	// Logging
	if level := os.Getenv("QUAESITOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("QUAESITOR_LOG_OUTPUT"); output != "" {
		if outputs := splitCSV(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage
	if path := os.Getenv("QUAESITOR_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Shared store
	if backend := os.Getenv("QUAESITOR_STORE_BACKEND"); backend != "" {
		config.Store.Backend = backend
	}
	if addr := os.Getenv("QUAESITOR_STORE_ADDR"); addr != "" {
		config.Store.Addr = addr
	}
	if password := os.Getenv("QUAESITOR_STORE_PASSWORD"); password != "" {
		config.Store.Password = password
	}
	if db := os.Getenv("QUAESITOR_STORE_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Store.DB = d
		}
	}
	if prefix := os.Getenv("QUAESITOR_STORE_KEY_PREFIX"); prefix != "" {
		config.Store.KeyPrefix = prefix
	}

	// Browser
	if binary := os.Getenv("QUAESITOR_BROWSER_BINARY"); binary != "" {
		config.Browser.BinaryPath = binary
	}
	if headless := os.Getenv("QUAESITOR_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if root := os.Getenv("QUAESITOR_PROFILE_ROOT"); root != "" {
		config.Browser.ProfileRoot = root
	}
	if profiles := os.Getenv("QUAESITOR_PROFILES"); profiles != "" {
		if list := splitCSV(profiles); len(list) > 0 {
			config.Browser.Profiles = list
		}
	}
	if url := os.Getenv("QUAESITOR_START_URL"); url != "" {
		config.Browser.StartURL = url
	}

	// Proxy
	if list := os.Getenv("QUAESITOR_PROXY_LIST"); list != "" {
		config.Proxy.Endpoints = splitCSV(list)
	}
	if single := os.Getenv("QUAESITOR_PROXY_URL"); single != "" {
		config.Proxy.Single = single
	}
	if mode := os.Getenv("QUAESITOR_PROXY_BINDING_MODE"); mode != "" {
		config.Proxy.BindingMode = mode
	}
	if threshold := os.Getenv("QUAESITOR_PROXY_ROTATION_REQUESTS"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil {
			config.Proxy.RotationThreshold = t
		}
	}
	if cooldown := os.Getenv("QUAESITOR_PROXY_BLOCK_TIMEOUT"); cooldown != "" {
		config.Proxy.BlockCooldown = cooldown
	}

	// Search
	if cap := os.Getenv("QUAESITOR_MAX_SEARCHES_PER_SESSION"); cap != "" {
		if c2, err := strconv.Atoi(cap); err == nil {
			config.Search.MaxSearchesPerSession = c2
		}
	}
	if perSearch := os.Getenv("QUAESITOR_SESSION_PER_SEARCH"); perSearch != "" {
		if p, err := strconv.ParseBool(perSearch); err == nil {
			config.Search.SessionPerSearch = p
		}
	}
	if timeout := os.Getenv("QUAESITOR_ANSWER_TIMEOUT"); timeout != "" {
		config.Search.AnswerTimeout = timeout
	}

	// Coordinator
	if url := os.Getenv("QUAESITOR_COORDINATOR_URL"); url != "" {
		config.Coordinator.URL = url
	}
	if endpoints := os.Getenv("QUAESITOR_WORKER_ENDPOINTS"); endpoints != "" {
		config.Coordinator.WorkerEndpoints = splitCSV(endpoints)
	}
	if cron := os.Getenv("QUAESITOR_SWEEP_CRON"); cron != "" {
		config.Coordinator.SweepCron = cron
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDurationOr parses a duration string, falling back to def on empty or
// malformed input. Config durations are strings so a bad value never aborts
// startup.
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(value string) []string {
	parts := []string{}
	for _, p := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
