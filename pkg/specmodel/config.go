package specmodel

// CommandMapping is the user-supplied rename/alias/hide layer applied by the
// Transformer during name derivation (spec.md §4.2).
type CommandMapping struct {
	Groups     map[string]string                 `toml:"groups"`
	Operations map[string]CommandMappingOverride `toml:"operations"`
}

// ApiConfig holds per-context user preferences (spec.md §3).
type ApiConfig struct {
	BaseURLOverride string                   `toml:"base_url_override,omitempty"`
	EnvironmentURLs map[string]string        `toml:"environment_urls,omitempty"`
	Secrets         map[string]SecretBinding `toml:"secrets,omitempty"`
	StrictModePref  bool                     `toml:"strict_mode"`
	CommandMapping  CommandMapping           `toml:"command_mapping"`
}

// RetryDefaults is the global retry policy (spec.md §3/§4.5).
type RetryDefaults struct {
	MaxAttempts    int `toml:"max_attempts"`
	InitialDelayMs int `toml:"initial_delay_ms"`
	MaxDelayMs     int `toml:"max_delay_ms"`
}

// AgentDefaults holds defaults relevant to automation/agent invocations.
type AgentDefaults struct {
	JSONErrors bool `toml:"json_errors"`
}

// CacheDefaults is the global response-cache policy (spec.md §4.6).
type CacheDefaults struct {
	Enabled            bool `toml:"enabled"`
	DefaultTTLSecs     int  `toml:"default_ttl_secs"`
	AllowAuthenticated bool `toml:"allow_authenticated"`
}

// GlobalConfig is the decoded shape of config.toml (spec.md §6).
type GlobalConfig struct {
	DefaultTimeoutSecs int                  `toml:"default_timeout_secs"`
	AgentDefaults      AgentDefaults        `toml:"agent_defaults"`
	RetryDefaults      RetryDefaults        `toml:"retry_defaults"`
	Cache              CacheDefaults        `toml:"cache"`
	ApiConfigs         map[string]ApiConfig `toml:"api_configs"`
}

// DefaultGlobalConfig returns the out-of-the-box GlobalConfig used when no
// config.toml exists yet.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		DefaultTimeoutSecs: 30,
		AgentDefaults:      AgentDefaults{JSONErrors: false},
		RetryDefaults: RetryDefaults{
			MaxAttempts:    0,
			InitialDelayMs: 500,
			MaxDelayMs:     30000,
		},
		Cache: CacheDefaults{
			Enabled:            false,
			DefaultTTLSecs:     300,
			AllowAuthenticated: false,
		},
		ApiConfigs: map[string]ApiConfig{},
	}
}

// Fingerprint is the cheap-then-exact change-detection triple of spec.md §3.
type Fingerprint struct {
	SHA256       string
	ModTimeNanos int64
	Size         int64
}

// Equal reports whether two fingerprints refer to unchanged source bytes.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.SHA256 == other.SHA256 && f.ModTimeNanos == other.ModTimeNanos && f.Size == other.Size
}

// CheapEqual compares only the inexpensive (mtime, size) pair — the first
// gate before recomputing the SHA-256 hash (spec.md §3 Fingerprint).
func (f Fingerprint) CheapEqual(other Fingerprint) bool {
	return f.ModTimeNanos == other.ModTimeNanos && f.Size == other.Size
}

// Metadata is the on-disk .cache/.metadata.json shape (spec.md §6).
type Metadata struct {
	Version      int                    `json:"version"`
	Fingerprints map[string]Fingerprint `json:"fingerprints"`
}
