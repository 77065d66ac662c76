package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stake-plus/govtally/src/data"
	"gorm.io/gorm"
)

// Discord holds presentation settings. An empty token runs the service headless.
type Discord struct {
	Token          string
	GuildID        string
	ForumChannelID string
	VoterRole      string
	AdminRole      string
	NotifyRole     string
	TitleMaxLength int
	BodyMaxLength  int
}

// Chain selects and configures the proposal source.
type Chain struct {
	Network              string
	RPCURL               string
	PolkassemblyEndpoint string
	// ActiveFile serves the active set from a JSON file instead of RPC.
	ActiveFile string
	ScanDepth  int
	Workers    int
}

// Storage locates the JSON documents.
type Storage struct {
	DataDir    string
	MaxBackups int
}

// Schedule holds job intervals.
type Schedule struct {
	CheckInterval      time.Duration
	AutonomousInterval time.Duration
	SyncInterval       time.Duration
	RecheckInterval    time.Duration
	RestartBackoff     time.Duration
	SweepMaxAgeDays    int
}

// Voting controls vote intake and the autonomous decision job.
type Voting struct {
	ReadOnly              bool
	SoloMode              bool
	MinParticipation      int
	Threshold             float64
	VotePeriodsDir        string
	DefaultVotePeriodDays float64
}

// Enabled reports whether autonomous decisions are taken.
func (v Voting) Enabled() bool { return !v.SoloMode && !v.ReadOnly }

// API configures the HTTP server. An empty Addr disables it.
type API struct {
	Addr        string
	JWTSecret   string
	CORSOrigins []string
}

// Config is the full service configuration.
type Config struct {
	Discord  Discord
	Chain    Chain
	Storage  Storage
	Schedule Schedule
	Voting   Voting
	API      API
	RedisURL string
	MySQLDSN string
	LogLevel string
	Debug    bool
}

// Load resolves configuration from the settings table (when db is non-nil),
// the environment, .env files and an optional config file.
func Load(db *gorm.DB, configFile string) (Config, error) {
	loadEnv(".")
	if err := initSource(configFile); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
	}
	if err := data.LoadSettings(db); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	var errs []error
	dataDir := GetSetting("data_dir", "DATA_DIR", "./data")
	cfg := Config{
		Discord: Discord{
			Token:          GetSetting("discord_token", "DISCORD_TOKEN", ""),
			GuildID:        GetSetting("guild_id", "GUILD_ID", ""),
			ForumChannelID: GetSetting("forum_channel_id", "FORUM_CHANNEL_ID", ""),
			VoterRole:      GetSetting("voter_role", "VOTER_ROLE", ""),
			AdminRole:      GetSetting("admin_role", "ADMIN_ROLE", "admin"),
			NotifyRole:     GetSetting("notify_role", "NOTIFY_ROLE", ""),
			TitleMaxLength: getIntSetting("title_max_length", "TITLE_MAX_LENGTH", 95, &errs),
			BodyMaxLength:  getIntSetting("body_max_length", "BODY_MAX_LENGTH", 2000, &errs),
		},
		Chain: Chain{
			Network:              strings.ToLower(GetSetting("network_name", "NETWORK_NAME", "polkadot")),
			RPCURL:               GetSetting("substrate_rpc", "SUBSTRATE_RPC", ""),
			PolkassemblyEndpoint: GetSetting("polkassembly_endpoint", "POLKASSEMBLY_ENDPOINT", "https://api.polkassembly.io/api/v1"),
			ActiveFile:           GetSetting("active_proposals_file", "ACTIVE_PROPOSALS_FILE", ""),
			ScanDepth:            getIntSetting("scan_depth", "SCAN_DEPTH", 200, &errs),
			Workers:              getIntSetting("chain_workers", "CHAIN_WORKERS", 8, &errs),
		},
		Storage: Storage{
			DataDir:    dataDir,
			MaxBackups: getIntSetting("max_backups", "MAX_BACKUPS", 5, &errs),
		},
		Schedule: Schedule{
			CheckInterval:      getDurationSetting("check_interval", "CHECK_INTERVAL", 3*time.Hour, &errs),
			AutonomousInterval: getDurationSetting("autonomous_interval", "AUTONOMOUS_INTERVAL", 12*time.Hour, &errs),
			SyncInterval:       getDurationSetting("sync_interval", "SYNC_INTERVAL", 30*time.Minute, &errs),
			RecheckInterval:    getDurationSetting("recheck_interval", "RECHECK_INTERVAL", 6*time.Hour, &errs),
			RestartBackoff:     getDurationSetting("restart_backoff", "RESTART_BACKOFF", 30*time.Second, &errs),
			SweepMaxAgeDays:    getIntSetting("sweep_max_age_days", "SWEEP_MAX_AGE_DAYS", 30, &errs),
		},
		Voting: Voting{
			ReadOnly:              getBoolSetting("read_only", "READ_ONLY", false),
			SoloMode:              getBoolSetting("solo_mode", "SOLO_MODE", true),
			MinParticipation:      getIntSetting("min_participation", "MIN_PARTICIPATION", 0, &errs),
			Threshold:             getFloatSetting("threshold", "THRESHOLD", 0, &errs),
			VotePeriodsDir:        GetSetting("vote_periods_dir", "VOTE_PERIODS_DIR", filepath.Join(dataDir, "vote_periods")),
			DefaultVotePeriodDays: getFloatSetting("default_vote_period_days", "DEFAULT_VOTE_PERIOD_DAYS", 0, &errs),
		},
		API: API{
			Addr:        GetSetting("api_addr", "API_ADDR", ""),
			JWTSecret:   GetSetting("jwt_secret", "JWT_SECRET", ""),
			CORSOrigins: splitList(GetSetting("cors_origins", "CORS_ORIGINS", "")),
		},
		RedisURL: GetSetting("redis_url", "REDIS_URL", ""),
		MySQLDSN: lookup("MYSQL_DSN"),
		LogLevel: GetSetting("log_level", "LOG_LEVEL", "info"),
		Debug:    getBoolSetting("debug", "DEBUG", false),
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// Validate checks the settings every deployment needs.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		errs = append(errs, errors.New("DATA_DIR is empty"))
	}
	if c.Storage.MaxBackups < 1 {
		errs = append(errs, fmt.Errorf("MAX_BACKUPS must be at least 1, got %d", c.Storage.MaxBackups))
	}
	for name, d := range map[string]time.Duration{
		"CHECK_INTERVAL":      c.Schedule.CheckInterval,
		"AUTONOMOUS_INTERVAL": c.Schedule.AutonomousInterval,
		"SYNC_INTERVAL":       c.Schedule.SyncInterval,
		"RECHECK_INTERVAL":    c.Schedule.RecheckInterval,
		"RESTART_BACKOFF":     c.Schedule.RestartBackoff,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Schedule.SweepMaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("SWEEP_MAX_AGE_DAYS must not be negative"))
	}
	if c.Voting.Threshold < 0 || c.Voting.Threshold > 1 {
		errs = append(errs, fmt.Errorf("THRESHOLD must be within [0, 1], got %g", c.Voting.Threshold))
	}
	if c.Voting.MinParticipation < 0 {
		errs = append(errs, fmt.Errorf("MIN_PARTICIPATION must not be negative"))
	}
	if c.Discord.TitleMaxLength < 10 || c.Discord.BodyMaxLength < 10 {
		errs = append(errs, errors.New("TITLE_MAX_LENGTH and BODY_MAX_LENGTH must be at least 10"))
	}
	if c.Discord.Token != "" && (c.Discord.GuildID == "" || c.Discord.ForumChannelID == "") {
		errs = append(errs, errors.New("GUILD_ID and FORUM_CHANNEL_ID are required when DISCORD_TOKEN is set"))
	}
	if c.Chain.RPCURL == "" && c.Chain.ActiveFile == "" {
		errs = append(errs, errors.New("one of SUBSTRATE_RPC or ACTIVE_PROPOSALS_FILE is required"))
	}
	if c.API.Addr != "" && c.API.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required when API_ADDR is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// String summarises the configuration without secrets.
func (c Config) String() string {
	return fmt.Sprintf("Config(network=%s, data_dir=%s, read_only=%t, solo_mode=%t, discord=%t, api=%q)",
		c.Chain.Network, c.Storage.DataDir, c.Voting.ReadOnly, c.Voting.SoloMode, c.Discord.Token != "", c.API.Addr)
}
