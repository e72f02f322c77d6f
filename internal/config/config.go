package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log             LoggingConfig      `yaml:"log"`
	Ethereum        EthereumConfig     `yaml:"ethereum"`
	DX              DXConfig           `yaml:"dx"`
	Prices          map[string]float64 `yaml:"prices"`
	Events          EventsConfig       `yaml:"events"`
	Markets         []string           `yaml:"markets"`
	Tokens          []TokenConfig      `yaml:"tokens"`
	Accounts        []AccountConfig    `yaml:"accounts"`
	Liquidity       LiquidityConfig    `yaml:"liquidity"`
	Balance         BalanceConfig      `yaml:"balance"`
	Notification    NotificationConfig `yaml:"notification"`
	State           StateConfig        `yaml:"state"`
	Timescale       TimescaleConfig    `yaml:"timescale"`
	Metrics         MetricsConfig      `yaml:"metrics"`
	ShutdownTimeout time.Duration      `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type EthereumConfig struct {
	RPCURL  string        `yaml:"rpc_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DXConfig points at the exchange service API. When BaseURL is empty the
// static price table is used for prices and liquidity bot is unavailable.
type DXConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type EventsConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

// AccountConfig is an operator wallet. Address wins over PrivateKeyEnv.
type AccountConfig struct {
	Name          string   `yaml:"name"`
	Address       string   `yaml:"address"`
	PrivateKeyEnv string   `yaml:"private_key_env"`
	Tokens        []string `yaml:"tokens"`
}

type LiquidityConfig struct {
	Enabled              bool          `yaml:"enabled"`
	CheckInterval        time.Duration `yaml:"check_interval"`
	MinimumSellVolumeUSD float64       `yaml:"minimum_sell_volume_usd"`
	Operator             AccountConfig `yaml:"operator"`
}

type BalanceConfig struct {
	Enabled         bool          `yaml:"enabled"`
	CheckInterval   time.Duration `yaml:"check_interval"`
	MinimumEther    float64       `yaml:"minimum_ether"`
	MinimumTokenUSD float64       `yaml:"minimum_token_usd"`
	Concurrency     int           `yaml:"concurrency"`
}

type NotificationConfig struct {
	Cooldown   time.Duration  `yaml:"cooldown"`
	FirstAlert string         `yaml:"first_alert"`
	Slack      SlackConfig    `yaml:"slack"`
	Telegram   TelegramConfig `yaml:"telegram"`
}

type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled    *bool  `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

func (m MetricsConfig) EnabledValue() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

const (
	FirstAlertImmediate     = "immediate"
	FirstAlertAfterCooldown = "after_cooldown"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// applyEnv lets MARKETS=ETH-RDN,ETH-OMG replace the configured markets.
func applyEnv(cfg *Config) {
	raw := strings.TrimSpace(os.Getenv("MARKETS"))
	if raw == "" {
		return
	}
	var markets []string
	for _, m := range strings.Split(raw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			markets = append(markets, m)
		}
	}
	cfg.Markets = markets
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 14
		}
	}
	if cfg.Ethereum.RPCURL == "" {
		cfg.Ethereum.RPCURL = "http://127.0.0.1:8545"
	}
	if cfg.Ethereum.Timeout == 0 {
		cfg.Ethereum.Timeout = 10 * time.Second
	}
	if cfg.DX.Timeout == 0 {
		cfg.DX.Timeout = 10 * time.Second
	}
	if cfg.Events.ReconnectDelay == 0 {
		cfg.Events.ReconnectDelay = 3 * time.Second
	}
	if cfg.Events.PingInterval == 0 {
		cfg.Events.PingInterval = 30 * time.Second
	}
	for i := range cfg.Tokens {
		if cfg.Tokens[i].Decimals == 0 {
			cfg.Tokens[i].Decimals = 18
		}
	}
	if cfg.Liquidity.CheckInterval == 0 {
		cfg.Liquidity.CheckInterval = 10 * time.Second
	}
	if cfg.Liquidity.MinimumSellVolumeUSD == 0 {
		cfg.Liquidity.MinimumSellVolumeUSD = 5000
	}
	if cfg.Balance.CheckInterval == 0 {
		cfg.Balance.CheckInterval = 15 * time.Minute
	}
	if cfg.Balance.MinimumEther == 0 {
		cfg.Balance.MinimumEther = 0.4
	}
	if cfg.Balance.MinimumTokenUSD == 0 {
		cfg.Balance.MinimumTokenUSD = 5000
	}
	if cfg.Balance.Concurrency == 0 {
		cfg.Balance.Concurrency = 4
	}
	if cfg.Notification.Cooldown == 0 {
		cfg.Notification.Cooldown = 4 * time.Hour
	}
	if cfg.Notification.FirstAlert == "" {
		cfg.Notification.FirstAlert = FirstAlertImmediate
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/dx-bots.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9102"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func validate(cfg *Config) error {
	if !cfg.Liquidity.Enabled && !cfg.Balance.Enabled {
		return errors.New("at least one of liquidity.enabled or balance.enabled is required")
	}
	if cfg.Liquidity.Enabled {
		if len(cfg.Markets) == 0 {
			return errors.New("markets are required when the liquidity bot is enabled")
		}
		if cfg.DX.BaseURL == "" {
			return errors.New("dx.base_url is required when the liquidity bot is enabled")
		}
		if cfg.Liquidity.MinimumSellVolumeUSD < 0 {
			return errors.New("liquidity.minimum_sell_volume_usd must be >= 0")
		}
		if cfg.Liquidity.Operator.Address == "" && cfg.Liquidity.Operator.PrivateKeyEnv == "" {
			return errors.New("liquidity.operator requires address or private_key_env")
		}
	}
	if cfg.Balance.Enabled {
		if len(cfg.Accounts) == 0 {
			return errors.New("accounts are required when the balance bot is enabled")
		}
		if cfg.Balance.MinimumEther < 0 || cfg.Balance.MinimumTokenUSD < 0 {
			return errors.New("balance thresholds must be >= 0")
		}
		known := make(map[string]struct{}, len(cfg.Tokens))
		for _, token := range cfg.Tokens {
			known[strings.ToUpper(strings.TrimSpace(token.Symbol))] = struct{}{}
		}
		names := make(map[string]struct{}, len(cfg.Accounts))
		for _, acct := range cfg.Accounts {
			if strings.TrimSpace(acct.Name) == "" {
				return errors.New("accounts[].name is required")
			}
			if _, dup := names[acct.Name]; dup {
				return fmt.Errorf("duplicate account name %q", acct.Name)
			}
			names[acct.Name] = struct{}{}
			if acct.Address == "" && acct.PrivateKeyEnv == "" {
				return fmt.Errorf("account %q requires address or private_key_env", acct.Name)
			}
			for _, symbol := range acct.Tokens {
				if _, ok := known[strings.ToUpper(strings.TrimSpace(symbol))]; !ok {
					return fmt.Errorf("account %q references unknown token %q", acct.Name, symbol)
				}
			}
		}
	}
	if cfg.Balance.Concurrency < 0 {
		return errors.New("balance.concurrency must be >= 0")
	}
	switch cfg.Notification.FirstAlert {
	case FirstAlertImmediate, FirstAlertAfterCooldown:
	default:
		return fmt.Errorf("notification.first_alert must be %q or %q", FirstAlertImmediate, FirstAlertAfterCooldown)
	}
	if cfg.Notification.Cooldown < 0 {
		return errors.New("notification.cooldown must be >= 0")
	}
	if cfg.Notification.Slack.Enabled && cfg.Notification.Slack.WebhookURL == "" {
		return errors.New("notification.slack.webhook_url is required when slack is enabled")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}
