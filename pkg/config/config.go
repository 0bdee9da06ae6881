package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		// AuthSecret enables HS256 bearer auth on the status API when set.
		AuthSecret string `yaml:"auth_secret"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Log struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error fatal panic"`
		Format     string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output     string `yaml:"output" default:"stdout"`
		MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
		MaxBackups int    `yaml:"max_backups" default:"5"`
		MaxAgeDays int    `yaml:"max_age_days" default:"14"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
	Venue struct {
		URL            string        `yaml:"url" default:"wss://ws.derivws.com/websockets/v3" validate:"required,url"`
		AppID          string        `yaml:"app_id" default:"1089" validate:"required"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s" validate:"gt=0"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s" validate:"gt=0"`
		DialTimeout    time.Duration `yaml:"dial_timeout" default:"10s"`
		WriteTimeout   time.Duration `yaml:"write_timeout" default:"5s"`
	} `yaml:"venue"`
	Accounts struct {
		// Tokens is the static fallback used when the registry is unavailable.
		Tokens         []string `yaml:"tokens"`
		RegistryPrefix string   `yaml:"registry_prefix" default:"accounts"`
	} `yaml:"accounts"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"tickpilot"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"tickpilot.trade-events"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"50"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async" default:"true"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"tickpilot"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Queue struct {
		// Redis backs the queue when redis is enabled, otherwise it is in-process.
		Workers    int           `yaml:"workers" default:"2" validate:"gt=0"`
		Size       int           `yaml:"size" default:"1024" validate:"gt=0"`
		RetryLimit int           `yaml:"retry_limit" default:"5" validate:"gte=0"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s" validate:"gt=0"`
		Prefix     string        `yaml:"prefix" default:"tickpilot:queue"`
	} `yaml:"queue"`
	Trading Trading `yaml:"trading"`
	Profile Profile `yaml:"profile"`
}

// Trading holds order and risk settings.
type Trading struct {
	Symbol        string        `yaml:"symbol" default:"R_100" validate:"required"`
	Duration      int           `yaml:"duration" default:"1" validate:"gt=0"`
	DurationUnit  string        `yaml:"duration_unit" default:"m" validate:"oneof=t s m h d"`
	Currency      string        `yaml:"currency" default:"USD" validate:"required"`
	CycleInterval time.Duration `yaml:"cycle_interval" default:"10s" validate:"gt=0"`
	Timezone      string        `yaml:"timezone" default:"UTC"`

	Stakes          []float64 `yaml:"stakes" default:"[1,2.7,7.2,19.2,51.2,136.5,364]" validate:"min=1,dive,gt=0"`
	ExhaustionStake float64   `yaml:"exhaustion_stake" default:"1" validate:"gt=0"`

	StopLossPolicy     string  `yaml:"stop_loss_policy" default:"multiplier" validate:"oneof=multiplier absolute"`
	StopLossMultiplier float64 `yaml:"stop_loss_multiplier" default:"10" validate:"gte=0"`
	StopLossAmount     float64 `yaml:"stop_loss_amount" default:"50" validate:"gte=0"`
	ProfitThresholdPct float64 `yaml:"profit_threshold_pct" default:"10" validate:"gt=0"`
	MinBalance         float64 `yaml:"min_balance" default:"10" validate:"gte=0"`
	MaxMartingaleSteps int     `yaml:"max_martingale_steps" default:"1" validate:"gte=1,lte=10"`

	// AckTimeout expires orders the venue never acknowledged. 0 disables.
	AckTimeout time.Duration `yaml:"ack_timeout" default:"2m" validate:"gte=0"`
}

// Profile is a strategy profile: indicator periods and the regime threshold table.
type Profile struct {
	Name        string        `yaml:"name" default:"balanced" validate:"required"`
	Retention   time.Duration `yaml:"retention" default:"45m" validate:"gt=0"`
	MaxTicks    int           `yaml:"max_ticks" default:"5000" validate:"gt=0"`
	ShortBucket int64         `yaml:"short_bucket_seconds" default:"10" validate:"gt=0"`
	LongBucket  int64         `yaml:"long_bucket_seconds" default:"60" validate:"gt=0"`
	ArmTTL      time.Duration `yaml:"arm_ttl"`

	Indicators struct {
		StochPeriod  int     `yaml:"stoch_period" default:"84" validate:"gt=0"`
		StochSignal  int     `yaml:"stoch_signal" default:"3" validate:"gt=0"`
		BBPeriod     int     `yaml:"bb_period" default:"120" validate:"gt=1"`
		BBStdDev     float64 `yaml:"bb_stddev" default:"2" validate:"gt=0"`
		EMAShort     int     `yaml:"ema_short" default:"54" validate:"gt=0"`
		EMAMid       int     `yaml:"ema_mid" default:"84" validate:"gt=0"`
		EMALong      int     `yaml:"ema_long" default:"126" validate:"gt=0"`
		RSIPeriod    int     `yaml:"rsi_period" default:"14" validate:"gt=0"`
		RSIAlgorithm string  `yaml:"rsi_algorithm" default:"wilder" validate:"oneof=wilder fast"`
		BandHistory  int     `yaml:"band_history" default:"10" validate:"gte=2"`
		RSIHistory   int     `yaml:"rsi_history" default:"6" validate:"gte=2"`
	} `yaml:"indicators"`

	Classifier struct {
		Period  int     `yaml:"period" default:"20" validate:"gt=1"`
		StdDev  float64 `yaml:"stddev" default:"2" validate:"gt=0"`
		Percent float64 `yaml:"percent" default:"0.75" validate:"gt=0,lte=1"`
		Width   float64 `yaml:"width" default:"1" validate:"gte=0"`
	} `yaml:"classifier"`

	Regimes map[string]Thresholds `yaml:"regimes"`

	Breakout struct {
		Enabled      bool    `yaml:"enabled"`
		MinBandWidth float64 `yaml:"min_band_width"`
	} `yaml:"breakout"`

	RSICross struct {
		Enabled   bool    `yaml:"enabled"`
		BuyLevel  float64 `yaml:"buy_level" default:"30"`
		SellLevel float64 `yaml:"sell_level" default:"70"`
	} `yaml:"rsi_cross"`
}

// Thresholds configures the arm/fire state machine for one regime.
type Thresholds struct {
	// Line selects the oscillator line: k, d, or any (either line).
	Line          string  `yaml:"line" validate:"omitempty,oneof=k d any"`
	BuyArmBelow   float64 `yaml:"buy_arm_below"`
	BuyFireAbove  float64 `yaml:"buy_fire_above"`
	SellArmAbove  float64 `yaml:"sell_arm_above"`
	SellFireBelow float64 `yaml:"sell_fire_below"`

	// BUY needs the last or the previous RSI inside [floor, ceiling), SELL
	// inside (floor, ceiling]. A zero ceiling disables the check.
	BuyRSICeiling  float64 `yaml:"buy_rsi_ceiling"`
	BuyRSIFloor    float64 `yaml:"buy_rsi_floor"`
	SellRSIFloor   float64 `yaml:"sell_rsi_floor"`
	SellRSICeiling float64 `yaml:"sell_rsi_ceiling"`

	RequireEMAOrder bool    `yaml:"require_ema_order"`
	MinBandWidth    float64 `yaml:"min_band_width"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(c.Profile.Regimes) == 0 {
		c.Profile.Regimes = DefaultRegimes()
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A .env file next to the working directory is loaded first when present.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("TRADER_TOKENS"); v != "" {
		c.Accounts.Tokens = splitList(v)
	}
	if v := os.Getenv("VENUE_URL"); v != "" {
		c.Venue.URL = v
	}
	if v := os.Getenv("VENUE_APP_ID"); v != "" {
		c.Venue.AppID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Enabled = true
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("API_AUTH_SECRET"); v != "" {
		c.Server.AuthSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	stakes := c.Trading.Stakes
	for i := 1; i < len(stakes); i++ {
		if stakes[i] <= stakes[i-1] {
			return fmt.Errorf("trading.stakes must be strictly increasing")
		}
	}
	found := false
	for _, s := range stakes {
		if s == c.Trading.ExhaustionStake {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("trading.exhaustion_stake %.2f is not a ladder rung", c.Trading.ExhaustionStake)
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		return fmt.Errorf("trading.timezone: %w", err)
	}

	ind := c.Profile.Indicators
	if !(ind.EMAShort < ind.EMAMid && ind.EMAMid < ind.EMALong) {
		return fmt.Errorf("profile.indicators: ema periods must satisfy short < mid < long")
	}
	if c.Profile.ShortBucket >= c.Profile.LongBucket {
		return fmt.Errorf("profile: short bucket must be narrower than long bucket")
	}
	for name, th := range c.Profile.Regimes {
		switch name {
		case "TRENDING", "SLOW_TREND", "SIDEWAYS", "HIGHLY_VOLATILE":
		default:
			return fmt.Errorf("profile.regimes: unknown regime %q", name)
		}
		if err := validate.Struct(th); err != nil {
			return fmt.Errorf("profile.regimes.%s: %w", name, err)
		}
	}
	return nil
}

// Location returns the trading-day timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Trading.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultRegimes is the threshold table used when a profile defines none.
func DefaultRegimes() map[string]Thresholds {
	return map[string]Thresholds{
		"TRENDING": {
			Line: "d", BuyArmBelow: 20, BuyFireAbove: 20, SellArmAbove: 80, SellFireBelow: 80,
			BuyRSICeiling: 55, BuyRSIFloor: 40, SellRSIFloor: 45, SellRSICeiling: 60,
			RequireEMAOrder: true, MinBandWidth: 0.5,
		},
		"SLOW_TREND": {
			Line: "d", BuyArmBelow: 25, BuyFireAbove: 25, SellArmAbove: 75, SellFireBelow: 75,
			BuyRSICeiling: 50, BuyRSIFloor: 38, SellRSIFloor: 50, SellRSICeiling: 62,
			RequireEMAOrder: true, MinBandWidth: 0.3,
		},
		"SIDEWAYS": {
			Line: "any", BuyArmBelow: 20, BuyFireAbove: 20, SellArmAbove: 80, SellFireBelow: 80,
			BuyRSICeiling: 45, BuyRSIFloor: 33, SellRSIFloor: 55, SellRSICeiling: 67,
			MinBandWidth: 0.3,
		},
		"HIGHLY_VOLATILE": {
			Line: "d", BuyArmBelow: 15, BuyFireAbove: 15, SellArmAbove: 85, SellFireBelow: 85,
			BuyRSICeiling: 40, BuyRSIFloor: 30, SellRSIFloor: 60, SellRSICeiling: 70,
			MinBandWidth: 1,
		},
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
