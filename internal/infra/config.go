package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"maverage/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent with every outgoing HTTP request
	DefaultUserAgent = "maverage/1.0 (+https://github.com/maverage)"

	// DefaultMayerURL serves the current Mayer multiple.
	DefaultMayerURL = "https://mayermultiple.info/current.json"
)

// SupportedExchanges lists the exchange names the daemon can trade on.
var SupportedExchanges = []string{"bitmex", "kraken", "liquid", "paper"}

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Instance string `yaml:"instance"`
		DataDir  string `yaml:"data_dir"`
	} `yaml:"app"`

	Exchange struct {
		Name               string `yaml:"name"`
		APIKey             string `yaml:"api_key"`
		APISecret          string `yaml:"api_secret"`
		Test               bool   `yaml:"test"`
		Pair               string `yaml:"pair"`
		Symbol             string `yaml:"symbol"`
		BaseURL            string `yaml:"base_url"`
		WSURL              string `yaml:"ws_url"`
		RateLimitMS        int    `yaml:"rate_limit_ms"`
		NativeTrailingStop bool   `yaml:"native_trailing_stop"`
		LiveTick           bool   `yaml:"live_tick"`
	} `yaml:"exchange"`

	Trading struct {
		NetDeposits             decimal.Decimal `yaml:"net_deposits_in_base_currency"`
		LeverageDefault         decimal.Decimal `yaml:"leverage_default"`
		ApplyLeverage           bool            `yaml:"apply_leverage"`
		ShortInPercent          decimal.Decimal `yaml:"short_in_percent"`
		MAMinutesShort          int             `yaml:"ma_minutes_short"`
		MAMinutesLong           int             `yaml:"ma_minutes_long"`
		StopLoss                bool            `yaml:"stop_loss"`
		StopLossInPercent       decimal.Decimal `yaml:"stop_loss_in_percent"`
		NoActionAtLoss          bool            `yaml:"no_action_at_loss"`
		TradeTrials             int             `yaml:"trade_trials"`
		OrderAdjustSeconds      int             `yaml:"order_adjust_seconds"`
		TradeAdvantageInPercent decimal.Decimal `yaml:"trade_advantage_in_percent"`
		MinOrderSize            decimal.Decimal `yaml:"min_order_size"`
		FeeDivisor              decimal.Decimal `yaml:"fee_divisor"`
		ExchangeFeeDivisor      decimal.Decimal `yaml:"exchange_fee_divisor"`
		LoopMinSeconds          int             `yaml:"loop_min_seconds"`
		LoopMaxSeconds          int             `yaml:"loop_max_seconds"`
		PostTradePauseSeconds   int             `yaml:"post_trade_pause_seconds"`
		IncludeLiveTick         bool            `yaml:"include_live_tick"`
	} `yaml:"trading"`

	Rates struct {
		Database        string `yaml:"database"`
		IntervalMinutes int    `yaml:"interval_minutes"`
		MaxWeeks        int    `yaml:"max_weeks"`
		PriceAttempts   int    `yaml:"price_attempts"`
	} `yaml:"rates"`

	Report struct {
		Daily      bool     `yaml:"daily"`
		Trade      bool     `yaml:"trade"`
		Recipients []string `yaml:"recipients"`
		Sender     string   `yaml:"sender"`
		Password   string   `yaml:"password"`
		MailServer string   `yaml:"mail_server"`
		MailPort   int      `yaml:"mail_port"`
		Info       string   `yaml:"info"`
		URL        string   `yaml:"url"`
		MayerURL   string   `yaml:"mayer_url"`
	} `yaml:"report"`

	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)}
		}
		return nil, err
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if cfg.App.Instance == "" {
		cfg.App.Instance = instanceFromPath(path)
	}

	// 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML, applies defaults and environment overrides without validating.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)
	cfg.applyDefaults()
	return &cfg, nil
}

// instanceFromPath derives the instance name from the config file name.
func instanceFromPath(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "maverage"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "."
	}
	if c.Exchange.Pair == "" {
		c.Exchange.Pair = "BTC/USD"
	}
	if c.Trading.LeverageDefault.IsZero() {
		c.Trading.LeverageDefault = decimal.NewFromInt(1)
	}
	if c.Trading.TradeTrials == 0 {
		c.Trading.TradeTrials = 5
	}
	if c.Trading.OrderAdjustSeconds == 0 {
		c.Trading.OrderAdjustSeconds = 90
	}
	if c.Trading.LoopMinSeconds == 0 && c.Trading.LoopMaxSeconds == 0 {
		c.Trading.LoopMinSeconds, c.Trading.LoopMaxSeconds = 110, 130
	}
	if c.Rates.Database == "" {
		c.Rates.Database = "mamaster.db"
	}
	if c.Rates.IntervalMinutes == 0 {
		c.Rates.IntervalMinutes = 10
	}
	if c.Rates.MaxWeeks == 0 {
		c.Rates.MaxWeeks = 60
	}
	if c.Rates.PriceAttempts == 0 {
		c.Rates.PriceAttempts = 6
	}
	if c.Trading.PostTradePauseSeconds == 0 && c.Rates.IntervalMinutes == 10 {
		c.Trading.PostTradePauseSeconds = 300
	}
	if c.Report.MailPort == 0 {
		c.Report.MailPort = 465
	}
	if c.Report.MayerURL == "" {
		c.Report.MayerURL = DefaultMayerURL
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.App.Instance == "" {
		return &domain.ConfigError{Field: "app.instance", Err: errors.New("instance name is required")}
	}
	if !slices.Contains(SupportedExchanges, c.Exchange.Name) {
		return &domain.ConfigError{Field: "exchange.name", Err: fmt.Errorf("unsupported exchange %q", c.Exchange.Name)}
	}
	if c.Exchange.Name != "paper" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return &domain.ConfigError{Field: "exchange.api_key", Err: errors.New("api key and secret are required")}
	}
	if _, err := domain.ParsePair(c.Exchange.Pair); err != nil {
		return &domain.ConfigError{Field: "exchange.pair", Err: err}
	}

	t := c.Trading
	if t.ShortInPercent.IsNegative() || t.ShortInPercent.GreaterThan(decimal.NewFromInt(100)) {
		return &domain.ConfigError{Field: "trading.short_in_percent", Err: errors.New("must be between 0 and 100")}
	}
	if t.LeverageDefault.IsNegative() {
		return &domain.ConfigError{Field: "trading.leverage_default", Err: errors.New("must not be negative")}
	}
	if t.MAMinutesShort <= 0 || t.MAMinutesLong <= 0 {
		return &domain.ConfigError{Field: "trading.ma_minutes", Err: errors.New("moving average windows must be positive")}
	}
	if t.StopLoss && !t.StopLossInPercent.IsPositive() {
		return &domain.ConfigError{Field: "trading.stop_loss_in_percent", Err: errors.New("must be positive when stop_loss is enabled")}
	}
	if t.TradeTrials < 1 {
		return &domain.ConfigError{Field: "trading.trade_trials", Err: errors.New("at least one trial is required")}
	}
	if t.OrderAdjustSeconds < 1 {
		return &domain.ConfigError{Field: "trading.order_adjust_seconds", Err: errors.New("must be positive")}
	}
	if t.TradeAdvantageInPercent.IsNegative() {
		return &domain.ConfigError{Field: "trading.trade_advantage_in_percent", Err: errors.New("must not be negative")}
	}
	if t.LoopMinSeconds <= 0 || t.LoopMaxSeconds < t.LoopMinSeconds {
		return &domain.ConfigError{Field: "trading.loop_seconds", Err: fmt.Errorf("invalid loop range %d..%d", t.LoopMinSeconds, t.LoopMaxSeconds)}
	}

	if c.Rates.IntervalMinutes <= 0 {
		return &domain.ConfigError{Field: "rates.interval_minutes", Err: errors.New("must be positive")}
	}

	if c.Report.Daily || c.Report.Trade {
		if c.Report.MailServer == "" || c.Report.Sender == "" || len(c.Report.Recipients) == 0 {
			return &domain.ConfigError{Field: "report", Err: errors.New("mail_server, sender and recipients are required for reports")}
		}
	}

	return nil
}

// Pair returns the parsed trading pair. Validate guarantees it parses.
func (c *Config) Pair() domain.Pair {
	p, _ := domain.ParsePair(c.Exchange.Pair)
	return p
}

// InstancePath returns the path of an instance file with the given extension.
func (c *Config) InstancePath(ext string) string {
	return filepath.Join(c.App.DataDir, c.App.Instance+ext)
}

// DatabasePath returns the rate database path.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Rates.Database) {
		return c.Rates.Database
	}
	return filepath.Join(c.App.DataDir, c.Rates.Database)
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("MAVERAGE_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("MAVERAGE_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if pass := os.Getenv("MAVERAGE_MAIL_PASSWORD"); pass != "" {
		cfg.Report.Password = pass
	}
}
