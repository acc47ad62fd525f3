package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	accountAddressENV = "ACCOUNT_ADDRESS"
	openAIKeyENV      = "OPENAI_API_KEY"
	deepSeekKeyENV    = "DEEPSEEK_API_KEY"
)

// Config ...
type Config struct {
	Service struct {
		Name       string `yaml:"name"`
		LogLevel   string `yaml:"log_level"`
		HealthAddr string `yaml:"health_addr"`
	} `yaml:"service"`
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Tracing struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"tracing"`
	Storage struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`

	Exchange Exchange `yaml:"exchange"`
	Stream   Stream   `yaml:"stream"`
	Equity   Equity   `yaml:"equity"`
	Sizing   Sizing   `yaml:"sizing"`
	Close    Close    `yaml:"close"`
	TPSL     TPSL     `yaml:"tpsl"`
	AI       AI       `yaml:"ai"`
	Trader   Trader   `yaml:"trader"`
	Strategy Strategy `yaml:"strategy"`
}

type Exchange struct {
	InfoURL           string        `yaml:"info_url"`
	WSURL             string        `yaml:"ws_url"`
	AccountAddress    string        `yaml:"account_address"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	Paper             Paper         `yaml:"paper"`
}

// Paper — симулятор исполнения (подписи ордеров нет).
type Paper struct {
	StartingBalance float64       `yaml:"starting_balance"`
	FeeRate         float64       `yaml:"fee_rate"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
}

type Stream struct {
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	InitialDelay         time.Duration `yaml:"initial_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	Multiplier           float64       `yaml:"multiplier"`
	PingInterval         time.Duration `yaml:"ping_interval"`
}

// Equity — окно эквити и circuit breaker.
type Equity struct {
	Lookback             int     `yaml:"lookback"`
	WarmupTrades         int     `yaml:"warmup_trades"`
	EfficiencyLength     int     `yaml:"efficiency_length"`
	SMAMin               int     `yaml:"sma_min"`
	SMAMax               int     `yaml:"sma_max"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
}

type Sizing struct {
	DailyTargetPct        float64 `yaml:"daily_target_pct"`
	MinExpectedMove       float64 `yaml:"min_expected_move"`
	MinConfidence         float64 `yaml:"min_confidence"`
	BaseLeverage          int     `yaml:"base_leverage"`
	MaxLeverage           int     `yaml:"max_leverage"`
	MinLeverage           int     `yaml:"min_leverage"`
	PeakProtectMultiplier float64 `yaml:"peak_protect_multiplier"`
	AggressiveMultiplier  float64 `yaml:"aggressive_multiplier"`
	DrawdownThreshold     float64 `yaml:"drawdown_threshold"`
	MaxCombinedMultiplier float64 `yaml:"max_combined_multiplier"`
	GrowthTarget          float64 `yaml:"growth_target"`
	MaxPositionPct        float64 `yaml:"max_position_pct"`
	MinNotional           float64 `yaml:"min_notional"`
	MaxDailyTrades        int     `yaml:"max_daily_trades"`
	Timezone              string  `yaml:"timezone"`
}

// Close — пороги CloseValidator, все в процентах PnL.
type Close struct {
	EmergencyStopPct float64 `yaml:"emergency_stop_pct"`
	TakeProfitPct    float64 `yaml:"take_profit_pct"`
	MinAgeHours      float64 `yaml:"min_age_hours"`
	SevereLossPct    float64 `yaml:"severe_loss_pct"`
	ModerateLossPct  float64 `yaml:"moderate_loss_pct"`
	SevereBoost      float64 `yaml:"severe_boost"`
	ModerateBoost    float64 `yaml:"moderate_boost"`
	MinConfidence    float64 `yaml:"min_confidence"`
}

type TPSL struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	TakeProfitPct  float64       `yaml:"take_profit_pct"`
	StopLossPct    float64       `yaml:"stop_loss_pct"`
	CashReservePct float64       `yaml:"cash_reserve_pct"`
}

type AI struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	OpenAIKey     string `yaml:"openai_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	DeepSeekKey   string `yaml:"deepseek_key"`
	DeepSeekModel string `yaml:"deepseek_model"`
	MaxTokens     int    `yaml:"max_tokens"`
}

type Trader struct {
	Enabled        bool          `yaml:"enabled"`
	Symbols        []string      `yaml:"symbols"`
	Excluded       []string      `yaml:"excluded"`
	Interval       time.Duration `yaml:"interval"`
	CandleInterval string        `yaml:"candle_interval"`
	CandleBars     int           `yaml:"candle_bars"`
	Concurrency    int           `yaml:"concurrency"`
	ConfirmEntries bool          `yaml:"confirm_entries"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// Strategy — периоды индикаторов, которые видит модель.
type Strategy struct {
	EMAShort      int     `yaml:"ema_short"`
	EMALong       int     `yaml:"ema_long"`
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	DonPeriod     int     `yaml:"don_period"`
}

// Default — значения из боевого бота, env поверх.
func Default() Config {
	var c Config
	c.Service.Name = getenvDefault("SERVICE_NAME", "perp_bot")
	c.Service.LogLevel = getenvDefault("LOG_LEVEL", "info")
	c.Service.HealthAddr = getenvDefault("HEALTH_ADDR", ":8080")
	c.Tracing.Port = intFromEnv("JAEGER_PORT", 6831)
	c.Tracing.Host = os.Getenv("JAEGER_HOST")
	c.Storage.DataDir = getenvDefault("DATA_DIR", "data")

	c.Exchange = Exchange{
		InfoURL:           getenvDefault("HL_INFO_URL", "https://api.hyperliquid.xyz"),
		WSURL:             getenvDefault("HL_WS_URL", "wss://api.hyperliquid.xyz/ws"),
		RequestsPerSecond: floatFromEnv("HL_RPS", 5),
		Timeout:           durationFromEnv("HL_TIMEOUT", "10s"),
		Paper: Paper{
			StartingBalance: floatFromEnv("PAPER_BALANCE", 1000),
			FeeRate:         0.00045,
			SyncInterval:    durationFromEnv("PAPER_SYNC_INTERVAL", "10s"),
		},
	}
	c.Stream = Stream{
		AutoReconnect:        boolFromEnv("WS_AUTO_RECONNECT", true),
		MaxReconnectAttempts: intFromEnv("WS_MAX_RECONNECT_ATTEMPTS", 10),
		InitialDelay:         durationFromEnv("WS_INITIAL_DELAY", "1s"),
		MaxDelay:             durationFromEnv("WS_MAX_DELAY", "60s"),
		Multiplier:           2.0,
		PingInterval:         durationFromEnv("WS_PING_INTERVAL", "30s"),
	}
	c.Equity = Equity{
		Lookback:             intFromEnv("EQUITY_LOOKBACK", 21),
		WarmupTrades:         intFromEnv("EQUITY_WARMUP_TRADES", 15),
		EfficiencyLength:     14,
		SMAMin:               8,
		SMAMax:               30,
		MaxConsecutiveLosses: intFromEnv("MAX_CONSECUTIVE_LOSSES", 5),
		MaxDrawdownPct:       20,
	}
	c.Sizing = Sizing{
		DailyTargetPct:        floatFromEnv("DAILY_TARGET_PCT", 0.75),
		MinExpectedMove:       5.0,
		MinConfidence:         floatFromEnv("MIN_CONFIDENCE", 70),
		BaseLeverage:          intFromEnv("LEVERAGE", 20),
		MaxLeverage:           intFromEnv("MAX_LEVERAGE", 25),
		MinLeverage:           intFromEnv("MIN_LEVERAGE", 10),
		PeakProtectMultiplier: 0.60,
		AggressiveMultiplier:  1.15,
		DrawdownThreshold:     0.10,
		MaxCombinedMultiplier: 1.5,
		GrowthTarget:          10,
		MaxPositionPct:        floatFromEnv("MAX_POSITION_PCT", 90),
		MinNotional:           12.0,
		MaxDailyTrades:        intFromEnv("MAX_DAILY_TRADES", 6),
		Timezone:              getenvDefault("TZ_NAME", "UTC"),
	}
	c.Close = Close{
		EmergencyStopPct: -2.0,
		TakeProfitPct:    0.5,
		MinAgeHours:      1.5,
		SevereLossPct:    -1.2,
		ModerateLossPct:  0.0,
		SevereBoost:      25,
		ModerateBoost:    15,
		MinConfidence:    80,
	}
	c.TPSL = TPSL{
		Enabled:        boolFromEnv("TPSL_ENABLED", true),
		Interval:       durationFromEnv("TPSL_INTERVAL", "30s"),
		TakeProfitPct:  floatFromEnv("TAKE_PROFIT_PCT", 4.5),
		StopLossPct:    floatFromEnv("STOP_LOSS_PCT", -1.5),
		CashReservePct: floatFromEnv("CASH_RESERVE_PCT", 20),
	}
	c.AI = AI{
		Provider:      getenvDefault("AI_PROVIDER", "deepseek"),
		Model:         getenvDefault("AI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getenvDefault("OPENAI_BASE_URL", ""),
		DeepSeekModel: getenvDefault("DEEPSEEK_MODEL", "deepseek-chat"),
		MaxTokens:     intFromEnv("AI_MAX_TOKENS", 1024),
	}
	c.Trader = Trader{
		Enabled:        boolFromEnv("TRADER_ENABLED", true),
		Symbols:        []string{"BTC", "ETH", "SOL", "LTC", "AAVE", "HYPE"},
		Interval:       durationFromEnv("TRADER_INTERVAL", "15m"),
		CandleInterval: getenvDefault("CANDLE_INTERVAL", "15m"),
		CandleBars:     intFromEnv("CANDLE_BARS", 48),
		Concurrency:    4,
		ConfirmEntries: boolFromEnv("CONFIRM_ENTRIES", false),
		ConfirmTimeout: durationFromEnv("CONFIRM_TIMEOUT", "2m"),
	}
	c.Strategy = Strategy{
		EMAShort:      9,
		EMALong:       21,
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		DonPeriod:     20,
	}
	return c
}

// NewConfig читает configs/$CONFIG_FILE (values_local.yaml по умолчанию).
// Проблемы конфига логируются, процесс продолжает работу на дефолтах.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	dir := getenvDefault(configDirENV, "configs")

	cfg, problems := Load(filepath.Join(dir, configFileName))
	for _, p := range problems {
		logger.Warn("[CONFIG] %s", p)
	}
	return cfg, nil
}

// Load: файл поверх дефолтов, затем секреты из env, затем валидация с откатом
// невалидных полей на дефолты. Возвращает список найденных проблем.
func Load(path string) (*Config, []string) {
	def := Default()
	config := def
	var problems []string

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		problems = append(problems, fmt.Sprintf("config file %s not found, using defaults", path))
	case err != nil:
		problems = append(problems, fmt.Sprintf("read config file %s: %v", path, err))
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			problems = append(problems, fmt.Sprintf("decode config file %s: %v", path, err))
			config = def
		}
	}

	config.applySecrets()

	problems = append(problems, config.sanitize(&def)...)
	return &config, problems
}

func (c *Config) applySecrets() {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		c.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		c.DB = dsn
	}
	if addr := os.Getenv(accountAddressENV); addr != "" {
		c.Exchange.AccountAddress = addr
	}
	if k := os.Getenv(openAIKeyENV); k != "" {
		c.AI.OpenAIKey = k
	}
	if k := os.Getenv(deepSeekKeyENV); k != "" {
		c.AI.DeepSeekKey = k
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Trader.Symbols = splitList(v)
	}
}

// DataPath — путь файла состояния внутри data_dir.
func (c *Config) DataPath(name string) string {
	return filepath.Join(c.Storage.DataDir, name)
}

// ActiveSymbols — symbols минус excluded.
func (c *Config) ActiveSymbols() []string {
	excluded := make(map[string]struct{}, len(c.Trader.Excluded))
	for _, s := range c.Trader.Excluded {
		excluded[strings.ToUpper(s)] = struct{}{}
	}
	out := make([]string, 0, len(c.Trader.Symbols))
	for _, s := range c.Trader.Symbols {
		if _, skip := excluded[strings.ToUpper(s)]; skip {
			continue
		}
		out = append(out, s)
	}
	return out
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

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
