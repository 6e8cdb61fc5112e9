package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Push     PushConfig     `mapstructure:"push"`
	Finance  FinanceConfig  `mapstructure:"finance"`
	Order    OrderConfig    `mapstructure:"order"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Payment  PaymentConfig  `mapstructure:"payment"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`

	// 每个 IP 每秒请求数
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	Port         string `mapstructure:"port"`
	SSLMode      string `mapstructure:"sslmode"`
	TimeZone     string `mapstructure:"timezone"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	Debug        bool   `mapstructure:"debug"`
}

// URL golang-migrate 使用的连接串
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int64  `mapstructure:"expire"` // 小时
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

// IsProduction 是否生产环境
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type PushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	AppKey          int64  `mapstructure:"app_key"`
	RegionID        string `mapstructure:"region_id"` // e.g., "cn-hangzhou"
}

type FinanceConfig struct {
	BaseCurrency   string  `mapstructure:"base_currency"`
	CommissionRate float64 `mapstructure:"commission_rate"`

	// 各币种最低提现金额，key 为币种代码
	MinWithdrawal map[string]float64 `mapstructure:"min_withdrawal"`
}

// MinWithdrawalFor 某币种的最低提现金额，未配置返回 0
func (f FinanceConfig) MinWithdrawalFor(currency string) decimal.Decimal {
	for k, v := range f.MinWithdrawal {
		if strings.EqualFold(k, currency) {
			return decimal.NewFromFloat(v)
		}
	}
	return decimal.Zero
}

type OrderConfig struct {
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	StaleScanInterval time.Duration `mapstructure:"stale_scan_interval"`
}

type ExchangeConfig struct {
	SourceURL string        `mapstructure:"source_url"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type PaymentConfig struct {
	// 仅用于本地联调 VNPay/MoMo/加密货币回调，生产环境强制关闭
	AllowUnverifiedSignatures bool `mapstructure:"allow_unverified_signatures"`

	VNPay  VNPayConfig  `mapstructure:"vnpay"`
	Stripe StripeConfig `mapstructure:"stripe"`
	MoMo   MoMoConfig   `mapstructure:"momo"`
	PayPal PayPalConfig `mapstructure:"paypal"`
	Crypto CryptoConfig `mapstructure:"crypto"`
}

type VNPayConfig struct {
	TmnCode    string `mapstructure:"tmn_code"`
	HashSecret string `mapstructure:"hash_secret"`
	PayURL     string `mapstructure:"pay_url"`
	ReturnURL  string `mapstructure:"return_url"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type MoMoConfig struct {
	PartnerCode string `mapstructure:"partner_code"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	Endpoint    string `mapstructure:"endpoint"`
	RedirectURL string `mapstructure:"redirect_url"`
	IpnURL      string `mapstructure:"ipn_url"`
}

type PayPalConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	WebhookID    string `mapstructure:"webhook_id"`
	BaseURL      string `mapstructure:"base_url"`
	ReturnURL    string `mapstructure:"return_url"`
	CancelURL    string `mapstructure:"cancel_url"`
}

type CryptoConfig struct {
	MerchantID  string `mapstructure:"merchant_id"`
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	CallbackURL string `mapstructure:"callback_url"`
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	// JWT 配置验证
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	// 数据库配置验证
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	// Redis 配置验证
	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}

	if c.Finance.BaseCurrency == "" {
		return errors.New("finance.base_currency is required")
	}
	for cur, v := range c.Finance.MinWithdrawal {
		if v < 0 {
			return fmt.Errorf("finance.min_withdrawal.%s must not be negative", cur)
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}

	return nil
}

// UnverifiedSignaturesAllowed 生产环境下该开关无效
func (c *Config) UnverifiedSignaturesAllowed() bool {
	return c.Payment.AllowUnverifiedSignatures && !c.App.IsProduction()
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("jwt.expire", 24)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("kafka.topic", "course-market.notifications")
	v.SetDefault("finance.base_currency", "VND")
	v.SetDefault("finance.commission_rate", 0.30)
	v.SetDefault("order.stale_after", 30*time.Minute)
	v.SetDefault("order.stale_scan_interval", 5*time.Minute)
	v.SetDefault("exchange.cache_ttl", 15*time.Minute)
	v.SetDefault("exchange.timeout", 5*time.Second)
	v.SetDefault("payment.allow_unverified_signatures", false)
	v.SetDefault("payment.vnpay.pay_url", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html")
	v.SetDefault("payment.momo.endpoint", "https://test-payment.momo.vn")
	v.SetDefault("payment.paypal.base_url", "https://api-m.sandbox.paypal.com")
	v.SetDefault("payment.crypto.base_url", "https://api.cryptomus.com")
}

// Load 从 viper 实例解析配置，不做校验
func Load(v *viper.Viper) (Config, error) {
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 手动覆盖，以防 viper 无法正确解析复杂结构或环境变量
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		cfg.JWT.Secret = jwtSecret
	}
	cfg.Finance.BaseCurrency = strings.ToUpper(cfg.Finance.BaseCurrency)
	return cfg, nil
}

// LoadConfig 加载配置到 GlobalConfig
// 返回的 warning 非空表示配置文件缺失，仅使用默认值与环境变量
func LoadConfig() (warning error, err error) {
	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 根据环境选择配置文件
	configName := "config"
	if env != "dev" {
		configName = "config." + env
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	if readErr := v.ReadInConfig(); readErr != nil {
		warning = fmt.Errorf("config file not found, using defaults or env vars: %w", readErr)
	}

	cfg, err := Load(v)
	if err != nil {
		return warning, err
	}

	// 验证配置
	if err := cfg.Validate(); err != nil {
		return warning, fmt.Errorf("configuration validation failed: %w", err)
	}

	GlobalConfig = cfg
	return warning, nil
}
