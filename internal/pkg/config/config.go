package config

import (
	"errors"
	"log"
	"os"

	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	App          AppConfig          `mapstructure:"app"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Order        OrderConfig        `mapstructure:"order"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Push         PushConfig         `mapstructure:"push"`
	Notification NotificationConfig `mapstructure:"notification"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
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

// PaymentConfig 金额计算相关的费率配置
type PaymentConfig struct {
	TaxPercent         float64 `mapstructure:"tax_percent"`          // 消费税率
	GatewayFeePercent  float64 `mapstructure:"gateway_fee_percent"`  // 支付网关手续费率
	PlatformFeePercent float64 `mapstructure:"platform_fee_percent"` // 平台默认抽成率（店铺可覆盖）
	CoinRewardPercent  float64 `mapstructure:"coin_reward_percent"`  // 默认积分返还率（商品可覆盖）
	Currency           string  `mapstructure:"currency"`
}

type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type LedgerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	AssetID        string `mapstructure:"asset_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OrderConfig 订单超时与库存锁定配置
type OrderConfig struct {
	TimeoutSeconds     int `mapstructure:"timeout_seconds"`      // IN_PROGRESS 订单过期时间
	LockTimeoutSeconds int `mapstructure:"lock_timeout_seconds"` // 库存锁定记录过期时间
}

type WorkerConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

type PushConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	AppKey          int64  `mapstructure:"app_key"`
	RegionID        string `mapstructure:"region_id"`
}

type NotificationConfig struct {
	From        string `mapstructure:"from"`
	SellerBcc   string `mapstructure:"seller_bcc"`
	DisableMail bool   `mapstructure:"disable_mail"`
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}

	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}

	if c.Payment.GatewayFeePercent+c.Payment.PlatformFeePercent >= 100 {
		return errors.New("gateway fee + platform fee must be below 100 percent")
	}

	if c.Order.TimeoutSeconds <= 0 || c.Order.LockTimeoutSeconds <= 0 {
		return errors.New("order timeout intervals must be positive")
	}

	return nil
}

// GetTaxPercents 返回当前消费税率
func GetTaxPercents() float64 {
	return GlobalConfig.Payment.TaxPercent
}

// GetCoinRateAndGatewayFeePercents 返回积分返还率与网关手续费率
func GetCoinRateAndGatewayFeePercents() (coinRate float64, gatewayFee float64) {
	return GlobalConfig.Payment.CoinRewardPercent, GlobalConfig.Payment.GatewayFeePercent
}

// GetOrderTimeoutInterval 返回 IN_PROGRESS 订单的过期秒数
func GetOrderTimeoutInterval() int {
	return GlobalConfig.Order.TimeoutSeconds
}

// LoadConfig 加载配置
func LoadConfig() {
	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	configName := "config"
	if env != "" && env != "dev" {
		configName = "config." + env
	}

	viper.SetConfigName(configName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("jwt.expire", 24)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("app.env", "dev")
	viper.SetDefault("app.debug", true)
	viper.SetDefault("payment.tax_percent", 10)
	viper.SetDefault("payment.gateway_fee_percent", 3.6)
	viper.SetDefault("payment.platform_fee_percent", 20)
	viper.SetDefault("payment.coin_reward_percent", 1)
	viper.SetDefault("payment.currency", "jpy")
	viper.SetDefault("gateway.timeout_seconds", 10)
	viper.SetDefault("ledger.timeout_seconds", 10)
	viper.SetDefault("order.timeout_seconds", 3600)
	viper.SetDefault("order.lock_timeout_seconds", 1800)
	viper.SetDefault("worker.sweep_interval_seconds", 300)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults or env vars: %v", err)
	}

	// 绑定环境变量
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode into struct: %v", err)
	}

	// 手动覆盖，以防 viper 无法正确解析复杂结构或环境变量
	if host := os.Getenv("DB_HOST"); host != "" {
		GlobalConfig.Database.Host = host
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		GlobalConfig.Redis.Addr = redisAddr
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		GlobalConfig.JWT.Secret = jwtSecret
	}
	if gatewayKey := os.Getenv("GATEWAY_API_KEY"); gatewayKey != "" {
		GlobalConfig.Gateway.APIKey = gatewayKey
	}
	if ledgerKey := os.Getenv("LEDGER_API_KEY"); ledgerKey != "" {
		GlobalConfig.Ledger.APIKey = ledgerKey
	}

	// 验证配置
	if err := GlobalConfig.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	log.Printf("Configuration loaded and validated successfully. Environment: %s", GlobalConfig.App.Env)
}
