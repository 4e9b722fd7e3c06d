package config

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/exp/slog"
)

// DBConfig 存储数据库连接信息
type MysqlConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	DBName   string `json:"dbname"`
}

// TaosConfig 评分历史时序库，Address 为空则不启用
type TaosConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
	DBName   string `json:"dbname"`
	Param    string `json:"param"`
}

// MqttConfig 通知总线，邮件服务订阅这里的主题
type MqttConfig struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"clientid"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
}

type Tls struct {
	CertPath string `json:"cert_path"`
	KeyPath  string `json:"key_path"`
}

// RateLimitConfig 前台按IP限流
type RateLimitConfig struct {
	PerMinute int `json:"per_minute"`
	Burst     int `json:"burst"`
}

type NotifyConfig struct {
	PoolSize   int32 `json:"pool_size"`
	MaxRetries int   `json:"max_retries"`
}

type Config struct {
	JwtIssuer  string          `json:"jwt_issuer"`
	APIKey     string          `json:"api_key"`
	AdminKey   string          `json:"admin_key"` // 只用于签发审核员令牌，不能和 api_key 相同
	CpBaseURL  string          `json:"cp_base_url"` // 后台地址，用于生成编辑链接
	Tls        Tls             `json:"tls"`
	Mysql      MysqlConfig     `json:"mysql"`
	Taos       TaosConfig      `json:"taos"`
	Mqtt       MqttConfig      `json:"mqtt"`
	RateLimit  RateLimitConfig `json:"rate_limit"`
	Notify     NotifyConfig    `json:"notify"`
	Loglevel   string          `json:"log_level"`
	ServerPort int32           `json:"server_port"`
	JwtKeyPath string          `json:"jwt_key_path"` // jwt加密密钥路径
	JwtKey     []byte          `json:"-"`

	TrustedProxies []string `json:"trusted_proxies"` // 反向代理IP/CIDR，只信任这些来源的转发头
}

var (
	config *Config
)

func defaultConfig() *Config {
	return &Config{
		JwtIssuer:  "feedback-back",
		Loglevel:   "info",
		ServerPort: 8080,
		Mqtt:       MqttConfig{TopicPrefix: "feedback/events"},
		RateLimit:  RateLimitConfig{PerMinute: 6, Burst: 3},
		Notify:     NotifyConfig{PoolSize: 50, MaxRetries: 3},
	}
}

// LoadConfig 读取json配置，缺省字段取默认值
func LoadConfig(path string) error {
	configData, err := os.ReadFile(path)
	if err != nil {
		slog.Error("error load config:"+err.Error(), "path", path)
		return fmt.Errorf("read config %s failed: %w", path, err)
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(configData, cfg); err != nil {
		slog.Error("error load config:"+err.Error(), "path", path)
		return fmt.Errorf("parse config %s failed: %w", path, err)
	}

	if cfg.JwtKeyPath != "" {
		key, err := readPemKey(cfg.JwtKeyPath)
		if err != nil {
			slog.Error("无法读取jwt密钥文件:"+err.Error(), "path", cfg.JwtKeyPath)
		} else {
			cfg.JwtKey = key
		}
	}
	config = cfg
	return nil
}

func readPemKey(path string) ([]byte, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// 解码PEM格式的密钥
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("无效的PEM格式")
	}
	return block.Bytes, nil
}

func GetConfig() *Config {
	if config == nil {
		if err := LoadConfig("./config.json"); err != nil {
			config = defaultConfig()
		}
	}
	return config
}

// SetConfig 测试或嵌入时直接注入
func SetConfig(cfg *Config) {
	config = cfg
}
