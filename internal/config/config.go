package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ServerConfig 日志服务器统一配置结构
type ServerConfig struct {
	Listen    ListenConfig    `mapstructure:"listen"`
	IoLog     IoLogConfig     `mapstructure:"iolog"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ListenConfig struct {
	Addr      string `mapstructure:"addr"`       // 日志接收端监听地址
	AdminAddr string `mapstructure:"admin_addr"` // 管理HTTP端监听地址，空串禁用
}

type IoLogConfig struct {
	Dir string `mapstructure:"dir"` // 会话存储根目录
}

type WebSocketConfig struct {
	Path              string        `mapstructure:"path"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	MaxConnections    int           `mapstructure:"max_connections"`
}

type CatalogConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	EnableStream bool   `mapstructure:"enable_stream"` // 管理端日志流开关
}

// Load 加载配置：默认值 < 配置文件 < 环境变量（LOGSRV_前缀）
func Load() (*ServerConfig, *viper.Viper, error) {
	v := viper.New()

	v.SetConfigName("logsrv")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LOGSRV")
	v.AutomaticEnv()

	setDefaults(v)

	// 配置文件可以不存在，全部走默认值
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, nil, err
	}
	return &cfg, v, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.addr", ":30344")
	v.SetDefault("listen.admin_addr", ":30345")

	v.SetDefault("iolog.dir", "/var/log/cmdlog")

	v.SetDefault("websocket.path", "/log")
	v.SetDefault("websocket.handshake_timeout", "10s")
	v.SetDefault("websocket.read_buffer_size", 4096)
	v.SetDefault("websocket.write_buffer_size", 4096)
	v.SetDefault("websocket.enable_compression", false)
	v.SetDefault("websocket.max_connections", 1024)

	v.SetDefault("catalog.enabled", false)
	v.SetDefault("catalog.host", "localhost")
	v.SetDefault("catalog.port", 5432)
	v.SetDefault("catalog.user", "postgres")
	v.SetDefault("catalog.password", "")
	v.SetDefault("catalog.dbname", "cmdlog")
	v.SetDefault("catalog.sslmode", "disable")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.enable_stream", true)
}

// validate 校验配置
func validate(cfg *ServerConfig) error {
	if cfg.Listen.Addr == "" {
		return fmt.Errorf("listen.addr must not be empty")
	}
	if cfg.IoLog.Dir == "" {
		return fmt.Errorf("iolog.dir must not be empty")
	}
	if cfg.WebSocket.Path == "" {
		return fmt.Errorf("websocket.path must not be empty")
	}
	if cfg.WebSocket.MaxConnections <= 0 {
		return fmt.Errorf("websocket.max_connections must be positive")
	}
	return nil
}

// Watch 监控配置文件变化，变化时回调重新解析后的配置
func Watch(v *viper.Viper, onChange func(*ServerConfig)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg ServerConfig
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		if err := validate(&cfg); err != nil {
			return
		}
		onChange(&cfg)
	})
}

// 全局配置实例
var (
	globalConfig *ServerConfig
	loadOnce     sync.Once
	loadErr      error
)

// Get 获取全局配置（首次调用时加载）
func Get() (*ServerConfig, error) {
	loadOnce.Do(func() {
		globalConfig, _, loadErr = Load()
	})
	return globalConfig, loadErr
}
