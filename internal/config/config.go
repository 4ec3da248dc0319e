// Package config 提供应用程序的配置加载和管理功能
// 使用 TOML 格式的配置文件，支持多路径查找；部署环境再通过环境变量（可放在 .env）覆盖少量关键项
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml" // TOML 配置文件解析库
	"github.com/joho/godotenv"   // .env 文件加载
)

// 存储后端
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// 定时消息投递模式
const (
	MessageModeChannel = "channel"
	MessageModeKafka   = "kafka"
)

// MainConfig 主配置，包含应用基本信息
type MainConfig struct {
	AppName string `toml:"appName"` // 应用名称，用于日志标识等
	Host    string `toml:"host"`    // 管理端 HTTP 监听地址
	Port    int    `toml:"port"`    // 管理端 HTTP 监听端口
	Mode    string `toml:"mode"`    // dev / release，影响日志输出和 gin 模式
}

// StoreConfig 持久层配置
type StoreConfig struct {
	Backend                string `toml:"backend"`                // sqlite / postgres / mysql
	DSN                    string `toml:"dsn"`                    // 网络数据库连接串
	SQLitePath             string `toml:"sqlitePath"`             // 嵌入式数据库落盘文件
	MaxDBLimit             int    `toml:"maxDBLimit"`             // 查询 limit 上限
	FlushIntervalMs        int    `toml:"flushIntervalMs"`        // 嵌入式后端批量落盘周期
	MaxOpenConns           int    `toml:"maxOpenConns"`           // 连接池最大连接数
	MaxIdleConns           int    `toml:"maxIdleConns"`           // 连接池最大空闲连接数
	ConnMaxLifetimeMinutes int    `toml:"connMaxLifetimeMinutes"` // 单个连接最长存活时间
	MigrationFlagPath      string `toml:"migrationFlagPath"`      // 旧 JSON 数据导入完成标记
	LegacyDataDir          string `toml:"legacyDataDir"`          // 旧 users.json / messages.json 所在目录
}

// RedisConfig Redis 连接配置，只用于用户资料缓存
type RedisConfig struct {
	Enabled        bool   `toml:"enabled"`        // 关闭时 facade 直接读库
	Host           string `toml:"host"`           // Redis 服务器地址
	Port           int    `toml:"port"`           // Redis 端口，默认 6379
	Password       string `toml:"password"`       // Redis 密码，无密码留空
	Db             int    `toml:"db"`             // Redis 数据库编号，默认 0
	UserTTLSeconds int    `toml:"userTTLSeconds"` // 用户资料缓存时间
}

// LogConfig 日志配置，使用 lumberjack 进行日志轮转
type LogConfig struct {
	LogPath    string `toml:"logPath"`    // 日志文件存储目录
	FileName   string `toml:"fileName"`   // 日志文件名
	MaxSize    int    `toml:"maxSize"`    // 单个日志文件最大大小（MB）
	MaxBackups int    `toml:"maxBackups"` // 保留旧日志文件的最大个数
	MaxAge     int    `toml:"maxAge"`     // 保留旧日志文件的最大天数
	Level      string `toml:"level"`      // 日志级别：debug, info, warn, error
}

// KafkaConfig 定时消息投递到 Kafka 的配置
type KafkaConfig struct {
	MessageMode    string `toml:"messageMode"`    // "channel" 或 "kafka"
	HostPort       string `toml:"hostPort"`       // Kafka 服务器地址，如 "localhost:9092"
	ScheduledTopic string `toml:"scheduledTopic"` // 到期定时消息写入的主题
	Timeout        int    `toml:"timeout"`        // 写超时（秒）
}

// SchedulerConfig 定时消息投递 worker
type SchedulerConfig struct {
	Enabled        bool `toml:"enabled"`
	PollIntervalMs int  `toml:"pollIntervalMs"` // 轮询到期消息的周期
}

// SnowflakeConfig 雪花算法配置
type SnowflakeConfig struct {
	MachineID int64 `toml:"machineId"` // 雪花算法节点 ID，范围 0-1023，多实例部署时每台机器需唯一
}

// SnapshotConfig 嵌入式数据库快照镜像到 S3
type SnapshotConfig struct {
	Enabled   bool   `toml:"enabled"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`    // 对象 key 前缀
	AccessKey string `toml:"accessKey"` // 为空时走默认凭证链
	SecretKey string `toml:"secretKey"`
	Endpoint  string `toml:"endpoint"` // 兼容 S3 的自建服务（MinIO 等）
}

// Config 应用程序总配置，聚合所有子配置
type Config struct {
	MainConfig      `toml:"mainConfig"`
	StoreConfig     `toml:"storeConfig"`
	RedisConfig     `toml:"redisConfig"`
	LogConfig       `toml:"logConfig"`
	KafkaConfig     `toml:"kafkaConfig"`
	SchedulerConfig `toml:"schedulerConfig"`
	SnowflakeConfig `toml:"snowflakeConfig"`
	SnapshotConfig  `toml:"snapshotConfig"`
}

// config 全局配置单例，延迟加载
var config *Config

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		MainConfig: MainConfig{AppName: "appchat_store", Host: "127.0.0.1", Port: 8090, Mode: "release"},
		StoreConfig: StoreConfig{
			Backend:                BackendSQLite,
			SQLitePath:             "database/appchat.sqlite",
			MaxDBLimit:             250,
			FlushIntervalMs:        500,
			MaxOpenConns:           20,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 60,
			MigrationFlagPath:      "database/.migrated_to_postgres",
			LegacyDataDir:          "database",
		},
		RedisConfig:     RedisConfig{Host: "127.0.0.1", Port: 6379, UserTTLSeconds: 300},
		LogConfig:       LogConfig{LogPath: "logs", Level: "info"},
		KafkaConfig:     KafkaConfig{MessageMode: MessageModeChannel, ScheduledTopic: "scheduled_messages", Timeout: 3},
		SchedulerConfig: SchedulerConfig{Enabled: true, PollIntervalMs: 5000},
		SnowflakeConfig: SnowflakeConfig{MachineID: 1},
	}
}

// LoadConfig 从多个候选路径加载配置文件，再应用环境变量覆盖
// 按顺序尝试加载，找到第一个可用的配置文件即停止
func LoadConfig(cfg *Config) error {
	// 候选配置文件路径（优先加载本地配置）
	paths := []string{
		"configs/config_local.toml",
		"configs/config.toml",
		"../../configs/config_local.toml", // 从子目录运行时的路径
		"../../configs/config.toml",
	}

	var found bool
	for _, path := range paths {
		if _, err := toml.DecodeFile(path, cfg); err == nil {
			found = true
			break
		}
	}

	// .env 不存在不算错误
	_ = godotenv.Load()
	ApplyEnv(cfg)

	if !found {
		return fmt.Errorf("could not find configuration file in any of the search paths")
	}
	return nil
}

// ApplyEnv 用环境变量覆盖配置
//   - DATABASE_URL：设置后切换到 postgres（DSN 以 mysql:// 开头时切到 mysql）
//   - USE_SQLITE：显式为真时强制嵌入式后端
//   - MAX_DB_LIMIT、APPCHAT_SQLITE_PATH
func ApplyEnv(cfg *Config) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.StoreConfig.DSN = dsn
		cfg.StoreConfig.Backend = BackendPostgres
		if strings.HasPrefix(dsn, "mysql://") {
			cfg.StoreConfig.Backend = BackendMySQL
			cfg.StoreConfig.DSN = strings.TrimPrefix(dsn, "mysql://")
		}
	}
	if v, ok := os.LookupEnv("USE_SQLITE"); ok {
		if b, err := strconv.ParseBool(v); err == nil && b {
			cfg.StoreConfig.Backend = BackendSQLite
		}
	}
	if v := os.Getenv("MAX_DB_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StoreConfig.MaxDBLimit = n
		}
	}
	if v := os.Getenv("APPCHAT_SQLITE_PATH"); v != "" {
		cfg.StoreConfig.SQLitePath = v
	}
}

// Validate 启动前检查配置是否可用
func (c *Config) Validate() error {
	switch c.StoreConfig.Backend {
	case BackendSQLite:
		if c.StoreConfig.SQLitePath == "" {
			return fmt.Errorf("storeConfig.sqlitePath is required for the sqlite backend")
		}
		if c.StoreConfig.FlushIntervalMs <= 0 {
			return fmt.Errorf("storeConfig.flushIntervalMs must be positive, got %d", c.StoreConfig.FlushIntervalMs)
		}
	case BackendPostgres, BackendMySQL:
		if c.StoreConfig.DSN == "" {
			return fmt.Errorf("storeConfig.dsn is required for the %s backend", c.StoreConfig.Backend)
		}
	default:
		return fmt.Errorf("unknown storeConfig.backend %q", c.StoreConfig.Backend)
	}
	if c.StoreConfig.MaxDBLimit <= 0 {
		return fmt.Errorf("storeConfig.maxDBLimit must be positive, got %d", c.StoreConfig.MaxDBLimit)
	}
	switch c.KafkaConfig.MessageMode {
	case MessageModeChannel:
	case MessageModeKafka:
		if c.KafkaConfig.HostPort == "" || c.KafkaConfig.ScheduledTopic == "" {
			return fmt.Errorf("kafkaConfig.hostPort and scheduledTopic are required in kafka mode")
		}
	default:
		return fmt.Errorf("unknown kafkaConfig.messageMode %q", c.KafkaConfig.MessageMode)
	}
	if c.SchedulerConfig.Enabled && c.SchedulerConfig.PollIntervalMs <= 0 {
		return fmt.Errorf("schedulerConfig.pollIntervalMs must be positive, got %d", c.SchedulerConfig.PollIntervalMs)
	}
	if c.SnapshotConfig.Enabled && (c.SnapshotConfig.Region == "" || c.SnapshotConfig.Bucket == "") {
		return fmt.Errorf("snapshotConfig.region and bucket are required when the mirror is enabled")
	}
	return nil
}

// GetConfig 获取全局配置实例（单例模式）
// 首次调用时会自动加载配置文件，找不到文件时使用默认值
func GetConfig() *Config {
	if config == nil {
		config = Default()
		_ = LoadConfig(config)
	}
	return config
}
