package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envBaseURL 允许在无配置文件的环境（容器、CI）直接指定上游基地址。
const envBaseURL = "API_RELAY_BASE_URL"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// 当文件不存在但环境变量提供了 BaseURL 时，允许纯默认值启动。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !isMissingFile(err) || os.Getenv(envBaseURL) == "" {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if fromEnv := os.Getenv(envBaseURL); fromEnv != "" {
		cfg.Global.BaseURL = fromEnv
	}
	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5100)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("DefaultTimeout", "10s")
	v.SetDefault("DefaultMaxRetries", 3)
	v.SetDefault("DefaultCacheTTL", "5m")
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("SweepInterval", "60s")
	v.SetDefault("SweepRetention", "5m")
	v.SetDefault("MaxCacheEntries", 4096)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5100
	}
	if g.DefaultTimeout.DurationValue() == 0 {
		g.DefaultTimeout = Duration(10 * time.Second)
	}
	if g.DefaultCacheTTL.DurationValue() == 0 {
		g.DefaultCacheTTL = Duration(5 * time.Minute)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.SweepInterval.DurationValue() == 0 {
		g.SweepInterval = Duration(60 * time.Second)
	}
	if g.SweepRetention.DurationValue() == 0 {
		g.SweepRetention = Duration(5 * time.Minute)
	}
	if g.MaxCacheEntries == 0 {
		g.MaxCacheEntries = 4096
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
