package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if err := validateBaseURL(g.BaseURL); err != nil {
		return fmt.Errorf("BaseURL: %w", err)
	}
	if g.DefaultTimeout.DurationValue() <= 0 {
		return newFieldError("DefaultTimeout", "必须大于 0")
	}
	if g.DefaultMaxRetries < 0 {
		return newFieldError("DefaultMaxRetries", "不能为负数")
	}
	if g.DefaultCacheTTL.DurationValue() < 0 {
		return newFieldError("DefaultCacheTTL", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}
	if g.SweepInterval.DurationValue() <= 0 {
		return newFieldError("SweepInterval", "必须大于 0")
	}
	if g.SweepRetention.DurationValue() <= 0 {
		return newFieldError("SweepRetention", "必须大于 0")
	}
	if g.MaxCacheEntries <= 0 {
		return newFieldError("MaxCacheEntries", "必须大于 0")
	}

	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("缺少上游基地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，当前: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("基地址缺少 Host: %s", raw)
	}
	return nil
}

// ParsedBaseURL 返回校验后的基地址，仅应在 Validate 通过后调用。
func (c *Config) ParsedBaseURL() (*url.URL, error) {
	return url.Parse(c.Global.BaseURL)
}
