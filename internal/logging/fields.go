package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CallFields 提供 method/target/命中状态字段，供每次代理调用日志复用。
func CallFields(method, target string, cacheHit bool, attempts int) logrus.Fields {
	return logrus.Fields{
		"method":    method,
		"target":    target,
		"cache_hit": cacheHit,
		"attempts":  attempts,
	}
}
