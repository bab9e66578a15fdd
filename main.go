package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/api-relay/api-relay/internal/cache"
	"github.com/api-relay/api-relay/internal/config"
	"github.com/api-relay/api-relay/internal/logging"
	"github.com/api-relay/api-relay/internal/proxy"
	"github.com/api-relay/api-relay/internal/server"
	"github.com/api-relay/api-relay/internal/server/routes"
	"github.com/api-relay/api-relay/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["base_url"] = cfg.Global.BaseURL
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	baseURL, err := cfg.ParsedBaseURL()
	if err != nil {
		fmt.Fprintf(stdErr, "解析基地址失败: %v\n", err)
		return 1
	}

	// 启动遵循“配置 → 内存缓存 → 共享 Client → 代理 Handler → Fiber server”
	// 顺序，保证所有请求共享统一的缓存实例与清理协程。
	store := cache.New(cache.Options{
		SweepInterval:  cfg.Global.SweepInterval.DurationValue(),
		SweepRetention: cfg.Global.SweepRetention.DurationValue(),
		MaxEntries:     cfg.Global.MaxCacheEntries,
	})
	defer store.Close()

	client := server.NewUpstreamClient()
	handler := proxy.NewHandler(client, logger, store, proxy.Defaults{
		BaseURL:    baseURL,
		Timeout:    cfg.Global.DefaultTimeout.DurationValue(),
		MaxRetries: cfg.Global.DefaultMaxRetries,
		CacheTTL:   cfg.Global.DefaultCacheTTL.DurationValue(),
		Backoff:    cfg.Global.InitialBackoff.DurationValue(),
		UserAgent:  version.UserAgent(),
	})

	fields := logging.BaseFields("startup", opts.configPath)
	fields["base_url"] = cfg.Global.BaseURL
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, handler, store, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("api-relay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 API_RELAY_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("API_RELAY_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, proxyHandler server.ProxyHandler, store *cache.Store, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxyHandler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnostics(app, store)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
