// =============================================================================
// Pollenflow 主入口
// =============================================================================
// 花粉捕获处理流水线的命令行入口，包含提取、推理、合并与导出
//
// 使用方法:
//
//	pollenflow run --config config.yaml --model-url http://localhost:9000/classify a.zip b.zip
//	pollenflow check --config config.yaml   # 校验配置
//	pollenflow version                      # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/pollenflow/config"
	"github.com/BaSui01/pollenflow/internal/metrics"
	"github.com/BaSui01/pollenflow/internal/telemetry"
	"github.com/BaSui01/pollenflow/journal"
	"github.com/BaSui01/pollenflow/pipeline"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runPipeline(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🏃 run 命令
// =============================================================================

func runPipeline(args []string) {
	// 解析命令行参数
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	modelURL := fs.String("model-url", "", "Classification service endpoint")
	modelTimeout := fs.Duration("model-timeout", 60*time.Second, "Classification request timeout")
	metricsAddr := fs.String("metrics-addr", "", "Address to serve Prometheus metrics on (disabled when empty)")
	fs.Parse(args)

	sources := fs.Args()
	if len(sources) == 0 {
		fmt.Fprintln(os.Stderr, "No sources given")
		os.Exit(1)
	}
	if *modelURL == "" {
		fmt.Fprintln(os.Stderr, "--model-url is required")
		os.Exit(1)
	}

	// 加载配置
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := cfg.Log.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting pollenflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.Int("sources", len(sources)),
	)

	// Initialize OpenTelemetry
	otelProviders, err := telemetry.Init(*cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// 初始化指标与运行日志
	collector := metrics.NewCollector("pollenflow", logger)
	jr, err := journal.Open(cfg.Journal, logger)
	if err != nil {
		logger.Warn("Journal not available, run history disabled", zap.Error(err))
	}
	defer jr.Close()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	// 构建流水线
	model := newModelClient(*modelURL, *modelTimeout, logger)
	p, err := pipeline.New(cfg, model.Classify,
		pipeline.WithLogger(logger),
		pipeline.WithCollector(collector),
		pipeline.WithJournal(jr),
	)
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer p.Close()

	// 运行（Ctrl-C / SIGTERM 触发优雅取消）
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reports, runErr := p.RunAll(ctx, sources)
	for _, r := range reports {
		if r == nil {
			continue
		}
		fmt.Printf("%s: %s records=%d filtered=%d batches=%d rows=%d duration=%s\n",
			r.Source, r.State, r.RecordsExtracted, r.RecordsFiltered,
			r.Batches, r.RowsExported, r.Duration.Round(time.Millisecond))
	}
	if runErr != nil {
		logger.Error("pipeline finished with failures", zap.Error(runErr))
		os.Exit(1)
	}

	logger.Info("Pollenflow finished")
}

// =============================================================================
// ✅ check 命令
// =============================================================================

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	if _, err := loadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

// loadConfig 加载并校验完整流水线配置
func loadConfig(path string) (*config.PipelineConfig, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	opts, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return config.NewPipelineConfig(opts)
}

// serveMetrics 暴露 Prometheus 指标端点
func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("Pollenflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`Pollenflow - Pollen Capture Processing Pipeline

Usage:
  pollenflow <command> [options] [sources...]

Commands:
  run       Process capture archives end to end
  check     Validate the configuration file
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>        Path to configuration file (YAML)
  --model-url <url>      Classification service endpoint (required)
  --model-timeout <dur>  Classification request timeout (default 60s)
  --metrics-addr <addr>  Serve Prometheus metrics on this address

Examples:
  pollenflow run --model-url http://localhost:9000/classify captures/a.zip
  pollenflow run --config /etc/pollenflow/config.yaml --model-url http://model:9000/classify captures/*.zip
  pollenflow check --config config.yaml
  pollenflow version`)
}
