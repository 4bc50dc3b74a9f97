package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/char5742/handycombo/internal/api"
	"github.com/char5742/handycombo/internal/config"
	"github.com/char5742/handycombo/internal/logging"
	"github.com/char5742/handycombo/internal/metrics"
	"github.com/char5742/handycombo/internal/power"
	"github.com/prometheus/common/version"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

func main() {
	// コマンドライン引数の解析
	configPath := flag.StringP("config", "c", "", "設定ファイルのパス (指定しない場合はデフォルトパスを使用)")
	logLevel := flag.String("log-level", "", "ログレベル (debug, info, warn, error)。設定ファイルより優先")
	logFormat := flag.String("log-format", "", "ログ形式 (console, json)。設定ファイルより優先")
	apiAddr := flag.String("api", "", "状態確認APIの待ち受けアドレス (例: 127.0.0.1:8080)。設定ファイルより優先")
	dumpConfig := flag.Bool("dump-config", false, "読み込んだ設定を標準出力に書き出して終了します")
	showVersion := flag.BoolP("version", "v", false, "バージョンを表示して終了します")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Print("handycombo"))
		return
	}

	// 設定ファイルパスの決定
	cfgPath := *configPath
	if cfgPath == "" {
		configDir, err := config.GetDefaultConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "設定ディレクトリの取得に失敗しました: %v\n", err)
			os.Exit(1)
		}
		cfgPath = filepath.Join(configDir, "config.toml")
	}

	// 設定ファイルの読み込み
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定ファイルの読み込みに失敗しました: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *apiAddr != "" {
		cfg.API.Listen = *apiAddr
	}

	if *dumpConfig {
		if err := cfg.Encode(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "設定の書き出しに失敗しました: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの作成に失敗しました: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Str("config", cfgPath).Str("version", version.Version).Msg("設定ファイルを読み込みました")

	table, err := cfg.Build()
	if err != nil {
		logger.Error().Err(err).Msg("設定が正しくありません")
		os.Exit(1)
	}

	// シグナルで終了する
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, table, logger); err != nil {
		logger.Error().Err(err).Msg("異常終了します")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, table *config.Table, logger zerolog.Logger) error {
	bridge := power.Connect(logging.Subsystem(logger, "power"))
	defer bridge.Close()

	m := metrics.New()
	service, err := api.NewComboService(cfg, table, bridge, m, logger)
	if err != nil {
		return err
	}

	if cfg.API.Listen != "" {
		server := api.NewServer(service, m, cfg.API.Listen, logging.Subsystem(logger, "api"))
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("APIサーバーの起動に失敗しました")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				logger.Warn().Err(err).Msg("APIサーバーの停止に失敗しました")
			}
		}()
	}

	if err := service.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("シャットダウンしました")
	return nil
}
