package api

import (
	"context"
	"fmt"
	"time"

	"github.com/char5742/handycombo/internal/config"
	"github.com/char5742/handycombo/internal/consts"
	"github.com/char5742/handycombo/internal/dispatch"
	"github.com/char5742/handycombo/internal/features"
	"github.com/char5742/handycombo/internal/logging"
	"github.com/char5742/handycombo/internal/metrics"
	"github.com/char5742/handycombo/internal/power"
	"github.com/char5742/handycombo/internal/types"
	"github.com/rs/zerolog"
)

// NewComboService は設定に従って仮想デバイスなどを用意し、サービスを作る
// 失敗した場合は作りかけのものを片付けてから返す
func NewComboService(cfg *config.Config, table *config.Table, bridge power.Bridge, m *metrics.Collector, log zerolog.Logger) (*ComboService, error) {
	devLog := logging.Subsystem(log, "device")

	var vis *features.Visibility
	if cfg.Device.Hide {
		vis = features.NewVisibility(cfg.Device.InputDir, cfg.Device.HideDir, devLog)
		// 前回異常終了したときに隠したままのノードを戻す
		if err := vis.RestoreAll(); err != nil {
			devLog.Warn().Err(err).Msg("隠したデバイスを元に戻せませんでした")
		}
	}

	virtual, err := features.CreateVirtualDevice(features.VirtualOptions{
		Path: cfg.Virtual.Uinput,
		Name: cfg.Virtual.Name,
		ID: types.InputID{
			Bustype: consts.BusUsb,
			Vendor:  cfg.Virtual.Vendor,
			Product: cfg.Virtual.Product,
			Version: cfg.Virtual.Version,
		},
		QueueSize:    cfg.Virtual.QueueSize,
		WriteTimeout: cfg.Virtual.WriteTimeout,
		SequenceGap:  cfg.Virtual.SequenceGap,
	}, table.Capabilities, logging.Subsystem(log, "virtual"))
	if err != nil {
		return nil, fmt.Errorf("仮想デバイスの作成に失敗しました: %w", err)
	}

	monitor, err := features.NewDeviceMonitor(cfg.Device.InputDir, 100*time.Millisecond, devLog)
	if err != nil {
		_ = virtual.Close()
		return nil, fmt.Errorf("デバイス監視の開始に失敗しました: %w", err)
	}
	monitor.Start()

	echo := features.NewFFEcho(virtual, cfg.Device.FFDelay, logging.Subsystem(log, "ff"))
	c := &connector{
		finder: features.Finder{
			Spec: features.DeviceSpec{
				Path:    cfg.Device.Path,
				Name:    cfg.Device.Name,
				Vendor:  cfg.Device.Vendor,
				Product: cfg.Device.Product,
			},
			ListPath: consts.DevicesList,
			InputDir: cfg.Device.InputDir,
		},
		backoff: features.Backoff{Delay: cfg.Device.DetectDelay, Max: cfg.Device.MaxDetectDelay},
		wake:    monitor.Wake(),
		caps:    table.Capabilities,
		log:     devLog,
	}

	opts := ServiceOptions{
		Table:    table,
		Output:   virtual,
		Connect:  c.connect,
		FF:       echo,
		Bridge:   bridge,
		Launcher: dispatch.NewExecLauncher(logging.Subsystem(log, "launcher")),
		Toggles:  dispatch.NewToggles(cfg.Toggles.PerformanceProfiles),
		Metrics:  m,
		Runners:  []func(context.Context){virtual.Run, echo.Run},
		Closers: []func() error{
			func() error { monitor.Stop(); return nil },
			virtual.Close,
		},
	}
	if vis != nil {
		opts.Hider = vis
	}

	s, err := NewService(opts, logging.Subsystem(log, "service"))
	if err != nil {
		monitor.Stop()
		_ = virtual.Close()
		return nil, err
	}
	return s, nil
}

// connector はデバイスを探して開く。開けなければ間隔を空けて探し直す
type connector struct {
	finder  features.Finder
	backoff features.Backoff
	wake    <-chan struct{}
	caps    types.Capabilities
	log     *zerolog.Logger
}

func (c *connector) connect(ctx context.Context) (InputSource, error) {
	for {
		path, err := features.WaitForDevice(ctx, c.finder.Find, &c.backoff, c.wake)
		if err != nil {
			return nil, err
		}

		src, err := features.OpenSource(path, c.caps, c.log)
		if err == nil {
			if keys, err := src.PressedKeys(); err == nil && len(keys) > 0 {
				c.log.Debug().Interface("keys", keys).Msg("接続時に押されているキーがあります")
			}
			return src, nil
		}
		c.log.Warn().Err(err).Str("path", path).Msg("デバイスを開けませんでした")

		timer := time.NewTimer(c.backoff.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
