package features

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DeviceMonitor は入力デバイスのディレクトリを監視し、ノードが作られたことを通知する
type DeviceMonitor struct {
	watcher  *fsnotify.Watcher
	wake     chan struct{}
	stopChan chan struct{}
	debounce time.Duration
	log      *zerolog.Logger

	stopOnce sync.Once
}

// NewDeviceMonitor は dir を監視する DeviceMonitor を作る
func NewDeviceMonitor(dir string, debounce time.Duration, log *zerolog.Logger) (*DeviceMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return &DeviceMonitor{
		watcher:  watcher,
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		debounce: debounce,
		log:      log,
	}, nil
}

// Start はイベント監視ゴルーチンを起動する
func (dm *DeviceMonitor) Start() {
	dm.log.Debug().Strs("dirs", dm.watcher.WatchList()).Msg("デバイスモニターを開始します")
	go dm.watchEvents()
}

// Wake はデバイスノードが作られたときに通知するチャネル
// 続けて起きた変化は1回の通知にまとめられる
func (dm *DeviceMonitor) Wake() <-chan struct{} { return dm.wake }

// Stop はデバイスの監視を停止する。何度呼んでもよい
func (dm *DeviceMonitor) Stop() {
	dm.stopOnce.Do(func() {
		close(dm.stopChan)
		_ = dm.watcher.Close()
	})
}

// watchEvents はfsnotifyのイベントを監視する
func (dm *DeviceMonitor) watchEvents() {
	// 一時的なファイルシステムイベントを収集してバッチ処理するためのしくみ
	eventTimer := time.NewTimer(dm.debounce)
	eventTimer.Stop()
	defer eventTimer.Stop()
	pending := false

	for {
		select {
		case <-dm.stopChan:
			return

		case <-eventTimer.C:
			if pending {
				pending = false
				select {
				case dm.wake <- struct{}{}:
				default:
				}
			}

		case event, ok := <-dm.watcher.Events:
			if !ok {
				return
			}
			if !isEventNode(event.Name) || !event.Has(fsnotify.Create) {
				continue
			}
			dm.log.Debug().Str("op", event.Op.String()).Str("path", event.Name).Msg("デバイスノードが作成されました")
			// タイマーをリセットして複数のイベントをバッチ処理
			if !pending {
				pending = true
				eventTimer.Reset(dm.debounce)
			}

		case err, ok := <-dm.watcher.Errors:
			if !ok {
				return
			}
			dm.log.Warn().Err(err).Msg("ファイルシステム監視エラー")
		}
	}
}

func isEventNode(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "event")
}
