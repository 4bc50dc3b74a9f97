package features

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"
	"unsafe"

	"github.com/char5742/handycombo/internal/consts"
	"github.com/char5742/handycombo/internal/event"
	"github.com/char5742/handycombo/internal/types"
	"github.com/char5742/handycombo/internal/utils"
	"github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"
)

var (
	// ErrDeviceUnavailable はデバイスを開けない、または専有できないことを表す
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrDeviceDisconnected はデバイスからの読み込みが失敗したことを表す
	ErrDeviceDisconnected = errors.New("device disconnected")
	// ErrSyncDropped はカーネルのバッファがあふれてイベントが失われたことを表す
	ErrSyncDropped = errors.New("input events dropped")
)

// SourceEvent は Events チャネルで届く読み込み結果
// Err が ErrDeviceDisconnected ならチャネルはその後閉じられる
type SourceEvent struct {
	Event event.RawEvent
	Err   error
}

// inputDevice は evdev.InputDevice のうち読み書きに使うもの
type inputDevice interface {
	ReadOne() (*evdev.InputEvent, error)
	WriteOne(ev *evdev.InputEvent) error
	Close() error
}

// Source は専有した物理デバイスからイベントを読む
type Source struct {
	path  string
	dev   inputDevice
	input *evdev.InputDevice
	// go-evdev は fd を公開しないので、エフェクトの登録と削除には別に開いた fd を使う
	ff   *os.File
	axes map[evdev.EvCode]event.AxisRange
	log  *zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// OpenSource はデバイスを開いて専有し、軸の範囲を読み取る
func OpenSource(path string, caps types.Capabilities, log *zerolog.Logger) (*Source, error) {
	dev, err := evdev.OpenWithFlags(path, os.O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, path, err)
	}
	if err := dev.Grab(); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("%w: grab %s: %v", ErrDeviceUnavailable, path, err)
	}

	s := newSource(path, dev, log)
	s.input = dev

	infos, err := dev.AbsInfos()
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("軸の範囲を読めませんでした")
	}
	for _, a := range caps.Abs {
		// デバイスが持っていない軸は変換しない
		if info, ok := infos[a.Code]; ok {
			s.axes[a.Code] = event.AxisRange{Min: info.Minimum, Max: info.Maximum}
		}
	}

	// ノードを隠す前に開いておく
	if f, err := os.OpenFile(path, syscall.O_RDWR|syscall.O_NONBLOCK, 0); err == nil {
		s.ff = f
	} else {
		log.Debug().Err(err).Str("path", path).Msg("振動用にデバイスを開けませんでした")
	}
	return s, nil
}

func newSource(path string, dev inputDevice, log *zerolog.Logger) *Source {
	return &Source{
		path: path,
		dev:  dev,
		axes: make(map[evdev.EvCode]event.AxisRange),
		log:  log,
	}
}

// Path はデバイスファイルのパスを返す
func (s *Source) Path() string { return s.path }

// Axes はデバイスが報告した絶対軸の範囲を返す
func (s *Source) Axes() map[evdev.EvCode]event.AxisRange { return s.axes }

// Next は次のイベントを1件返す。SYN_REPORT は読み飛ばす
func (s *Source) Next() (event.RawEvent, error) {
	for {
		ev, err := s.dev.ReadOne()
		if err != nil {
			return event.RawEvent{}, fmt.Errorf("%w: %s: %v", ErrDeviceDisconnected, s.path, err)
		}
		if ev.Type == evdev.EV_SYN {
			if ev.Code == evdev.SYN_DROPPED {
				return event.RawEvent{}, ErrSyncDropped
			}
			continue
		}
		return event.FromInput(*ev)
	}
}

// Events は読み込みループを別ゴルーチンで回し、結果をチャネルで返す
// 切断か ctx の終了でチャネルは閉じられる
func (s *Source) Events(ctx context.Context) <-chan SourceEvent {
	ch := make(chan SourceEvent, 64)
	go func() {
		defer close(ch)
		for {
			ev, err := s.Next()
			select {
			case ch <- SourceEvent{Event: ev, Err: err}:
			case <-ctx.Done():
				return
			}
			if errors.Is(err, ErrDeviceDisconnected) {
				return
			}
		}
	}()
	return ch
}

// PressedKeys はデバイス上で現在押されているキーを返す
func (s *Source) PressedKeys() ([]evdev.EvCode, error) {
	if s.input == nil {
		return nil, nil
	}
	state, err := s.input.State(evdev.EV_KEY)
	if err != nil {
		return nil, err
	}

	var pressed []evdev.EvCode
	for code, down := range state {
		if down {
			pressed = append(pressed, code)
		}
	}
	sort.Slice(pressed, func(i, j int) bool { return pressed[i] < pressed[j] })
	return pressed, nil
}

// UploadEffect はフォースフィードバックのエフェクトを登録する。e.ID に割り当てられたIDが入る
func (s *Source) UploadEffect(e *types.FFEffect) error {
	if s.ff == nil {
		return ErrDeviceUnavailable
	}
	return utils.IOCtlPtr(s.ff, consts.EVIOCSFF, unsafe.Pointer(e))
}

// EraseEffect はエフェクトを削除する
func (s *Source) EraseEffect(id int16) error {
	if s.ff == nil {
		return ErrDeviceUnavailable
	}
	return utils.IOCtl(s.ff, consts.EVIOCRMFF, uintptr(id))
}

// PlayEffect は EV_FF イベントをデバイスへ書き込む
func (s *Source) PlayEffect(code evdev.EvCode, value int32) error {
	return s.dev.WriteOne(&evdev.InputEvent{Type: evdev.EV_FF, Code: code, Value: value})
}

// Close は専有を解除してデバイスを閉じる。何度呼んでもよい
// 読み込み中の ReadOne は次の入力か切断で戻るので、呼び出し側は待たないこと
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		if s.input != nil {
			_ = s.input.Ungrab()
		}
		if s.ff != nil {
			_ = s.ff.Close()
		}
		s.closeErr = s.dev.Close()
	})
	return s.closeErr
}
