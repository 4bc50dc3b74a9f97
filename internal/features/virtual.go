package features

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/char5742/handycombo/internal/consts"
	"github.com/char5742/handycombo/internal/event"
	"github.com/char5742/handycombo/internal/types"
	"github.com/char5742/handycombo/internal/utils"
	"github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"
)

// ErrEmissionBackpressure は合成イベントのキューがあふれ、古い列を捨てたことを表す
var ErrEmissionBackpressure = errors.New("emission backpressure")

// VirtualOptions は仮想デバイスの作成オプション
type VirtualOptions struct {
	Path         string
	Name         string
	ID           types.InputID
	QueueSize    int
	WriteTimeout time.Duration
	// SequenceGap は合成イベント列の各イベントの間隔
	SequenceGap time.Duration
}

// VirtualDevice は uinput で作った仮想コントローラー
// 通過イベントと合成イベントの書き込みは内部で直列化される
type VirtualDevice struct {
	file *os.File
	w    io.Writer
	r    io.Reader
	log  *zerolog.Logger

	timeout time.Duration
	gap     time.Duration
	queue   chan []event.RawEvent

	mu   sync.Mutex
	held map[evdev.EvCode]bool

	closeOnce sync.Once
}

// CreateVirtualDevice は機能一覧のすべてを持つ仮想デバイスを作成する
func CreateVirtualDevice(opts VirtualOptions, caps types.Capabilities, log *zerolog.Logger) (*VirtualDevice, error) {
	deviceFile, err := createDeviceFile(opts.Path)
	if err != nil {
		return nil, err
	}

	// イベント種別を登録する
	for _, ev := range []evdev.EvType{evdev.EV_KEY, evdev.EV_ABS, evdev.EV_MSC, evdev.EV_LED, evdev.EV_FF} {
		if err := registerDevice(deviceFile, uintptr(ev)); err != nil {
			return nil, err
		}
	}

	// 種別ごとのコードを登録する
	for _, group := range []struct {
		typ evdev.EvType
		req uint
	}{
		{evdev.EV_KEY, consts.SetKeyBit},
		{evdev.EV_ABS, consts.SetAbsBit},
		{evdev.EV_MSC, consts.SetMscBit},
		{evdev.EV_LED, consts.SetLedBit},
		{evdev.EV_FF, consts.SetFFBit},
	} {
		for _, code := range caps.Codes(group.typ) {
			if err := utils.IOCtl(deviceFile, group.req, uintptr(code)); err != nil {
				_ = deviceFile.Close()
				return nil, fmt.Errorf("%s の登録に失敗しました: %v", evdev.CodeName(group.typ, code), err)
			}
		}
	}

	userDev := types.UserDev{
		Name:       toUinputName([]byte(opts.Name)),
		ID:         opts.ID,
		EffectsMax: consts.EffectsMax,
	}
	for _, a := range caps.Abs {
		userDev.Absmin[a.Code] = a.Min
		userDev.Absmax[a.Code] = a.Max
		userDev.Absfuzz[a.Code] = a.Fuzz
		userDev.Absflat[a.Code] = a.Flat
	}

	if _, err := createUsbDevice(deviceFile, userDev); err != nil {
		return nil, err
	}

	v := newVirtualDevice(deviceFile, deviceFile, opts, log)
	v.file = deviceFile
	log.Info().Str("name", opts.Name).Msg("仮想デバイスを作成しました")
	return v, nil
}

func newVirtualDevice(w io.Writer, r io.Reader, opts VirtualOptions, log *zerolog.Logger) *VirtualDevice {
	size := opts.QueueSize
	if size < 1 {
		size = consts.QueueSize
	}
	return &VirtualDevice{
		w:       w,
		r:       r,
		log:     log,
		timeout: opts.WriteTimeout,
		gap:     opts.SequenceGap,
		queue:   make(chan []event.RawEvent, size),
		held:    make(map[evdev.EvCode]bool),
	}
}

// Emit はイベント1件を SYN_REPORT つきで書き込む (通過イベント用)
// 書き込みが WriteTimeout 以内に終わらなければエラーを返し、イベントは失われる
func (v *VirtualDevice) Emit(e event.RawEvent) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.write(e)
}

// EmitSequence は合成イベント列をキューに入れる
// キューが一杯なら最も古い列を捨てて ErrEmissionBackpressure を返す (新しい列は入る)
func (v *VirtualDevice) EmitSequence(seq []event.RawEvent) error {
	seq = append([]event.RawEvent(nil), seq...)
	select {
	case v.queue <- seq:
		return nil
	default:
	}

	var err error
	select {
	case dropped := <-v.queue:
		err = fmt.Errorf("%w: dropped %d events", ErrEmissionBackpressure, len(dropped))
	default:
	}
	select {
	case v.queue <- seq:
	default:
		err = fmt.Errorf("%w: dropped %d events", ErrEmissionBackpressure, len(seq))
	}
	return err
}

// Run はキューの合成イベント列を順に書き込む。ctx が終わるまで戻らない
// 列どうしが混ざることはない
func (v *VirtualDevice) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case seq := <-v.queue:
			v.emitSequence(ctx, seq)
		}
	}
}

// emitSequence は列全体を mu を保持したまま書き込む
// gap がなければ1回の write にまとめる。途中で失敗したら残りは書かず、この列で押したキーを離す
func (v *VirtualDevice) emitSequence(ctx context.Context, seq []event.RawEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.gap <= 0 {
		if err := v.writeFrames(seq); err != nil {
			v.log.Warn().Err(err).Int("events", len(seq)).Msg("合成イベントの書き込みに失敗しました")
		}
		return
	}

	var pressed []evdev.EvCode
	for i, e := range seq {
		if i > 0 {
			select {
			case <-ctx.Done():
				v.undo(pressed)
				return
			case <-time.After(v.gap):
			}
		}
		if err := v.writeFrames(seq[i : i+1]); err != nil {
			v.log.Warn().Err(err).Stringer("event", e).Msg("合成イベントの書き込みに失敗したため、列を打ち切ります")
			v.undo(pressed)
			return
		}
		if e.Kind == event.Key {
			switch e.Value {
			case event.ValueDown:
				pressed = append(pressed, e.Code)
			case event.ValueUp:
				pressed = slices.DeleteFunc(pressed, func(c evdev.EvCode) bool { return c == e.Code })
			}
		}
	}
}

// undo は打ち切った列で押したままのキーを逆順に離す
func (v *VirtualDevice) undo(pressed []evdev.EvCode) {
	for i := len(pressed) - 1; i >= 0; i-- {
		if err := v.write(event.NewKey(pressed[i], event.ValueUp)); err != nil {
			v.log.Warn().Err(err).Uint16("code", uint16(pressed[i])).Msg("キーを離せませんでした")
		}
	}
}

// ReleaseHeld は仮想デバイスで押したままのキーをすべて離す
func (v *VirtualDevice) ReleaseHeld() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	codes := make([]evdev.EvCode, 0, len(v.held))
	for c := range v.held {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	var errs []error
	for _, c := range codes {
		if err := v.write(event.NewKey(c, event.ValueUp)); err != nil {
			errs = append(errs, err)
		}
	}
	v.held = make(map[evdev.EvCode]bool)
	return errors.Join(errs...)
}

// Held は押したままのキーを返す
func (v *VirtualDevice) Held() []evdev.EvCode {
	v.mu.Lock()
	defer v.mu.Unlock()
	codes := make([]evdev.EvCode, 0, len(v.held))
	for c := range v.held {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// ReadEvent は仮想デバイスへの要求 (EV_UINPUT, EV_FF, EV_LED) を1件読む
func (v *VirtualDevice) ReadEvent() (evdev.InputEvent, error) {
	var ev evdev.InputEvent
	if v.r == nil {
		return ev, io.EOF
	}
	err := binary.Read(v.r, binary.LittleEndian, &ev)
	return ev, err
}

// BeginUpload などは uinput のフォースフィードバック要求を処理する
func (v *VirtualDevice) BeginUpload(up *types.FFUpload) error {
	return v.ioctlPtr(consts.BeginFFUpload, unsafe.Pointer(up))
}

func (v *VirtualDevice) EndUpload(up *types.FFUpload) error {
	return v.ioctlPtr(consts.EndFFUpload, unsafe.Pointer(up))
}

func (v *VirtualDevice) BeginErase(er *types.FFErase) error {
	return v.ioctlPtr(consts.BeginFFErase, unsafe.Pointer(er))
}

func (v *VirtualDevice) EndErase(er *types.FFErase) error {
	return v.ioctlPtr(consts.EndFFErase, unsafe.Pointer(er))
}

func (v *VirtualDevice) ioctlPtr(req uint, arg unsafe.Pointer) error {
	if v.file == nil {
		return os.ErrInvalid
	}
	return utils.IOCtlPtr(v.file, req, arg)
}

// Close は押下中のキーを離してからデバイスを破棄する。何度呼んでもよい
func (v *VirtualDevice) Close() error {
	var err error
	v.closeOnce.Do(func() {
		_ = v.ReleaseHeld()
		if v.file == nil {
			return
		}
		_ = releaseDevice(v.file)
		err = v.file.Close()
	})
	return err
}

// write は mu を保持した状態で呼ぶ
func (v *VirtualDevice) write(e event.RawEvent) error {
	return v.writeFrames([]event.RawEvent{e})
}

// writeFrames は各イベントを SYN_REPORT つきで1回の write にまとめて書き込む
// 書き込めた場合だけ押下状態を更新する。mu を保持した状態で呼ぶ
func (v *VirtualDevice) writeFrames(seq []event.RawEvent) error {
	if len(seq) == 0 {
		return nil
	}
	if v.file != nil && v.timeout > 0 {
		_ = v.file.SetWriteDeadline(time.Now().Add(v.timeout))
	}
	evs := make([]evdev.InputEvent, 0, 2*len(seq))
	for _, e := range seq {
		evs = append(evs, e.Input(), evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT})
	}
	if err := writeRaw(v.w, evs); err != nil {
		return err
	}
	for _, e := range seq {
		if e.Kind != event.Key {
			continue
		}
		switch e.Value {
		case event.ValueDown:
			v.held[e.Code] = true
		case event.ValueUp:
			delete(v.held, e.Code)
		}
	}
	return nil
}

// デバイスファイルを作成する
func createDeviceFile(path string) (*os.File, error) {
	// フォースフィードバックの要求を読むため読み書き両用で開く
	deviceFile, err := os.OpenFile(path, syscall.O_RDWR|syscall.O_NONBLOCK, 0660)
	if err != nil {
		return nil, fmt.Errorf("%s を開くのに失敗しました: %w", path, err)
	}
	return deviceFile, nil
}

// デバイスを解放する
func releaseDevice(deviceFile *os.File) error {
	return utils.IOCtl(deviceFile, consts.DevDestroy, 0)
}

// デバイスを登録する
func registerDevice(deviceFile *os.File, evType uintptr) error {
	if err := utils.IOCtl(deviceFile, consts.SetEvBit, evType); err != nil {
		_ = deviceFile.Close()
		return fmt.Errorf("イベント種別 %d の登録に失敗しました: %v", evType, err)
	}
	return nil
}

// USBデバイスを作成する
func createUsbDevice(deviceFile *os.File, dev types.UserDev) (*os.File, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, dev); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("ユーザーデバイスバッファの書き込みに失敗しました: %v", err)
	}
	if _, err := deviceFile.Write(buf.Bytes()); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイス構造体をデバイスファイルに書き込むのに失敗しました: %v", err)
	}
	if err := utils.IOCtl(deviceFile, consts.DevCreate, 0); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("デバイスの作成に失敗しました: %v", err)
	}
	return deviceFile, nil
}

// イベントをそのまま1回の write で書き込む
func writeRaw(w io.Writer, events []evdev.InputEvent) error {
	buf := new(bytes.Buffer)
	for _, ev := range events {
		if err := binary.Write(buf, binary.LittleEndian, ev); err != nil {
			return fmt.Errorf("イベントをバッファに書き込むのに失敗しました: %v", err)
		}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("イベントの書き込みに失敗しました: %w", err)
	}
	return nil
}

// 名前をuinput用の固定長配列に変換する
func toUinputName(name []byte) (uinputName [consts.MaxNameSize]byte) {
	copy(uinputName[:], name)
	return uinputName
}
