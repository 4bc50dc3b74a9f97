package event

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/holoplot/go-evdev"
)

// ErrMalformedEvent は扱えない種類やコードのイベント
var ErrMalformedEvent = errors.New("malformed input event")

// キー値 (input-event-codes.h)
const (
	ValueUp     = 0
	ValueDown   = 1
	ValueRepeat = 2
)

// Kind はイベントの種類
type Kind uint8

const (
	Key Kind = iota
	Abs
	Misc
	LED
	FF
)

func (k Kind) String() string {
	switch k {
	case Key:
		return "key"
	case Abs:
		return "abs"
	case Misc:
		return "misc"
	case LED:
		return "led"
	case FF:
		return "ff"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type は evdev のイベントタイプへ変換する
func (k Kind) Type() evdev.EvType {
	switch k {
	case Key:
		return evdev.EV_KEY
	case Abs:
		return evdev.EV_ABS
	case Misc:
		return evdev.EV_MSC
	case LED:
		return evdev.EV_LED
	case FF:
		return evdev.EV_FF
	}
	panic(fmt.Sprintf("unknown event kind %d", uint8(k)))
}

// KindOf は evdev のイベントタイプから種類を求める
func KindOf(t evdev.EvType) (Kind, bool) {
	switch t {
	case evdev.EV_KEY:
		return Key, true
	case evdev.EV_ABS:
		return Abs, true
	case evdev.EV_MSC:
		return Misc, true
	case evdev.EV_LED:
		return LED, true
	case evdev.EV_FF:
		return FF, true
	}
	return 0, false
}

// RawEvent は物理デバイスから読んだ1件の入力イベント
// 値型として扱い、生成後は変更しない
type RawEvent struct {
	Kind  Kind
	Code  evdev.EvCode
	Value int32
	Time  time.Time
}

// FromInput は evdev.InputEvent を RawEvent に変換する
// EV_SYN はここでは扱わない
func FromInput(ev evdev.InputEvent) (RawEvent, error) {
	kind, ok := KindOf(ev.Type)
	if !ok {
		return RawEvent{}, fmt.Errorf("%w: type=%d code=%d", ErrMalformedEvent, ev.Type, ev.Code)
	}
	return RawEvent{
		Kind:  kind,
		Code:  ev.Code,
		Value: ev.Value,
		Time:  time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*1000),
	}, nil
}

// Input は書き込み用の evdev.InputEvent を返す
func (e RawEvent) Input() evdev.InputEvent {
	var tv syscall.Timeval
	if !e.Time.IsZero() {
		tv = syscall.NsecToTimeval(e.Time.UnixNano())
	}
	return evdev.InputEvent{Time: tv, Type: e.Kind.Type(), Code: e.Code, Value: e.Value}
}

// IsDown はキー押下 (リピートを除く) かどうか
func (e RawEvent) IsDown() bool { return e.Kind == Key && e.Value == ValueDown }

// IsUp はキー解放かどうか
func (e RawEvent) IsUp() bool { return e.Kind == Key && e.Value == ValueUp }

// IsRepeat はキーリピートかどうか
func (e RawEvent) IsRepeat() bool { return e.Kind == Key && e.Value == ValueRepeat }

func (e RawEvent) String() string {
	return fmt.Sprintf("%s %s=%d", e.Kind, evdev.CodeName(e.Kind.Type(), e.Code), e.Value)
}

// NewKey はキーイベントを作る
func NewKey(code evdev.EvCode, value int32) RawEvent {
	return RawEvent{Kind: Key, Code: code, Value: value}
}
