package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/char5742/handycombo/internal/event"
	"github.com/char5742/handycombo/internal/power"
	"github.com/holoplot/go-evdev"
)

var (
	// ErrLaunchFailure は外部プログラムの起動に失敗したことを表す
	ErrLaunchFailure = errors.New("launch failure")
	// ErrUnknownAction はアクション表にない名前が指定されたことを表す
	ErrUnknownAction = errors.New("unknown action")
)

// Kind はアクションの種類
type Kind uint8

const (
	// Emit は仮想デバイスへ合成イベント列を送る
	Emit Kind = iota
	// Power は電源操作を要求する
	Power
	// Toggle は内部状態を切り替える
	Toggle
	// Launch は外部プログラムを起動する
	Launch
)

func (k Kind) String() string {
	switch k {
	case Emit:
		return "emit"
	case Power:
		return "power"
	case Toggle:
		return "toggle"
	case Launch:
		return "launch"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind は設定ファイルの文字列から Kind を求める
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "emit":
		return Emit, nil
	case "power":
		return Power, nil
	case "toggle":
		return Toggle, nil
	case "launch":
		return Launch, nil
	}
	return 0, fmt.Errorf("unknown action kind %q", s)
}

// Action はコンボ成立時に実行する処理
type Action struct {
	Name string
	Kind Kind

	Sequence []event.RawEvent // Emit
	Power    power.Action     // Power
	Toggle   Switch           // Toggle
	Command  string           // Launch
	Args     []string         // Launch
}

// Chord は同時押しの合成イベント列を作る
// 指定順に押し、逆順に離す
func Chord(codes ...evdev.EvCode) []event.RawEvent {
	seq := make([]event.RawEvent, 0, len(codes)*2)
	for _, c := range codes {
		seq = append(seq, event.NewKey(c, event.ValueDown))
	}
	for i := len(codes) - 1; i >= 0; i-- {
		seq = append(seq, event.NewKey(codes[i], event.ValueUp))
	}
	return seq
}

// Result はアクション実行の結果
type Result struct {
	Action string
	Kind   Kind
	// Async が true の場合、結果は後で Results に届く
	Async bool
	Err   error
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s(%s): %v", r.Action, r.Kind, r.Err)
	}
	return fmt.Sprintf("%s(%s): ok", r.Action, r.Kind)
}
