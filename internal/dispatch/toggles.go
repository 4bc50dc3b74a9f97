package dispatch

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Switch は切り替え可能な内部状態の種類
type Switch uint8

const (
	Gyro Switch = iota
	MouseMode
	Performance
)

func (s Switch) String() string {
	switch s {
	case Gyro:
		return "gyro"
	case MouseMode:
		return "mouse"
	case Performance:
		return "performance"
	}
	return fmt.Sprintf("switch(%d)", uint8(s))
}

// ParseSwitch は設定ファイルや API の文字列から Switch を求める
func ParseSwitch(s string) (Switch, error) {
	switch strings.ToLower(s) {
	case "gyro":
		return Gyro, nil
	case "mouse", "mouse_mode":
		return MouseMode, nil
	case "performance", "perf":
		return Performance, nil
	}
	return 0, fmt.Errorf("unknown toggle %q", s)
}

// ToggleState は Toggles のスナップショット
type ToggleState struct {
	Gyro        bool `json:"gyro"`
	MouseMode   bool `json:"mouse"`
	Performance int  `json:"performance"`
}

// Toggles はアクションで切り替わるプロセス内の状態
// 複数のゴルーチンから読んでよい
type Toggles struct {
	gyro     atomic.Bool
	mouse    atomic.Bool
	perf     atomic.Int32
	profiles int32
}

// NewToggles は性能プロファイル数を指定して Toggles を作る
func NewToggles(profiles int) *Toggles {
	if profiles < 1 {
		profiles = 1
	}
	return &Toggles{profiles: int32(profiles)}
}

// Flip は状態を切り替え、切り替え後の状態を返す
// Performance は次のプロファイルへ進む
func (t *Toggles) Flip(s Switch) ToggleState {
	switch s {
	case Gyro:
		flip(&t.gyro)
	case MouseMode:
		flip(&t.mouse)
	case Performance:
		for {
			cur := t.perf.Load()
			if t.perf.CompareAndSwap(cur, (cur+1)%t.profiles) {
				break
			}
		}
	}
	return t.Snapshot()
}

func (t *Toggles) Snapshot() ToggleState {
	return ToggleState{
		Gyro:        t.gyro.Load(),
		MouseMode:   t.mouse.Load(),
		Performance: int(t.perf.Load()),
	}
}

func flip(b *atomic.Bool) {
	for {
		cur := b.Load()
		if b.CompareAndSwap(cur, !cur) {
			return
		}
	}
}
