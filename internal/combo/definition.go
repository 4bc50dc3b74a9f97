package combo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/char5742/handycombo/internal/event"
	"github.com/holoplot/go-evdev"
)

// Class はコンボの種類
type Class uint8

const (
	// Instant は全メンバーが同時に押された瞬間に発火する
	Instant Class = iota
	// Queued は決められた順番で押されたときに発火する
	Queued
)

func (c Class) String() string {
	if c == Queued {
		return "queued"
	}
	return "instant"
}

// ParseClass は設定ファイルの文字列から Class を求める
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(s) {
	case "instant":
		return Instant, nil
	case "queued":
		return Queued, nil
	}
	return 0, fmt.Errorf("unknown combo class %q", s)
}

// Step はコンボを構成する1つの入力 (種類とコード)
type Step struct {
	Kind event.Kind
	Code evdev.EvCode
}

// Matches はイベントがこのステップを満たすかを返す
// キーは押下のみ、MSC は値を問わない
func (s Step) Matches(e event.RawEvent) bool {
	if s.Kind != e.Kind || s.Code != e.Code {
		return false
	}
	return e.Kind != event.Key || e.Value == event.ValueDown
}

func (s Step) String() string {
	return evdev.CodeName(s.Kind.Type(), s.Code)
}

// Definition はコンボの定義。名前で識別する
type Definition struct {
	Name   string
	Class  Class
	Steps  []Step
	Action string
}

// Validate は定義の整合性を検査する
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.New("combo without name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("combo %s: no steps", d.Name)
	}
	seen := make(map[Step]bool, len(d.Steps))
	for _, s := range d.Steps {
		switch s.Kind {
		case event.Key:
		case event.Misc:
			if d.Class == Instant {
				return fmt.Errorf("combo %s: instant combos only accept keys, got %s", d.Name, s)
			}
		default:
			return fmt.Errorf("combo %s: %s events cannot be part of a combo", d.Name, s.Kind)
		}
		if seen[s] {
			return fmt.Errorf("combo %s: duplicated step %s", d.Name, s)
		}
		seen[s] = true
	}
	return nil
}

// HasKey はキーコードがメンバーに含まれるかを返す
func (d *Definition) HasKey(code evdev.EvCode) bool {
	for _, s := range d.Steps {
		if s.Kind == event.Key && s.Code == code {
			return true
		}
	}
	return false
}

// Contains は other の全ステップがこのコンボに含まれるかを返す
func (d *Definition) Contains(other *Definition) bool {
	for _, o := range other.Steps {
		found := false
		for _, s := range d.Steps {
			if s == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (d *Definition) String() string {
	steps := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		steps = append(steps, s.String())
	}
	return fmt.Sprintf("%s(%s)[%s]", d.Name, d.Class, strings.Join(steps, " "))
}
