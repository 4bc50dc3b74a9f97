package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/char5742/handycombo/internal/combo"
	"github.com/char5742/handycombo/internal/dispatch"
	"github.com/char5742/handycombo/internal/event"
	"github.com/char5742/handycombo/internal/power"
	"github.com/char5742/handycombo/internal/types"
	"github.com/holoplot/go-evdev"
)

// Table は検証済みの設定から組み立てた実行時の表
// 起動時に一度だけ作り、以降は読み取り専用
type Table struct {
	Combos       []combo.Definition
	Actions      map[string]dispatch.Action
	Capabilities types.Capabilities

	codes map[event.Kind]map[evdev.EvCode]struct{}
}

// Action は名前からアクションを引く
func (t *Table) Action(name string) (dispatch.Action, bool) {
	a, ok := t.Actions[name]
	return a, ok
}

// ActionNames はアクション名を昇順で返す
func (t *Table) ActionNames() []string {
	names := make([]string, 0, len(t.Actions))
	for n := range t.Actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Allows はイベントが仮想デバイスの機能一覧に含まれるかを返す
func (t *Table) Allows(e event.RawEvent) bool {
	_, ok := t.codes[e.Kind][e.Code]
	return ok
}

// Build は設定を検証し、実行時の表を作る
func (c *Config) Build() (*Table, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	caps := types.DefaultCapabilities()
	t := &Table{
		Actions:      make(map[string]dispatch.Action, len(c.Actions)),
		Capabilities: caps,
		codes:        make(map[event.Kind]map[evdev.EvCode]struct{}),
	}
	for _, typ := range []evdev.EvType{evdev.EV_KEY, evdev.EV_ABS, evdev.EV_MSC, evdev.EV_LED, evdev.EV_FF} {
		kind, _ := event.KindOf(typ)
		set := make(map[evdev.EvCode]struct{})
		for _, code := range caps.Codes(typ) {
			set[code] = struct{}{}
		}
		t.codes[kind] = set
	}

	for name, ac := range c.Actions {
		a, err := buildAction(name, ac, caps)
		if err != nil {
			return nil, err
		}
		t.Actions[name] = a
	}

	seen := make(map[string]bool, len(c.Combos))
	for _, cc := range c.Combos {
		if seen[cc.Name] {
			return nil, fmt.Errorf("%w: duplicated combo name %q", ErrInvalidConfig, cc.Name)
		}
		seen[cc.Name] = true

		def, err := buildCombo(cc, caps)
		if err != nil {
			return nil, err
		}
		if _, ok := t.Actions[def.Action]; !ok {
			return nil, fmt.Errorf("%w: combo %s: unknown action %q", ErrInvalidConfig, cc.Name, cc.Action)
		}
		t.Combos = append(t.Combos, def)
	}
	return t, nil
}

func (c *Config) validate() error {
	for name, d := range map[string]time.Duration{
		"device.detect_delay":     c.Device.DetectDelay,
		"device.max_detect_delay": c.Device.MaxDetectDelay,
		"device.ff_delay":         c.Device.FFDelay,
		"virtual.write_timeout":   c.Virtual.WriteTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.Device.MaxDetectDelay < c.Device.DetectDelay {
		return fmt.Errorf("%w: device.max_detect_delay is shorter than device.detect_delay", ErrInvalidConfig)
	}
	if c.Virtual.SequenceGap < 0 {
		return fmt.Errorf("%w: virtual.sequence_gap must not be negative", ErrInvalidConfig)
	}
	if c.Virtual.QueueSize < 1 {
		return fmt.Errorf("%w: virtual.queue_size must be positive", ErrInvalidConfig)
	}
	if c.Device.Path == "" && c.Device.Name == "" && c.Device.Vendor == 0 && c.Device.Product == 0 {
		return fmt.Errorf("%w: device needs a path, a name or vendor/product ids", ErrInvalidConfig)
	}
	if c.Device.Hide && c.Device.HideDir == "" {
		return fmt.Errorf("%w: device.hide_dir is empty", ErrInvalidConfig)
	}
	return nil
}

func buildCombo(cc ComboConfig, caps types.Capabilities) (combo.Definition, error) {
	class, err := combo.ParseClass(cc.Class)
	if err != nil {
		return combo.Definition{}, fmt.Errorf("%w: combo %s: %v", ErrInvalidConfig, cc.Name, err)
	}
	def := combo.Definition{Name: cc.Name, Class: class, Action: cc.Action}
	for _, s := range cc.Steps {
		typ, code, ok := caps.Lookup(s)
		if !ok {
			return combo.Definition{}, fmt.Errorf("%w: combo %s: unsupported code %s", ErrInvalidConfig, cc.Name, s)
		}
		kind, _ := event.KindOf(typ)
		def.Steps = append(def.Steps, combo.Step{Kind: kind, Code: code})
	}
	if err := def.Validate(); err != nil {
		return combo.Definition{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return def, nil
}

func buildAction(name string, ac ActionConfig, caps types.Capabilities) (dispatch.Action, error) {
	kind, err := dispatch.ParseKind(ac.Kind)
	if err != nil {
		return dispatch.Action{}, fmt.Errorf("%w: action %s: %v", ErrInvalidConfig, name, err)
	}
	a := dispatch.Action{Name: name, Kind: kind}

	switch kind {
	case dispatch.Emit:
		if len(ac.Keys) == 0 {
			return a, fmt.Errorf("%w: action %s: no keys to emit", ErrInvalidConfig, name)
		}
		codes := make([]evdev.EvCode, 0, len(ac.Keys))
		for _, k := range ac.Keys {
			typ, code, ok := caps.Lookup(k)
			if !ok || typ != evdev.EV_KEY {
				return a, fmt.Errorf("%w: action %s: %s is not an emittable key", ErrInvalidConfig, name, k)
			}
			codes = append(codes, code)
		}
		a.Sequence = dispatch.Chord(codes...)
	case dispatch.Power:
		if a.Power, err = power.ParseAction(ac.Power); err != nil {
			return a, fmt.Errorf("%w: action %s: %v", ErrInvalidConfig, name, err)
		}
	case dispatch.Toggle:
		if a.Toggle, err = dispatch.ParseSwitch(ac.Toggle); err != nil {
			return a, fmt.Errorf("%w: action %s: %v", ErrInvalidConfig, name, err)
		}
	case dispatch.Launch:
		if ac.Command == "" {
			return a, fmt.Errorf("%w: action %s: no command", ErrInvalidConfig, name)
		}
		a.Command = ac.Command
		a.Args = append([]string(nil), ac.Args...)
	}
	return a, nil
}
