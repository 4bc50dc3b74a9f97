package types

import (
	"github.com/holoplot/go-evdev"
)

// NamedCode は設定ファイルで使うシンボル名とイベントコードの組
type NamedCode struct {
	Name string
	Code evdev.EvCode
}

// AbsAxis は仮想デバイスが公開する絶対軸の範囲
type AbsAxis struct {
	NamedCode
	Min  int32
	Max  int32
	Fuzz int32
	Flat int32
}

// Capabilities は仮想デバイスが送出できるイベントの一覧
// 起動時に一度だけ組み立て、以降は変更しない
type Capabilities struct {
	Keys []NamedCode
	Abs  []AbsAxis
	Misc []NamedCode
	LEDs []NamedCode
	FF   []NamedCode
}

// DefaultCapabilities は携帯ゲーム機のコントローラーとして公開する既定の機能一覧
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Keys: []NamedCode{
		{"KEY_ESC", evdev.KEY_ESC},
		{"KEY_1", evdev.KEY_1},
		{"KEY_2", evdev.KEY_2},
		{"KEY_3", evdev.KEY_3},
		{"KEY_4", evdev.KEY_4},
		{"KEY_5", evdev.KEY_5},
		{"KEY_6", evdev.KEY_6},
		{"KEY_7", evdev.KEY_7},
		{"KEY_8", evdev.KEY_8},
		{"KEY_9", evdev.KEY_9},
		{"KEY_0", evdev.KEY_0},
		{"KEY_MINUS", evdev.KEY_MINUS},
		{"KEY_EQUAL", evdev.KEY_EQUAL},
		{"KEY_BACKSPACE", evdev.KEY_BACKSPACE},
		{"KEY_TAB", evdev.KEY_TAB},
		{"KEY_Q", evdev.KEY_Q},
		{"KEY_W", evdev.KEY_W},
		{"KEY_E", evdev.KEY_E},
		{"KEY_R", evdev.KEY_R},
		{"KEY_T", evdev.KEY_T},
		{"KEY_Y", evdev.KEY_Y},
		{"KEY_U", evdev.KEY_U},
		{"KEY_I", evdev.KEY_I},
		{"KEY_O", evdev.KEY_O},
		{"KEY_P", evdev.KEY_P},
		{"KEY_LEFTBRACE", evdev.KEY_LEFTBRACE},
		{"KEY_RIGHTBRACE", evdev.KEY_RIGHTBRACE},
		{"KEY_ENTER", evdev.KEY_ENTER},
		{"KEY_LEFTCTRL", evdev.KEY_LEFTCTRL},
		{"KEY_A", evdev.KEY_A},
		{"KEY_S", evdev.KEY_S},
		{"KEY_D", evdev.KEY_D},
		{"KEY_F", evdev.KEY_F},
		{"KEY_G", evdev.KEY_G},
		{"KEY_H", evdev.KEY_H},
		{"KEY_J", evdev.KEY_J},
		{"KEY_K", evdev.KEY_K},
		{"KEY_L", evdev.KEY_L},
		{"KEY_SEMICOLON", evdev.KEY_SEMICOLON},
		{"KEY_APOSTROPHE", evdev.KEY_APOSTROPHE},
		{"KEY_GRAVE", evdev.KEY_GRAVE},
		{"KEY_LEFTSHIFT", evdev.KEY_LEFTSHIFT},
		{"KEY_BACKSLASH", evdev.KEY_BACKSLASH},
		{"KEY_Z", evdev.KEY_Z},
		{"KEY_X", evdev.KEY_X},
		{"KEY_C", evdev.KEY_C},
		{"KEY_V", evdev.KEY_V},
		{"KEY_B", evdev.KEY_B},
		{"KEY_N", evdev.KEY_N},
		{"KEY_M", evdev.KEY_M},
		{"KEY_COMMA", evdev.KEY_COMMA},
		{"KEY_DOT", evdev.KEY_DOT},
		{"KEY_SLASH", evdev.KEY_SLASH},
		{"KEY_RIGHTSHIFT", evdev.KEY_RIGHTSHIFT},
		{"KEY_KPASTERISK", evdev.KEY_KPASTERISK},
		{"KEY_LEFTALT", evdev.KEY_LEFTALT},
		{"KEY_SPACE", evdev.KEY_SPACE},
		{"KEY_CAPSLOCK", evdev.KEY_CAPSLOCK},
		{"KEY_F1", evdev.KEY_F1},
		{"KEY_F2", evdev.KEY_F2},
		{"KEY_F3", evdev.KEY_F3},
		{"KEY_F4", evdev.KEY_F4},
		{"KEY_F5", evdev.KEY_F5},
		{"KEY_F6", evdev.KEY_F6},
		{"KEY_F7", evdev.KEY_F7},
		{"KEY_F8", evdev.KEY_F8},
		{"KEY_F9", evdev.KEY_F9},
		{"KEY_F10", evdev.KEY_F10},
		{"KEY_NUMLOCK", evdev.KEY_NUMLOCK},
		{"KEY_SCROLLLOCK", evdev.KEY_SCROLLLOCK},
		{"KEY_KP7", evdev.KEY_KP7},
		{"KEY_KP8", evdev.KEY_KP8},
		{"KEY_KP9", evdev.KEY_KP9},
		{"KEY_KPMINUS", evdev.KEY_KPMINUS},
		{"KEY_KP4", evdev.KEY_KP4},
		{"KEY_KP5", evdev.KEY_KP5},
		{"KEY_KP6", evdev.KEY_KP6},
		{"KEY_KPPLUS", evdev.KEY_KPPLUS},
		{"KEY_KP1", evdev.KEY_KP1},
		{"KEY_KP2", evdev.KEY_KP2},
		{"KEY_KP3", evdev.KEY_KP3},
		{"KEY_KP0", evdev.KEY_KP0},
		{"KEY_KPDOT", evdev.KEY_KPDOT},
		{"KEY_ZENKAKUHANKAKU", evdev.KEY_ZENKAKUHANKAKU},
		{"KEY_102ND", evdev.KEY_102ND},
		{"KEY_F11", evdev.KEY_F11},
		{"KEY_F12", evdev.KEY_F12},
		{"KEY_RO", evdev.KEY_RO},
		{"KEY_KATAKANA", evdev.KEY_KATAKANA},
		{"KEY_HIRAGANA", evdev.KEY_HIRAGANA},
		{"KEY_HENKAN", evdev.KEY_HENKAN},
		{"KEY_KATAKANAHIRAGANA", evdev.KEY_KATAKANAHIRAGANA},
		{"KEY_MUHENKAN", evdev.KEY_MUHENKAN},
		{"KEY_KPJPCOMMA", evdev.KEY_KPJPCOMMA},
		{"KEY_KPENTER", evdev.KEY_KPENTER},
		{"KEY_RIGHTCTRL", evdev.KEY_RIGHTCTRL},
		{"KEY_KPSLASH", evdev.KEY_KPSLASH},
		{"KEY_SYSRQ", evdev.KEY_SYSRQ},
		{"KEY_RIGHTALT", evdev.KEY_RIGHTALT},
		{"KEY_HOME", evdev.KEY_HOME},
		{"KEY_UP", evdev.KEY_UP},
		{"KEY_PAGEUP", evdev.KEY_PAGEUP},
		{"KEY_LEFT", evdev.KEY_LEFT},
		{"KEY_RIGHT", evdev.KEY_RIGHT},
		{"KEY_END", evdev.KEY_END},
		{"KEY_DOWN", evdev.KEY_DOWN},
		{"KEY_PAGEDOWN", evdev.KEY_PAGEDOWN},
		{"KEY_INSERT", evdev.KEY_INSERT},
		{"KEY_DELETE", evdev.KEY_DELETE},
		{"KEY_MACRO", evdev.KEY_MACRO},
		{"KEY_MUTE", evdev.KEY_MUTE},
		{"KEY_VOLUMEDOWN", evdev.KEY_VOLUMEDOWN},
		{"KEY_VOLUMEUP", evdev.KEY_VOLUMEUP},
		{"KEY_POWER", evdev.KEY_POWER},
		{"KEY_KPEQUAL", evdev.KEY_KPEQUAL},
		{"KEY_KPPLUSMINUS", evdev.KEY_KPPLUSMINUS},
		{"KEY_PAUSE", evdev.KEY_PAUSE},
		{"KEY_KPCOMMA", evdev.KEY_KPCOMMA},
		{"KEY_HANGEUL", evdev.KEY_HANGEUL},
		{"KEY_HANJA", evdev.KEY_HANJA},
		{"KEY_YEN", evdev.KEY_YEN},
		{"KEY_LEFTMETA", evdev.KEY_LEFTMETA},
		{"KEY_RIGHTMETA", evdev.KEY_RIGHTMETA},
		{"KEY_COMPOSE", evdev.KEY_COMPOSE},
		{"KEY_STOP", evdev.KEY_STOP},
		{"KEY_CALC", evdev.KEY_CALC},
		{"KEY_SLEEP", evdev.KEY_SLEEP},
		{"KEY_WAKEUP", evdev.KEY_WAKEUP},
		{"KEY_MAIL", evdev.KEY_MAIL},
		{"KEY_BOOKMARKS", evdev.KEY_BOOKMARKS},
		{"KEY_COMPUTER", evdev.KEY_COMPUTER},
		{"KEY_BACK", evdev.KEY_BACK},
		{"KEY_FORWARD", evdev.KEY_FORWARD},
		{"KEY_NEXTSONG", evdev.KEY_NEXTSONG},
		{"KEY_PLAYPAUSE", evdev.KEY_PLAYPAUSE},
		{"KEY_PREVIOUSSONG", evdev.KEY_PREVIOUSSONG},
		{"KEY_STOPCD", evdev.KEY_STOPCD},
		{"KEY_HOMEPAGE", evdev.KEY_HOMEPAGE},
		{"KEY_REFRESH", evdev.KEY_REFRESH},
		{"KEY_F13", evdev.KEY_F13},
		{"KEY_F14", evdev.KEY_F14},
		{"KEY_F15", evdev.KEY_F15},
		{"KEY_SEARCH", evdev.KEY_SEARCH},
		{"KEY_MEDIA", evdev.KEY_MEDIA},
		{"BTN_SOUTH", evdev.BTN_SOUTH},
		{"BTN_EAST", evdev.BTN_EAST},
		{"BTN_NORTH", evdev.BTN_NORTH},
		{"BTN_WEST", evdev.BTN_WEST},
		{"BTN_TL", evdev.BTN_TL},
		{"BTN_TR", evdev.BTN_TR},
		{"BTN_SELECT", evdev.BTN_SELECT},
		{"BTN_START", evdev.BTN_START},
		{"BTN_MODE", evdev.BTN_MODE},
		{"BTN_THUMBL", evdev.BTN_THUMBL},
		{"BTN_THUMBR", evdev.BTN_THUMBR},
		},
		Abs: []AbsAxis{
			{NamedCode{"ABS_X", evdev.ABS_X}, -32768, 32767, 16, 128},
			{NamedCode{"ABS_Y", evdev.ABS_Y}, -32768, 32767, 16, 128},
			{NamedCode{"ABS_Z", evdev.ABS_Z}, 0, 255, 0, 0},
			{NamedCode{"ABS_RX", evdev.ABS_RX}, -32768, 32767, 16, 128},
			{NamedCode{"ABS_RY", evdev.ABS_RY}, -32768, 32767, 16, 128},
			{NamedCode{"ABS_RZ", evdev.ABS_RZ}, 0, 255, 0, 0},
			{NamedCode{"ABS_HAT0X", evdev.ABS_HAT0X}, -1, 1, 0, 0},
			{NamedCode{"ABS_HAT0Y", evdev.ABS_HAT0Y}, -1, 1, 0, 0},
		},
		Misc: []NamedCode{
			{"MSC_SCAN", evdev.MSC_SCAN},
		},
		LEDs: []NamedCode{
			{"LED_NUML", evdev.LED_NUML},
			{"LED_CAPSL", evdev.LED_CAPSL},
			{"LED_SCROLLL", evdev.LED_SCROLLL},
		},
		FF: []NamedCode{
			{"FF_RUMBLE", evdev.FF_RUMBLE},
			{"FF_PERIODIC", evdev.FF_PERIODIC},
			{"FF_SQUARE", evdev.FF_SQUARE},
			{"FF_TRIANGLE", evdev.FF_TRIANGLE},
			{"FF_SINE", evdev.FF_SINE},
			{"FF_GAIN", evdev.FF_GAIN},
		},
	}
}

// Codes は種類ごとのコード一覧を返す
func (c Capabilities) Codes(t evdev.EvType) []evdev.EvCode {
	var named []NamedCode
	switch t {
	case evdev.EV_KEY:
		named = c.Keys
	case evdev.EV_ABS:
		codes := make([]evdev.EvCode, 0, len(c.Abs))
		for _, a := range c.Abs {
			codes = append(codes, a.Code)
		}
		return codes
	case evdev.EV_MSC:
		named = c.Misc
	case evdev.EV_LED:
		named = c.LEDs
	case evdev.EV_FF:
		named = c.FF
	}
	codes := make([]evdev.EvCode, 0, len(named))
	for _, n := range named {
		codes = append(codes, n.Code)
	}
	return codes
}

// Has はコードが機能一覧に含まれるかを返す
func (c Capabilities) Has(t evdev.EvType, code evdev.EvCode) bool {
	for _, v := range c.Codes(t) {
		if v == code {
			return true
		}
	}
	return false
}

// Lookup はシンボル名 (KEY_ESC, BTN_MODE, MSC_SCAN ...) から種類とコードを引く
func (c Capabilities) Lookup(name string) (evdev.EvType, evdev.EvCode, bool) {
	for _, group := range []struct {
		t     evdev.EvType
		codes []NamedCode
	}{
		{evdev.EV_KEY, c.Keys},
		{evdev.EV_MSC, c.Misc},
		{evdev.EV_LED, c.LEDs},
		{evdev.EV_FF, c.FF},
	} {
		for _, n := range group.codes {
			if n.Name == name {
				return group.t, n.Code, true
			}
		}
	}
	for _, a := range c.Abs {
		if a.Name == name {
			return evdev.EV_ABS, a.Code, true
		}
	}
	return 0, 0, false
}

// Axis は絶対軸の定義を返す
func (c Capabilities) Axis(code evdev.EvCode) (AbsAxis, bool) {
	for _, a := range c.Abs {
		if a.Code == code {
			return a, true
		}
	}
	return AbsAxis{}, false
}
