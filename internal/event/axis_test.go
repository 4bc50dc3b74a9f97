package event

import (
	"testing"

	"github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
)

func TestScale(t *testing.T) {
	stick := AxisRange{Min: -32768, Max: 32767}
	trigger := AxisRange{Min: 0, Max: 255}

	tests := []struct {
		name     string
		v        int32
		from, to AxisRange
		want     int32
	}{
		{"min", 0, AxisRange{0, 1023}, trigger, 0},
		{"max", 1023, AxisRange{0, 1023}, trigger, 255},
		{"mid", 512, AxisRange{0, 1024}, trigger, 128},
		{"below", -5, AxisRange{0, 1023}, trigger, 0},
		{"above", 5000, AxisRange{0, 1023}, trigger, 255},
		{"stick centre", 128, AxisRange{0, 256}, stick, 0},
		{"stick low", 0, AxisRange{0, 255}, stick, -32768},
		{"stick high", 255, AxisRange{0, 255}, stick, 32767},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Scale(tt.v, tt.from, tt.to))
		})
	}
}

func TestAxisMapRescale(t *testing.T) {
	m := AxisMap{}
	m.Set(evdev.ABS_Z, AxisRange{0, 1023}, AxisRange{0, 255})
	m.Set(evdev.ABS_X, AxisRange{-32768, 32767}, AxisRange{-32768, 32767})

	got := m.Rescale(RawEvent{Kind: Abs, Code: evdev.ABS_Z, Value: 1023})
	assert.Equal(t, int32(255), got.Value)

	// 同じ範囲の軸は変換しない
	got = m.Rescale(RawEvent{Kind: Abs, Code: evdev.ABS_X, Value: 1234})
	assert.Equal(t, int32(1234), got.Value)

	key := NewKey(evdev.KEY_A, ValueDown)
	assert.Equal(t, key, m.Rescale(key))
}

func TestFromInput(t *testing.T) {
	ev, err := FromInput(evdev.InputEvent{Type: evdev.EV_KEY, Code: evdev.BTN_MODE, Value: 1})
	assert.NoError(t, err)
	assert.Equal(t, Key, ev.Kind)
	assert.True(t, ev.IsDown())

	_, err = FromInput(evdev.InputEvent{Type: evdev.EV_REL, Code: evdev.REL_X, Value: 3})
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
