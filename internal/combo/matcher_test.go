package combo

import (
	"testing"

	"github.com/char5742/handycombo/internal/event"
	"github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(codes ...evdev.EvCode) []Step {
	steps := make([]Step, 0, len(codes))
	for _, c := range codes {
		steps = append(steps, Step{Kind: event.Key, Code: c})
	}
	return steps
}

func down(c evdev.EvCode) event.RawEvent   { return event.NewKey(c, event.ValueDown) }
func up(c evdev.EvCode) event.RawEvent     { return event.NewKey(c, event.ValueUp) }
func repeat(c evdev.EvCode) event.RawEvent { return event.NewKey(c, event.ValueRepeat) }
func scan() event.RawEvent {
	return event.RawEvent{Kind: event.Misc, Code: evdev.MSC_SCAN, Value: 0x70029}
}

type recorder struct {
	fired     []string
	forwarded []event.RawEvent
	outputs   []Output
}

func feed(t *testing.T, m *Matcher, events ...event.RawEvent) *recorder {
	t.Helper()
	r := &recorder{}
	for _, e := range events {
		for _, o := range m.Feed(e) {
			r.outputs = append(r.outputs, o)
			switch o.Kind {
			case Fire:
				r.fired = append(r.fired, o.Combo.Name)
			case Forward:
				r.forwarded = append(r.forwarded, o.Event)
			}
		}
	}
	return r
}

func newMatcher(t *testing.T, defs ...Definition) *Matcher {
	t.Helper()
	m, err := NewMatcher(defs)
	require.NoError(t, err)
	return m
}

var (
	qamInstant = Definition{Name: "QAM", Class: Instant, Steps: keys(evdev.BTN_MODE, evdev.BTN_SOUTH), Action: "QAM"}
	kill       = Definition{Name: "KILL", Class: Queued, Steps: keys(evdev.KEY_LEFTMETA, evdev.KEY_LEFTCTRL, evdev.KEY_ESC), Action: "KILL"}
	oskDE      = Definition{Name: "OSK_DE", Class: Queued, Steps: keys(evdev.KEY_LEFTMETA, evdev.KEY_LEFTCTRL, evdev.KEY_O), Action: "OSK_DE"}
	mode       = Definition{Name: "MODE", Class: Instant, Steps: keys(evdev.BTN_MODE), Action: "MODE"}
	esc        = Definition{Name: "ESC", Class: Queued, Steps: []Step{{event.Misc, evdev.MSC_SCAN}, {event.Key, evdev.KEY_ESC}}, Action: "ESC"}
)

func TestInstantFiresOncePerEdge(t *testing.T) {
	m := newMatcher(t, qamInstant)

	r := feed(t, m, down(evdev.BTN_MODE), down(evdev.BTN_SOUTH))
	assert.Equal(t, []string{"QAM"}, r.fired)
	assert.Empty(t, r.forwarded)

	// 押しっぱなしでは再発火しない
	r = feed(t, m, repeat(evdev.BTN_MODE), repeat(evdev.BTN_SOUTH), repeat(evdev.BTN_SOUTH))
	assert.Empty(t, r.fired)
	assert.Empty(t, r.forwarded)

	// 離して押し直すと1回だけ発火する
	r = feed(t, m, up(evdev.BTN_SOUTH), down(evdev.BTN_SOUTH))
	assert.Equal(t, []string{"QAM"}, r.fired)
	assert.Empty(t, r.forwarded)

	r = feed(t, m, up(evdev.BTN_SOUTH), up(evdev.BTN_MODE))
	assert.Empty(t, r.fired)
	assert.Empty(t, r.forwarded)
}

func TestInstantAnyMemberEdge(t *testing.T) {
	m := newMatcher(t, qamInstant)
	feed(t, m, down(evdev.BTN_MODE), down(evdev.BTN_SOUTH))

	for i := 0; i < 3; i++ {
		r := feed(t, m, up(evdev.BTN_MODE), down(evdev.BTN_MODE))
		assert.Equal(t, []string{"QAM"}, r.fired)
	}
}

func TestInstantLeaderAloneIsFlushed(t *testing.T) {
	m := newMatcher(t, qamInstant)

	r := feed(t, m, down(evdev.BTN_MODE))
	assert.Empty(t, r.forwarded)
	assert.Equal(t, 1, m.Pending())

	r = feed(t, m, up(evdev.BTN_MODE))
	assert.Empty(t, r.fired)
	assert.Equal(t, []event.RawEvent{down(evdev.BTN_MODE), up(evdev.BTN_MODE)}, r.forwarded)
	assert.Zero(t, m.Pending())
}

func TestInstantInterleavedKeyFlushes(t *testing.T) {
	m := newMatcher(t, qamInstant)

	r := feed(t, m, down(evdev.BTN_MODE), down(evdev.BTN_EAST))
	assert.Empty(t, r.fired)
	assert.Equal(t, []event.RawEvent{down(evdev.BTN_MODE), down(evdev.BTN_EAST)}, r.forwarded)

	// 同時押しになった時点で発火する
	r = feed(t, m, down(evdev.BTN_SOUTH))
	assert.Equal(t, []string{"QAM"}, r.fired)

	// 先に流れた MODE の解放はそのまま流れる
	r = feed(t, m, up(evdev.BTN_MODE), up(evdev.BTN_SOUTH))
	assert.Equal(t, []event.RawEvent{up(evdev.BTN_MODE)}, r.forwarded)
}

func TestQueuedExactOrderFiresOnce(t *testing.T) {
	m := newMatcher(t, kill)

	r := feed(t, m,
		down(evdev.KEY_LEFTMETA), down(evdev.KEY_LEFTCTRL), down(evdev.KEY_ESC),
		up(evdev.KEY_ESC), up(evdev.KEY_LEFTCTRL), up(evdev.KEY_LEFTMETA),
	)
	assert.Equal(t, []string{"KILL"}, r.fired)
	assert.Empty(t, r.forwarded)
}

func TestQueuedWrongOrderDoesNotFire(t *testing.T) {
	m := newMatcher(t, kill)

	seq := []event.RawEvent{
		down(evdev.KEY_LEFTCTRL), down(evdev.KEY_LEFTMETA), down(evdev.KEY_ESC),
		up(evdev.KEY_ESC), up(evdev.KEY_LEFTMETA), up(evdev.KEY_LEFTCTRL),
	}
	r := feed(t, m, seq...)
	assert.Empty(t, r.fired)
	// 成立しなかった入力はすべて元の順番で流れる
	assert.Equal(t, seq, r.forwarded)
}

func TestQueuedOutOfOrderResetsProgress(t *testing.T) {
	m := newMatcher(t, kill)

	r := feed(t, m, down(evdev.KEY_LEFTMETA), down(evdev.KEY_A))
	assert.Empty(t, r.fired)
	assert.Equal(t, []event.RawEvent{down(evdev.KEY_LEFTMETA), down(evdev.KEY_A)}, r.forwarded)

	// 途中から続けても成立しない
	r = feed(t, m, down(evdev.KEY_LEFTCTRL), down(evdev.KEY_ESC))
	assert.Empty(t, r.fired)
}

func TestQueuedReleaseBreaksProgress(t *testing.T) {
	m := newMatcher(t, kill)

	r := feed(t, m, down(evdev.KEY_LEFTMETA), up(evdev.KEY_LEFTMETA), down(evdev.KEY_LEFTCTRL), down(evdev.KEY_ESC))
	assert.Empty(t, r.fired)
	assert.Equal(t, []event.RawEvent{
		down(evdev.KEY_LEFTMETA), up(evdev.KEY_LEFTMETA), down(evdev.KEY_LEFTCTRL), down(evdev.KEY_ESC),
	}, r.forwarded)
}

func TestQueuedSharedPrefix(t *testing.T) {
	m := newMatcher(t, kill, oskDE)

	r := feed(t, m, down(evdev.KEY_LEFTMETA), down(evdev.KEY_LEFTCTRL), down(evdev.KEY_O))
	assert.Equal(t, []string{"OSK_DE"}, r.fired)

	feed(t, m, up(evdev.KEY_O), up(evdev.KEY_LEFTCTRL), up(evdev.KEY_LEFTMETA))
	r = feed(t, m, down(evdev.KEY_LEFTMETA), down(evdev.KEY_LEFTCTRL), down(evdev.KEY_ESC))
	assert.Equal(t, []string{"KILL"}, r.fired)
}

func TestQueuedMiscStep(t *testing.T) {
	m := newMatcher(t, esc, kill)

	r := feed(t, m, scan(), down(evdev.KEY_ESC), scan(), up(evdev.KEY_ESC))
	assert.Equal(t, []string{"ESC"}, r.fired)
	// 解放前の MSC_SCAN だけが流れる
	assert.Equal(t, []event.RawEvent{scan()}, r.forwarded)

	// キーボードは押下ごとに MSC_SCAN を送るが、進行中のコンボを壊さない
	r = feed(t, m,
		scan(), down(evdev.KEY_LEFTMETA),
		scan(), down(evdev.KEY_LEFTCTRL),
		scan(), down(evdev.KEY_ESC),
	)
	assert.Equal(t, []string{"KILL"}, r.fired)

	// 別のキーなら MSC_SCAN ごと流れる
	m.Reset()
	r = feed(t, m, scan(), down(evdev.KEY_A))
	assert.Empty(t, r.fired)
	assert.Equal(t, []event.RawEvent{scan(), down(evdev.KEY_A)}, r.forwarded)

	r = feed(t, m, scan(), up(evdev.KEY_A))
	assert.Equal(t, []event.RawEvent{scan(), up(evdev.KEY_A)}, r.forwarded)
}

func TestLongestMatchWins(t *testing.T) {
	m := newMatcher(t, mode, qamInstant)

	r := feed(t, m, down(evdev.BTN_MODE))
	assert.Empty(t, r.fired)

	r = feed(t, m, down(evdev.BTN_SOUTH))
	assert.Equal(t, []string{"QAM"}, r.fired)

	r = feed(t, m, up(evdev.BTN_SOUTH), up(evdev.BTN_MODE))
	assert.Empty(t, r.fired)
	assert.Empty(t, r.forwarded)
}

func TestShorterComboFiresWhenLongerBreaks(t *testing.T) {
	m := newMatcher(t, mode, qamInstant)

	// 単押しは解放時に発火する
	r := feed(t, m, down(evdev.BTN_MODE), up(evdev.BTN_MODE))
	assert.Equal(t, []string{"MODE"}, r.fired)
	assert.Empty(t, r.forwarded)

	// 別のボタンで途切れた場合はそのボタンより先に発火する
	r = feed(t, m, down(evdev.BTN_MODE), down(evdev.BTN_EAST))
	require.Len(t, r.outputs, 2)
	assert.Equal(t, Fire, r.outputs[0].Kind)
	assert.Equal(t, "MODE", r.outputs[0].Combo.Name)
	assert.Equal(t, down(evdev.BTN_EAST), r.outputs[1].Event)

	r = feed(t, m, up(evdev.BTN_EAST), up(evdev.BTN_MODE))
	assert.Equal(t, []event.RawEvent{up(evdev.BTN_EAST)}, r.forwarded)

	// 解放後はもう一度単押しで発火できる
	r = feed(t, m, down(evdev.BTN_MODE), up(evdev.BTN_MODE))
	assert.Equal(t, []string{"MODE"}, r.fired)
}

func TestTieBreakUsesDeclarationOrder(t *testing.T) {
	first := Definition{Name: "FIRST", Class: Instant, Steps: keys(evdev.BTN_TL, evdev.BTN_TR)}
	second := Definition{Name: "SECOND", Class: Instant, Steps: keys(evdev.BTN_TR, evdev.BTN_TL)}
	m := newMatcher(t, first, second)

	r := feed(t, m, down(evdev.BTN_TL), down(evdev.BTN_TR))
	assert.Equal(t, []string{"FIRST"}, r.fired)
}

func TestPassThrough(t *testing.T) {
	m := newMatcher(t, kill, qamInstant, esc)

	seq := []event.RawEvent{
		down(evdev.KEY_A),
		{Kind: event.Abs, Code: evdev.ABS_X, Value: 1200},
		repeat(evdev.KEY_A),
		up(evdev.KEY_A),
		{Kind: event.Abs, Code: evdev.ABS_HAT0Y, Value: -1},
		down(evdev.BTN_EAST),
		{Kind: event.LED, Code: evdev.LED_CAPSL, Value: 1},
		up(evdev.BTN_EAST),
	}
	r := feed(t, m, seq...)
	assert.Empty(t, r.fired)
	assert.Equal(t, seq, r.forwarded)
}

func TestAnalogPassesWhileComboPending(t *testing.T) {
	m := newMatcher(t, kill)

	axis := event.RawEvent{Kind: event.Abs, Code: evdev.ABS_RX, Value: -400}
	r := feed(t, m, down(evdev.KEY_LEFTMETA), axis)
	assert.Equal(t, []event.RawEvent{axis}, r.forwarded)
}

func TestResetDropsPartialSequence(t *testing.T) {
	m := newMatcher(t, kill)

	r := feed(t, m, down(evdev.KEY_LEFTMETA), down(evdev.KEY_LEFTCTRL))
	assert.Empty(t, r.fired)

	// 切断
	m.Reset()
	m.Reset()
	assert.Zero(t, m.Pending())

	r = feed(t, m, down(evdev.KEY_ESC))
	assert.Empty(t, r.fired)
	assert.Equal(t, []event.RawEvent{down(evdev.KEY_ESC)}, r.forwarded)

	r = feed(t, m, down(evdev.KEY_LEFTCTRL), down(evdev.KEY_ESC))
	assert.Empty(t, r.fired)
}

func TestNewMatcherValidates(t *testing.T) {
	_, err := NewMatcher([]Definition{{Name: "EMPTY", Class: Queued}})
	assert.Error(t, err)

	_, err = NewMatcher([]Definition{{Name: "AXIS", Class: Queued, Steps: []Step{{event.Abs, evdev.ABS_X}}}})
	assert.Error(t, err)

	_, err = NewMatcher([]Definition{{Name: "SCAN", Class: Instant, Steps: []Step{{event.Misc, evdev.MSC_SCAN}}}})
	assert.Error(t, err)
}
