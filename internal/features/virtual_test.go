package features

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/char5742/handycombo/internal/event"
	"github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// recordWriter は write 1回ごとの中身を記録する。failOn 回目の write は失敗する
type recordWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	calls  int
	failOn int
	delay  time.Duration
}

var errWrite = errors.New("write failed")

func (w *recordWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.calls++
	fail := w.calls == w.failOn
	if !fail {
		w.buf.Write(p)
	}
	w.mu.Unlock()
	time.Sleep(w.delay)
	if fail {
		return 0, errWrite
	}
	return len(p), nil
}

func (w *recordWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

func (w *recordWriter) writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func decode(t *testing.T, b []byte) []evdev.InputEvent {
	t.Helper()
	var evs []evdev.InputEvent
	r := bytes.NewReader(b)
	for r.Len() > 0 {
		var ev evdev.InputEvent
		require.NoError(t, binary.Read(r, binary.LittleEndian, &ev))
		evs = append(evs, ev)
	}
	return evs
}

func syn() evdev.InputEvent {
	return evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT}
}

// written は書き込まれたイベントを SYN_REPORT を除いて返す
func written(t *testing.T, b interface{ Bytes() []byte }) []evdev.InputEvent {
	t.Helper()
	var evs []evdev.InputEvent
	for _, ev := range decode(t, b.Bytes()) {
		if ev.Type == evdev.EV_SYN {
			continue
		}
		ev.Time.Sec, ev.Time.Usec = 0, 0
		evs = append(evs, ev)
	}
	return evs
}

func key(code evdev.EvCode, value int32) evdev.InputEvent {
	return evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: value}
}

func newTestVirtual(queue int) (*VirtualDevice, *syncBuffer) {
	log := zerolog.Nop()
	buf := &syncBuffer{}
	return newVirtualDevice(buf, nil, VirtualOptions{QueueSize: queue}, &log), buf
}

func TestVirtualEmit(t *testing.T) {
	v, buf := newTestVirtual(4)

	require.NoError(t, v.Emit(event.NewKey(evdev.BTN_SOUTH, event.ValueDown)))
	require.NoError(t, v.Emit(event.RawEvent{Kind: event.Abs, Code: evdev.ABS_X, Value: 99}))

	evs := decode(t, buf.Bytes())
	require.Len(t, evs, 4)
	assert.Equal(t, evdev.EvType(evdev.EV_KEY), evs[0].Type)
	assert.Equal(t, syn(), evs[1])
	assert.Equal(t, evdev.EvType(evdev.EV_ABS), evs[2].Type)
	assert.Equal(t, int32(99), evs[2].Value)
	assert.Equal(t, []evdev.EvCode{evdev.BTN_SOUTH}, v.Held())
}

func TestVirtualSequenceOrder(t *testing.T) {
	v, buf := newTestVirtual(4)

	require.NoError(t, v.EmitSequence([]event.RawEvent{
		event.NewKey(evdev.BTN_MODE, event.ValueDown),
		event.NewKey(evdev.BTN_SOUTH, event.ValueDown),
		event.NewKey(evdev.BTN_SOUTH, event.ValueUp),
		event.NewKey(evdev.BTN_MODE, event.ValueUp),
	}))
	require.NoError(t, v.EmitSequence([]event.RawEvent{
		event.NewKey(evdev.KEY_ESC, event.ValueDown),
		event.NewKey(evdev.KEY_ESC, event.ValueUp),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(written(t, buf)) == 6 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []evdev.InputEvent{
		key(evdev.BTN_MODE, 1),
		key(evdev.BTN_SOUTH, 1),
		key(evdev.BTN_SOUTH, 0),
		key(evdev.BTN_MODE, 0),
		key(evdev.KEY_ESC, 1),
		key(evdev.KEY_ESC, 0),
	}, written(t, buf))
	assert.Empty(t, v.Held())
}

func altTab() []event.RawEvent {
	return []event.RawEvent{
		event.NewKey(evdev.KEY_LEFTALT, event.ValueDown),
		event.NewKey(evdev.KEY_TAB, event.ValueDown),
		event.NewKey(evdev.KEY_TAB, event.ValueUp),
		event.NewKey(evdev.KEY_LEFTALT, event.ValueUp),
	}
}

func TestVirtualSequenceSingleWrite(t *testing.T) {
	log := zerolog.Nop()
	w := &recordWriter{}
	v := newVirtualDevice(w, nil, VirtualOptions{QueueSize: 4}, &log)

	require.NoError(t, v.EmitSequence(altTab()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx)

	assert.Eventually(t, func() bool { return len(written(t, w)) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, w.writes())
	evs := decode(t, w.Bytes())
	require.Len(t, evs, 8)
	for i := 1; i < len(evs); i += 2 {
		assert.Equal(t, syn(), evs[i])
	}
}

func TestVirtualSequenceNotInterleaved(t *testing.T) {
	log := zerolog.Nop()
	w := &recordWriter{delay: 2 * time.Millisecond}
	v := newVirtualDevice(w, nil, VirtualOptions{QueueSize: 4, SequenceGap: 3 * time.Millisecond}, &log)

	require.NoError(t, v.EmitSequence(altTab()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx)

	// 列の書き込みが始まってから通過イベントを送る
	require.Eventually(t, func() bool { return w.writes() > 0 }, time.Second, time.Millisecond)
	require.NoError(t, v.Emit(event.NewKey(evdev.KEY_A, event.ValueDown)))

	assert.Equal(t, []evdev.InputEvent{
		key(evdev.KEY_LEFTALT, 1),
		key(evdev.KEY_TAB, 1),
		key(evdev.KEY_TAB, 0),
		key(evdev.KEY_LEFTALT, 0),
		key(evdev.KEY_A, 1),
	}, written(t, w))
}

func TestVirtualSequenceAbortReleasesKeys(t *testing.T) {
	log := zerolog.Nop()
	w := &recordWriter{failOn: 2}
	v := newVirtualDevice(w, nil, VirtualOptions{QueueSize: 4, SequenceGap: time.Millisecond}, &log)

	require.NoError(t, v.EmitSequence(altTab()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx)

	// TAB の押下で失敗したら残りは書かず、押した ALT だけを離す
	assert.Eventually(t, func() bool { return len(written(t, w)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []evdev.InputEvent{
		key(evdev.KEY_LEFTALT, 1),
		key(evdev.KEY_LEFTALT, 0),
	}, written(t, w))
	assert.Empty(t, v.Held())
	assert.Equal(t, 3, w.writes())
}

func TestVirtualSequenceFailedWriteKeepsHeld(t *testing.T) {
	log := zerolog.Nop()
	w := &recordWriter{failOn: 1}
	v := newVirtualDevice(w, nil, VirtualOptions{QueueSize: 4}, &log)

	v.emitSequence(context.Background(), altTab()[:2])
	assert.Empty(t, written(t, w))
	assert.Empty(t, v.Held())
}

func TestVirtualBackpressureDropsOldest(t *testing.T) {
	v, buf := newTestVirtual(2)

	seq := func(code evdev.EvCode) []event.RawEvent {
		return []event.RawEvent{event.NewKey(code, event.ValueDown), event.NewKey(code, event.ValueUp)}
	}
	require.NoError(t, v.EmitSequence(seq(evdev.KEY_A)))
	require.NoError(t, v.EmitSequence(seq(evdev.KEY_B)))
	assert.ErrorIs(t, v.EmitSequence(seq(evdev.KEY_C)), ErrEmissionBackpressure)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go v.Run(ctx)

	assert.Eventually(t, func() bool { return len(written(t, buf)) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []evdev.InputEvent{
		key(evdev.KEY_B, 1), key(evdev.KEY_B, 0),
		key(evdev.KEY_C, 1), key(evdev.KEY_C, 0),
	}, written(t, buf))
}

func TestVirtualReleaseHeld(t *testing.T) {
	v, buf := newTestVirtual(4)

	require.NoError(t, v.Emit(event.NewKey(evdev.KEY_LEFTCTRL, event.ValueDown)))
	require.NoError(t, v.Emit(event.NewKey(evdev.KEY_LEFTMETA, event.ValueDown)))
	require.NoError(t, v.Emit(event.NewKey(evdev.KEY_A, event.ValueDown)))
	require.NoError(t, v.Emit(event.NewKey(evdev.KEY_A, event.ValueUp)))

	require.NoError(t, v.ReleaseHeld())
	assert.Empty(t, v.Held())

	evs := written(t, buf)
	assert.Equal(t, []evdev.InputEvent{
		key(evdev.KEY_LEFTCTRL, 0),
		key(evdev.KEY_LEFTMETA, 0),
	}, evs[4:])

	// 2回目は何も書かない
	require.NoError(t, v.ReleaseHeld())
	assert.Len(t, written(t, buf), 6)

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
}

func TestToUinputName(t *testing.T) {
	name := toUinputName([]byte("Handheld Controller"))
	assert.Equal(t, "Handheld Controller", string(bytes.TrimRight(name[:], "\x00")))
}
