package features

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const procDevices = `I: Bus=0019 Vendor=0000 Product=0001 Version=0000
N: Name="Power Button"
P: Phys=PNP0C0C/button/input0
S: Sysfs=/devices/LNXSYSTM:00/LNXSYBUS:00/PNP0C0C:00/input/input0
U: Uniq=
H: Handlers=kbd event0
B: PROP=0
B: EV=3
B: KEY=10000000000000 0

I: Bus=0011 Vendor=0001 Product=0001 Version=ab83
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
S: Sysfs=/devices/platform/i8042/serio0/input/input3
U: Uniq=
H: Handlers=sysrq kbd leds event3 
B: PROP=0
B: EV=120013

I: Bus=0003 Vendor=045e Product=028e Version=0110
N: Name="Microsoft X-Box 360 pad"
P: Phys=usb-0000:04:00.3-3/input0
H: Handlers=event17 js0
B: EV=20000b
`

func TestParseDevices(t *testing.T) {
	devices, err := ParseDevices(strings.NewReader(procDevices))
	require.NoError(t, err)
	require.Len(t, devices, 3)

	kbd := devices[1]
	assert.Equal(t, "AT Translated Set 2 keyboard", kbd.Name)
	assert.Equal(t, uint16(0x11), kbd.Bus)
	assert.Equal(t, uint16(0x0001), kbd.Vendor)
	assert.Equal(t, uint16(0xab83), kbd.Version)
	assert.Equal(t, "isa0060/serio0/input0", kbd.Phys)
	assert.Equal(t, []string{"sysrq", "kbd", "leds", "event3"}, kbd.Handlers)
	node, ok := kbd.EventNode()
	assert.True(t, ok)
	assert.Equal(t, "event3", node)

	pad := devices[2]
	assert.Equal(t, uint16(0x045e), pad.Vendor)
	assert.Equal(t, uint16(0x028e), pad.Product)
	assert.Contains(t, pad.String(), "Microsoft X-Box 360 pad")
}

func TestDeviceSpecMatches(t *testing.T) {
	d := &InputDevice{Name: "AT Translated Set 2 keyboard", Vendor: 1, Product: 1}

	assert.True(t, DeviceSpec{Name: "AT Translated Set 2 keyboard"}.Matches(d))
	assert.True(t, DeviceSpec{Vendor: 1, Product: 1}.Matches(d))
	assert.False(t, DeviceSpec{Name: "AT Translated Set 2 keyboard", Vendor: 2}.Matches(d))
	assert.False(t, DeviceSpec{}.Matches(d))
}

func TestFinder(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "devices")
	require.NoError(t, os.WriteFile(list, []byte(procDevices), 0o644))
	inputDir := filepath.Join(dir, "input")
	require.NoError(t, os.Mkdir(inputDir, 0o755))

	f := Finder{Spec: DeviceSpec{Name: "AT Translated Set 2 keyboard"}, ListPath: list, InputDir: inputDir}

	// ノードがまだない
	_, err := f.Find()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	node := filepath.Join(inputDir, "event3")
	require.NoError(t, os.WriteFile(node, nil, 0o644))
	path, err := f.Find()
	require.NoError(t, err)
	assert.Equal(t, node, path)

	f.Spec = DeviceSpec{Vendor: 0x045e, Product: 0x028e}
	_, err = f.Find()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	// パス指定が優先される
	f.Spec = DeviceSpec{Path: node, Name: "something else"}
	path, err = f.Find()
	require.NoError(t, err)
	assert.Equal(t, node, path)
}

func TestBackoff(t *testing.T) {
	b := &Backoff{Delay: 500 * time.Millisecond, Max: 4 * time.Second}
	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, 500*time.Millisecond, b.Next())
}

func TestWaitForDevice(t *testing.T) {
	attempts := 0
	find := func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", ErrDeviceUnavailable
		}
		return "/dev/input/event3", nil
	}
	b := &Backoff{Delay: time.Millisecond, Max: 2 * time.Millisecond}

	path, err := WaitForDevice(context.Background(), find, b, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event3", path)
	assert.Equal(t, 3, attempts)
}

func TestWaitForDeviceWake(t *testing.T) {
	ready := make(chan struct{})
	find := func() (string, error) {
		select {
		case <-ready:
			return "/dev/input/event3", nil
		default:
			return "", ErrDeviceUnavailable
		}
	}
	// 待ち時間は長いが、通知があればすぐに探し直す
	b := &Backoff{Delay: time.Hour, Max: time.Hour}
	wake := make(chan struct{}, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(ready)
		wake <- struct{}{}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path, err := WaitForDevice(ctx, find, b, wake)
	require.NoError(t, err)
	assert.Equal(t, "/dev/input/event3", path)
}

func TestWaitForDeviceCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WaitForDevice(ctx, func() (string, error) {
		return "", errors.New("missing")
	}, &Backoff{Delay: time.Hour, Max: time.Hour}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
