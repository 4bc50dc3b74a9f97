package features

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// InputDevice は /proc/bus/input/devices の1エントリ
type InputDevice struct {
	Bus      uint16
	Vendor   uint16
	Product  uint16
	Version  uint16
	Name     string
	Phys     string
	Handlers []string
}

// EventNode は eventN のハンドラ名を返す
func (d *InputDevice) EventNode() (string, bool) {
	for _, h := range d.Handlers {
		if strings.HasPrefix(h, "event") {
			return h, true
		}
	}
	return "", false
}

func (d *InputDevice) String() string {
	return fmt.Sprintf("bus: 0x%04x, vendor: 0x%04x, product: 0x%04x, version: 0x%04x, handlers: %v, name: %q",
		d.Bus, d.Vendor, d.Product, d.Version, d.Handlers, d.Name)
}

// DeviceSpec は監視対象のデバイスの条件。Path があれば他は見ない
// ゼロ値の項目は条件に含めない
type DeviceSpec struct {
	Path    string
	Name    string
	Vendor  uint16
	Product uint16
}

// Matches はデバイスが条件に合うかを返す
func (s DeviceSpec) Matches(d *InputDevice) bool {
	if s.Name != "" && s.Name != d.Name {
		return false
	}
	if s.Vendor != 0 && s.Vendor != d.Vendor {
		return false
	}
	if s.Product != 0 && s.Product != d.Product {
		return false
	}
	return s.Name != "" || s.Vendor != 0 || s.Product != 0
}

// ParseDevices は /proc/bus/input/devices の内容を解析する
// 読めない行は無視する
func ParseDevices(r io.Reader) ([]InputDevice, error) {
	var (
		devices []InputDevice
		cur     InputDevice
		started bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			if started {
				devices = append(devices, cur)
			}
			cur, started = InputDevice{}, false
			continue
		}
		if len(line) < 3 || line[1] != ':' {
			continue
		}
		started = true
		value := strings.TrimSpace(line[2:])
		switch line[0] {
		case 'I': // identification
			for _, field := range strings.Fields(value) {
				k, v, ok := strings.Cut(field, "=")
				if !ok {
					continue
				}
				n, err := strconv.ParseUint(v, 16, 16)
				if err != nil {
					continue
				}
				switch k {
				case "Bus":
					cur.Bus = uint16(n)
				case "Vendor":
					cur.Vendor = uint16(n)
				case "Product":
					cur.Product = uint16(n)
				case "Version":
					cur.Version = uint16(n)
				}
			}
		case 'N': // Name="..."
			if v, ok := strings.CutPrefix(value, "Name="); ok {
				cur.Name = strings.Trim(v, `"`)
			}
		case 'P': // Phys=...
			if v, ok := strings.CutPrefix(value, "Phys="); ok {
				cur.Phys = v
			}
		case 'H': // Handlers=...
			if v, ok := strings.CutPrefix(value, "Handlers="); ok {
				cur.Handlers = strings.Fields(v)
			}
		}
	}
	if started {
		devices = append(devices, cur)
	}
	return devices, sc.Err()
}

// Finder は /proc/bus/input/devices から監視対象のデバイスファイルを探す
type Finder struct {
	Spec     DeviceSpec
	ListPath string
	InputDir string
}

// Find は条件に合う最初のデバイスのパスを返す
// 見つからなければ ErrDeviceUnavailable
func (f Finder) Find() (string, error) {
	if f.Spec.Path != "" {
		if _, err := os.Stat(f.Spec.Path); err != nil {
			return "", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return f.Spec.Path, nil
	}

	file, err := os.Open(f.ListPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer file.Close()

	devices, err := ParseDevices(file)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	for i := range devices {
		d := &devices[i]
		if !f.Spec.Matches(d) {
			continue
		}
		node, ok := d.EventNode()
		if !ok {
			continue
		}
		path := filepath.Join(f.InputDir, node)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("%w: no device matches %+v", ErrDeviceUnavailable, f.Spec)
}

// Backoff は再試行の間隔。delay から始めて失敗のたびに倍にし、max で頭打ちにする
type Backoff struct {
	Delay time.Duration
	Max   time.Duration
	cur   time.Duration
}

// Next は次に待つ時間を返す
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Delay
	} else {
		b.cur *= 2
	}
	if b.cur > b.Max {
		b.cur = b.Max
	}
	return b.cur
}

// Reset は間隔を初期値に戻す
func (b *Backoff) Reset() { b.cur = 0 }

// WaitForDevice は find が成功するまで再試行する
// wake に通知があれば待ち時間を切り上げて再試行する。ctx が終わればエラーを返す
func WaitForDevice(ctx context.Context, find func() (string, error), b *Backoff, wake <-chan struct{}) (string, error) {
	for {
		path, err := find()
		if err == nil {
			b.Reset()
			return path, nil
		}
		timer := time.NewTimer(b.Next())
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
