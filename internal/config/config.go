package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/char5742/handycombo/internal/consts"
)

// ErrInvalidConfig は設定の検証に失敗したことを表す
var ErrInvalidConfig = errors.New("invalid config")

// Config はアプリケーション全体の設定を表す構造体
type Config struct {
	Device  DeviceConfig            `toml:"device"`
	Virtual VirtualConfig           `toml:"virtual"`
	Toggles TogglesConfig           `toml:"toggles"`
	Log     LogConfig               `toml:"log"`
	API     APIConfig               `toml:"api"`
	Combos  []ComboConfig           `toml:"combo"`
	Actions map[string]ActionConfig `toml:"actions"`
}

// DeviceConfig は監視する物理デバイスの設定
type DeviceConfig struct {
	// Path を指定した場合は名前やIDで探さない
	Path    string `toml:"path"`
	Name    string `toml:"name"`
	Vendor  uint16 `toml:"vendor"`
	Product uint16 `toml:"product"`

	Hide     bool   `toml:"hide"`
	HideDir  string `toml:"hide_dir"`
	InputDir string `toml:"input_dir"`

	DetectDelay    time.Duration `toml:"detect_delay"`
	MaxDetectDelay time.Duration `toml:"max_detect_delay"`
	FFDelay        time.Duration `toml:"ff_delay"`
}

// VirtualConfig は仮想コントローラーの設定
type VirtualConfig struct {
	Uinput       string        `toml:"uinput"`
	Name         string        `toml:"name"`
	Vendor       uint16        `toml:"vendor"`
	Product      uint16        `toml:"product"`
	Version      uint16        `toml:"version"`
	QueueSize    int           `toml:"queue_size"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	// SequenceGap は合成イベント列の各イベントの間隔。0 なら列を1回の書き込みで送る
	SequenceGap time.Duration `toml:"sequence_gap"`
}

// TogglesConfig は切り替えアクションの設定
type TogglesConfig struct {
	PerformanceProfiles int `toml:"performance_profiles"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// APIConfig はステータスAPIの設定。Listen が空なら起動しない
type APIConfig struct {
	Listen string `toml:"listen"`
}

// ComboConfig はコンボ1件の設定。先に書いたものほど優先度が高い
type ComboConfig struct {
	Name   string   `toml:"name"`
	Class  string   `toml:"class"`
	Steps  []string `toml:"steps"`
	Action string   `toml:"action"`
}

// ActionConfig はアクション1件の設定
type ActionConfig struct {
	Kind    string   `toml:"kind"`
	Keys    []string `toml:"keys,omitempty"`
	Power   string   `toml:"power,omitempty"`
	Toggle  string   `toml:"toggle,omitempty"`
	Command string   `toml:"command,omitempty"`
	Args    []string `toml:"args,omitempty"`
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:           "AT Translated Set 2 keyboard",
			Hide:           true,
			HideDir:        consts.HiddenDir,
			InputDir:       consts.InputDir,
			DetectDelay:    consts.DetectDelay,
			MaxDetectDelay: consts.MaxDetectDelay,
			FFDelay:        consts.FFDelay,
		},
		Virtual: VirtualConfig{
			Uinput:       consts.UinputPath,
			Name:         consts.VirtualName,
			Vendor:       consts.VirtualVendor,
			Product:      consts.VirtualProduct,
			Version:      consts.VirtualVersion,
			QueueSize:    consts.QueueSize,
			WriteTimeout: consts.WriteTimeout,
		},
		Toggles: TogglesConfig{PerformanceProfiles: 3},
		Log:     LogConfig{Level: "info", Format: "console"},
		Combos:  defaultCombos(),
		Actions: defaultActions(),
	}
}

func defaultCombos() []ComboConfig {
	return []ComboConfig{
		{Name: "button1", Class: "queued", Steps: []string{"KEY_LEFTMETA", "KEY_LEFTCTRL", "KEY_ESC"}, Action: "QAM"},
		{Name: "button2", Class: "queued", Steps: []string{"KEY_LEFTMETA", "KEY_LEFTCTRL", "KEY_O"}, Action: "OSK"},
		{Name: "button3", Class: "queued", Steps: []string{"MSC_SCAN", "KEY_ESC"}, Action: "ESC"},
		{Name: "button4", Class: "queued", Steps: []string{"KEY_LEFTALT", "KEY_TAB"}, Action: "ALT_TAB"},
		{Name: "button5", Class: "instant", Steps: []string{"BTN_MODE"}, Action: "MODE"},
		{Name: "power", Class: "instant", Steps: []string{"KEY_POWER"}, Action: "SUSPEND"},
	}
}

func defaultActions() map[string]ActionConfig {
	emit := func(keys ...string) ActionConfig { return ActionConfig{Kind: "emit", Keys: keys} }
	return map[string]ActionConfig{
		"ALT_TAB":            emit("KEY_LEFTALT", "KEY_TAB"),
		"ESC":                emit("KEY_ESC"),
		"KILL":               emit("KEY_LEFTMETA", "KEY_LEFTCTRL", "KEY_ESC"),
		"MODE":               emit("BTN_MODE"),
		"OSK":                emit("BTN_MODE", "BTN_NORTH"),
		"OSK_DE":             emit("KEY_LEFTMETA", "KEY_LEFTCTRL", "KEY_O"),
		"QAM":                emit("BTN_MODE", "BTN_SOUTH"),
		"SCR":                emit("BTN_MODE", "BTN_TR"),
		"OPEN_CHIMERA":       {Kind: "launch", Command: consts.ChimeraLauncher},
		"TOGGLE_GYRO":        {Kind: "toggle", Toggle: "gyro"},
		"TOGGLE_MOUSE":       {Kind: "toggle", Toggle: "mouse"},
		"TOGGLE_PERFORMANCE": {Kind: "toggle", Toggle: "performance"},
		"SUSPEND":            {Kind: "power", Power: "SUSPEND"},
		"HIBERNATE":          {Kind: "power", Power: "HIBERNATE"},
		"SHUTDOWN":           {Kind: "power", Power: "SHUTDOWN"},
	}
}

// GetDefaultConfigDir は設定ファイルの既定ディレクトリを返す
// root なら /etc、それ以外はユーザー設定ディレクトリ
func GetDefaultConfigDir() (string, error) {
	if os.Geteuid() == 0 {
		return "/etc/handycombo", nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "handycombo"), nil
}

// LoadConfig は設定ファイルから設定を読み込む
func LoadConfig(configPath string) (*Config, error) {
	// デフォルト設定を用意
	config := DefaultConfig()

	// ファイルが存在しない場合はデフォルト設定を保存して返す
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := SaveConfig(configPath, config); err != nil {
			return config, err
		}
		return config, nil
	}

	// コンボは既定値とマージせず、ファイルに書かれていればそれで置き換える
	config.Combos = nil
	md, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return DefaultConfig(), err
	}
	if !md.IsDefined("combo") {
		config.Combos = defaultCombos()
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return config, fmt.Errorf("%w: unknown keys %v", ErrInvalidConfig, undecoded)
	}

	return config, nil
}

// SaveConfig は設定をTOMLファイルに保存する
func SaveConfig(configPath string, config *Config) error {
	// 設定ディレクトリの作成
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	// ファイルを開く（なければ作成）
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return config.Encode(f)
}

// Encode は設定をTOML形式で書き出す
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
