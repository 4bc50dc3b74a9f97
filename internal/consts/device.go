package consts

import "time"

// UIInput デバイスの定数（uinput.hから）
const (
	MaxNameSize = 80         // デバイス名の最大サイズ
	DevCreate   = 0x5501     // デバイス作成用のIOCTL
	DevDestroy  = 0x5502     // デバイス破棄用のIOCTL
	SetEvBit    = 0x40045564 // イベントビット設定用のIOCTL
	SetKeyBit   = 0x40045565 // キービット設定用のIOCTL
	SetAbsBit   = 0x40045567 // 絶対座標ビット設定用のIOCTL
	SetMscBit   = 0x40045568 // MSCビット設定用のIOCTL
	SetLedBit   = 0x40045569 // LEDビット設定用のIOCTL
	SetFFBit    = 0x4004556b // フォースフィードバックビット設定用のIOCTL
	BusUsb      = 0x03       // USBバスタイプ

	BeginFFUpload = 0xc06855c8 // UI_BEGIN_FF_UPLOAD
	EndFFUpload   = 0x406855c9 // UI_END_FF_UPLOAD
	BeginFFErase  = 0xc00c55ca // UI_BEGIN_FF_ERASE
	EndFFErase    = 0x400c55cb // UI_END_FF_ERASE

	EvUinput   = 0x0101 // uinput からの要求イベント
	UIFFUpload = 1
	UIFFErase  = 2
)

// その他のデバイス制御用定数
const (
	AbsSize   = 64         // 絶対座標の配列サイズ
	EVIOCSFF  = 0x40304580 // エフェクト登録
	EVIOCRMFF = 0x40044581 // エフェクト削除
)

// 既定値
const (
	UinputPath     = "/dev/uinput"
	InputDir       = "/dev/input"
	HiddenDir      = "/dev/input/.hidden"
	DevicesList    = "/proc/bus/input/devices"
	DetectDelay    = 500 * time.Millisecond
	MaxDetectDelay = 4 * time.Second
	FFDelay        = 200 * time.Millisecond
	WriteTimeout   = 20 * time.Millisecond
	QueueSize      = 16
	EffectsMax     = 16

	VirtualName    = "Handheld Controller"
	VirtualVendor  = 0x045e
	VirtualProduct = 0x028e
	VirtualVersion = 0x0110

	ChimeraLauncher = "/usr/share/chimera/bin/chimera-web-launcher"
)
