package types

import "github.com/char5742/handycombo/internal/consts"

// InputID はデバイス識別子を表す構造体
type InputID struct {
	Bustype uint16 // バスタイプ
	Vendor  uint16 // ベンダーID
	Product uint16 // 製品ID
	Version uint16 // バージョン
}

// UserDev はuinputユーザーデバイスの設定を表す構造体
type UserDev struct {
	Name       [consts.MaxNameSize]byte // デバイス名
	ID         InputID                  // デバイス識別子
	EffectsMax uint32                   // 最大エフェクト数
	Absmax     [consts.AbsSize]int32    // 絶対座標の最大値
	Absmin     [consts.AbsSize]int32    // 絶対座標の最小値
	Absfuzz    [consts.AbsSize]int32    // 絶対座標のファジー値
	Absflat    [consts.AbsSize]int32    // 絶対座標のフラット値
}

// FFEffect は struct ff_effect (48バイト)
// 共用体部分は種類ごとに解釈せずそのまま物理デバイスへ渡す
type FFEffect struct {
	Type      uint16
	ID        int16
	Direction uint16
	Trigger   [2]uint16
	Replay    [2]uint16
	_         [2]byte
	U         [32]byte
}

// FFUpload は struct uinput_ff_upload
type FFUpload struct {
	RequestID uint32
	Retval    int32
	Effect    FFEffect
	Old       FFEffect
}

// FFErase は struct uinput_ff_erase
type FFErase struct {
	RequestID uint32
	Retval    int32
	EffectID  uint32
}
