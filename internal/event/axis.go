package event

import "github.com/holoplot/go-evdev"

// AxisRange は絶対軸の値域
type AxisRange struct {
	Min int32
	Max int32
}

// AxisMap は物理デバイスの軸範囲から仮想デバイスの軸範囲への変換表
type AxisMap map[evdev.EvCode]struct{ From, To AxisRange }

// Set は軸の変換を登録する。範囲が同じなら登録しない
func (m AxisMap) Set(code evdev.EvCode, from, to AxisRange) {
	if from == to || from.Max <= from.Min {
		delete(m, code)
		return
	}
	m[code] = struct{ From, To AxisRange }{from, to}
}

// Rescale は軸イベントの値を仮想デバイスの範囲へ変換する
// 軸以外のイベントや未登録の軸はそのまま返す
func (m AxisMap) Rescale(e RawEvent) RawEvent {
	if e.Kind != Abs {
		return e
	}
	r, ok := m[e.Code]
	if !ok {
		return e
	}
	e.Value = Scale(e.Value, r.From, r.To)
	return e
}

// Scale は値を from の範囲から to の範囲へ線形変換する
func Scale(v int32, from, to AxisRange) int32 {
	if v <= from.Min {
		return to.Min
	}
	if v >= from.Max {
		return to.Max
	}
	num := int64(v-from.Min) * int64(to.Max-to.Min)
	den := int64(from.Max - from.Min)
	// 四捨五入
	return to.Min + int32((num+den/2)/den)
}
