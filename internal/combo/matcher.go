package combo

import (
	"github.com/char5742/handycombo/internal/event"
	"github.com/holoplot/go-evdev"
)

// OutputKind は Matcher の出力の種類
type OutputKind uint8

const (
	// Forward はイベントを仮想デバイスへそのまま流す
	Forward OutputKind = iota
	// Fire はコンボが成立したことを表す
	Fire
)

// Output は Feed の結果1件。出力順に処理すること
type Output struct {
	Kind  OutputKind
	Event event.RawEvent
	Combo *Definition
}

// Matcher はコンボ検出の状態機械
// イベントループの1つのゴルーチンからのみ使う
type Matcher struct {
	defs []Definition

	active    map[evdev.EvCode]bool // 押されているキー
	cursor    []int                 // Queued: 何ステップ目まで進んだか
	latched   []bool                // Instant: 発火済みで、メンバーが離されるまで再発火しない
	armed     []bool                // Instant: 先頭キーから途切れずに押されている
	swallowed map[evdev.EvCode]bool // 押下を消費したキー。解放とリピートも捨てる
	pending   []event.RawEvent      // 進行中のコンボのために保留しているイベント
	deferred  int                   // より長いコンボの結果待ちの成立済みコンボ

	out []Output
}

// NewMatcher は優先順に並んだ定義から Matcher を作る
func NewMatcher(defs []Definition) (*Matcher, error) {
	m := &Matcher{defs: make([]Definition, len(defs))}
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return nil, err
		}
		m.defs[i] = defs[i]
		m.defs[i].Steps = append([]Step(nil), defs[i].Steps...)
	}
	m.cursor = make([]int, len(defs))
	m.latched = make([]bool, len(defs))
	m.armed = make([]bool, len(defs))
	m.Reset()
	return m, nil
}

// Definitions は登録済みのコンボ定義を返す
func (m *Matcher) Definitions() []Definition { return m.defs }

// Reset はすべての状態を初期化する。保留中のイベントは捨てる
// 何度呼んでもよい
func (m *Matcher) Reset() {
	m.active = make(map[evdev.EvCode]bool)
	m.swallowed = make(map[evdev.EvCode]bool)
	m.pending = nil
	m.deferred = -1
	for i := range m.defs {
		m.cursor[i] = 0
		m.latched[i] = false
		m.armed[i] = false
	}
}

// Pending は保留中のイベント数を返す
func (m *Matcher) Pending() int { return len(m.pending) }

// Feed はイベントを1件処理し、出力を順番に返す
func (m *Matcher) Feed(e event.RawEvent) []Output {
	m.out = nil
	switch e.Kind {
	case event.Key:
		switch e.Value {
		case event.ValueDown:
			delete(m.swallowed, e.Code)
			m.active[e.Code] = true
			m.step(e)
		case event.ValueUp:
			m.release(e)
		default:
			m.repeat(e)
		}
	case event.Misc:
		m.step(e)
	case event.Abs, event.LED, event.FF:
		m.forward(e)
	}
	return m.out
}

// step はキー押下と MSC イベントを処理する
func (m *Matcher) step(e event.RawEvent) {
	advanced, completed := m.advance(e)

	if best := m.best(completed); best >= 0 {
		if m.deferred >= 0 && m.defs[best].Contains(&m.defs[m.deferred]) {
			m.deferred = -1
		}
		m.pending = append(m.pending, e)
		if m.shadowed(best) {
			m.setDeferred(best)
			return
		}
		m.fire(best)
		return
	}

	if m.deferred >= 0 && !m.shadowed(m.deferred) {
		// 長いコンボが途切れたので短い方を発火し、イベントを評価し直す
		m.fire(m.deferred)
		m.step(e)
		return
	}

	if advanced {
		m.pending = append(m.pending, e)
		return
	}
	if e.Kind == event.Key && !m.inProgress() {
		m.flush()
	}
	m.forward(e)
}

// advance は各コンボの進行状況を更新する
func (m *Matcher) advance(e event.RawEvent) (advanced bool, completed []int) {
	for i := range m.defs {
		d := &m.defs[i]
		switch d.Class {
		case Queued:
			switch {
			case d.Steps[m.cursor[i]].Matches(e):
				m.cursor[i]++
			case e.Kind == event.Key:
				// 関係ないキーが割り込んだらやり直し
				m.cursor[i] = 0
				if !d.Steps[0].Matches(e) {
					continue
				}
				m.cursor[i] = 1
			default:
				continue
			}
			if m.cursor[i] == len(d.Steps) {
				m.cursor[i] = 0
				completed = append(completed, i)
			} else {
				advanced = true
			}

		case Instant:
			if e.Kind != event.Key {
				continue
			}
			if !d.HasKey(e.Code) {
				m.armed[i] = false
				continue
			}
			if e.Code == d.Steps[0].Code {
				m.armed[i] = true
			}
			if m.latched[i] {
				continue
			}
			if m.allActive(i) {
				completed = append(completed, i)
			} else if m.armed[i] {
				advanced = true
			}
		}
	}
	return advanced, completed
}

// release はキー解放を処理する
func (m *Matcher) release(e event.RawEvent) {
	code := e.Code
	m.active[code] = false

	for i := range m.defs {
		d := &m.defs[i]
		switch d.Class {
		case Instant:
			if !d.HasKey(code) {
				continue
			}
			m.latched[i] = false
			if d.Steps[0].Code == code {
				m.armed[i] = false
			}
		case Queued:
			if m.cursor[i] == 0 {
				continue
			}
			if m.consumed(i, code) || !m.consumedAnyKey(i) {
				m.cursor[i] = 0
			}
		}
	}

	if m.deferred >= 0 && !m.shadowed(m.deferred) {
		m.fire(m.deferred)
	}

	swallowed := m.swallowed[code]
	delete(m.swallowed, code)
	if !m.inProgress() {
		m.flush()
		if !swallowed {
			m.forward(e)
		}
		return
	}
	if swallowed {
		return
	}
	if m.hasPendingDown(code) {
		m.pending = append(m.pending, e)
		return
	}
	m.forward(e)
}

// repeat はキーリピートを処理する
func (m *Matcher) repeat(e event.RawEvent) {
	if m.swallowed[e.Code] || m.hasPendingDown(e.Code) {
		return
	}
	m.forward(e)
}

// fire はコンボを発火し、保留中のイベントを振り分ける
// メンバーの押下は消費し、それ以外は順番どおり流す
func (m *Matcher) fire(i int) {
	d := &m.defs[i]
	rest := m.pending[:0:0]
	for _, p := range m.pending {
		switch {
		case p.Kind == event.Misc:
		case p.Kind == event.Key && d.HasKey(p.Code):
			if p.Value == event.ValueDown {
				m.swallowed[p.Code] = true
			} else if p.Value == event.ValueUp {
				delete(m.swallowed, p.Code)
			}
		default:
			rest = append(rest, p)
		}
	}
	m.pending = nil
	for _, p := range rest {
		m.forward(p)
	}
	m.out = append(m.out, Output{Kind: Fire, Combo: d})

	// 押しっぱなしの間は同じコンボと、その部分集合のコンボを再発火しない
	for j := range m.defs {
		if m.defs[j].Class == Instant && d.Contains(&m.defs[j]) && m.allActive(j) {
			m.latched[j] = true
		}
		m.cursor[j] = 0
		m.armed[j] = false
	}
	m.deferred = -1
}

func (m *Matcher) setDeferred(i int) {
	if m.deferred < 0 || len(m.defs[i].Steps) > len(m.defs[m.deferred].Steps) {
		m.deferred = i
	}
}

// best は同時に成立したコンボのうちステップ数が最も多いものを返す
// 同数なら定義順で先のもの
func (m *Matcher) best(completed []int) int {
	best := -1
	for _, i := range completed {
		if best < 0 || len(m.defs[i].Steps) > len(m.defs[best].Steps) {
			best = i
		}
	}
	return best
}

// shadowed は i を含むより長いコンボが進行中かを返す
func (m *Matcher) shadowed(i int) bool {
	for j := range m.defs {
		if j == i || len(m.defs[j].Steps) <= len(m.defs[i].Steps) {
			continue
		}
		if m.progressing(j) && m.defs[j].Contains(&m.defs[i]) {
			return true
		}
	}
	return false
}

func (m *Matcher) progressing(i int) bool {
	if m.defs[i].Class == Queued {
		return m.cursor[i] > 0
	}
	return m.armed[i] && !m.latched[i] && !m.allActive(i)
}

func (m *Matcher) inProgress() bool {
	for i := range m.defs {
		if m.progressing(i) {
			return true
		}
	}
	return false
}

func (m *Matcher) allActive(i int) bool {
	for _, s := range m.defs[i].Steps {
		if s.Kind != event.Key || !m.active[s.Code] {
			return false
		}
	}
	return true
}

// consumed は Queued コンボの進んだステップにキーが含まれるかを返す
func (m *Matcher) consumed(i int, code evdev.EvCode) bool {
	for _, s := range m.defs[i].Steps[:m.cursor[i]] {
		if s.Kind == event.Key && s.Code == code {
			return true
		}
	}
	return false
}

func (m *Matcher) consumedAnyKey(i int) bool {
	for _, s := range m.defs[i].Steps[:m.cursor[i]] {
		if s.Kind == event.Key {
			return true
		}
	}
	return false
}

func (m *Matcher) hasPendingDown(code evdev.EvCode) bool {
	for _, p := range m.pending {
		if p.Kind == event.Key && p.Code == code && p.Value == event.ValueDown {
			return true
		}
	}
	return false
}

func (m *Matcher) flush() {
	for _, p := range m.pending {
		m.forward(p)
	}
	m.pending = nil
}

func (m *Matcher) forward(e event.RawEvent) {
	m.out = append(m.out, Output{Kind: Forward, Event: e})
}
