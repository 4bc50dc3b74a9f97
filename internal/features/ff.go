package features

import (
	"context"
	"time"

	"github.com/char5742/handycombo/internal/consts"
	"github.com/char5742/handycombo/internal/types"
	"github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"
)

// FF_RUMBLE より小さいコードはエフェクトID
const ffEffectMin = 0x50

// FFRequests は仮想デバイス側のフォースフィードバック要求の読み書き
type FFRequests interface {
	ReadEvent() (evdev.InputEvent, error)
	BeginUpload(*types.FFUpload) error
	EndUpload(*types.FFUpload) error
	BeginErase(*types.FFErase) error
	EndErase(*types.FFErase) error
}

// FFTarget はフォースフィードバックを実際に再生する物理デバイス
type FFTarget interface {
	UploadEffect(e *types.FFEffect) error
	EraseEffect(id int16) error
	PlayEffect(code evdev.EvCode, value int32) error
}

// FFEcho は仮想デバイスに届いた振動の要求を物理デバイスへ中継する
// 再生要求は delay だけ遅らせ、その間に届いた同じエフェクトへの要求は最新の値だけを送る
type FFEcho struct {
	dev    FFRequests
	delay  time.Duration
	attach chan FFTarget
	log    *zerolog.Logger

	target  FFTarget
	effects map[int16]types.FFEffect // 仮想側のIDで登録されたエフェクト
	ids     map[int16]int16          // 仮想側のID → 物理側のID
	plays   map[evdev.EvCode]int32
	order   []evdev.EvCode
}

func NewFFEcho(dev FFRequests, delay time.Duration, log *zerolog.Logger) *FFEcho {
	if delay <= 0 {
		delay = consts.FFDelay
	}
	return &FFEcho{
		dev:     dev,
		delay:   delay,
		attach:  make(chan FFTarget),
		log:     log,
		effects: make(map[int16]types.FFEffect),
		ids:     make(map[int16]int16),
		plays:   make(map[evdev.EvCode]int32),
	}
}

// Attach は中継先の物理デバイスを切り替える。nil なら中継を止める
func (f *FFEcho) Attach(ctx context.Context, t FFTarget) {
	select {
	case f.attach <- t:
	case <-ctx.Done():
	}
}

// Run は ctx が終わるまで要求を処理する
// 仮想デバイスから読めなくなった後も ctx が終わるまでは戻らない
func (f *FFEcho) Run(ctx context.Context) {
	reqs := make(chan evdev.InputEvent, 16)
	go func() {
		defer close(reqs)
		for {
			ev, err := f.dev.ReadEvent()
			if err != nil {
				return
			}
			select {
			case reqs <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	timer := time.NewTimer(f.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-f.attach:
			f.setTarget(t)
		case ev, ok := <-reqs:
			if !ok {
				// 振動の中継はできなくなるが、Attach は ctx が終わるまで受け付ける
				f.log.Warn().Msg("仮想デバイスの振動要求を読めなくなりました")
				reqs = nil
				continue
			}
			if f.handle(ev) {
				timer.Reset(f.delay)
			}
		case <-timer.C:
			f.flush()
		}
	}
}

// handle は要求を1件処理し、再生待ちが新しくできたら true を返す
func (f *FFEcho) handle(ev evdev.InputEvent) bool {
	switch ev.Type {
	case consts.EvUinput:
		switch ev.Code {
		case consts.UIFFUpload:
			f.upload(uint32(ev.Value))
		case consts.UIFFErase:
			f.erase(uint32(ev.Value))
		}
	case evdev.EV_FF:
		first := len(f.plays) == 0
		if _, ok := f.plays[ev.Code]; !ok {
			f.order = append(f.order, ev.Code)
		}
		f.plays[ev.Code] = ev.Value
		return first
	}
	return false
}

func (f *FFEcho) upload(requestID uint32) {
	up := types.FFUpload{RequestID: requestID}
	if err := f.dev.BeginUpload(&up); err != nil {
		f.log.Warn().Err(err).Msg("振動エフェクトの受け取りに失敗しました")
		return
	}
	f.effects[up.Effect.ID] = up.Effect
	if f.target != nil {
		f.uploadTo(up.Effect.ID, up.Effect)
	}
	// 物理デバイスがなくても登録自体は成功させる
	up.Retval = 0
	if err := f.dev.EndUpload(&up); err != nil {
		f.log.Warn().Err(err).Msg("振動エフェクトの登録を完了できませんでした")
	}
}

func (f *FFEcho) uploadTo(id int16, effect types.FFEffect) {
	if pid, ok := f.ids[id]; ok {
		effect.ID = pid
	} else {
		effect.ID = -1
	}
	if err := f.target.UploadEffect(&effect); err != nil {
		f.log.Warn().Err(err).Int16("effect", id).Msg("物理デバイスへのエフェクト登録に失敗しました")
		return
	}
	f.ids[id] = effect.ID
}

func (f *FFEcho) erase(requestID uint32) {
	er := types.FFErase{RequestID: requestID}
	if err := f.dev.BeginErase(&er); err != nil {
		f.log.Warn().Err(err).Msg("振動エフェクト削除要求の受け取りに失敗しました")
		return
	}
	id := int16(er.EffectID)
	if pid, ok := f.ids[id]; ok && f.target != nil {
		if err := f.target.EraseEffect(pid); err != nil {
			f.log.Warn().Err(err).Int16("effect", id).Msg("物理デバイスのエフェクト削除に失敗しました")
		}
	}
	delete(f.ids, id)
	delete(f.effects, id)
	delete(f.plays, evdev.EvCode(id))
	er.Retval = 0
	if err := f.dev.EndErase(&er); err != nil {
		f.log.Warn().Err(err).Msg("振動エフェクトの削除を完了できませんでした")
	}
}

// setTarget は中継先を切り替え、登録済みのエフェクトを新しいデバイスへ登録し直す
func (f *FFEcho) setTarget(t FFTarget) {
	f.target = t
	f.ids = make(map[int16]int16)
	if t == nil {
		return
	}
	for id, effect := range f.effects {
		f.uploadTo(id, effect)
	}
}

func (f *FFEcho) flush() {
	defer func() {
		f.plays = make(map[evdev.EvCode]int32)
		f.order = f.order[:0]
	}()
	if f.target == nil {
		return
	}
	for _, code := range f.order {
		value, ok := f.plays[code]
		if !ok {
			continue
		}
		target := code
		// FF_GAIN などはエフェクトIDではないのでそのまま送る
		if code < ffEffectMin {
			pid, ok := f.ids[int16(code)]
			if !ok {
				continue
			}
			target = evdev.EvCode(pid)
		}
		if err := f.target.PlayEffect(target, value); err != nil {
			f.log.Warn().Err(err).Uint16("code", uint16(target)).Msg("振動の再生に失敗しました")
		}
	}
}
