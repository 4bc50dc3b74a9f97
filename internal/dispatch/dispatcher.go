package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/char5742/handycombo/internal/event"
	"github.com/char5742/handycombo/internal/power"
	"github.com/rs/zerolog"
)

// Emitter は合成イベントの送り先 (仮想デバイス)
type Emitter interface {
	// EmitSequence はイベント列をまとめて送る。ほかの合成列と混ざらない
	EmitSequence(seq []event.RawEvent) error
	// ReleaseHeld は押したままのキーをすべて離す
	ReleaseHeld() error
}

// Dispatcher は成立したコンボのアクションを実行する
// 時間のかかる処理 (電源操作・外部プログラム) は別ゴルーチンで行い、結果を Results に送る
type Dispatcher struct {
	emitter  Emitter
	bridge   power.Bridge
	launcher Launcher
	toggles  *Toggles
	log      *zerolog.Logger

	results chan Result
	wg      sync.WaitGroup
}

// New は Dispatcher を作る。bridge と launcher は nil でもよい
func New(emitter Emitter, bridge power.Bridge, launcher Launcher, toggles *Toggles, log *zerolog.Logger) *Dispatcher {
	if toggles == nil {
		toggles = NewToggles(1)
	}
	return &Dispatcher{
		emitter:  emitter,
		bridge:   bridge,
		launcher: launcher,
		toggles:  toggles,
		log:      log,
		results:  make(chan Result, 8),
	}
}

// Dispatch はアクションを実行する
// Emit と Toggle はその場で完了し、Power と Launch は Async の結果を返す
func (d *Dispatcher) Dispatch(ctx context.Context, a Action) Result {
	res := Result{Action: a.Name, Kind: a.Kind}

	switch a.Kind {
	case Emit:
		res.Err = d.emitter.EmitSequence(a.Sequence)

	case Toggle:
		st := d.toggles.Flip(a.Toggle)
		d.log.Info().Str("toggle", a.Toggle.String()).Interface("state", st).Msg("状態を切り替えました")

	case Power:
		// スリープ前にキーを離しておかないと、復帰後に押しっぱなしになる
		if err := d.emitter.ReleaseHeld(); err != nil {
			d.log.Warn().Err(err).Msg("押下中のキーを離せませんでした")
		}
		if d.bridge == nil {
			res.Err = fmt.Errorf("%w: no bridge", power.ErrBridgeFailure)
			return res
		}
		d.async(ctx, res, func(ctx context.Context) error {
			return d.bridge.Do(ctx, a.Power)
		})
		res.Async = true

	case Launch:
		if d.launcher == nil {
			res.Err = fmt.Errorf("%w: no launcher", ErrLaunchFailure)
			return res
		}
		d.async(ctx, res, func(context.Context) error {
			return d.launcher.Launch(a.Command, a.Args)
		})
		res.Async = true

	default:
		res.Err = fmt.Errorf("%w: %s", ErrUnknownAction, a.Name)
	}
	return res
}

func (d *Dispatcher) async(ctx context.Context, res Result, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res.Err = fn(ctx)
		select {
		case d.results <- res:
		case <-ctx.Done():
		}
	}()
}

// Results は非同期アクションの結果を返すチャネル
func (d *Dispatcher) Results() <-chan Result { return d.results }

// Toggles は切り替え状態を返す
func (d *Dispatcher) Toggles() *Toggles { return d.toggles }

// Wait は実行中の非同期アクションの終了を待つ
func (d *Dispatcher) Wait() { d.wg.Wait() }
