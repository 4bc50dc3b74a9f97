package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/char5742/handycombo/internal/combo"
	"github.com/char5742/handycombo/internal/config"
	"github.com/char5742/handycombo/internal/dispatch"
	"github.com/char5742/handycombo/internal/event"
	"github.com/char5742/handycombo/internal/features"
	"github.com/char5742/handycombo/internal/metrics"
	"github.com/char5742/handycombo/internal/power"
	"github.com/holoplot/go-evdev"
	"github.com/rs/zerolog"
)

// InputSource は専有済みの物理デバイス
type InputSource interface {
	Path() string
	Axes() map[evdev.EvCode]event.AxisRange
	Events(ctx context.Context) <-chan features.SourceEvent
	Close() error
}

// Output は仮想デバイス。通過イベントと合成イベントの両方を受け取る
type Output interface {
	dispatch.Emitter
	Emit(e event.RawEvent) error
}

// Hider は物理デバイスのノードを他のプロセスから隠す
type Hider interface {
	Hide(path string) error
	Unhide() error
}

// FFRelay は振動の中継先を切り替える
type FFRelay interface {
	Attach(ctx context.Context, t features.FFTarget)
}

// ConnectFunc はデバイスが見つかるまで待ち、開いて返す
// ctx が終わったときだけエラーを返すこと
type ConnectFunc func(ctx context.Context) (InputSource, error)

// Status はサービスの状態のスナップショット
type Status struct {
	Running     bool                 `json:"running"`
	Connected   bool                 `json:"connected"`
	Device      string               `json:"device,omitempty"`
	ConnectedAt *time.Time           `json:"connected_at,omitempty"`
	Reconnects  uint64               `json:"reconnects"`
	Forwarded   uint64               `json:"forwarded"`
	Dropped     uint64               `json:"dropped"`
	Combos      map[string]uint64    `json:"combos"`
	LastResult  string               `json:"last_result,omitempty"`
	Toggles     dispatch.ToggleState `json:"toggles"`
}

// ComboService は物理デバイスを監視し、コンボの検出と仮想デバイスへの転送を行う
type ComboService struct {
	table      *config.Table
	matcher    *combo.Matcher
	out        Output
	dispatcher *dispatch.Dispatcher
	resumed    <-chan struct{}
	connect    ConnectFunc
	hider      Hider
	ff         FFRelay
	metrics    *metrics.Collector
	log        *zerolog.Logger

	// runners は Run の間だけ動かす補助ゴルーチン、closers は終了時の後始末
	runners []func(ctx context.Context)
	closers []func() error

	statusMutex sync.RWMutex
	status      Status
}

// ServiceOptions は ComboService の構成要素
// Hider, FF, Bridge, Launcher は nil でもよい
type ServiceOptions struct {
	Table    *config.Table
	Output   Output
	Connect  ConnectFunc
	Hider    Hider
	FF       FFRelay
	Bridge   power.Bridge
	Launcher dispatch.Launcher
	Toggles  *dispatch.Toggles
	Metrics  *metrics.Collector

	Runners []func(ctx context.Context)
	Closers []func() error
}

// NewService は構成要素を受け取ってサービスを作る
func NewService(opts ServiceOptions, log *zerolog.Logger) (*ComboService, error) {
	if opts.Table == nil || opts.Output == nil || opts.Connect == nil {
		return nil, errors.New("service needs a table, an output and a connect function")
	}
	matcher, err := combo.NewMatcher(opts.Table.Combos)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	s := &ComboService{
		table:      opts.Table,
		matcher:    matcher,
		out:        opts.Output,
		dispatcher: dispatch.New(opts.Output, opts.Bridge, opts.Launcher, opts.Toggles, log),
		connect:    opts.Connect,
		hider:      opts.Hider,
		ff:         opts.FF,
		metrics:    opts.Metrics,
		log:        log,
		runners:    opts.Runners,
		closers:    opts.Closers,
		status:     Status{Combos: make(map[string]uint64)},
	}
	if opts.Bridge != nil {
		s.resumed = opts.Bridge.Resumed()
	}
	return s, nil
}

// Toggles は切り替え状態を返す
func (s *ComboService) Toggles() *dispatch.Toggles { return s.dispatcher.Toggles() }

// Table は実行時の表を返す
func (s *ComboService) Table() *config.Table { return s.table }

// Status は現在の状態を返す
func (s *ComboService) Status() Status {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()

	st := s.status
	st.Combos = make(map[string]uint64, len(s.status.Combos))
	for k, v := range s.status.Combos {
		st.Combos[k] = v
	}
	if st.ConnectedAt != nil {
		at := *st.ConnectedAt
		st.ConnectedAt = &at
	}
	st.Toggles = s.dispatcher.Toggles().Snapshot()
	return st
}

// IsRunning はサービスが実行中かどうかを返す
func (s *ComboService) IsRunning() bool {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.status.Running
}

// Run は ctx が終わるまでデバイスの接続とイベント処理を繰り返す
// 終了時には専有と非表示を解除し、仮想デバイスを破棄する
func (s *ComboService) Run(ctx context.Context) error {
	s.updateStatus(func(st *Status) { st.Running = true })
	defer s.updateStatus(func(st *Status) { st.Running = false })

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, run := range s.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}
	defer func() {
		cancel()
		s.shutdown(&wg)
	}()

	s.log.Info().Int("combos", len(s.table.Combos)).Msg("サービスを開始しました")
	for {
		src, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("デバイスの接続に失敗しました: %w", err)
		}

		err = s.session(ctx, src)
		s.disconnect(ctx, src)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn().Err(err).Str("path", src.Path()).Msg("デバイスが切断されました。再接続を待ちます")
		s.metrics.Reconnected()
		s.updateStatus(func(st *Status) { st.Reconnects++ })
	}
}

// session は1回の接続の間イベントを処理する
func (s *ComboService) session(ctx context.Context, src InputSource) error {
	axes := s.axisMap(src)

	if s.hider != nil {
		if err := s.hider.Hide(src.Path()); err != nil {
			s.log.Warn().Err(err).Str("path", src.Path()).Msg("デバイスを隠せませんでした")
		}
	}
	if t, ok := src.(features.FFTarget); ok && s.ff != nil {
		s.ff.Attach(ctx, t)
	}

	now := time.Now()
	s.metrics.SetConnected(true)
	s.updateStatus(func(st *Status) {
		st.Connected = true
		st.Device = src.Path()
		st.ConnectedAt = &now
	})
	s.log.Info().Str("path", src.Path()).Msg("デバイスを専有しました")

	events := src.Events(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case se, ok := <-events:
			if !ok {
				return features.ErrDeviceDisconnected
			}
			if se.Err != nil {
				if err := s.readError(se.Err); err != nil {
					return err
				}
				continue
			}
			s.handle(ctx, se.Event, axes)

		case res := <-s.dispatcher.Results():
			s.report(res)

		case <-s.resumed:
			s.log.Info().Msg("スリープから復帰しました")
			s.matcher.Reset()
		}
	}
}

// readError は読み込みエラーを処理し、接続を終えるべきならエラーを返す
func (s *ComboService) readError(err error) error {
	switch {
	case errors.Is(err, features.ErrDeviceDisconnected):
		return err
	case errors.Is(err, features.ErrSyncDropped):
		s.log.Warn().Msg("イベントが失われたため、コンボの状態をリセットします")
		s.matcher.Reset()
		s.drop("sync")
	case errors.Is(err, event.ErrMalformedEvent):
		s.log.Debug().Err(err).Msg("未対応のイベントを無視します")
		s.drop("malformed")
	default:
		s.log.Warn().Err(err).Msg("イベントの読み込みに失敗しました")
		s.drop("read")
	}
	return nil
}

// handle はイベント1件をコンボ判定に通し、出力を処理する
func (s *ComboService) handle(ctx context.Context, ev event.RawEvent, axes event.AxisMap) {
	s.metrics.Event(ev.Kind.String())
	if !s.table.Allows(ev) {
		s.log.Warn().Stringer("event", ev).Msg("仮想デバイスにないイベントを捨てます")
		s.drop("capability")
		return
	}
	ev = axes.Rescale(ev)

	for _, o := range s.matcher.Feed(ev) {
		switch o.Kind {
		case combo.Forward:
			s.forward(o.Event)
		case combo.Fire:
			s.fire(ctx, o.Combo)
		}
	}
}

func (s *ComboService) forward(e event.RawEvent) {
	if err := s.out.Emit(e); err != nil {
		s.log.Warn().Err(err).Stringer("event", e).Msg("イベントを転送できませんでした")
		s.drop("write")
		return
	}
	s.metrics.Forwarded()
	s.updateStatus(func(st *Status) { st.Forwarded++ })
}

func (s *ComboService) fire(ctx context.Context, d *combo.Definition) {
	s.metrics.ComboFired(d.Name)
	s.updateStatus(func(st *Status) { st.Combos[d.Name]++ })
	s.log.Debug().Str("combo", d.Name).Str("action", d.Action).Msg("コンボを検出しました")

	a, ok := s.table.Action(d.Action)
	if !ok {
		s.report(dispatch.Result{Action: d.Action, Err: fmt.Errorf("%w: %s", dispatch.ErrUnknownAction, d.Action)})
		return
	}
	res := s.dispatcher.Dispatch(ctx, a)
	if !res.Async || res.Err != nil {
		s.report(res)
	}
}

// report はアクションの結果を記録する
func (s *ComboService) report(res dispatch.Result) {
	s.metrics.Dispatched(res.Kind.String(), res.Err)
	s.updateStatus(func(st *Status) { st.LastResult = res.String() })
	if res.Err != nil {
		s.log.Error().Err(res.Err).Str("action", res.Action).Msg("アクションの実行に失敗しました")
		return
	}
	s.log.Info().Str("action", res.Action).Stringer("kind", res.Kind).Msg("アクションを実行しました")
}

func (s *ComboService) drop(reason string) {
	s.metrics.Dropped(reason)
	s.updateStatus(func(st *Status) { st.Dropped++ })
}

// axisMap は物理デバイスの軸範囲を仮想デバイスの範囲に合わせる変換表を作る
func (s *ComboService) axisMap(src InputSource) event.AxisMap {
	m := event.AxisMap{}
	for code, from := range src.Axes() {
		axis, ok := s.table.Capabilities.Axis(code)
		if !ok {
			continue
		}
		m.Set(code, from, event.AxisRange{Min: axis.Min, Max: axis.Max})
	}
	return m
}

// disconnect は接続の後始末をする。押しっぱなしのキーを残さない
func (s *ComboService) disconnect(ctx context.Context, src InputSource) {
	s.matcher.Reset()
	if err := src.Close(); err != nil {
		s.log.Debug().Err(err).Msg("デバイスのクローズに失敗しました")
	}
	if s.ff != nil {
		s.ff.Attach(ctx, nil)
	}
	if err := s.out.ReleaseHeld(); err != nil {
		s.log.Warn().Err(err).Msg("押下中のキーを離せませんでした")
	}
	if s.hider != nil {
		if err := s.hider.Unhide(); err != nil {
			s.log.Warn().Err(err).Msg("デバイスを元に戻せませんでした")
		}
	}
	s.metrics.SetConnected(false)
	s.updateStatus(func(st *Status) {
		st.Connected = false
		st.Device = ""
		st.ConnectedAt = nil
	})
}

func (s *ComboService) shutdown(wg *sync.WaitGroup) {
	s.dispatcher.Wait()
	wg.Wait()
	for _, c := range s.closers {
		if err := c(); err != nil {
			s.log.Warn().Err(err).Msg("終了処理に失敗しました")
		}
	}
	s.log.Info().Msg("サービスを停止しました")
}

func (s *ComboService) updateStatus(fn func(st *Status)) {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()
	fn(&s.status)
}
