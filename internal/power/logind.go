package power

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	logindDest      = "org.freedesktop.login1"
	logindPath      = dbus.ObjectPath("/org/freedesktop/login1")
	logindManager   = "org.freedesktop.login1.Manager"
	prepareForSleep = logindManager + ".PrepareForSleep"
)

// caller は dbus.BusObject のうち使うメソッドだけを切り出したもの
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Logind は systemd-logind を D-Bus 経由で操作する Bridge
type Logind struct {
	conn    *dbus.Conn
	obj     caller
	signals chan *dbus.Signal
	resumed chan struct{}
	log     *zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewLogind はシステムバスに接続し、PrepareForSleep シグナルを購読する
func NewLogind(log *zerolog.Logger) (*Logind, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect system bus: %v", ErrBridgeFailure, err)
	}
	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(logindManager),
		dbus.WithMatchMember("PrepareForSleep"),
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: subscribe PrepareForSleep: %v", ErrBridgeFailure, err)
	}

	l := newLogind(conn.Object(logindDest, logindPath), log)
	l.conn = conn
	conn.Signal(l.signals)
	go l.watch()
	return l, nil
}

func newLogind(obj caller, log *zerolog.Logger) *Logind {
	return &Logind{
		obj:     obj,
		signals: make(chan *dbus.Signal, 8),
		resumed: make(chan struct{}, 1),
		log:     log,
		done:    make(chan struct{}),
	}
}

// Do は logind の Suspend / Hibernate / PowerOff を呼ぶ
func (l *Logind) Do(ctx context.Context, a Action) error {
	var method string
	switch a {
	case Suspend:
		method = logindManager + ".Suspend"
	case Hibernate:
		method = logindManager + ".Hibernate"
	case Shutdown:
		method = logindManager + ".PowerOff"
	default:
		return fmt.Errorf("%w: %s", ErrBridgeFailure, a)
	}

	l.log.Info().Str("method", method).Msg("logind に電源操作を要求します")
	// interactive=false: polkit の問い合わせを行わない
	if call := l.obj.CallWithContext(ctx, method, 0, false); call.Err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBridgeFailure, method, call.Err)
	}
	return nil
}

// Resumed は PrepareForSleep(false) を受け取るたびに通知する
func (l *Logind) Resumed() <-chan struct{} { return l.resumed }

// Close はバス接続を閉じる。何度呼んでもよい
func (l *Logind) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		if l.conn != nil {
			l.conn.RemoveSignal(l.signals)
			err = l.conn.Close()
		}
	})
	return err
}

func (l *Logind) watch() {
	for {
		select {
		case <-l.done:
			return
		case sig, ok := <-l.signals:
			if !ok {
				return
			}
			l.handleSignal(sig)
		}
	}
}

func (l *Logind) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != prepareForSleep || len(sig.Body) == 0 {
		return
	}
	start, ok := sig.Body[0].(bool)
	if !ok {
		return
	}
	if start {
		l.log.Info().Msg("スリープに入ります")
		return
	}
	l.log.Info().Msg("スリープから復帰しました")
	notifyResumed(l.resumed)
}
