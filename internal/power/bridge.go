package power

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrBridgeFailure は電源操作の要求が失敗したことを表す
var ErrBridgeFailure = errors.New("power bridge failure")

// Action は電源操作の種類
type Action uint8

const (
	Suspend Action = iota
	Hibernate
	Shutdown
)

func (a Action) String() string {
	switch a {
	case Suspend:
		return "SUSPEND"
	case Hibernate:
		return "HIBERNATE"
	case Shutdown:
		return "SHUTDOWN"
	}
	return fmt.Sprintf("power(%d)", uint8(a))
}

// ParseAction は設定ファイルの文字列から Action を求める
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(s) {
	case "SUSPEND":
		return Suspend, nil
	case "HIBERNATE":
		return Hibernate, nil
	case "SHUTDOWN", "POWEROFF":
		return Shutdown, nil
	}
	return 0, fmt.Errorf("unknown power action %q", s)
}

// Bridge はOSの電源/セッション管理への窓口
type Bridge interface {
	// Do は電源操作を要求する。呼び出し元のイベントループとは別のゴルーチンで呼ぶこと
	Do(ctx context.Context, a Action) error
	// Resumed はスリープからの復帰を通知する
	Resumed() <-chan struct{}
	Close() error
}

// notifyResumed は復帰通知を送る。受け手が読んでいなければまとめる
func notifyResumed(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
