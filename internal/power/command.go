package power

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// Runner は外部コマンドを実行して終了を待つ
type Runner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%v: %s", err, out)
	}
	return nil
}

// Command はシステムバスを使えない環境向けに systemctl を呼ぶ Bridge
// 復帰通知は届かない
type Command struct {
	run     Runner
	resumed chan struct{}
	log     *zerolog.Logger
}

// NewCommand は Command を作る。run が nil なら os/exec で実行する
func NewCommand(run Runner, log *zerolog.Logger) *Command {
	if run == nil {
		run = runCommand
	}
	return &Command{run: run, resumed: make(chan struct{}), log: log}
}

func (c *Command) Do(ctx context.Context, a Action) error {
	var verb string
	switch a {
	case Suspend:
		verb = "suspend"
	case Hibernate:
		verb = "hibernate"
	case Shutdown:
		verb = "poweroff"
	default:
		return fmt.Errorf("%w: %s", ErrBridgeFailure, a)
	}
	c.log.Info().Str("verb", verb).Msg("systemctl で電源操作を実行します")
	if err := c.run(ctx, "systemctl", verb); err != nil {
		return fmt.Errorf("%w: systemctl %s: %v", ErrBridgeFailure, verb, err)
	}
	return nil
}

func (c *Command) Resumed() <-chan struct{} { return c.resumed }

func (c *Command) Close() error { return nil }

// Connect は logind への接続を試み、失敗したら systemctl にフォールバックする
func Connect(log *zerolog.Logger) Bridge {
	l, err := NewLogind(log)
	if err == nil {
		return l
	}
	log.Warn().Err(err).Msg("logind に接続できないため systemctl を使います")
	return NewCommand(nil, log)
}
