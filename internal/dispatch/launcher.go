package dispatch

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// Launcher は外部プログラムを起動する。終了は待たない
type Launcher interface {
	Launch(command string, args []string) error
}

// ExecLauncher は os/exec で子プロセスを起動し、バックグラウンドで回収する
type ExecLauncher struct {
	log *zerolog.Logger
}

func NewExecLauncher(log *zerolog.Logger) *ExecLauncher {
	return &ExecLauncher{log: log}
}

func (l *ExecLauncher) Launch(command string, args []string) error {
	cmd := exec.Command(command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLaunchFailure, command, err)
	}
	l.log.Info().Str("command", command).Int("pid", cmd.Process.Pid).Msg("外部プログラムを起動しました")
	go func() {
		if err := cmd.Wait(); err != nil {
			l.log.Warn().Err(err).Str("command", command).Msg("外部プログラムが異常終了しました")
		}
	}()
	return nil
}
