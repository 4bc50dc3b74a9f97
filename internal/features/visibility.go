package features

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Visibility は物理デバイスのノードを隠しディレクトリへ移し、他のプログラムから見えなくする
type Visibility struct {
	inputDir string
	hideDir  string
	log      *zerolog.Logger

	mu     sync.Mutex
	hidden map[string]string // 隠した先 → 元のパス
}

func NewVisibility(inputDir, hideDir string, log *zerolog.Logger) *Visibility {
	return &Visibility{
		inputDir: inputDir,
		hideDir:  hideDir,
		log:      log,
		hidden:   make(map[string]string),
	}
}

// Hide はノードを隠しディレクトリへ移す
func (v *Visibility) Hide(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(v.hideDir, 0o755); err != nil {
		return fmt.Errorf("隠しディレクトリを作成できません: %w", err)
	}
	dst := filepath.Join(v.hideDir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("%s を隠せません: %w", path, err)
	}
	v.hidden[dst] = path
	v.log.Info().Str("path", path).Msg("デバイスを隠しました")
	return nil
}

// Unhide は隠したノードをすべて元に戻す。何度呼んでもよい
// ノードがすでに消えていれば (切断済み) 何もしない
func (v *Visibility) Unhide() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var errs []error
	for dst, src := range v.hidden {
		if err := restore(dst, src); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(v.hidden, dst)
		v.log.Info().Str("path", src).Msg("デバイスを元に戻しました")
	}
	return errors.Join(errs...)
}

// RestoreAll は前回の異常終了で隠したままのノードを元に戻す
func (v *Visibility) RestoreAll() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := os.ReadDir(v.hideDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range entries {
		dst := filepath.Join(v.hideDir, e.Name())
		src := filepath.Join(v.inputDir, e.Name())
		if _, err := os.Stat(src); err == nil {
			// 同じ名前のノードが作り直されているので古い方は不要
			_ = os.Remove(dst)
			continue
		}
		if err := restore(dst, src); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(v.hidden, dst)
		v.log.Info().Str("path", src).Msg("隠したままのデバイスを元に戻しました")
	}
	return errors.Join(errs...)
}

// Hidden は現在隠しているノードの元のパスを返す
func (v *Visibility) Hidden() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	paths := make([]string, 0, len(v.hidden))
	for _, src := range v.hidden {
		paths = append(paths, src)
	}
	return paths
}

func restore(dst, src string) error {
	err := os.Rename(dst, src)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("%s を元に戻せません: %w", src, err)
}
