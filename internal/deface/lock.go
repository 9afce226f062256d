package deface

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"deface/internal/logging"
	"deface/internal/services"
)

type unlocker interface {
	Unlock() error
}

// outputLock serialises writers of the same output path on one host.
type outputLock struct {
	path string
	lock unlocker
}

func lockOutput(lockDir, output string) (*outputLock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "output", "lock", "create lock directory", err)
	}
	sum := sha256.Sum256([]byte(output))
	path := filepath.Join(lockDir, hex.EncodeToString(sum[:])+".lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "output", "lock", "acquire lock", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, "output", "lock",
			fmt.Sprintf("%s is being written by another run", output), nil)
	}
	return &outputLock{path: path, lock: fl}, nil
}

func (l *outputLock) release() error {
	if l == nil {
		return nil
	}
	return l.lock.Unlock()
}

// releaseOrWarn releases the lock, logging a failure instead of returning it
// since the output has already been written or abandoned.
func (l *outputLock) releaseOrWarn(logger *slog.Logger) {
	if err := l.release(); err != nil {
		logging.WarnWithContext(logger, "failed to release output lock", "lock_release_failed",
			logging.Error(err),
			logging.Path("lock", l.path),
		)
	}
}
