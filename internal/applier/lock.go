package applier

import (
	"fmt"

	"github.com/gofrs/flock"

	"accrualsync/internal/model"
)

// lockPath 主台账的锁文件：<master>.lock；锁随进程退出由内核释放，文件本身保留
func lockPath(master string) string {
	return master + ".lock"
}

// acquireLock 非阻塞地获取主台账的独占锁；已被持有时返回 ErrLocked
func acquireLock(master string) (*flock.Flock, error) {
	lock := flock.New(lockPath(master))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrLocked, lock.Path())
	}
	return lock, nil
}
