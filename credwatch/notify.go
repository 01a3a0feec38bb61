package credwatch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// coalesceWindow bounds how long the notify backend waits after the first
// relevant event before ticking, so that a burst of kernel events for one
// logical rotation (e.g. every file in a directory symlink swap) collapses
// into a single tick.
const coalesceWindow = 100 * time.Millisecond

// notifySource is the kernel-notification backend. Because the rotation
// pattern this package exists for swaps an intermediate directory symlink
// rather than touching the leaf files, it watches the directory containing
// each element of each path's symlink chain (see resolveWatchDirs), not just
// the leaf's parent.
type notifySource struct {
	logger *zap.Logger
	paths  []string

	watcher *fsnotify.Watcher
}

func newNotifySource(logger *zap.Logger, paths []string) (*notifySource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	n := &notifySource{logger: logger, paths: paths, watcher: watcher}
	if err := n.registerWatches(); err != nil {
		watcher.Close()
		return nil, err
	}
	return n, nil
}

// resolveWatchDirs returns the directories watched to observe a change to
// path: its own parent, and, for every symlink in path's chain (up to 8
// links), the directory containing the link's target. Only the final path
// element is checked for being a symlink; directory symlinks further up a
// path are not resolved, and their parents are watched only when they
// happen to be one of the directories above. A chain of length zero (path
// is not a symlink, or does not exist) still yields the leaf's parent.
func resolveWatchDirs(path string) []string {
	seen := map[string]struct{}{}
	order := []string{}
	add := func(dir string) {
		if dir == "" {
			return
		}
		if _, ok := seen[dir]; ok {
			return
		}
		seen[dir] = struct{}{}
		order = append(order, dir)
	}

	cur := path
	for depth := 0; depth < 8; depth++ {
		dir := filepath.Dir(cur)
		add(dir)

		info, err := os.Lstat(cur)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			break
		}
		target, err := os.Readlink(cur)
		if err != nil {
			break
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		cur = target
	}

	return order
}

func (n *notifySource) registerWatches() error {
	dirs := map[string]struct{}{}
	for _, p := range n.paths {
		for _, d := range resolveWatchDirs(p) {
			dirs[d] = struct{}{}
		}
	}

	// Start from a clean slate: the resolved chain may have changed shape
	// (e.g. a new intermediate symlink appeared), so stale watches are
	// dropped before the current set is registered.
	for _, existing := range n.watcher.WatchList() {
		_ = n.watcher.Remove(existing)
	}

	var firstErr error
	registered := 0
	for dir := range dirs {
		if err := n.watcher.Add(dir); err != nil {
			if os.IsNotExist(err) {
				// The directory doesn't exist yet (e.g. the mount hasn't
				// appeared). It is skipped here and retried at the next
				// re-registration, which only happens after an event on
				// some other watched directory.
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		registered++
	}

	if registered == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

func (n *notifySource) run(ctx context.Context, ticks chan<- struct{}) {
	defer n.watcher.Close()

	var coalesce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.logger.Debug("Received filesystem event", zap.String("path", event.Name), zap.Stringer("op", event.Op))
			if coalesce == nil {
				coalesce = time.After(coalesceWindow)
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Warn("Error watching credential paths", zap.Error(err))
		case <-coalesce:
			coalesce = nil
			// The watched inode set may be stale (an ancestor symlink may
			// have been retargeted); rebuild it before reporting the tick.
			if err := n.registerWatches(); err != nil {
				n.logger.Warn("Failed to re-register filesystem watches", zap.Error(err))
			}
			sendTick(ticks)
		}
	}
}
