package credwatch

import (
	"context"
	"os"
	"time"
)

// pathState is the tuple a polling backend compares across ticks to decide
// whether a path changed: existence, identity (device+inode, so an atomic
// rename-replace or a symlink retarget is detected even when mtime doesn't
// change), modification time and size.
type pathState struct {
	exists bool
	device uint64
	inode  uint64
	mtime  time.Time
	size   int64
}

func (a pathState) changed(b pathState) bool {
	if a.exists != b.exists {
		return true
	}
	if !a.exists {
		return false
	}
	return a.device != b.device || a.inode != b.inode || !a.mtime.Equal(b.mtime) || a.size != b.size
}

// statPath stats path following symlinks. A missing file or a permission
// error that prevents stat'ing are both reported as a valid, non-existent
// state rather than an error: their later resolution is itself the change
// a caller is waiting for.
func statPath(path string) pathState {
	info, err := os.Stat(path)
	if err != nil {
		return pathState{exists: false}
	}
	st := pathState{
		exists: true,
		mtime:  info.ModTime(),
		size:   info.Size(),
	}
	st.device, st.inode = fileIdentity(info)
	return st
}

// pollSource is the portable change-detection backend: it stats every path
// on a fixed interval and ticks whenever any path's state transitions.
type pollSource struct {
	paths    []string
	interval time.Duration
}

func newPollSource(paths []string, interval time.Duration) *pollSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &pollSource{paths: paths, interval: interval}
}

func (p *pollSource) run(ctx context.Context, ticks chan<- struct{}) {
	states := make([]pathState, len(p.paths))
	for i, path := range p.paths {
		states[i] = statPath(path)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed := false
			for i, path := range p.paths {
				next := statPath(path)
				if states[i].changed(next) {
					changed = true
				}
				states[i] = next
			}
			if changed {
				sendTick(ticks)
			}
		}
	}
}
