package native

import (
	"time"

	"tellmewhen/internal/event"
)

type pendingMove struct {
	cookie uint32
	path   string
	isDir  bool
	at     time.Time
}

// renamePairer holds rename sources until their target arrives. Sources that
// are not matched within the window are handed back for degradation.
type renamePairer struct {
	window  time.Duration
	pending map[uint32]pendingMove
	order   []uint32
}

func newRenamePairer(window time.Duration) *renamePairer {
	if window <= 0 {
		window = DefaultRenameWindow
	}
	return &renamePairer{
		window:  window,
		pending: make(map[uint32]pendingMove),
	}
}

// hold records a rename source. A source already held under the same cookie
// is returned so the caller can degrade it.
func (p *renamePairer) hold(cookie uint32, path string, isDir bool, at time.Time) (pendingMove, bool) {
	previous, replaced := p.pending[cookie]
	if !replaced {
		p.order = append(p.order, cookie)
	}
	p.pending[cookie] = pendingMove{cookie: cookie, path: path, isDir: isDir, at: at}
	return previous, replaced
}

func (p *renamePairer) match(cookie uint32) (pendingMove, bool) {
	move, ok := p.pending[cookie]
	if !ok {
		return pendingMove{}, false
	}
	delete(p.pending, cookie)
	p.removeOrder(cookie)
	return move, true
}

// expired removes and returns sources older than the window, oldest first.
func (p *renamePairer) expired(now time.Time) []pendingMove {
	var out []pendingMove
	for len(p.order) > 0 {
		cookie := p.order[0]
		move := p.pending[cookie]
		if now.Sub(move.at) < p.window {
			break
		}
		out = append(out, move)
		delete(p.pending, cookie)
		p.order = p.order[1:]
	}
	return out
}

func (p *renamePairer) drain() []pendingMove {
	out := make([]pendingMove, 0, len(p.order))
	for _, cookie := range p.order {
		out = append(out, p.pending[cookie])
	}
	p.pending = make(map[uint32]pendingMove)
	p.order = nil
	return out
}

// deadline is when the oldest held source expires.
func (p *renamePairer) deadline() (time.Time, bool) {
	if len(p.order) == 0 {
		return time.Time{}, false
	}
	return p.pending[p.order[0]].at.Add(p.window), true
}

func (p *renamePairer) len() int {
	return len(p.order)
}

func (p *renamePairer) removeOrder(cookie uint32) {
	for i, candidate := range p.order {
		if candidate == cookie {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// unmatchedSource degrades a rename source that never found its target.
func unmatchedSource(move pendingMove) event.FileSystemEvent {
	return event.FileSystemEvent{
		Kind:       event.FsDeleted,
		Path:       move.path,
		IsDir:      move.isDir,
		OccurredAt: move.at,
	}
}
