package workflow

import "sync"

// notifier wakes local waiters when a run reaches a terminal status. Waiters
// also poll the store, so runs finished by another process are still seen.
type notifier struct {
	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{waiters: map[string][]chan struct{}{}}
}

func (n *notifier) subscribe(runID string) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	n.mu.Lock()
	n.waiters[runID] = append(n.waiters[runID], ch)
	n.mu.Unlock()
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		waiters := n.waiters[runID]
		for i, candidate := range waiters {
			if candidate == ch {
				n.waiters[runID] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(n.waiters[runID]) == 0 {
			delete(n.waiters, runID)
		}
	}
}

func (n *notifier) notify(runID string) {
	n.mu.Lock()
	waiters := n.waiters[runID]
	delete(n.waiters, runID)
	n.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}
