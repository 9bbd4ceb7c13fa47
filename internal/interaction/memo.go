// internal/interaction/memo.go
package interaction

import (
	"sync"

	"github.com/chromedp/cdproto/cdp"

	"github.com/xkilldash9x/noticescan/api/schemas"
)

// Memo remembers click results by clickable node within one outer scan, so a
// clickable found by several techniques is only clicked once.
type Memo struct {
	mu      sync.Mutex
	results map[cdp.NodeID]*schemas.ClickResult
}

func NewMemo() *Memo {
	return &Memo{results: make(map[cdp.NodeID]*schemas.ClickResult)}
}

func (m *Memo) Lookup(node cdp.NodeID) (*schemas.ClickResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cr, ok := m.results[node]
	return cr, ok
}

func (m *Memo) Store(node cdp.NodeID, cr *schemas.ClickResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[node] = cr
}

// Len is the number of distinct clickables clicked so far.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}
