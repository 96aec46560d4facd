package bufferpool

import (
	pagemanager "github.com/sushant-115/sukunadb/core/storage_engine/page_manager"
)

// PageGuard owns one unit of pin on a frame and releases it on Drop,
// reporting the dirty intent accumulated through GetDataMut. Guards are
// single-owner values: Drop nils the references, so a second Drop is a
// no-op. Callers are expected to `defer guard.Drop()` immediately after
// acquiring one, so no early return can leak the pin.
type PageGuard struct {
	bpm     *BufferPoolManager
	page    *pagemanager.Page
	isDirty bool
}

// Drop unpins the page with the recorded dirty flag. If the pool rejects
// the unpin (for example after DeletePage), the guard absorbs it silently.
// Drop is idempotent.
func (g *PageGuard) Drop() {
	if g.bpm != nil && g.page != nil {
		_ = g.bpm.UnpinPage(g.page.GetPageID(), g.isDirty, pagemanager.AccessUnknown)
	}
	g.bpm = nil
	g.page = nil
	g.isDirty = false
}

// GetPageID returns the guarded page's id, or InvalidPageID after Drop.
func (g *PageGuard) GetPageID() pagemanager.PageID {
	if g.page == nil {
		return pagemanager.InvalidPageID
	}
	return g.page.GetPageID()
}

// GetData returns the page contents for reading.
func (g *PageGuard) GetData() []byte {
	if g.page == nil {
		return nil
	}
	return g.page.GetData()
}

// GetDataMut returns the page contents for writing and records the dirty
// intent that Drop will report.
func (g *PageGuard) GetDataMut() []byte {
	if g.page == nil {
		return nil
	}
	g.isDirty = true
	return g.page.GetData()
}

// ReadPageGuard wraps a basic guard plus a held read latch on the frame.
// Drop releases the read latch, then the pin.
type ReadPageGuard struct {
	guard PageGuard
}

// Drop releases the read latch and the pin. Idempotent.
func (g *ReadPageGuard) Drop() {
	if g.guard.page != nil {
		g.guard.page.RUnlock()
	}
	g.guard.Drop()
}

func (g *ReadPageGuard) GetPageID() pagemanager.PageID { return g.guard.GetPageID() }
func (g *ReadPageGuard) GetData() []byte               { return g.guard.GetData() }

// WritePageGuard wraps a basic guard plus a held write latch on the frame.
// The guard's dirty flag is set at construction: holding the write latch
// declares writer intent, so Drop always reports the page dirty.
type WritePageGuard struct {
	guard PageGuard
}

// Drop releases the write latch and the pin. Idempotent.
func (g *WritePageGuard) Drop() {
	if g.guard.page != nil {
		g.guard.page.Unlock()
	}
	g.guard.Drop()
}

func (g *WritePageGuard) GetPageID() pagemanager.PageID { return g.guard.GetPageID() }
func (g *WritePageGuard) GetData() []byte               { return g.guard.GetData() }
func (g *WritePageGuard) GetDataMut() []byte            { return g.guard.GetDataMut() }

// NewPageGuarded allocates a new page through NewPage and wraps it in a
// basic guard.
func (bpm *BufferPoolManager) NewPageGuarded() (*PageGuard, pagemanager.PageID, error) {
	page, pid, err := bpm.NewPage()
	if err != nil {
		return nil, pagemanager.InvalidPageID, err
	}
	return &PageGuard{bpm: bpm, page: page}, pid, nil
}

// FetchPageBasic fetches the page and wraps it in a basic guard with no
// latch held.
func (bpm *BufferPoolManager) FetchPageBasic(pageID pagemanager.PageID) (*PageGuard, error) {
	page, err := bpm.FetchPage(pageID, pagemanager.AccessUnknown)
	if err != nil {
		return nil, err
	}
	return &PageGuard{bpm: bpm, page: page}, nil
}

// FetchPageRead fetches the page, takes its read latch and wraps both in a
// read guard. The latch is acquired after the pin, outside the pool latch.
func (bpm *BufferPoolManager) FetchPageRead(pageID pagemanager.PageID) (*ReadPageGuard, error) {
	page, err := bpm.FetchPage(pageID, pagemanager.AccessUnknown)
	if err != nil {
		return nil, err
	}
	page.RLock()
	return &ReadPageGuard{guard: PageGuard{bpm: bpm, page: page}}, nil
}

// FetchPageWrite fetches the page, takes its write latch and wraps both in a
// write guard.
func (bpm *BufferPoolManager) FetchPageWrite(pageID pagemanager.PageID) (*WritePageGuard, error) {
	page, err := bpm.FetchPage(pageID, pagemanager.AccessUnknown)
	if err != nil {
		return nil, err
	}
	page.Lock()
	return &WritePageGuard{guard: PageGuard{bpm: bpm, page: page, isDirty: true}}, nil
}
