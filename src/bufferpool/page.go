package bufferpool

import "sync"

// Page is the in-memory image of a data page. Callers hold the latch while
// reading or modifying Data.
type Page struct {
	sync.RWMutex
	data []byte
}

func NewPage(data []byte) *Page {
	return &Page{data: data}
}

func (p *Page) Data() []byte {
	return p.data
}

func (p *Page) SetData(d []byte) {
	p.data = d
}

func (p *Page) snapshot() []byte {
	p.RLock()
	defer p.RUnlock()

	return append([]byte(nil), p.data...)
}
