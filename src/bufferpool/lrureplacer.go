package bufferpool

import (
	"container/list"
	"sync"

	"github.com/go-faster/errors"
)

var ErrNoVictim = errors.New("no victim available")

// LRUReplacer keeps unpinned frames in least recently unpinned order.
type LRUReplacer struct {
	mu     sync.Mutex
	lru    *list.List
	frames map[uint64]*list.Element
}

var (
	_ Replacer = &LRUReplacer{}
)

func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		lru:    list.New(),
		frames: make(map[uint64]*list.Element),
	}
}

func (l *LRUReplacer) Pin(frameID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.frames[frameID]; ok {
		l.lru.Remove(elem)
		delete(l.frames, frameID)
	}
}

func (l *LRUReplacer) Unpin(frameID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.frames[frameID]; exists {
		return
	}

	elem := l.lru.PushFront(frameID)
	l.frames[frameID] = elem
}

func (l *LRUReplacer) ChooseVictim() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem := l.lru.Back()
	if elem == nil {
		return 0, ErrNoVictim
	}

	frameID := elem.Value.(uint64)

	l.lru.Remove(elem)
	delete(l.frames, frameID)

	return frameID, nil
}

func (l *LRUReplacer) GetSize() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return uint64(len(l.frames))
}
