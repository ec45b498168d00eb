package bufferpool

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"

	"github.com/Blackdeer1524/enginecore/src/pkg/assert"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/pkg/optional"
)

const noFrame = ^uint64(0)

var (
	ErrNoSuchPage  = errors.New("no such page")
	ErrNoFreeFrame = errors.New("every frame is pinned")
)

type Replacer interface {
	Pin(frameID uint64)
	Unpin(frameID uint64)
	ChooseVictim() (uint64, error)
	GetSize() uint64
}

type DiskManager interface {
	ReadPage(pageIdent common.PageIdentity) ([]byte, error)
	WritePage(pageIdent common.PageIdentity, data []byte) error
}

// WAL is the part of the redo log the buffer pool needs: a page may only
// reach disk after the log describing its changes did.
type WAL interface {
	WaitForFlush(ctx context.Context, lsn common.LSN) error
}

type frame struct {
	Page      *Page
	PinCount  int
	PageIdent common.PageIdentity
	dirty     bool
	pageLSN   common.LSN
}

type DirtyPage struct {
	PageIdent common.PageIdentity
	// RecLSN is the LSN of the first change since the page was last clean.
	RecLSN  common.LSN
	PageLSN common.LSN
}

type Stats struct {
	Size      uint64
	Free      int
	Dirty     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

type Manager struct {
	poolSize    uint64
	pageToFrame map[common.PageIdentity]uint64
	frames      []frame
	emptyFrames []uint64

	replacer Replacer

	diskManager    DiskManager
	wal            WAL
	DirtyPageTable map[common.PageIdentity]common.LSN

	// fastPath guards the bookkeeping above; slowPath serializes loads and
	// evictions, which do I/O.
	fastPath sync.Mutex
	slowPath sync.Mutex

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	flushes   atomic.Uint64
}

func New(
	poolSize uint64,
	replacer Replacer,
	diskManager DiskManager,
	wal WAL,
) (*Manager, error) {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")

	emptyFrames := make([]uint64, poolSize)
	for i := range poolSize {
		emptyFrames[i] = i
	}

	return &Manager{
		poolSize:       poolSize,
		pageToFrame:    make(map[common.PageIdentity]uint64),
		frames:         make([]frame, poolSize),
		emptyFrames:    emptyFrames,
		replacer:       replacer,
		diskManager:    diskManager,
		wal:            wal,
		DirtyPageTable: make(map[common.PageIdentity]common.LSN),
	}, nil
}

// SetWAL attaches the redo log after construction; the log itself needs the
// buffer pool to compute checkpoints.
func (m *Manager) SetWAL(wal WAL) {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	m.wal = wal
}

func (m *Manager) Unpin(pIdent common.PageIdentity) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[pIdent]
	if !ok {
		return ErrNoSuchPage
	}

	m.unpinFrame(frameID)

	return nil
}

func (m *Manager) unpinFrame(frameID uint64) {
	frame := &m.frames[frameID]

	assert.Assert(frame.PinCount > 0, "invalid pin count")

	frame.PinCount--
	if frame.PinCount == 0 {
		m.replacer.Unpin(frameID)
	}
}

func (m *Manager) pinFrame(frameID uint64) {
	m.frames[frameID].PinCount++
	m.replacer.Pin(frameID)
}

// GetPage returns the pinned page, reading it from disk if needed.
func (m *Manager) GetPage(ctx context.Context, pIdent common.PageIdentity) (*Page, error) {
	m.fastPath.Lock()
	if frameID, ok := m.pageToFrame[pIdent]; ok {
		m.pinFrame(frameID)
		m.fastPath.Unlock()
		m.hits.Add(1)

		return m.frames[frameID].Page, nil
	}
	m.fastPath.Unlock()

	m.slowPath.Lock()
	defer m.slowPath.Unlock()

	m.fastPath.Lock()
	if frameID, ok := m.pageToFrame[pIdent]; ok {
		m.pinFrame(frameID)
		m.fastPath.Unlock()
		m.hits.Add(1)

		return m.frames[frameID].Page, nil
	}
	m.fastPath.Unlock()

	m.misses.Add(1)

	frameID := m.reserveFrame()
	if frameID == noFrame {
		evicted, err := m.evictOneLocked(ctx)
		if err != nil {
			return nil, err
		}

		if !evicted {
			return nil, ErrNoFreeFrame
		}

		frameID = m.reserveFrame()
		assert.Assert(frameID != noFrame, "evicted frame was taken behind the slow path")
	}

	data, err := m.diskManager.ReadPage(pIdent)
	if err != nil {
		m.fastPath.Lock()
		m.frames[frameID] = frame{}
		m.emptyFrames = append(m.emptyFrames, frameID)
		m.fastPath.Unlock()

		return nil, errors.Wrapf(err, "read page %s", pIdent)
	}

	page := NewPage(data)

	m.fastPath.Lock()
	m.frames[frameID] = frame{
		Page:      page,
		PinCount:  1,
		PageIdent: pIdent,
	}
	m.pageToFrame[pIdent] = frameID
	m.fastPath.Unlock()

	return page, nil
}

func (m *Manager) reserveFrame() uint64 {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	if len(m.emptyFrames) == 0 {
		return noFrame
	}

	id := m.emptyFrames[0]
	m.emptyFrames = m.emptyFrames[1:]
	m.frames[id].PinCount = 1
	m.replacer.Pin(id)

	return id
}

// MarkDirty records a change with the given LSN on a pinned page.
func (m *Manager) MarkDirty(pIdent common.PageIdentity, lsn common.LSN) error {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	frameID, ok := m.pageToFrame[pIdent]
	if !ok {
		return ErrNoSuchPage
	}

	f := &m.frames[frameID]
	assert.Assert(f.PinCount > 0, "page %s modified while unpinned", pIdent)

	if !f.dirty {
		f.dirty = true
		m.DirtyPageTable[pIdent] = lsn
	}
	f.pageLSN = max(f.pageLSN, lsn)

	return nil
}

func (m *Manager) OldestDirtyLSN() optional.Optional[common.LSN] {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	if len(m.DirtyPageTable) == 0 {
		return optional.None[common.LSN]()
	}

	oldest := common.LSN(^uint64(0))
	for _, lsn := range m.DirtyPageTable {
		oldest = min(oldest, lsn)
	}

	return optional.Some(oldest)
}

// DirtyPages returns up to limit dirty pages, oldest first.
func (m *Manager) DirtyPages(limit int) []DirtyPage {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	pages := make([]DirtyPage, 0, len(m.DirtyPageTable))
	for ident, recLSN := range m.DirtyPageTable {
		pages = append(pages, DirtyPage{
			PageIdent: ident,
			RecLSN:    recLSN,
			PageLSN:   m.frames[m.pageToFrame[ident]].pageLSN,
		})
	}

	slices.SortFunc(pages, func(a, b DirtyPage) int {
		return cmp.Or(
			cmp.Compare(a.RecLSN, b.RecLSN),
			cmp.Compare(a.PageIdent.FileID, b.PageIdent.FileID),
			cmp.Compare(a.PageIdent.PageID, b.PageIdent.PageID),
		)
	})

	if limit >= 0 && len(pages) > limit {
		pages = pages[:limit]
	}

	return pages
}

// FlushPage writes a dirty page to disk once the log covering its newest
// change is durable.
func (m *Manager) FlushPage(ctx context.Context, pIdent common.PageIdentity) error {
	m.fastPath.Lock()
	frameID, ok := m.pageToFrame[pIdent]
	if !ok {
		m.fastPath.Unlock()
		return errors.Wrapf(ErrNoSuchPage, "%s", pIdent)
	}

	f := &m.frames[frameID]
	if !f.dirty {
		m.fastPath.Unlock()
		return nil
	}

	m.pinFrame(frameID)
	page, lsn := f.Page, f.pageLSN
	m.fastPath.Unlock()

	err := m.writeOut(ctx, pIdent, page, lsn)

	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	if err == nil {
		m.markCleanLocked(f, lsn)
	}
	m.unpinFrame(frameID)

	return err
}

func (m *Manager) writeOut(ctx context.Context, pIdent common.PageIdentity, page *Page, lsn common.LSN) error {
	m.fastPath.Lock()
	wal := m.wal
	m.fastPath.Unlock()

	if wal != nil {
		if err := wal.WaitForFlush(ctx, lsn); err != nil {
			return errors.Wrapf(err, "wait for redo up to %d", lsn)
		}
	}

	if err := m.diskManager.WritePage(pIdent, page.snapshot()); err != nil {
		return errors.Wrapf(err, "write page %s", pIdent)
	}

	m.flushes.Add(1)

	return nil
}

// markCleanLocked clears the dirty state unless the page changed while it
// was being written.
func (m *Manager) markCleanLocked(f *frame, flushedLSN common.LSN) {
	if f.pageLSN != flushedLSN {
		m.DirtyPageTable[f.PageIdent] = flushedLSN
		return
	}

	f.dirty = false
	delete(m.DirtyPageTable, f.PageIdent)
}

func (m *Manager) FlushAllPages(ctx context.Context) error {
	for {
		pages := m.DirtyPages(-1)
		if len(pages) == 0 {
			return nil
		}

		for _, p := range pages {
			if err := m.FlushPage(ctx, p.PageIdent); err != nil {
				return err
			}
		}
	}
}

// Evict frees up to n unpinned frames, flushing dirty victims first, and
// returns how many frames it freed.
func (m *Manager) Evict(ctx context.Context, n int) (int, error) {
	m.slowPath.Lock()
	defer m.slowPath.Unlock()

	evicted := 0
	for evicted < n {
		ok, err := m.evictOneLocked(ctx)
		if err != nil {
			return evicted, err
		}

		if !ok {
			break
		}
		evicted++
	}

	return evicted, nil
}

// evictOneLocked must be called with slowPath held.
func (m *Manager) evictOneLocked(ctx context.Context) (bool, error) {
	for attempts := m.replacer.GetSize(); attempts > 0; attempts-- {
		victim, err := m.replacer.ChooseVictim()
		if errors.Is(err, ErrNoVictim) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		m.fastPath.Lock()
		f := &m.frames[victim]
		if f.PinCount > 0 {
			m.fastPath.Unlock()
			continue
		}

		if f.dirty {
			f.PinCount++
			page, lsn, ident := f.Page, f.pageLSN, f.PageIdent
			m.fastPath.Unlock()

			err := m.writeOut(ctx, ident, page, lsn)

			m.fastPath.Lock()
			f.PinCount--
			if err != nil {
				if f.PinCount == 0 {
					m.replacer.Unpin(victim)
				}
				m.fastPath.Unlock()

				return false, err
			}

			m.markCleanLocked(f, lsn)
		}

		if f.PinCount > 0 || f.dirty {
			if f.PinCount == 0 {
				m.replacer.Unpin(victim)
			}
			m.fastPath.Unlock()

			continue
		}

		delete(m.pageToFrame, f.PageIdent)
		*f = frame{}
		m.emptyFrames = append(m.emptyFrames, victim)
		m.fastPath.Unlock()

		m.evictions.Add(1)

		return true, nil
	}

	return false, nil
}

func (m *Manager) FreeFrames() int {
	m.fastPath.Lock()
	defer m.fastPath.Unlock()

	return len(m.emptyFrames)
}

func (m *Manager) Size() uint64 {
	return m.poolSize
}

func (m *Manager) Stats() Stats {
	m.fastPath.Lock()
	free, dirty := len(m.emptyFrames), len(m.DirtyPageTable)
	m.fastPath.Unlock()

	return Stats{
		Size:      m.poolSize,
		Free:      free,
		Dirty:     dirty,
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evictions.Load(),
		Flushes:   m.flushes.Load(),
	}
}
