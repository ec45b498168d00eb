package redo

import (
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/go-faster/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Blackdeer1524/enginecore/src"
	"github.com/Blackdeer1524/enginecore/src/backoff"
	"github.com/Blackdeer1524/enginecore/src/event"
	"github.com/Blackdeer1524/enginecore/src/pkg/assert"
	"github.com/Blackdeer1524/enginecore/src/pkg/common"
	"github.com/Blackdeer1524/enginecore/src/pkg/optional"
)

var (
	ErrLogClosed      = errors.New("redo log does not accept new records")
	ErrRecordTooLarge = errors.New("redo record does not fit into the log buffer")
	ErrEmptyRecord    = errors.New("redo record is empty")
	ErrLogFailed      = errors.New("redo pipeline failed")
)

// Storage is the durable destination of the redo stream. Offsets are LSNs.
type Storage interface {
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
}

type CheckpointStore interface {
	SaveCheckpoint(lsn common.LSN) error
	LoadCheckpoint() (common.LSN, error)
}

// DirtyPageTracker reports the smallest LSN of a change not yet flushed to
// a data page.
type DirtyPageTracker interface {
	OldestDirtyLSN() optional.Optional[common.LSN]
}

type Deps struct {
	Storage     Storage
	Checkpoints CheckpointStore
	DirtyPages  DirtyPageTracker
	Logger      src.Logger
	Clock       clock.Clock
	// Start is the LSN the stream continues from.
	Start common.LSN
}

// Reservation is the LSN range [Start, End) owned by one producer.
type Reservation struct {
	Start common.LSN
	End   common.LSN
}

func (r Reservation) Len() int {
	return int(r.End - r.Start)
}

// Log is the redo pipeline: producers reserve ranges and copy records into
// the log buffer concurrently, background roles write, sync and close the
// stream in LSN order and take checkpoints.
type Log struct {
	cfg         Config
	storage     Storage
	checkpoints CheckpointStore
	dirty       DirtyPageTracker
	log         src.Logger
	clk         clock.Clock

	buf []byte

	mu      sync.Mutex
	closed  bool
	current common.AtomicLSN

	recentWritten *linkBuf
	recentClosed  *linkBuf

	written        common.AtomicLSN
	flushed        common.AtomicLSN
	notifiedWrite  common.AtomicLSN
	notifiedFlush  common.AtomicLSN
	lastCheckpoint common.AtomicLSN

	stopping atomic.Bool
	failure  atomic.Pointer[error]

	checkpointsDisabled atomic.Int32
	checkpointRequested atomic.Bool

	writerEvent         *event.Event
	flusherEvent        *event.Event
	writeNotifierEvent  *event.Event
	flushNotifierEvent  *event.Event
	closerEvent         *event.Event
	checkpointerEvent   *event.Event
	spaceEvent          *event.Event
	writeEvents         []*event.Event
	flushEvents         []*event.Event
	checkpointDoneEvent *event.Event

	writer        *backoff.Waiter
	flusher       *backoff.Waiter
	writeNotifier *backoff.Waiter
	flushNotifier *backoff.Waiter
	closer        *backoff.Waiter

	writeRequests *xsync.Counter
	logWaits      *xsync.Counter
	writes        atomic.Uint64
	bytesWritten  atomic.Uint64
	fsyncs        atomic.Uint64
	nCheckpoints  atomic.Uint64
}

func New(cfg Config, deps Deps) (*Log, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	assert.Assert(deps.Storage != nil, "redo log needs a storage backend")
	assert.Assert(deps.Checkpoints != nil, "redo log needs a checkpoint store")
	assert.Assert(deps.Logger != nil, "redo log needs a logger")

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	l := &Log{
		cfg:         cfg,
		storage:     deps.Storage,
		checkpoints: deps.Checkpoints,
		dirty:       deps.DirtyPages,
		log:         deps.Logger,
		clk:         clk,

		buf: make([]byte, cfg.BufferSize),

		recentWritten: newLinkBuf(cfg.ringCapacity(), deps.Start),
		recentClosed:  newLinkBuf(cfg.ringCapacity(), deps.Start),

		writerEvent:         event.New(clk),
		flusherEvent:        event.New(clk),
		writeNotifierEvent:  event.New(clk),
		flushNotifierEvent:  event.New(clk),
		closerEvent:         event.New(clk),
		checkpointerEvent:   event.New(clk),
		spaceEvent:          event.New(clk),
		checkpointDoneEvent: event.New(clk),
		writeEvents:         newEvents(cfg.WriteEvents, clk),
		flushEvents:         newEvents(cfg.FlushEvents, clk),

		writer:        backoff.NewWaiter(cfg.Writer),
		flusher:       backoff.NewWaiter(cfg.Flusher),
		writeNotifier: backoff.NewWaiter(cfg.Notifier),
		flushNotifier: backoff.NewWaiter(cfg.Notifier),
		closer:        backoff.NewWaiter(cfg.Closer),

		writeRequests: xsync.NewCounter(),
		logWaits:      xsync.NewCounter(),
	}

	for _, lsn := range []*common.AtomicLSN{
		&l.current, &l.written, &l.flushed, &l.notifiedWrite, &l.notifiedFlush, &l.lastCheckpoint,
	} {
		lsn.Init(deps.Start)
	}

	return l, nil
}

func newEvents(n int, clk clock.Clock) []*event.Event {
	evs := make([]*event.Event, n)
	for i := range evs {
		evs[i] = event.New(clk)
	}

	return evs
}

func (l *Log) maxRecord() uint64 {
	return min(uint64(len(l.buf)), l.cfg.ringCapacity())
}

// Reserve claims the next n bytes of the stream. It blocks while the log
// buffer or the recent rings lack room for the range.
func (l *Log) Reserve(n int) (Reservation, error) {
	if n <= 0 {
		return Reservation{}, ErrEmptyRecord
	}

	if uint64(n) > l.maxRecord() {
		return Reservation{}, errors.Wrapf(ErrRecordTooLarge, "%d bytes, limit %d", n, l.maxRecord())
	}

	if err := l.Err(); err != nil {
		return Reservation{}, err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Reservation{}, ErrLogClosed
	}

	start := l.current.Load()
	res := Reservation{Start: start, End: start + common.LSN(n)}
	l.current.Advance(res.End)
	l.mu.Unlock()

	l.writeRequests.Inc()

	if !l.hasSpace(res.End) {
		l.logWaits.Inc()
		if err := l.waitForSpace(res.End); err != nil {
			return Reservation{}, err
		}
	}

	return res, nil
}

func (l *Log) hasSpace(end common.LSN) bool {
	return uint64(end-l.written.Load()) <= uint64(len(l.buf)) &&
		l.recentWritten.hasSpace(end) &&
		l.recentClosed.hasSpace(end)
}

// waitForSpace gives up once the pipeline failed: written no longer moves.
func (l *Log) waitForSpace(end common.LSN) error {
	w := backoff.NewWaiter(l.cfg.UserWait)
	ready := func() bool { return l.failure.Load() != nil || l.hasSpace(end) }

	for !ready() {
		l.writerEvent.Set()
		l.closerEvent.Set()
		w.Pause(l.spaceEvent, ready)
	}

	return l.Err()
}

// Write copies data into the log buffer and marks the range written.
func (l *Log) Write(res Reservation, data []byte) {
	assert.Assert(len(data) == res.Len(), "record of %d bytes for a %d byte reservation", len(data), res.Len())

	size := uint64(len(l.buf))
	off := uint64(res.Start) % size
	n := copy(l.buf[off:], data)
	copy(l.buf, data[n:])

	l.recentWritten.add(res.Start, res.End)
	l.writerEvent.Set()
}

// Retire marks the range closed: its changes are visible in the buffer pool
// and it may be covered by a checkpoint.
func (l *Log) Retire(res Reservation) {
	l.recentClosed.add(res.Start, res.End)
	l.closerEvent.Set()
}

// Append reserves, writes and retires one record and returns its end LSN.
func (l *Log) Append(data []byte) (common.LSN, error) {
	res, err := l.Reserve(len(data))
	if err != nil {
		return common.NilLSN, err
	}

	l.Write(res, data)
	l.Retire(res)

	return res.End, nil
}

// StopAccepting closes the producer gate. Ranges reserved before the call
// are still written, flushed and closed by the draining roles.
func (l *Log) StopAccepting() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.stopping.Store(true)
	l.wakeAll()

	l.log.Infow("redo log stopped accepting records", "current_lsn", l.current.Load())
}

func (l *Log) Accepting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return !l.closed
}

func (l *Log) wakeAll() {
	for _, ev := range []*event.Event{
		l.writerEvent, l.flusherEvent, l.writeNotifierEvent, l.flushNotifierEvent,
		l.closerEvent, l.checkpointerEvent, l.spaceEvent, l.checkpointDoneEvent,
	} {
		ev.Set()
	}

	for _, ev := range l.writeEvents {
		ev.Set()
	}

	for _, ev := range l.flushEvents {
		ev.Set()
	}
}

func (l *Log) fail(err error) error {
	l.failure.CompareAndSwap(nil, &err)
	l.wakeAll()

	return err
}

func (l *Log) Err() error {
	if p := l.failure.Load(); p != nil {
		return errors.Join(ErrLogFailed, *p)
	}

	return nil
}

// drained reports whether shutdown was requested and boundary caught up with
// every reserved byte. A failed pipeline counts as drained.
func (l *Log) drained(boundary common.LSN) bool {
	if l.failure.Load() != nil {
		return true
	}

	return l.stopping.Load() && boundary >= l.current.Load()
}

func (l *Log) Current() common.LSN {
	return l.current.Load()
}

func (l *Log) ReadyForWrite() common.LSN {
	return l.recentWritten.tail.Load()
}

func (l *Log) Written() common.LSN {
	return l.written.Load()
}

func (l *Log) Flushed() common.LSN {
	return l.flushed.Load()
}

func (l *Log) Closed() common.LSN {
	return l.recentClosed.tail.Load()
}

func (l *Log) LastCheckpoint() common.LSN {
	return l.lastCheckpoint.Load()
}

type Stats struct {
	Current        common.LSN
	ReadyForWrite  common.LSN
	Written        common.LSN
	Flushed        common.LSN
	Closed         common.LSN
	LastCheckpoint common.LSN

	WriteRequests uint64
	Writes        uint64
	BytesWritten  uint64
	Fsyncs        uint64
	LogWaits      uint64
	Checkpoints   uint64

	WriterState  backoff.State
	FlusherState backoff.State
	CloserState  backoff.State
}

func (s Stats) CheckpointAge() uint64 {
	return uint64(s.Current - s.LastCheckpoint)
}

func (l *Log) Stats() Stats {
	return Stats{
		Current:        l.Current(),
		ReadyForWrite:  l.ReadyForWrite(),
		Written:        l.Written(),
		Flushed:        l.Flushed(),
		Closed:         l.Closed(),
		LastCheckpoint: l.LastCheckpoint(),

		WriteRequests: uint64(l.writeRequests.Value()),
		Writes:        l.writes.Load(),
		BytesWritten:  l.bytesWritten.Load(),
		Fsyncs:        l.fsyncs.Load(),
		LogWaits:      uint64(l.logWaits.Value()),
		Checkpoints:   l.nCheckpoints.Load(),

		WriterState:  l.writer.State(),
		FlusherState: l.flusher.State(),
		CloserState:  l.closer.State(),
	}
}
