package disk

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/enginecore/src/pkg/common"
)

const (
	LogFileName        = "redo.log"
	CheckpointFileName = "checkpoint"

	checkpointRecordSize = 12
)

var ErrCorruptedCheckpoint = errors.New("checkpoint file is corrupted")

// LogFile is the redo stream on disk. The file offset of a byte equals its
// LSN.
type LogFile struct {
	fs   afero.Fs
	dir  string
	file afero.File

	mu sync.Mutex
}

func OpenLogFile(fs afero.Fs, dir string) (*LogFile, error) {
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create log directory %s", dir)
	}

	path := filepath.Join(dir, LogFileName)

	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", path)
	}

	return &LogFile{fs: fs, dir: dir, file: f}, nil
}

func (l *LogFile) WriteAt(p []byte, off int64) (int, error) {
	return l.file.WriteAt(p, off)
}

func (l *LogFile) Sync() error {
	return l.file.Sync()
}

func (l *LogFile) Size() (int64, error) {
	st, err := l.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat log file")
	}

	return st.Size(), nil
}

func (l *LogFile) Close() error {
	return l.file.Close()
}

// SaveCheckpoint atomically replaces the checkpoint file: the record is
// written to a temporary file which is then renamed over the old one.
func (l *LogFile) SaveCheckpoint(lsn common.LSN) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, checkpointRecordSize)
	binary.BigEndian.PutUint64(buf[:8], uint64(lsn))
	binary.BigEndian.PutUint32(buf[8:], crc32.ChecksumIEEE(buf[:8]))

	path := filepath.Join(l.dir, CheckpointFileName)
	tmp := path + ".tmp"

	f, err := l.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "create checkpoint file")
	}

	if _, err = f.Write(buf); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "write checkpoint")
	}

	if err = f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "sync checkpoint")
	}

	if err = f.Close(); err != nil {
		return errors.Wrap(err, "close checkpoint")
	}

	if err = l.fs.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "publish checkpoint")
	}

	return nil
}

// LoadCheckpoint returns NilLSN when no checkpoint was taken yet.
func (l *LogFile) LoadCheckpoint() (common.LSN, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := afero.ReadFile(l.fs, filepath.Join(l.dir, CheckpointFileName))
	if errors.Is(err, os.ErrNotExist) {
		return common.NilLSN, nil
	}
	if err != nil {
		return common.NilLSN, errors.Wrap(err, "read checkpoint")
	}

	if len(data) != checkpointRecordSize ||
		binary.BigEndian.Uint32(data[8:]) != crc32.ChecksumIEEE(data[:8]) {
		return common.NilLSN, ErrCorruptedCheckpoint
	}

	return common.LSN(binary.BigEndian.Uint64(data[:8])), nil
}
