package disk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/enginecore/src/pkg/common"
)

const PageSize = 4096

var ErrPageSize = errors.New("page data must be exactly one page long")

// Manager reads and writes fixed-size pages of data files. A file without
// an explicit path lives in the base directory as <fileID>.data.
type Manager struct {
	fs           afero.Fs
	basePath     string
	fileIDToPath map[common.FileID]string

	mu sync.RWMutex
}

func New(basePath string, fs afero.Fs) *Manager {
	return &Manager{
		fs:           fs,
		basePath:     basePath,
		fileIDToPath: make(map[common.FileID]string),
	}
}

func (m *Manager) path(id common.FileID) string {
	if p, ok := m.fileIDToPath[id]; ok {
		return p
	}

	return filepath.Join(m.basePath, fmt.Sprintf("%d.data", id))
}

// ReadPage returns the page contents. Pages past the end of the file read
// as zeroes.
func (m *Manager) ReadPage(pageIdent common.PageIdentity) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data := make([]byte, PageSize)

	file, err := m.fs.Open(filepath.Clean(m.path(pageIdent.FileID)))
	if errors.Is(err, os.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open file of page %s", pageIdent)
	}
	defer file.Close()

	//nolint:gosec
	offset := int64(pageIdent.PageID) * PageSize

	_, err = file.ReadAt(data, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "read page %s", pageIdent)
	}

	return data, nil
}

func (m *Manager) WritePage(pageIdent common.PageIdentity, data []byte) error {
	if len(data) != PageSize {
		return errors.Wrapf(ErrPageSize, "got %d bytes", len(data))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	path := filepath.Clean(m.path(pageIdent.FileID))
	if err := m.fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}

	file, err := m.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return errors.Wrapf(err, "open file %s", path)
	}
	defer file.Close()

	//nolint:gosec
	offset := int64(pageIdent.PageID) * PageSize

	if _, err = file.WriteAt(data, offset); err != nil {
		return errors.Wrapf(err, "write page %s", pageIdent)
	}

	return nil
}

func (m *Manager) InsertToFileMap(id common.FileID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fileIDToPath[id] = path
}
