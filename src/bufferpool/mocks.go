package bufferpool

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Blackdeer1524/enginecore/src/pkg/common"
)

type MockDiskManager struct {
	mock.Mock
}

func (m *MockDiskManager) ReadPage(pageIdent common.PageIdentity) ([]byte, error) {
	args := m.Called(pageIdent)

	data, _ := args.Get(0).([]byte)

	return data, args.Error(1)
}

func (m *MockDiskManager) WritePage(pageIdent common.PageIdentity, data []byte) error {
	args := m.Called(pageIdent, data)
	return args.Error(0)
}

type MockReplacer struct {
	mock.Mock
}

func (m *MockReplacer) Pin(frameID uint64) {
	m.Called(frameID)
}

func (m *MockReplacer) Unpin(frameID uint64) {
	m.Called(frameID)
}

func (m *MockReplacer) ChooseVictim() (uint64, error) {
	args := m.Called()
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockReplacer) GetSize() uint64 {
	args := m.Called()
	return args.Get(0).(uint64)
}

type MockWAL struct {
	mock.Mock
}

func (m *MockWAL) WaitForFlush(ctx context.Context, lsn common.LSN) error {
	args := m.Called(ctx, lsn)
	return args.Error(0)
}
