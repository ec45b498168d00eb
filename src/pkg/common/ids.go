package common

import (
	"encoding/binary"
	"fmt"

	"github.com/go-faster/errors"
)

type FileID uint64

type PageID uint64

type PageIdentity struct {
	FileID FileID
	PageID PageID
}

const SerializedPageIdentitySize = 16

func (p PageIdentity) String() string {
	return fmt.Sprintf("%d:%d", p.FileID, p.PageID)
}

func (p PageIdentity) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SerializedPageIdentitySize)
	binary.BigEndian.PutUint64(buf[:8], uint64(p.FileID))
	binary.BigEndian.PutUint64(buf[8:], uint64(p.PageID))

	return buf, nil
}

func (p *PageIdentity) UnmarshalBinary(data []byte) error {
	if len(data) < SerializedPageIdentitySize {
		return errors.Errorf("page identity: need %d bytes, got %d", SerializedPageIdentitySize, len(data))
	}

	p.FileID = FileID(binary.BigEndian.Uint64(data[:8]))
	p.PageID = PageID(binary.BigEndian.Uint64(data[8:]))

	return nil
}
