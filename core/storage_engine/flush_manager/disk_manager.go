// Package flushmanager owns the disk-facing side of the sukunadb storage
// core: the page file, the meta header, and the scheduler that serializes
// all page I/O through a single background worker.
package flushmanager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pagemanager "github.com/sushant-115/sukunadb/core/storage_engine/page_manager"
)

const (
	// DBMagic identifies a sukunadb page file's meta header.
	DBMagic uint32 = 0x534B4442 // "SKDB"

	dbMetaVersion  uint32 = 1
	metaFileSuffix        = ".meta"
	metaHeaderSize        = 32
)

// DiskManager is the byte-addressable block store the disk scheduler drains
// requests into. Implementations are synchronous and need not be safe for
// concurrent use; the scheduler is their sole user.
type DiskManager interface {
	ReadPage(pageID pagemanager.PageID, pageData []byte) error
	WritePage(pageID pagemanager.PageID, pageData []byte) error
}

// dbMetaHeader is the fixed-size header persisted in the sidecar meta file.
// All fields have fixed sizes so binary.Read/Write stay consistent.
type dbMetaHeader struct {
	Magic      uint32
	Version    uint32
	PageSize   uint32
	_          uint32 // padding
	InstanceID [16]byte
}

// FileDiskManager stores pages in a single data file at offset
// pageID * PageSize. A sidecar meta file carries the magic number, format
// version, page size and a unique instance id stamped at creation time.
type FileDiskManager struct {
	filePath   string
	file       *os.File
	instanceID uuid.UUID
	logger     *zap.Logger
}

// NewFileDiskManager opens an existing page file or creates a new one. The
// create flag determines behavior when the file does not exist or already
// exists, mirroring the meta header validation on open.
func NewFileDiskManager(filePath string, create bool, logger *zap.Logger) (*FileDiskManager, error) {
	dm := &FileDiskManager{
		filePath: filePath,
		logger:   logger.Named("disk_manager"),
	}

	_, statErr := os.Stat(filePath)
	switch {
	case os.IsNotExist(statErr):
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, filePath)
		}
		file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: creating file %s: %v", ErrIO, filePath, err)
		}
		dm.file = file
		dm.instanceID = uuid.New()
		if err := dm.writeMeta(); err != nil {
			_ = file.Close()
			_ = os.Remove(filePath)
			_ = os.Remove(filePath + metaFileSuffix)
			return nil, err
		}
		dm.logger.Info("Created database file",
			zap.String("path", filePath),
			zap.String("instance_id", dm.instanceID.String()),
		)
	case statErr == nil:
		if create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileExists, filePath)
		}
		file, err := os.OpenFile(filePath, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, filePath, err)
		}
		dm.file = file
		if err := dm.readMeta(); err != nil {
			_ = file.Close()
			return nil, err
		}
		dm.logger.Info("Opened database file",
			zap.String("path", filePath),
			zap.String("instance_id", dm.instanceID.String()),
		)
	default:
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, filePath, statErr)
	}

	return dm, nil
}

// InstanceID returns the unique identifier stamped into the meta file when
// the database was created.
func (dm *FileDiskManager) InstanceID() uuid.UUID {
	return dm.instanceID
}

// writeMeta serializes the meta header and writes the sidecar file.
func (dm *FileDiskManager) writeMeta() error {
	header := dbMetaHeader{
		Magic:    DBMagic,
		Version:  dbMetaVersion,
		PageSize: pagemanager.PageSize,
	}
	copy(header.InstanceID[:], dm.instanceID[:])

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: serializing meta header: %v", ErrIO, err)
	}
	if err := os.WriteFile(dm.filePath+metaFileSuffix, buf.Bytes(), 0666); err != nil {
		return fmt.Errorf("%w: writing meta file: %v", ErrIO, err)
	}
	return nil
}

// readMeta reads and validates the sidecar meta file.
func (dm *FileDiskManager) readMeta() error {
	data, err := os.ReadFile(dm.filePath + metaFileSuffix)
	if err != nil {
		return fmt.Errorf("%w: reading meta file: %v", ErrIO, err)
	}
	if len(data) < metaHeaderSize {
		return fmt.Errorf("%w: meta file too short (%d bytes)", ErrIO, len(data))
	}

	var header dbMetaHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("%w: deserializing meta header: %v", ErrIO, err)
	}
	if header.Magic != DBMagic {
		return fmt.Errorf("invalid database file magic number: expected 0x%x, got 0x%x", DBMagic, header.Magic)
	}
	if header.PageSize != pagemanager.PageSize {
		return fmt.Errorf("database file page size (%d) does not match configured page size (%d)",
			header.PageSize, pagemanager.PageSize)
	}
	copy(dm.instanceID[:], header.InstanceID[:])
	return nil
}

// ReadPage reads a page's data from disk into the provided buffer. Reading a
// page the file has never seen yields zeroed bytes; pages are allocated
// lazily by the buffer pool's id counter and may be fetched before their
// first write-back.
func (dm *FileDiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	if dm.file == nil {
		return fmt.Errorf("%w: file not open", ErrIO)
	}
	if pageID == pagemanager.InvalidPageID || pageID < 0 {
		return fmt.Errorf("%w: read of page %d", ErrInvalidPageID, pageID)
	}
	if len(pageData) != pagemanager.PageSize {
		return fmt.Errorf("page data buffer size (%d) != page size (%d)", len(pageData), pagemanager.PageSize)
	}

	offset := int64(pageID) * int64(pagemanager.PageSize)
	bytesRead, err := dm.file.ReadAt(pageData, offset)
	if err != nil {
		if err == io.EOF {
			// The page has never been written out. Zero-fill the tail so the
			// caller sees a fresh page.
			for i := bytesRead; i < len(pageData); i++ {
				pageData[i] = 0
			}
			dm.logger.Debug("Short read, zero-filling page",
				zap.Int32("page_id", int32(pageID)),
				zap.Int("bytes_read", bytesRead),
			)
			return nil
		}
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	return nil
}

// WritePage writes a page's data to disk at the page's offset. Durability is
// the caller's concern; the file is synced only by an explicit Sync call and
// by Close.
func (dm *FileDiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	if dm.file == nil {
		return fmt.Errorf("%w: file not open", ErrIO)
	}
	if pageID == pagemanager.InvalidPageID || pageID < 0 {
		return fmt.Errorf("%w: write of page %d", ErrInvalidPageID, pageID)
	}
	if len(pageData) != pagemanager.PageSize {
		return fmt.Errorf("page data buffer size (%d) != page size (%d)", len(pageData), pagemanager.PageSize)
	}

	offset := int64(pageID) * int64(pagemanager.PageSize)
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	return nil
}

// Sync flushes all buffered writes to stable storage.
func (dm *FileDiskManager) Sync() error {
	if dm.file != nil {
		return dm.file.Sync()
	}
	return nil
}

// Close syncs and closes the underlying file handle.
func (dm *FileDiskManager) Close() error {
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		dm.logger.Error("Failed to sync file on close", zap.Error(err))
	}
	closeErr := dm.file.Close()
	dm.file = nil
	return closeErr
}
