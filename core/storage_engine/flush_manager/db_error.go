package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrPageNotFound   = errors.New("page not found in buffer pool")
	ErrBufferPoolFull = errors.New("buffer pool is full and no pages can be evicted")
	ErrPagePinned     = errors.New("page is pinned and cannot be evicted")
	ErrInvalidPageID  = errors.New("invalid page id")
	ErrIO             = errors.New("i/o error")
	ErrDBFileExists   = errors.New("database file already exists")
	ErrDBFileNotFound = errors.New("database file not found")
	ErrSchedulerDown  = errors.New("disk scheduler has been shut down")
)
