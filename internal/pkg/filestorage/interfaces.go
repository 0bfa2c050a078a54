package filestorage

import (
	"context"
	"mime/multipart"
)

// StoredFile describes an upload after it has been written to storage
type StoredFile struct {
	URL          string // Public URL served under /uploads
	StoredName   string // Name on disk: <ULID>-<sanitised original name>
	OriginalName string // Client supplied base name
	MimeType     string
	Size         int64
}

// FileStorage defines the interface for attachment storage operations
type FileStorage interface {
	// SaveUploads validates the whole batch, then writes every file.
	// A rejected batch leaves nothing behind.
	SaveUploads(ctx context.Context, files []*multipart.FileHeader) ([]StoredFile, error)

	// DeleteFile removes a stored file by URL or stored name. Missing files are not an error.
	DeleteFile(fileURL string) error
}

// Limits bounds a single upload request
type Limits struct {
	MaxFiles    int
	MaxFileSize int64
}
