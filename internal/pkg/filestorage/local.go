package filestorage

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
	"github.com/taxlink/taxchat/internal/pkg/logger"
)

const (
	// Most filesystems cap a single path element at 255 bytes
	maxStoredNameBytes = 255

	// Match chat_messages.file_name and file_mime VARCHAR(255)
	maxOriginalNameRunes = 255
	maxMimeTypeLength    = 255
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// LocalStorage handles saving attachments to the local filesystem.
type LocalStorage struct {
	basePath string // The root directory where files will be stored
	baseURL  string // Public prefix of stored files, e.g. http://host/uploads
	limits   Limits
	now      func() time.Time
}

// NewLocalStorage creates a new LocalStorage instance and ensures basePath exists.
func NewLocalStorage(basePath, baseURL string, limits Limits) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		logger.Error().Err(err).Str("path", basePath).Msg("Failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	logger.Info().Str("path", basePath).Msg("Local storage directory ensured")

	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		limits:   limits,
		now:      time.Now,
	}, nil
}

type acceptedUpload struct {
	header       *multipart.FileHeader
	originalName string
	mimeType     string
}

// SaveUploads validates and persists a batch of uploads
func (ls *LocalStorage) SaveUploads(ctx context.Context, files []*multipart.FileHeader) ([]StoredFile, error) {
	if len(files) == 0 {
		return nil, apperrors.NewValidationError("At least one file is required")
	}
	if ls.limits.MaxFiles > 0 && len(files) > ls.limits.MaxFiles {
		return nil, apperrors.NewValidationError(fmt.Sprintf("At most %d files can be uploaded at once", ls.limits.MaxFiles))
	}

	accepted := make([]acceptedUpload, 0, len(files))
	for _, fh := range files {
		upload, err := ls.inspect(fh)
		if err != nil {
			return nil, err
		}
		accepted = append(accepted, upload)
	}

	stored := make([]StoredFile, 0, len(accepted))
	for _, upload := range accepted {
		if err := ctx.Err(); err != nil {
			ls.discard(stored)
			return nil, err
		}
		sf, err := ls.write(upload)
		if err != nil {
			ls.discard(stored)
			return nil, apperrors.NewStorageError(err, "Failed to store uploaded file")
		}
		stored = append(stored, sf)
	}

	return stored, nil
}

// inspect checks the size and type of one upload without writing anything
func (ls *LocalStorage) inspect(fh *multipart.FileHeader) (acceptedUpload, error) {
	name := OriginalName(fh.Filename)
	if ls.limits.MaxFileSize > 0 && fh.Size > ls.limits.MaxFileSize {
		return acceptedUpload{}, apperrors.NewValidationError(
			fmt.Sprintf("File %q exceeds the maximum size of %d bytes", name, ls.limits.MaxFileSize))
	}

	mimeType := normalizeMIME(fh.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		sniffed, err := sniff(fh)
		if err != nil {
			return acceptedUpload{}, apperrors.NewStorageError(err, "Failed to read uploaded file")
		}
		mimeType = sniffed
	}

	if utf8.RuneCountInString(mimeType) > maxMimeTypeLength {
		return acceptedUpload{}, apperrors.NewValidationError(fmt.Sprintf("Content type of %q is too long", name))
	}
	if !Allowed(mimeType, name) {
		return acceptedUpload{}, apperrors.NewValidationError(fmt.Sprintf("File type %q is not allowed", mimeType))
	}

	return acceptedUpload{header: fh, originalName: name, mimeType: mimeType}, nil
}

// write copies one upload into basePath via a temp file and rename
func (ls *LocalStorage) write(upload acceptedUpload) (StoredFile, error) {
	src, err := upload.header.Open()
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	storedName := ls.StoredName(upload.originalName)

	tmp, err := os.CreateTemp(ls.basePath, ".upload-*")
	if err != nil {
		return StoredFile{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	limit := upload.header.Size
	if ls.limits.MaxFileSize > 0 {
		limit = ls.limits.MaxFileSize
	}
	written, copyErr := io.Copy(tmp, io.LimitReader(src, limit+1))
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if copyErr != nil {
			return StoredFile{}, fmt.Errorf("failed to save file content: %w", copyErr)
		}
		return StoredFile{}, fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if written > limit {
		_ = os.Remove(tmpPath)
		return StoredFile{}, fmt.Errorf("file %q grew past the size limit while copying", upload.originalName)
	}

	dstPath := filepath.Join(ls.basePath, storedName)
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return StoredFile{}, fmt.Errorf("failed to move file into place: %w", err)
	}

	logger.Info().
		Str("filename", upload.originalName).
		Str("saved_as", storedName).
		Int64("size", written).
		Msg("File saved successfully")

	return StoredFile{
		URL:          ls.baseURL + "/" + url.PathEscape(storedName),
		StoredName:   storedName,
		OriginalName: upload.originalName,
		MimeType:     upload.mimeType,
		Size:         written,
	}, nil
}

func (ls *LocalStorage) discard(files []StoredFile) {
	for _, f := range files {
		_ = ls.DeleteFile(f.URL)
	}
}

// StoredName builds the on-disk name for an upload: a ULID followed by the
// sanitised original name, shortened to fit maxStoredNameBytes.
func (ls *LocalStorage) StoredName(originalName string) string {
	id := ulid.MustNew(ulid.Timestamp(ls.now()), rand.Reader)
	name := whitespaceRun.ReplaceAllString(originalName, "_")
	name = fitName(name, maxStoredNameBytes-ulid.EncodedSize-1, cutBytes, func(s string) int { return len(s) })
	return id.String() + "-" + name
}

// DeleteFile removes a file from the storage filesystem.
// It accepts a full URL or a bare stored name.
// Returns nil if deletion is successful or if the file doesn't exist.
func (ls *LocalStorage) DeleteFile(fileURL string) error {
	if fileURL == "" {
		return nil
	}

	filename := path.Base(fileURL)
	if strings.Contains(fileURL, "/") {
		unescaped, err := url.PathUnescape(filename)
		if err != nil {
			return fmt.Errorf("invalid file path: %s", fileURL)
		}
		filename = unescaped
	}
	if filename == "" || filename == "." || filename == "/" || filename == "uploads" {
		return fmt.Errorf("invalid file path: %s", fileURL)
	}

	physicalPath := filepath.Join(ls.basePath, filename)
	if err := os.Remove(physicalPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warn().Str("path", physicalPath).Msg("File to delete does not exist")
			return nil
		}
		logger.Error().Err(err).Str("path", physicalPath).Msg("Failed to delete file")
		return fmt.Errorf("failed to delete file: %w", err)
	}

	logger.Info().Str("path", physicalPath).Msg("File deleted successfully")
	return nil
}

// OriginalName reduces a client supplied file name to its base name of at
// most maxOriginalNameRunes characters
func OriginalName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := strings.TrimSpace(path.Base(name))
	if base == "" || base == "." || base == "/" || base == ".." {
		return "file"
	}
	return fitName(base, maxOriginalNameRunes, cutRunes, utf8.RuneCountInString)
}

// fitName shortens name to limit as measured by size, keeping a short extension
func fitName(name string, limit int, cut func(string, int) string, size func(string) int) string {
	if size(name) <= limit {
		return name
	}
	ext := path.Ext(name)
	if size(ext) > limit/4 {
		ext = ""
	}
	return cut(strings.TrimSuffix(name, ext), limit-size(ext)) + ext
}

// cutBytes returns the longest prefix of s of at most n bytes ending on a rune boundary
func cutBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	end := 0
	for i := range s {
		if i > n {
			break
		}
		end = i
	}
	return s[:end]
}

// cutRunes returns the first n runes of s
func cutRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Allowed reports whether an upload with the given MIME type and name may be stored
func Allowed(mimeType, name string) bool {
	return strings.HasPrefix(mimeType, "image/") ||
		mimeType == "text/plain" ||
		strings.HasSuffix(strings.ToLower(name), ".txt")
}

func normalizeMIME(v string) string {
	if v == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mediaType
}

func sniff(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	detected, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	return normalizeMIME(detected.String()), nil
}

var _ FileStorage = (*LocalStorage)(nil)
