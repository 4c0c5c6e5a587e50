// Package upload validates uploaded documents, stores their bytes, extracts
// their text and records them for the owner.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"lexchat/internal/apperr"
	"lexchat/internal/metrics"
	"lexchat/internal/models"
	"lexchat/internal/objectstore"
	"lexchat/internal/service/extract"
)

const megabyte = 1 << 20

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
}

// Store is the part of the content store uploads touch.
type Store interface {
	CreateFile(ctx context.Context, file models.File) (*models.File, error)
	DeleteFile(ctx context.Context, userID, fileID string) (*models.File, error)
	StorageUsage(ctx context.Context, userID string) (int64, error)
}

type Options struct {
	MaxUploadMB   int64
	UserStorageMB int64
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	// Now is overridable in tests.
	Now           func() time.Time
}

type Service struct {
	store      Store
	objects    objectstore.Store
	maxBytes   int64
	quotaBytes int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func New(store Store, objects objectstore.Store, opts Options) *Service {
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 10
	}
	if opts.UserStorageMB <= 0 {
		opts.UserStorageMB = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:      store,
		objects:    objects,
		maxBytes:   opts.MaxUploadMB * megabyte,
		quotaBytes: opts.UserStorageMB * megabyte,
		logger:     opts.Logger.With("component", "upload"),
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
}

// MaxBytes is the largest accepted upload.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

type UploadRequest struct {
	UserID      string
	FileName    string
	ContentType string
	Data        []byte
}

// Upload stores the document and records it. Extraction problems never fail
// the upload: the file is then recorded as unprocessed.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*models.File, error) {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(req.FileName), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: file name is required", apperr.ErrValidation)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported file type %q, allowed: .pdf, .doc, .docx, .txt", apperr.ErrValidation, ext)
	}
	size := int64(len(req.Data))
	if size == 0 {
		return nil, fmt.Errorf("%w: file is empty", apperr.ErrValidation)
	}
	if size > s.maxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d MB", apperr.ErrValidation, s.maxBytes/megabyte)
	}
	used, err := s.store.StorageUsage(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if used+size > s.quotaBytes {
		return nil, fmt.Errorf("%w: storage quota of %d MB exceeded", apperr.ErrValidation, s.quotaBytes/megabyte)
	}

	contentType := resolveContentType(req.ContentType, ext, req.Data)
	key := fmt.Sprintf("users/%s/files/%s_%s", req.UserID, s.now().UTC().Format("20060102_150405"), safeName(name))

	var (
		obj  *objectstore.Object
		text string
		ok   bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		obj, err = s.objects.Put(gctx, key, contentType, req.Data)
		return err
	})
	g.Go(func() error {
		text, ok = extract.Extract(req.Data, name, contentType)
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("store object", "user_id", req.UserID, "key", key, "error", err)
		return nil, fmt.Errorf("%w: store file: %w", apperr.ErrInternal, err)
	}
	s.metrics.ObserveExtraction(string(extract.Detect(name, contentType)), ok)
	if !ok {
		s.logger.Warn("extraction failed, storing unprocessed", "user_id", req.UserID, "file", name, "reason", text)
	}

	record := models.File{
		UserID:       req.UserID,
		OriginalName: name,
		FilePath:     obj.Key,
		FileURL:      obj.URL,
		FileSize:     size,
		ContentType:  contentType,
		Processed:    ok,
	}
	if ok {
		record.ExtractionText = &text
	}
	file, err := s.store.CreateFile(ctx, record)
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if delErr := s.objects.Delete(cleanupCtx, obj.Key); delErr != nil {
			s.logger.Warn("remove orphaned object", "key", obj.Key, "error", delErr)
			s.metrics.BestEffortFailure("object_cleanup")
		}
		return nil, err
	}
	s.logger.Info("file uploaded", "user_id", req.UserID, "file_id", file.ID, "size", size, "processed", ok)
	return file, nil
}

// Delete removes the record, then its stored object. A leftover object is only logged.
func (s *Service) Delete(ctx context.Context, userID, fileID string) error {
	file, err := s.store.DeleteFile(ctx, userID, fileID)
	if err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, file.FilePath); err != nil {
		s.logger.Warn("remove object", "key", file.FilePath, "error", err)
		s.metrics.BestEffortFailure("object_cleanup")
	}
	return nil
}

// resolveContentType keeps a declared type, else guesses from the extension, then the bytes.
func resolveContentType(declared, ext string, data []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
