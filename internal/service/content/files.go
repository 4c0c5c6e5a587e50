package content

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"lexchat/internal/models"
)

const fileColumns = `id, user_id, original_name, file_path, file_url, file_size, content_type, processed, extraction_text, created_at`

func scanFile(row rowScanner) (*models.File, error) {
	var (
		f    models.File
		text sql.NullString
	)
	if err := row.Scan(&f.ID, &f.UserID, &f.OriginalName, &f.FilePath, &f.FileURL, &f.FileSize,
		&f.ContentType, &f.Processed, &text, &f.CreatedAt); err != nil {
		return nil, err
	}
	if text.Valid {
		f.ExtractionText = &text.String
	}
	return &f, nil
}

// CreateFile records an uploaded file. Extraction text is kept only for
// processed files and is required for them.
func (s *Service) CreateFile(ctx context.Context, file models.File) (*models.File, error) {
	if file.UserID == "" {
		return nil, invalid("user_id is required")
	}
	if strings.TrimSpace(file.OriginalName) == "" || file.FilePath == "" || file.FileURL == "" {
		return nil, invalid("file name, path and url are required")
	}
	if file.FileSize < 0 {
		return nil, invalid("file size cannot be negative")
	}
	if file.Processed {
		if file.ExtractionText == nil {
			return nil, invalid("processed file requires extraction text")
		}
	} else {
		file.ExtractionText = nil
	}
	file.ID = uuid.NewString()
	file.CreatedAt = now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.UserID, file.OriginalName, file.FilePath, file.FileURL, file.FileSize,
		file.ContentType, file.Processed, nullPtr(file.ExtractionText), file.CreatedAt,
	)
	if err != nil {
		return nil, internal("create file", err)
	}
	return &file, nil
}

// GetFile returns a file owned by userID.
func (s *Service) GetFile(ctx context.Context, userID, fileID string) (*models.File, error) {
	file, err := scanFile(s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ? AND user_id = ?`, fileID, userID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("file")
		}
		return nil, internal("get file", err)
	}
	return file, nil
}

// ListFiles returns a user's files, newest first.
func (s *Service) ListFiles(ctx context.Context, userID string, limit, offset int) ([]models.File, error) {
	limit, offset = pageBounds(limit, offset, 100)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, internal("list files", err)
	}
	defer rows.Close()

	files := make([]models.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, internal("scan file", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, internal("list files", err)
	}
	return files, nil
}

// MarkFileProcessed stores extraction text for a file and flags it processed.
func (s *Service) MarkFileProcessed(ctx context.Context, userID, fileID, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET processed = ?, extraction_text = ? WHERE id = ? AND user_id = ?`,
		true, text, fileID, userID,
	)
	if err != nil {
		return internal("mark file processed", err)
	}
	return expectAffected(res, "file")
}

// DeleteFile removes the record and returns it so the caller can drop the stored object.
func (s *Service) DeleteFile(ctx context.Context, userID, fileID string) (*models.File, error) {
	file, err := s.GetFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ? AND user_id = ?`, fileID, userID)
	if err != nil {
		return nil, internal("delete file", err)
	}
	if err := expectAffected(res, "file"); err != nil {
		return nil, err
	}
	return file, nil
}

// StorageUsage returns the total size of a user's stored files in bytes.
func (s *Service) StorageUsage(ctx context.Context, userID string) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(file_size) FROM files WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return 0, internal("storage usage", err)
	}
	return total.Int64, nil
}
