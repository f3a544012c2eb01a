package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
)

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, name, size, mime_type, extension, storage_key, created_at`

func (r *FileRepository) Create(ctx context.Context, file *domain.FileRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO uploaded_files (`+fileColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`,
		file.ID, file.Name, file.Size, file.MimeType, file.Extension, file.StorageKey, file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert uploaded file: %w", err)
	}
	return nil
}

func (r *FileRepository) GetByID(ctx context.Context, id string) (*domain.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM uploaded_files WHERE id = $1`, id)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get file", fmt.Errorf("file %s", id))
		}
		return nil, fmt.Errorf("scan uploaded file: %w", err)
	}
	return file, nil
}

func (r *FileRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM uploaded_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete uploaded file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete uploaded file rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "delete file", fmt.Errorf("file %s", id))
	}
	return nil
}

func (r *FileRepository) ListCreatedBefore(ctx context.Context, before time.Time) ([]domain.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+fileColumns+`
FROM uploaded_files
WHERE created_at < $1
ORDER BY created_at
`, before)
	if err != nil {
		return nil, fmt.Errorf("query expired files: %w", err)
	}
	defer rows.Close()

	var out []domain.FileRecord
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan uploaded file: %w", err)
		}
		out = append(out, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploaded files: %w", err)
	}
	return out, nil
}

func scanFile(row rowScanner) (*domain.FileRecord, error) {
	var file domain.FileRecord
	if err := row.Scan(
		&file.ID, &file.Name, &file.Size, &file.MimeType, &file.Extension, &file.StorageKey, &file.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &file, nil
}
