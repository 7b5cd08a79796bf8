package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"creditledger/internal/models"
	pkgerrors "creditledger/pkg/errors"
)

type PostgresFaceRepository struct {
	db *sql.DB
}

func NewPostgresFaceRepository(db *sql.DB) *PostgresFaceRepository {
	return &PostgresFaceRepository{db: db}
}

func (r *PostgresFaceRepository) GetByID(ctx context.Context, id int32) (*models.Face, error) {
	query := `
			SELECT id, name, image_url, views, likes, created_at, updated_at
			FROM faces
			WHERE id = $1
`
	var face models.Face
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&face.ID,
		&face.Name,
		&face.ImageURL,
		&face.Views,
		&face.Likes,
		&face.CreatedAt,
		&face.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrFaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get face: %w", err)
	}
	return &face, nil
}

func (r *PostgresFaceRepository) List(ctx context.Context, limit, offset int) ([]models.Face, error) {
	query := `
		SELECT id, name, image_url, views, likes, created_at, updated_at
		FROM faces
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list faces: %w", err)
	}
	defer rows.Close()

	faces := []models.Face{}
	for rows.Next() {
		var face models.Face
		if err := rows.Scan(&face.ID, &face.Name, &face.ImageURL, &face.Views, &face.Likes, &face.CreatedAt, &face.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan face: %w", err)
		}
		faces = append(faces, face)
	}
	return faces, rows.Err()
}
