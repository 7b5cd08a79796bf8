package repository

import (
	"context"

	"creditledger/internal/models"
)

type FaceRepository interface {
	GetByID(ctx context.Context, id int32) (*models.Face, error)
	List(ctx context.Context, limit, offset int) ([]models.Face, error)
}
