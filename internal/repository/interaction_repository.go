package repository

import (
	"context"

	"creditledger/internal/models"
)

type InteractionRepository interface {
	// RegisterView records a first view for (owner, face) and increments the
	// face view counter, both in one store transaction. Repeat calls are
	// no-ops. Returns the resulting snapshot and whether the counter moved.
	RegisterView(ctx context.Context, ownerID, faceID int32) (*models.FaceSnapshot, bool, error)
	// ToggleLike flips the like flag and moves the face like counter by one in
	// the matching direction, both in one store transaction.
	ToggleLike(ctx context.Context, ownerID, faceID int32) (*models.FaceSnapshot, error)
	Get(ctx context.Context, ownerID, faceID int32) (*models.FaceInteraction, error)
}
