package service

import (
	"context"
	"log/slog"

	"creditledger/internal/models"
	"creditledger/internal/repository"
	pkgerrors "creditledger/pkg/errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type InteractionService interface {
	// RegisterView counts the caller's first view of the face; repeat calls
	// return the current counters unchanged. The bool reports whether the
	// counter actually moved.
	RegisterView(ctx context.Context, ownerID, faceID int32) (*models.FaceSnapshot, bool, error)
	// ToggleLike flips the caller's like state; an even number of calls
	// restores the original count.
	ToggleLike(ctx context.Context, ownerID, faceID int32) (*models.FaceSnapshot, error)
	GetFace(ctx context.Context, id int32) (*models.Face, error)
	ListFaces(ctx context.Context, limit, offset int) ([]models.Face, error)
}

type interactionService struct {
	interactionRepo repository.InteractionRepository
	faceRepo        repository.FaceRepository
}

func NewInteractionService(interactionRepo repository.InteractionRepository, faceRepo repository.FaceRepository) *interactionService {
	return &interactionService{
		interactionRepo: interactionRepo,
		faceRepo:        faceRepo,
	}
}

func (s *interactionService) RegisterView(ctx context.Context, ownerID, faceID int32) (*models.FaceSnapshot, bool, error) {
	tracer := otel.Tracer("interaction-service")
	ctx, span := tracer.Start(ctx, "RegisterView")
	defer span.End()

	if _, err := s.faceRepo.GetByID(ctx, faceID); err != nil {
		span.SetStatus(codes.Error, "face not found")
		return nil, false, err
	}

	snap, viewed, err := s.interactionRepo.RegisterView(ctx, ownerID, faceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register view failed")
		slog.Error("failed to register view", "owner_id", ownerID, "face_id", faceID, "error", err)
		return nil, false, err
	}
	return snap, viewed, nil
}

func (s *interactionService) ToggleLike(ctx context.Context, ownerID, faceID int32) (*models.FaceSnapshot, error) {
	tracer := otel.Tracer("interaction-service")
	ctx, span := tracer.Start(ctx, "ToggleLike")
	defer span.End()

	if _, err := s.faceRepo.GetByID(ctx, faceID); err != nil {
		span.SetStatus(codes.Error, "face not found")
		return nil, err
	}

	snap, err := s.interactionRepo.ToggleLike(ctx, ownerID, faceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "toggle like failed")
		slog.Error("failed to toggle like", "owner_id", ownerID, "face_id", faceID, "error", err)
		return nil, err
	}
	return snap, nil
}

func (s *interactionService) GetFace(ctx context.Context, id int32) (*models.Face, error) {
	face, err := s.faceRepo.GetByID(ctx, id)
	if err != nil {
		if err != pkgerrors.ErrFaceNotFound {
			slog.Error("failed to get face", "face_id", id, "error", err)
		}
		return nil, err
	}
	return face, nil
}

func (s *interactionService) ListFaces(ctx context.Context, limit, offset int) ([]models.Face, error) {
	if limit <= 0 {
		limit = 20
	}
	faces, err := s.faceRepo.List(ctx, limit, offset)
	if err != nil {
		slog.Error("failed to list faces", "error", err)
		return nil, err
	}
	return faces, nil
}
