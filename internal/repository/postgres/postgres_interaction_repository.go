package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"creditledger/internal/infrastructure/observability"
	"creditledger/internal/models"
	pkgerrors "creditledger/pkg/errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresInteractionRepository struct {
	db *sql.DB
}

func NewPostgresInteractionRepository(db *sql.DB) *PostgresInteractionRepository {
	return &PostgresInteractionRepository{db: db}
}

func (r *PostgresInteractionRepository) Get(ctx context.Context, ownerID, faceID int32) (*models.FaceInteraction, error) {
	var ia models.FaceInteraction
	query := `
		SELECT id, owner_id, face_id, has_viewed, has_liked, created_at, updated_at
		FROM face_interactions
		WHERE owner_id = $1 AND face_id = $2`
	err := r.db.QueryRowContext(ctx, query, ownerID, faceID).Scan(
		&ia.ID, &ia.OwnerID, &ia.FaceID, &ia.HasViewed, &ia.HasLiked, &ia.CreatedAt, &ia.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	return &ia, nil
}

// RegisterView is idempotent: the upsert only takes effect when the row did
// not already have has_viewed = true, and the face counter increment runs in
// the same database transaction. Two concurrent calls for the same pair
// produce exactly one increment.
func (r *PostgresInteractionRepository) RegisterView(ctx context.Context, ownerID, faceID int32) (*models.FaceSnapshot, bool, error) {
	var err error
	tracer := otel.Tracer("interaction-repository")
	ctx, span := tracer.Start(ctx, "RegisterView")
	span.SetAttributes(
		attribute.Int("owner_id", int(ownerID)),
		attribute.Int("face_id", int(faceID)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("RegisterView", status).Inc()
		observability.RepositoryDuration.WithLabelValues("RegisterView").Observe(time.Since(start).Seconds())
	}()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "RegisterView", "error", err)
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	upsertQuery := `
		INSERT INTO face_interactions (owner_id, face_id, has_viewed, has_liked)
		VALUES ($1, $2, TRUE, FALSE)
		ON CONFLICT (owner_id, face_id) DO UPDATE
		SET has_viewed = TRUE, updated_at = now()
		WHERE face_interactions.has_viewed = FALSE
		RETURNING has_liked`
	var hasLiked bool
	err = dbTx.QueryRowContext(ctx, upsertQuery, ownerID, faceID).Scan(&hasLiked)
	if stderrors.Is(err, sql.ErrNoRows) {
		// Already viewed: counters stay put, just read the snapshot.
		snapshotQuery := `
			SELECT f.views, f.likes, fi.has_liked
			FROM faces f
			JOIN face_interactions fi ON fi.face_id = f.id AND fi.owner_id = $1
			WHERE f.id = $2`
		snap := &models.FaceSnapshot{FaceID: faceID}
		err = dbTx.QueryRowContext(ctx, snapshotQuery, ownerID, faceID).Scan(&snap.Views, &snap.Likes, &snap.HasLiked)
		if stderrors.Is(err, sql.ErrNoRows) {
			_ = dbTx.Rollback()
			err = pkgerrors.ErrFaceNotFound
			return nil, false, err
		}
		if err != nil {
			_ = dbTx.Rollback()
			return nil, false, fmt.Errorf("failed to read face snapshot: %w", err)
		}
		if err = dbTx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return snap, false, nil
	}
	if err != nil {
		_ = dbTx.Rollback()
		slog.Error("failed to upsert interaction", "method", "RegisterView", "owner_id", ownerID, "face_id", faceID, "error", err)
		return nil, false, fmt.Errorf("failed to upsert interaction: %w", err)
	}

	snap := &models.FaceSnapshot{FaceID: faceID, HasLiked: hasLiked}
	incrementQuery := `
		UPDATE faces
		SET views = views + 1, updated_at = now()
		WHERE id = $1
		RETURNING views, likes`
	err = dbTx.QueryRowContext(ctx, incrementQuery, faceID).Scan(&snap.Views, &snap.Likes)
	if stderrors.Is(err, sql.ErrNoRows) {
		_ = dbTx.Rollback()
		err = pkgerrors.ErrFaceNotFound
		return nil, false, err
	}
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
			slog.Error("rollback failed", "method", "RegisterView", "error", rbErr)
		}
		return nil, false, fmt.Errorf("failed to increment view count: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "RegisterView", "error", err)
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("view registered", "method", "RegisterView", "owner_id", ownerID, "face_id", faceID, "views", snap.Views)
	return snap, true, nil
}

// ToggleLike flips the like flag and moves the face counter by one in the
// matching direction, both inside one database transaction. Two calls in a
// row restore the original count.
func (r *PostgresInteractionRepository) ToggleLike(ctx context.Context, ownerID, faceID int32) (*models.FaceSnapshot, error) {
	var err error
	tracer := otel.Tracer("interaction-repository")
	ctx, span := tracer.Start(ctx, "ToggleLike")
	span.SetAttributes(
		attribute.Int("owner_id", int(ownerID)),
		attribute.Int("face_id", int(faceID)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("ToggleLike", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ToggleLike").Observe(time.Since(start).Seconds())
	}()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "ToggleLike", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	toggleQuery := `
		INSERT INTO face_interactions (owner_id, face_id, has_viewed, has_liked)
		VALUES ($1, $2, FALSE, TRUE)
		ON CONFLICT (owner_id, face_id) DO UPDATE
		SET has_liked = NOT face_interactions.has_liked, updated_at = now()
		RETURNING has_liked`
	var hasLiked bool
	err = dbTx.QueryRowContext(ctx, toggleQuery, ownerID, faceID).Scan(&hasLiked)
	if err != nil {
		_ = dbTx.Rollback()
		slog.Error("failed to toggle like", "method", "ToggleLike", "owner_id", ownerID, "face_id", faceID, "error", err)
		return nil, fmt.Errorf("failed to toggle like: %w", err)
	}

	delta := int64(-1)
	if hasLiked {
		delta = 1
	}

	snap := &models.FaceSnapshot{FaceID: faceID, HasLiked: hasLiked}
	counterQuery := `
		UPDATE faces
		SET likes = likes + $1, updated_at = now()
		WHERE id = $2
		RETURNING views, likes`
	err = dbTx.QueryRowContext(ctx, counterQuery, delta, faceID).Scan(&snap.Views, &snap.Likes)
	if stderrors.Is(err, sql.ErrNoRows) {
		_ = dbTx.Rollback()
		err = pkgerrors.ErrFaceNotFound
		return nil, err
	}
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
			slog.Error("rollback failed", "method", "ToggleLike", "error", rbErr)
		}
		return nil, fmt.Errorf("failed to adjust like count: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "ToggleLike", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("like toggled", "method", "ToggleLike", "owner_id", ownerID, "face_id", faceID, "has_liked", hasLiked, "likes", snap.Likes)
	return snap, nil
}
