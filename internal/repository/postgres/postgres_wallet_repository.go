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

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresWalletRepository struct {
	db *sql.DB
}

func NewPostgresWalletRepository(db *sql.DB) *PostgresWalletRepository {
	return &PostgresWalletRepository{db: db}
}

const walletColumns = `id, owner_id, credits, created_at, updated_at`

func scanWallet(row *sql.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.Credits, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *PostgresWalletRepository) GetByOwnerID(ctx context.Context, ownerID int32) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1`
	w, err := scanWallet(r.db.QueryRowContext(ctx, query, ownerID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// GetOrCreate inserts a zero-credit wallet on first access. A concurrent
// first access loses the insert race with a unique violation on owner_id and
// re-reads the row the winner created.
func (r *PostgresWalletRepository) GetOrCreate(ctx context.Context, ownerID int32) (*models.Wallet, error) {
	var err error
	tracer := otel.Tracer("wallet-repository")
	ctx, span := tracer.Start(ctx, "GetOrCreateWallet")
	span.SetAttributes(attribute.Int("owner_id", int(ownerID)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetOrCreateWallet", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetOrCreateWallet").Observe(time.Since(start).Seconds())
	}()

	w, err := r.GetByOwnerID(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !stderrors.Is(err, pkgerrors.ErrWalletNotFound) {
		return nil, err
	}

	query := `INSERT INTO wallets (owner_id, credits) VALUES ($1, 0) RETURNING ` + walletColumns
	w, err = scanWallet(r.db.QueryRowContext(ctx, query, ownerID))
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Someone else just created it.
			slog.Info("wallet insert lost race, re-reading", "method", "GetOrCreate", "owner_id", ownerID)
			return r.GetByOwnerID(ctx, ownerID)
		}
		slog.Error("failed to create wallet", "method", "GetOrCreate", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	slog.Info("wallet created", "method", "GetOrCreate", "wallet_id", w.ID, "owner_id", ownerID)
	return w, nil
}

func (r *PostgresWalletRepository) GetCredits(ctx context.Context, ownerID int32) (int64, error) {
	var credits int64
	query := `SELECT credits FROM wallets WHERE owner_id = $1`
	err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&credits)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrWalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get credits: %w", err)
	}
	return credits, nil
}

// Debit decrements the balance and records the completed debit row in one
// database transaction. The decrement is conditional on credits >= amount so
// the balance can never go negative; no application-level read-modify-write.
func (r *PostgresWalletRepository) Debit(ctx context.Context, ownerID int32, credits int64, description string) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("wallet-repository")
	ctx, span := tracer.Start(ctx, "DebitWallet")
	span.SetAttributes(
		attribute.Int("owner_id", int(ownerID)),
		attribute.Int64("credits", credits),
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
		observability.RepositoryCalls.WithLabelValues("DebitWallet", status).Inc()
		observability.RepositoryDuration.WithLabelValues("DebitWallet").Observe(time.Since(start).Seconds())
	}()

	if credits <= 0 {
		err = fmt.Errorf("%w: credits must be positive", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Debit", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var walletID int32
	var newBalance int64
	updateQuery := `
		UPDATE wallets
		SET credits = credits - $1, updated_at = now()
		WHERE owner_id = $2
		AND credits >= $1
		RETURNING id, credits`
	err = dbTx.QueryRowContext(ctx, updateQuery, credits, ownerID).Scan(&walletID, &newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		_ = dbTx.Rollback()
		err = pkgerrors.ErrInsufficientCredits
		slog.Warn("debit rejected", "method", "Debit", "owner_id", ownerID, "credits", credits, "error", err)
		return nil, err
	}
	if err != nil {
		_ = dbTx.Rollback()
		slog.Error("failed to debit wallet", "method", "Debit", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	tx := &models.Transaction{
		OwnerID:     ownerID,
		WalletID:    walletID,
		Kind:        models.KindDebit,
		AmountCents: 0,
		Credits:     credits,
		Status:      models.StatusCompleted,
		Multiplier:  1,
		Description: description,
	}
	insertQuery := `
		INSERT INTO transactions (owner_id, wallet_id, kind, amount_cents, credits, status, multiplier, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	err = dbTx.QueryRowContext(ctx, insertQuery,
		tx.OwnerID, tx.WalletID, tx.Kind, tx.AmountCents, tx.Credits, tx.Status, tx.Multiplier, tx.Description,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
			slog.Error("rollback failed", "method", "Debit", "error", rbErr)
		} else {
			slog.Error("failed to record debit transaction", "method", "Debit", "owner_id", ownerID, "error", err)
		}
		return nil, fmt.Errorf("failed to record debit transaction: %w", err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Debit", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("wallet debited", "method", "Debit", "owner_id", ownerID, "credits", credits, "new_balance", newBalance, "transaction_id", tx.ID)
	return tx, nil
}
