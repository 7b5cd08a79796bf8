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

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

const transactionColumns = `id, owner_id, wallet_id, kind, amount_cents, credits, status,
	provider, provider_ref, external_ref, package_id, multiplier, description,
	admin_note, processed_by, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var provider, providerRef, externalRef, packageID, adminNote sql.NullString
	var processedBy sql.NullInt32
	var processedAt sql.NullTime
	err := row.Scan(
		&tx.ID, &tx.OwnerID, &tx.WalletID, &tx.Kind, &tx.AmountCents, &tx.Credits, &tx.Status,
		&provider, &providerRef, &externalRef, &packageID, &tx.Multiplier, &tx.Description,
		&adminNote, &processedBy, &processedAt, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Provider = models.PaymentProvider(provider.String)
	tx.ProviderRef = providerRef.String
	tx.ExternalRef = externalRef.String
	tx.PackageID = packageID.String
	tx.AdminNote = adminNote.String
	if processedBy.Valid {
		v := processedBy.Int32
		tx.ProcessedBy = &v
	}
	if processedAt.Valid {
		v := processedAt.Time
		tx.ProcessedAt = &v
	}
	return &tx, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (int32, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateTransaction").Observe(time.Since(start).Seconds())
	}()

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return 0, err
	}

	if tx.Kind != models.KindDeposit && tx.Kind != models.KindDebit {
		err = pkgerrors.ErrInvalidTransactionKind
		slog.Error("invalid transaction kind", "method", "Create", "kind", tx.Kind, "error", err)
		return 0, err
	}

	if tx.Credits <= 0 {
		err = fmt.Errorf("credits must be positive")
		slog.Error("credits must be positive", "method", "Create", "credits", tx.Credits, "error", err)
		return 0, err
	}

	if tx.Multiplier < 1 {
		tx.Multiplier = 1
	}

	span.SetAttributes(
		attribute.Int("owner_id", int(tx.OwnerID)),
		attribute.Int("wallet_id", int(tx.WalletID)),
		attribute.Int64("credits", tx.Credits),
		attribute.String("kind", string(tx.Kind)),
		attribute.String("status", string(tx.Status)),
	)

	query := `
		INSERT INTO transactions (owner_id, wallet_id, kind, amount_cents, credits, status,
			provider, provider_ref, external_ref, package_id, multiplier, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		tx.OwnerID, tx.WalletID, tx.Kind, tx.AmountCents, tx.Credits, tx.Status,
		nullStr(string(tx.Provider)), nullStr(tx.ProviderRef), nullStr(tx.ExternalRef),
		nullStr(tx.PackageID), tx.Multiplier, tx.Description,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		slog.Error("failed to create transaction", "method", "Create", "owner_id", tx.OwnerID, "kind", tx.Kind, "error", err)
		return 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "method", "Create", "id", tx.ID, "owner_id", tx.OwnerID, "kind", tx.Kind, "status", tx.Status)
	return tx.ID, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int32) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByID")
	span.SetAttributes(attribute.Int("transaction_id", int(id)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetTransactionByID", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetTransactionByID").Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) SetProviderRef(ctx context.Context, id int32, providerRef string) error {
	query := `UPDATE transactions SET provider_ref = $1, updated_at = now() WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, providerRef, id)
	if err != nil {
		slog.Error("failed to set provider ref", "method", "SetProviderRef", "transaction_id", id, "error", err)
		return fmt.Errorf("failed to set provider ref: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrTransactionNotFound
	}
	return nil
}

// MarkFailed moves a pending deposit of the owner to failed. The status filter
// makes the transition a one-shot: already-terminal rows are not touched.
func (r *PostgresTransactionRepository) MarkFailed(ctx context.Context, id int32, ownerID int32) error {
	query := `
		UPDATE transactions
		SET status = $1, updated_at = now()
		WHERE id = $2 AND owner_id = $3 AND status = $4 AND kind = $5`
	res, err := r.db.ExecContext(ctx, query, models.StatusFailed, id, ownerID, models.StatusPending, models.KindDeposit)
	if err != nil {
		slog.Error("failed to mark transaction failed", "method", "MarkFailed", "transaction_id", id, "error", err)
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrInvalidTransactionState
	}
	slog.Info("transaction marked failed", "method", "MarkFailed", "transaction_id", id, "owner_id", ownerID)
	return nil
}

// Process applies the admin decision. The status transition is conditional on
// the row still being a pending deposit, so two concurrent calls cannot both
// succeed; on approval the wallet credit happens in the same database
// transaction as the status flip.
func (r *PostgresTransactionRepository) Process(ctx context.Context, id int32, adminID int32, action models.TransactionAction, adminNote string) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "ProcessTransaction")
	span.SetAttributes(
		attribute.Int("transaction_id", int(id)),
		attribute.Int("admin_id", int(adminID)),
		attribute.String("action", string(action)),
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
		observability.RepositoryCalls.WithLabelValues("ProcessTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("ProcessTransaction").Observe(time.Since(start).Seconds())
	}()

	var newStatus models.StatusType
	switch action {
	case models.ActionApprove:
		newStatus = models.StatusCompleted
	case models.ActionReject:
		newStatus = models.StatusRejected
	default:
		err = fmt.Errorf("%w: unknown action %q", pkgerrors.ErrInvalidInput, action)
		return nil, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Process", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	updateQuery := `
		UPDATE transactions
		SET status = $1, admin_note = $2, processed_by = $3, processed_at = now(), updated_at = now()
		WHERE id = $4 AND status = $5 AND kind = $6
		RETURNING ` + transactionColumns
	tx, err := scanTransaction(dbTx.QueryRowContext(ctx, updateQuery,
		newStatus, nullStr(adminNote), adminID, id, models.StatusPending, models.KindDeposit))
	if stderrors.Is(err, sql.ErrNoRows) {
		_ = dbTx.Rollback()
		// Lost the race, already terminal, or never existed.
		var exists bool
		if checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); checkErr == nil && !exists {
			err = pkgerrors.ErrTransactionNotFound
			return nil, err
		}
		err = pkgerrors.ErrInvalidTransactionState
		slog.Warn("transaction not processable", "method", "Process", "transaction_id", id, "error", err)
		return nil, err
	}
	if err != nil {
		_ = dbTx.Rollback()
		slog.Error("failed to process transaction", "method", "Process", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to process transaction: %w", err)
	}

	if action == models.ActionApprove {
		creditQuery := `UPDATE wallets SET credits = credits + $1, updated_at = now() WHERE id = $2`
		res, creditErr := dbTx.ExecContext(ctx, creditQuery, tx.Credits, tx.WalletID)
		if creditErr == nil {
			if n, _ := res.RowsAffected(); n == 0 {
				creditErr = pkgerrors.ErrWalletNotFound
			}
		}
		if creditErr != nil {
			err = creditErr
			if rbErr := dbTx.Rollback(); rbErr != nil {
				err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
				slog.Error("rollback failed", "method", "Process", "error", rbErr)
			} else {
				slog.Error("failed to credit wallet", "method", "Process", "wallet_id", tx.WalletID, "error", err)
			}
			return nil, fmt.Errorf("failed to credit wallet: %w", err)
		}
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Process", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("transaction processed", "method", "Process", "transaction_id", id, "action", action, "admin_id", adminID, "credits", tx.Credits)
	return tx, nil
}

func (r *PostgresTransactionRepository) ListByOwner(ctx context.Context, ownerID int32, limit, offset int) (*models.TransactionPage, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByOwner", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	page := &models.TransactionPage{Transactions: []models.Transaction{}}
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		page.Transactions = append(page.Transactions, *tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM transactions WHERE owner_id = $1`
	if err = r.db.QueryRowContext(ctx, countQuery, ownerID).Scan(&page.TotalCount); err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	page.HasMore = int64(offset+len(page.Transactions)) < page.TotalCount
	return page, nil
}

func (r *PostgresTransactionRepository) ListDeposits(ctx context.Context, status models.StatusType, limit, offset int) (*models.TransactionPage, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE kind = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.QueryContext(ctx, query, models.KindDeposit, string(status), limit, offset)
	if err != nil {
		slog.Error("failed to list deposits", "method", "ListDeposits", "status", status, "error", err)
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	defer rows.Close()

	page := &models.TransactionPage{Transactions: []models.Transaction{}}
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		page.Transactions = append(page.Transactions, *tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deposits: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM transactions WHERE kind = $1 AND ($2 = '' OR status = $2)`
	if err = r.db.QueryRowContext(ctx, countQuery, models.KindDeposit, string(status)).Scan(&page.TotalCount); err != nil {
		return nil, fmt.Errorf("failed to count deposits: %w", err)
	}
	page.HasMore = int64(offset+len(page.Transactions)) < page.TotalCount
	return page, nil
}

func (r *PostgresTransactionRepository) GetStats(ctx context.Context) (*models.TransactionStats, error) {
	var stats models.TransactionStats
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = 'completed'), 0),
			COALESCE(SUM(amount_cents) FILTER (WHERE status = 'pending'), 0)
		FROM transactions
		WHERE kind = $1`
	err := r.db.QueryRowContext(ctx, query, models.KindDeposit).Scan(
		&stats.TotalTransactions,
		&stats.PendingTransactions,
		&stats.CompletedTransactions,
		&stats.RejectedTransactions,
		&stats.TotalRevenueCents,
		&stats.PendingRevenueCents,
	)
	if err != nil {
		slog.Error("failed to get transaction stats", "method", "GetStats", "error", err)
		return nil, fmt.Errorf("failed to get transaction stats: %w", err)
	}
	return &stats, nil
}
