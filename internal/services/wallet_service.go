package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	stderrors "errors"

	"creditledger/internal/infrastructure/kafka"
	"creditledger/internal/infrastructure/payment"
	"creditledger/internal/infrastructure/redis"
	"creditledger/internal/models"
	"creditledger/internal/repository"
	pkgerrors "creditledger/pkg/errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

type WalletService interface {
	GetOrCreateWallet(ctx context.Context, ownerID int32) (*models.Wallet, error)
	GetBalance(ctx context.Context, ownerID int32) (int64, error)
	GetPaymentPackages() []models.PaymentPackage
	CreateDepositIntent(ctx context.Context, ownerID int32, packageID string, provider models.PaymentProvider, multiplier int32, externalRef string) (*models.DepositIntent, error)
	ConfirmDeposit(ctx context.Context, ownerID, transactionID int32) error
	DeductCredits(ctx context.Context, ownerID int32, credits int64, description string) (*models.Transaction, error)
	ProcessTransaction(ctx context.Context, transactionID, adminID int32, action models.TransactionAction, adminNote string) error
	GetTransactionHistory(ctx context.Context, ownerID int32, limit, offset int) (*models.TransactionPage, error)
	GetAdminTransactions(ctx context.Context, status models.StatusType, limit, offset int) (*models.TransactionPage, error)
	GetTransactionStats(ctx context.Context) (*models.TransactionStats, error)
}

type walletService struct {
	walletRepo    repository.WalletRepository
	txRepo        repository.TransactionRepository
	providers     payment.Registry
	packages      map[string]models.PaymentPackage
	redisClient   redis.RedisClient
	kafkaProducer kafka.KafkaProducer
}

func NewWalletService(
	walletRepo repository.WalletRepository,
	txRepo repository.TransactionRepository,
	providers payment.Registry,
	packages []models.PaymentPackage,
	redisClient redis.RedisClient,
	kafkaProducer kafka.KafkaProducer,
) *walletService {
	catalog := make(map[string]models.PaymentPackage, len(packages))
	for _, p := range packages {
		catalog[p.ID] = p
	}
	return &walletService{
		walletRepo:    walletRepo,
		txRepo:        txRepo,
		providers:     providers,
		packages:      catalog,
		redisClient:   redisClient,
		kafkaProducer: kafkaProducer,
	}
}

func (s *walletService) GetOrCreateWallet(ctx context.Context, ownerID int32) (*models.Wallet, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "GetOrCreateWallet")
	defer span.End()

	wallet, err := s.walletRepo.GetOrCreate(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "wallet access failed")
		slog.Error("failed to get or create wallet", "owner_id", ownerID, "error", err)
		return nil, err
	}
	return wallet, nil
}

func (s *walletService) GetBalance(ctx context.Context, ownerID int32) (int64, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "GetBalance")
	defer span.End()

	balanceKey := fmt.Sprintf("wallet:%d:credits", ownerID)
	balanceStr, err := s.redisClient.Get(ctx, balanceKey)
	if err == nil {
		var balance int64
		if err := json.Unmarshal([]byte(balanceStr), &balance); err != nil {
			slog.Error("failed to unmarshal cached balance", "owner_id", ownerID, "error", err)
		} else {
			return balance, nil
		}
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get balance from Postgres", "owner_id", ownerID, "error", err)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	if err := s.redisClient.Set(ctx, balanceKey, wallet.Credits, 5*time.Minute); err != nil {
		slog.Error("failed to cache balance", "owner_id", ownerID, "error", err)
	}

	return wallet.Credits, nil
}

func (s *walletService) GetPaymentPackages() []models.PaymentPackage {
	pkgs := make([]models.PaymentPackage, 0, len(s.packages))
	for _, id := range sortedPackageIDs(s.packages) {
		pkgs = append(pkgs, s.packages[id])
	}
	return pkgs
}

func (s *walletService) CreateDepositIntent(ctx context.Context, ownerID int32, packageID string, provider models.PaymentProvider, multiplier int32, externalRef string) (*models.DepositIntent, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "CreateDepositIntent")
	defer span.End()

	pkg, ok := s.packages[packageID]
	if !ok {
		span.SetStatus(codes.Error, "unknown package")
		slog.Warn("deposit intent for unknown package", "owner_id", ownerID, "package_id", packageID)
		return nil, pkgerrors.ErrInvalidPackage
	}

	if multiplier < 1 {
		multiplier = 1
	}
	if multiplier > 1 && !pkg.AllowMultiple {
		span.SetStatus(codes.Error, "multiplier not allowed")
		slog.Warn("multiplier not allowed for package", "owner_id", ownerID, "package_id", packageID, "multiplier", multiplier)
		return nil, pkgerrors.ErrInvalidMultiplier
	}

	impl, ok := s.providers.Get(provider)
	if !ok {
		span.SetStatus(codes.Error, "unsupported provider")
		return nil, pkgerrors.ErrUnsupportedProvider
	}

	wallet, err := s.walletRepo.GetOrCreate(ctx, ownerID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to get wallet for deposit", "owner_id", ownerID, "error", err)
		return nil, err
	}

	totalAmount := pkg.PriceCents * int64(multiplier)
	totalCredits := pkg.Credits * int64(multiplier)

	tx := &models.Transaction{
		OwnerID:     ownerID,
		WalletID:    wallet.ID,
		Kind:        models.KindDeposit,
		AmountCents: totalAmount,
		Credits:     totalCredits,
		Status:      models.StatusPending,
		Provider:    provider,
		ExternalRef: externalRef,
		PackageID:   packageID,
		Multiplier:  multiplier,
		Description: fmt.Sprintf("Purchase %dx %s - ref: %s", multiplier, pkg.Name, externalRef),
	}
	txID, err := s.txRepo.Create(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction creation failed")
		slog.Error("failed to create deposit transaction", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: failed to create deposit transaction", pkgerrors.ErrInternal)
	}

	intent, err := impl.CreateIntent(ctx, totalAmount, fmt.Sprintf("%d", txID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider intent failed")
		slog.Error("provider failed to create intent", "owner_id", ownerID, "transaction_id", txID, "provider", provider, "error", err)
		// The row must not linger as pending; it can never be confirmed.
		if failErr := s.txRepo.MarkFailed(ctx, txID, ownerID); failErr != nil {
			slog.Error("failed to mark transaction failed after provider error", "transaction_id", txID, "error", failErr)
		}
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrProviderUnavailable, err)
	}

	if err := s.txRepo.SetProviderRef(ctx, txID, intent.ProviderRef); err != nil {
		span.RecordError(err)
		slog.Error("failed to store provider ref", "transaction_id", txID, "error", err)
		return nil, fmt.Errorf("%w: failed to store provider ref", pkgerrors.ErrInternal)
	}

	s.publishEvent("deposit_intent_created", tx)

	slog.Info("deposit intent created", "owner_id", ownerID, "transaction_id", txID, "package_id", packageID, "multiplier", multiplier, "provider", provider)
	return &models.DepositIntent{
		TransactionID: txID,
		ProviderRef:   intent.ProviderRef,
		CheckoutURL:   intent.CheckoutURL,
		QRCode:        intent.QRCode,
	}, nil
}

// ConfirmDeposit verifies the payment with the provider. Verification success
// does not credit the wallet and does not change status: the transaction
// stays pending until an admin approves it. Verification failure is terminal.
func (s *walletService) ConfirmDeposit(ctx context.Context, ownerID, transactionID int32) error {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "ConfirmDeposit")
	defer span.End()

	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		slog.Error("failed to load transaction", "transaction_id", transactionID, "error", err)
		return err
	}

	if tx.OwnerID != ownerID || tx.Kind != models.KindDeposit || tx.Status != models.StatusPending {
		span.SetStatus(codes.Error, "transaction not confirmable")
		slog.Warn("transaction not confirmable", "transaction_id", transactionID, "owner_id", ownerID, "status", tx.Status)
		return pkgerrors.ErrInvalidTransactionState
	}

	impl, ok := s.providers.Get(tx.Provider)
	if !ok {
		return pkgerrors.ErrUnsupportedProvider
	}

	verified, err := impl.Verify(ctx, tx.ProviderRef)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider verification call failed")
		slog.Error("provider verification call failed", "transaction_id", transactionID, "provider", tx.Provider, "error", err)
		return fmt.Errorf("%w: %v", pkgerrors.ErrProviderUnavailable, err)
	}

	if !verified {
		// Mark the attempt dead so it cannot be retried as pending.
		if failErr := s.txRepo.MarkFailed(ctx, transactionID, ownerID); failErr != nil && !stderrors.Is(failErr, pkgerrors.ErrInvalidTransactionState) {
			slog.Error("failed to mark transaction failed", "transaction_id", transactionID, "error", failErr)
		}
		tx.Status = models.StatusFailed
		s.publishEvent("deposit_verification_failed", tx)
		slog.Warn("payment verification failed", "transaction_id", transactionID, "owner_id", ownerID, "provider", tx.Provider)
		return pkgerrors.ErrVerificationFailed
	}

	s.publishEvent("deposit_confirmed", tx)
	slog.Info("deposit confirmed, awaiting moderation", "transaction_id", transactionID, "owner_id", ownerID)
	return nil
}

func (s *walletService) DeductCredits(ctx context.Context, ownerID int32, credits int64, description string) (*models.Transaction, error) {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "DeductCredits")
	defer span.End()

	if credits <= 0 {
		return nil, fmt.Errorf("%w: credits must be positive", pkgerrors.ErrInvalidInput)
	}

	if _, err := s.walletRepo.GetOrCreate(ctx, ownerID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	tx, err := s.walletRepo.Debit(ctx, ownerID, credits, description)
	if err != nil {
		span.RecordError(err)
		if stderrors.Is(err, pkgerrors.ErrInsufficientCredits) {
			span.SetStatus(codes.Error, "insufficient credits")
			slog.Warn("debit rejected", "owner_id", ownerID, "credits", credits)
		} else {
			slog.Error("failed to deduct credits", "owner_id", ownerID, "credits", credits, "error", err)
		}
		return nil, err
	}

	s.invalidateBalance(ctx, ownerID)
	s.publishEvent("debit_applied", tx)

	slog.Info("credits deducted", "owner_id", ownerID, "credits", credits, "transaction_id", tx.ID)
	return tx, nil
}

// ProcessTransaction applies the admin Approve/Reject decision. The repository
// guards the status transition with a compare-and-swap so a second call on the
// same id observes ErrInvalidTransactionState.
func (s *walletService) ProcessTransaction(ctx context.Context, transactionID, adminID int32, action models.TransactionAction, adminNote string) error {
	tracer := otel.Tracer("wallet-service")
	ctx, span := tracer.Start(ctx, "ProcessTransaction")
	defer span.End()

	tx, err := s.txRepo.Process(ctx, transactionID, adminID, action, adminNote)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		slog.Error("failed to process transaction", "transaction_id", transactionID, "admin_id", adminID, "action", action, "error", err)
		return err
	}

	if action == models.ActionApprove {
		s.invalidateBalance(ctx, tx.OwnerID)
	}
	s.publishEvent("deposit_processed", tx)

	slog.Info("transaction processed", "transaction_id", transactionID, "admin_id", adminID, "action", action, "owner_id", tx.OwnerID)
	return nil
}

func (s *walletService) GetTransactionHistory(ctx context.Context, ownerID int32, limit, offset int) (*models.TransactionPage, error) {
	if limit <= 0 {
		limit = 10
	}
	page, err := s.txRepo.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		slog.Error("failed to get transaction history", "owner_id", ownerID, "error", err)
		return nil, err
	}
	return page, nil
}

func (s *walletService) GetAdminTransactions(ctx context.Context, status models.StatusType, limit, offset int) (*models.TransactionPage, error) {
	if limit <= 0 {
		limit = 20
	}
	page, err := s.txRepo.ListDeposits(ctx, status, limit, offset)
	if err != nil {
		slog.Error("failed to list deposits for moderation", "status", status, "error", err)
		return nil, err
	}
	return page, nil
}

func (s *walletService) GetTransactionStats(ctx context.Context) (*models.TransactionStats, error) {
	stats, err := s.txRepo.GetStats(ctx)
	if err != nil {
		slog.Error("failed to get transaction stats", "error", err)
		return nil, err
	}
	return stats, nil
}

func (s *walletService) invalidateBalance(ctx context.Context, ownerID int32) {
	balanceKey := fmt.Sprintf("wallet:%d:credits", ownerID)
	if err := s.redisClient.Del(ctx, balanceKey); err != nil {
		slog.Error("failed to invalidate balance cache", "owner_id", ownerID, "error", err)
	}
}

func (s *walletService) publishEvent(eventType string, tx *models.Transaction) {
	if s.kafkaProducer == nil {
		return
	}
	event := kafka.LedgerEvent{
		EventType:     eventType,
		TransactionID: tx.ID,
		OwnerID:       tx.OwnerID,
		Credits:       tx.Credits,
		AmountCents:   tx.AmountCents,
		Status:        string(tx.Status),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal ledger event", "transaction_id", tx.ID, "error", err)
		return
	}
	go func() {
		retries := 3
		for i := 0; i < retries; i++ {
			if err := s.kafkaProducer.Send(context.Background(), "transactions", int64(tx.ID), eventBytes); err == nil {
				return
			}
			time.Sleep(time.Second * time.Duration(i+1))
		}
		slog.Error("failed to send ledger event after retries", "event_type", eventType, "transaction_id", tx.ID)
	}()
}

// sortedPackageIDs keeps the catalog listing stable, cheapest tier first.
func sortedPackageIDs(packages map[string]models.PaymentPackage) []string {
	ids := make([]string, 0, len(packages))
	for id := range packages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return packages[ids[i]].PriceCents < packages[ids[j]].PriceCents
	})
	return ids
}
