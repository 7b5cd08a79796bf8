package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"creditledger/internal/infrastructure/payment"
	"creditledger/internal/infrastructure/redis"
	"creditledger/internal/models"
	pkgerrors "creditledger/pkg/errors"
)

var testPackages = []models.PaymentPackage{
	{ID: "5", PriceCents: 500, Credits: 200, Name: "$5 Package"},
	{ID: "10", PriceCents: 1000, Credits: 500, Name: "$10 Package"},
	{ID: "15", PriceCents: 1500, Credits: 800, Name: "$15 Package", AllowMultiple: true},
}

type fakeWalletRepo struct {
	mu      sync.Mutex
	wallets map[int32]*models.Wallet
	nextID  int32
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{wallets: make(map[int32]*models.Wallet)}
}

func (f *fakeWalletRepo) GetOrCreate(ctx context.Context, ownerID int32) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.wallets[ownerID]; ok {
		return w, nil
	}
	f.nextID++
	w := &models.Wallet{ID: f.nextID, OwnerID: ownerID}
	f.wallets[ownerID] = w
	return w, nil
}

func (f *fakeWalletRepo) GetByOwnerID(ctx context.Context, ownerID int32) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[ownerID]
	if !ok {
		return nil, pkgerrors.ErrWalletNotFound
	}
	return w, nil
}

func (f *fakeWalletRepo) GetCredits(ctx context.Context, ownerID int32) (int64, error) {
	w, err := f.GetByOwnerID(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return w.Credits, nil
}

func (f *fakeWalletRepo) Debit(ctx context.Context, ownerID int32, credits int64, description string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[ownerID]
	if !ok || w.Credits < credits {
		return nil, pkgerrors.ErrInsufficientCredits
	}
	w.Credits -= credits
	return &models.Transaction{
		ID:          900 + ownerID,
		OwnerID:     ownerID,
		WalletID:    w.ID,
		Kind:        models.KindDebit,
		Credits:     credits,
		Status:      models.StatusCompleted,
		Description: description,
	}, nil
}

// credit mirrors the wallet side of an approved deposit.
func (f *fakeWalletRepo) credit(walletID int32, credits int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.ID == walletID {
			w.Credits += credits
			return
		}
	}
}

type fakeTransactionRepo struct {
	mu      sync.Mutex
	txs     map[int32]*models.Transaction
	nextID  int32
	wallets *fakeWalletRepo
}

func newFakeTransactionRepo(wallets *fakeWalletRepo) *fakeTransactionRepo {
	return &fakeTransactionRepo{txs: make(map[int32]*models.Transaction), wallets: wallets}
}

func (f *fakeTransactionRepo) Create(ctx context.Context, tx *models.Transaction) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	tx.ID = f.nextID
	f.txs[tx.ID] = tx
	return tx.ID, nil
}

func (f *fakeTransactionRepo) GetByID(ctx context.Context, id int32) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	copied := *tx
	return &copied, nil
}

func (f *fakeTransactionRepo) SetProviderRef(ctx context.Context, id int32, providerRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	tx.ProviderRef = providerRef
	return nil
}

func (f *fakeTransactionRepo) MarkFailed(ctx context.Context, id int32, ownerID int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok || tx.OwnerID != ownerID || tx.Status != models.StatusPending || tx.Kind != models.KindDeposit {
		return pkgerrors.ErrInvalidTransactionState
	}
	tx.Status = models.StatusFailed
	return nil
}

func (f *fakeTransactionRepo) Process(ctx context.Context, id int32, adminID int32, action models.TransactionAction, adminNote string) (*models.Transaction, error) {
	f.mu.Lock()
	tx, ok := f.txs[id]
	if !ok {
		f.mu.Unlock()
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if tx.Status != models.StatusPending || tx.Kind != models.KindDeposit {
		f.mu.Unlock()
		return nil, pkgerrors.ErrInvalidTransactionState
	}
	if action == models.ActionApprove {
		tx.Status = models.StatusCompleted
	} else {
		tx.Status = models.StatusRejected
	}
	tx.AdminNote = adminNote
	tx.ProcessedBy = &adminID
	now := time.Now().UTC()
	tx.ProcessedAt = &now
	copied := *tx
	f.mu.Unlock()
	if action == models.ActionApprove {
		f.wallets.credit(tx.WalletID, tx.Credits)
	}
	return &copied, nil
}

func (f *fakeTransactionRepo) ListByOwner(ctx context.Context, ownerID int32, limit, offset int) (*models.TransactionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := &models.TransactionPage{Transactions: []models.Transaction{}}
	for _, tx := range f.txs {
		if tx.OwnerID == ownerID {
			page.Transactions = append(page.Transactions, *tx)
		}
	}
	page.TotalCount = int64(len(page.Transactions))
	return page, nil
}

func (f *fakeTransactionRepo) ListDeposits(ctx context.Context, status models.StatusType, limit, offset int) (*models.TransactionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := &models.TransactionPage{Transactions: []models.Transaction{}}
	for _, tx := range f.txs {
		if tx.Kind == models.KindDeposit && (status == "" || tx.Status == status) {
			page.Transactions = append(page.Transactions, *tx)
		}
	}
	page.TotalCount = int64(len(page.Transactions))
	return page, nil
}

func (f *fakeTransactionRepo) GetStats(ctx context.Context) (*models.TransactionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.TransactionStats{}
	for _, tx := range f.txs {
		if tx.Kind != models.KindDeposit {
			continue
		}
		stats.TotalTransactions++
		switch tx.Status {
		case models.StatusPending:
			stats.PendingTransactions++
			stats.PendingRevenueCents += tx.AmountCents
		case models.StatusCompleted:
			stats.CompletedTransactions++
			stats.TotalRevenueCents += tx.AmountCents
		case models.StatusRejected:
			stats.RejectedTransactions++
		}
	}
	return stats, nil
}

type fakeRedis struct {
	mu    sync.Mutex
	store map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{store: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.store[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeRedis) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, key)
	return nil
}

func (f *fakeRedis) Close() error { return nil }

type fakeProducer struct {
	mu   sync.Mutex
	sent int
}

func (f *fakeProducer) Send(ctx context.Context, topic string, key int64, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type fakeProvider struct {
	createErr    error
	verifyResult bool
	verifyErr    error
}

func (f *fakeProvider) CreateIntent(ctx context.Context, amountCents int64, transactionRef string) (*payment.Intent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &payment.Intent{ProviderRef: "ref_" + transactionRef, CheckoutURL: "https://pay.example/" + transactionRef}, nil
}

func (f *fakeProvider) Verify(ctx context.Context, providerRef string) (bool, error) {
	return f.verifyResult, f.verifyErr
}

func newTestWalletService(provider payment.Provider) (*walletService, *fakeWalletRepo, *fakeTransactionRepo, *fakeRedis) {
	wallets := newFakeWalletRepo()
	txs := newFakeTransactionRepo(wallets)
	cache := newFakeRedis()
	registry := payment.Registry{models.ProviderPayPal: provider}
	svc := NewWalletService(wallets, txs, registry, testPackages, cache, &fakeProducer{})
	return svc, wallets, txs, cache
}

func TestWalletService_CreateDepositIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		svc, _, txs, _ := newTestWalletService(&fakeProvider{})

		intent, err := svc.CreateDepositIntent(ctx, 1, "5", models.ProviderPayPal, 1, "order-77")
		assert.NoError(t, err)
		assert.Equal(t, "ref_1", intent.ProviderRef)
		assert.NotEmpty(t, intent.CheckoutURL)

		tx, err := txs.GetByID(ctx, intent.TransactionID)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusPending, tx.Status)
		assert.Equal(t, models.KindDeposit, tx.Kind)
		assert.Equal(t, int64(500), tx.AmountCents)
		assert.Equal(t, int64(200), tx.Credits)
		assert.Equal(t, "ref_1", tx.ProviderRef)
		assert.Equal(t, "order-77", tx.ExternalRef)
	})

	t.Run("UnknownPackage", func(t *testing.T) {
		svc, _, _, _ := newTestWalletService(&fakeProvider{})

		intent, err := svc.CreateDepositIntent(ctx, 1, "50", models.ProviderPayPal, 1, "")
		assert.Nil(t, intent)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidPackage)
	})

	t.Run("MultiplierOnlyOnTopTier", func(t *testing.T) {
		svc, _, _, _ := newTestWalletService(&fakeProvider{})

		intent, err := svc.CreateDepositIntent(ctx, 1, "5", models.ProviderPayPal, 3, "")
		assert.Nil(t, intent)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidMultiplier)
	})

	t.Run("MultiplierScalesAmounts", func(t *testing.T) {
		svc, _, txs, _ := newTestWalletService(&fakeProvider{})

		intent, err := svc.CreateDepositIntent(ctx, 1, "15", models.ProviderPayPal, 3, "")
		assert.NoError(t, err)

		tx, err := txs.GetByID(ctx, intent.TransactionID)
		assert.NoError(t, err)
		assert.Equal(t, int64(4500), tx.AmountCents)
		assert.Equal(t, int64(2400), tx.Credits)
		assert.Equal(t, int32(3), tx.Multiplier)
	})

	t.Run("UnsupportedProvider", func(t *testing.T) {
		svc, _, _, _ := newTestWalletService(&fakeProvider{})

		intent, err := svc.CreateDepositIntent(ctx, 1, "5", "stripe", 1, "")
		assert.Nil(t, intent)
		assert.ErrorIs(t, err, pkgerrors.ErrUnsupportedProvider)
	})

	t.Run("ProviderDownFailsTransaction", func(t *testing.T) {
		svc, _, txs, _ := newTestWalletService(&fakeProvider{createErr: fmt.Errorf("gateway timeout")})

		intent, err := svc.CreateDepositIntent(ctx, 1, "5", models.ProviderPayPal, 1, "")
		assert.Nil(t, intent)
		assert.ErrorIs(t, err, pkgerrors.ErrProviderUnavailable)

		tx, err := txs.GetByID(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, models.StatusFailed, tx.Status)
	})
}

func TestWalletService_ConfirmDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("VerifiedStaysPending", func(t *testing.T) {
		svc, wallets, txs, _ := newTestWalletService(&fakeProvider{verifyResult: true})

		intent, err := svc.CreateDepositIntent(ctx, 1, "5", models.ProviderPayPal, 1, "")
		assert.NoError(t, err)

		err = svc.ConfirmDeposit(ctx, 1, intent.TransactionID)
		assert.NoError(t, err)

		// Verification alone must not credit anything; moderation still owns
		// the final word.
		tx, _ := txs.GetByID(ctx, intent.TransactionID)
		assert.Equal(t, models.StatusPending, tx.Status)
		w, _ := wallets.GetByOwnerID(ctx, 1)
		assert.Equal(t, int64(0), w.Credits)
	})

	t.Run("VerificationFailedIsTerminal", func(t *testing.T) {
		svc, _, txs, _ := newTestWalletService(&fakeProvider{verifyResult: false})

		intent, err := svc.CreateDepositIntent(ctx, 1, "5", models.ProviderPayPal, 1, "")
		assert.NoError(t, err)

		err = svc.ConfirmDeposit(ctx, 1, intent.TransactionID)
		assert.ErrorIs(t, err, pkgerrors.ErrVerificationFailed)

		tx, _ := txs.GetByID(ctx, intent.TransactionID)
		assert.Equal(t, models.StatusFailed, tx.Status)

		err = svc.ConfirmDeposit(ctx, 1, intent.TransactionID)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransactionState)
	})

	t.Run("WrongOwner", func(t *testing.T) {
		svc, _, _, _ := newTestWalletService(&fakeProvider{verifyResult: true})

		intent, err := svc.CreateDepositIntent(ctx, 1, "5", models.ProviderPayPal, 1, "")
		assert.NoError(t, err)

		err = svc.ConfirmDeposit(ctx, 2, intent.TransactionID)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransactionState)
	})

	t.Run("NotFound", func(t *testing.T) {
		svc, _, _, _ := newTestWalletService(&fakeProvider{verifyResult: true})

		err := svc.ConfirmDeposit(ctx, 1, 404)
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
	})

	t.Run("ProviderCallError", func(t *testing.T) {
		svc, _, txs, _ := newTestWalletService(&fakeProvider{verifyErr: fmt.Errorf("gateway timeout")})

		intent, err := svc.CreateDepositIntent(ctx, 1, "5", models.ProviderPayPal, 1, "")
		assert.NoError(t, err)

		err = svc.ConfirmDeposit(ctx, 1, intent.TransactionID)
		assert.ErrorIs(t, err, pkgerrors.ErrProviderUnavailable)

		// A transport error is retryable, the row stays pending.
		tx, _ := txs.GetByID(ctx, intent.TransactionID)
		assert.Equal(t, models.StatusPending, tx.Status)
	})
}

func TestWalletService_ProcessTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("ApproveCreditsExactlyOnce", func(t *testing.T) {
		svc, wallets, _, _ := newTestWalletService(&fakeProvider{verifyResult: true})

		intent, err := svc.CreateDepositIntent(ctx, 1, "5", models.ProviderPayPal, 1, "")
		assert.NoError(t, err)
		assert.NoError(t, svc.ConfirmDeposit(ctx, 1, intent.TransactionID))

		err = svc.ProcessTransaction(ctx, intent.TransactionID, 99, models.ActionApprove, "ok")
		assert.NoError(t, err)

		w, _ := wallets.GetByOwnerID(ctx, 1)
		assert.Equal(t, int64(200), w.Credits)

		// A second decision on the same row must not double-credit.
		err = svc.ProcessTransaction(ctx, intent.TransactionID, 99, models.ActionApprove, "again")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransactionState)
		w, _ = wallets.GetByOwnerID(ctx, 1)
		assert.Equal(t, int64(200), w.Credits)
	})

	t.Run("RejectLeavesBalance", func(t *testing.T) {
		svc, wallets, txs, _ := newTestWalletService(&fakeProvider{verifyResult: true})

		intent, err := svc.CreateDepositIntent(ctx, 1, "10", models.ProviderPayPal, 1, "")
		assert.NoError(t, err)

		err = svc.ProcessTransaction(ctx, intent.TransactionID, 99, models.ActionReject, "chargeback risk")
		assert.NoError(t, err)

		tx, _ := txs.GetByID(ctx, intent.TransactionID)
		assert.Equal(t, models.StatusRejected, tx.Status)
		assert.Equal(t, "chargeback risk", tx.AdminNote)
		w, _ := wallets.GetByOwnerID(ctx, 1)
		assert.Equal(t, int64(0), w.Credits)
	})
}

func TestWalletService_DeductCredits(t *testing.T) {
	ctx := context.Background()

	t.Run("InsufficientLeavesState", func(t *testing.T) {
		svc, wallets, txs, _ := newTestWalletService(&fakeProvider{})

		w, _ := wallets.GetOrCreate(ctx, 1)
		w.Credits = 10

		tx, err := svc.DeductCredits(ctx, 1, 50, "unlock")
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientCredits)

		w, _ = wallets.GetByOwnerID(ctx, 1)
		assert.Equal(t, int64(10), w.Credits)
		page, _ := txs.ListByOwner(ctx, 1, 10, 0)
		assert.Empty(t, page.Transactions)
	})

	t.Run("SuccessDecrementsAndRecords", func(t *testing.T) {
		svc, wallets, _, cache := newTestWalletService(&fakeProvider{})

		w, _ := wallets.GetOrCreate(ctx, 1)
		w.Credits = 100
		cache.store["wallet:1:credits"] = "100"

		tx, err := svc.DeductCredits(ctx, 1, 30, "unlock")
		assert.NoError(t, err)
		assert.Equal(t, models.KindDebit, tx.Kind)
		assert.Equal(t, models.StatusCompleted, tx.Status)
		assert.Equal(t, int64(30), tx.Credits)

		w, _ = wallets.GetByOwnerID(ctx, 1)
		assert.Equal(t, int64(70), w.Credits)

		// Cache no longer serves the stale balance.
		_, err = cache.Get(ctx, "wallet:1:credits")
		assert.ErrorIs(t, err, redis.ErrKeyNotFound)
	})

	t.Run("NonPositiveCredits", func(t *testing.T) {
		svc, _, _, _ := newTestWalletService(&fakeProvider{})

		tx, err := svc.DeductCredits(ctx, 1, 0, "unlock")
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestWalletService_GetBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("CacheMissReadsWallet", func(t *testing.T) {
		svc, wallets, _, cache := newTestWalletService(&fakeProvider{})
		w, _ := wallets.GetOrCreate(ctx, 1)
		w.Credits = 250

		balance, err := svc.GetBalance(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, int64(250), balance)
		assert.Equal(t, "250", cache.store["wallet:1:credits"])
	})

	t.Run("CacheHitSkipsWallet", func(t *testing.T) {
		svc, _, _, cache := newTestWalletService(&fakeProvider{})
		cache.store["wallet:2:credits"] = "42"

		balance, err := svc.GetBalance(ctx, 2)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), balance)
	})

	t.Run("LazyCreation", func(t *testing.T) {
		svc, _, _, _ := newTestWalletService(&fakeProvider{})

		balance, err := svc.GetBalance(ctx, 3)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})
}

func TestWalletService_GetPaymentPackages(t *testing.T) {
	svc, _, _, _ := newTestWalletService(&fakeProvider{})

	pkgs := svc.GetPaymentPackages()
	assert.Len(t, pkgs, 3)
	assert.Equal(t, "5", pkgs[0].ID)
	assert.Equal(t, "10", pkgs[1].ID)
	assert.Equal(t, "15", pkgs[2].ID)
	assert.True(t, pkgs[2].AllowMultiple)
}
