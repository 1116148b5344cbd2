package generation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/model"
	"github.com/glazeapp/glaze/pkg/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu          sync.Mutex
	generations map[uuid.UUID]*model.Generation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{generations: make(map[uuid.UUID]*model.Generation)}
}

func (r *fakeRepo) InsertTx(ctx context.Context, tx pgx.Tx, g *model.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g.CreatedAt = time.Now()
	clone := *g
	r.generations[g.ID] = &clone
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.generations[id]
	if !ok {
		return nil, ErrGenerationNotFound
	}
	clone := *g
	return &clone, nil
}

func (r *fakeRepo) LockStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (model.GenerationStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.generations[id]
	if !ok {
		return "", ErrGenerationNotFound
	}
	return g.Status, nil
}

func (r *fakeRepo) Complete(ctx context.Context, id uuid.UUID, resultURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.generations[id]
	if !ok {
		return ErrGenerationNotFound
	}
	if g.Status != model.GenerationQueued {
		return ErrAlreadySettled
	}
	g.Status = model.GenerationCompleted
	g.ResultURL = resultURL
	return nil
}

func (r *fakeRepo) FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.generations[id]
	g.Status = model.GenerationFailed
	g.FailReason = reason
	return nil
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	applied  []model.Transaction
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[int64]decimal.Decimal)}
}

func (l *fakeLedger) Apply(ctx context.Context, op ledger.Operation) (*model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[op.UserID]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}

	var newBalance decimal.Decimal
	switch op.Type {
	case model.TransactionDeposit, model.TransactionRefund, model.TransactionBonus:
		newBalance = balance.Add(op.Amount)
	case model.TransactionWithdrawal:
		if balance.LessThan(op.Amount) {
			return nil, ledger.ErrInsufficientBalance
		}
		newBalance = balance.Sub(op.Amount)
	default:
		return nil, fmt.Errorf("unknown type %q", op.Type)
	}

	if op.Within != nil {
		if err := op.Within(ctx, nil); err != nil {
			return nil, err
		}
	}

	l.balances[op.UserID] = newBalance
	entry := model.Transaction{
		UserID:        op.UserID,
		Type:          op.Type,
		Amount:        op.Amount,
		BalanceBefore: balance,
		BalanceAfter:  newBalance,
		Status:        model.TransactionCompleted,
		GenerationID:  op.Link.GenerationID,
	}
	l.applied = append(l.applied, entry)
	return &entry, nil
}

type fakePricer struct {
	prices       map[string]decimal.Decimal
	defaultPrice decimal.Decimal
}

func (p *fakePricer) Cost(model string) decimal.Decimal {
	if price, ok := p.prices[model]; ok {
		return price
	}
	return p.defaultPrice
}

type enqueued struct {
	eventType     string
	partitionKey  string
	correlationID string
	payload       any
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService() (*Service, *fakeRepo, *fakeLedger, *[]enqueued) {
	repo := newFakeRepo()
	ledgerFake := newFakeLedger()
	pricer := &fakePricer{
		prices:       map[string]decimal.Decimal{"flux": dec("5.00")},
		defaultPrice: dec("3.00"),
	}
	svc := NewService(repo, ledgerFake, pricer)

	events := &[]enqueued{}
	svc.enqueue = func(ctx context.Context, tx pgx.Tx, eventType, partitionKey, correlationID string, payload any) error {
		*events = append(*events, enqueued{eventType, partitionKey, correlationID, payload})
		return nil
	}
	return svc, repo, ledgerFake, events
}

func TestGateChargesAndDispatches(t *testing.T) {
	svc, repo, ledgerFake, events := newTestService()
	ledgerFake.balances[1] = dec("10.00")

	g, entry, err := svc.Gate(context.Background(), 1, "flux", "a cat in a hat")
	require.NoError(t, err)

	assert.True(t, g.Cost.Equal(dec("5.00")))
	assert.Equal(t, model.GenerationQueued, g.Status)
	assert.True(t, ledgerFake.balances[1].Equal(dec("5.00")))
	assert.True(t, entry.BalanceAfter.Equal(dec("5.00")))

	stored, err := repo.GetByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GenerationQueued, stored.Status)

	require.Len(t, *events, 1)
	job, ok := (*events)[0].payload.(types.GenerationJobEvent)
	require.True(t, ok)
	assert.Equal(t, g.ID.String(), job.GenerationID)
	assert.Equal(t, "flux", job.Model)
	assert.Equal(t, g.ID.String(), (*events)[0].correlationID)
}

func TestGateUnknownModelUsesDefaultPrice(t *testing.T) {
	svc, _, ledgerFake, _ := newTestService()
	ledgerFake.balances[1] = dec("10.00")

	g, _, err := svc.Gate(context.Background(), 1, "mystery", "prompt")
	require.NoError(t, err)
	assert.True(t, g.Cost.Equal(dec("3.00")))
}

func TestGateInsufficientBalanceDispatchesNothing(t *testing.T) {
	svc, repo, ledgerFake, events := newTestService()
	ledgerFake.balances[1] = dec("2.00")

	_, _, err := svc.Gate(context.Background(), 1, "flux", "prompt")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	assert.True(t, ledgerFake.balances[1].Equal(dec("2.00")))
	assert.Empty(t, *events)
	assert.Empty(t, repo.generations)
}

func TestSettleSuccess(t *testing.T) {
	svc, repo, ledgerFake, _ := newTestService()
	ledgerFake.balances[1] = dec("10.00")

	g, _, err := svc.Gate(context.Background(), 1, "flux", "prompt")
	require.NoError(t, err)

	require.NoError(t, svc.Settle(context.Background(), g.ID, true, "https://cdn.test/img.png", ""))

	stored, err := repo.GetByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GenerationCompleted, stored.Status)
	assert.Equal(t, "https://cdn.test/img.png", stored.ResultURL)

	// Success keeps the charge.
	assert.True(t, ledgerFake.balances[1].Equal(dec("5.00")))
}

func TestSettleFailureRefunds(t *testing.T) {
	svc, repo, ledgerFake, _ := newTestService()
	ledgerFake.balances[1] = dec("10.00")

	g, _, err := svc.Gate(context.Background(), 1, "flux", "prompt")
	require.NoError(t, err)

	require.NoError(t, svc.Settle(context.Background(), g.ID, false, "", "provider timeout"))

	stored, err := repo.GetByID(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GenerationFailed, stored.Status)
	assert.Equal(t, "provider timeout", stored.FailReason)

	// The failed attempt nets to zero but both journal entries exist,
	// linked to the same generation.
	assert.True(t, ledgerFake.balances[1].Equal(dec("10.00")))
	require.Len(t, ledgerFake.applied, 2)
	assert.Equal(t, model.TransactionWithdrawal, ledgerFake.applied[0].Type)
	assert.Equal(t, model.TransactionRefund, ledgerFake.applied[1].Type)
	for _, e := range ledgerFake.applied {
		require.NotNil(t, e.GenerationID)
		assert.Equal(t, g.ID, *e.GenerationID)
	}
}

func TestSettleTwiceIsNoop(t *testing.T) {
	svc, _, ledgerFake, _ := newTestService()
	ledgerFake.balances[1] = dec("10.00")

	g, _, err := svc.Gate(context.Background(), 1, "flux", "prompt")
	require.NoError(t, err)

	require.NoError(t, svc.Settle(context.Background(), g.ID, false, "", "provider timeout"))
	require.NoError(t, svc.Settle(context.Background(), g.ID, false, "", "provider timeout"))

	assert.True(t, ledgerFake.balances[1].Equal(dec("10.00")))
	assert.Len(t, ledgerFake.applied, 2)

	require.NoError(t, svc.Settle(context.Background(), g.ID, true, "late result", ""))
	assert.Len(t, ledgerFake.applied, 2)
}

func TestSettleUnknownGeneration(t *testing.T) {
	svc, _, _, _ := newTestService()

	err := svc.Settle(context.Background(), uuid.New(), true, "", "")
	assert.ErrorIs(t, err, ErrGenerationNotFound)
}
