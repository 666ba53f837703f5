// Package settlement pays for a work unit: it moves the price from the paying
// account to the earning account, terminates the agreement and marks the
// work unit paid, all in one transaction.
//
// Settle is safe for concurrent use. Settlements that share an account,
// agreement or work unit are serialized by a lock.Locker and by the store's
// transactional scope; unrelated settlements run in parallel.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mmynk/jobsettle/internal/lock"
	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
)

const tracerName = "github.com/mmynk/jobsettle/internal/settlement"

// DefaultLockTimeout bounds the wait for the settlement's keys and
// database connection.
const DefaultLockTimeout = 2 * time.Second

// Engine settles work units against a storage.Store.
type Engine struct {
	store       storage.Store
	locker      lock.Locker
	lockTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLockTimeout sets how long Settle waits for its keys and a database
// connection before ErrBusy.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockTimeout = d
		}
	}
}

// WithClock sets the source of settlement timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger for settlement outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics records attempts, latency and settled amounts in m.
// A nil m disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// New creates an Engine. Without options it uses an in-process locker,
// the wall clock, slog.Default and the global tracer provider.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		locker:      lock.NewMemoryLocker(),
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settle pays for workUnitID on behalf of requesterID.
//
// Validation runs in this order: the work unit exists (ErrNotFound), the
// requester is the paying account (ErrForbidden), the work unit is unpaid
// (ErrAlreadyPaid), the paying balance covers the price
// (ErrInsufficientFunds). Lock contention yields ErrBusy. A storage fault
// once the transaction is open yields ErrSettlementFailed with every
// mutation rolled back.
func (e *Engine) Settle(ctx context.Context, workUnitID, requesterID string) (receipt *models.Receipt, err error) {
	ctx, span := e.tracer.Start(ctx, "settlement.Settle", trace.WithAttributes(
		attribute.String("work_unit.id", workUnitID),
		attribute.String("account.id", requesterID),
	))
	start := time.Now()

	defer func() {
		outcome := Outcome(err)
		amount := decimal.Zero
		if receipt != nil {
			amount = receipt.Amount
		}
		e.metrics.observe(outcome, time.Since(start), amount)

		span.SetAttributes(attribute.String("settlement.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()

		e.log(ctx, workUnitID, requesterID, outcome, receipt, err)
	}()

	// Unlocked read to learn which rows to lock. Agreement parties never
	// change, so a non-payer can be turned away before taking any lock.
	wu, err := e.store.GetWorkUnit(ctx, workUnitID)
	if err != nil {
		return nil, classifyRead(err)
	}
	if wu.Agreement.PayingAccountID != requesterID {
		return nil, ErrForbidden
	}
	payingID, earningID := wu.Agreement.PayingAccountID, wu.Agreement.EarningAccountID

	// One budget covers the keys and the database connection. Once the
	// transaction begins it runs to commit or rollback even if the caller
	// goes away.
	waitCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()
	release, err := e.locker.Acquire(waitCtx,
		lock.AccountKey(payingID),
		lock.AccountKey(earningID),
		lock.AgreementKey(wu.AgreementID),
		lock.WorkUnitKey(wu.ID),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBusy, err)
	}
	defer release()

	mutating := false
	err = e.store.WithinTx(waitCtx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		receipt, err = e.settleLocked(ctx, tx, workUnitID, requesterID, payingID, earningID, &mutating)
		return err
	})
	if err != nil {
		return nil, classifyTx(err, mutating)
	}

	return receipt, nil
}

// settleLocked re-reads and validates under lock, then applies the four
// mutations. mutating flips to true before the first write.
func (e *Engine) settleLocked(ctx context.Context, tx storage.Tx, workUnitID, requesterID, payingID, earningID string, mutating *bool) (*models.Receipt, error) {
	accounts, err := tx.LockAccounts(ctx, payingID, earningID)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}

	wu, err := tx.LockWorkUnit(ctx, workUnitID)
	if err != nil {
		return nil, classifyRead(err)
	}
	ag := wu.Agreement
	if ag.PayingAccountID != payingID || ag.EarningAccountID != earningID {
		// Parties changed between the unlocked read and the lock
		return nil, fmt.Errorf("agreement %s parties changed: %w", ag.ID, storage.ErrConflict)
	}

	if ag.PayingAccountID != requesterID {
		return nil, ErrForbidden
	}
	if wu.Paid {
		return nil, ErrAlreadyPaid
	}
	payer := accounts[payingID]
	if payer.Balance.LessThan(wu.Price) {
		return nil, fmt.Errorf("%w: balance %s, price %s", ErrInsufficientFunds, payer.Balance.StringFixed(2), wu.Price.StringFixed(2))
	}

	paidAt := e.now().Truncate(time.Millisecond)

	*mutating = true
	if err := tx.ApplyBalanceDelta(ctx, payingID, wu.Price.Neg()); err != nil {
		return nil, fmt.Errorf("debit %s: %w", payingID, err)
	}
	if err := tx.ApplyBalanceDelta(ctx, earningID, wu.Price); err != nil {
		return nil, fmt.Errorf("credit %s: %w", earningID, err)
	}
	if err := tx.TerminateAgreement(ctx, ag.ID, ag.Version); err != nil {
		return nil, fmt.Errorf("terminate agreement %s: %w", ag.ID, err)
	}
	if err := tx.MarkWorkUnitPaid(ctx, wu.ID, wu.Version, paidAt); err != nil {
		return nil, fmt.Errorf("mark work unit %s paid: %w", wu.ID, err)
	}

	return &models.Receipt{
		WorkUnitID:       wu.ID,
		AgreementID:      ag.ID,
		PayingAccountID:  payingID,
		EarningAccountID: earningID,
		Amount:           wu.Price,
		AgreementStatus:  models.AgreementTerminated,
		PaidAt:           paidAt,
	}, nil
}

// classifyRead maps a failed read to the settlement taxonomy.
func classifyRead(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrBusy):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	default:
		return fmt.Errorf("%w: %w", ErrSettlementFailed, err)
	}
}

// classifyTx maps an error from WithinTx. Before the first write, contention
// is transient; after it, every fault is a rolled-back failure.
func classifyTx(err error, mutating bool) error {
	switch {
	case !mutating && isRejection(err):
		return err
	case !mutating && (errors.Is(err, storage.ErrBusy) || errors.Is(err, storage.ErrConflict)):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	default:
		return fmt.Errorf("%w: %w", ErrSettlementFailed, err)
	}
}

func (e *Engine) log(ctx context.Context, workUnitID, requesterID, outcome string, receipt *models.Receipt, err error) {
	switch {
	case err == nil:
		e.logger.InfoContext(ctx, "Settlement committed",
			"work_unit_id", workUnitID,
			"agreement_id", receipt.AgreementID,
			"paying_account_id", receipt.PayingAccountID,
			"earning_account_id", receipt.EarningAccountID,
			"amount", receipt.Amount.StringFixed(2),
		)
	case outcome == OutcomeFailed:
		e.logger.ErrorContext(ctx, "Settlement rolled back",
			"work_unit_id", workUnitID,
			"account_id", requesterID,
			"error", err,
		)
	default:
		e.logger.WarnContext(ctx, "Settlement rejected",
			"work_unit_id", workUnitID,
			"account_id", requesterID,
			"outcome", outcome,
			"error", err,
		)
	}
}
