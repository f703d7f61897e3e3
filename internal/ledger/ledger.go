package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/asset"
)

var (
	// ErrInvalidAmount occurs when the amount credited or moved is zero.
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrFundsNotEmpty occurs when funds are attached to a transfer or withdraw.
	// Those operations move already ledgered balance only.
	ErrFundsNotEmpty = errors.New("attached funds must be empty")

	// ErrInvalidAddress occurs when the receiver of a transfer is malformed.
	ErrInvalidAddress = account.ErrInvalidAddress

	// ErrNoDeposit occurs when the sender has never deposited.
	ErrNoDeposit = errors.New("address has no deposit")

	// ErrInsufficientBalance occurs when the requested amount exceeds the sender balance.
	ErrInsufficientBalance = errors.New("balance is lower than requested amount")

	// ErrNotFound is returned by balance queries for addresses without an entry.
	ErrNotFound = errors.New("balance not found")

	// ErrAmountOverflow occurs when a credit would push a balance past the amount range.
	ErrAmountOverflow = errors.New("balance overflow")

	// ErrNotInitialized is returned until the allowed asset has been configured.
	ErrNotInitialized = errors.New("ledger not initialized")

	// ErrAlreadyInitialized is returned by a second initialization.
	ErrAlreadyInitialized = errors.New("ledger already initialized")

	// ErrInvalidConfig is returned when initialization is given an empty asset.
	ErrInvalidConfig = errors.New("allowed asset must not be empty")

	// ErrStorage matches every StorageError.
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps a failure reported by the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) true for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

var kinds = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrFundsNotEmpty, "funds_not_empty"},
	{ErrInvalidAddress, "invalid_address"},
	{ErrNoDeposit, "no_deposit"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrNotFound, "not_found"},
	{ErrAmountOverflow, "amount_overflow"},
	{ErrNotInitialized, "not_initialized"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrInvalidConfig, "invalid_config"},
	{ErrStorage, "storage_failure"},
}

// Code returns a stable snake_case identifier for the error kind, or
// "internal" for errors the ledger does not define.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}

func isKnown(err error) bool {
	return Code(err) != "internal"
}

// Config is the immutable ledger configuration.
type Config struct {
	AllowedAsset string    `json:"allowed_asset"`
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// Entry is a single balance record.
type Entry struct {
	Address account.Address `json:"address"`
	Amount  asset.Amount    `json:"amount"`
}

// Disbursement instructs the custody system to release Amount of Asset to
// Recipient. It is produced by withdraw and never executed by the ledger.
type Disbursement struct {
	ID        uuid.UUID       `json:"id"`
	Recipient account.Address `json:"recipient"`
	Asset     string          `json:"asset"`
	Amount    asset.Amount    `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// Tx is the view of the store inside a single atomic update. Reads observe
// the transaction's own writes. Nothing is visible to other callers until the
// update function returns nil.
type Tx interface {
	// Lock serializes the update against concurrent updates touching the same
	// addresses. Backends that already serialize every update may no-op.
	Lock(ctx context.Context, addrs ...account.Address) error
	// Balance returns the stored amount and whether an entry exists.
	Balance(ctx context.Context, addr account.Address) (asset.Amount, bool, error)
	SetBalance(ctx context.Context, addr account.Address, amount asset.Amount) error
	// AddDisbursement records an instruction in the outbox.
	AddDisbursement(ctx context.Context, d Disbursement) error
}

// Outbox holds committed disbursement instructions until they are delivered.
type Outbox interface {
	// PendingDisbursements returns undelivered instructions, oldest first.
	PendingDisbursements(ctx context.Context, limit int) ([]Disbursement, error)
	// MarkDisbursed flags an instruction as delivered. Unknown or already
	// delivered ids yield ErrNotFound.
	MarkDisbursed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Store is the persistent key-value collaborator the ledger runs on.
type Store interface {
	Outbox

	// Config returns ErrNotInitialized when no configuration was stored.
	Config(ctx context.Context) (Config, error)
	// InitConfig stores cfg once; later calls return ErrAlreadyInitialized.
	InitConfig(ctx context.Context, cfg Config) error
	// Balance returns ErrNotFound when addr has no entry.
	Balance(ctx context.Context, addr account.Address) (asset.Amount, error)
	// Balances returns up to limit entries with address > after, ascending.
	// A non-positive limit means no limit. Each call is one consistent read:
	// it never observes part of a concurrent Update.
	Balances(ctx context.Context, after account.Address, limit int) ([]Entry, error)
	// Update runs fn atomically. If fn returns an error nothing is committed
	// and the error is returned unchanged.
	Update(ctx context.Context, fn func(tx Tx) error) error
}
