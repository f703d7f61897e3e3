package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/asset"
	"github.com/congo-pay/custody_ledger/internal/notification"
)

// DefaultVersion is recorded in the configuration at initialization.
const DefaultVersion = "1.0.0"

// AddressParser validates receiver identifiers.
type AddressParser interface {
	Parse(s string) (account.Address, error)
}

// DepositResult describes a successful deposit.
type DepositResult struct {
	Depositor account.Address
	Amount    asset.Amount
	Balance   asset.Amount
	Event     notification.Message
}

// TransferResult describes a successful transfer.
type TransferResult struct {
	Sender          account.Address
	Receiver        account.Address
	Amount          asset.Amount
	SenderBalance   asset.Amount
	ReceiverBalance asset.Amount
	Event           notification.Message
}

// WithdrawResult describes a successful withdraw and the instruction it produced.
type WithdrawResult struct {
	Receiver     account.Address
	Amount       asset.Amount
	Balance      asset.Amount
	Disbursement Disbursement
	Event        notification.Message
}

// Service applies deposit, transfer and withdraw requests to a Store.
type Service struct {
	store      Store
	addresses  AddressParser
	notifier   notification.Notifier
	logger     *slog.Logger
	onDisburse func()
	now        func() time.Time
	version    string

	config atomic.Pointer[Config]
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier sets the event notifier.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithDisbursementHook registers fn to run after each committed withdraw.
func WithDisbursementHook(fn func()) Option {
	return func(s *Service) { s.onDisburse = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a ledger service on top of store.
func NewService(store Store, addresses AddressParser, opts ...Option) *Service {
	s := &Service{
		store:     store,
		addresses: addresses,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		version:   DefaultVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize stores the allowed asset. It may succeed only once per store.
func (s *Service) Initialize(ctx context.Context, allowedAsset string) (Config, error) {
	allowedAsset = strings.TrimSpace(allowedAsset)
	if allowedAsset == "" {
		return Config{}, ErrInvalidConfig
	}

	cfg := Config{AllowedAsset: allowedAsset, Version: s.version, CreatedAt: s.now()}
	if err := s.store.InitConfig(ctx, cfg); err != nil {
		return Config{}, s.storageErr("initialize", err)
	}
	s.config.Store(&cfg)

	s.emit(ctx, notification.Message{
		Kind: notification.KindInstantiate,
		Attributes: []notification.Attribute{
			{Key: "method", Value: "instantiate"},
			{Key: "allowed_asset", Value: cfg.AllowedAsset},
		},
	})
	return cfg, nil
}

// Bootstrap initializes the ledger with allowedAsset on first use and checks
// that an existing configuration carries the same asset.
func (s *Service) Bootstrap(ctx context.Context, allowedAsset string) (Config, error) {
	cfg, err := s.Config(ctx)
	switch {
	case errors.Is(err, ErrNotInitialized):
		cfg, err = s.Initialize(ctx, allowedAsset)
		if errors.Is(err, ErrAlreadyInitialized) {
			// Another instance won the race.
			return s.Bootstrap(ctx, allowedAsset)
		}
		return cfg, err
	case err != nil:
		return Config{}, err
	}
	if cfg.AllowedAsset != strings.TrimSpace(allowedAsset) {
		return Config{}, fmt.Errorf("ledger configured for asset %q, refusing to start with %q", cfg.AllowedAsset, allowedAsset)
	}
	return cfg, nil
}

// Config returns the ledger configuration.
func (s *Service) Config(ctx context.Context) (Config, error) {
	if cfg := s.config.Load(); cfg != nil {
		return *cfg, nil
	}
	cfg, err := s.store.Config(ctx)
	if err != nil {
		return Config{}, s.storageErr("load config", err)
	}
	s.config.Store(&cfg)
	return cfg, nil
}

// Deposit credits caller with the allowed-asset portion of funds. Other
// denominations are ignored.
func (s *Service) Deposit(ctx context.Context, caller account.Address, funds asset.Coins) (DepositResult, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return DepositResult{}, err
	}

	amount := funds.AmountOf(cfg.AllowedAsset)
	if amount.IsZero() {
		return DepositResult{}, ErrInvalidAmount
	}

	var balance asset.Amount
	err = s.update(ctx, "deposit", func(tx Tx) error {
		if err := tx.Lock(ctx, caller); err != nil {
			return err
		}
		current, _, err := tx.Balance(ctx, caller)
		if err != nil {
			return err
		}
		if balance, err = credit(current, amount); err != nil {
			return err
		}
		return tx.SetBalance(ctx, caller, balance)
	})
	if err != nil {
		return DepositResult{}, err
	}

	res := DepositResult{
		Depositor: caller,
		Amount:    amount,
		Balance:   balance,
		Event: notification.Message{
			Kind: notification.KindDeposit,
			Attributes: []notification.Attribute{
				{Key: "action", Value: "deposit_funds"},
				{Key: "depositor", Value: caller.String()},
				{Key: "amount", Value: amount.String()},
			},
		},
	}
	s.emit(ctx, res.Event)
	return res, nil
}

// Transfer moves amount from caller to receiver in one atomic update.
func (s *Service) Transfer(ctx context.Context, caller account.Address, funds asset.Coins, receiver string, amount asset.Amount) (TransferResult, error) {
	if _, err := s.Config(ctx); err != nil {
		return TransferResult{}, err
	}
	if !funds.IsEmpty() {
		return TransferResult{}, ErrFundsNotEmpty
	}
	to, err := s.addresses.Parse(receiver)
	if err != nil {
		return TransferResult{}, fmt.Errorf("%w: %q", ErrInvalidAddress, receiver)
	}
	if amount.IsZero() {
		return TransferResult{}, ErrInvalidAmount
	}

	var senderBalance, receiverBalance asset.Amount
	err = s.update(ctx, "transfer", func(tx Tx) error {
		if err := tx.Lock(ctx, caller, to); err != nil {
			return err
		}
		from, err := debit(ctx, tx, caller, amount)
		if err != nil {
			return err
		}
		if caller == to {
			senderBalance, receiverBalance = from.before, from.before
			return nil
		}

		current, _, err := tx.Balance(ctx, to)
		if err != nil {
			return err
		}
		credited, err := credit(current, amount)
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, caller, from.after); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, to, credited); err != nil {
			return err
		}
		senderBalance, receiverBalance = from.after, credited
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	res := TransferResult{
		Sender:          caller,
		Receiver:        to,
		Amount:          amount,
		SenderBalance:   senderBalance,
		ReceiverBalance: receiverBalance,
		Event: notification.Message{
			Kind: notification.KindTransfer,
			Attributes: []notification.Attribute{
				{Key: "action", Value: "transfer_fund"},
				{Key: "sender", Value: caller.String()},
				{Key: "receiver", Value: to.String()},
				{Key: "amount", Value: amount.String()},
			},
		},
	}
	s.emit(ctx, res.Event)
	return res, nil
}

// Withdraw debits caller and records a disbursement instruction for the same
// amount in the same update. The instruction is only released to the
// disbursement sink after the update commits.
func (s *Service) Withdraw(ctx context.Context, caller account.Address, funds asset.Coins, amount asset.Amount) (WithdrawResult, error) {
	cfg, err := s.Config(ctx)
	if err != nil {
		return WithdrawResult{}, err
	}
	if !funds.IsEmpty() {
		return WithdrawResult{}, ErrFundsNotEmpty
	}
	if amount.IsZero() {
		return WithdrawResult{}, ErrInvalidAmount
	}

	d := Disbursement{
		ID:        uuid.New(),
		Recipient: caller,
		Asset:     cfg.AllowedAsset,
		Amount:    amount,
		CreatedAt: s.now(),
	}

	var balance asset.Amount
	err = s.update(ctx, "withdraw", func(tx Tx) error {
		if err := tx.Lock(ctx, caller); err != nil {
			return err
		}
		from, err := debit(ctx, tx, caller, amount)
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, caller, from.after); err != nil {
			return err
		}
		balance = from.after
		return tx.AddDisbursement(ctx, d)
	})
	if err != nil {
		return WithdrawResult{}, err
	}

	if s.onDisburse != nil {
		s.onDisburse()
	}

	res := WithdrawResult{
		Receiver:     caller,
		Amount:       amount,
		Balance:      balance,
		Disbursement: d,
		Event: notification.Message{
			Kind: notification.KindWithdraw,
			Attributes: []notification.Attribute{
				{Key: "action", Value: "withdraw"},
				{Key: "amount", Value: amount.String()},
				{Key: "receiver", Value: caller.String()},
				{Key: "disbursement_id", Value: d.ID.String()},
			},
		},
	}
	s.emit(ctx, res.Event)
	return res, nil
}

// Balance returns the stored balance of addr, or ErrNotFound.
func (s *Service) Balance(ctx context.Context, addr account.Address) (asset.Amount, error) {
	amount, err := s.store.Balance(ctx, addr)
	if err != nil {
		return asset.Amount{}, s.storageErr("balance", err)
	}
	return amount, nil
}

// Balances returns one page of entries with address > after, ascending.
func (s *Service) Balances(ctx context.Context, after account.Address, limit int) ([]Entry, error) {
	entries, err := s.store.Balances(ctx, after, limit)
	if err != nil {
		return nil, s.storageErr("list balances", err)
	}
	return entries, nil
}

// AllBalances returns every entry, ascending by address, from a single
// consistent read of the store.
func (s *Service) AllBalances(ctx context.Context) ([]Entry, error) {
	return s.Balances(ctx, "", 0)
}

// Total returns the sum of all stored balances. It is computed from the same
// single read as AllBalances, so it never observes a transfer half applied.
func (s *Service) Total(ctx context.Context) (asset.Sum, error) {
	entries, err := s.AllBalances(ctx)
	if err != nil {
		return asset.Sum{}, err
	}
	var total asset.Sum
	for _, e := range entries {
		total.Add(e.Amount)
	}
	return total, nil
}

type debited struct {
	before asset.Amount
	after  asset.Amount
}

// debit checks the sender preconditions without writing anything.
func debit(ctx context.Context, tx Tx, addr account.Address, amount asset.Amount) (debited, error) {
	current, exists, err := tx.Balance(ctx, addr)
	if err != nil {
		return debited{}, err
	}
	if !exists {
		return debited{}, ErrNoDeposit
	}
	if current.LessThan(amount) {
		return debited{}, ErrInsufficientBalance
	}
	after, err := current.Sub(amount)
	if err != nil {
		return debited{}, ErrInsufficientBalance
	}
	return debited{before: current, after: after}, nil
}

func credit(current, amount asset.Amount) (asset.Amount, error) {
	next, err := current.Add(amount)
	if err != nil {
		return asset.Amount{}, fmt.Errorf("%w: %s + %s", ErrAmountOverflow, current, amount)
	}
	return next, nil
}

func (s *Service) update(ctx context.Context, op string, fn func(tx Tx) error) error {
	if err := s.store.Update(ctx, fn); err != nil {
		return s.storageErr(op, err)
	}
	return nil
}

// storageErr passes ledger errors through and wraps everything else.
func (s *Service) storageErr(op string, err error) error {
	if isKnown(err) {
		return err
	}
	s.logger.Error("ledger storage failure", slog.String("op", op), slog.Any("error", err))
	return &StorageError{Op: op, Err: err}
}

func (s *Service) emit(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("ledger event not delivered", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}
