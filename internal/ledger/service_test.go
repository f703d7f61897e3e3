package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/asset"
	"github.com/congo-pay/custody_ledger/internal/logging"
	"github.com/congo-pay/custody_ledger/internal/notification"
)

const allowedAsset = "tsy"

var codec = account.NewCodec("tsy_")

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.Kind)
	}
	return out
}

func newTestService(t *testing.T, store Store, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	svc := NewService(store, codec, opts...)
	if _, err := svc.Initialize(context.Background(), allowedAsset); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return svc
}

func tsy(n uint64) asset.Coins { return asset.Coins{asset.NewCoin(allowedAsset, n)} }

func amt(n uint64) asset.Amount { return asset.NewAmount(n) }

func mustBalance(t *testing.T, svc *Service, addr account.Address) uint64 {
	t.Helper()
	bal, err := svc.Balance(context.Background(), addr)
	if err != nil {
		t.Fatalf("balance of %s: %v", addr, err)
	}
	n, ok := bal.Uint64()
	if !ok {
		t.Fatalf("balance of %s does not fit uint64: %s", addr, bal)
	}
	return n
}

func mustTotal(t *testing.T, svc *Service) uint64 {
	t.Helper()
	total, err := svc.Total(context.Background())
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	n, _ := total.Uint64()
	return n
}

// runStoreSuite exercises the ledger rules against a store backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Initialize", func(t *testing.T) { testInitialize(t, newStore(t)) })
	t.Run("DepositScenarios", func(t *testing.T) { testDepositScenarios(t, newStore(t)) })
	t.Run("TransferScenarios", func(t *testing.T) { testTransferScenarios(t, newStore(t)) })
	t.Run("TransferPreconditionOrder", func(t *testing.T) { testTransferPreconditionOrder(t, newStore(t)) })
	t.Run("WithdrawScenarios", func(t *testing.T) { testWithdrawScenarios(t, newStore(t)) })
	t.Run("NoDepositAccount", func(t *testing.T) { testNoDepositAccount(t, newStore(t)) })
	t.Run("ListBalances", func(t *testing.T) { testListBalances(t, newStore(t)) })
	t.Run("Conservation", func(t *testing.T) { testConservation(t, newStore(t)) })
	t.Run("ConcurrentTransfers", func(t *testing.T) { testConcurrentTransfers(t, newStore(t)) })
	t.Run("Outbox", func(t *testing.T) { testOutbox(t, newStore(t)) })
	t.Run("ConsistentReads", func(t *testing.T) { testConsistentReads(t, newStore(t)) })
	t.Run("TotalBeyondAmountRange", func(t *testing.T) { testTotalBeyondAmountRange(t, newStore(t)) })
}

func TestInMemoryStore(t *testing.T) {
	runStoreSuite(t, func(*testing.T) Store { return NewInMemory() })
}

func testInitialize(t *testing.T, store Store) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc := NewService(store, codec, WithLogger(logging.Discard()), WithNotifier(notifier))

	if _, err := svc.Deposit(ctx, codec.MustGenerate(), tsy(1)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, err := svc.Initialize(ctx, "  "); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}

	cfg, err := svc.Initialize(ctx, allowedAsset)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if cfg.AllowedAsset != allowedAsset || cfg.Version != DefaultVersion {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if _, err := svc.Initialize(ctx, "other"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}

	// A fresh service reads the persisted configuration.
	fresh := NewService(store, codec, WithLogger(logging.Discard()))
	got, err := fresh.Config(ctx)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if got.AllowedAsset != allowedAsset {
		t.Fatalf("expected %q, got %q", allowedAsset, got.AllowedAsset)
	}
	if _, err := fresh.Bootstrap(ctx, allowedAsset); err != nil {
		t.Fatalf("bootstrap same asset: %v", err)
	}
	if _, err := fresh.Bootstrap(ctx, "atom"); err == nil {
		t.Fatal("bootstrap with a different asset must fail")
	}

	if kinds := notifier.kinds(); len(kinds) != 1 || kinds[0] != notification.KindInstantiate {
		t.Fatalf("expected one instantiate event, got %v", kinds)
	}
}

func testDepositScenarios(t *testing.T, store Store) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	svc := newTestService(t, store, WithNotifier(notifier))
	a := codec.MustGenerate()

	res, err := svc.Deposit(ctx, a, tsy(1000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.Balance.String() != "1000" || mustBalance(t, svc, a) != 1000 {
		t.Fatalf("expected balance 1000, got %s", res.Balance)
	}
	if res.Event.Attr("depositor") != a.String() || res.Event.Attr("amount") != "1000" {
		t.Fatalf("unexpected event %+v", res.Event)
	}

	// Zero of the allowed asset, or only foreign funds, is rejected.
	for _, funds := range []asset.Coins{tsy(0), {asset.NewCoin("token", 1000)}, nil} {
		if _, err := svc.Deposit(ctx, a, funds); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("funds %s: expected invalid amount, got %v", funds, err)
		}
	}
	if got := mustBalance(t, svc, a); got != 1000 {
		t.Fatalf("rejected deposit changed balance to %d", got)
	}

	// Foreign denominations alongside the allowed asset are ignored.
	mixed := asset.Coins{asset.NewCoin("token", 2), asset.NewCoin(allowedAsset, 5)}
	if _, err := svc.Deposit(ctx, a, mixed); err != nil {
		t.Fatalf("mixed deposit: %v", err)
	}
	if got := mustBalance(t, svc, a); got != 1005 {
		t.Fatalf("expected 1005, got %d", got)
	}
	if got := mustTotal(t, svc); got != 1005 {
		t.Fatalf("expected total 1005, got %d", got)
	}

	max := asset.MustParseAmount("340282366920938463463374607431768211455")
	if _, err := svc.Deposit(ctx, a, asset.Coins{{Denom: allowedAsset, Amount: max}}); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if got := mustBalance(t, svc, a); got != 1005 {
		t.Fatalf("overflowing deposit changed balance to %d", got)
	}
}

func testTransferScenarios(t *testing.T, store Store) {
	ctx := context.Background()
	svc := newTestService(t, store)
	a, b := codec.MustGenerate(), codec.MustGenerate()

	if _, err := svc.Deposit(ctx, a, tsy(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	res, err := svc.Transfer(ctx, a, nil, b.String(), amt(2))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.SenderBalance.String() != "998" || res.ReceiverBalance.String() != "2" {
		t.Fatalf("unexpected result %+v", res)
	}
	if mustBalance(t, svc, a) != 998 || mustBalance(t, svc, b) != 2 {
		t.Fatal("balances not updated")
	}

	_, err = svc.Transfer(ctx, a, nil, b.String(), amt(10_000))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if mustBalance(t, svc, a) != 998 || mustBalance(t, svc, b) != 2 {
		t.Fatal("failed transfer changed balances")
	}

	// Repeating a failed call yields the same error and no change.
	_, again := svc.Transfer(ctx, a, nil, b.String(), amt(10_000))
	if Code(again) != Code(err) {
		t.Fatalf("expected identical rejection, got %v then %v", err, again)
	}

	// Self transfer passes the checks and leaves the balance untouched.
	if _, err := svc.Transfer(ctx, a, nil, a.String(), amt(998)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if _, err := svc.Transfer(ctx, a, nil, a.String(), amt(999)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("self transfer above balance: %v", err)
	}
	if mustBalance(t, svc, a) != 998 {
		t.Fatal("self transfer changed balance")
	}

	// Draining to exactly zero keeps the entry.
	if _, err := svc.Transfer(ctx, b, nil, a.String(), amt(2)); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if mustBalance(t, svc, b) != 0 {
		t.Fatal("expected explicit zero balance")
	}
	if mustTotal(t, svc) != 1000 {
		t.Fatal("transfers changed the total")
	}
}

func testTransferPreconditionOrder(t *testing.T, store Store) {
	ctx := context.Background()
	svc := newTestService(t, store)
	a, b := codec.MustGenerate(), codec.MustGenerate()
	stranger := codec.MustGenerate()
	if _, err := svc.Deposit(ctx, a, tsy(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	cases := []struct {
		name     string
		caller   account.Address
		funds    asset.Coins
		receiver string
		amount   asset.Amount
		want     error
	}{
		{"funds beat everything", stranger, tsy(1), "garbage", amt(0), ErrFundsNotEmpty},
		{"zero coin still counts as funds", a, tsy(0), b.String(), amt(1), ErrFundsNotEmpty},
		{"address before amount", stranger, nil, "garbage", amt(0), ErrInvalidAddress},
		{"amount before deposit", stranger, nil, b.String(), amt(0), ErrInvalidAmount},
		{"deposit before balance", stranger, nil, b.String(), amt(100), ErrNoDeposit},
		{"balance", a, nil, b.String(), amt(11), ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, tc.caller, tc.funds, tc.receiver, tc.amount)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if mustBalance(t, svc, a) != 10 {
		t.Fatal("rejections changed sender balance")
	}
	if _, err := svc.Balance(ctx, b); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejections created receiver entry: %v", err)
	}
}

func testWithdrawScenarios(t *testing.T, store Store) {
	ctx := context.Background()
	kicks := 0
	svc := newTestService(t, store, WithDisbursementHook(func() { kicks++ }))
	a := codec.MustGenerate()
	if _, err := svc.Deposit(ctx, a, tsy(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	res, err := svc.Withdraw(ctx, a, nil, amt(2))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if mustBalance(t, svc, a) != 998 || res.Balance.String() != "998" {
		t.Fatalf("expected 998, got %s", res.Balance)
	}
	d := res.Disbursement
	if d.Recipient != a || d.Asset != allowedAsset || d.Amount.String() != "2" {
		t.Fatalf("unexpected disbursement %+v", d)
	}
	if kicks != 1 {
		t.Fatalf("expected disbursement hook once, got %d", kicks)
	}

	stranger := codec.MustGenerate()
	cases := []struct {
		name   string
		caller account.Address
		funds  asset.Coins
		amount asset.Amount
		want   error
	}{
		{"funds", a, tsy(5), amt(1), ErrFundsNotEmpty},
		{"funds before amount", a, tsy(5), amt(0), ErrFundsNotEmpty},
		{"zero coin still counts as funds", stranger, tsy(0), amt(0), ErrFundsNotEmpty},
		{"zero amount", a, nil, amt(0), ErrInvalidAmount},
		{"amount before deposit", stranger, nil, amt(0), ErrInvalidAmount},
		{"deposit before balance", stranger, nil, amt(1), ErrNoDeposit},
		{"balance", a, nil, amt(999), ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Withdraw(ctx, tc.caller, tc.funds, tc.amount); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, err := svc.Balance(ctx, stranger); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected withdraw created an entry: %v", err)
	}
	if mustBalance(t, svc, a) != 998 {
		t.Fatal("rejected withdraw changed balance")
	}
	if kicks != 1 {
		t.Fatal("rejected withdraw fired the disbursement hook")
	}

	pending, err := store.PendingDisbursements(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != d.ID {
		t.Fatalf("expected exactly the committed instruction, got %+v", pending)
	}
	if mustTotal(t, svc) != 998 {
		t.Fatal("total does not reflect withdraw")
	}
}

func testNoDepositAccount(t *testing.T, store Store) {
	ctx := context.Background()
	svc := newTestService(t, store)
	c, b := codec.MustGenerate(), codec.MustGenerate()

	if _, err := svc.Balance(ctx, c); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Transfer(ctx, c, nil, b.String(), amt(1)); !errors.Is(err, ErrNoDeposit) {
		t.Fatalf("expected no deposit on transfer, got %v", err)
	}
	if _, err := svc.Withdraw(ctx, c, nil, amt(1)); !errors.Is(err, ErrNoDeposit) {
		t.Fatalf("expected no deposit on withdraw, got %v", err)
	}
}

func testListBalances(t *testing.T, store Store) {
	ctx := context.Background()
	svc := newTestService(t, store)

	var addrs []account.Address
	for i := 0; i < 5; i++ {
		addr := codec.MustGenerate()
		addrs = append(addrs, addr)
		if _, err := svc.Deposit(ctx, addr, tsy(uint64(i+1))); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	// Explicit zero stays listed.
	if _, err := svc.Withdraw(ctx, addrs[0], nil, amt(1)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	all, err := svc.AllBalances(ctx)
	if err != nil {
		t.Fatalf("all balances: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Address >= all[i].Address {
			t.Fatalf("entries not ascending: %s >= %s", all[i-1].Address, all[i].Address)
		}
	}

	page, err := svc.Balances(ctx, all[1].Address, 2)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 2 || page[0].Address != all[2].Address || page[1].Address != all[3].Address {
		t.Fatalf("unexpected page %+v", page)
	}
	if mustTotal(t, svc) != 2+3+4+5 {
		t.Fatalf("unexpected total %d", mustTotal(t, svc))
	}
}

// testConservation drives random operations and checks the total tracks
// deposits minus withdrawals and no balance goes negative.
func testConservation(t *testing.T, store Store) {
	ctx := context.Background()
	svc := newTestService(t, store)
	rng := rand.New(rand.NewSource(7))

	accounts := make([]account.Address, 4)
	for i := range accounts {
		accounts[i] = codec.MustGenerate()
	}
	var deposited, withdrawn uint64

	for i := 0; i < 200; i++ {
		who := accounts[rng.Intn(len(accounts))]
		n := uint64(rng.Intn(50))
		switch rng.Intn(3) {
		case 0:
			if _, err := svc.Deposit(ctx, who, tsy(n)); err == nil {
				deposited += n
			}
		case 1:
			to := accounts[rng.Intn(len(accounts))]
			_, _ = svc.Transfer(ctx, who, nil, to.String(), amt(n))
		case 2:
			if _, err := svc.Withdraw(ctx, who, nil, amt(n)); err == nil {
				withdrawn += n
			}
		}
		if got := mustTotal(t, svc); got != deposited-withdrawn {
			t.Fatalf("step %d: total %d, want %d", i, got, deposited-withdrawn)
		}
	}
}

func testConcurrentTransfers(t *testing.T, store Store) {
	ctx := context.Background()
	svc := newTestService(t, store)
	a, b := codec.MustGenerate(), codec.MustGenerate()
	if _, err := svc.Deposit(ctx, a, tsy(5_000)); err != nil {
		t.Fatalf("deposit a: %v", err)
	}
	if _, err := svc.Deposit(ctx, b, tsy(5_000)); err != nil {
		t.Fatalf("deposit b: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			if _, err := svc.Transfer(ctx, from, nil, to.String(), amt(500)); err != nil {
				t.Errorf("transfer %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if total := mustBalance(t, svc, a) + mustBalance(t, svc, b); total != 10_000 {
		t.Fatalf("ledger not balanced after concurrency, total=%d", total)
	}
}

func testOutbox(t *testing.T, store Store) {
	ctx := context.Background()
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	a := codec.MustGenerate()
	if _, err := svc.Deposit(ctx, a, tsy(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := svc.Withdraw(ctx, a, nil, amt(1))
		if err != nil {
			t.Fatalf("withdraw %d: %v", i, err)
		}
		ids = append(ids, res.Disbursement.ID.String())
	}

	first, err := store.PendingDisbursements(ctx, 2)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(first) != 2 || first[0].ID.String() != ids[0] {
		t.Fatalf("expected oldest two, got %+v", first)
	}

	if err := store.MarkDisbursed(ctx, first[0].ID, first[0].CreatedAt); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := store.MarkDisbursed(ctx, first[0].ID, first[0].CreatedAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second mark should be not found, got %v", err)
	}

	rest, err := store.PendingDisbursements(ctx, 0)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(rest) != 2 || rest[0].ID.String() != ids[1] || rest[1].ID.String() != ids[2] {
		t.Fatalf("unexpected remaining outbox %+v", rest)
	}
}

// failingStore injects storage failures around an in-memory store.
type failingStore struct {
	Store
	failUpdate error
	failOnSet  int
}

type failingTx struct {
	Tx
	store *failingStore
	sets  int
}

func (f *failingStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if f.failUpdate != nil {
		return f.failUpdate
	}
	return f.Store.Update(ctx, func(tx Tx) error {
		return fn(&failingTx{Tx: tx, store: f})
	})
}

func (tx *failingTx) SetBalance(ctx context.Context, addr account.Address, amount asset.Amount) error {
	tx.sets++
	if tx.store.failOnSet > 0 && tx.sets == tx.store.failOnSet {
		return fmt.Errorf("write %s: disk full", addr)
	}
	return tx.Tx.SetBalance(ctx, addr, amount)
}

func TestStorageFailuresLeaveNoPartialState(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemory()
	store := &failingStore{Store: inner}
	svc := newTestService(t, store)
	a, b := codec.MustGenerate(), codec.MustGenerate()
	if _, err := svc.Deposit(ctx, a, tsy(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// The receiver credit fails after the sender debit was staged.
	store.failOnSet = 2
	_, err := svc.Transfer(ctx, a, nil, b.String(), amt(40))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	var storageErr *StorageError
	if !errors.As(err, &storageErr) || storageErr.Op != "transfer" {
		t.Fatalf("expected StorageError for transfer, got %#v", err)
	}
	if Code(err) != "storage_failure" {
		t.Fatalf("unexpected code %s", Code(err))
	}
	if mustBalance(t, svc, a) != 100 {
		t.Fatal("sender debited despite failed transfer")
	}
	if _, err := svc.Balance(ctx, b); !errors.Is(err, ErrNotFound) {
		t.Fatal("receiver credited despite failed transfer")
	}

	store.failOnSet = 0
	store.failUpdate = errors.New("connection reset")
	if _, err := svc.Withdraw(ctx, a, nil, amt(10)); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	pending, _ := inner.PendingDisbursements(ctx, 0)
	if len(pending) != 0 {
		t.Fatal("disbursement produced without a committed debit")
	}
}

func TestCodeCoversEveryKind(t *testing.T) {
	for _, k := range kinds {
		if got := Code(fmt.Errorf("wrapped: %w", k.err)); got != k.code {
			t.Fatalf("code for %v: got %s want %s", k.err, got, k.code)
		}
	}
	if Code(errors.New("boom")) != "internal" {
		t.Fatal("unknown errors must map to internal")
	}
}

func TestSeedBalance(t *testing.T) {
	store := NewInMemory()
	svc := newTestService(t, store)
	a := codec.MustGenerate()
	SeedBalance(store, a, amt(2_500))
	if mustBalance(t, svc, a) != 2_500 {
		t.Fatal("seed not applied")
	}
}

// interleavingStore runs afterRead once every Balances read has returned.
type interleavingStore struct {
	Store
	afterRead func()
}

func (s *interleavingStore) Balances(ctx context.Context, after account.Address, limit int) ([]Entry, error) {
	entries, err := s.Store.Balances(ctx, after, limit)
	if s.afterRead != nil {
		s.afterRead()
	}
	return entries, err
}

func testConsistentReads(t *testing.T, inner Store) {
	ctx := context.Background()
	store := &interleavingStore{Store: inner}
	svc := newTestService(t, store)

	const accounts = 205
	addrs := make([]account.Address, 0, accounts)
	for i := 0; i < accounts; i++ {
		addr := codec.MustGenerate()
		if _, err := svc.Deposit(ctx, addr, tsy(1)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	// Move one unit between the lowest and highest address after every read,
	// so a reader scanning in several steps would count it twice.
	from, to := addrs[0], addrs[len(addrs)-1]
	store.afterRead = func() {
		if _, err := svc.Transfer(ctx, from, nil, to.String(), amt(1)); err != nil {
			t.Errorf("interleaved transfer: %v", err)
		}
		from, to = to, from
	}

	for i := 0; i < 3; i++ {
		if got := mustTotal(t, svc); got != accounts {
			t.Fatalf("total observed a partial transfer: got %d want %d", got, accounts)
		}

		entries, err := svc.AllBalances(ctx)
		if err != nil {
			t.Fatalf("all balances: %v", err)
		}
		if len(entries) != accounts {
			t.Fatalf("expected %d entries, got %d", accounts, len(entries))
		}
		var sum uint64
		for _, e := range entries {
			n, _ := e.Amount.Uint64()
			sum += n
		}
		if sum != accounts {
			t.Fatalf("listing observed a partial transfer: sum %d want %d", sum, accounts)
		}
	}
}

func testTotalBeyondAmountRange(t *testing.T, store Store) {
	ctx := context.Background()
	svc := newTestService(t, store)
	full := asset.MustParseAmount("340282366920938463463374607431768211455")
	for i := 0; i < 2; i++ {
		funds := asset.Coins{{Denom: allowedAsset, Amount: full}}
		if _, err := svc.Deposit(ctx, codec.MustGenerate(), funds); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	total, err := svc.Total(ctx)
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if got := total.String(); got != "680564733841876926926749214863536422910" {
		t.Fatalf("unexpected total %s", got)
	}
}
