package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/asset"
	"github.com/congo-pay/custody_ledger/internal/ledger"
	"github.com/congo-pay/custody_ledger/internal/notification"
)

// Ledger is the part of *ledger.Service the dispatcher routes to.
type Ledger interface {
	Config(ctx context.Context) (ledger.Config, error)
	Deposit(ctx context.Context, caller account.Address, funds asset.Coins) (ledger.DepositResult, error)
	Transfer(ctx context.Context, caller account.Address, funds asset.Coins, receiver string, amount asset.Amount) (ledger.TransferResult, error)
	Withdraw(ctx context.Context, caller account.Address, funds asset.Coins, amount asset.Amount) (ledger.WithdrawResult, error)
	Balance(ctx context.Context, addr account.Address) (asset.Amount, error)
	Balances(ctx context.Context, after account.Address, limit int) ([]ledger.Entry, error)
	AllBalances(ctx context.Context) ([]ledger.Entry, error)
	Total(ctx context.Context) (asset.Sum, error)
}

// ExecuteResponse reports the event of a successful execute message.
type ExecuteResponse struct {
	Action       string                   `json:"action"`
	Attributes   []notification.Attribute `json:"attributes"`
	Balance      asset.Amount             `json:"balance"`
	Disbursement *ledger.Disbursement     `json:"disbursement,omitempty"`
}

// StateResponse answers get_state.
type StateResponse struct {
	AllowedAsset string `json:"allowed_asset"`
	Version      string `json:"version"`
	CreatedAt    string `json:"created_at"`
}

// DepositResponse answers get_deposit and lists entries in get_all_deposit.
type DepositResponse struct {
	Address account.Address `json:"address"`
	Deposit asset.Amount    `json:"deposit"`
}

type AllDepositResponse struct {
	Deposits []DepositResponse `json:"deposits"`
}

type TotalDepositResponse struct {
	Total asset.Sum `json:"total"`
}

// Dispatcher routes decoded messages to the ledger.
type Dispatcher struct {
	ledger    Ledger
	addresses ledger.AddressParser
}

func NewDispatcher(l Ledger, addresses ledger.AddressParser) *Dispatcher {
	return &Dispatcher{ledger: l, addresses: addresses}
}

// Execute applies msg on behalf of caller with the funds attached to the request.
func (d *Dispatcher) Execute(ctx context.Context, caller account.Address, funds asset.Coins, msg ExecuteMsg) (ExecuteResponse, error) {
	switch {
	case msg.Deposit != nil:
		res, err := d.ledger.Deposit(ctx, caller, funds)
		if err != nil {
			return ExecuteResponse{}, err
		}
		return ExecuteResponse{Action: res.Event.Kind, Attributes: res.Event.Attributes, Balance: res.Balance}, nil

	case msg.Transfer != nil:
		res, err := d.ledger.Transfer(ctx, caller, funds, msg.Transfer.Receiver, msg.Transfer.Amount)
		if err != nil {
			return ExecuteResponse{}, err
		}
		return ExecuteResponse{Action: res.Event.Kind, Attributes: res.Event.Attributes, Balance: res.SenderBalance}, nil

	case msg.Withdraw != nil:
		res, err := d.ledger.Withdraw(ctx, caller, funds, msg.Withdraw.Amount)
		if err != nil {
			return ExecuteResponse{}, err
		}
		disbursement := res.Disbursement
		return ExecuteResponse{
			Action:       res.Event.Kind,
			Attributes:   res.Event.Attributes,
			Balance:      res.Balance,
			Disbursement: &disbursement,
		}, nil
	}
	return ExecuteResponse{}, ErrUnknownMessage
}

// Query answers a read-only message.
func (d *Dispatcher) Query(ctx context.Context, msg QueryMsg) (any, error) {
	switch {
	case msg.GetState != nil:
		cfg, err := d.ledger.Config(ctx)
		if err != nil {
			return nil, err
		}
		return StateResponse{
			AllowedAsset: cfg.AllowedAsset,
			Version:      cfg.Version,
			CreatedAt:    cfg.CreatedAt.Format(time.RFC3339),
		}, nil

	case msg.GetDeposit != nil:
		owner, err := d.addresses.Parse(msg.GetDeposit.Owner)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ledger.ErrInvalidAddress, msg.GetDeposit.Owner)
		}
		amount, err := d.ledger.Balance(ctx, owner)
		if err != nil {
			return nil, err
		}
		return DepositResponse{Address: owner, Deposit: amount}, nil

	case msg.GetAllDeposit != nil:
		entries, err := d.listBalances(ctx, msg.GetAllDeposit)
		if err != nil {
			return nil, err
		}
		out := AllDepositResponse{Deposits: make([]DepositResponse, 0, len(entries))}
		for _, e := range entries {
			out.Deposits = append(out.Deposits, DepositResponse{Address: e.Address, Deposit: e.Amount})
		}
		return out, nil

	case msg.GetTotalDeposit != nil:
		total, err := d.ledger.Total(ctx)
		if err != nil {
			return nil, err
		}
		return TotalDepositResponse{Total: total}, nil
	}
	return nil, ErrUnknownMessage
}

func (d *Dispatcher) listBalances(ctx context.Context, msg *GetAllDepositMsg) ([]ledger.Entry, error) {
	if msg.Limit == nil && msg.StartAfter == "" {
		return d.ledger.AllBalances(ctx)
	}
	limit := 0
	if msg.Limit != nil {
		if *msg.Limit < 0 {
			return nil, fmt.Errorf("%w: negative limit", ErrUnknownMessage)
		}
		limit = *msg.Limit
	}
	if limit == 0 {
		return d.allAfter(ctx, account.Address(msg.StartAfter))
	}
	return d.ledger.Balances(ctx, account.Address(msg.StartAfter), limit)
}

func (d *Dispatcher) allAfter(ctx context.Context, after account.Address) ([]ledger.Entry, error) {
	all, err := d.ledger.AllBalances(ctx)
	if err != nil {
		return nil, err
	}
	for i, e := range all {
		if e.Address > after {
			return all[i:], nil
		}
	}
	return nil, nil
}
