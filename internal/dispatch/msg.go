package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/congo-pay/custody_ledger/internal/asset"
)

// ErrUnknownMessage is returned for bodies that are not exactly one known message.
var ErrUnknownMessage = errors.New("unknown message")

type DepositMsg struct{}

type TransferMsg struct {
	Amount   asset.Amount `json:"amount"`
	Receiver string       `json:"receiver"`
}

type WithdrawMsg struct {
	Amount asset.Amount `json:"amount"`
}

// ExecuteMsg is a state-changing request. Exactly one field is set.
type ExecuteMsg struct {
	Deposit  *DepositMsg  `json:"deposit,omitempty"`
	Transfer *TransferMsg `json:"transfer,omitempty"`
	Withdraw *WithdrawMsg `json:"withdraw,omitempty"`
}

type GetStateMsg struct{}

type GetDepositMsg struct {
	Owner string `json:"owner"`
}

type GetAllDepositMsg struct {
	StartAfter string `json:"start_after,omitempty"`
	Limit      *int   `json:"limit,omitempty"`
}

type GetTotalDepositMsg struct{}

// QueryMsg is a read-only request. Exactly one field is set.
type QueryMsg struct {
	GetState        *GetStateMsg        `json:"get_state,omitempty"`
	GetDeposit      *GetDepositMsg      `json:"get_deposit,omitempty"`
	GetAllDeposit   *GetAllDepositMsg   `json:"get_all_deposit,omitempty"`
	GetTotalDeposit *GetTotalDepositMsg `json:"get_total_deposit,omitempty"`
}

// DecodeExecute parses body into an ExecuteMsg.
func DecodeExecute(body []byte) (ExecuteMsg, error) {
	var msg ExecuteMsg
	if err := decodeStrict(body, &msg); err != nil {
		return ExecuteMsg{}, err
	}
	if count(msg.Deposit != nil, msg.Transfer != nil, msg.Withdraw != nil) != 1 {
		return ExecuteMsg{}, fmt.Errorf("%w: expected exactly one of deposit, transfer, withdraw", ErrUnknownMessage)
	}
	return msg, nil
}

// DecodeQuery parses body into a QueryMsg.
func DecodeQuery(body []byte) (QueryMsg, error) {
	var msg QueryMsg
	if err := decodeStrict(body, &msg); err != nil {
		return QueryMsg{}, err
	}
	if count(msg.GetState != nil, msg.GetDeposit != nil, msg.GetAllDeposit != nil, msg.GetTotalDeposit != nil) != 1 {
		return QueryMsg{}, fmt.Errorf("%w: expected exactly one of get_state, get_deposit, get_all_deposit, get_total_deposit", ErrUnknownMessage)
	}
	return msg, nil
}

func decodeStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownMessage, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrUnknownMessage)
	}
	return nil
}

func count(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
