package escrow

import (
	"github.com/pkg/errors"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
)

// Env carries the per-call context the host runtime provides: the
// account that invoked the entrypoint and the block the call executes
// in. For receive callbacks the sender is the token contract posting
// the notification.
type Env struct {
	Sender      domain.Addr `json:"sender"`
	BlockTime   uint64      `json:"block_time"`
	BlockHeight uint64      `json:"block_height"`
}

// ReceiveMsg is the opaque payload bundled with a token receive
// notification, decoded into exactly one operation variant.
type ReceiveMsg struct {
	Cancel                        *PositionMsg               `json:"cancel,omitempty"`
	ConfirmAddress                *PositionMsg               `json:"confirm_address,omitempty"`
	CreateSendRequest             *CreateRequestMsg          `json:"create_send_request,omitempty"`
	CreateReceiveRequest          *CreateRequestMsg          `json:"create_receive_request,omitempty"`
	CreateRecurringSendRequest    *CreateRecurringRequestMsg `json:"create_recurring_send_request,omitempty"`
	CreateRecurringReceiveRequest *CreateRecurringRequestMsg `json:"create_recurring_receive_request,omitempty"`
	SendPayment                   *SendPaymentMsg            `json:"send_payment,omitempty"`
	FulfillRecurringPayment       *PositionMsg               `json:"fulfill_recurring_payment,omitempty"`
	AcceptRecurringPayment        *PositionMsg               `json:"accept_recurring_payment,omitempty"`
}

type PositionMsg struct {
	Position uint32 `json:"position"`
}

type CreateRequestMsg struct {
	Address     domain.Addr          `json:"address"`
	Amount      uint64               `json:"amount"`
	Description string               `json:"description,omitempty"`
	Token       domain.TokenContract `json:"token"`
}

type CreateRecurringRequestMsg struct {
	Address          domain.Addr          `json:"address"`
	Amount           uint64               `json:"amount"`
	TotalAmount      uint64               `json:"total_amount"`
	Description      string               `json:"description,omitempty"`
	Token            domain.TokenContract `json:"token"`
	StartTime        uint64               `json:"start_time"`
	Interval         uint64               `json:"interval"`
	EndTime          uint64               `json:"end_time"`
	AllowanceEnabled bool                 `json:"allowance_enabled"`
}

type SendPaymentMsg struct {
	Position     uint32 `json:"position"`
	ContractHash string `json:"contract_hash,omitempty"`
}

// HandleMsg is the direct (non-receive) operation surface.
type HandleMsg struct {
	NominateNewAdmin         *NominateNewAdminMsg `json:"nominate_new_admin,omitempty"`
	AcceptNewAdminNomination *struct{}            `json:"accept_new_admin_nomination,omitempty"`
	UpdateFee                *UpdateFeeMsg        `json:"update_fee,omitempty"`
	RegisterTokens           *RegisterTokensMsg   `json:"register_tokens,omitempty"`
}

type NominateNewAdminMsg struct {
	Address domain.Addr `json:"address"`
}

type UpdateFeeMsg struct {
	Fee uint64 `json:"fee"`
}

type RegisterTokensMsg struct {
	Tokens []domain.TokenContract `json:"tokens"`
}

// Response carries the settlement instructions an operation constructed.
// They are never executed in-process; the host runtime runs them within
// the same atomic transaction.
type Response struct {
	Instructions []Instruction `json:"instructions"`
}

// TxsAnswer is the Txs query result.
type TxsAnswer struct {
	Txs   []domain.HumanizedTx `json:"txs"`
	Total uint64               `json:"total"`
}

// ConfigAnswer is the Config query result.
type ConfigAnswer struct {
	Admin              domain.Addr            `json:"admin"`
	NewAdminNomination domain.Addr            `json:"new_admin_nomination,omitempty"`
	Fee                uint64                 `json:"fee"`
	FeeToken           domain.TokenContract   `json:"fee_token"`
	ViewKeyToken       domain.TokenContract   `json:"view_key_token"`
	Treasury           domain.Addr            `json:"treasury"`
	EndTimeLimit       uint64                 `json:"end_time_limit"`
	RegisteredTokens   []domain.TokenContract `json:"registered_tokens"`
}

var (
	ErrUnknownReceiveMsg = errors.New("unknown receive msg variant")
	ErrUnknownHandleMsg  = errors.New("unknown handle msg variant")
)
