package escrow

import (
	"github.com/hashicorp/go-uuid"

	"github.com/dmitrorezn/escrow-pay/internal/domain"
)

// InstructionKind distinguishes the outbound token-module operations
// the core can request.
type InstructionKind uint8

const (
	// KindTransfer moves tokens from the contract's own holdings.
	KindTransfer InstructionKind = iota
	// KindTransferFrom pulls tokens from an owner's allowance.
	KindTransferFrom
	// KindRegisterReceive subscribes the contract to a token's
	// receive notifications.
	KindRegisterReceive
)

// Instruction is a constructed, not-yet-executed token-module call.
// Execution is delegated to the host runtime, which guarantees it runs
// atomically with the state mutation that produced it.
type Instruction struct {
	ID        string               `json:"id"`
	Kind      InstructionKind      `json:"kind"`
	Token     domain.TokenContract `json:"token"`
	Owner     domain.Addr          `json:"owner,omitempty"`
	Recipient domain.Addr          `json:"recipient,omitempty"`
	Amount    uint64               `json:"amount,omitempty"`
}

func newInstruction(kind InstructionKind, token domain.TokenContract) (Instruction, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return Instruction{}, err
	}

	return Instruction{ID: id, Kind: kind, Token: token}, nil
}

// transferInstruction: amount of token from contract holdings to
// recipient. Used for settlement principal, fee forwarding and fee
// refunds.
func transferInstruction(token domain.TokenContract, recipient domain.Addr, amount uint64) (Instruction, error) {
	ins, err := newInstruction(KindTransfer, token)
	if err != nil {
		return Instruction{}, err
	}
	ins.Recipient = recipient
	ins.Amount = amount

	return ins, nil
}

// transferFromInstruction: amount of token pulled from owner's
// allowance to recipient. Used by the allowance-enabled recurring flow.
func transferFromInstruction(token domain.TokenContract, owner, recipient domain.Addr, amount uint64) (Instruction, error) {
	ins, err := newInstruction(KindTransferFrom, token)
	if err != nil {
		return Instruction{}, err
	}
	ins.Owner = owner
	ins.Recipient = recipient
	ins.Amount = amount

	return ins, nil
}

func registerReceiveInstruction(token domain.TokenContract) (Instruction, error) {
	return newInstruction(KindRegisterReceive, token)
}
