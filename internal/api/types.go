package api

import (
	"github.com/google/uuid"
	"github.com/zkbitcoin/committee/protocols/frost/sign"
)

// UseRequest is what Bob sends to the orchestrator to unlock a zkapp.
type UseRequest struct {
	// TxID is the id of the deployment transaction, in display byte order.
	TxID string `json:"txid" validate:"required,len=64,hexadecimal"`
	// Vout is the output of the deployment transaction holding the funds.
	Vout uint32 `json:"vout"`
	// Recipient is the address receiving the unlocked funds.
	Recipient string `json:"recipient" validate:"required"`
	// Proof is a serialized Groth16 proof.
	Proof []byte `json:"proof" validate:"required"`
	// VerifyingKey is the serialized verifying key of the zkapp.
	VerifyingKey []byte `json:"verifying_key" validate:"required"`
	// PublicInputs are decimal encoded field elements.
	PublicInputs []string `json:"public_inputs" validate:"required,min=1,dive,required,numeric"`
	// Template describes the transaction to sign.
	Template TransactionTemplate `json:"template" validate:"required"`
}

// UseResponse carries the signed transaction back to Bob.
type UseResponse struct {
	TxID       string `json:"txid"`
	UnlockedTx string `json:"unlocked_tx"`
	Signature  string `json:"signature"`
}

// TransactionTemplate is an unsigned transaction.
type TransactionTemplate struct {
	Version  int32   `json:"version" validate:"gte=1,lte=2"`
	LockTime uint32  `json:"lock_time"`
	Inputs   []TxIn  `json:"inputs" validate:"required,min=1,dive"`
	Outputs  []TxOut `json:"outputs" validate:"required,min=1,dive"`
	// Fee is the fee taken from the unlocked amount of a stateless zkapp.
	Fee int64 `json:"fee" validate:"gte=0"`
}

// TxIn is a template input.
type TxIn struct {
	TxID     string `json:"txid" validate:"required,len=64,hexadecimal"`
	Vout     uint32 `json:"vout"`
	Sequence uint32 `json:"sequence"`
	// PrevOut must be set on every input but the first, which spends the deployment.
	PrevOut *TxOut `json:"prev_out,omitempty" validate:"omitempty"`
}

// TxOut is a template output, paying either an address or a raw script.
type TxOut struct {
	Address   string `json:"address,omitempty" validate:"required_without=ScriptHex"`
	ScriptHex string `json:"script_hex,omitempty" validate:"omitempty,hexadecimal"`
	Value     int64  `json:"value" validate:"gte=0"`
}

// SessionBeginRequest asks a member to open a signing session.
type SessionBeginRequest struct {
	SessionID uuid.UUID `cbor:"session_id"`
	Message   []byte    `cbor:"message"`
}

// SessionSignRequest asks a member for its share, given the commitments of the signing set.
type SessionSignRequest struct {
	SessionID   uuid.UUID          `cbor:"session_id"`
	Commitments []*sign.Commitment `cbor:"commitments"`
	Message     []byte             `cbor:"message"`
}

// Health is returned by every node on GET /health.
type Health struct {
	Status string `json:"status"`
	Role   string `json:"role"`
	ID     uint16 `json:"id,omitempty"`
}
