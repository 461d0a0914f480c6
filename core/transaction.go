package core

import (
	"fmt"

	"synnergy-core/archive"
	"synnergy-core/crypto"
)

// Transaction is a typed transfer / contract-call / contract-create message
// with an attached signature.
//
// Nonce travels with the transaction so admission can enforce that it is
// strictly greater than the sender's current nonce; it is appended to the
// wire body alongside the other header fields rather than derived
// separately.
type Transaction struct {
	From      Address
	To        Address
	Amount    Balance
	Fee       uint64
	Nonce     uint64
	Timestamp Timestamp
	Data      []byte
	sign      Sign
}

// ContractData is the payload record a contract-creation transaction's Data
// field must decode as when To == NullAddress.
type ContractData struct {
	Message []byte
	ABI     []byte
}

// Encode writes the ContractData record.
func (c ContractData) Encode(w *archive.Writer) {
	w.WriteBytes(c.Message)
	w.WriteBytes(c.ABI)
}

// DecodeContractData reads a ContractData record written by Encode.
func DecodeContractData(r *archive.Reader) (ContractData, error) {
	msg, err := r.ReadBytes()
	if err != nil {
		return ContractData{}, err
	}
	abi, err := r.ReadBytes()
	if err != nil {
		return ContractData{}, err
	}
	return ContractData{Message: msg, ABI: abi}, nil
}

// Sign returns the transaction's current signature (zero value if unsigned).
func (tx *Transaction) Sign() Sign { return tx.sign }

// SetSign overwrites the transaction's signature directly. Used by
// deserialization and by tests constructing pre-signed fixtures.
func (tx *Transaction) SetSign(s Sign) { tx.sign = s }

// IsSigned reports whether the transaction carries a non-zero signature.
func (tx *Transaction) IsSigned() bool { return !tx.sign.IsZero() }

// encodeHeader writes every field except the signature — the bytes that are
// hashed to produce HashOfTransaction.
func (tx *Transaction) encodeHeader(w *archive.Writer) {
	EncodeAddress(w, tx.From)
	EncodeAddress(w, tx.To)
	tx.Amount.Encode(w)
	w.WriteU64(tx.Fee)
	w.WriteU64(tx.Nonce)
	w.WriteU32(uint32(tx.Timestamp))
	w.WriteBytes(tx.Data)
}

// HashOfTransaction returns sha256(serializeHeader(tx)); it is independent
// of tx.sign.
func (tx *Transaction) HashOfTransaction() Hash {
	w := archive.NewWriter(0)
	tx.encodeHeader(w)
	return crypto.Sha256(w.Bytes())
}

// SignWith signs the transaction's hash with priv and stores the resulting
// signature. The caller is responsible for having set From to the address
// derived from priv (CheckSign will fail otherwise).
func (tx *Transaction) SignWith(priv *crypto.PrivateKey) {
	tx.sign = crypto.Sign(priv, tx.HashOfTransaction())
}

// CheckSign verifies that tx.sign is a valid signature over
// HashOfTransaction() by the key whose address equals tx.From.
func (tx *Transaction) CheckSign() error {
	if tx.sign.IsZero() {
		return fmt.Errorf("%w: transaction unsigned", ErrInvalidSignature)
	}
	pub, err := crypto.Recover(tx.sign, tx.HashOfTransaction())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if crypto.AddressFromPubKey(pub) != tx.From {
		return fmt.Errorf("%w: signer does not match from address", ErrInvalidSignature)
	}
	return nil
}

// Validate checks the structural invariants that do not require state:
// amount/fee sign (unsigned types make this automatic), the legacy
// non-zero-amount rule for client-originated transfers, and that
// contract-creation payloads decode as ContractData.
func (tx *Transaction) Validate() error {
	if tx.To == NullAddress {
		if _, err := DecodeContractData(archive.NewReader(tx.Data)); err != nil {
			return fmt.Errorf("%w: contract-creation data: %v", ErrInvalidArgument, err)
		}
		return nil
	}
	if tx.Amount.IsZero() {
		return fmt.Errorf("%w: non-contract transaction must transfer a positive amount", ErrInvalidArgument)
	}
	return nil
}

// Equal reports componentwise equality, including the signature.
func (tx *Transaction) Equal(other *Transaction) bool {
	if tx == nil || other == nil {
		return tx == other
	}
	return tx.From == other.From &&
		tx.To == other.To &&
		tx.Amount.Cmp(other.Amount) == 0 &&
		tx.Fee == other.Fee &&
		tx.Nonce == other.Nonce &&
		tx.Timestamp == other.Timestamp &&
		string(tx.Data) == string(other.Data) &&
		tx.sign == other.sign
}

// Encode writes the full wire body: header fields followed by the
// signature.
func (tx *Transaction) Encode(w *archive.Writer) {
	tx.encodeHeader(w)
	EncodeSign(w, tx.sign)
}

// DecodeTransaction reads a Transaction written by Encode.
func DecodeTransaction(r *archive.Reader) (*Transaction, error) {
	from, err := DecodeAddress(r)
	if err != nil {
		return nil, err
	}
	to, err := DecodeAddress(r)
	if err != nil {
		return nil, err
	}
	amount, err := DecodeBalance(r)
	if err != nil {
		return nil, err
	}
	fee, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	nonce, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	ts, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	data, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	sign, err := DecodeSign(r)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		From:      from,
		To:        to,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: Timestamp(ts),
		Data:      data,
		sign:      sign,
	}, nil
}

// TransactionBuilder accumulates optional fields and fails to build if a
// required field is missing.
type TransactionBuilder struct {
	tx       Transaction
	hasFrom  bool
	hasTo    bool
	hasFee   bool
	hasTS    bool
	hasValue bool
}

// NewTransactionBuilder returns an empty builder.
func NewTransactionBuilder() *TransactionBuilder { return &TransactionBuilder{} }

// From sets the sender address.
func (b *TransactionBuilder) From(addr Address) *TransactionBuilder {
	b.tx.From = addr
	b.hasFrom = true
	return b
}

// To sets the recipient address. Use NullAddress for contract creation.
func (b *TransactionBuilder) To(addr Address) *TransactionBuilder {
	b.tx.To = addr
	b.hasTo = true
	return b
}

// Amount sets the transfer amount.
func (b *TransactionBuilder) Amount(amount Balance) *TransactionBuilder {
	b.tx.Amount = amount
	b.hasValue = true
	return b
}

// Fee sets the transaction fee.
func (b *TransactionBuilder) Fee(fee uint64) *TransactionBuilder {
	b.tx.Fee = fee
	b.hasFee = true
	return b
}

// Nonce sets the sender's intended nonce for this transaction. Defaults to
// 0, which mempool admission always rejects: the nonce must be strictly
// greater than the sender's current nonce, and that is never below 0.
func (b *TransactionBuilder) Nonce(nonce uint64) *TransactionBuilder {
	b.tx.Nonce = nonce
	return b
}

// Timestamp sets the transaction timestamp. If omitted, Build defaults to
// Now().
func (b *TransactionBuilder) Timestamp(ts Timestamp) *TransactionBuilder {
	b.tx.Timestamp = ts
	b.hasTS = true
	return b
}

// Data sets the opaque payload.
func (b *TransactionBuilder) Data(data []byte) *TransactionBuilder {
	b.tx.Data = data
	return b
}

// Build validates required fields and returns the assembled, unsigned
// Transaction.
func (b *TransactionBuilder) Build() (*Transaction, error) {
	if !b.hasFrom {
		return nil, fmt.Errorf("%w: transaction builder: missing from address", ErrInvalidArgument)
	}
	if !b.hasTo {
		return nil, fmt.Errorf("%w: transaction builder: missing to address", ErrInvalidArgument)
	}
	if !b.hasValue {
		b.tx.Amount = NewBalance(0)
	}
	if !b.hasFee {
		b.tx.Fee = 0
	}
	if !b.hasTS {
		b.tx.Timestamp = Now()
	}
	out := b.tx
	return &out, nil
}
