package model

import "fmt"

// TransactionType identifies the variant of a transaction.
type TransactionType uint8

// Transaction types. The values are part of the signed bytes.
const (
	TransactionTypeSend            TransactionType = 0
	TransactionTypeSecondSignature TransactionType = 1
	TransactionTypeDelegate        TransactionType = 2
	TransactionTypeVote            TransactionType = 3
	TransactionTypeMultisignature  TransactionType = 4
)

var transactionTypeNames = map[TransactionType]string{
	TransactionTypeSend:            "SEND",
	TransactionTypeSecondSignature: "SIGNATURE",
	TransactionTypeDelegate:        "DELEGATE",
	TransactionTypeVote:            "VOTE",
	TransactionTypeMultisignature:  "MULTI",
}

func (t TransactionType) String() string {
	if name, ok := transactionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Transaction is a signed state transition submitted by an account.
type Transaction struct {
	ID              string
	Type            TransactionType
	Timestamp       uint32
	SenderPublicKey []byte
	SenderID        string
	RecipientID     string
	Amount          int64
	Fee             int64

	// Asset is the type-specific payload: nil for SEND, otherwise one of
	// *SignatureAsset, *DelegateAsset, *VoteAsset or *MultisignatureAsset.
	Asset interface{}

	Signature     []byte
	SignSignature []byte

	// Signatures holds the cosigner signatures of a multisignature account
	// or registration.
	Signatures [][]byte

	// BlockID and Height are set once the transaction is confirmed.
	BlockID string
	Height  uint64
}

// SignatureAsset registers a second public key.
type SignatureAsset struct {
	PublicKey []byte
}

// DelegateAsset registers the sender as a delegate.
type DelegateAsset struct {
	Username string
}

// VoteAsset adds (+) or removes (-) votes for delegate public keys given
// in hex.
type VoteAsset struct {
	Votes []string
}

// MultisignatureAsset turns the sender into a multisignature account.
// Keysgroup entries are "+" followed by a hex public key.
type MultisignatureAsset struct {
	Min       uint8
	Lifetime  uint8
	Keysgroup []string
}

// Clone returns a deep copy of tx.
func (tx *Transaction) Clone() *Transaction {
	if tx == nil {
		return nil
	}
	clone := *tx
	clone.SenderPublicKey = cloneBytes(tx.SenderPublicKey)
	clone.Signature = cloneBytes(tx.Signature)
	clone.SignSignature = cloneBytes(tx.SignSignature)
	if tx.Signatures != nil {
		clone.Signatures = make([][]byte, len(tx.Signatures))
		for i, signature := range tx.Signatures {
			clone.Signatures[i] = cloneBytes(signature)
		}
	}
	clone.Asset = cloneAsset(tx.Asset)
	return &clone
}

func cloneAsset(asset interface{}) interface{} {
	switch asset := asset.(type) {
	case *SignatureAsset:
		return &SignatureAsset{PublicKey: cloneBytes(asset.PublicKey)}
	case *DelegateAsset:
		clone := *asset
		return &clone
	case *VoteAsset:
		return &VoteAsset{Votes: cloneStrings(asset.Votes)}
	case *MultisignatureAsset:
		return &MultisignatureAsset{Min: asset.Min, Lifetime: asset.Lifetime, Keysgroup: cloneStrings(asset.Keysgroup)}
	default:
		return asset
	}
}

func cloneBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	return clone
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}
