package model

// Block is a forged block. Once accepted it is never mutated; the chain
// hands out copies made with Clone.
type Block struct {
	ID                   string
	Version              uint32
	Height               uint64
	PreviousBlockID      string
	Timestamp            uint32
	NumberOfTransactions uint32
	TotalAmount          int64
	TotalFee             int64
	Reward               int64
	PayloadLength        uint32
	PayloadHash          []byte
	GeneratorPublicKey   []byte
	Signature            []byte
	Transactions         []*Transaction
}

// Clone returns a deep copy of b.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	clone := *b
	clone.PayloadHash = cloneBytes(b.PayloadHash)
	clone.GeneratorPublicKey = cloneBytes(b.GeneratorPublicKey)
	clone.Signature = cloneBytes(b.Signature)
	if b.Transactions != nil {
		clone.Transactions = make([]*Transaction, len(b.Transactions))
		for i, tx := range b.Transactions {
			clone.Transactions[i] = tx.Clone()
		}
	}
	return &clone
}

// Header returns a copy of b without its transactions.
func (b *Block) Header() *Block {
	header := b.Clone()
	header.Transactions = nil
	return header
}
