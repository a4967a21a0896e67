package model

// Account is the ledger row of an address. Fields prefixed with U shadow
// their confirmed counterpart with the effects of unconfirmed transactions.
type Account struct {
	Address   string
	PublicKey []byte

	Balance  int64
	UBalance int64

	SecondPublicKey  []byte
	SecondSignature  bool
	USecondSignature bool

	Username    string
	UUsername   string
	IsDelegate  bool
	UIsDelegate bool

	// Vote is the stake voted for this delegate, refreshed every round.
	Vote int64

	// Delegates and UDelegates hold the hex public keys this account
	// votes for.
	Delegates  []string
	UDelegates []string

	// Multisignatures and UMultisignatures hold the hex public keys of
	// the account's cosigners.
	Multisignatures  []string
	UMultisignatures []string
	MultiMin         uint8
	UMultiMin        uint8
	MultiLifetime    uint8
	UMultiLifetime   uint8

	ProducedBlocks int64
	MissedBlocks   int64
	Fees           int64
	Rewards        int64

	// Virgin is true until the account spends for the first time.
	Virgin bool
}

// NewAccount returns an empty virgin account for address.
func NewAccount(address string) *Account {
	return &Account{Address: address, Virgin: true}
}

// Clone returns a deep copy of account.
func (account *Account) Clone() *Account {
	if account == nil {
		return nil
	}
	clone := *account
	clone.PublicKey = cloneBytes(account.PublicKey)
	clone.SecondPublicKey = cloneBytes(account.SecondPublicKey)
	clone.Delegates = cloneStrings(account.Delegates)
	clone.UDelegates = cloneStrings(account.UDelegates)
	clone.Multisignatures = cloneStrings(account.Multisignatures)
	clone.UMultisignatures = cloneStrings(account.UMultisignatures)
	return &clone
}

// IsMultisignature returns whether the account has a confirmed
// multisignature configuration.
func (account *Account) IsMultisignature() bool {
	return len(account.Multisignatures) > 0
}
