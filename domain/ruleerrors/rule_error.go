package ruleerrors

// These identify a specific block rule violation.
var (
	// ErrInvalidPreviousBlock indicates the block does not extend the
	// current last block.
	ErrInvalidPreviousBlock = newRuleError("ErrInvalidPreviousBlock")

	// ErrInvalidHeight indicates the block height is not the height of the
	// last block plus one.
	ErrInvalidHeight = newRuleError("ErrInvalidHeight")

	ErrInvalidVersion = newRuleError("ErrInvalidVersion")

	// ErrBlockSlot indicates the block was not forged by the owner of its
	// slot.
	ErrBlockSlot = newRuleError("ErrBlockSlot")

	// ErrInvalidTimestamp indicates the block slot is in the future or not
	// after the slot of the last block.
	ErrInvalidTimestamp = newRuleError("ErrInvalidTimestamp")

	// ErrSlotWindow indicates the block slot is too far from the current
	// slot.
	ErrSlotWindow = newRuleError("ErrSlotWindow")

	ErrBadSignature = newRuleError("ErrBadSignature")

	// ErrPayload indicates the transaction payload of the block does not
	// match its header.
	ErrPayload = newRuleError("ErrPayload")

	ErrDuplicateBlock = newRuleError("ErrDuplicateBlock")

	// ErrDuplicateTx indicates a transaction appears twice in a block or is
	// already confirmed.
	ErrDuplicateTx = newRuleError("ErrDuplicateTx")

	ErrInvalidReward = newRuleError("ErrInvalidReward")

	ErrInvalidBlockID = newRuleError("ErrInvalidBlockID")

	// ErrConflictingTransactions indicates a block carries transactions
	// that cannot be confirmed together.
	ErrConflictingTransactions = newRuleError("ErrConflictingTransactions")
)

// These identify a specific transaction rule violation.
var (
	ErrUnknownTransactionType = newRuleError("ErrUnknownTransactionType")
	ErrMalformedTransaction   = newRuleError("ErrMalformedTransaction")
	ErrInvalidSender          = newRuleError("ErrInvalidSender")
	ErrInvalidRecipient       = newRuleError("ErrInvalidRecipient")
	ErrInvalidAmount          = newRuleError("ErrInvalidAmount")
	ErrInvalidFee             = newRuleError("ErrInvalidFee")
	ErrInvalidTxTimestamp     = newRuleError("ErrInvalidTxTimestamp")
	ErrInsufficientBalance    = newRuleError("ErrInsufficientBalance")
	ErrTxSignature            = newRuleError("ErrTxSignature")
	ErrSecondSignature        = newRuleError("ErrSecondSignature")
	ErrMultisignature         = newRuleError("ErrMultisignature")
	ErrInvalidAsset           = newRuleError("ErrInvalidAsset")
	ErrPendingConfirmation    = newRuleError("ErrPendingConfirmation")

	// ErrInvalidVote indicates a malformed vote, or a vote adding an
	// existing or removing a missing delegate.
	ErrInvalidVote = newRuleError("ErrInvalidVote")

	// ErrVoteLimit indicates a vote would leave the account with more
	// votes than allowed.
	ErrVoteLimit = newRuleError("ErrVoteLimit")

	ErrDelegateNotFound = newRuleError("ErrDelegateNotFound")
	ErrInvalidUsername  = newRuleError("ErrInvalidUsername")
)

// RuleError identifies a rule violation. It is used to indicate that
// processing of a block or transaction failed due to one of the many validation
// rules. The caller can use errors.Is with the values above to determine the
// specific violation.
type RuleError struct {
	message string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.message
}

func newRuleError(message string) RuleError {
	return RuleError{message: message}
}
