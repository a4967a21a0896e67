package txpool

import (
	"fmt"

	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/pkg/errors"
)

// RuleError identifies a rule violation. It is used to indicate that
// admission of a transaction to the pool failed. The caller can use
// errors.As to determine if a failure was specifically due to a rule
// violation and use the Err field to access the underlying error, which
// will be either a TxRuleError or a ruleerrors.RuleError.
type RuleError struct {
	Err error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// RejectCode represents a numeric value by which a remote peer is told why
// a transaction was rejected.
type RejectCode uint8

// These constants define the various supported reject codes.
const (
	RejectInvalid   RejectCode = 0x10
	RejectDuplicate RejectCode = 0x12
	RejectPoolFull  RejectCode = 0x20
	RejectExpired   RejectCode = 0x21
)

// Map of reject codes back strings for pretty printing.
var rejectCodeStrings = map[RejectCode]string{
	RejectInvalid:   "REJECT_INVALID",
	RejectDuplicate: "REJECT_DUPLICATE",
	RejectPoolFull:  "REJECT_POOLFULL",
	RejectExpired:   "REJECT_EXPIRED",
}

// String returns the RejectCode in human-readable form.
func (code RejectCode) String() string {
	if s, ok := rejectCodeStrings[code]; ok {
		return s
	}

	return fmt.Sprintf("Unknown RejectCode (%d)", uint8(code))
}

// TxRuleError identifies a pool admission rule violation.
type TxRuleError struct {
	RejectCode  RejectCode // The code to send with reject messages
	Description string     // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxRuleError) Error() string {
	return e.Description
}

// txRuleError creates an underlying TxRuleError with the given a set of
// arguments and returns a RuleError that encapsulates it.
func txRuleError(c RejectCode, desc string) RuleError {
	return RuleError{
		Err: TxRuleError{RejectCode: c, Description: desc},
	}
}

// ExtractRejectCode attempts to return a relevant reject code for a given
// error by examining the error for known types. It will return true if a
// code was successfully extracted.
func ExtractRejectCode(err error) (RejectCode, bool) {
	var trErr TxRuleError
	if errors.As(err, &trErr) {
		return trErr.RejectCode, true
	}

	var txRuleErr ruleerrors.RuleError
	if errors.As(err, &txRuleErr) {
		return RejectInvalid, true
	}

	return RejectInvalid, false
}
