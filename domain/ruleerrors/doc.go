/*
Package ruleerrors defines the consensus rule violations of blocks and
transactions.

Callers wrap one of the exported errors with a description:

	return errors.Wrapf(ruleerrors.ErrBlockSlot, "Failed to verify slot %d", slot)

and classify failures with errors.Is or errors.As:

	if errors.As(err, &ruleerrors.RuleError{}) {
		// The block or transaction is invalid; no state was touched.
	}
*/
package ruleerrors
