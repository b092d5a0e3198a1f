// Package errs defines the error kinds reported by the exchange core.
// Call sites wrap a kind with context using fmt.Errorf("%w: ...", kind)
// and callers classify with errors.Is or Kind.
package errs

import "errors"

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrDuplicateID          = errors.New("duplicate id")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyFinalized     = errors.New("already finalized")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrDuplicateID, "DuplicateId"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrInsufficientHoldings, "InsufficientHoldings"},
	{ErrNotFound, "NotFound"},
	{ErrAlreadyFinalized, "AlreadyFinalized"},
}

// Kind returns the stable name of err's kind, or "Internal" when err
// does not wrap one of the kinds above.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
