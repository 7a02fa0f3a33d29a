package escrow

import "github.com/ssd-technologies/arbiter/internal/errs"

var (
	ErrInvalidAmount        = errs.New("InvalidAmount", "amount must be greater than 0", errs.Validation)
	ErrInvalidTimeLock      = errs.New("InvalidTimeLock", "time lock must be between 1 hour and 30 days", errs.Validation)
	ErrInvalidTransactionID = errs.New("InvalidTransactionId", "transaction id must be 1 to 64 characters", errs.Validation)
	ErrMissingTokenMint     = errs.New("MissingTokenMint", "token asset requires a mint", errs.Validation)

	ErrUnauthorized       = errs.New("Unauthorized", "caller is not authorized for this agreement", errs.Authorization)
	ErrTimeLockNotExpired = errs.New("TimeLockNotExpired", "time lock has not expired", errs.Timing, errs.Authorization)
	ErrDisputeWindow      = errs.New("DisputeWindowExpired", "dispute window has expired", errs.Timing)

	ErrInvalidStatus = errs.New("InvalidStatus", "operation not valid in current status", errs.StateConflict)
	ErrExists        = errs.New("AgreementExists", "transaction id already in use", errs.StateConflict)
	ErrStaleWrite    = errs.New("StaleWrite", "agreement was modified concurrently", errs.StateConflict)
	ErrNotFound      = errs.New("AgreementNotFound", "agreement not found", errs.NotFound)

	ErrInsufficientDisputeFunds = errs.New("InsufficientDisputeFunds", "insufficient funds to cover dispute cost", errs.Funds)
	ErrInsufficientFunds        = errs.New("InsufficientFunds", "insufficient balance", errs.Funds)

	ErrOracleNotRegistered = errs.New("OracleNotRegistered", "oracle is not registered", errs.Registry)
	ErrDuplicateSubmission = errs.New("DuplicateOracleSubmission", "oracle already submitted a score", errs.Registry)
	ErrMaxSubmissions      = errs.New("MaxOraclesReached", "maximum oracle submissions reached", errs.Registry)

	ErrNotAuthority = errs.New("Unauthorized", "caller is not a reputation authority", errs.Authorization)
)
