package fusion

import (
	"errors"

	nativecommon "fusionswap/native/common"
)

var (
	ErrOrderNotFound           = errors.New("fusion: order not found")
	ErrOrderAlreadyExists      = errors.New("fusion: order already exists")
	ErrInvalidOrderStatus      = errors.New("fusion: invalid order status")
	ErrUnauthorized            = errors.New("fusion: unauthorized")
	ErrOnlyMaker               = errors.New("fusion: only maker")
	ErrOnlyResolver            = errors.New("fusion: only resolver")
	ErrDeadlineExpired         = errors.New("fusion: deadline expired")
	ErrTimelockNotExpired      = errors.New("fusion: timelock not expired")
	ErrInvalidSecret           = errors.New("fusion: invalid secret")
	ErrInvalidHashLock         = errors.New("fusion: invalid hash lock")
	ErrHashLockAlreadyUsed     = errors.New("fusion: hash lock already used")
	ErrInsufficientFunds       = errors.New("fusion: insufficient funds")
	ErrInsufficientDeposit     = errors.New("fusion: insufficient safety deposit")
	ErrInvalidAmount           = errors.New("fusion: invalid amount")
	ErrInvalidTimelocks        = errors.New("fusion: invalid timelocks")
	ErrInvalidProof            = errors.New("fusion: invalid counterparty proof")
	ErrArithmeticOverflow      = errors.New("fusion: arithmetic overflow")
	ErrTransferFailed          = errors.New("fusion: transfer failed")
	ErrContractPaused          = errors.New("fusion: contract paused")

	errNilStore  = errors.New("fusion: store not configured")
	errNilLedger = errors.New("fusion: ledger not configured")
)

// ErrorClass groups errors by how callers should react to them.
type ErrorClass string

const (
	ClassNone          ErrorClass = ""
	ClassValidation    ErrorClass = "validation"
	ClassAuthorization ErrorClass = "authorization"
	ClassPrecondition  ErrorClass = "precondition"
	ClassFatal         ErrorClass = "fatal"
	ClassIO            ErrorClass = "io"
	ClassInternal      ErrorClass = "internal"
)

type errorInfo struct {
	err   error
	code  string
	class ErrorClass
}

var errorTable = []errorInfo{
	{ErrDeadlineExpired, "DeadlineExpired", ClassValidation},
	{ErrInsufficientFunds, "InsufficientFunds", ClassValidation},
	{ErrInsufficientDeposit, "InsufficientDeposit", ClassValidation},
	{ErrInvalidAmount, "InvalidAmount", ClassValidation},
	{ErrOrderAlreadyExists, "OrderAlreadyExists", ClassValidation},
	{ErrHashLockAlreadyUsed, "HashLockAlreadyUsed", ClassValidation},
	{ErrInvalidHashLock, "InvalidHashLock", ClassValidation},
	{ErrInvalidTimelocks, "InvalidTimelocks", ClassValidation},
	{ErrInvalidProof, "InvalidProof", ClassValidation},
	{ErrUnauthorized, "Unauthorized", ClassAuthorization},
	{ErrOnlyMaker, "OnlyMaker", ClassAuthorization},
	{ErrOnlyResolver, "OnlyResolver", ClassAuthorization},
	{ErrOrderNotFound, "OrderNotFound", ClassPrecondition},
	{ErrInvalidOrderStatus, "InvalidOrderStatus", ClassPrecondition},
	{ErrTimelockNotExpired, "TimelockNotExpired", ClassPrecondition},
	{ErrInvalidSecret, "InvalidSecret", ClassPrecondition},
	{ErrContractPaused, "ContractPaused", ClassPrecondition},
	{nativecommon.ErrModulePaused, "ContractPaused", ClassPrecondition},
	{ErrArithmeticOverflow, "ArithmeticOverflow", ClassFatal},
	{ErrTransferFailed, "TransferFailed", ClassIO},
}

func lookupError(err error) (errorInfo, bool) {
	for _, info := range errorTable {
		if errors.Is(err, info.err) {
			return info, true
		}
	}
	return errorInfo{}, false
}

// Classify maps err onto its error class. Unknown errors are internal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if info, ok := lookupError(err); ok {
		return info.class
	}
	return ClassInternal
}

// Code returns the stable wire code for err, "Internal" for unknown errors
// and "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if info, ok := lookupError(err); ok {
		return info.code
	}
	return "Internal"
}
