package errors

import (
	"errors"
	"fmt"
)

var (
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrFaceNotFound            = errors.New("face not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrNilTransaction          = errors.New("transaction is nil")
	ErrNilUser                 = errors.New("user is nil")
	ErrInvalidTransactionKind  = errors.New("invalid transaction kind")
	ErrInvalidTransactionState = errors.New("transaction is not pending or not owned by caller")
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrInvalidPackage          = errors.New("unknown payment package")
	ErrInvalidMultiplier       = errors.New("multiple orders not allowed for this package")
	ErrUnsupportedProvider     = errors.New("unsupported payment provider")
	ErrProviderUnavailable     = errors.New("payment provider call failed")
	ErrVerificationFailed      = errors.New("payment verification failed")
	ErrInvalidCredentials      = fmt.Errorf("invalid credentials")
	ErrUsernameExists          = fmt.Errorf("username already exists")
	ErrInternal                = fmt.Errorf("internal error")
	ErrInvalidInput            = fmt.Errorf("invalid input")
)
