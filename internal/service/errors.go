package service

import "errors"

var (
	ErrInvalidAddress     = errors.New("invalid ethereum address")
	ErrValidation         = errors.New("validation failed")
	ErrMissingCredentials = errors.New("address, signature and nonce are required")
	ErrInvalidNonce       = errors.New("nonce invalid or expired")
	ErrInvalidSignature   = errors.New("signature invalid")
	ErrSessionInvalid     = errors.New("session invalid or revoked")
	ErrAddressMismatch    = errors.New("session address does not match request")
	ErrUnknownAction      = errors.New("unknown relay action")
)
