// Package common defines shared constants and sentinel errors used across
// the paywall server. Callers should use errors.Is to match these values.
//
// Errors come in two layers. Kind errors (ErrValidation, ErrNotFound, ...)
// describe how a failure is surfaced at the boundary. Specific errors wrap
// exactly one kind, so both errors.Is(err, ErrInvalidCode) and
// errors.Is(err, ErrValidation) hold for the same value.
package common

import (
	"errors"
	"fmt"
)

// Kinds.
var (
	ErrValidation      = errors.New("validation error")
	ErrAuthentication  = errors.New("authentication error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExternalService = errors.New("external service error")
	ErrIntegrity       = errors.New("integrity error")
	ErrInternal        = errors.New("internal error")
)

// One-time codes.
var (
	ErrInvalidEmail    = fmt.Errorf("%w: invalid email address", ErrValidation)
	ErrMalformedCode   = fmt.Errorf("%w: code must be 6 digits", ErrValidation)
	ErrNoValidToken    = fmt.Errorf("%w: no valid verification token", ErrValidation)
	ErrInvalidCode     = fmt.Errorf("%w: invalid verification code", ErrValidation)
	ErrTooManyAttempts = fmt.Errorf("%w: too many verification attempts", ErrValidation)
	ErrMailDelivery    = fmt.Errorf("%w: mail delivery failed", ErrExternalService)
)

// Sessions and identities.
var (
	ErrUnauthorized        = fmt.Errorf("%w: unauthorized", ErrAuthentication)
	ErrInvalidToken        = fmt.Errorf("%w: invalid token", ErrAuthentication)
	ErrSessionExpired      = fmt.Errorf("%w: session expired", ErrAuthentication)
	ErrUnsupportedProvider = fmt.Errorf("%w: unsupported provider", ErrValidation)
	ErrAccountLinkConflict = fmt.Errorf("%w: account is linked to another user", ErrConflict)
	ErrUserNotFound        = fmt.Errorf("%w: user", ErrNotFound)
	ErrIncompleteIdentity  = fmt.Errorf("%w: incomplete federated identity", ErrValidation)
)

// Billing.
var (
	ErrPlanNotFound     = fmt.Errorf("%w: plan", ErrNotFound)
	ErrAlreadyApplied   = fmt.Errorf("%w: payment already applied", ErrConflict)
	ErrSignatureInvalid = fmt.Errorf("%w: webhook signature invalid", ErrIntegrity)
	ErrMalformedEvent   = fmt.Errorf("%w: malformed webhook event", ErrValidation)
	ErrBilling          = fmt.Errorf("%w: billing provider failed", ErrExternalService)
)
