package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrTransientStore  = errors.New("store temporarily unavailable")

	// Activation code lifecycle. Bind rejections carry the message returned to callers.
	ErrCodeNotFound     = errors.New("Activation code does not exist")
	ErrAlreadyBound     = errors.New("Activation code has already been used")
	ErrAppAlreadyBound  = errors.New("App ID is already bound to another activation code")
	ErrExpired          = errors.New("Activation code has expired")
	ErrQuotaExceeded    = errors.New("Activation code has reached maximum uses")
	ErrRevoked          = errors.New("Activation code has been revoked")
	ErrChecksumMismatch = errors.New("activation code checksum mismatch")
	ErrAppMismatch      = errors.New("activation code is not bound to this app ID")
	ErrConditionChanged = errors.New("activation code changed during validation")
	ErrNoBinding        = errors.New("no activation code is bound to this app ID")
	ErrExhaustedRetries = errors.New("could not generate a unique activation code")

	// Boundary errors; messages are the response detail.
	ErrRateLimited     = errors.New("Rate limit exceeded")
	ErrUnauthenticated = errors.New("Not authenticated")
	ErrUnauthorized    = errors.New("Invalid API Key")
)
