// Package services defines the business logic for accounts and AI chats.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Chat-related errors.
var (
	// ErrChatNotFound indicates that the requested chat does not exist or is not
	// accessible to the current user. The two cases are never distinguished.
	ErrChatNotFound = errors.New("chat not found")

	// ErrEmptyText is returned when a message to send has no visible text.
	ErrEmptyText = errors.New("text is empty")

	// ErrTooLong is returned when a message exceeds the configured rune limit.
	ErrTooLong = errors.New("text too long")

	// ErrEmptyDocument is returned when a summarized file yields no text at all.
	ErrEmptyDocument = errors.New("document has no extractable text")
)

// Account-related errors.
var (
	// ErrEmailTaken is returned by SignUp when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned for an unknown email or a wrong
	// password. Callers must not be able to tell which.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
