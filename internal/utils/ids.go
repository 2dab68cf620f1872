// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidID is returned by ParseID for values that are not base-10 integers.
var ErrInvalidID = errors.New("invalid id")

// ParseID converts a path parameter into a row identifier.
//
// Any base-10 integer is accepted. Values below 1 cannot name a row and map
// to 0, which lookups treat as absent, so "0" and "-3" end in not-found
// rather than a validation error.
//
// Example:
//
//	id, _ := utils.ParseID("42")  // 42
//	id, _ = utils.ParseID("-1")   // 0
//	_, err := utils.ParseID("x")  // ErrInvalidID
func ParseID(s string) (uint, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, ErrInvalidID
	}
	if n < 1 {
		return 0, nil
	}
	return uint(n), nil
}
