// Package identity implements Courier's user profile storage and lookup.
//
// It is a boundary collaborator of the delivery pipeline: registration,
// profile lookup by email, and profile-picture URL updates. No credentials
// are stored and identity claims are not verified; the email a caller
// presents is taken as-is.
//
// This package is intentionally dependency-light.
package identity
