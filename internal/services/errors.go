// Package services defines the business logic of the person-blocker bot:
// webhook event handling, image processing, and job queries.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrVerifyToken is returned when a subscription handshake carries a
	// verify token that does not match the configured one.
	ErrVerifyToken = errors.New("verify token mismatch")

	// ErrImageTooLarge is returned when a fetched image exceeds the size cap.
	ErrImageTooLarge = errors.New("image too large")

	// ErrFetchStatus is returned when an image URL answers with a non-2xx status.
	ErrFetchStatus = errors.New("unexpected status fetching image")

	// ErrJobNotFound indicates that the requested job does not exist.
	ErrJobNotFound = errors.New("job not found")
)
