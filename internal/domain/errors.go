package domain

import "errors"

var (
	// ErrChainUnavailable indicates the RPC node could not be reached or
	// kept failing after retries.
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrSubscriptionNotFound indicates no subscription exists for the
	// given id or contract address.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrEventNotFound indicates no stored event matches the query.
	ErrEventNotFound = errors.New("event not found")

	// ErrSubscriptionExists indicates a subscription already exists for
	// the contract address.
	ErrSubscriptionExists = errors.New("subscription already exists")

	// ErrWatchRunning indicates a polling loop is already active for the
	// subscription.
	ErrWatchRunning = errors.New("watch loop already running")
)
