package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNoHistory     = errors.New("no price history at instant")
	ErrBridgeClosed  = errors.New("bridge connection closed")
	ErrOrderRejected = errors.New("order rejected by venue")
)
