package api

import "errors"

var (
	ErrBadRequest = errors.New("badRequest")      // 400
	ErrAuth       = errors.New("authRequired")    // 401
	ErrNotFound   = errors.New("notFound")        // 404
	ErrConflict   = errors.New("conflict")        // 409
	ErrExhausted  = errors.New("poolExhausted")   // 429
	ErrUpstream   = errors.New("upstreamFailure") // 502
	ErrInternal   = errors.New("internal")        // 500
)
