package domain

import "errors"

// Failure taxonomy of the resolution pipeline. ErrClassificationMiss and ErrCacheMiss
// are control-flow signals rather than failures.
var (
	ErrClassificationMiss      = errors.New("no local pattern matched")
	ErrRemoteServiceFailure    = errors.New("remote reasoning service failure")
	ErrMalformedResponse       = errors.New("malformed structured response")
	ErrConfirmationExpired     = errors.New("confirmation expired")
	ErrDisambiguationExhausted = errors.New("disambiguation attempts exhausted")
	ErrCacheMiss               = errors.New("cache miss")
)
