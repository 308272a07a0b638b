package cf

import (
	"errors"
	"fmt"
)

// ChallengeError is returned when a page answered with an anti-bot
// challenge. It is never retried: the board is aborted and its queue task
// marked as waiting for the challenge to clear.
type ChallengeError struct {
	URL        string
	StatusCode int
	Indicators []string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("challenge_detected: status=%d url=%s", e.StatusCode, e.URL)
}

// NewChallengeError builds a ChallengeError from detection info.
func NewChallengeError(url string, info *Info) *ChallengeError {
	err := &ChallengeError{URL: url}
	if info != nil {
		err.StatusCode = info.StatusCode
		err.Indicators = info.Indicators
	}
	return err
}

// IsChallenge checks if err is, or wraps, a ChallengeError
func IsChallenge(err error) (*ChallengeError, bool) {
	var chErr *ChallengeError
	if errors.As(err, &chErr) {
		return chErr, true
	}
	return nil, false
}
