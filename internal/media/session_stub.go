//go:build !linux

package media

import "errors"

// NewSession reports that no OS media integration exists on this
// platform. Callers fall back to NoOpSession.
func NewSession() (Session, error) {
	return nil, errors.New("media session not supported on this platform")
}
