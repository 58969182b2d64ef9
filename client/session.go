package client

import (
	"sync"

	"github.com/google/uuid"
)

var (
	sessionOnce sync.Once
	sessionID   string
)

// SessionID returns this process's booking session identity. It is minted
// once per process lifetime and reused for every lease the process touches,
// so ownership survives reconnects within the process while two processes
// never share an identity. The value is opaque; only uniqueness matters.
func SessionID() string {
	sessionOnce.Do(func() {
		sessionID = uuid.NewString()
	})
	return sessionID
}
