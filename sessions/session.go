package sessions

import (
	"time"

	"github.com/authface/authface/tier"
)

// Session is the server-side record of an authenticated user. It is
// created only by the federation layer on a successful handshake and
// mutated only by the Store; everything else receives copies.
//
// The JSON field names are the wire format persisted to the durable
// store. They are fixed so records written by older builds still
// deserialize; unknown fields are ignored and missing optional fields
// default to empty.
type Session struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	Provider  string            `json:"provider"`
	Tier      tier.Tier         `json:"tier"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Claims    map[string]string `json:"claims,omitempty"`
}

// Expired reports whether the session is logically absent at the given
// instant, regardless of physical presence in storage.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// copyClaims returns an independent claims map so callers cannot
// mutate the stored session through the returned snapshot.
func copyClaims(claims map[string]string) map[string]string {
	if claims == nil {
		return nil
	}
	out := make(map[string]string, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out
}

func (s Session) snapshot() Session {
	s.Claims = copyClaims(s.Claims)
	return s
}
