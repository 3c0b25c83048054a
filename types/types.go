// Package types holds the small value types shared across the match and
// tournament layers.
package types

// Participant identifies one side of a match or one tournament entrant. It is
// created when a connection issues its first action and is treated as an
// immutable value from then on.
type Participant struct {
	// ConnectionID is the id minted for the websocket connection. It is the
	// routing key for direct replies and group membership.
	ConnectionID string
	// UserID is the authenticated account id, or 0 for anonymous play.
	UserID int64
	// DisplayName is the name shown to other participants. For tournament
	// entrants this is the participation name supplied on JOIN.
	DisplayName string
}

// Key returns the identity the registries and orchestrators use to compare
// participants. Two participants from the same connection are the same
// entrant.
func (p Participant) Key() string {
	return p.ConnectionID
}
