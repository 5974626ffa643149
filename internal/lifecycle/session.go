package lifecycle

import "context"

// Media is a payload to deliver alongside or instead of text.
type Media struct {
	Data     []byte
	MimeType string
	FileName string
}

// Group is a normalized summary of a joined group chat.
type Group struct {
	JID          string `json:"jid"`
	Name         string `json:"name"`
	Participants int    `json:"participants"`
}

// CloseReason describes why the wire connection closed.
type CloseReason struct {
	Description string
	// LoggedOut marks a terminal close: the remote side invalidated the
	// session and reconnecting without re-pairing cannot succeed.
	LoggedOut bool
}

// Events receives callbacks from the wire client. Implementations must
// tolerate being called after the session they belong to was torn down;
// the manager guards against stale deliveries internally.
type Events interface {
	QRReceived(code string)
	Opened(id Identity)
	Closed(reason CloseReason)
}

// Session is the narrow surface of the external wire client the manager
// depends on. Exactly one session is live at any time.
type Session interface {
	// Connect starts the connection. For an unpaired session it begins
	// QR pairing; events arrive through the Events sink registered at
	// construction time.
	Connect(ctx context.Context) error
	// Logout gracefully terminates the remote session.
	Logout(ctx context.Context) error
	// Close releases the handle and its backing store. Safe to call
	// more than once.
	Close()

	SendText(ctx context.Context, address, text string) (string, error)
	SendMedia(ctx context.Context, address, caption string, media Media) (string, error)
	Groups(ctx context.Context) ([]Group, error)
}

// Factory constructs sessions with event callbacks registered before
// the session is returned, so no event can be missed or delivered to a
// stale handler.
type Factory interface {
	NewSession(ctx context.Context, sink Events) (Session, error)
}

// CredentialStore persists pairing credentials. They outlive any single
// session; wiping them is always an explicit operation.
type CredentialStore interface {
	Wipe() error
}
