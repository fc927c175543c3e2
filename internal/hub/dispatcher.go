package hub

import (
	"go.uber.org/zap"

	"github.com/giftwish/chat-server/internal/conversation"
)

// Dispatcher fans events out to live connections. All delivery is
// best-effort: there is no retry or queueing, and a dead connection never
// aborts delivery to the remaining ones. Offline recipients simply miss the
// live event; the message itself stays in the store for later history
// fetches.
type Dispatcher struct {
	reg     *Registry
	log     *zap.SugaredLogger
	onEvict func(userID string, connID int64, offline bool)
}

// NewDispatcher wires a dispatcher to the given registry.
func NewDispatcher(reg *Registry, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{reg: reg, log: log}
}

// OnEvict installs fn, called whenever fan-out culls a dead connection.
// offline reports that the cull removed the user's last connection — that
// transition is invisible to the owning session (its later Close finds the
// connection already gone), so the installer must fire the presence change
// from here.
func (d *Dispatcher) OnEvict(fn func(userID string, connID int64, offline bool)) {
	d.onEvict = fn
}

// evict unregisters a connection whose Send failed and reports the eviction.
func (d *Dispatcher) evict(userID string, connID int64, err error) {
	d.log.Warnw("dropping dead connection", "user", userID, "conn", connID, "err", err)
	offline := d.reg.Unregister(userID, connID)
	if d.onEvict != nil {
		d.onEvict(userID, connID, offline)
	}
}

// ToUser sends v to every live connection of one user. Connections whose
// Send fails are logged and unregistered so stale streams don't accumulate.
func (d *Dispatcher) ToUser(userID string, v any) {
	for _, entry := range d.reg.snapshotFor(userID) {
		if err := entry.sender.Send(v); err != nil {
			d.evict(userID, entry.id, err)
		}
	}
}

// ToConversation sends v to both participants, the sender included — that is
// deliberate, it keeps the sender's other devices and tabs in sync. The
// participant pair comes from the parsed conversation id, never from
// re-splitting the id string.
func (d *Dispatcher) ToConversation(id conversation.ID, v any) {
	a, b := id.Participants()
	d.ToUser(a, v)
	if b != a {
		d.ToUser(b, v)
	}
}

// Broadcast sends v to every connection of every user. Used only for
// presence changes.
func (d *Dispatcher) Broadcast(v any) {
	for user, entries := range d.reg.snapshotAll() {
		for _, entry := range entries {
			if err := entry.sender.Send(v); err != nil {
				d.evict(user, entry.id, err)
			}
		}
	}
}
