// Package session generates stable client identifiers for newly
// accepted connections, using rs/xid (grounded on
// runZeroInc-sockstats/cmd/exporter_example2's use of the same
// library) rather than a hand-rolled counter or UUID.
package session

import "github.com/rs/xid"

// ClientID is a globally unique, sortable identifier assigned once per
// accepted connection. It is distinct from the wire protocol's
// compact uint16 AssignedClientID (spec §6's HandshakeAck), which is
// only used as a dense per-session handle on the wire.
type ClientID string

// NewClientID mints a fresh identifier for a newly accepted connection.
func NewClientID() ClientID {
	return ClientID(xid.New().String())
}

// IsZero reports whether id was never assigned.
func (id ClientID) IsZero() bool { return id == "" }
