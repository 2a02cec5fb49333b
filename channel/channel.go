// Package channel abstracts the transport used to exchange sync messages between contexts.
package channel

import (
	"context"

	"github.com/jrsteele09/go-chat-sync/syncmsg"
)

// PeerKind classifies the contexts a broadcast-capable transport can reach.
type PeerKind string

const (
	KindBackground PeerKind = "background"
	KindTab        PeerKind = "tab"
	KindView       PeerKind = "view"
)

// Handler processes one inbound message. The reply path stays open until it returns.
// A nil response with a nil error means the handler does not reply.
type Handler func(ctx context.Context, msg syncmsg.Message) (*syncmsg.Response, error)

// Selector addresses the recipients of a Send.
type Selector struct {
	Kinds []PeerKind
	// PeerID narrows the selector to one peer. Empty means every peer of Kinds.
	PeerID string
}

// ToBackground addresses the single background context.
func ToBackground() Selector {
	return Selector{Kinds: []PeerKind{KindBackground}}
}

// Everyone addresses every tab then every view.
func Everyone() Selector {
	return Selector{Kinds: []PeerKind{KindTab, KindView}}
}

// Peer addresses one peer by id.
func Peer(kind PeerKind, id string) Selector {
	return Selector{Kinds: []PeerKind{kind}, PeerID: id}
}

// Broadcast reports whether the selector may match more than one peer.
func (s Selector) Broadcast() bool {
	if s.PeerID != "" {
		return false
	}
	return len(s.Kinds) != 1 || s.Kinds[0] != KindBackground
}

func (s Selector) Matches(kind PeerKind, id string) bool {
	if s.PeerID != "" && s.PeerID != id {
		return false
	}
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Adapter is the transport contract used by the synchronizer.
// Sending to a broadcast selector never fails because one recipient is unreachable.
type Adapter interface {
	Send(ctx context.Context, to Selector, msg syncmsg.Message) (*syncmsg.Response, error)
	OnReceive(h Handler) (unsubscribe func())
}
