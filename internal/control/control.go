// Package control assembles the ledger core: it opens the store, builds the
// components over it and runs the background jobs and the health server.
package control

import (
	"github.com/vietddude/watchledger/internal/audit"
	"github.com/vietddude/watchledger/internal/identity"
	"github.com/vietddude/watchledger/internal/ledger"
	"github.com/vietddude/watchledger/internal/preference"
	"github.com/vietddude/watchledger/internal/registry"
	"github.com/vietddude/watchledger/internal/session"
)

// Components are the ledger-core components sharing one store.
type Components struct {
	Identity    *identity.Store
	Sessions    *session.Manager
	Registry    *registry.Registry
	Ledger      *ledger.Ledger
	Preferences *preference.Store
	Audit       *audit.Auditor
}

// Options are collaborators supplied by the embedding program.
type Options struct {
	// ChainReader enables the balance poller. Nil leaves it off.
	ChainReader ledger.ChainReader
	// Notifier overrides the Redis stream notifier.
	Notifier ledger.Notifier
	// DisableServer skips the health server.
	DisableServer bool
}
