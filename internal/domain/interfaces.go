package domain

import "context"

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the application layer depends on them.

// KeyedStore holds per-participant state with per-key mutual exclusion.
// Callers take Lock(key) around a Get/Put pair to serialize mutations of
// one key without blocking others.
type KeyedStore[T any] interface {
	Get(key string) (T, bool)
	Put(key string, value T)

	// Lock acquires the key's mutex and returns its release func.
	Lock(key string) (unlock func())

	// Snapshot returns a point-in-time copy of every entry.
	Snapshot() map[string]T
}

// Journal persists ledger transactions outside process memory.
type Journal interface {
	AppendTransaction(ctx context.Context, tx Transaction) error
}

// ParticipantStore abstracts the external participant record store.
type ParticipantStore interface {
	InsertParticipant(ctx context.Context, p Participant) error
	UpdateParticipant(ctx context.Context, p Participant) error
	GetParticipant(ctx context.Context, id string) (*Participant, error)
	GetParticipantByEmail(ctx context.Context, email string) (*Participant, error)
	ListParticipants(ctx context.Context) ([]Participant, error)
}
