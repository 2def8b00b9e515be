package port

import "ragchat/internal/domain"

// IndexStorage persists index snapshots. Persist must publish atomically:
// a concurrent Load sees either the previous snapshot or the new one.
type IndexStorage interface {
	Persist(snap domain.IndexSnapshot) error

	// Load returns domain.ErrIndexNotFound when nothing usable is stored.
	Load() (domain.IndexSnapshot, error)
}
