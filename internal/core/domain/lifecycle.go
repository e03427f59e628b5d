package domain

import "time"

// Lifecycle is the retention status of a soft-deletable row.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "active"
	LifecycleTombstoned Lifecycle = "tombstoned"
)

// Tombstone is embedded by every soft-deletable entity.
type Tombstone struct {
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Status derives the lifecycle from DeletedAt.
func (t Tombstone) Status() Lifecycle {
	if t.DeletedAt != nil {
		return LifecycleTombstoned
	}
	return LifecycleActive
}

// Tombstoned reports whether the row has been soft-deleted.
func (t Tombstone) Tombstoned() bool { return t.DeletedAt != nil }
