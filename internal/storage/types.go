package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotExist is returned by Read when no state has been written yet.
	ErrNotExist = errors.New("state blob does not exist")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON state file at Path (default)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Audit       bool
}

// BlobStore holds exactly one opaque state document.
// Write replaces the whole document; a failed Write leaves the previous one readable.
type BlobStore interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, b []byte) error
}

// AuditLog records operator actions (boil-outs submitted, fryers added).
type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// AuditReader is implemented by stores that can list recent audit entries.
type AuditReader interface {
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

// Store is what Open returns.
type Store interface {
	BlobStore
	AuditLog
	AuditReader
	Close() error
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Detail    string    `json:"detail,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
}

func (e *AuditEntry) fill() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
}
