// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// FileStatus describes the encryption state of a file record.
type FileStatus string

// File statuses. Decrypted is transient: it is never persisted, a download
// produces plaintext as its return value only.
const (
	StatusProcessing FileStatus = "processing"
	StatusEncrypted  FileStatus = "encrypted"
	StatusDecrypted  FileStatus = "decrypted"
	StatusError      FileStatus = "error"
)

// Role of an actor as reported by the external identity provider.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Actor is the authenticated caller of a service operation. The core never
// creates or mutates identities; it only reads ID and Role.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// FileVersion is one immutable snapshot of a file's content.
type FileVersion struct {
	ID        uuid.UUID // unique within the owning record
	CreatedAt time.Time
	Size      int64 // byte length of that snapshot
}

// FileRecord is the metadata entity for one managed file.
type FileRecord struct {
	ID         uuid.UUID
	Name       string
	MIMEType   string
	Size       int64 // byte length of the current version
	OwnerID    uuid.UUID
	Status     FileStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Versions   []FileVersion // newest last, append-only, never empty
	SharedWith []uuid.UUID   // read access grants; never contains the owner
	Tags       []string
	IsStarred  bool
	IsDeleted  bool // soft-delete marker; excluded from listings, kept for audit
}

// IsSharedWith reports whether the user has an explicit read grant.
func (f *FileRecord) IsSharedWith(userID uuid.UUID) bool {
	for _, id := range f.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// LatestVersion returns the newest version snapshot.
func (f *FileRecord) LatestVersion() FileVersion {
	return f.Versions[len(f.Versions)-1]
}

// Envelope is the stored output of the encryption gateway for the latest
// version: ciphertext plus everything needed to decrypt it again.
type Envelope struct {
	Salt       []byte // KDF salt
	Nonce      []byte // AEAD nonce (IV)
	KeyCheck   []byte // key verifier, distinguishes wrong password from corruption
	Ciphertext []byte
}

// MetadataPatch carries the mutable display fields of a record. Nil fields
// are left unchanged by an update.
type MetadataPatch struct {
	Name      *string
	Tags      *[]string
	IsStarred *bool
}
