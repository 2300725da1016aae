// Package authz is the single decision point for file access control.
// Every service operation consults CanPerform instead of re-deriving
// ownership or role rules at the call site.
package authz

import "github.com/a-morozov/filevault/internal/model"

// Operation is a closed set of guarded actions on a file record.
type Operation string

const (
	OpDownload       Operation = "download"
	OpUpdateMetadata Operation = "update_metadata"
	OpUpdateContent  Operation = "update_content"
	OpShare          Operation = "share"
	OpDelete         Operation = "delete"
	OpRetry          Operation = "retry_encryption"
	OpPurge          Operation = "purge"
	OpListAll        Operation = "list_all"
)

// CanPerform reports whether the actor may run the operation on the record.
//
//	download                  owner, shared user, admin
//	update metadata/content   owner, admin
//	retry encryption          owner, admin
//	share                     owner only
//	delete                    owner, admin
//	purge, list all           admin only
//
// rec may be nil only for OpListAll.
func CanPerform(op Operation, actor model.Actor, rec *model.FileRecord) bool {
	if op == OpListAll {
		return actor.IsAdmin()
	}
	if rec == nil {
		return false
	}
	owner := rec.OwnerID == actor.ID

	switch op {
	case OpDownload:
		return owner || actor.IsAdmin() || rec.IsSharedWith(actor.ID)
	case OpUpdateMetadata, OpUpdateContent, OpRetry, OpDelete:
		return owner || actor.IsAdmin()
	case OpShare:
		return owner
	case OpPurge:
		return actor.IsAdmin()
	}
	return false
}
