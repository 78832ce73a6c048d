package models

import "time"

// Script represents a captured tuning edit for a (car, controller) pair,
// reusable across customers. Records are immutable once referenced by a
// build; edits create new versions to keep past builds reproducible.
type Script struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenantId" db:"tenant_id"`
	Car            string    `json:"car" db:"car"`
	Controller     string    `json:"controller" db:"controller"`
	Label          string    `json:"label" db:"label"`
	Admin          string    `json:"admin" db:"admin"`
	SourceFileName string    `json:"sourceFileName" db:"source_file_name"`
	OriginalLength int       `json:"originalLength" db:"original_length"`
	Diff           []byte    `json:"diff" db:"diff"` // serialized diff artifact
	// Automatic scripts apply to every build for their (car, controller)
	// without being requested explicitly.
	Automatic bool      `json:"automatic" db:"automatic"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
