package models

import (
	"time"

	"github.com/tuning-platform/internal/types"
)

// SlaveJob represents one decode/encode round trip for one uploaded file.
// Vendor-specific metadata is populated only for the matching vendor; a failed
// job is retained with partial data for diagnostics.
type SlaveJob struct {
	UniqueID         string               `json:"uniqueId" db:"unique_id"`
	TenantID         string               `json:"tenantId" db:"tenant_id"`
	RequestID        string               `json:"requestId" db:"request_id"`
	Vendor           types.Vendor         `json:"vendor" db:"vendor"`
	Status           types.SlaveJobStatus `json:"status" db:"status"`
	OriginalFile     string               `json:"originalFile" db:"original_file"`
	DecodedFile      *string              `json:"decodedFile,omitempty" db:"decoded_file"`
	EncodedFile      *string              `json:"encodedFile,omitempty" db:"encoded_file"`
	Mode             types.JobMode        `json:"mode" db:"mode"`
	BootComponent    types.BootComponent  `json:"bootComponent,omitempty" db:"boot_component"`
	FileSlotID       *string              `json:"fileSlotId,omitempty" db:"file_slot_id"`
	SerialNumber     *string              `json:"serialNumber,omitempty" db:"serial_number"`
	ECUID            *string              `json:"ecuId,omitempty" db:"ecu_id"`
	MCUID            *string              `json:"mcuId,omitempty" db:"mcu_id"`
	LastError        *string              `json:"lastError,omitempty" db:"last_error"`
	CreatedAt        time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time            `json:"updatedAt" db:"updated_at"`
}

// Completed reports whether all three file slots are populated.
func (j *SlaveJob) Completed() bool {
	return j.OriginalFile != "" && j.DecodedFile != nil && j.EncodedFile != nil
}
