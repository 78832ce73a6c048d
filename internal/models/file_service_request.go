package models

import (
	"time"

	"github.com/tuning-platform/internal/types"
)

// FileServiceRequest represents an end-to-end tuning request for a customer's
// vehicle. Status transitions are monotonic except the explicit reopen branch;
// exactly one active SlaveJob exists per request.
type FileServiceRequest struct {
	ID                 string              `json:"id" db:"id"`
	TenantID           string              `json:"tenantId" db:"tenant_id"`
	CustomerID         string              `json:"customerId" db:"customer_id"`
	Car                string              `json:"car" db:"car"`
	Controller         string              `json:"controller" db:"controller"`
	Vendor             types.Vendor        `json:"vendor" db:"vendor"`
	Status             types.RequestStatus `json:"status" db:"status"`
	OriginalFile       string              `json:"originalFile" db:"original_file"`
	DecodedFile        *string             `json:"decodedFile,omitempty" db:"decoded_file"`
	ModWithoutEncode   *string             `json:"modWithoutEncode,omitempty" db:"mod_without_encode"`
	ModFinal           *string             `json:"modFinal,omitempty" db:"mod_final"`
	RequestedScriptIDs []string            `json:"requestedScriptIds" db:"requested_script_ids"`
	AutomaticScriptIDs []string            `json:"automaticScriptIds" db:"automatic_script_ids"`
	Credits            int                 `json:"credits" db:"credits"`
	ActiveJobID        *string             `json:"activeJobId,omitempty" db:"active_job_id"`
	LastError          *string             `json:"lastError,omitempty" db:"last_error"`
	CreatedAt          time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time           `json:"updatedAt" db:"updated_at"`
}
