// Package types provides common type definitions for the tuning platform core.
package types

import "fmt"

// Vendor identifies a slave-tool provider.
type Vendor string

const (
	// VendorAlientech is the cloud-async vendor (file slots, operation polling)
	VendorAlientech Vendor = "alientech"
	// VendorAutoTuner is a synchronous REST vendor
	VendorAutoTuner Vendor = "autotuner"
	// VendorMagic is a synchronous REST vendor
	VendorMagic Vendor = "magic"
	// VendorDimsport is a synchronous REST vendor
	VendorDimsport Vendor = "dimsport"
)

// AllVendors lists every supported vendor.
var AllVendors = []Vendor{VendorAlientech, VendorAutoTuner, VendorMagic, VendorDimsport}

// ParseVendor parses a vendor name as received from the API or a queue message.
func ParseVendor(s string) (Vendor, error) {
	switch Vendor(s) {
	case VendorAlientech, VendorAutoTuner, VendorMagic, VendorDimsport:
		return Vendor(s), nil
	default:
		return "", fmt.Errorf("unknown vendor: %q", s)
	}
}

// IsAsync reports whether the vendor uses the async operation/file-slot flow.
func (v Vendor) IsAsync() bool {
	return v == VendorAlientech
}

// JobMode represents how the ECU was read.
type JobMode string

const (
	// ModeOBD represents a read taken through the OBD port
	ModeOBD JobMode = "obd"
	// ModeBootBench represents a boot/bench read with separate components
	ModeBootBench JobMode = "boot_bench"
)

// BootComponent identifies which component of a boot/bench read is present.
type BootComponent string

const (
	// ComponentFlash is the flash memory component of a boot/bench read
	ComponentFlash BootComponent = "flash"
	// ComponentMicro is the microcontroller component of a boot/bench read
	ComponentMicro BootComponent = "micro"
	// ComponentNone is used for OBD jobs which have no boot components
	ComponentNone BootComponent = ""
)

// RequestStatus represents the lifecycle state of a file-service request.
type RequestStatus string

const (
	// StatusNew represents a freshly created request
	StatusNew RequestStatus = "new"
	// StatusDecoding represents a request whose decode stage is in flight
	StatusDecoding RequestStatus = "decoding"
	// StatusAwaitingSelection represents a decoded request waiting for script selection
	StatusAwaitingSelection RequestStatus = "awaiting_selection"
	// StatusBuilding represents a request whose build stage is in flight
	StatusBuilding RequestStatus = "building"
	// StatusEncoding represents a request whose encode stage is in flight
	StatusEncoding RequestStatus = "encoding"
	// StatusReady represents a request whose final file is available
	StatusReady RequestStatus = "ready"
	// StatusDelivered represents a request whose final file was handed out
	StatusDelivered RequestStatus = "delivered"
	// StatusFailed represents a request that hit an unrecoverable error
	StatusFailed RequestStatus = "failed"
	// StatusClosed represents a request closed by support
	StatusClosed RequestStatus = "closed"
	// StatusReopened represents a closed/delivered request reopened by chat activity
	StatusReopened RequestStatus = "reopened"
)

// forward transitions; failed is reachable from any in-flight state and
// reopened is driven by support activity, both handled separately
var forwardTransitions = map[RequestStatus]RequestStatus{
	StatusNew:               StatusDecoding,
	StatusDecoding:          StatusAwaitingSelection,
	StatusAwaitingSelection: StatusBuilding,
	StatusBuilding:          StatusEncoding,
	StatusEncoding:          StatusReady,
	StatusReady:             StatusDelivered,
}

// CanAdvance reports whether to is the next forward state after from.
func CanAdvance(from, to RequestStatus) bool {
	return forwardTransitions[from] == to
}

// InFlight reports whether a request in this status has a pipeline stage running.
func (s RequestStatus) InFlight() bool {
	switch s {
	case StatusDecoding, StatusBuilding, StatusEncoding:
		return true
	}
	return false
}

// Terminal reports whether no further pipeline work is possible without a reopen.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusClosed:
		return true
	}
	return false
}

// SlaveJobStatus represents the stage of a decode/encode round trip.
type SlaveJobStatus string

const (
	// JobCreated represents a job that has not contacted the vendor yet
	JobCreated SlaveJobStatus = "created"
	// JobUploading represents a job streaming its file to the vendor
	JobUploading SlaveJobStatus = "uploading"
	// JobPolling represents a job waiting on a vendor-side async operation
	JobPolling SlaveJobStatus = "polling"
	// JobDownloading represents a job fetching the vendor's result payload
	JobDownloading SlaveJobStatus = "downloading"
	// JobSlotClosing represents a job closing its vendor-side file slot
	JobSlotClosing SlaveJobStatus = "slot_closing"
	// JobCompleted represents a successfully finished job
	JobCompleted SlaveJobStatus = "completed"
	// JobFailed represents a job that ended with an unrecoverable error
	JobFailed SlaveJobStatus = "failed"
)

// TenantTier represents a tenant's service tier for API rate limiting.
type TenantTier string

const (
	// TierStandard is the default tier
	TierStandard TenantTier = "standard"
	// TierPro is the paid tier with higher rate limits
	TierPro TenantTier = "pro"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
