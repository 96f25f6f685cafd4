// Package ocpp201 holds the subset of the OCPP 2.0.1 action surface this
// stack supplements beyond the 1.6 Core Profile: device-model variable
// access, monitoring, security events, and the ISO 15118 certificate
// management messages OCPP tunnels transparently.
package ocpp201

import "encoding/json"

// GenericStatus is the two-valued accept/reject enum reused by several
// 2.0.1 responses.
type GenericStatus string

const (
	GenericStatusAccepted GenericStatus = "Accepted"
	GenericStatusRejected GenericStatus = "Rejected"
)

// GenericDeviceModelStatus covers GetVariables/SetVariables per-item
// result codes.
type GenericDeviceModelStatus string

const (
	DeviceModelStatusAccepted       GenericDeviceModelStatus = "Accepted"
	DeviceModelStatusRejected       GenericDeviceModelStatus = "Rejected"
	DeviceModelStatusUnknownComponent GenericDeviceModelStatus = "UnknownComponent"
	DeviceModelStatusUnknownVariable GenericDeviceModelStatus = "UnknownVariable"
	DeviceModelStatusNotSupportedAttributeType GenericDeviceModelStatus = "NotSupportedAttributeType"
)

// Component and Variable identify a point in the 2.0.1 device model.
type Component struct {
	Name     string  `json:"name" validate:"required,max=50"`
	Instance *string `json:"instance,omitempty" validate:"omitempty,max=50"`
}

type Variable struct {
	Name     string  `json:"name" validate:"required,max=50"`
	Instance *string `json:"instance,omitempty" validate:"omitempty,max=50"`
}

// GetVariablesRequest / GetVariablesResponse ------------------------------

type GetVariableDatum struct {
	Component    Component `json:"component" validate:"required"`
	Variable     Variable  `json:"variable" validate:"required"`
	AttributeType *string  `json:"attributeType,omitempty"`
}

type GetVariablesRequest struct {
	GetVariableData []GetVariableDatum `json:"getVariableData" validate:"required,min=1"`
}

type GetVariableResult struct {
	AttributeStatus GenericDeviceModelStatus `json:"attributeStatus" validate:"required"`
	Component       Component                `json:"component" validate:"required"`
	Variable        Variable                 `json:"variable" validate:"required"`
	AttributeValue  *string                  `json:"attributeValue,omitempty"`
}

type GetVariablesResponse struct {
	GetVariableResult []GetVariableResult `json:"getVariableResult" validate:"required,min=1"`
}

// SetVariablesRequest / SetVariablesResponse ------------------------------

type SetVariableDatum struct {
	Component      Component `json:"component" validate:"required"`
	Variable       Variable  `json:"variable" validate:"required"`
	AttributeValue string    `json:"attributeValue" validate:"required"`
}

type SetVariablesRequest struct {
	SetVariableData []SetVariableDatum `json:"setVariableData" validate:"required,min=1"`
}

type SetVariableResult struct {
	AttributeStatus GenericDeviceModelStatus `json:"attributeStatus" validate:"required"`
	Component       Component                `json:"component" validate:"required"`
	Variable        Variable                 `json:"variable" validate:"required"`
}

type SetVariablesResponse struct {
	SetVariableResult []SetVariableResult `json:"setVariableResult" validate:"required,min=1"`
}

// NotifyReportRequest ------------------------------------------------------

type ReportDatum struct {
	Component Component `json:"component" validate:"required"`
	Variable  Variable  `json:"variable" validate:"required"`
}

type NotifyReportRequest struct {
	RequestID int           `json:"requestId" validate:"required"`
	GeneratedAt string      `json:"generatedAt" validate:"required,ocpp_datetime"`
	SeqNo     int           `json:"seqNo" validate:"required"`
	TBC       *bool         `json:"tbc,omitempty"`
	ReportData []ReportDatum `json:"reportData" validate:"required,min=1"`
}

type NotifyReportResponse struct{}

// ClearVariableMonitoring: the spec's Open Question requires this split
// cleanly into two independent converter pairs, never a shared struct.

type ClearVariableMonitoringRequest struct {
	ID []int `json:"id" validate:"required,min=1"`
}

type ClearMonitoringResult struct {
	ID     int                      `json:"id" validate:"required"`
	Status GenericDeviceModelStatus `json:"status" validate:"required"`
}

type ClearVariableMonitoringResponse struct {
	ClearMonitoringResult []ClearMonitoringResult `json:"clearMonitoringResult" validate:"required,min=1"`
}

// SetVariableMonitoringRequest / Response ----------------------------------

// MonitorType enumerates the 2.0.1 variable-monitor kinds.
type MonitorType string

const (
	MonitorTypeUpperThreshold MonitorType = "UpperThreshold"
	MonitorTypeLowerThreshold MonitorType = "LowerThreshold"
	MonitorTypeDelta          MonitorType = "Delta"
	MonitorTypePeriodic       MonitorType = "Periodic"
	MonitorTypePeriodicClockAligned MonitorType = "PeriodicClockAligned"
)

type SetMonitoringDatum struct {
	ID        *int        `json:"id,omitempty"`
	Transaction *bool     `json:"transaction,omitempty"`
	Value     float64     `json:"value" validate:"required"`
	Type      MonitorType `json:"type" validate:"required"`
	Severity  int         `json:"severity" validate:"required,min=0,max=9"`
	Component Component   `json:"component" validate:"required"`
	Variable  Variable    `json:"variable" validate:"required"`
}

type SetVariableMonitoringRequest struct {
	SetMonitoringData []SetMonitoringDatum `json:"setMonitoringData" validate:"required,min=1"`
}

type SetMonitoringResult struct {
	ID        int                      `json:"id" validate:"required"`
	Status    GenericDeviceModelStatus `json:"status" validate:"required"`
	Type      MonitorType              `json:"type" validate:"required"`
	Severity  int                      `json:"severity" validate:"required"`
	Component Component                `json:"component" validate:"required"`
	Variable  Variable                 `json:"variable" validate:"required"`
}

type SetVariableMonitoringResponse struct {
	SetMonitoringResult []SetMonitoringResult `json:"setMonitoringResult" validate:"required,min=1"`
}

// SecurityEventNotificationRequest ----------------------------------------

type SecurityEventNotificationRequest struct {
	Type      string  `json:"type" validate:"required,max=50"`
	Timestamp string  `json:"timestamp" validate:"required,ocpp_datetime"`
	TechInfo  *string `json:"techInfo,omitempty" validate:"omitempty,max=255"`
}

type SecurityEventNotificationResponse struct{}

// CertificateSignedRequest / Response --------------------------------------

type CertificateSignedRequest struct {
	CertificateChain string  `json:"certificateChain" validate:"required"`
	CertificateType  *string `json:"certificateType,omitempty"`
}

type CertificateSignedStatus string

const (
	CertificateSignedStatusAccepted CertificateSignedStatus = "Accepted"
	CertificateSignedStatusRejected CertificateSignedStatus = "Rejected"
)

type CertificateSignedResponse struct {
	Status CertificateSignedStatus `json:"status" validate:"required"`
}

// Get15118EVCertificateRequest / Response (ISO 15118 tunnelled message) ----

type CertificateActionEnum string

const (
	CertificateActionInstall CertificateActionEnum = "Install"
	CertificateActionUpdate  CertificateActionEnum = "Update"
)

type Get15118EVCertificateRequest struct {
	ISO15118SchemaVersion string                `json:"iso15118SchemaVersion" validate:"required"`
	Action                CertificateActionEnum `json:"action" validate:"required"`
	ExiRequest            string                `json:"exiRequest" validate:"required"`
}

type Iso15118EVCertificateStatus string

const (
	Iso15118EVCertificateStatusAccepted Iso15118EVCertificateStatus = "Accepted"
	Iso15118EVCertificateStatusFailed   Iso15118EVCertificateStatus = "Failed"
)

type Get15118EVCertificateResponse struct {
	Status     Iso15118EVCertificateStatus `json:"status" validate:"required"`
	ExiResponse *string                    `json:"exiResponse,omitempty"`
}

// GetCertificateStatusRequest / Response -----------------------------------
//
// Resolves the spec's first Open Question: GetCertificateStatusResponse.Status
// of Accepted means the OCSP status was retrieved successfully. The 2.0.1
// registry binding only decodes and encodes this pair; it logs nothing,
// on success or otherwise.

type OCSPRequestDataType struct {
	HashAlgorithm  string `json:"hashAlgorithm" validate:"required"`
	IssuerNameHash string `json:"issuerNameHash" validate:"required"`
	IssuerKeyHash  string `json:"issuerKeyHash" validate:"required"`
	SerialNumber   string `json:"serialNumber" validate:"required"`
	ResponderURL   string `json:"responderURL" validate:"required"`
}

type GetCertificateStatusRequest struct {
	OCSPRequestData OCSPRequestDataType `json:"ocspRequestData" validate:"required"`
}

type GetCertificateStatusResponse struct {
	Status   GenericStatus `json:"status" validate:"required"`
	OCSPResult *string     `json:"ocspResult,omitempty"`
}

// RawPayload is used by converters that pass a document through without
// a typed Go shape (none currently, kept for registry symmetry/tests).
type RawPayload = json.RawMessage
