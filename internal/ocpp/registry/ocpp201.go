package registry

import (
	"github.com/charging-platform/charge-point-gateway/internal/domain/ocpp201"
	"github.com/charging-platform/charge-point-gateway/internal/domain/protocol"
)

// NewOCPP201 builds the MessageRegistry for the 2.0.1 actions this stack
// supplements beyond the distilled core (device-model variables,
// monitoring, security events, ISO 15118 certificate management). Per
// the spec's Open Question on ClearVariableMonitoring, request and
// response are bound as two independent converter pairs sharing only an
// action name, never a single struct.
func NewOCPP201() *Registry {
	return New(protocol.OCPP_VERSION_2_0_1, []ActionBinding{
		bind("GetVariables", ocpp201.GetVariablesRequest{}, ocpp201.GetVariablesResponse{}),
		bind("SetVariables", ocpp201.SetVariablesRequest{}, ocpp201.SetVariablesResponse{}),
		bind("NotifyReport", ocpp201.NotifyReportRequest{}, ocpp201.NotifyReportResponse{}),
		bind("ClearVariableMonitoring", ocpp201.ClearVariableMonitoringRequest{}, ocpp201.ClearVariableMonitoringResponse{}),
		bind("SetVariableMonitoring", ocpp201.SetVariableMonitoringRequest{}, ocpp201.SetVariableMonitoringResponse{}),
		bind("SecurityEventNotification", ocpp201.SecurityEventNotificationRequest{}, ocpp201.SecurityEventNotificationResponse{}),
		bind("CertificateSigned", ocpp201.CertificateSignedRequest{}, ocpp201.CertificateSignedResponse{}),
		bind("Get15118EVCertificate", ocpp201.Get15118EVCertificateRequest{}, ocpp201.Get15118EVCertificateResponse{}),
		bind("GetCertificateStatus", ocpp201.GetCertificateStatusRequest{}, ocpp201.GetCertificateStatusResponse{}),
	})
}
