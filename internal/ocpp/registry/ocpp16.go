package registry

import (
	"github.com/charging-platform/charge-point-gateway/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-gateway/internal/domain/protocol"
)

// NewOCPP16 builds the MessageRegistry for OCPP 1.6-J's Core Profile
// actions, grounded on the request/response structs the teacher already
// defines in internal/domain/ocpp16. Actions of the other 1.6 profiles
// (Firmware Management, Local Auth List, Reservation, Smart Charging,
// Trigger Message) are not bound.
func NewOCPP16() *Registry {
	return New(protocol.OCPP_VERSION_1_6, []ActionBinding{
		bind("BootNotification", ocpp16.BootNotificationRequest{}, ocpp16.BootNotificationResponse{}),
		bind("Heartbeat", ocpp16.HeartbeatRequest{}, ocpp16.HeartbeatResponse{}),
		bind("StatusNotification", ocpp16.StatusNotificationRequest{}, ocpp16.StatusNotificationResponse{}),
		bind("Authorize", ocpp16.AuthorizeRequest{}, ocpp16.AuthorizeResponse{}),
		bind("StartTransaction", ocpp16.StartTransactionRequest{}, ocpp16.StartTransactionResponse{}),
		bind("StopTransaction", ocpp16.StopTransactionRequest{}, ocpp16.StopTransactionResponse{}),
		bind("MeterValues", ocpp16.MeterValuesRequest{}, ocpp16.MeterValuesResponse{}),
		bind("DataTransfer", ocpp16.DataTransferRequest{}, ocpp16.DataTransferResponse{}),
		bind("Reset", ocpp16.ResetRequest{}, ocpp16.ResetResponse{}),
		bind("ChangeAvailability", ocpp16.ChangeAvailabilityRequest{}, ocpp16.ChangeAvailabilityResponse{}),
		bind("GetConfiguration", ocpp16.GetConfigurationRequest{}, ocpp16.GetConfigurationResponse{}),
		bind("ChangeConfiguration", ocpp16.ChangeConfigurationRequest{}, ocpp16.ChangeConfigurationResponse{}),
		bind("ClearCache", ocpp16.ClearCacheRequest{}, ocpp16.ClearCacheResponse{}),
		bind("UnlockConnector", ocpp16.UnlockConnectorRequest{}, ocpp16.UnlockConnectorResponse{}),
		bind("RemoteStartTransaction", ocpp16.RemoteStartTransactionRequest{}, ocpp16.RemoteStartTransactionResponse{}),
		bind("RemoteStopTransaction", ocpp16.RemoteStopTransactionRequest{}, ocpp16.RemoteStopTransactionResponse{}),
	})
}

func bind(action string, req, resp interface{}) ActionBinding {
	return ActionBinding{
		Action:            action,
		RequestConverter:  NewConverter(req),
		ResponseConverter: NewConverter(resp),
	}
}
