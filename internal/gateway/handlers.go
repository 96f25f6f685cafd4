package gateway

import (
	"context"
	"time"

	"github.com/charging-platform/charge-point-gateway/internal/business/chargepoint"
	"github.com/charging-platform/charge-point-gateway/internal/business/transaction"
	"github.com/charging-platform/charge-point-gateway/internal/cache"
	"github.com/charging-platform/charge-point-gateway/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-gateway/internal/domain/protocol"
)

// AuthorizationCache memoizes recent idTag authorization decisions
// against a backing LRU cache, the hot-path local-authorization-list
// a central system consults before falling back to its full
// authorization service on every Authorize/StartTransaction.
type AuthorizationCache struct {
	backing *cache.LRUCache
	ttl     time.Duration
}

// NewAuthorizationCache builds an AuthorizationCache over backing,
// caching decisions for ttl.
func NewAuthorizationCache(backing *cache.LRUCache, ttl time.Duration) *AuthorizationCache {
	return &AuthorizationCache{backing: backing, ttl: ttl}
}

func (a *AuthorizationCache) lookup(idTag string) (ocpp16.AuthorizationStatus, bool) {
	if a == nil || a.backing == nil {
		return "", false
	}
	v, ok := a.backing.Get(idTag)
	if !ok {
		return "", false
	}
	status, ok := v.(ocpp16.AuthorizationStatus)
	return status, ok
}

func (a *AuthorizationCache) store(idTag string, status ocpp16.AuthorizationStatus) {
	if a == nil || a.backing == nil {
		return
	}
	_ = a.backing.Set(idTag, status, a.ttl)
}

// RegisterOCPP16CoreHandlers binds the Core profile's Central System
// operations to cpManager, the same adapt-and-reuse split the teacher
// draws between a thin protocol handler and the business-layer Manager
// it calls into. authCache may be nil, in which case every idTag is
// authorized without memoization. txManager may be nil, in which case
// no billing record is kept alongside the protocol-level transaction.
func RegisterOCPP16CoreHandlers(router *Router, cpManager *chargepoint.Manager, authCache *AuthorizationCache, txManager *transaction.Manager) {
	version := protocol.OCPP_VERSION_1_6
	converter := NewUnifiedModelConverter(nil)

	router.Handle(version, "BootNotification", func(ctx context.Context, chargePointID string, request interface{}) (interface{}, error) {
		req := request.(*ocpp16.BootNotificationRequest)
		_, err := cpManager.RegisterChargePoint(req, chargePointID)
		if err != nil {
			return nil, err
		}
		return ocpp16.BootNotificationResponse{
			Status:      ocpp16.RegistrationStatusAccepted,
			CurrentTime: ocpp16.DateTime{Time: time.Now()},
			Interval:    300,
		}, nil
	})

	router.Handle(version, "Heartbeat", func(ctx context.Context, chargePointID string, request interface{}) (interface{}, error) {
		if err := cpManager.UpdateHeartbeat(chargePointID); err != nil {
			return nil, err
		}
		return ocpp16.HeartbeatResponse{CurrentTime: ocpp16.DateTime{Time: time.Now()}}, nil
	})

	router.Handle(version, "StatusNotification", func(ctx context.Context, chargePointID string, request interface{}) (interface{}, error) {
		req := request.(*ocpp16.StatusNotificationRequest)
		if err := cpManager.UpdateConnectorStatus(req, chargePointID); err != nil {
			return nil, err
		}
		return ocpp16.StatusNotificationResponse{}, nil
	})

	router.Handle(version, "Authorize", func(ctx context.Context, chargePointID string, request interface{}) (interface{}, error) {
		req := request.(*ocpp16.AuthorizeRequest)
		status, ok := authCache.lookup(req.IdTag)
		if !ok {
			status = ocpp16.AuthorizationStatusAccepted
			authCache.store(req.IdTag, status)
		}
		return ocpp16.AuthorizeResponse{IdTagInfo: ocpp16.IdTagInfo{Status: status}}, nil
	})

	router.Handle(version, "StartTransaction", func(ctx context.Context, chargePointID string, request interface{}) (interface{}, error) {
		req := request.(*ocpp16.StartTransactionRequest)
		status, ok := authCache.lookup(req.IdTag)
		if !ok {
			status = ocpp16.AuthorizationStatusAccepted
			authCache.store(req.IdTag, status)
		}
		tx, err := cpManager.StartTransaction(req, chargePointID)
		if err != nil {
			return nil, err
		}
		if txManager != nil {
			if _, err := txManager.StartTransaction(&transaction.StartTransactionRequest{
				ChargePointID: chargePointID,
				ConnectorID:   req.ConnectorId,
				IdTag:         req.IdTag,
				MeterStart:    req.MeterStart,
				TransactionID: tx.ID,
			}); err != nil && router.logger != nil {
				router.logger.Warnf("billing: start transaction %d for %s failed: %v", tx.ID, chargePointID, err)
			}
		}
		return ocpp16.StartTransactionResponse{
			IdTagInfo:     ocpp16.IdTagInfo{Status: status},
			TransactionId: tx.ID,
		}, nil
	})

	router.Handle(version, "StopTransaction", func(ctx context.Context, chargePointID string, request interface{}) (interface{}, error) {
		req := request.(*ocpp16.StopTransactionRequest)
		if err := cpManager.StopTransaction(req, chargePointID); err != nil {
			return nil, err
		}
		if txManager != nil {
			if err := txManager.StopTransaction(&transaction.StopTransactionRequest{
				TransactionID: req.TransactionId,
				MeterStop:     req.MeterStop,
				Reason:        req.Reason,
			}); err != nil && router.logger != nil {
				router.logger.Warnf("billing: stop transaction %d failed: %v", req.TransactionId, err)
			}
		}
		return ocpp16.StopTransactionResponse{
			IdTagInfo: &ocpp16.IdTagInfo{Status: ocpp16.AuthorizationStatusAccepted},
		}, nil
	})

	router.Handle(version, "MeterValues", func(ctx context.Context, chargePointID string, request interface{}) (interface{}, error) {
		req := request.(*ocpp16.MeterValuesRequest)
		event, err := converter.ConvertMeterValues(chargePointID, req)
		if err != nil {
			if router.logger != nil {
				router.logger.Warnf("failed to convert meter values for %s: %v", chargePointID, err)
			}
			return ocpp16.MeterValuesResponse{}, nil
		}
		cpManager.PublishEvent(event)
		return ocpp16.MeterValuesResponse{}, nil
	})
}
