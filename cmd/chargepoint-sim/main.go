package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charging-platform/charge-point-gateway/internal/chargepoint/fsm"
	"github.com/charging-platform/charge-point-gateway/internal/chargepoint/transport"
	"github.com/charging-platform/charge-point-gateway/internal/config"
	"github.com/charging-platform/charge-point-gateway/internal/domain/ocpp16"
	"github.com/charging-platform/charge-point-gateway/internal/logger"
	"github.com/charging-platform/charge-point-gateway/internal/sched"
	"github.com/charging-platform/charge-point-gateway/internal/security"
	"github.com/charging-platform/charge-point-gateway/internal/store/fifo"
	"github.com/charging-platform/charge-point-gateway/internal/store/kv"
)

// chargepoint-sim drives a single simulated OCPP 1.6-J charge point
// against a central system: boot, heartbeat, and a looping
// Available -> Preparing -> Charging -> Finishing -> Available cycle
// with StatusNotification/StartTransaction/MeterValues/StopTransaction
// traffic, all routed through the same SessionFsm the real
// charge-point firmware would use.
func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output, Async: cfg.Log.Async})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	chargePointID := cfg.ChargePoint.ID
	if chargePointID == "" {
		chargePointID = fmt.Sprintf("CP-SIM-%d", os.Getpid())
	}

	// 3. 本地持久化：与网关共享同一套 Postgres 支撑的 InternalKvStore /
	// RequestFifo 实现，离线期间的状态与待重放请求落盘在这里。
	kvStore, err := kv.New(ctx, kv.Config{DSN: cfg.Store.DSN, MaxOpenConns: cfg.Store.MaxOpenConns, MaxIdleConns: cfg.Store.MaxIdleConns}, log)
	if err != nil {
		log.Fatalf("Failed to initialize internal kv store: %v", err)
	}
	log.Info("Internal kv store initialized")

	fifoStore, err := fifo.New(ctx, fifo.Config{
		DSN: cfg.Store.DSN, MaxOpenConns: cfg.Store.MaxOpenConns, MaxIdleConns: cfg.Store.MaxIdleConns,
		MaxPerConnector: cfg.Store.MaxPerConnector, DefaultPolicy: fifo.OverflowReject,
		PolicyByAction: map[string]fifo.OverflowPolicy{
			"MeterValues":        fifo.OverflowDropOldest,
			"StatusNotification": fifo.OverflowDropOldest,
		},
	}, log)
	if err != nil {
		log.Fatalf("Failed to initialize request fifo store: %v", err)
	}
	log.Info("Request fifo store initialized")

	// 4. 安全凭据来源：与网关相同的 Profile 解析器，对称地从同一 Vault
	// 或文件来源取得凭据，确保模拟器与真实桩走同一条认证路径。
	var credSource security.CredentialSource
	if cfg.Security.Vault.Enabled {
		credSource, err = security.NewVaultCredentialSource(cfg.Security.Vault)
		if err != nil {
			log.Fatalf("Failed to initialize Vault credential source: %v", err)
		}
	} else {
		credSource = security.NewFileCredentialSource(cfg.Security)
	}
	secResolver := security.New(cfg.Security, credSource)

	// 5. 调度设施
	timerPool := sched.NewTimerPool()
	workerPool := sched.NewWorkerPool(4, 16)

	// 6. SessionFsm
	connectorIDs := []int{1}
	heartbeatInterval := cfg.ChargePoint.HeartbeatInterval
	if heartbeatInterval == 0 {
		heartbeatInterval = 300 * time.Second
	}
	bootRetryInterval := cfg.ChargePoint.BootRetryInterval
	if bootRetryInterval == 0 {
		bootRetryInterval = 10 * time.Second
	}
	callTimeout := cfg.ChargePoint.CallTimeout
	if callTimeout == 0 {
		callTimeout = 30 * time.Second
	}

	sessionFsm := fsm.New(fsm.Config{
		ChargePointID:      chargePointID,
		CentralSystemURL:   cfg.ChargePoint.CentralSystemURL,
		Subprotocol:        "ocpp1.6",
		ConnectorIDs:       connectorIDs,
		Dialer:             transport.NewWebSocketDialer(cfg.ChargePoint.ConnectionTimeout),
		Security:           secResolver,
		Profile:            security.Profile(cfg.Security.Profile),
		KV:                 kvStore,
		FIFO:               fifoStore,
		TimerPool:          timerPool,
		WorkerPool:         workerPool,
		Logger:             log,
		HeartbeatFallback:  heartbeatInterval,
		BootRetryFallback:  bootRetryInterval,
		MaxBootRetries:     cfg.ChargePoint.MaxBootRetries,
		CallTimeout:        callTimeout,
		UptimePersistTicks: cfg.ChargePoint.UptimePersistTicks,
	})

	if err := sessionFsm.Start(ctx, fsm.BootInfo{
		ChargePointVendor:       "JamzYang-sim",
		ChargePointModel:        "sim-1",
		ChargePointSerialNumber: chargePointID,
		FirmwareVersion:         "0.1.0",
	}); err != nil {
		log.Fatalf("Failed to start session fsm: %v", err)
	}
	log.Infof("Charge point simulator %s dialing %s", chargePointID, cfg.ChargePoint.CentralSystemURL)

	// 7. 充电循环：每个连接器独立地在 Available -> Preparing -> Charging
	// -> Finishing -> Available 之间循环，驱动 StatusNotification /
	// StartTransaction / MeterValues / StopTransaction 流量。
	for _, connectorID := range connectorIDs {
		go runChargeCycle(ctx, sessionFsm, connectorID, log)
	}

	// 8. 优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down charge point simulator...")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := sessionFsm.Stop(stopCtx); err != nil {
		log.Errorf("Error stopping session fsm: %v", err)
	}

	workerPool.Stop()
	timerPool.Stop()
	if err := fifoStore.Close(); err != nil {
		log.Errorf("Error closing request fifo store: %v", err)
	}
	if err := kvStore.Close(); err != nil {
		log.Errorf("Error closing internal kv store: %v", err)
	}
	log.Info("Charge point simulator gracefully stopped.")
}

// runChargeCycle drives one connector through charge sessions back to
// back (fixed pauses between steps, 10s idle after each session),
// stopping when ctx is cancelled.
func runChargeCycle(ctx context.Context, f *fsm.Fsm, connectorID int, log *logger.Logger) {
	idTag := fmt.Sprintf("TAG-%d", connectorID)
	meterStart := rand.Intn(1000)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sendStatus(ctx, f, connectorID, ocpp16.ChargePointStatusPreparing, log)
		sleep(ctx, 2*time.Second)

		txID, ok := startTransaction(ctx, f, connectorID, idTag, meterStart, log)
		if !ok {
			sleep(ctx, 5*time.Second)
			continue
		}
		sendStatus(ctx, f, connectorID, ocpp16.ChargePointStatusCharging, log)

		meterNow := meterStart
		for i := 0; i < 3; i++ {
			sleep(ctx, 5*time.Second)
			meterNow += 100 + rand.Intn(50)
			sendMeterValues(ctx, f, connectorID, txID, meterNow, log)
		}

		sendStatus(ctx, f, connectorID, ocpp16.ChargePointStatusFinishing, log)
		stopTransaction(ctx, f, txID, meterNow, log)
		meterStart = meterNow

		sendStatus(ctx, f, connectorID, ocpp16.ChargePointStatusAvailable, log)
		sleep(ctx, 10*time.Second)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func sendStatus(ctx context.Context, f *fsm.Fsm, connectorID int, status ocpp16.ChargePointStatus, log *logger.Logger) {
	req := ocpp16.StatusNotificationRequest{
		ConnectorId: connectorID,
		ErrorCode:   ocpp16.ChargePointErrorCodeNoError,
		Status:      status,
		Timestamp:   &ocpp16.DateTime{Time: time.Now()},
	}
	if err := f.SendOrQueue(ctx, connectorID, string(ocpp16.ActionStatusNotification), req); err != nil {
		log.Warnf("connector %d: status notification (%s) failed: %v", connectorID, status, err)
	}
}

func startTransaction(ctx context.Context, f *fsm.Fsm, connectorID int, idTag string, meterStart int, log *logger.Logger) (int, bool) {
	req := ocpp16.StartTransactionRequest{
		ConnectorId: connectorID,
		IdTag:       idTag,
		MeterStart:  meterStart,
		Timestamp:   ocpp16.DateTime{Time: time.Now()},
	}
	raw, err := f.Call(ctx, string(ocpp16.ActionStartTransaction), req)
	if err != nil {
		log.Warnf("connector %d: start transaction failed: %v", connectorID, err)
		return 0, false
	}
	var resp ocpp16.StartTransactionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Warnf("connector %d: decode start transaction response failed: %v", connectorID, err)
		return 0, false
	}
	return resp.TransactionId, true
}

func stopTransaction(ctx context.Context, f *fsm.Fsm, transactionID, meterStop int, log *logger.Logger) {
	req := ocpp16.StopTransactionRequest{
		MeterStop:     meterStop,
		Timestamp:     ocpp16.DateTime{Time: time.Now()},
		TransactionId: transactionID,
	}
	if _, err := f.Call(ctx, string(ocpp16.ActionStopTransaction), req); err != nil {
		log.Warnf("transaction %d: stop transaction failed: %v", transactionID, err)
	}
}

func sendMeterValues(ctx context.Context, f *fsm.Fsm, connectorID, transactionID, meterValue int, log *logger.Logger) {
	txID := transactionID
	req := ocpp16.MeterValuesRequest{
		ConnectorId:   connectorID,
		TransactionId: &txID,
		MeterValue: []ocpp16.MeterValue{{
			Timestamp:    ocpp16.DateTime{Time: time.Now()},
			SampledValue: []ocpp16.SampledValue{{Value: fmt.Sprintf("%d", meterValue)}},
		}},
	}
	if err := f.SendOrQueue(ctx, connectorID, string(ocpp16.ActionMeterValues), req); err != nil {
		log.Warnf("connector %d: meter values failed: %v", connectorID, err)
	}
}
