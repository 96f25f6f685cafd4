package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charging-platform/charge-point-gateway/internal/business/chargepoint"
	"github.com/charging-platform/charge-point-gateway/internal/business/transaction"
	"github.com/charging-platform/charge-point-gateway/internal/cache"
	"github.com/charging-platform/charge-point-gateway/internal/config"
	"github.com/charging-platform/charge-point-gateway/internal/domain/events"
	"github.com/charging-platform/charge-point-gateway/internal/domain/protocol"
	"github.com/charging-platform/charge-point-gateway/internal/gateway"
	"github.com/charging-platform/charge-point-gateway/internal/gateway/session"
	"github.com/charging-platform/charge-point-gateway/internal/logger"
	"github.com/charging-platform/charge-point-gateway/internal/message"
	"github.com/charging-platform/charge-point-gateway/internal/metrics"
	"github.com/charging-platform/charge-point-gateway/internal/ocpp/registry"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/endpoint"
	"github.com/charging-platform/charge-point-gateway/internal/rpc/schema"
	"github.com/charging-platform/charge-point-gateway/internal/sched"
	"github.com/charging-platform/charge-point-gateway/internal/security"
	"github.com/charging-platform/charge-point-gateway/internal/storage"
	"github.com/charging-platform/charge-point-gateway/internal/store/fifo"
	"github.com/charging-platform/charge-point-gateway/internal/store/kv"
	"github.com/charging-platform/charge-point-gateway/internal/transport/server"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Async:  cfg.Log.Async,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Info("Logger initialized")

	ctx := context.Background()

	// 3. 初始化内部存储：InternalKvStore + RequestFifo（Postgres）
	kvStore, err := kv.New(ctx, kv.Config{
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		MaxIdleConns: cfg.Store.MaxIdleConns,
	}, log)
	if err != nil {
		log.Fatalf("Failed to initialize internal kv store: %v", err)
	}
	log.Info("Internal kv store initialized")

	fifoStore, err := fifo.New(ctx, fifo.Config{
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		MaxPerConnector: cfg.Store.MaxPerConnector,
		DefaultPolicy:   fifo.OverflowReject,
		PolicyByAction: map[string]fifo.OverflowPolicy{
			"MeterValues":        fifo.OverflowDropOldest,
			"StatusNotification": fifo.OverflowDropOldest,
		},
	}, log)
	if err != nil {
		log.Fatalf("Failed to initialize request fifo store: %v", err)
	}
	log.Info("Request fifo store initialized")

	// 4. 初始化 Kafka 生产者/消费者（与 teacher 保持一致的上下行事件总线）
	producer, err := message.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.UpstreamTopic, cfg.PodID)
	if err != nil {
		log.Fatalf("Failed to initialize Kafka producer: %v", err)
	}
	log.Info("Kafka producer initialized")

	consumer, err := message.NewKafkaConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.DownstreamTopic, cfg.PodID, cfg.Kafka.PartitionNum, log)
	if err != nil {
		log.Fatalf("Failed to initialize Kafka consumer: %v", err)
	}
	log.Infof("Kafka consumer initialized with brokers: %v, group: %s", cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup)

	// 5. 安全配置解析器：文件或 Vault 凭据来源
	var credSource security.CredentialSource
	if cfg.Security.Vault.Enabled {
		credSource, err = security.NewVaultCredentialSource(cfg.Security.Vault)
		if err != nil {
			log.Fatalf("Failed to initialize Vault credential source: %v", err)
		}
		log.Info("Security resolver using Vault credential source")
	} else {
		credSource = security.NewFileCredentialSource(cfg.Security)
		log.Info("Security resolver using file credential source")
	}
	secResolver := security.New(cfg.Security, credSource)

	// 5b. 连接归属存储：充电桩ID到本 Pod 的映射，供下行指令做归属校验
	connStorage, err := storage.NewRedisStorage(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to initialize connection storage: %v", err)
	}
	log.Info("Connection storage initialized")

	// 5c. 授权热点缓存：Authorize/StartTransaction 的 idTag 决策缓存
	authLRU := cache.NewLRUCache(&cache.CacheConfig{
		Capacity:        cfg.Cache.MaxSize,
		ShardCount:      32,
		MaxSize:         int64(cfg.Cache.MaxSize),
		MemoryLimitMB:   int64(cfg.Cache.MemoryLimitMB),
		DefaultTTL:      cfg.Cache.TTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
		EvictionBatch:   100,
		EnableMetrics:   true,
	})
	if err := authLRU.Start(); err != nil {
		log.Fatalf("Failed to start authorization cache: %v", err)
	}
	authCache := gateway.NewAuthorizationCache(authLRU, cfg.Cache.TTL)
	log.Info("Authorization cache initialized")

	// 6. MessageRegistry：1.6 核心 + 2.0.1 补充
	registrySet := registry.NewSet()
	registrySet.Register(protocol.OCPP_VERSION_1_6, registry.NewOCPP16())
	registrySet.Register(protocol.OCPP_VERSION_2_0_1, registry.NewOCPP201())
	log.Info("Message registry initialized for ocpp1.6 and ocpp2.0.1")

	// 7. 调度设施：TimerPool + WorkerPool，供每条连接的 Endpoint 复用
	timerPool := sched.NewTimerPool()
	workerPool := sched.NewWorkerPool(cfg.OCPP.WorkerCount, cfg.OCPP.WorkerCount*4)

	// 8. Router：取代旧的 DefaultMessageDispatcher，按 (version, action) 分派
	router := gateway.NewRouter(gateway.RouterConfig{
		Registries:      registrySet,
		Validator:       schema.New(),
		EventBufferSize: cfg.EventChannels.BufferSize,
		Logger:          log,
	})

	// 9. 业务层：充电桩/连接器/交易状态机，承接 Router 派发的 Core 动作
	cpManagerConfig := chargepoint.DefaultManagerConfig()
	cpManagerConfig.EventChannelSize = cfg.EventChannels.BufferSize
	cpManager := chargepoint.NewManager(router, cpManagerConfig)

	// 9b. 计费/授权层：与 cpManager 并行记账，通过共享的交易ID避免两套编号分叉
	txManager := transaction.NewManager(cpManager, transaction.DefaultManagerConfig())
	if err := txManager.Start(); err != nil {
		log.Fatalf("Failed to start transaction manager: %v", err)
	}
	log.Info("Transaction manager started")

	gateway.RegisterOCPP16CoreHandlers(router, cpManager, authCache, txManager)
	if err := cpManager.Start(); err != nil {
		log.Fatalf("Failed to start charge point manager: %v", err)
	}
	log.Info("Charge point manager started and core handlers registered")

	// 10. ServerSession：按充电桩ID承接 WebSocket 连接，替换旧连接语义
	sessionManager := session.NewManager(session.Config{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:    cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:   cfg.WebSocket.WriteBufferSize,
			HandshakeTimeout:  cfg.WebSocket.HandshakeTimeout,
			EnableCompression: cfg.WebSocket.EnableCompression,
			Subprotocols:      protocol.GetSupportedVersions(),
			CheckOrigin: func(r *http.Request) bool {
				if !cfg.WebSocket.CheckOrigin {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.WebSocket.AllowedOrigins {
					if allowed == origin {
						return true
					}
				}
				return false
			},
		},
		ReadTimeout:    cfg.Server.ReadTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		PingInterval:   cfg.WebSocket.PingInterval,
		TimerPool:      timerPool,
		WorkerPool:     workerPool,
		Logger:         log,
		AcceptConnection: func(ctx context.Context, remoteAddr string) session.AcceptDecision {
			return session.AcceptDecision{Allow: true}
		},
		CheckCredentials: func(ctx context.Context, chargePointID, password string) bool {
			if cfg.Security.Profile == int(security.ProfileTLSClientCertAuth) {
				return true // mutual TLS alone authenticates; no Basic Auth expected
			}
			creds, err := secResolver.CredentialsFor(ctx, security.Profile(cfg.Security.Profile))
			if err != nil {
				log.Errorf("Failed to resolve credentials for profile %d: %v", cfg.Security.Profile, err)
				return false
			}
			if !creds.RequiresBasic {
				return true
			}
			return password == creds.BasicAuthPassword
		},
		OnClientConnected: func(s *session.Session) {
			log.Infof("Charge point %s connected (protocol %s, from %s)", s.ChargePointID, s.Version, s.RemoteAddr)
			if err := connStorage.SetConnection(context.Background(), s.ChargePointID, cfg.PodID, cfg.WebSocket.IdleTimeout); err != nil {
				log.Errorf("Failed to record connection affinity for %s: %v", s.ChargePointID, err)
			}
			router.Emit(&events.ChargePointConnectedEvent{
				BaseEvent: events.NewBaseEvent(events.EventTypeChargePointConnected, s.ChargePointID, events.EventSeverityInfo, nil),
				ChargePointInfo: events.ChargePointInfo{
					ID:              s.ChargePointID,
					ProtocolVersion: s.Version,
					LastSeen:        s.ConnectedAt,
				},
			})
		},
		OnDisconnected: func(s *session.Session) {
			log.Infof("Charge point %s disconnected", s.ChargePointID)
			if err := connStorage.DeleteConnection(context.Background(), s.ChargePointID); err != nil {
				log.Warnf("Failed to clear connection affinity for %s: %v", s.ChargePointID, err)
			}
			router.Emit(&events.ChargePointDisconnectedEvent{
				BaseEvent: events.NewBaseEvent(events.EventTypeChargePointDisconnected, s.ChargePointID, events.EventSeverityInfo, nil),
				Reason:    "connection closed",
			})
		},
		OnListener: func(version, chargePointID string) endpoint.ListenerFunc {
			return router.Listener(version, chargePointID)
		},
	})
	log.Info("Server session manager initialized")

	// 11. 下行指令处理器：把 Kafka 指令转发给对应充电桩的 Endpoint.Call
	commandHandler := func(cmd *message.Command) {
		s, ok := sessionManager.Get(cmd.ChargePointID)
		if !ok {
			log.Warnf("Dropping command %s for disconnected charge point %s", cmd.CommandName, cmd.ChargePointID)
			return
		}
		if owner, err := connStorage.GetConnection(context.Background(), cmd.ChargePointID); err == nil && owner != cfg.PodID {
			log.Warnf("Dropping command %s for %s: owned by pod %s, not %s", cmd.CommandName, cmd.ChargePointID, owner, cfg.PodID)
			return
		}
		callCtx, cancel := context.WithTimeout(context.Background(), cfg.OCPP.MessageTimeout)
		defer cancel()
		var payload interface{} = cmd.Payload
		if len(cmd.Payload) > 0 {
			var decoded map[string]interface{}
			if err := json.Unmarshal(cmd.Payload, &decoded); err == nil {
				payload = decoded
			}
		}
		if _, err := s.Endpoint.Call(callCtx, cmd.CommandName, payload, cfg.OCPP.MessageTimeout); err != nil {
			log.Errorf("Failed to send command %s to %s: %v", cmd.CommandName, cmd.ChargePointID, err)
		}
	}
	log.Info("Command handler defined")

	// 12. 启动监控服务器
	metrics.RegisterMetrics()
	go startMetricsServer(cfg.GetMetricsAddr(), log)
	log.Infof("Metrics server starting on %s...", cfg.GetMetricsAddr())

	// 13. 启动 Kafka 消费者
	go func() {
		if err := consumer.Start(commandHandler); err != nil {
			log.Errorf("Kafka consumer failed: %v", err)
		}
	}()
	log.Info("Kafka consumer starting...")

	// 14. 主应用路由：WebSocket 升级入口与健康检查
	mainMux := http.NewServeMux()
	wsPath := cfg.Server.WebSocketPath + "/"
	log.Infof("Registering WebSocket handler at path: %s", wsPath)
	mainMux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		chargePointID := strings.TrimPrefix(r.URL.Path, wsPath)
		if chargePointID == "" {
			http.Error(w, "missing charge point id", http.StatusBadRequest)
			return
		}
		sessionManager.HandleUpgrade(w, r, chargePointID)
	})
	mainMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "{\"status\":\"ok\",\"active_sessions\":%d}", sessionManager.Count())
	})

	// 15. 启动主应用服务器：复用优化过的 TCP 监听器（SO_REUSEADDR、
	// TCP_NODELAY、Keep-Alive、读写缓冲区调优），承载数千条常驻的充电桩
	// WebSocket 长连接。
	mainServer := server.NewOptimizedTCPServer(&server.TCPServerConfig{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        120 * time.Second,
		MaxHeaderBytes:     1 << 20,
		ListenBacklog:      4096,
		KeepAlivePeriod:    30 * time.Second,
		EnableTCPKeepAlive: true,
	}, mainMux, log)
	go func() {
		log.Infof("Main server starting on %s", cfg.GetServerAddr())
		if err := mainServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Main server failed: %v", err)
		}
	}()

	// 16. 业务事件处理器 - 把充电桩管理器产生的业务事件发布到 Kafka
	// (router.Events() carries raw connect/disconnect signals consumed
	// internally by cpManager's event routine; GetEventChannel() is the
	// richer, post-processed event stream this gateway exposes downstream)
	go func() {
		log.Info("Business event handler started")
		for event := range cpManager.GetEventChannel() {
			if err := producer.PublishEvent(event); err != nil {
				log.Errorf("Failed to publish event to Kafka: %v", err)
			} else {
				log.Debugf("Published event %s from charge point %s to Kafka", event.GetType(), event.GetChargePointID())
			}
		}
	}()

	log.Info("Charge Point Gateway started successfully")

	// 17. 监听并处理优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := mainServer.Stop(shutdownCtx); err != nil {
		log.Errorf("Error stopping main server: %v", err)
	}
	shutdownCancel()
	log.Info("Main server stopped")

	if err := cpManager.Stop(); err != nil {
		log.Errorf("Error stopping charge point manager: %v", err)
	}
	log.Info("Charge point manager stopped")

	if err := txManager.Stop(); err != nil {
		log.Errorf("Error stopping transaction manager: %v", err)
	}
	log.Info("Transaction manager stopped")

	if err := consumer.Close(); err != nil {
		log.Errorf("Error closing Kafka consumer: %v", err)
	}
	log.Info("Kafka consumer closed")

	if err := producer.Close(); err != nil {
		log.Errorf("Error closing Kafka producer: %v", err)
	}
	log.Info("Kafka producer closed")

	if err := fifoStore.Close(); err != nil {
		log.Errorf("Error closing request fifo store: %v", err)
	}
	if err := kvStore.Close(); err != nil {
		log.Errorf("Error closing internal kv store: %v", err)
	}
	if err := connStorage.Close(); err != nil {
		log.Errorf("Error closing connection storage: %v", err)
	}
	if err := authLRU.Stop(); err != nil {
		log.Errorf("Error stopping authorization cache: %v", err)
	}
	log.Info("Storage closed")

	workerPool.Stop()
	timerPool.Stop()

	log.Info("Server gracefully stopped.")
}

// startMetricsServer 启动监控服务器
func startMetricsServer(addr string, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("Metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Metrics server failed: %v", err)
	}
}
