package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arenabridge/bridge/internal/admin"
	"github.com/arenabridge/bridge/internal/bridge"
	"github.com/arenabridge/bridge/internal/config"
	"github.com/arenabridge/bridge/internal/logger"
	"github.com/arenabridge/bridge/internal/peer"
	"github.com/arenabridge/bridge/internal/pool"
	"github.com/arenabridge/bridge/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	modelSeed, err := config.LoadModelRegistry(cfg.ModelsFile)
	if err != nil {
		log.Warn("failed to load model registry, starting with an empty catalog", slog.String("error", err.Error()))
	}
	endpointMap, err := config.LoadEndpointMap(cfg.EndpointMapFile)
	if err != nil {
		log.Warn("failed to load endpoint map", slog.String("error", err.Error()))
	}
	warmupPlan, err := config.LoadWarmupPlan(cfg.WarmupFile)
	if err != nil {
		log.Warn("failed to load warmup plan", slog.String("error", err.Error()))
	}

	catalog := bridge.NewCatalog(modelSeed)
	sessionPool := pool.New()
	requestRegistry := registry.New(0)

	var server *bridge.Server
	var adminSvc *admin.Service
	var shuttingDown bool

	link := peer.New(log.Logger, peer.Handlers{
		OnChunk: func(requestID, data string) {
			if req, ok := requestRegistry.Get(requestID); ok {
				select {
				case req.Responses <- data:
				default:
					log.Warn("dropping chunk: response channel full", slog.String("request_id", requestID))
				}
			}
		},
		OnSessionCreated: func(sessionID, messageID, modelName string) {
			server.OnSessionCreated(sessionID, messageID, modelName)
		},
		OnReconnectionHandshake: func(pendingIDs []string) int {
			return requestRegistry.Rebind(pendingIDs)
		},
		OnModelRegistry: func(models map[string]interface{}) int {
			return catalog.Replace(models)
		},
		OnConnect: func() {
			log.Info("browser peer connected")
			adminSvc.NotePeerConnected()
			go server.DispatchWarmupPlan(warmupPlan)
		},
		OnDisconnect: func() {
			log.Warn("browser peer disconnected")
			adminSvc.NotePeerDisconnected()
			requestRegistry.HandleDisconnect(shuttingDown, cfg.RequestTimeout)
		},
		OnAlert: func(message string) {
			log.Error("monitoring alert", slog.String("message", message))
		},
	})

	adminSvc, err = admin.NewService(cfg, log.Logger, sessionPool, link.Connected)
	if err != nil {
		panic("failed to start admin surface: " + err.Error())
	}

	server = bridge.New(cfg, log, sessionPool, requestRegistry, link, catalog, endpointMap, adminSvc)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}

	go func() {
		log.Info("bridge listening", slog.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shuttingDown = true
	log.Info("shutting down")
	requestRegistry.HandleDisconnect(true, cfg.RequestTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("http server forced to shutdown", slog.String("error", err.Error()))
	}
	adminSvc.Shutdown()
	log.Info("bridge exited")
}
