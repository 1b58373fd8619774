package bridge

import (
	"log/slog"
	"time"

	"github.com/arenabridge/bridge/internal/config"
	"github.com/arenabridge/bridge/internal/payload"
	"github.com/arenabridge/bridge/internal/pool"
	"github.com/google/uuid"
)

// DispatchWarmupPlan sends one warmup_session request per configured
// session the pool should carry for each model, per spec.md §9's warmup
// plan. The browser peer replies asynchronously with session_created,
// which OnSessionCreated (wired in cmd/bridge) adds to the pool; this
// function does not block waiting for that reply.
func (s *Server) DispatchWarmupPlan(plan []config.WarmupPlanEntry) {
	for _, entry := range plan {
		s.pool.Register(entry.Model)

		upstreamID, modality, ok := s.catalog.Lookup(entry.Model)
		if !ok {
			s.log.Warn("skipping warmup for unregistered model", slog.String("model", entry.Model))
			continue
		}

		endpoint, err := resolveEndpoint(entry.Model, s.endpointMap, s.cfg)
		if err != nil {
			s.log.Warn("skipping warmup: no usable endpoint", slog.String("model", entry.Model), slog.String("error", err.Error()))
			continue
		}

		for i := 0; i < entry.Count; i++ {
			graph := payload.Translate(payload.ChatRequest{
				Model:    entry.Model,
				Messages: []payload.Message{{Role: "user", Text: entry.InitialPrompt}},
				Stream:   true,
			}, payload.Options{
				Modality:        modality,
				Mode:            endpoint.mode,
				BattleTarget:    endpoint.battleTarget,
				UpstreamModelID: upstreamID,
				InsertEmptyTurn: s.cfg.InsertEmptyUserTurn,
				TavernEnabled:   s.cfg.TavernModeEnabled,
				BypassEnabled:   s.cfg.BypassEnabled,
			})

			requestID := uuid.NewString()
			if err := s.peer.SendWarmupSession(requestID, entry.Model, graph); err != nil {
				s.log.Warn("failed to dispatch warmup session", slog.String("model", entry.Model), slog.String("error", err.Error()))
			}
		}
	}
}

// OnSessionCreated adds a freshly warmed session to the pool. Wired as the
// peer link's Handlers.OnSessionCreated callback.
func (s *Server) OnSessionCreated(sessionID, messageID, modelName string) {
	now := time.Now()
	s.pool.Add(&pool.Session{
		ID:         sessionID,
		ModelName:  modelName,
		MessageID:  messageID,
		Status:     pool.StatusAvailable,
		CreatedAt:  now,
		LastUsedAt: now,
	})
	s.log.Info("peer reported a new warmed session", slog.String("model", modelName), slog.String("session_id", sessionID))
}
