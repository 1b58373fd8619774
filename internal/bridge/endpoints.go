package bridge

import (
	"errors"

	"github.com/arenabridge/bridge/internal/config"
	"github.com/arenabridge/bridge/internal/payload"
)

// ErrNoEndpoint is returned when no endpoint map entry and no usable
// global default exist for a model, per spec.md §4.F step 2.
var ErrNoEndpoint = errors.New("bridge: no session/message id configured for this model")

// resolvedEndpoint is the session pair and mode override selected for one
// request.
type resolvedEndpoint struct {
	sessionID    string
	messageID    string
	mode         payload.Mode
	battleTarget string
}

// resolveEndpoint implements spec.md §4.F step 2: prefer a per-model
// endpoint map entry (random pick among candidates), honoring its
// mode/battle-target override; otherwise fall back to the configured
// global default pair. The resolved pair must be non-empty and not a
// placeholder left over from the sample config.
func resolveEndpoint(model string, endpointMap config.EndpointMap, cfg *config.Config) (resolvedEndpoint, error) {
	if entries, ok := endpointMap[model]; ok && len(entries) > 0 {
		entry := pickEndpoint(entries)

		mode := payload.Mode(cfg.DefaultMode)
		target := cfg.DefaultBattleTarget
		if entry.Mode != "" {
			mode = payload.Mode(entry.Mode)
		}
		if entry.BattleTarget != "" {
			target = entry.BattleTarget
		}

		if isPlaceholder(entry.SessionID) || isPlaceholder(entry.MessageID) {
			return resolvedEndpoint{}, ErrNoEndpoint
		}
		return resolvedEndpoint{
			sessionID:    entry.SessionID,
			messageID:    entry.MessageID,
			mode:         mode,
			battleTarget: target,
		}, nil
	}

	if isPlaceholder(cfg.DefaultSessionID) || isPlaceholder(cfg.DefaultMessageID) {
		return resolvedEndpoint{}, ErrNoEndpoint
	}
	return resolvedEndpoint{
		sessionID:    cfg.DefaultSessionID,
		messageID:    cfg.DefaultMessageID,
		mode:         payload.Mode(cfg.DefaultMode),
		battleTarget: cfg.DefaultBattleTarget,
	}, nil
}
