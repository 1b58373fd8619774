package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arenabridge/bridge/internal/errors"
	"github.com/arenabridge/bridge/internal/logger"
	"github.com/arenabridge/bridge/internal/payload"
	"github.com/arenabridge/bridge/internal/pool"
	"github.com/arenabridge/bridge/internal/registry"
	"github.com/arenabridge/bridge/internal/wire"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// handleChatCompletions implements the eight-step orchestration flow of
// spec.md §4.F.
func (s *Server) handleChatCompletions(c *gin.Context) {
	ctx := context.WithValue(c.Request.Context(), logger.ContextKeyOperation, "chat_completions")
	log := s.log.WithContext(ctx).WithComponent("bridge")

	// Step 1: auth, peer connectivity, model lookup.
	if !s.cfg.CheckBearerToken(bearerToken(c)) {
		errors.AbortUnauthorized(c, "missing or invalid bearer token")
		return
	}
	if !s.peer.Connected() {
		errors.AbortPeerMissing(c, "no browser peer is currently connected")
		return
	}

	var req payload.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.AbortBadRequest(c, errors.KindPayloadTranslate, "malformed request body: "+err.Error())
		return
	}

	upstreamID, modality, ok := s.catalog.Lookup(req.Model)
	if !ok {
		errors.AbortModelUnknown(c, "unknown model: "+req.Model)
		return
	}
	c.Set("model", req.Model)

	// Step 2: resolve the endpoint. This validates the model has a usable
	// session/message id configured before we pay for a pool wait; the
	// warmed session acquired in step 3 carries the actual ids to dispatch
	// against (resolveEndpoint's pair only seeds a fresh warmup session,
	// done out-of-band by the pool's warmup plan).
	if _, err := resolveEndpoint(req.Model, s.endpointMap, s.cfg); err != nil {
		errors.AbortBadRequest(c, errors.KindPayloadTranslate, err.Error())
		return
	}

	// Step 3: acquire a warmed session from the pool.
	session, err := s.pool.Acquire(ctx, req.Model, s.cfg.SessionAcquireTimeout)
	if err != nil {
		if err == pool.ErrAcquireTimeout {
			errors.AbortSessionWaitTimeout(c, "timed out waiting for an available session for "+req.Model)
			return
		}
		// Context cancelled while waiting: client already gone.
		return
	}

	requestID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.ContextKeyRequestID, requestID)
	ctx = context.WithValue(ctx, logger.ContextKeyModel, req.Model)
	log = s.log.WithContext(ctx).WithComponent("bridge")
	c.Set("request_id", requestID)

	cleanup := func(markUnhealthy bool) {
		if markUnhealthy {
			s.pool.MarkUnhealthy(session.ID)
		} else {
			s.pool.Release(session.ID)
		}
		s.registry.Complete(requestID)
	}

	// Step 4: register the request.
	tracked, err := s.registry.Add(requestID, req.Model, req.Stream, s.cfg.ResponseChannelSize)
	if err != nil {
		errors.AbortCapacity(c, "too many concurrent requests in flight")
		s.pool.Release(session.ID)
		return
	}

	// Step 5: translate and dispatch via the peer link.
	retryPayload, filesToUpload := payload.BuildRetryPayload(req, session.ID, session.MessageID)
	dispatchErr := log.LogOperation(ctx, "dispatch_to_peer", func() error {
		return s.peer.SendRetryRequest(requestID, retryPayload, filesToUpload)
	})
	if dispatchErr != nil {
		errors.AbortBridgeError(c, errors.KindBridgeError, "failed to dispatch request to the browser peer")
		cleanup(true)
		return
	}
	s.registry.MarkSentToBrowser(requestID)

	// Steps 6-8: drive the response from the codec's event stream.
	s.driveResponse(c, log.Logger, requestID, tracked, upstreamID, modality, req.Stream, cleanup)
}

// driveResponse consumes tracked.Responses through a wire.Decoder/Formatter
// pair and writes either an SSE stream or a single aggregate JSON response,
// per spec.md §4.F steps 6-8 and §7's error-kind mapping.
func (s *Server) driveResponse(c *gin.Context, log *slog.Logger, requestID string, tracked *registry.Request, upstreamID, modality string, streaming bool, cleanup func(markUnhealthy bool)) {
	decoder := wire.NewDecoder(modality)
	formatter := wire.NewFormatter(upstreamID, modality, streaming)

	if streaming {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
	} else {
		c.Header("Content-Type", "application/json")
	}

	flusher, _ := c.Writer.(http.Flusher)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	write := func(frames []string) {
		for _, frame := range frames {
			_, _ = c.Writer.WriteString(frame)
		}
		if streaming && flusher != nil && len(frames) > 0 {
			flusher.Flush()
		}
	}

	timeout := time.NewTimer(s.cfg.RequestTimeout)
	defer timeout.Stop()

	for {
		select {
		case raw, ok := <-tracked.Responses:
			if !ok {
				return
			}
			timeout.Reset(s.cfg.RequestTimeout)
			if raw == "[DONE]" || raw == `"[DONE]"` {
				write(formatter.Final())
				cleanup(false)
				return
			}

			for _, ev := range decoder.Feed(raw) {
				if ev.Kind == wire.KindError {
					s.handleCodecError(c, ev, streaming, write, cleanup)
					return
				}
				write(formatter.Push(ev))
				if ev.Kind == wire.KindFinish {
					write(formatter.Final())
					cleanup(false)
					return
				}
			}

		case <-ticker.C:
			write(formatter.Tick(time.Now()))

		case <-timeout.C:
			log.Warn("request timed out waiting for peer events")
			s.writeTerminalError(c, errors.KindRequestTimeout, "request timed out", streaming, write)
			cleanup(false)
			return

		case <-c.Request.Context().Done():
			_ = s.peer.SendAbortRequest(requestID)
			cleanup(false)
			return
		}
	}
}

// handleCodecError maps a decoded KindError event to the HTTP/SSE surface
// described in spec.md §7, including the cloudflare-challenge refresh
// request back to the peer.
func (s *Server) handleCodecError(c *gin.Context, ev wire.Event, streaming bool, write func([]string), cleanup func(markUnhealthy bool)) {
	if ev.ErrorKind == errors.KindCloudflareChallenge {
		_ = s.peer.SendRefresh()
	}

	if !streaming {
		switch ev.ErrorKind {
		case errors.KindAttachmentTooLarge:
			errors.AbortAttachmentTooLarge(c, ev.ErrorMessage)
		default:
			errors.AbortBridgeError(c, errors.KindBridgeError, ev.ErrorMessage)
		}
		cleanup(ev.ErrorKind != errors.KindAttachmentTooLarge)
		return
	}

	write([]string{wire.ErrorFrame(true, ev.ErrorMessage)})
	cleanup(ev.ErrorKind != errors.KindAttachmentTooLarge && ev.ErrorKind != errors.KindCloudflareChallenge)
}

// writeTerminalError surfaces a registry/timeout-originated error that
// arrives outside the codec's own event stream (e.g. the orchestrator's
// own wall-clock timer, rather than a peer-reported error object).
func (s *Server) writeTerminalError(c *gin.Context, kind errors.Kind, message string, streaming bool, write func([]string)) {
	if !streaming {
		if !c.Writer.Written() {
			errors.AbortBridgeError(c, kind, message)
		}
		return
	}
	write([]string{wire.ErrorFrame(true, message)})
}

// handleListModels implements GET /v1/models per spec.md §6.
func (s *Server) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": s.catalog.List()})
}

// handleRefreshModels implements POST /v1/refresh-models per spec.md §6.
func (s *Server) handleRefreshModels(c *gin.Context) {
	if err := s.peer.SendRefreshModels(); err != nil {
		errors.AbortPeerMissing(c, "no browser peer is currently connected")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh requested"})
}

// handleStartIDCapture relays the id_updater CLI's request to the browser
// peer, asking its userscript to enter id-capture mode.
func (s *Server) handleStartIDCapture(c *gin.Context) {
	if err := s.peer.SendActivateIDCapture(); err != nil {
		errors.AbortPeerMissing(c, "browser client not connected")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "activation command sent"})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return ""
}
