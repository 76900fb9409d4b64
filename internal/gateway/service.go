package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/agilecards/agilecards/internal/analysis"
	"github.com/agilecards/agilecards/internal/consensus"
	"github.com/agilecards/agilecards/internal/room"
	"github.com/agilecards/agilecards/internal/session"
	"github.com/agilecards/agilecards/internal/vote"
)

// Service is the room gateway: it owns the WebSocket surface, dispatches
// inbound events to the session engine, and fans resolutions back out to
// every attached connection.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	registry          *session.Registry
	scheduler         *session.Scheduler
	advisor           analysis.Advisor
	bridge            *EventBridge
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	BridgeConfig     BridgeConfig
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		BridgeConfig:     DefaultBridgeConfig(),
	}
}

// NewService creates a new gateway service. bridge may be nil when no NATS
// URL is configured; advisor may be analysis.Nop{}.
func NewService(config Config, registry *session.Registry, scheduler *session.Scheduler, advisor analysis.Advisor, bridge *EventBridge) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)

	s := &Service{
		connectionManager: cm,
		registry:          registry,
		scheduler:         scheduler,
		advisor:           advisor,
		bridge:            bridge,
	}
	cm.SetDispatcher(s)
	s.wsHandler = NewWebSocketHandler(s)
	if bridge != nil {
		bridge.SetManager(cm)
	}
	return s
}

// Start begins the gateway service and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	go s.connectionManager.Start(ctx)

	if s.bridge != nil {
		go func() {
			if err := s.bridge.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event bridge failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("room gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service.
func (s *Service) Stop() error {
	if s.bridge != nil {
		s.bridge.Stop()
	}
	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
}

// RevealByTimer is the round scheduler's fire callback: a forced reveal on
// behalf of the service itself.
func (s *Service) RevealByTimer(code string) {
	ctx := context.Background()

	h, err := s.registry.Acquire(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("timer reveal: failed to acquire room")
		return
	}
	defer s.registry.Release(h)

	res, err := h.RevealSystem(ctx)
	if err != nil {
		// A pause between arming and firing is expected; anything else is not.
		if !errors.Is(err, session.ErrSessionPaused) && !errors.Is(err, session.ErrSessionComplete) {
			log.Error().Err(err).Str("room_code", code).Msg("timer reveal failed")
		}
		return
	}
	s.publishReveal(ctx, code, res)
}

// HandleMessage dispatches one inbound frame from an attached connection.
func (s *Service) HandleMessage(ctx context.Context, conn *Connection, data []byte) {
	ev, err := DecodeClientEvent(data)
	if err != nil {
		conn.SendEvent(newErrorEvent(err.Error()))
		return
	}

	switch ev.Type {
	case ClientEventVote:
		s.handleVote(ctx, conn, ev.Value)
	case ClientEventReveal:
		s.handleReveal(ctx, conn, false)
	case ClientEventForceReveal:
		s.handleReveal(ctx, conn, true)
	case ClientEventCoffee:
		s.handlePause(ctx, conn)
	case ClientEventResume:
		s.handleResume(ctx, conn)
	case ClientEventStart:
		s.handleStart(ctx, conn)
	case ClientEventChat:
		s.broadcast(conn.RoomCode, ChatEvent{Type: ServerEventChat, Username: conn.Username, Message: ev.Message})
	}
}

// HandleDetach finishes a disconnect: offline broadcast on the username's
// last connection, handle release, and timer teardown on an empty room.
func (s *Service) HandleDetach(conn *Connection, wentOffline bool, roomEmpty bool) {
	if wentOffline {
		s.broadcast(conn.RoomCode, PresenceEvent{Type: ServerEventPresence, Username: conn.Username, Online: false})
	}
	if roomEmpty {
		s.scheduler.Disarm(conn.RoomCode)
	}
	s.registry.Release(conn.Handle)
}

func (s *Service) handleVote(ctx context.Context, conn *Connection, value string) {
	progress, err := conn.Handle.SubmitVote(ctx, conn.Username, value)
	if err != nil {
		conn.SendEvent(newErrorEvent(voteErrorMessage(err)))
		return
	}

	s.broadcast(conn.RoomCode, newVotedEvent(progress))

	// First vote of a round starts its countdown.
	if progress.Voters == 1 {
		s.scheduler.Arm(ctx, conn.RoomCode)
	}

	if progress.QuorumReached() {
		go s.requestAnalysis(conn.RoomCode, conn.Handle)
	}
}

func (s *Service) handleReveal(ctx context.Context, conn *Connection, force bool) {
	res, err := conn.Handle.Reveal(ctx, conn.Username, force)
	if err != nil {
		conn.SendEvent(newErrorEvent(revealErrorMessage(err)))
		return
	}
	s.publishReveal(ctx, conn.RoomCode, res)
}

// publishReveal broadcasts a resolution and, where the resolution exposed
// the ballots, the votes_updated companion event. Broadcasts happen after
// the engine's mutation completed, so every receiver observes post-mutation
// state.
func (s *Service) publishReveal(ctx context.Context, code string, res *session.RevealResult) {
	s.broadcast(code, newRevealEvent(res))
	if res.Votes != nil {
		s.broadcast(code, VotesUpdatedEvent{Type: ServerEventVotesUpdated, Votes: res.Votes, Counts: res.Counts})
	}

	switch {
	case res.Done:
		s.scheduler.Disarm(code)
	case res.Status == consensus.StatusValidated || res.Status == consensus.StatusSkipped || res.Status == consensus.StatusRevote:
		s.scheduler.Arm(ctx, code)
	}
}

func (s *Service) handlePause(ctx context.Context, conn *Connection) {
	if err := conn.Handle.Pause(ctx, conn.Username); err != nil {
		conn.SendEvent(newErrorEvent(err.Error()))
		return
	}
	s.scheduler.Disarm(conn.RoomCode)
	s.broadcast(conn.RoomCode, PauseEvent{Type: ServerEventPause, PausedBy: conn.Username})
}

func (s *Service) handleResume(ctx context.Context, conn *Connection) {
	if err := conn.Handle.Resume(ctx); err != nil {
		conn.SendEvent(newErrorEvent(err.Error()))
		return
	}
	s.broadcast(conn.RoomCode, ResumeEvent{Type: ServerEventResume})

	if snap, err := conn.Handle.Snapshot(ctx); err == nil && !snap.Done {
		s.scheduler.Arm(ctx, conn.RoomCode)
	}
}

func (s *Service) handleStart(ctx context.Context, conn *Connection) {
	snap, err := conn.Handle.Snapshot(ctx)
	if err != nil {
		conn.SendEvent(newErrorEvent(err.Error()))
		return
	}
	s.broadcast(conn.RoomCode, newSnapshotEvent(snap))

	if !snap.Done && !snap.IsPaused {
		s.scheduler.Arm(ctx, conn.RoomCode)
	}
}

// requestAnalysis invokes the advisory hook once every player has voted.
// Failures are swallowed: the broadcast is simply omitted.
func (s *Service) requestAnalysis(code string, h *session.Handle) {
	ctx := context.Background()

	votes, taskIndex, playerCount, err := h.CurrentBallot(ctx)
	if err != nil || len(votes) < playerCount {
		return
	}

	result, err := s.advisor.RequestAnalysis(ctx, code, taskIndex, votes, playerCount)
	if err != nil {
		log.Debug().Err(err).Str("room_code", code).Msg("analysis request failed")
		return
	}
	if result == nil {
		return
	}

	s.broadcast(code, AIAnalysisEvent{
		Type:          ServerEventAIAnalysis,
		Analysis:      result.Analysis,
		VoteSummary:   result.VoteSummary,
		TotalVotes:    result.TotalVotes,
		RequiredVotes: result.RequiredVotes,
	})
}

// broadcast fans an event out locally and, when the bridge is configured,
// to the other instances serving the same rooms.
func (s *Service) broadcast(code string, event any) {
	s.connectionManager.Broadcast(code, event)
	if s.bridge != nil {
		s.bridge.Publish(code, event)
	}
}

func voteErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionPaused):
		return "session is paused"
	case errors.Is(err, session.ErrSessionComplete):
		return "session is complete"
	case errors.Is(err, vote.ErrInvalidValue):
		return "invalid vote value"
	case errors.Is(err, session.ErrNotMember):
		return "you are not a member of this room"
	default:
		return "failed to record vote"
	}
}

func revealErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		return "Only admin can reveal"
	case errors.Is(err, session.ErrSessionPaused):
		return "session is paused"
	case errors.Is(err, session.ErrSessionComplete):
		return "session is complete"
	case errors.Is(err, room.ErrNotFound):
		return "room not found"
	default:
		return "failed to reveal"
	}
}
