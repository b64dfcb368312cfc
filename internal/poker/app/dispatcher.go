package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"

	"golang.org/x/net/websocket"

	"github.com/planningdeck/planningdeck/internal/poker/domain/round"
	"github.com/planningdeck/planningdeck/internal/poker/domain/vote"
	"github.com/planningdeck/planningdeck/internal/poker/engine"
	"github.com/planningdeck/planningdeck/internal/poker/storage"
)

const maxDecodeErrorsPerConn = 3

// Inbound event names.
const (
	eventVote        = "vote"
	eventRevealCards = "reveal_cards"
	eventFinishRound = "finish_round"
	eventReplayRound = "replay_round"
)

// Outbound event names.
const (
	eventRoleUpdated         = "role_updated"
	eventNewTaskToEstimate   = "new_task_to_estimate"
	eventTaskListReceived    = "task_list_received"
	eventParticipantsChanged = "participants_changed"
	eventVoteCast            = "vote_cast"
	eventCardsRevealed       = "cards_revealed"
	eventError               = "error"
)

type votePayload struct {
	Value int `json:"value"`
}

type finishRoundPayload struct {
	ShouldSave bool   `json:"should_save"`
	Note       string `json:"note"`
	Label      string `json:"label"`
}

type rolePayload struct {
	IsModerator bool `json:"is_moderator"`
}

type taskPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type taskListPayload struct {
	Tasks []string `json:"tasks"`
}

type participantsPayload struct {
	Participants []storage.Participant `json:"participants"`
}

type voteCastPayload struct {
	Created bool   `json:"created"`
	Vote    string `json:"vote"`
}

type cardsRevealedPayload struct {
	Votes []string       `json:"votes"`
	Stats map[string]any `json:"stats"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsConnState carries the per-connection context the dispatcher needs.
type wsConnState struct {
	sessionID   string
	identity    Identity
	isModerator bool
	peer        *peer
	room        *sessionRoom
}

func handleWSConn(conn *websocket.Conn, hub *roomHub, eng *engine.Engine) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	if request == nil {
		return
	}
	ctx := request.Context()

	identity, _ := ctx.Value(wsIdentityContextKey{}).(Identity)
	sessionID, _ := ctx.Value(wsSessionIDContextKey{}).(string)
	if identity.UserID == "" || sessionID == "" {
		return
	}

	p := newPeer(conn)
	defer p.close()

	session, err := eng.Session(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.closeWithCode(closeSessionNotFound)
			return
		}
		log.Printf("poker: load session %q: %v", sessionID, err)
		return
	}

	task, ok, err := eng.EnsureCurrentTask(ctx, sessionID)
	if err != nil {
		log.Printf("poker: resolve current task session=%q: %v", sessionID, err)
		return
	}
	if !ok {
		// Nothing left to estimate; the session is over.
		p.closeWithCode(closeSessionEnded)
		return
	}

	state := &wsConnState{
		sessionID:   sessionID,
		identity:    identity,
		isModerator: session.ModeratorID == identity.UserID,
		peer:        p,
		room:        hub.room(sessionID),
	}

	state.room.join(p, storage.Participant{ID: identity.UserID, Name: identity.Name})
	defer func() {
		if state.room.leave(p) {
			hub.drop(sessionID)
		}
		participants, err := eng.LeaveVoter(context.Background(), sessionID, identity.UserID)
		if err != nil {
			log.Printf("poker: remove voter user=%q session=%q: %v", identity.UserID, sessionID, err)
			return
		}
		state.room.broadcast(wsEvent{
			Event: eventParticipantsChanged,
			Data:  mustJSON(participantsPayload{Participants: participants}),
		})
	}()

	sendWelcome(ctx, state, eng, task)

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var event wsEvent
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			writeWSError(p, "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch event.Event {
		case eventVote:
			handleVote(ctx, state, eng, event.Data)
		case eventRevealCards:
			if state.isModerator {
				handleRevealCards(ctx, state, eng)
			}
		case eventFinishRound:
			if state.isModerator {
				if ended := handleFinishRound(ctx, state, eng, hub, event.Data); ended {
					return
				}
			}
		case eventReplayRound:
			if state.isModerator {
				handleReplayRound(ctx, state, eng)
			}
		default:
			writeWSError(p, "INVALID_ARGUMENT", "unsupported event")
		}
	}
}

// sendWelcome pushes the initial frames to the new connection and announces
// the updated participant list to the room.
func sendWelcome(ctx context.Context, state *wsConnState, eng *engine.Engine, task storage.Task) {
	state.peer.enqueue(wsEvent{
		Event: eventRoleUpdated,
		Data:  mustJSON(rolePayload{IsModerator: state.isModerator}),
	})

	state.peer.enqueue(wsEvent{
		Event: eventNewTaskToEstimate,
		Data: mustJSON(taskPayload{
			ID:          task.ID,
			Title:       task.Title,
			Description: task.Description,
		}),
	})

	titles, err := eng.TaskTitles(ctx, state.sessionID)
	if err != nil {
		log.Printf("poker: list tasks session=%q: %v", state.sessionID, err)
	} else {
		state.peer.enqueue(wsEvent{
			Event: eventTaskListReceived,
			Data:  mustJSON(taskListPayload{Tasks: titles}),
		})
	}

	participants, err := eng.JoinVoter(ctx, state.sessionID, storage.Participant{
		ID:   state.identity.UserID,
		Name: state.identity.Name,
	})
	if err != nil {
		log.Printf("poker: add voter user=%q session=%q: %v", state.identity.UserID, state.sessionID, err)
		return
	}
	state.room.broadcast(wsEvent{
		Event: eventParticipantsChanged,
		Data:  mustJSON(participantsPayload{Participants: participants}),
	})
}

func handleVote(ctx context.Context, state *wsConnState, eng *engine.Engine, data json.RawMessage) {
	var payload votePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		writeWSError(state.peer, "INVALID_ARGUMENT", "invalid vote payload")
		return
	}
	if payload.Value < 1 || payload.Value > vote.UnsureValue {
		writeWSError(state.peer, "INVALID_ARGUMENT", "vote value out of range")
		return
	}

	receipt, err := eng.RecordVote(ctx, state.sessionID, storage.Participant{
		ID:   state.identity.UserID,
		Name: state.identity.Name,
	}, payload.Value)
	if err != nil {
		if errors.Is(err, engine.ErrNoCurrentTask) {
			// Dropped without a reply, same as a vote after the backlog ends.
			return
		}
		if errors.Is(err, engine.ErrVotingClosed) {
			writeWSError(state.peer, "FAILED_PRECONDITION", "round is not accepting votes")
			return
		}
		log.Printf("poker: record vote user=%q session=%q: %v", state.identity.UserID, state.sessionID, err)
		writeWSError(state.peer, "UNAVAILABLE", "vote could not be recorded")
		return
	}

	// Acknowledged to the voter only; values stay private until reveal.
	state.peer.enqueue(wsEvent{
		Event: eventVoteCast,
		Data:  mustJSON(voteCastPayload{Created: receipt.Created, Vote: receipt.Description}),
	})
}

func handleRevealCards(ctx context.Context, state *wsConnState, eng *engine.Engine) {
	reveal, err := eng.RevealCards(ctx, state.sessionID)
	if err != nil {
		writeEngineError(state, err, "cards could not be revealed")
		return
	}

	state.room.broadcast(wsEvent{
		Event: eventCardsRevealed,
		Data: mustJSON(cardsRevealedPayload{
			Votes: reveal.Descriptions,
			Stats: statsPayload(reveal.Stats),
		}),
	})
}

func handleFinishRound(ctx context.Context, state *wsConnState, eng *engine.Engine, hub *roomHub, data json.RawMessage) bool {
	var payload finishRoundPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			writeWSError(state.peer, "INVALID_ARGUMENT", "invalid finish_round payload")
			return false
		}
	}

	result, err := eng.FinishRound(ctx, state.sessionID, payload.ShouldSave, payload.Note, payload.Label)
	if err != nil {
		writeEngineError(state, err, "round could not be finished")
		return false
	}

	if result.NextTask == nil {
		state.room.closeAll(closeSessionEnded)
		hub.drop(state.sessionID)
		return true
	}

	state.room.broadcast(wsEvent{
		Event: eventNewTaskToEstimate,
		Data: mustJSON(taskPayload{
			ID:          result.NextTask.ID,
			Title:       result.NextTask.Title,
			Description: result.NextTask.Description,
		}),
	})
	return false
}

func handleReplayRound(ctx context.Context, state *wsConnState, eng *engine.Engine) {
	if err := eng.ReplayRound(ctx, state.sessionID); err != nil {
		writeEngineError(state, err, "round could not be replayed")
		return
	}
	state.room.broadcast(wsEvent{Event: eventReplayRound})
}

func writeEngineError(state *wsConnState, err error, fallback string) {
	var invalid *round.InvalidTransitionError
	switch {
	case errors.Is(err, engine.ErrNoCurrentTask):
		writeWSError(state.peer, "FAILED_PRECONDITION", "session has no current task")
	case errors.As(err, &invalid):
		writeWSError(state.peer, "FAILED_PRECONDITION", invalid.Error())
	default:
		log.Printf("poker: session=%q: %v", state.sessionID, err)
		writeWSError(state.peer, "UNAVAILABLE", fallback)
	}
}

// statsPayload renders statistics with the insufficient-data marker standing
// in for unavailable aggregates.
func statsPayload(stats vote.Statistics) map[string]any {
	payload := make(map[string]any)
	for _, field := range stats.Fields() {
		payload[field.Name] = field.Value
	}
	return payload
}

func writeWSError(p *peer, code, message string) {
	p.enqueue(wsEvent{
		Event: eventError,
		Data:  mustJSON(errorPayload{Code: code, Message: message}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
