package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"escrow-quiz-service/internal/app"
	"escrow-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Responder is the narrow capability the command handlers get for talking
// back to the chat platform. The core never inspects the concrete
// connection type.
type Responder interface {
	Reply(msgType string, payload any)
	EditReply(msgType string, payload any)
	SendFollowup(msgType string, payload any)
}

// WSHandler adapts websocket chat traffic into lifecycle and session
// intents.
type WSHandler struct {
	lifecycle *app.Lifecycle
	sessions  *app.Sessions
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func NewWSHandler(lifecycle *app.Lifecycle, sessions *app.Sessions, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		lifecycle: lifecycle,
		sessions:  sessions,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Edit    bool   `json:"edit,omitempty"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type createPayload struct {
	SourceRef string              `json:"sourceRef"`
	Reward    domain.RewardConfig `json:"reward"`
}

type draftPayload struct {
	DraftID string `json:"draftId"`
}

type startPayload struct {
	QuizID string `json:"quizId"`
}

type answerPayload struct {
	QuizID        string `json:"quizId"`
	QuestionIndex int    `json:"questionIndex"`
	OptionID      string `json:"optionId"`
}

// previewView strips correct-option flags before content leaves the server.
type questionView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Options []optionView `json:"options"`
}

type optionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type stepView struct {
	Completed     bool          `json:"completed"`
	Correct       bool          `json:"correct"`
	QuestionIndex int           `json:"questionIndex"`
	Question      *questionView `json:"question,omitempty"`
	Score         int           `json:"score"`
	Total         int           `json:"total"`
}

func viewQuestion(q *domain.Question) *questionView {
	if q == nil {
		return nil
	}
	view := &questionView{ID: q.ID, Prompt: q.Prompt}
	for _, option := range q.Options {
		view.Options = append(view.Options, optionView{ID: option.ID, Text: option.Text})
	}
	return view
}

func viewStep(step app.NextStep) stepView {
	return stepView{
		Completed:     step.Completed,
		Correct:       step.Correct,
		QuestionIndex: step.QuestionIndex,
		Question:      viewQuestion(step.Question),
		Score:         step.Score,
		Total:         step.Total,
	}
}

// wsResponder implements Responder over the connection's send channel.
type wsResponder struct {
	send chan<- outboundMessage
}

func (r *wsResponder) Reply(msgType string, payload any) {
	r.send <- outboundMessage{Type: msgType, Payload: payload}
}

func (r *wsResponder) EditReply(msgType string, payload any) {
	r.send <- outboundMessage{Type: msgType, Edit: true, Payload: payload}
}

func (r *wsResponder) SendFollowup(msgType string, payload any) {
	r.send <- outboundMessage{Type: msgType, Payload: payload}
}

// ServeWS upgrades the request and dispatches chat intents to the quiz use
// cases. The user identity comes from the platform adapter in front of us.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn("ws write error", zap.Error(err))
				return
			}
		}
	}()

	responder := &wsResponder{send: send}
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r.Context(), responder, userID, inbound)
	}

	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, responder Responder, userID string, inbound inboundMessage) {
	switch inbound.Type {
	case "createQuiz":
		var payload createPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			responder.Reply("error", errorPayload{Message: "invalid create payload"})
			return
		}
		draft, err := h.lifecycle.CreateDraft(ctx, userID, payload.Reward, payload.SourceRef)
		if err != nil {
			h.replyError(responder, err)
			return
		}
		questions := make([]*questionView, 0, len(draft.Questions))
		for i := range draft.Questions {
			questions = append(questions, viewQuestion(&draft.Questions[i]))
		}
		responder.Reply("preview", map[string]any{
			"draftId":   draft.ID,
			"expiresAt": draft.ExpiresAt,
			"questions": questions,
		})

	case "approveQuiz":
		var payload draftPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			responder.Reply("error", errorPayload{Message: "invalid approve payload"})
			return
		}
		responder.Reply("settling", draftPayload{DraftID: payload.DraftID})
		quiz, err := h.lifecycle.Approve(ctx, payload.DraftID, userID)
		if err != nil {
			h.replyError(responder, err)
			return
		}
		responder.EditReply("quizCreated", map[string]any{
			"quizId":     quiz.ID,
			"settlement": quiz.Settlement,
			"unsettled":  quiz.Unsettled,
		})

	case "cancelQuiz":
		var payload draftPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			responder.Reply("error", errorPayload{Message: "invalid cancel payload"})
			return
		}
		if err := h.lifecycle.CancelDraft(ctx, payload.DraftID, userID); err != nil {
			h.replyError(responder, err)
			return
		}
		responder.Reply("cancelled", draftPayload{DraftID: payload.DraftID})

	case "startQuiz":
		var payload startPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			responder.Reply("error", errorPayload{Message: "invalid start payload"})
			return
		}
		step, err := h.sessions.Start(ctx, userID, payload.QuizID)
		if err != nil {
			h.replyError(responder, err)
			return
		}
		responder.Reply("question", viewStep(step))

	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			responder.Reply("error", errorPayload{Message: "invalid answer payload"})
			return
		}
		step, err := h.sessions.Answer(ctx, userID, payload.QuizID, payload.QuestionIndex, payload.OptionID)
		if err != nil {
			h.replyError(responder, err)
			return
		}
		if step.Completed {
			responder.Reply("completed", viewStep(step))
			return
		}
		responder.Reply("question", viewStep(step))

	default:
		responder.Reply("error", errorPayload{Message: "unsupported message type"})
	}
}

func (h *WSHandler) replyError(responder Responder, err error) {
	payload := errorPayload{Message: err.Error()}
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		payload.Code = "unauthorized"
	case errors.Is(err, domain.ErrAlreadyFinalized):
		payload.Code = "already_finalized"
	case errors.Is(err, domain.ErrAlreadyAttempted):
		payload.Code = "already_attempted"
	case errors.Is(err, domain.ErrSessionOutOfOrder):
		payload.Code = "out_of_order"
	case errors.Is(err, domain.ErrResolutionTimeout):
		payload.Code = "settlement_timeout"
	case errors.Is(err, domain.ErrNoMatchingEvent):
		payload.Code = "settlement_unverified"
	case errors.Is(err, domain.ErrInsufficientBalance):
		payload.Code = "insufficient_balance"
	case errors.Is(err, domain.ErrQueueFull):
		payload.Code = "busy"
	}
	responder.Reply("error", payload)
}
