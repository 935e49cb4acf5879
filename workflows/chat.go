package workflows

import (
	"context"

	"trauma-chat/models"
	"trauma-chat/services"
	"trauma-chat/store"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
)

// historyWindow bounds how many persisted turns are replayed to the
// assistant per exchange.
const historyWindow = 20

// ChatWorkflows contains the durable workflows for chat operations.
type ChatWorkflows struct {
	store     *store.Store
	assistant *services.GeminiService
}

// NewChatWorkflows creates a new ChatWorkflows instance.
func NewChatWorkflows(st *store.Store, assistant *services.GeminiService) *ChatWorkflows {
	return &ChatWorkflows{
		store:     st,
		assistant: assistant,
	}
}

// ExchangeInput is the input for the chat exchange workflow.
type ExchangeInput struct {
	UserID     uuid.UUID
	SessionKey string
	Message    string
}

// ExchangeOutput is the result of the chat exchange workflow.
type ExchangeOutput struct {
	UserMessage  models.ChatMessage
	ModelMessage models.ChatMessage
	Reply        string
}

// Exchange persists the user's message, replays recent history to the
// assistant, and persists the reply, all on the caller's context with no
// durability. ExchangeWorkflow wraps the same steps.
func (w *ChatWorkflows) Exchange(ctx context.Context, input ExchangeInput) (ExchangeOutput, error) {
	var output ExchangeOutput

	userMsg, err := w.saveMessage(ctx, input.UserID, string(models.RoleUser), input.Message)
	if err != nil {
		return output, err
	}
	output.UserMessage = userMsg

	turns, err := w.loadWindow(ctx, input.UserID)
	if err != nil {
		return output, err
	}

	output.Reply = w.assistant.Reply(input.Message, input.SessionKey, turns)

	modelMsg, err := w.saveMessage(ctx, input.UserID, string(models.RoleModel), output.Reply)
	if err != nil {
		return output, err
	}
	output.ModelMessage = modelMsg

	return output, nil
}

// ExchangeWorkflow runs the exchange steps durably: a crashed process
// resumes from the last completed step instead of re-running the whole
// exchange.
func (w *ChatWorkflows) ExchangeWorkflow(ctx dbos.DBOSContext, input ExchangeInput) (ExchangeOutput, error) {
	var output ExchangeOutput

	userMsg, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (models.ChatMessage, error) {
		return w.saveMessage(stepCtx, input.UserID, string(models.RoleUser), input.Message)
	})
	if err != nil {
		return output, err
	}
	output.UserMessage = userMsg

	turns, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) ([]models.Turn, error) {
		return w.loadWindow(stepCtx, input.UserID)
	})
	if err != nil {
		return output, err
	}

	reply, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (string, error) {
		return w.assistant.Reply(input.Message, input.SessionKey, turns), nil
	})
	if err != nil {
		return output, err
	}
	output.Reply = reply

	modelMsg, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (models.ChatMessage, error) {
		return w.saveMessage(stepCtx, input.UserID, string(models.RoleModel), reply)
	})
	if err != nil {
		return output, err
	}
	output.ModelMessage = modelMsg

	return output, nil
}

// loadWindow maps the user's most recent persisted messages into provider
// turns.
func (w *ChatWorkflows) loadWindow(ctx context.Context, userID uuid.UUID) ([]models.Turn, error) {
	msgs, err := w.store.RecentMessages(ctx, userID, historyWindow)
	if err != nil {
		return nil, err
	}
	return models.TurnsFromMessages(msgs), nil
}

func (w *ChatWorkflows) saveMessage(ctx context.Context, userID uuid.UUID, role, message string) (models.ChatMessage, error) {
	msg := models.ChatMessage{
		UserID:  userID,
		Role:    role,
		Message: message,
	}
	if err := w.store.SaveMessage(ctx, &msg); err != nil {
		return models.ChatMessage{}, err
	}
	return msg, nil
}

// DBOSExchanger runs ExchangeWorkflow through a live DBOS context.
type DBOSExchanger struct {
	dbosCtx   dbos.DBOSContext
	workflows *ChatWorkflows
}

// NewDBOSExchanger wraps a registered ChatWorkflows in a runner the
// handlers can call.
func NewDBOSExchanger(dbosCtx dbos.DBOSContext, wf *ChatWorkflows) *DBOSExchanger {
	return &DBOSExchanger{
		dbosCtx:   dbosCtx,
		workflows: wf,
	}
}

// Exchange starts the workflow and waits for its result.
func (e *DBOSExchanger) Exchange(_ context.Context, input ExchangeInput) (ExchangeOutput, error) {
	handle, err := dbos.RunWorkflow(e.dbosCtx, e.workflows.ExchangeWorkflow, input)
	if err != nil {
		return ExchangeOutput{}, err
	}
	return handle.GetResult()
}
