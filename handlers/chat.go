package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"trauma-chat/models"
	"trauma-chat/services"
	"trauma-chat/store"
	"trauma-chat/workflows"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// chatAPIApology is the fixed reply for internal failures in the exchange
// path.
const chatAPIApology = "I apologize, but I'm having trouble right now. Please try again."

// historyFetchLimit bounds GET /chat-history.
const historyFetchLimit = 50

// Exchanger runs one chat exchange (persist user turn, generate reply,
// persist model turn). Production uses the DBOS-backed workflow runner;
// ChatWorkflows also satisfies it directly, without durability.
type Exchanger interface {
	Exchange(ctx context.Context, input workflows.ExchangeInput) (workflows.ExchangeOutput, error)
}

// ChatHandler handles the chat page and the chat JSON API.
type ChatHandler struct {
	store     *store.Store
	cache     *services.HistoryCache
	exchanger Exchanger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(st *store.Store, cache *services.HistoryCache, exchanger Exchanger) *ChatHandler {
	return &ChatHandler{
		store:     st,
		cache:     cache,
		exchanger: exchanger,
	}
}

// currentUser reads the authenticated user out of the session.
func currentUser(c *gin.Context) (uuid.UUID, string, bool) {
	session := sessions.Default(c)

	rawID, _ := session.Get(sessionUserID).(string)
	name, _ := session.Get(sessionUserName).(string)
	if rawID == "" {
		return uuid.Nil, "", false
	}

	userID, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, "", false
	}
	return userID, name, true
}

// conversationKey scopes the in-memory cache to one user and one
// client-chosen chat id.
func conversationKey(userID uuid.UUID, chatID string) string {
	if chatID == "" {
		chatID = "default"
	}
	return userID.String() + "_" + chatID
}

// ChatPage renders the chat UI with the user's persisted history. Store
// errors degrade to an empty history so the page still renders.
func (h *ChatHandler) ChatPage(c *gin.Context) {
	userID, name, ok := currentUser(c)
	if !ok {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	history, err := h.store.RecentMessages(c.Request.Context(), userID, 0)
	if err != nil {
		log.Printf("Error fetching chat history: %v", err)
		history = []models.ChatMessage{}
	}

	c.HTML(http.StatusOK, "chat.html", gin.H{
		"Name":    name,
		"UserID":  userID.String(),
		"History": history,
	})
}

// ChatAPI handles one message exchange: persist the user's message, run
// the assistant over recent history, persist and return the reply.
func (h *ChatHandler) ChatAPI(c *gin.Context) {
	userID, name, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"reply": "Unauthorized"})
		return
	}

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"reply": "No message provided"})
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"reply": "No message provided"})
		return
	}

	log.Printf("User %s (%s): %s", name, req.ChatID, message)

	input := workflows.ExchangeInput{
		UserID:     userID,
		SessionKey: conversationKey(userID, req.ChatID),
		Message:    message,
	}
	output, err := h.exchanger.Exchange(c.Request.Context(), input)
	if err != nil {
		log.Printf("Chat exchange failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"reply": chatAPIApology,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, models.ChatResponse{Reply: output.Reply})
}

// ChatHistory returns the user's most recent persisted messages in
// chronological order. Without a session it returns an empty list.
func (h *ChatHandler) ChatHistory(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"messages": []models.ChatMessage{}})
		return
	}

	messages, err := h.store.RecentMessages(c.Request.Context(), userID, historyFetchLimit)
	if err != nil {
		log.Printf("Error fetching chat history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"messages": []models.ChatMessage{}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// ClearChat drops the in-memory cache entry for the conversation key.
// Persisted messages are untouched.
func (h *ChatHandler) ClearChat(c *gin.Context) {
	userID, _, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false})
		return
	}

	// A missing or malformed body clears the default conversation; once
	// authorized this endpoint always succeeds.
	var req models.ClearChatRequest
	_ = c.ShouldBindJSON(&req)

	h.cache.Clear(conversationKey(userID, req.ChatID))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
