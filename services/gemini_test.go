package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"trauma-chat/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiReply(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, text)
}

func decodeRequest(t *testing.T, r *http.Request) geminiRequest {
	t.Helper()
	var req geminiRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func newTestService(handler http.HandlerFunc) (*GeminiService, *HistoryCache, *httptest.Server) {
	server := httptest.NewServer(handler)
	cache := NewHistoryCache(20)
	svc := NewGeminiService("test-key", server.URL, cache)
	return svc, cache, server
}

func TestReplyPrimesFreshConversation(t *testing.T) {
	var got geminiRequest
	svc, cache, server := newTestService(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		got = decodeRequest(t, r)
		fmt.Fprint(w, geminiReply("You are safe here."))
	})
	defer server.Close()

	reply := svc.Reply("I feel anxious today", "u1_c1", nil)
	assert.Equal(t, "You are safe here.", reply)

	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Contains(t, got.Contents[0].Parts[0].Text, "Trauma Assistant")
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, personaAck, got.Contents[1].Parts[0].Text)
	assert.Equal(t, "user", got.Contents[2].Role)
	assert.Equal(t, "I feel anxious today", got.Contents[2].Parts[0].Text)

	assert.Equal(t, 1000, got.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.7, got.GenerationConfig.Temperature, 1e-9)

	// Priming pair plus the exchange.
	require.Equal(t, 4, cache.Len("u1_c1"))
	turns := cache.Turns("u1_c1")
	assert.Equal(t, models.RoleUser, turns[2].Role)
	assert.Equal(t, "I feel anxious today", turns[2].Text)
	assert.Equal(t, models.RoleModel, turns[3].Role)
	assert.Equal(t, "You are safe here.", turns[3].Text)
}

func TestReplyCacheNeverExceedsLimit(t *testing.T) {
	svc, cache, server := newTestService(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, geminiReply("ok"))
	})
	defer server.Close()

	for i := 0; i < 11; i++ {
		svc.Reply(fmt.Sprintf("message %d", i), "u1_c1", nil)
	}

	assert.Equal(t, 20, cache.Len("u1_c1"))
}

func TestReplyExternalHistorySkipsCacheAndPriming(t *testing.T) {
	var got geminiRequest
	svc, cache, server := newTestService(func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		fmt.Fprint(w, geminiReply("ok"))
	})
	defer server.Close()

	external := []models.Turn{
		{Role: models.RoleUser, Text: "earlier message"},
		{Role: models.RoleModel, Text: "earlier reply"},
	}
	reply := svc.Reply("next message", "u1_c1", external)
	assert.Equal(t, "ok", reply)

	// No persona priming when history is supplied, and no cache write.
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "earlier message", got.Contents[0].Parts[0].Text)
	assert.Equal(t, "next message", got.Contents[2].Parts[0].Text)
	assert.Zero(t, cache.Len("u1_c1"))
}

func TestReplyNormalizesHistory(t *testing.T) {
	var got geminiRequest
	svc, _, server := newTestService(func(w http.ResponseWriter, r *http.Request) {
		got = decodeRequest(t, r)
		fmt.Fprint(w, geminiReply("ok"))
	})
	defer server.Close()

	external := []models.Turn{
		{Role: "assistant", Text: "  padded reply  "},
		{Role: models.RoleUser, Text: "   "},
		{Role: models.RoleUser, Text: "kept"},
	}
	svc.Reply("hello", "u1_c1", external)

	// Unknown role coerced to model, whitespace trimmed, empties dropped.
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "model", got.Contents[0].Role)
	assert.Equal(t, "padded reply", got.Contents[0].Parts[0].Text)
	assert.Equal(t, "kept", got.Contents[1].Parts[0].Text)
}

func TestReplyClientErrorRetriesWithFlattenedPrompt(t *testing.T) {
	calls := 0
	var retry geminiRequest
	svc, cache, server := newTestService(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, `{"error":"bad context"}`, http.StatusBadRequest)
			return
		}
		retry = decodeRequest(t, r)
		fmt.Fprint(w, geminiReply("fresh start"))
	})
	defer server.Close()

	cache.Append("u1_c1", models.Turn{Role: models.RoleUser, Text: "stale"})

	reply := svc.Reply("help me", "u1_c1", nil)
	assert.Equal(t, "fresh start", reply)
	assert.Equal(t, 2, calls)

	// The retry is a single flattened turn with no structured history.
	require.Len(t, retry.Contents, 1)
	assert.Equal(t, "user", retry.Contents[0].Role)
	assert.Contains(t, retry.Contents[0].Parts[0].Text, "Trauma Assistant")
	assert.True(t, strings.HasSuffix(retry.Contents[0].Parts[0].Text, "User: help me"))

	// Stale history gone, fresh exchange cached.
	turns := cache.Turns("u1_c1")
	require.Len(t, turns, 2)
	assert.Equal(t, "help me", turns[0].Text)
	assert.Equal(t, "fresh start", turns[1].Text)
}

func TestReplyClientErrorTwiceReturnsApology(t *testing.T) {
	svc, cache, server := newTestService(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	})
	defer server.Close()

	reply := svc.Reply("help me", "u1_c1", nil)
	assert.Equal(t, retryApology, reply)
	assert.Zero(t, cache.Len("u1_c1"))
}

func TestReplyServerErrorReturnsGenericApology(t *testing.T) {
	calls := 0
	svc, _, server := newTestService(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "upstream down", http.StatusInternalServerError)
	})
	defer server.Close()

	reply := svc.Reply("help me", "u1_c1", nil)
	assert.Equal(t, genericApology, reply)
	assert.Equal(t, 1, calls)
}

func TestReplyMalformedEnvelopeReturnsGenericApology(t *testing.T) {
	svc, _, server := newTestService(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	})
	defer server.Close()

	reply := svc.Reply("help me", "u1_c1", nil)
	assert.Equal(t, genericApology, reply)
}

func TestNormalizeTurns(t *testing.T) {
	turns := normalizeTurns([]models.Turn{
		{Role: models.RoleUser, Text: " hi "},
		{Role: "system", Text: "be nice"},
		{Role: models.RoleModel, Text: ""},
	})

	require.Len(t, turns, 2)
	assert.Equal(t, models.Turn{Role: models.RoleUser, Text: "hi"}, turns[0])
	assert.Equal(t, models.Turn{Role: models.RoleModel, Text: "be nice"}, turns[1])
}
