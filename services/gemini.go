package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"trauma-chat/models"
)

const personaPrompt = `You are "Trauma Assistant", a compassionate and professional trauma therapist.
Your role:
- Provide empathetic, supportive, and non-judgmental responses.
- Encourage safe emotional expression.
- Offer gentle coping strategies (like breathing exercises, grounding techniques).
- Never replace a real therapist, but act as a helpful companion.
- Be concise, but warm and caring.`

const personaAck = "I understand. I'm here to provide compassionate support as your Trauma Assistant. How can I help you today?"

// Fixed user-facing fallbacks. The provider never surfaces raw upstream
// errors.
const (
	retryApology   = "I apologize, but I'm having trouble processing your message. Please try starting a new conversation."
	genericApology = "Sorry, I couldn't process that right now. Please try again."
)

const (
	maxOutputTokens = 1000
	temperature     = 0.7
)

// GeminiService calls the Gemini generateContent endpoint with the persona
// framing and the conversation so far.
type GeminiService struct {
	apiKey string
	apiURL string
	client *http.Client
	cache  *HistoryCache
}

// NewGeminiService creates a Gemini service backed by cache for
// conversations with no persisted history.
func NewGeminiService(apiKey, apiURL string, cache *HistoryCache) *GeminiService {
	return &GeminiService{
		apiKey: apiKey,
		apiURL: apiURL,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		cache: cache,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Reply produces displayable assistant text for message. It never fails:
// upstream errors collapse into one of the fixed apology strings.
//
// When external is nil the per-key cache supplies the history and is
// updated with the exchange afterwards; otherwise the caller's history is
// used as-is and the cache is left untouched.
func (s *GeminiService) Reply(message, sessionKey string, external []models.Turn) string {
	message = strings.TrimSpace(message)
	useCache := external == nil

	var history []models.Turn
	if useCache {
		history = s.cache.Turns(sessionKey)
	} else {
		history = external
	}
	history = normalizeTurns(history)

	contents := make([]geminiContent, 0, len(history)+3)

	// A fresh conversation gets the persona framing as a synthetic first
	// exchange; Gemini has no separate system role here.
	primed := len(history) == 0
	if primed {
		contents = append(contents,
			textContent(models.RoleUser, personaPrompt),
			textContent(models.RoleModel, personaAck),
		)
	}
	for _, t := range history {
		contents = append(contents, textContent(t.Role, t.Text))
	}
	contents = append(contents, textContent(models.RoleUser, message))

	reply, status, err := s.generate(contents)
	if err == nil {
		if useCache {
			turns := make([]models.Turn, 0, 4)
			if primed {
				turns = append(turns,
					models.Turn{Role: models.RoleUser, Text: personaPrompt},
					models.Turn{Role: models.RoleModel, Text: personaAck},
				)
			}
			turns = append(turns,
				models.Turn{Role: models.RoleUser, Text: message},
				models.Turn{Role: models.RoleModel, Text: reply},
			)
			s.cache.Append(sessionKey, turns...)
		}
		return reply
	}

	log.Printf("Gemini error (status %d): %v", status, err)

	if status >= 400 && status < 500 {
		// The conversation context itself may be the problem. Reset it and
		// retry once with a single flattened turn.
		s.cache.Clear(sessionKey)

		retry := []geminiContent{
			textContent(models.RoleUser, fmt.Sprintf("%s\n\nUser: %s", personaPrompt, message)),
		}
		reply, _, retryErr := s.generate(retry)
		if retryErr != nil {
			log.Printf("Gemini retry failed: %v", retryErr)
			return retryApology
		}

		if useCache {
			s.cache.Append(sessionKey,
				models.Turn{Role: models.RoleUser, Text: message},
				models.Turn{Role: models.RoleModel, Text: reply},
			)
		}
		return reply
	}

	return genericApology
}

// generate performs one generateContent call and extracts the first
// candidate's first part. The returned status is the HTTP status code, or
// 0 when the request never completed.
func (s *GeminiService) generate(contents []geminiContent) (string, int, error) {
	reqBody := geminiRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			MaxOutputTokens: maxOutputTokens,
			Temperature:     temperature,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.apiURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, string(body))
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return "", resp.StatusCode, fmt.Errorf("empty response from Gemini")
	}

	return geminiResp.Candidates[0].Content.Parts[0].Text, resp.StatusCode, nil
}

func textContent(role models.Role, text string) geminiContent {
	return geminiContent{
		Role:  string(role),
		Parts: []geminiPart{{Text: text}},
	}
}

// normalizeTurns coerces roles to user/model, trims text, and drops turns
// left empty.
func normalizeTurns(turns []models.Turn) []models.Turn {
	out := make([]models.Turn, 0, len(turns))
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		role := models.RoleModel
		if t.Role == models.RoleUser {
			role = models.RoleUser
		}
		out = append(out, models.Turn{Role: role, Text: text})
	}
	return out
}
