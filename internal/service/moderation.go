package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"app/internal/config"
	"app/internal/model"

	"github.com/rs/zerolog"
)

const chatCompletionsEndpoint = "/chat/completions"

// Submission carries the user-provided profile fields of one message.
type Submission struct {
	Name   string
	Age    *int
	Gender *string
	Mood   *string
}

// Verdict is the moderation outcome: a status and the generated reply text,
// or a diagnostic explanation when the message was rejected.
type Verdict struct {
	Status   model.Status `json:"status"`
	Response string       `json:"response"`
}

// Moderator evaluates a submission against the upstream text service.
//
// Evaluate is fail-closed: it never escalates an upstream fault. Any failure
// (cancelled wait, network error, malformed or schema-violating reply) yields
// a restricted verdict carrying a diagnostic, so an upstream outage rejects
// new content instead of admitting it unmoderated.
type Moderator interface {
	Evaluate(ctx context.Context, sub Submission, priorTexts []string) Verdict
}

type openAIModerator struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	sem     chan struct{}
	logger  zerolog.Logger
}

// NewOpenAIModerator creates a moderator backed by an OpenAI-compatible
// chat-completions endpoint. At most cfg.ModerationMaxInFlight upstream calls
// run concurrently; callers past the ceiling wait, honoring ctx cancellation.
func NewOpenAIModerator(cfg *config.Config, apiKey string, logger zerolog.Logger) Moderator {
	maxInFlight := cfg.ModerationMaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &openAIModerator{
		client: &http.Client{
			Timeout: time.Duration(cfg.ModerationTimeoutSec) * time.Second,
		},
		baseURL: strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		apiKey:  apiKey,
		model:   cfg.OpenAIModel,
		sem:     make(chan struct{}, maxInFlight),
		logger:  logger.With().Str("service", "Moderator").Logger(),
	}
}

func (m *openAIModerator) Evaluate(ctx context.Context, sub Submission, priorTexts []string) Verdict {
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return restrictedVerdict(fmt.Sprintf("moderation cancelled while waiting for a slot: %v", ctx.Err()))
	}

	verdict, err := m.check(ctx, sub, priorTexts)
	if err != nil {
		m.logger.Error().Err(err).Str("name", sub.Name).Msg("Moderation call failed, failing closed")
		return restrictedVerdict(fmt.Sprintf("moderation check failed: %v", err))
	}
	return *verdict
}

func restrictedVerdict(diagnostic string) Verdict {
	return Verdict{Status: model.StatusRestricted, Response: diagnostic}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat json.RawMessage `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// verdictSchema constrains the upstream reply to exactly the verdict shape.
const verdictSchema = `{
	"type": "json_schema",
	"json_schema": {
		"name": "moderation_result",
		"schema": {
			"type": "object",
			"properties": {
				"response": {
					"type": "string",
					"description": "Generated reply text, or a brief explanation of the rejection"
				},
				"status": {
					"type": "string",
					"enum": ["ok", "restricted"],
					"description": "'ok' if the message is approved, 'restricted' if rejected"
				}
			},
			"required": ["response", "status"],
			"additionalProperties": false
		},
		"strict": true
	}
}`

func (m *openAIModerator) check(ctx context.Context, sub Submission, priorTexts []string) (*Verdict, error) {
	reqBody := chatRequest{
		Model: m.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(priorTexts)},
			{Role: "user", Content: userPrompt(sub, priorTexts)},
		},
		ResponseFormat: json.RawMessage(verdictSchema),
	}
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+chatCompletionsEndpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("creating moderation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling moderation endpoint: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading moderation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return nil, fmt.Errorf("moderation endpoint returned HTTP %d: %s", resp.StatusCode, errorResp.Error.Message)
		}
		return nil, fmt.Errorf("moderation endpoint returned HTTP %d", resp.StatusCode)
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("invalid response format from moderation endpoint: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("moderation response contains no choices")
	}

	return parseVerdict(completion.Choices[0].Message.Content)
}

// parseVerdict decodes the model's JSON content and enforces the verdict
// schema: both fields present, status inside the enum.
func parseVerdict(content string) (*Verdict, error) {
	var raw struct {
		Status   *string `json:"status"`
		Response *string `json:"response"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parsing verdict content: %w", err)
	}
	if raw.Status == nil || raw.Response == nil {
		return nil, fmt.Errorf("verdict is missing 'status' or 'response'")
	}
	status := model.Status(*raw.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("verdict status %q is not 'ok' or 'restricted'", *raw.Status)
	}
	return &Verdict{Status: status, Response: *raw.Response}, nil
}

func systemPrompt(priorTexts []string) string {
	var b strings.Builder
	b.WriteString("Previously approved messages:\n")
	b.WriteString(formatPriorTexts(priorTexts))
	b.WriteString("\n\n")
	b.WriteString(`You are the moderator of a creative content platform. Reply strictly as JSON with the fields "status" and "response".

Moderation rules:
1. The user's name is screened first and most strictly. If the name contains profanity, insults, political slogans or calls to action, references to war, armies or soldiers, territorial or nationalist claims, or any provocative phrase tied to war or politics, reject the message immediately.
2. If the gender, age or mood fields contain any such content, reject the message as well.
3. When rejecting, answer:
{"status": "restricted", "response": "The message did not pass moderation."}
4. When there are no violations, approve with status "ok" and generate a short greeting in the "response" field based on the templates below. Pick a template matching the gender and mood; if either is unspecified, pick any fitting one. Rephrase the template slightly so it stays short and on the same theme but is worded differently. Never repeat the texts of previously approved messages.

Reply templates:
### Women, bad mood
- [Name], switch off the gloom, it has terrible taste.
- [Name], breathe out and straighten your crown.
- [Name], book a holiday, your soul needs one.
- [Name], just live beautifully today, no explanations needed.

### Women, neutral mood
- [Name], plan a getaway and forget your email password.
- [Name], no rush, a star always arrives in style.
- [Name], pay yourself a compliment, it will be the most accurate one.
- [Name], grey day? Put on a brighter mood.

### Women, great mood
- [Name], you are a celebration without a reason today.
- [Name], even the sun asked for your autograph.
- [Name], don't be modest, modesty is boring.
- [Name], the sparkle is on record, keep it on.

### Men, bad mood
- [Name], take a break, the heroics can wait.
- [Name], gloom doesn't suit you, bring the smile back.
- [Name], everything passes, even the deadline.
- [Name], even superheroes need to lie down.

### Men, neutral mood
- [Name], live beautifully, even without a reason.
- [Name], add some charisma and the day improves.
- [Name], smile, life is watching.
- [Name], fewer chores, more shine.

### Men, great mood
- [Name], you are tonight's premiere, no retakes.
- [Name], shine at maximum, don't blind the crowd.
- [Name], don't be modest, it's not your genre.
- [Name], you are magnificent, no further comment.

Always substitute the user's name for [Name].`)
	return b.String()
}

func userPrompt(sub Submission, priorTexts []string) string {
	age := Unspecified
	if sub.Age != nil {
		age = strconv.Itoa(*sub.Age)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", sub.Name)
	fmt.Fprintf(&b, "Gender: %s\n", NormalizeGender(sub.Gender))
	fmt.Fprintf(&b, "Age: %s\n", age)
	fmt.Fprintf(&b, "Mood: %s", NormalizeMood(sub.Mood))
	if len(priorTexts) > 0 {
		b.WriteString("\nPrevious messages for reference (do not repeat them):\n")
		b.WriteString(strings.Join(priorTexts, "\n"))
	}
	return b.String()
}

func formatPriorTexts(priorTexts []string) string {
	if len(priorTexts) == 0 {
		return "None."
	}
	lines := make([]string, len(priorTexts))
	for i, text := range priorTexts {
		lines[i] = fmt.Sprintf("%d. %s", i+1, text)
	}
	return strings.Join(lines, "\n")
}
