package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
)

// message is the common payload of every chat API variant.
type message struct {
	Message        string   `json:"message"`
	Title          string   `json:"title"`
	MessageID      string   `json:"messageId"`
	Username       string   `json:"username"`
	SenderUsername string   `json:"senderUsername"`
	Sender         string   `json:"sender"`
	AlertID        string   `json:"alertId"`
	Severity       string   `json:"severity"`
	Urgency        string   `json:"urgency"`
	Certainty      string   `json:"certainty"`
	Source         string   `json:"source"`
	Type           string   `json:"type"`
	IsAPIMessage   bool     `json:"isApiMessage"`
	Location       location `json:"location"`
	RecipientID    string   `json:"recipientId,omitempty"`
}

type location struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	FuzzyLocation bool    `json:"fuzzyLocation"`
}

type stageOutcome int

const (
	stageOK stageOutcome = iota
	stageFailed
	stageUnauthorized
	stageRateLimited
)

func (o stageOutcome) String() string {
	switch o {
	case stageOK:
		return "success"
	case stageUnauthorized:
		return "unauthorized"
	case stageRateLimited:
		return "rate_limited"
	default:
		return "error"
	}
}

type stageResult struct {
	outcome    stageOutcome
	err        error
	retryAfter time.Duration
}

func stageError(err error) stageResult {
	return stageResult{outcome: stageFailed, err: err}
}

// authSession tracks authentication for one publish call:
// unauthenticated -> authenticated -> (401) -> refreshed -> (401) -> exhausted.
type authSession struct {
	bot       domain.BotHandle
	refreshed bool
}

// ensure authenticates if the bot has no token yet. It does not use up the
// refresh.
func (a *authSession) ensure(ctx context.Context) error {
	if a.bot.AuthToken() != "" {
		return nil
	}
	if err := a.bot.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate bot: %w", err)
	}
	return nil
}

// refresh re-authenticates after a 401, at most once per session.
func (a *authSession) refresh(ctx context.Context) error {
	if a.refreshed {
		return fmt.Errorf("%w: retry already used", domain.ErrAuthExpired)
	}
	a.refreshed = true
	if err := a.bot.Authenticate(ctx); err != nil {
		return fmt.Errorf("%w: re-authenticate: %v", domain.ErrAuthExpired, err)
	}
	return nil
}

type sendFunc func(ctx context.Context, token string) stageResult

// withAuthRetry runs send and, on a 401, refreshes the token and runs it once more.
func (p *Publisher) withAuthRetry(ctx context.Context, auth *authSession, send sendFunc) stageResult {
	res := send(ctx, auth.bot.AuthToken())
	if res.outcome != stageUnauthorized {
		return res
	}
	if err := auth.refresh(ctx); err != nil {
		return stageResult{outcome: stageUnauthorized, err: errors.Join(res.err, err)}
	}
	p.metrics.Reauthentications.Inc()
	p.logger.Info("bot re-authenticated after 401")
	return send(ctx, auth.bot.AuthToken())
}

func (p *Publisher) imageStage(ctx context.Context, fa domain.FormattedAlert, msg message, tgt target, auth *authSession) stageResult {
	res := p.sendImage(ctx, fa, msg, tgt, auth)
	p.metrics.PublishAttempts.WithLabelValues(tgt.kind, string(PathImage), res.outcome.String()).Inc()
	return res
}

func (p *Publisher) sendImage(ctx context.Context, fa domain.FormattedAlert, msg message, tgt target, auth *authSession) stageResult {
	a, err := p.assets.fetch(ctx, p.assets.imageURL(fa.Icon))
	if err != nil {
		return stageError(err)
	}
	tmpPath, cleanup, err := p.assets.writeTemp(a)
	defer cleanup()
	if err != nil {
		return stageError(err)
	}

	return p.withAuthRetry(ctx, auth, func(ctx context.Context, token string) stageResult {
		body, contentType, err := multipartBody(msg, tmpPath, a.contentType)
		if err != nil {
			return stageError(err)
		}
		return p.post(ctx, tgt.imagePath, token, contentType, body)
	})
}

func (p *Publisher) textStage(ctx context.Context, msg message, tgt target, auth *authSession) stageResult {
	res := p.withAuthRetry(ctx, auth, func(ctx context.Context, token string) stageResult {
		body, err := json.Marshal(msg)
		if err != nil {
			return stageError(fmt.Errorf("encode message: %w", err))
		}
		return p.post(ctx, tgt.textPath, token, "application/json", body)
	})
	p.metrics.PublishAttempts.WithLabelValues(tgt.kind, string(PathText), res.outcome.String()).Inc()
	return res
}

func (p *Publisher) post(ctx context.Context, path, token, contentType string, body []byte) stageResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return stageError(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stageError(fmt.Errorf("post %s: %w", path, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return stageResult{outcome: stageOK}
	case resp.StatusCode == http.StatusUnauthorized:
		return stageResult{outcome: stageUnauthorized, err: fmt.Errorf("%w: post %s: status 401", domain.ErrAuthExpired, path)}
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := p.rateLimit.Record(resp.Header.Get("Retry-After"))
		return stageResult{
			outcome:    stageRateLimited,
			err:        &domain.RateLimitError{RetryAfter: wait},
			retryAfter: wait,
		}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return stageError(fmt.Errorf("chat api error: post %s: status %d: %s", path, resp.StatusCode, snippet))
	}
}

func multipartBody(msg message, imagePath, imageType string) ([]byte, string, error) {
	locJSON, err := json.Marshal(msg.Location)
	if err != nil {
		return nil, "", fmt.Errorf("encode location: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"message", msg.Message},
		{"title", msg.Title},
		{"messageId", msg.MessageID},
		{"username", msg.Username},
		{"senderUsername", msg.SenderUsername},
		{"sender", msg.Sender},
		{"alertId", msg.AlertID},
		{"severity", msg.Severity},
		{"urgency", msg.Urgency},
		{"certainty", msg.Certainty},
		{"source", msg.Source},
		{"type", msg.Type},
		{"isApiMessage", strconv.FormatBool(msg.IsAPIMessage)},
		{"location", string(locJSON)},
	}
	if msg.RecipientID != "" {
		fields = append(fields, [2]string{"recipientId", msg.RecipientID})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(imagePath)))
	h.Set("Content-Type", imageType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
