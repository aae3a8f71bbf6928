// Package messenger is the outbound client for the messaging platform's Send
// and profile APIs.
//
// Delivery is fire-and-forget: every request is attempted once, the raw
// response body is logged, and a non-2xx status is returned to the caller as
// an *APIError. Outbound calls share a token-bucket limiter so a burst of
// inbound events cannot exceed the platform's send rate.
//
// Observability: SendText, SendImage and SenderName open OpenTelemetry spans
// carrying the recipient id.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// MaxTextRunes is the platform's limit for a single text message.
const MaxTextRunes = 640

// Sender is the subset of the client used by the receiver and the worker.
type Sender interface {
	SendText(ctx context.Context, recipientID, text string) error
	SendImage(ctx context.Context, recipientID, imageURL string) error
	SenderName(ctx context.Context, userID string) string
}

// APIError reports a non-2xx response from the platform.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("messenger api: status %d: %s", e.Status, e.Body)
}

// Client talks to the Graph API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	caser   cases.Caser
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a client for baseURL (e.g. https://graph.facebook.com/v2.12)
// authenticating with accessToken. sendRPS <= 0 disables pacing.
func NewClient(baseURL, accessToken string, sendRPS float64, opts ...Option) *Client {
	lim := rate.NewLimiter(rate.Inf, 1)
	if sendRPS > 0 {
		burst := int(sendRPS)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(sendRPS), burst)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   accessToken,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: lim,
		caser:   cases.Title(language.Und, cases.NoLower),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type recipient struct {
	ID string `json:"id"`
}

type attachmentPayload struct {
	URL        string `json:"url"`
	IsReusable bool   `json:"is_reusable"`
}

type attachment struct {
	Type    string            `json:"type"`
	Payload attachmentPayload `json:"payload"`
}

type outMessage struct {
	Text       string      `json:"text,omitempty"`
	Attachment *attachment `json:"attachment,omitempty"`
}

type sendRequest struct {
	Recipient recipient  `json:"recipient"`
	Message   outMessage `json:"message"`
}

// SendText delivers text in consecutive chunks of at most MaxTextRunes runes.
// Empty text sends nothing. The first failing chunk aborts the rest.
func (c *Client) SendText(ctx context.Context, recipientID, text string) error {
	ctx, span := otel.Tracer("messenger").Start(ctx, "SendText",
		trace.WithAttributes(attribute.String("recipient.id", recipientID)))
	defer span.End()

	for _, chunk := range Chunk(text, MaxTextRunes) {
		req := sendRequest{Recipient: recipient{ID: recipientID}, Message: outMessage{Text: chunk}}
		if err := c.send(ctx, req); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// SendImage delivers imageURL as a non-reusable image attachment.
func (c *Client) SendImage(ctx context.Context, recipientID, imageURL string) error {
	ctx, span := otel.Tracer("messenger").Start(ctx, "SendImage",
		trace.WithAttributes(attribute.String("recipient.id", recipientID)))
	defer span.End()

	req := sendRequest{
		Recipient: recipient{ID: recipientID},
		Message: outMessage{Attachment: &attachment{
			Type:    "image",
			Payload: attachmentPayload{URL: imageURL, IsReusable: false},
		}},
	}
	if err := c.send(ctx, req); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// SenderName returns a greeting prefix "Hey <FirstName>, " for userID, or ""
// when the profile cannot be fetched.
func (c *Client) SenderName(ctx context.Context, userID string) string {
	ctx, span := otel.Tracer("messenger").Start(ctx, "SenderName",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return ""
	}
	q := url.Values{}
	q.Set("fields", "first_name")
	q.Set("access_token", c.token)
	endpoint := c.baseURL + "/" + url.PathEscape(userID) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return ""
	}
	var profile struct {
		FirstName string `json:"first_name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&profile); err != nil {
		return ""
	}
	name := strings.TrimSpace(profile.FirstName)
	if name == "" {
		return ""
	}
	return "Hey " + c.caser.String(name) + ", "
}

func (c *Client) send(ctx context.Context, payload sendRequest) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	endpoint := c.baseURL + "/me/messages?access_token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("messenger send: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	log.Ctx(ctx).Debug().
		Str("recipient_id", payload.Recipient.ID).
		Int("status", resp.StatusCode).
		Str("response", string(raw)).
		Msg("messenger send")

	if resp.StatusCode/100 != 2 {
		return &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	return nil
}

// Chunk splits s into consecutive pieces of at most size runes. It returns
// nil for an empty string.
func Chunk(s string, size int) []string {
	if s == "" || size <= 0 {
		return nil
	}
	runes := []rune(s)
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
