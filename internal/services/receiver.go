// Package services – Receiver
//
// This file implements the webhook side of the bot. Receiver classifies each
// messaging item of an inbound event and replies to the sender: postbacks get
// a greeting, text gets a short explanation, and image attachments are
// fetched, stored under fb/raw/<sender>/<file>, recorded as a Job and put on
// the work queue.
//
// One failing messaging item or attachment never stops the others; its error
// is logged and reported to that sender. Replies are fire-and-forget.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-person-blocker/internal/domain"
	"github.com/tbourn/go-person-blocker/internal/messenger"
	"github.com/tbourn/go-person-blocker/internal/queue"
	"github.com/tbourn/go-person-blocker/internal/repo"
	"github.com/tbourn/go-person-blocker/internal/storage"
)

// Reply texts.
const (
	DefaultGreeting = "Hello World"

	msgGetStarted   = "%s\n Let's get start and send some image to hide human from that it"
	msgTextNotDone  = "%s\n I am not designed to handle text: %s\nSend me an image to hide human from that it. "
	msgGIF          = "%s GIF not supported."
	msgBatched      = "Black Mirror on work. It has been batched. Have Patience. Thanks"
	msgInvalidImage = "Not a valid Image"
	msgUnknown      = "I don't understand your request"
	msgError        = "Got an error:%v"
)

// ImageFetcher downloads inbound images.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Receiver handles webhook events.
type Receiver struct {
	DB        *gorm.DB
	Store     storage.ObjectStore
	Queue     queue.Queue
	Messenger messenger.Sender
	Fetcher   ImageFetcher

	// VerifyToken, when set, must match hub.verify_token on handshakes that
	// carry one.
	VerifyToken string
}

// VerifySubscription answers the platform's webhook handshake: it echoes
// hub.challenge when present and the fixed greeting otherwise.
func (r *Receiver) VerifySubscription(q url.Values) (string, error) {
	if r.VerifyToken != "" && q.Has("hub.verify_token") && q.Get("hub.verify_token") != r.VerifyToken {
		return "", ErrVerifyToken
	}
	if q.Has("hub.challenge") {
		return q.Get("hub.challenge"), nil
	}
	return DefaultGreeting, nil
}

// HandleEvent decodes body and processes every messaging item of every entry.
// A body without an entry list is logged and ignored. Only a body that cannot
// be decoded is an error.
func (r *Receiver) HandleEvent(ctx context.Context, body []byte) error {
	ctx, span := otel.Tracer("services/Receiver").Start(ctx, "HandleEvent")
	defer span.End()

	var ev domain.InboundEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		span.RecordError(err)
		return fmt.Errorf("decode event: %w", err)
	}
	if ev.Entry == nil {
		log.Ctx(ctx).Info().Msg("No entry found to process")
		return nil
	}

	for _, entry := range ev.Entry {
		for _, m := range entry.Messaging {
			r.handleMessaging(ctx, m)
		}
	}
	return nil
}

func (r *Receiver) handleMessaging(ctx context.Context, m domain.Messaging) {
	senderID := m.Sender.ID
	kind := m.Kind()
	ctx, span := otel.Tracer("services/Receiver").Start(ctx, "handleMessaging",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.String("messaging.kind", kind.String()),
		),
	)
	defer span.End()

	logger := log.Ctx(ctx).With().Str("sender_id", senderID).Str("kind", kind.String()).Logger()
	ctx = logger.WithContext(ctx)

	name := r.Messenger.SenderName(ctx, senderID)

	switch kind {
	case domain.KindPostback:
		r.reply(ctx, senderID, fmt.Sprintf(msgGetStarted, name))
	case domain.KindText:
		r.reply(ctx, senderID, fmt.Sprintf(msgTextNotDone, name, *m.Message.Text))
	case domain.KindAttachments:
		for _, a := range m.Message.Attachments {
			if !a.IsImage() {
				r.reply(ctx, senderID, msgInvalidImage)
				continue
			}
			if err := r.acceptImage(ctx, senderID, name, a.Payload.URL); err != nil {
				span.RecordError(err)
				logger.Error().Err(err).Str("url", a.Payload.URL).Msg("image not accepted")
				r.reply(ctx, senderID, fmt.Sprintf(msgError, err))
			}
		}
	default:
		r.reply(ctx, senderID, msgUnknown)
	}
}

// acceptImage stores and enqueues one image attachment. GIFs are refused
// with a reply and no error.
func (r *Receiver) acceptImage(ctx context.Context, senderID, name, imageURL string) error {
	filename := FilenameFromURL(imageURL)
	if strings.HasSuffix(strings.ToLower(filename), "gif") {
		r.reply(ctx, senderID, fmt.Sprintf(msgGIF, name))
		return nil
	}
	if filename == "" {
		return fmt.Errorf("no file name in %q", imageURL)
	}

	data, err := r.Fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return err
	}
	key := storage.RawKey(senderID, filename)
	if err := r.Store.Put(ctx, key, data, contentTypeFor(filename)); err != nil {
		return fmt.Errorf("store image: %w", err)
	}
	publicURL := r.Store.URL(key)

	job, err := repo.CreateJob(ctx, r.DB, uuid.NewString(), senderID, publicURL, key)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	err = r.Queue.Send(ctx, queue.Item{
		Body:    publicURL,
		GroupID: queue.DefaultGroup,
		DedupID: queue.DedupID(senderID, publicURL),
		Attributes: map[string]string{
			queue.AttrSenderID: senderID,
			queue.AttrJobID:    job.ID,
		},
	})
	switch {
	case errors.Is(err, queue.ErrDuplicate):
		// Already batched recently; the earlier job stands.
		_ = repo.DeleteJob(ctx, r.DB, job.ID)
	case err != nil:
		_ = repo.MarkJobFailed(ctx, r.DB, job.ID, err.Error())
		return fmt.Errorf("enqueue: %w", err)
	default:
		log.Ctx(ctx).Info().Str("job_id", job.ID).Str("key", key).Msg("image batched")
	}

	r.reply(ctx, senderID, msgBatched)
	return nil
}

// reply sends text and only logs failures.
func (r *Receiver) reply(ctx context.Context, recipientID, text string) {
	if err := r.Messenger.SendText(ctx, recipientID, text); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("reply not delivered")
	}
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
