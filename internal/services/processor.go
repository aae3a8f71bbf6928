// Package services – Processor
//
// This file implements the per-image work of the segmentation worker: fetch
// the stored raw image, run instance segmentation, paint the selected
// instances with noise, store the PNG result under fb/processed/<sender>/<file>
// and send its public URL back to the sender.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-person-blocker/internal/blocker"
	"github.com/tbourn/go-person-blocker/internal/messenger"
	"github.com/tbourn/go-person-blocker/internal/segment"
	"github.com/tbourn/go-person-blocker/internal/storage"
)

// Processor turns a raw stored image into a masked one and delivers it.
type Processor struct {
	Fetcher   ImageFetcher
	Segmenter segment.Segmenter
	Blocker   *blocker.Blocker
	Targets   map[int]bool
	Store     storage.ObjectStore
	Messenger messenger.Sender

	// OnSegment, when set, observes each inference duration.
	OnSegment func(time.Duration)
}

// ProcessImage masks the image at imageURL for senderID and returns the key
// of the stored result. A failed image delivery is reported to the sender as
// text and does not fail the call.
func (p *Processor) ProcessImage(ctx context.Context, imageURL, senderID string) (string, error) {
	ctx, span := otel.Tracer("services/Processor").Start(ctx, "ProcessImage",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.String("image.url", imageURL),
		),
	)
	defer span.End()

	data, err := p.Fetcher.Fetch(ctx, imageURL)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	img, err := blocker.Decode(data)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	start := time.Now()
	instances, err := p.Segmenter.Segment(ctx, img)
	if p.OnSegment != nil {
		p.OnSegment(time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("segment: %w", err)
	}

	b := img.Bounds()
	sel := blocker.Select(b.Dx(), b.Dy(), instances, p.Targets)
	span.SetAttributes(
		attribute.Int("instances", len(instances)),
		attribute.Int("masked_pixels", sel.Count()),
	)
	out, err := blocker.EncodePNG(p.Blocker.Apply(img, sel))
	if err != nil {
		return "", err
	}

	key := storage.ProcessedKey(senderID, FilenameFromURL(imageURL))
	if err := p.Store.Put(ctx, key, out, "image/png"); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("store result: %w", err)
	}
	resultURL := p.Store.URL(key)
	log.Ctx(ctx).Info().Str("key", key).Int("instances", len(instances)).Msg("image masked")

	if err := p.Messenger.SendImage(ctx, senderID, resultURL); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("url", resultURL).Msg("image not delivered")
		if terr := p.Messenger.SendText(ctx, senderID, fmt.Sprintf(msgError, err)); terr != nil {
			log.Ctx(ctx).Warn().Err(terr).Msg("error notice not delivered")
		}
	}
	return key, nil
}
