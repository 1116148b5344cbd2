package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/glazeapp/glaze/internal/generation"
	"github.com/glazeapp/glaze/internal/kafka"
	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/internal/model"
	"github.com/glazeapp/glaze/internal/provider"
	"github.com/glazeapp/glaze/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// generationHandler runs one image generation per message and settles the
// outcome. Provider failures settle the generation as FAILED, which refunds
// the user; only infrastructure errors are returned for retry.
func generationHandler(generations *generation.Service, providerClient *provider.Client, log *zerolog.Logger) kafka.Handler {
	return func(ctx context.Context, msg *kafka.Message) error {
		log.Info().Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("Processing generation job")

		var job types.GenerationJobEvent
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			log.Error().Err(err).Msg("Failed to unmarshal generation job, dropping message")
			return nil
		}

		generationID, err := uuid.Parse(job.GenerationID)
		if err != nil {
			log.Error().Err(err).Str("generation_id", job.GenerationID).Msg("Invalid generation id, dropping message")
			return nil
		}

		ctx = context.WithValue(ctx, middleware.LoggerKey, log)

		// Skip jobs that were already settled (redelivery after a crash
		// between provider call and offset commit).
		g, err := generations.Get(ctx, generationID)
		if errors.Is(err, generation.ErrGenerationNotFound) {
			log.Warn().Str("generation_id", job.GenerationID).Msg("Generation row not found yet, retrying")
			return err
		}
		if err != nil {
			return err
		}
		if g.Status != model.GenerationQueued {
			log.Info().Str("generation_id", job.GenerationID).Str("status", string(g.Status)).Msg("Generation already settled, skipping")
			return nil
		}

		resultURL, genErr := providerClient.Generate(ctx, job.Model, job.Prompt)
		if genErr != nil {
			log.Warn().Err(genErr).Str("generation_id", job.GenerationID).Msg("Provider generation failed, settling with refund")
			return generations.Settle(ctx, generationID, false, "", genErr.Error())
		}

		return generations.Settle(ctx, generationID, true, resultURL, "")
	}
}
