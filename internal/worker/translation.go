package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buiilding/Nova-Voice/internal/config"
	"github.com/buiilding/Nova-Voice/internal/logger"
	"github.com/buiilding/Nova-Voice/internal/metrics"
	"github.com/buiilding/Nova-Voice/internal/protocol"
	"github.com/buiilding/Nova-Voice/internal/stream"
)

// Translator converts text between languages.
type Translator interface {
	// Translate returns text rendered from sourceLang into targetLang.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Translation consumes transcriptions awaiting translation and publishes the
// completed two-stage results.
type Translation struct {
	id         string
	consumer   *stream.Consumer
	bus        *stream.ResultBus
	translator Translator
}

// NewTranslation creates a translation worker on the transcriptions consumer
// group.
func NewTranslation(client *redis.Client, translator Translator) *Translation {
	id := ID(workerTranslation)
	return &Translation{
		id:         id,
		consumer:   stream.NewConsumer(client, config.TranscriptionsStream, config.TranslationConsumerGroup, id),
		bus:        stream.NewResultBus(client),
		translator: translator,
	}
}

// Run consumes transcriptions until the context is cancelled.
func (w *Translation) Run(ctx context.Context) error {
	logger.Info("translation worker starting", "worker_id", w.id)
	return w.consumer.Run(logger.WithWorkerID(ctx, w.id), w.handle)
}

func (w *Translation) handle(ctx context.Context, entryID string, values map[string]interface{}) error {
	t, err := protocol.TranscriptionFromStreamValues(values)
	if err != nil {
		logger.Warn("discarding malformed transcription row", "entry_id", entryID, "error", err)
		return nil
	}

	start := time.Now()
	translation, err := w.translator.Translate(ctx, t.Text, t.SourceLang, t.TargetLang)
	elapsed := time.Since(start)

	if err != nil {
		logger.Error("translation failed",
			"worker_id", w.id, "job_id", t.JobID, "client_id", t.ClientID, "error", err)
		metrics.RecordWorkerJob(workerTranslation, metrics.StatusError, elapsed.Seconds())
		return w.bus.Publish(ctx, &protocol.Result{
			Status:             protocol.StatusError,
			JobID:              t.JobID,
			ClientID:           t.ClientID,
			SegmentID:          strconv.FormatInt(t.SegmentID, 10),
			Text:               t.Text,
			SourceLang:         t.SourceLang,
			TargetLang:         t.TargetLang,
			TranslationEnabled: true,
			IsFinal:            t.IsFinal,
			WorkerID:           w.id,
			Timestamp:          float64(time.Now().UnixNano()) / float64(time.Second),
			Error:              err.Error(),
		})
	}

	result := &protocol.Result{
		Status:             protocol.StatusOK,
		JobID:              t.JobID,
		ClientID:           t.ClientID,
		SegmentID:          strconv.FormatInt(t.SegmentID, 10),
		Text:               t.Text,
		Translation:        translation,
		SourceLang:         t.SourceLang,
		TargetLang:         t.TargetLang,
		TranslationEnabled: true,
		IsFinal:            t.IsFinal,
		ProcessingTime:     elapsed.Seconds(),
		AudioDuration:      t.AudioDuration,
		WorkerID:           w.id,
		Timestamp:          float64(time.Now().UnixNano()) / float64(time.Second),
	}
	if err := w.bus.Publish(ctx, result); err != nil {
		return err
	}

	metrics.RecordWorkerJob(workerTranslation, metrics.StatusSuccess, elapsed.Seconds())
	logger.Debug("transcription translated",
		"worker_id", w.id, "job_id", t.JobID, "client_id", t.ClientID,
		"seconds", elapsed.Seconds())
	return nil
}
