package worker

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buiilding/Nova-Voice/internal/config"
	"github.com/buiilding/Nova-Voice/internal/logger"
	"github.com/buiilding/Nova-Voice/internal/metrics"
	"github.com/buiilding/Nova-Voice/internal/protocol"
	"github.com/buiilding/Nova-Voice/internal/stream"
)

// Transcriber converts an audio segment to text.
type Transcriber interface {
	// Transcribe returns the transcription of 16-bit mono PCM audio at the
	// given sample rate, in the given source language.
	Transcribe(ctx context.Context, audio []byte, sampleRate int, sourceLang string) (string, error)
}

// STT consumes audio jobs, transcribes them, and publishes results. When a
// job wants translation and the transcription is non-empty, it also appends
// the transcription to the translation stream.
type STT struct {
	id             string
	consumer       *stream.Consumer
	transcriptions *stream.Stream
	bus            *stream.ResultBus
	transcriber    Transcriber
}

// NewSTT creates an STT worker on the audio-jobs consumer group.
func NewSTT(client *redis.Client, transcriber Transcriber) *STT {
	id := ID(workerSTT)
	return &STT{
		id:             id,
		consumer:       stream.NewConsumer(client, config.AudioJobsStream, config.STTConsumerGroup, id),
		transcriptions: stream.NewStream(client, config.TranscriptionsStream),
		bus:            stream.NewResultBus(client),
		transcriber:    transcriber,
	}
}

// Run consumes jobs until the context is cancelled.
func (w *STT) Run(ctx context.Context) error {
	logger.Info("stt worker starting", "worker_id", w.id)
	return w.consumer.Run(logger.WithWorkerID(ctx, w.id), w.handle)
}

// handle processes one job row. Malformed rows are discarded; transcription
// failures produce an error result so the gateway can unblock the client.
func (w *STT) handle(ctx context.Context, entryID string, values map[string]interface{}) error {
	job, err := protocol.JobFromStreamValues(values)
	if err != nil {
		logger.Warn("discarding malformed job row", "entry_id", entryID, "error", err)
		return nil
	}

	start := time.Now()
	text, err := w.transcriber.Transcribe(ctx, job.Audio, job.SampleRate, job.SourceLang)
	elapsed := time.Since(start)

	if err != nil {
		logger.Error("transcription failed",
			"worker_id", w.id, "job_id", job.JobID, "client_id", job.ClientID, "error", err)
		metrics.RecordWorkerJob(workerSTT, metrics.StatusError, elapsed.Seconds())
		return w.publishError(ctx, job, err)
	}

	result := w.buildResult(job, text, elapsed)
	if err := w.bus.Publish(ctx, result); err != nil {
		// Leave the job pending; redelivery retries the publish.
		return err
	}

	if job.TranslationEnabled && strings.TrimSpace(text) != "" {
		if err := w.appendTranscription(ctx, job, text, result.AudioDuration); err != nil {
			logger.Error("transcription stream append failed",
				"worker_id", w.id, "job_id", job.JobID, "error", err)
		}
	}

	metrics.RecordWorkerJob(workerSTT, metrics.StatusSuccess, elapsed.Seconds())
	logger.Debug("job transcribed",
		"worker_id", w.id, "job_id", job.JobID, "client_id", job.ClientID,
		"chars", len(text), "seconds", elapsed.Seconds())
	return nil
}

func (w *STT) buildResult(job *protocol.Job, text string, elapsed time.Duration) *protocol.Result {
	return &protocol.Result{
		Status:             protocol.StatusOK,
		JobID:              job.JobID,
		ClientID:           job.ClientID,
		SegmentID:          strconv.FormatInt(job.SegmentID, 10),
		Text:               text,
		SourceLang:         job.SourceLang,
		TargetLang:         job.TargetLang,
		TranslationEnabled: job.TranslationEnabled,
		IsFinal:            job.IsFinal,
		ProcessingTime:     elapsed.Seconds(),
		AudioDuration:      float64(len(job.Audio)) / float64(job.SampleRate*config.BytesPerSample),
		WorkerID:           w.id,
		Timestamp:          float64(time.Now().UnixNano()) / float64(time.Second),
	}
}

func (w *STT) publishError(ctx context.Context, job *protocol.Job, cause error) error {
	result := &protocol.Result{
		Status:             protocol.StatusError,
		JobID:              job.JobID,
		ClientID:           job.ClientID,
		SegmentID:          strconv.FormatInt(job.SegmentID, 10),
		SourceLang:         job.SourceLang,
		TargetLang:         job.TargetLang,
		TranslationEnabled: job.TranslationEnabled,
		IsFinal:            job.IsFinal,
		WorkerID:           w.id,
		Timestamp:          float64(time.Now().UnixNano()) / float64(time.Second),
		Error:              cause.Error(),
	}
	return w.bus.Publish(ctx, result)
}

func (w *STT) appendTranscription(ctx context.Context, job *protocol.Job, text string, audioDuration float64) error {
	t := &protocol.Transcription{
		JobID:         job.JobID,
		ClientID:      job.ClientID,
		SegmentID:     job.SegmentID,
		Text:          text,
		SourceLang:    job.SourceLang,
		TargetLang:    job.TargetLang,
		IsFinal:       job.IsFinal,
		Timestamp:     float64(time.Now().UnixNano()) / float64(time.Second),
		AudioDuration: audioDuration,
	}
	_, err := w.transcriptions.Add(ctx, t.StreamValues())
	return err
}
