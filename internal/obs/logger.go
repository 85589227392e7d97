// Package obs provides the ambient observability stack shared by the
// streamcipher facade and the ctncipher CLI: structured logging, Prometheus
// metrics, and OpenTelemetry tracing. It is adapted from a teacher package
// that logged transfer-session/connection events for a transport daemon;
// here the same zerolog/Prometheus/OTel stack reports on chunk-level
// pipeline events instead.
package obs

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging of pipeline events.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a structured logger tagged with service/version/host.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithOperation adds operation_id context (one per Encrypt/Decrypt call).
func (l *Logger) WithOperation(operationID string) *Logger {
	return &Logger{logger: l.logger.With().Str("operation_id", operationID).Logger()}
}

// WithFile adds file context to the logger.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_path", filePath).
			Int64("file_size", fileSize).
			Logger(),
	}
}

func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn().Msg(msg) }

func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// PipelineStarted logs the start of an Encrypt or Decrypt operation.
func (l *Logger) PipelineStarted(operationID, direction string, totalLen int64, threads int) {
	l.logger.Info().
		Str("operation_id", operationID).
		Str("direction", direction).
		Int64("total_len", totalLen).
		Int("threads", threads).
		Msg("pipeline started")
}

// ChunkSealed logs a successful chunk encryption.
func (l *Logger) ChunkSealed(operationID string, chunkIndex uint64, plaintextLen int) {
	l.logger.Debug().
		Str("operation_id", operationID).
		Uint64("chunk_index", chunkIndex).
		Int("plaintext_len", plaintextLen).
		Msg("chunk sealed")
}

// ChunkOpened logs a successful chunk decryption.
func (l *Logger) ChunkOpened(operationID string, chunkIndex uint64, plaintextLen int) {
	l.logger.Debug().
		Str("operation_id", operationID).
		Uint64("chunk_index", chunkIndex).
		Int("plaintext_len", plaintextLen).
		Msg("chunk opened")
}

// ChunkAuthFailed logs a chunk that failed AEAD authentication.
func (l *Logger) ChunkAuthFailed(operationID string, chunkIndex uint64, errMsg string) {
	l.logger.Error().
		Str("operation_id", operationID).
		Uint64("chunk_index", chunkIndex).
		Str("error_message", errMsg).
		Msg("chunk authentication failed")
}

// PipelineProgress logs periodic throughput progress.
func (l *Logger) PipelineProgress(operationID string, chunksDone, totalChunks int, elapsed time.Duration) {
	var progress float64
	if totalChunks > 0 {
		progress = float64(chunksDone) / float64(totalChunks) * 100.0
	}

	l.logger.Info().
		Str("operation_id", operationID).
		Int("chunks_done", chunksDone).
		Int("total_chunks", totalChunks).
		Float64("progress_percent", progress).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("pipeline progress")
}

// PipelineCompleted logs successful completion of an operation.
func (l *Logger) PipelineCompleted(operationID string, totalBytes int64, duration time.Duration) {
	l.logger.Info().
		Str("operation_id", operationID).
		Int64("total_bytes", totalBytes).
		Float64("duration_seconds", duration.Seconds()).
		Msg("pipeline completed successfully")
}

// PipelineFailed logs a fatal pipeline failure.
func (l *Logger) PipelineFailed(operationID string, err error) {
	l.logger.Error().
		Str("operation_id", operationID).
		Err(err).
		Msg("pipeline failed")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
