package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
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

	return &Logger{
		logger: logger,
	}
}

// WithSession adds query_id context to logger.
func (l *Logger) WithSession(queryID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("query_id", queryID).Logger(),
	}
}

// WithPeer adds peer_id context to logger.
func (l *Logger) WithPeer(peerID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("peer_id", peerID).Logger(),
	}
}

// WithCapsule adds capsule context to logger.
func (l *Logger) WithCapsule(capsuleID string, ttlSeconds int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("capsule_id", capsuleID).
			Int64("ttl_seconds", ttlSeconds).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// QueryReceived logs a query arriving at a main hub.
func (l *Logger) QueryReceived(packetID, userID, question string) {
	l.logger.Info().
		Str("packet_id", packetID).
		Str("user_id", userID).
		Int("question_bytes", len(question)).
		Msg("query received")
}

// CapsuleIssued logs a main hub producing a capsule for a query.
func (l *Logger) CapsuleIssued(capsuleID, sourceID string, kind string) {
	l.logger.Info().
		Str("capsule_id", capsuleID).
		Str("source_id", sourceID).
		Str("kind", kind).
		Msg("capsule issued")
}

// CapsuleRejected logs a capsule failing store admission.
func (l *Logger) CapsuleRejected(capsuleID string, reason string) {
	l.logger.Warn().
		Str("capsule_id", capsuleID).
		Str("reason", reason).
		Msg("capsule rejected")
}

// QueryProgress logs a query still queued awaiting link recovery.
func (l *Logger) QueryProgress(packetID string, attempts int, elapsed time.Duration) {
	l.logger.Info().
		Str("packet_id", packetID).
		Int("attempts", attempts).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("query still queued")
}

// QueryResolved logs a query reaching a terminal state.
func (l *Logger) QueryResolved(packetID string, outcome string, duration time.Duration) {
	l.logger.Info().
		Str("packet_id", packetID).
		Str("outcome", outcome).
		Float64("duration_seconds", duration.Seconds()).
		Msg("query resolved")
}

// ChunkRetransmitted logs a packet entering retransmission.
func (l *Logger) ChunkRetransmitted(packetID string, attempt int, reason string, nextDelay time.Duration) {
	l.logger.Debug().
		Str("packet_id", packetID).
		Int("attempt", attempt).
		Str("reason", reason).
		Float64("next_delay_seconds", nextDelay.Seconds()).
		Msg("packet retransmission scheduled")
}

// ManifestPublished logs a main hub broadcasting a manifest.
func (l *Logger) ManifestPublished(sourceID string, entryCount int) {
	l.logger.Info().
		Str("source_id", sourceID).
		Int("entry_count", entryCount).
		Msg("manifest published")
}

// SyncConverged logs a mini hub finishing a selective-sync pass with no
// further missing entries.
func (l *Logger) SyncConverged(peerID string, fetched int) {
	l.logger.Info().
		Str("peer_id", peerID).
		Int("fetched", fetched).
		Msg("sync converged")
}

// DecryptFailed logs an AEAD open failure on an inbound packet.
func (l *Logger) DecryptFailed(peerID string, packetID string, errorCode string) {
	l.logger.Error().
		Str("peer_id", peerID).
		Str("packet_id", packetID).
		Str("error_code", errorCode).
		Msg("packet decryption failed")
}

// LinkDown logs the simulated link transitioning to down.
func (l *Logger) LinkDown(reason string) {
	l.logger.Warn().
		Str("reason", reason).
		Msg("simulated link down")
}

// LinkRestored logs the simulated link coming back up.
func (l *Logger) LinkRestored() {
	l.logger.Info().Msg("simulated link restored")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
