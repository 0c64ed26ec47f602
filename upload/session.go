package upload

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/lilpacy/verify-test/checksum"
	"github.com/lilpacy/verify-test/chunk"
	"github.com/lilpacy/verify-test/store"
)

// State of a multipart upload session.
type State int

const (
	StateIdle State = iota
	StateInitiated
	StateUploading
	StateCompleting
	StateCompleted
	StateAborted
)

// String ...
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitiated:
		return "initiated"
	case StateUploading:
		return "uploading"
	case StateCompleting:
		return "completing"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// PartRecord is an accepted part. Digest is the locally computed value, which
// is what completion declares even if a different value was sent.
type PartRecord struct {
	PartNumber int
	ETag       string
	Size       int64
	Digest     checksum.Digest
}

// ChecksumOverride replaces the wire checksum declared for a part. It exists to
// exercise the store's verification with deliberately wrong values.
type ChecksumOverride func(partNumber int, digest checksum.Digest) string

// CorruptPart returns a ChecksumOverride that declares the bit-inverted
// checksum for partNumber and the correct one for every other part.
func CorruptPart(partNumber int) ChecksumOverride {
	return func(n int, digest checksum.Digest) string {
		if n == partNumber {
			return digest.Flipped().Wire()
		}
		return digest.Wire()
	}
}

// Session drives one multipart upload through
// Idle -> Initiated -> Uploading -> Completing -> Completed | Aborted.
// A Session is owned by a single goroutine and is not safe for concurrent use.
type Session struct {
	store       store.MultipartStore
	logger      log.Logger
	key         string
	algorithm   checksum.Algorithm
	callTimeout time.Duration
	override    ChecksumOverride
	stats       *Stats

	id    string
	state State
	parts []PartRecord
}

// SessionOption ...
type SessionOption func(*Session)

// WithChecksumOverride ...
func WithChecksumOverride(override ChecksumOverride) SessionOption {
	return func(s *Session) {
		s.override = override
	}
}

// WithCallTimeout sets the deadline applied to every store call.
func WithCallTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.callTimeout = d
	}
}

// WithStats records accepted part durations into stats.
func WithStats(stats *Stats) SessionOption {
	return func(s *Session) {
		s.stats = stats
	}
}

// NewSession creates an Idle session for key. No store call is made until Initiate.
func NewSession(multipartStore store.MultipartStore, key string, algorithm checksum.Algorithm, logger log.Logger, opts ...SessionOption) *Session {
	s := &Session{
		store:     multipartStore,
		logger:    logger,
		key:       key,
		algorithm: algorithm,
		stats:     NewStats(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID is the store assigned upload id, empty before Initiate.
func (s *Session) ID() string {
	return s.id
}

// Key ...
func (s *Session) Key() string {
	return s.key
}

// State ...
func (s *Session) State() State {
	return s.state
}

// Stats ...
func (s *Session) Stats() *Stats {
	return s.stats
}

// Parts returns a copy of the accepted part records in part number order.
func (s *Session) Parts() []PartRecord {
	return append([]PartRecord(nil), s.parts...)
}

// Initiate creates the server-side session, declaring the checksum algorithm
// every part will carry. On failure the session stays Idle: nothing exists to clean up.
func (s *Session) Initiate(ctx context.Context) (string, error) {
	if s.state != StateIdle {
		return "", s.stateError("initiate")
	}
	if !s.algorithm.Streaming() {
		return "", fmt.Errorf("%s cannot be used as a per-part checksum", s.algorithm)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	id, err := s.store.InitiateMultipart(callCtx, s.key, s.algorithm)
	if err != nil {
		return "", fmt.Errorf("initiate multipart upload for %s: %w", s.key, err)
	}

	s.id = id
	s.state = StateInitiated
	s.logger.Debugf("[init] UploadId=%s Key=%s ChecksumAlgorithm=%s", id, s.key, s.algorithm)

	return id, nil
}

// SubmitChunk digests and uploads one chunk. Chunks must be submitted in order
// starting at 1. Any rejection aborts the whole session and returns a *ChunkError.
func (s *Session) SubmitChunk(ctx context.Context, c chunk.Chunk) (PartRecord, error) {
	if s.state != StateInitiated && s.state != StateUploading {
		return PartRecord{}, s.stateError("submit chunk")
	}
	if want := len(s.parts) + 1; c.Number != want {
		return PartRecord{}, fmt.Errorf("%w: got part %d, expected %d", ErrPartOutOfOrder, c.Number, want)
	}
	if c.Number > MaxParts {
		return PartRecord{}, fmt.Errorf("%w: part %d", ErrPartLimit, c.Number)
	}

	s.state = StateUploading

	digest := checksum.Compute(s.algorithm, c.Data)
	declared := digest.Wire()
	if s.override != nil {
		declared = s.override(c.Number, digest)
	}
	if declared != digest.Wire() {
		s.logger.Warnf("[part %d] declaring checksum %s instead of %s", c.Number, declared, digest.Wire())
	}

	start := time.Now()
	callCtx, cancel := s.callContext(ctx)
	etag, err := s.store.UploadPart(callCtx, s.key, s.id, c.Number, bytes.NewReader(c.Data), c.Size(), store.Checksum{
		Algorithm: s.algorithm,
		Value:     declared,
	})
	cancel()
	if err != nil {
		s.logger.Errorf("[part %d] FAILED: %s", c.Number, err)
		chunkErr := &ChunkError{
			PartNumber: c.Number,
			Kind:       store.KindOf(err),
			Err:        err,
		}
		chunkErr.Cleanup = s.abort(ctx)
		return PartRecord{}, chunkErr
	}

	took := time.Since(start)
	s.stats.Update(took, c.Size())

	record := PartRecord{
		PartNumber: c.Number,
		ETag:       etag,
		Size:       c.Size(),
		Digest:     digest,
	}
	s.parts = append(s.parts, record)
	s.logger.Debugf("[part %d] ok ETag=%s Size=%s Checksum%s=%s in %s",
		c.Number, etag, units.HumanSizeWithPrecision(float64(c.Size()), 3), s.algorithm, digest.Wire(), took.Round(time.Millisecond))

	return record, nil
}

// Complete asks the store to assemble the accepted parts. Completing a session
// without parts fails with ErrNoParts. Any failure aborts the session and
// returns a *CompletionError.
func (s *Session) Complete(ctx context.Context) (store.CompletedObject, error) {
	if s.state != StateInitiated && s.state != StateUploading {
		return store.CompletedObject{}, s.stateError("complete")
	}

	s.state = StateCompleting

	parts, err := s.completedParts()
	if err != nil {
		return store.CompletedObject{}, s.failCompletion(ctx, store.KindReconciliation, err)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	obj, err := s.store.CompleteMultipart(callCtx, s.key, s.id, parts)
	if err != nil {
		return store.CompletedObject{}, s.failCompletion(ctx, store.KindOf(err), err)
	}

	s.state = StateCompleted
	s.logger.Debugf("[complete] ETag=%s Location=%s Parts=%d", obj.ETag, obj.Location, len(parts))

	return obj, nil
}

// Abort discards the session and every part uploaded so far. Aborting an Idle
// session only closes it locally. The returned error, if any, is a *CleanupError;
// the session is Aborted either way.
func (s *Session) Abort(ctx context.Context) error {
	if s.state.Terminal() {
		return s.stateError("abort")
	}
	if s.state == StateIdle {
		s.state = StateAborted
		return nil
	}
	if cleanupErr := s.abort(ctx); cleanupErr != nil {
		return cleanupErr
	}
	return nil
}

// completedParts builds the completion list. Part numbers must run 1..N without gaps.
func (s *Session) completedParts() ([]store.CompletedPart, error) {
	if len(s.parts) == 0 {
		return nil, ErrNoParts
	}

	records := s.Parts()
	sort.Slice(records, func(i, j int) bool {
		return records[i].PartNumber < records[j].PartNumber
	})

	parts := make([]store.CompletedPart, 0, len(records))
	for i, record := range records {
		if record.PartNumber != i+1 {
			return nil, fmt.Errorf("%w: part records have a gap at %d (found %d)", ErrPartOutOfOrder, i+1, record.PartNumber)
		}
		parts = append(parts, store.CompletedPart{
			PartNumber: record.PartNumber,
			ETag:       record.ETag,
			Checksum: store.Checksum{
				Algorithm: record.Digest.Algorithm(),
				Value:     record.Digest.Wire(),
			},
		})
	}

	return parts, nil
}

func (s *Session) failCompletion(ctx context.Context, kind store.Kind, err error) error {
	s.logger.Errorf("[complete] FAILED: %s", err)

	completionErr := &CompletionError{
		Kind: kind,
		Err:  err,
	}
	completionErr.Cleanup = s.abort(ctx)

	return completionErr
}

// abort is the best-effort cleanup every failure path runs. It is detached
// from ctx cancellation so an expired caller deadline still releases the
// server-side session.
func (s *Session) abort(ctx context.Context) *CleanupError {
	s.state = StateAborted

	abortCtx, cancel := s.callContext(context.WithoutCancel(ctx))
	defer cancel()

	if err := s.store.AbortMultipart(abortCtx, s.key, s.id); err != nil {
		s.logger.Warnf("[abort] UploadId=%s could not be aborted, its parts may be retained by the store: %s", s.id, err)
		return &CleanupError{UploadID: s.id, Err: err}
	}

	s.logger.Debugf("[abort] UploadId=%s aborted, %d accepted part(s) discarded", s.id, len(s.parts))
	return nil
}

func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return withCallTimeout(ctx, s.callTimeout)
}

func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func (s *Session) stateError(op string) error {
	if s.state.Terminal() {
		return fmt.Errorf("%s: %w (%s)", op, ErrSessionClosed, s.state)
	}
	return fmt.Errorf("%s: %w (%s)", op, ErrInvalidState, s.state)
}
