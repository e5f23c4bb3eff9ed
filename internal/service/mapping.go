package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bini59/kiko-vooster/internal/cache"
	"github.com/bini59/kiko-vooster/internal/model"
	"github.com/bini59/kiko-vooster/internal/queue"
	"github.com/bini59/kiko-vooster/internal/repository"
)

// MappingStore persists versioned mappings and their audit rows.
// Implemented by repository.MappingRepo.
type MappingStore interface {
	ActiveBySentence(ctx context.Context, sentenceID string) (*model.SentenceMapping, error)
	Replace(ctx context.Context, prev, next *model.SentenceMapping, edit *model.MappingEdit) error
	ListByScript(ctx context.Context, scriptID string, includeInactive bool) ([]model.ScriptMapping, error)
	ListEdits(ctx context.Context, sentenceID string, limit int) ([]model.MappingEdit, error)
}

// SentenceStore reads script sentences.  Implemented by repository.SentenceRepo.
type SentenceStore interface {
	ScriptIDForSentence(ctx context.Context, sentenceID string) (string, error)
	ListByScript(ctx context.Context, scriptID string) ([]model.Sentence, error)
}

// Notifier receives mapping events after they have been committed.
type Notifier interface {
	Publish(ctx context.Context, ev queue.MappingEvent) error
}

const (
	DefaultHistoryLimit   = 50
	MaxHistoryLimit       = 100
	DefaultAlignThreshold = 0.7
)

// MappingOptions tunes a MappingService.  Zero values get defaults.
type MappingOptions struct {
	CacheTTL     time.Duration // default 5m
	StoreTimeout time.Duration // default 5s
	OutboxSize   int           // default 1024
	Aligner      Aligner       // default UniformAligner
	Notifier     Notifier      // nil drops events
	Origin       string        // node id stamped on events
}

// MappingService owns the mapping lifecycle: validation, confidence,
// deactivate-then-insert versioning, audit rows, cache invalidation and
// post-commit events.
type MappingService struct {
	mappings  MappingStore
	sentences SentenceStore
	cache     cache.Cache
	log       logrus.FieldLogger
	opt       MappingOptions
	outbox    chan queue.MappingEvent
	now       func() time.Time
}

// NewMappingService wires the service.  It panics on nil dependencies.
func NewMappingService(m MappingStore, s SentenceStore, c cache.Cache, log logrus.FieldLogger, opt MappingOptions) *MappingService {
	if m == nil || s == nil || c == nil || log == nil {
		panic("nil dependency passed to NewMappingService")
	}
	if opt.CacheTTL <= 0 {
		opt.CacheTTL = 5 * time.Minute
	}
	if opt.StoreTimeout <= 0 {
		opt.StoreTimeout = 5 * time.Second
	}
	if opt.OutboxSize <= 0 {
		opt.OutboxSize = 1024
	}
	if opt.Aligner == nil {
		opt.Aligner = UniformAligner{}
	}
	return &MappingService{
		mappings:  m,
		sentences: s,
		cache:     c,
		log:       log.WithField("component", "mapping_service"),
		opt:       opt,
		outbox:    make(chan queue.MappingEvent, opt.OutboxSize),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateMappingInput describes a new mapping for a sentence.
type CreateMappingInput struct {
	SentenceID string
	Start      float64
	End        float64
	Type       model.MappingType // default manual
	Actor      *string           // nil for anonymous or system writes
	Metadata   map[string]any
	EditType   model.EditType // overrides the derived audit type
	Reason     *string
	ClientInfo map[string]any
}

// UpdateMappingInput changes the active mapping of a sentence.  Nil fields
// keep the current value.
type UpdateMappingInput struct {
	SentenceID string
	Start      *float64
	End        *float64
	Type       *model.MappingType
	Metadata   map[string]any
	Reason     *string
	Actor      *string
	ClientInfo map[string]any
}

// AutoAlignInput requests aligner output for a whole script.
type AutoAlignInput struct {
	ScriptID      string
	AudioDuration float64
	Threshold     *float64 // default 0.7
	Actor         *string
}

// AlignStats summarises an AutoAlign run.
type AlignStats struct {
	TotalSentences    int           `json:"total_sentences"`
	AlignedSentences  int           `json:"aligned_sentences"`
	AverageConfidence float64       `json:"average_confidence"`
	ProcessingTime    time.Duration `json:"-"`
}

// AutoAlignResult is the outcome of AutoAlign.
type AutoAlignResult struct {
	ScriptID string                  `json:"script_id"`
	Mappings []model.SentenceMapping `json:"mappings"`
	Stats    AlignStats              `json:"stats"`
}

func validateRange(start, end float64) error {
	if start < 0 {
		return validationError("start_time must be >= 0")
	}
	if end <= start {
		return validationError("start_time must be less than end_time")
	}
	return nil
}

// CreateMapping stores a new active mapping for a sentence, replacing the
// current one if present.
func (s *MappingService) CreateMapping(ctx context.Context, in CreateMappingInput) (*model.SentenceMapping, error) {
	if in.SentenceID == "" {
		return nil, validationError("sentence_id is required")
	}
	if err := validateRange(in.Start, in.End); err != nil {
		return nil, err
	}
	if in.Type == "" {
		in.Type = model.MappingManual
	}
	if !in.Type.Valid() {
		return nil, validationError("unknown mapping_type %q", in.Type)
	}
	return s.create(ctx, "", in)
}

// create stores a validated CreateMappingInput.  scriptID, when known, is
// stamped on the event so the outbox does not have to resolve it.
func (s *MappingService) create(ctx context.Context, scriptID string, in CreateMappingInput) (*model.SentenceMapping, error) {
	editType := in.EditType
	if editType == "" {
		editType = editTypeFor(in.Type)
	}
	reason := in.Reason
	if reason == nil {
		r := "mapping created"
		reason = &r
	}

	next, err := s.replace(ctx, in.SentenceID, func(prev *model.SentenceMapping) (*model.SentenceMapping, *model.MappingEdit, error) {
		now := s.now()
		m := &model.SentenceMapping{
			ID:              uuid.NewString(),
			SentenceID:      in.SentenceID,
			StartTime:       in.Start,
			EndTime:         in.End,
			ConfidenceScore: Confidence(in.Type, in.End-in.Start),
			MappingType:     in.Type,
			CreatedBy:       in.Actor,
			IsActive:        true,
			Metadata:        orEmpty(in.Metadata),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return m, newEdit(in.SentenceID, in.Actor, prev, m, editType, reason, in.ClientInfo, now), nil
	})
	if err != nil {
		return nil, err
	}
	s.enqueue(queue.ActionCreated, in.SentenceID, scriptID, next, in.Actor)
	return next, nil
}

// GetActiveMapping returns the active mapping of a sentence, or nil when
// there is none.  Hits are served from the cache.
func (s *MappingService) GetActiveMapping(ctx context.Context, sentenceID string) (*model.SentenceMapping, error) {
	key := cache.MappingKey(sentenceID)
	var cached model.SentenceMapping
	switch err := s.cache.Get(ctx, key, &cached); {
	case err == nil:
		return &cached, nil
	case !errors.Is(err, cache.ErrMiss):
		s.log.WithError(err).WithField("sentence_id", sentenceID).Warn("cache get failed")
	}

	// a write that commits during the store read bumps the version, and
	// the row read here must then not be cached
	version, verr := s.cache.Version(ctx, key)
	m, err := s.active(ctx, sentenceID)
	if err != nil || m == nil || verr != nil {
		return m, err
	}
	if _, err := s.cache.SetIfVersion(ctx, key, version, m, s.opt.CacheTTL); err != nil {
		s.log.WithError(err).WithField("sentence_id", sentenceID).Warn("cache set failed")
	}
	return m, nil
}

// UpdateMapping replaces the active mapping with a merged copy.
func (s *MappingService) UpdateMapping(ctx context.Context, in UpdateMappingInput) (*model.SentenceMapping, error) {
	if in.SentenceID == "" {
		return nil, validationError("sentence_id is required")
	}
	if in.Type != nil && !in.Type.Valid() {
		return nil, validationError("unknown mapping_type %q", *in.Type)
	}
	reason := in.Reason
	if reason == nil {
		r := "mapping updated"
		reason = &r
	}

	next, err := s.replace(ctx, in.SentenceID, func(prev *model.SentenceMapping) (*model.SentenceMapping, *model.MappingEdit, error) {
		if prev == nil {
			return nil, nil, notFoundError("no active mapping for sentence")
		}
		start, end, mtype, meta := prev.StartTime, prev.EndTime, prev.MappingType, prev.Metadata
		if in.Start != nil {
			start = *in.Start
		}
		if in.End != nil {
			end = *in.End
		}
		if in.Type != nil {
			mtype = *in.Type
		}
		if in.Metadata != nil {
			meta = in.Metadata
		}
		if err := validateRange(start, end); err != nil {
			return nil, nil, err
		}
		now := s.now()
		m := &model.SentenceMapping{
			ID:              uuid.NewString(),
			SentenceID:      in.SentenceID,
			StartTime:       start,
			EndTime:         end,
			ConfidenceScore: Confidence(mtype, end-start),
			MappingType:     mtype,
			CreatedBy:       in.Actor,
			IsActive:        true,
			Metadata:        orEmpty(meta),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		e := newEdit(in.SentenceID, in.Actor, prev, m, editTypeFor(mtype), reason, in.ClientInfo, now)
		return m, e, nil
	})
	if err != nil {
		return nil, err
	}
	s.enqueue(queue.ActionUpdated, in.SentenceID, "", next, in.Actor)
	return next, nil
}

// DeleteMapping deactivates the active mapping without a replacement.
func (s *MappingService) DeleteMapping(ctx context.Context, sentenceID string, actor *string) error {
	if sentenceID == "" {
		return validationError("sentence_id is required")
	}
	reason := "mapping deleted"
	_, err := s.replace(ctx, sentenceID, func(prev *model.SentenceMapping) (*model.SentenceMapping, *model.MappingEdit, error) {
		if prev == nil {
			return nil, nil, notFoundError("no active mapping for sentence")
		}
		e := newEdit(sentenceID, actor, prev, nil, model.EditManual, &reason, nil, s.now())
		return nil, e, nil
	})
	if err != nil {
		return err
	}
	s.enqueue(queue.ActionDeleted, sentenceID, "", nil, actor)
	return nil
}

// ListMappings returns the mappings of a script in sentence order.
func (s *MappingService) ListMappings(ctx context.Context, scriptID string, includeInactive bool) ([]model.ScriptMapping, error) {
	if scriptID == "" {
		return nil, validationError("script_id is required")
	}
	var out []model.ScriptMapping
	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.mappings.ListByScript(ctx, scriptID, includeInactive)
		return err
	})
	return out, err
}

// GetEditHistory returns the audit trail of a sentence, newest first.
// limit 0 means DefaultHistoryLimit; others are clamped to [1, MaxHistoryLimit].
func (s *MappingService) GetEditHistory(ctx context.Context, sentenceID string, limit int) ([]model.MappingEdit, error) {
	if sentenceID == "" {
		return nil, validationError("sentence_id is required")
	}
	switch {
	case limit == 0:
		limit = DefaultHistoryLimit
	case limit < 1:
		limit = 1
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	var out []model.MappingEdit
	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.mappings.ListEdits(ctx, sentenceID, limit)
		return err
	})
	return out, err
}

// AutoAlign runs the aligner over a script and stores one ai_generated
// mapping per sentence.
func (s *MappingService) AutoAlign(ctx context.Context, in AutoAlignInput) (*AutoAlignResult, error) {
	started := time.Now()
	if in.ScriptID == "" {
		return nil, validationError("script_id is required")
	}
	if in.AudioDuration <= 0 {
		return nil, validationError("audio_duration must be > 0")
	}
	threshold := DefaultAlignThreshold
	if in.Threshold != nil {
		threshold = *in.Threshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, validationError("confidence_threshold must be within [0, 1]")
	}

	var sentences []model.Sentence
	if err := s.store(ctx, func(ctx context.Context) error {
		var err error
		sentences, err = s.sentences.ListByScript(ctx, in.ScriptID)
		return err
	}); err != nil {
		return nil, err
	}

	segments, err := s.opt.Aligner.Align(ctx, sentences, in.AudioDuration)
	if err != nil {
		return nil, internalError("aligner failed", err)
	}

	reason := "auto-aligned"
	res := &AutoAlignResult{ScriptID: in.ScriptID, Mappings: make([]model.SentenceMapping, 0, len(segments))}
	var sum float64
	for _, seg := range segments {
		if err := validateRange(seg.Start, seg.End); err != nil {
			return nil, internalError("aligner produced an invalid segment", err)
		}
		m, err := s.create(ctx, in.ScriptID, CreateMappingInput{
			SentenceID: seg.SentenceID,
			Start:      seg.Start,
			End:        seg.End,
			Type:       model.MappingAIGenerated,
			Actor:      in.Actor,
			Metadata:   map[string]any{"auto_aligned": true, "aligner": s.opt.Aligner.Name()},
			EditType:   model.EditBulk,
			Reason:     &reason,
		})
		if err != nil {
			return nil, err
		}
		res.Mappings = append(res.Mappings, *m)
		sum += m.ConfidenceScore
		if m.ConfidenceScore >= threshold {
			res.Stats.AlignedSentences++
		}
	}
	res.Stats.TotalSentences = len(res.Mappings)
	if res.Stats.TotalSentences > 0 {
		res.Stats.AverageConfidence = sum / float64(res.Stats.TotalSentences)
	}
	res.Stats.ProcessingTime = time.Since(started)
	s.log.WithFields(logrus.Fields{
		"script_id": in.ScriptID,
		"total":     res.Stats.TotalSentences,
		"aligned":   res.Stats.AlignedSentences,
	}).Info("auto-align finished")
	return res, nil
}

// replace runs one versioned write: read the active row, let build derive
// the new row and audit entry, then store them atomically.  A unique
// violation means another writer won the race; the write is retried once
// against the new active row.
func (s *MappingService) replace(
	ctx context.Context,
	sentenceID string,
	build func(prev *model.SentenceMapping) (*model.SentenceMapping, *model.MappingEdit, error),
) (*model.SentenceMapping, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		prev, err := s.active(ctx, sentenceID)
		if err != nil {
			return nil, err
		}
		next, edit, err := build(prev)
		if err != nil {
			return nil, err
		}
		err = s.store(ctx, func(ctx context.Context) error {
			return s.mappings.Replace(ctx, prev, next, edit)
		})
		if err == nil {
			s.invalidate(ctx, sentenceID)
			return next, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		lastErr = err
		s.log.WithField("sentence_id", sentenceID).Debug("concurrent mapping write, retrying")
	}
	return nil, conflictError("mapping changed concurrently", lastErr)
}

// active reads the active mapping from the store, nil if there is none.
func (s *MappingService) active(ctx context.Context, sentenceID string) (*model.SentenceMapping, error) {
	var m *model.SentenceMapping
	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.mappings.ActiveBySentence(ctx, sentenceID)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// store runs fn under the store timeout and classifies its error.
// repository.ErrNotFound and ErrConflict are passed through for the caller.
func (s *MappingService) store(ctx context.Context, fn func(ctx context.Context) error) error {
	return runStore(ctx, s.opt.StoreTimeout, fn)
}

func runStore(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrConflict):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return internalError("store timeout", err)
	default:
		return internalError("store failure", err)
	}
}

func (s *MappingService) invalidate(ctx context.Context, sentenceID string) {
	if err := s.cache.Invalidate(ctx, cache.MappingKey(sentenceID)); err != nil {
		s.log.WithError(err).WithField("sentence_id", sentenceID).Warn("cache invalidate failed")
	}
}

// enqueue hands a committed write to the outbox without blocking.
func (s *MappingService) enqueue(action queue.MappingAction, sentenceID, scriptID string, m *model.SentenceMapping, actor *string) {
	ev := queue.MappingEvent{
		Action:     action,
		SentenceID: sentenceID,
		ScriptID:   scriptID,
		Mapping:    m,
		ActorID:    actor,
		Origin:     s.opt.Origin,
		OccurredAt: s.now(),
	}
	select {
	case s.outbox <- ev:
	default:
		s.log.WithFields(logrus.Fields{"sentence_id": sentenceID, "action": action}).Warn("outbox full, dropping mapping event")
	}
}

// Run drains the outbox in commit order until ctx is cancelled, resolving
// each event's script and handing it to the notifier.
func (s *MappingService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.outbox:
			s.deliver(ctx, ev)
		}
	}
}

func (s *MappingService) deliver(ctx context.Context, ev queue.MappingEvent) {
	log := s.log.WithFields(logrus.Fields{"sentence_id": ev.SentenceID, "action": ev.Action})
	if s.opt.Notifier == nil {
		return
	}
	if ev.ScriptID == "" {
		err := s.store(ctx, func(ctx context.Context) error {
			var err error
			ev.ScriptID, err = s.sentences.ScriptIDForSentence(ctx, ev.SentenceID)
			return err
		})
		if err != nil {
			log.WithError(err).Warn("script not found for sentence, event dropped")
			return
		}
	}
	if err := s.opt.Notifier.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("mapping event delivery failed")
	}
}

func newEdit(
	sentenceID string,
	actor *string,
	prev, next *model.SentenceMapping,
	editType model.EditType,
	reason *string,
	clientInfo map[string]any,
	at time.Time,
) *model.MappingEdit {
	e := &model.MappingEdit{
		ID:         uuid.NewString(),
		SentenceID: sentenceID,
		UserID:     actor,
		EditReason: reason,
		EditType:   editType,
		ClientInfo: orEmpty(clientInfo),
		CreatedAt:  at,
	}
	if prev != nil {
		id, start, end := prev.ID, prev.StartTime, prev.EndTime
		e.OldMappingID, e.OldStartTime, e.OldEndTime = &id, &start, &end
	}
	if next != nil {
		id, start, end := next.ID, next.StartTime, next.EndTime
		e.NewMappingID, e.NewStartTime, e.NewEndTime = &id, &start, &end
	}
	return e
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
