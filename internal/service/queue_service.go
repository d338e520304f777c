package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"app/internal/model"
	"app/internal/notify"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidStatus   = errors.New("status must be 'ok' or 'restricted'")
)

// defaultLatestLimit bounds the read surface used by the polling display client.
const defaultLatestLimit = 5

// QueueService orchestrates submissions through moderation into the store and
// exposes the read and administrative surface over the delivery queue.
type QueueService interface {
	Submit(ctx context.Context, sub Submission) (*model.Message, error)
	GetLatest(ctx context.Context, limit int) ([]model.Message, error)
	DequeueNext(ctx context.Context) (*model.Message, error)
	Reset(ctx context.Context) (int64, error)
	ListAll(ctx context.Context) ([]model.Message, error)
	OverrideStatus(ctx context.Context, id int64, status model.Status) error
}

type queueService struct {
	repo        repository.MessageRepository
	moderator   Moderator
	notifier    notify.Publisher
	notifyTopic string
	contextSize int
	logger      zerolog.Logger
}

// NewQueueService wires the queue service. notifier may be nil when no
// real-time channel is configured; the system is then poll-only.
func NewQueueService(
	repo repository.MessageRepository,
	moderator Moderator,
	notifier notify.Publisher,
	notifyTopic string,
	contextSize int,
	logger zerolog.Logger,
) QueueService {
	if contextSize <= 0 {
		contextSize = 3
	}
	return &queueService{
		repo:        repo,
		moderator:   moderator,
		notifier:    notifier,
		notifyTopic: notifyTopic,
		contextSize: contextSize,
		logger:      logger.With().Str("service", "QueueService").Logger(),
	}
}

// Submit runs one submission through moderation and persists the verdict.
// A submission always terminates in a stored record: moderation faults are
// absorbed by the moderator as restricted verdicts, so only a storage failure
// can surface here.
func (s *queueService) Submit(ctx context.Context, sub Submission) (*model.Message, error) {
	priorTexts, err := s.repo.RecentOKTexts(ctx, s.contextSize)
	if err != nil {
		return nil, fmt.Errorf("loading moderation context: %w", err)
	}

	verdict := s.moderator.Evaluate(ctx, sub, priorTexts)

	payload, err := json.Marshal(verdict)
	if err != nil {
		return nil, fmt.Errorf("serializing verdict: %w", err)
	}

	stored, err := s.repo.Insert(ctx, &model.Message{
		Name:              sub.Name,
		Age:               sub.Age,
		Gender:            sub.Gender,
		Mood:              sub.Mood,
		MessageText:       verdict.Response,
		ModerationPayload: string(payload),
		Status:            verdict.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting submission: %w", err)
	}

	s.logger.Info().
		Int64("id", stored.ID).
		Str("status", string(stored.Status)).
		Msg("Submission stored")

	if stored.Status == model.StatusOK {
		s.notifyApproved(ctx, stored)
	}
	return stored, nil
}

// notifyApproved publishes a best-effort notification; failures are logged
// and never surfaced to the submitter.
func (s *queueService) notifyApproved(ctx context.Context, m *model.Message) {
	if s.notifier == nil || s.notifyTopic == "" {
		return
	}
	payload, err := json.Marshal(notify.Approved{
		ID:          m.ID,
		Name:        m.Name,
		MessageText: m.MessageText,
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("id", m.ID).Msg("Failed to marshal approval notification")
		return
	}
	if _, err := s.notifier.Publish(ctx, s.notifyTopic, payload); err != nil {
		s.logger.Error().Err(err).Int64("id", m.ID).Str("topic", s.notifyTopic).Msg("Failed to publish approval notification")
	}
}

func (s *queueService) GetLatest(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > defaultLatestLimit {
		limit = defaultLatestLimit
	}
	messages, err := s.repo.PeekLatestOK(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("peeking latest approved messages: %w", err)
	}
	return messages, nil
}

func (s *queueService) DequeueNext(ctx context.Context) (*model.Message, error) {
	m, err := s.repo.DequeueNext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dequeuing next message: %w", err)
	}
	if m != nil {
		s.logger.Info().Int64("id", m.ID).Msg("Message dequeued")
	}
	return m, nil
}

func (s *queueService) Reset(ctx context.Context) (int64, error) {
	count, err := s.repo.ResetQueue(ctx)
	if err != nil {
		return 0, fmt.Errorf("resetting queue: %w", err)
	}
	s.logger.Info().Int64("reset_count", count).Msg("Queue reset")
	return count, nil
}

func (s *queueService) ListAll(ctx context.Context) ([]model.Message, error) {
	messages, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return messages, nil
}

// OverrideStatus rewrites the moderation status of a stored message. Invalid
// status values are rejected before any storage call is made.
func (s *queueService) OverrideStatus(ctx context.Context, id int64, status model.Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	found, err := s.repo.SetStatus(ctx, id, status)
	if err != nil {
		return fmt.Errorf("overriding status of message %d: %w", id, err)
	}
	if !found {
		return ErrMessageNotFound
	}
	s.logger.Info().Int64("id", id).Str("status", string(status)).Msg("Status overridden")
	return nil
}
