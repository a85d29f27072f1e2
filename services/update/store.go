package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"updater-controlplane/pkg/db/option"
	"updater-controlplane/pkg/db/pagination"
	"updater-controlplane/pkg/repository"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LogStore persists UpdateLog rows. Every status change goes through
// Transition so the matrix in validTransitions is enforced on write.
type LogStore struct {
	db   *gorm.DB
	repo repository.Repository[UpdateLog]
	now  func() time.Time
}

func NewLogStore(db *gorm.DB) *LogStore {
	return &LogStore{
		db:   db,
		repo: repository.ProvideStore[UpdateLog](db),
		now:  time.Now,
	}
}

func (s *LogStore) Create(ctx context.Context, log *UpdateLog, message string) error {
	now := s.now()
	log.Status = StatusStarted
	log.StartedAt = now

	d := log.Details.Data()
	d.Message = message
	d.Timestamp = &now
	d.History = append(d.History, Event{Status: StatusStarted, Message: message, Timestamp: now})
	log.Details = datatypes.NewJSONType(d)

	return s.repo.Create(ctx, log)
}

func (s *LogStore) Get(ctx context.Context, id string) (*UpdateLog, error) {
	log, err := s.repo.FindOne(ctx, &UpdateLog{ID: id})
	if err != nil {
		return nil, err
	}
	if log == nil {
		return nil, ErrUpdateNotFound
	}
	return log, nil
}

// Transition moves the log to status to, records message in its details and
// applies mutate (if any) in the same transaction.
func (s *LogStore) Transition(ctx context.Context, id string, to Status, message string, mutate func(*UpdateLog)) (*UpdateLog, error) {
	var out *UpdateLog
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		log, err := repo.FindOne(ctx, &UpdateLog{ID: id})
		if err != nil {
			return err
		}
		if log == nil {
			return ErrUpdateNotFound
		}
		if !log.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, log.Status, to)
		}

		now := s.now()
		log.Status = to

		d := log.Details.Data()
		d.Message = message
		d.Timestamp = &now
		d.History = append(d.History, Event{Status: to, Message: message, Timestamp: now})
		log.Details = datatypes.NewJSONType(d)

		switch to {
		case StatusFailed:
			msg := message
			log.ErrorMessage = &msg
			log.CompletedAt = &now
		case StatusCompleted:
			log.CompletedAt = &now
		}

		if mutate != nil {
			mutate(log)
		}

		if err := tx.Save(log).Error; err != nil {
			return err
		}
		out = log
		return nil
	})
	return out, err
}

// Annotate changes details or fields without moving the status.
func (s *LogStore) Annotate(ctx context.Context, id string, mutate func(*UpdateLog)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		log, err := s.repo.WithTrx(tx).FindOne(ctx, &UpdateLog{ID: id})
		if err != nil {
			return err
		}
		if log == nil {
			return ErrUpdateNotFound
		}
		mutate(log)
		return tx.Save(log).Error
	})
}

// History returns the newest logs first.
func (s *LogStore) History(ctx context.Context, limit int) ([]*UpdateLog, error) {
	return s.repo.Find(ctx, &UpdateLog{},
		option.WithSortBy(option.QuerySortBy{Field: "started_at", OrderBy: "DESC"}),
		option.WithSortBy(option.QuerySortBy{Field: "id", OrderBy: "DESC"}),
		option.ApplyPagination(pagination.Pagination{Limit: limit}),
	)
}

// Count returns the number of logs ever recorded.
func (s *LogStore) Count(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx, &UpdateLog{})
}

// FindActive returns the newest log not yet in a terminal state, or nil.
func (s *LogStore) FindActive(ctx context.Context) (*UpdateLog, error) {
	active, err := s.ListActive(ctx)
	if err != nil || len(active) == 0 {
		return nil, err
	}
	return active[0], nil
}

func (s *LogStore) ListActive(ctx context.Context) ([]*UpdateLog, error) {
	return s.repo.Find(ctx, &UpdateLog{},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NotIN, Value: terminalStatuses()}),
		option.WithSortBy(option.QuerySortBy{Field: "started_at", OrderBy: "DESC"}),
	)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrUpdateNotFound)
}
