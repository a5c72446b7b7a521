package service

import (
	"context"

	apperrors "github.com/CS196Illinois/FA25-Group8/internal/errors"
	"github.com/CS196Illinois/FA25-Group8/internal/metrics"
	"github.com/CS196Illinois/FA25-Group8/internal/model"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"github.com/CS196Illinois/FA25-Group8/internal/txn"
	"github.com/CS196Illinois/FA25-Group8/internal/validation"
	"go.uber.org/zap"
)

// AttendanceService admits users to and removes them from capacity-bounded
// study sessions. Every change goes through the optimistic executor, so the
// capacity check always runs against the freshest attendee list.
type AttendanceService struct {
	executor  *txn.Executor[model.SessionAttendance]
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewAttendanceService creates a new attendance service
func NewAttendanceService(
	documentStore store.DocumentStore,
	txnConfig txn.Config,
	validator *validation.Validator,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AttendanceService {
	coll := txn.NewCollection[model.SessionAttendance](documentStore, model.SessionCollection, nil)
	return &AttendanceService{
		executor:  txn.NewExecutor(coll, txnConfig, m, logger),
		validator: validator,
		metrics:   m,
		logger:    logger,
	}
}

// CreateSession creates an empty session with an optional capacity
func (s *AttendanceService) CreateSession(ctx context.Context, sessionID string, capacity *int) (model.VersionedDocument[model.SessionAttendance], error) {
	if err := s.validator.ValidateID("session_id", sessionID); err != nil {
		return model.VersionedDocument[model.SessionAttendance]{}, err
	}
	if err := s.validator.ValidateCapacity(capacity); err != nil {
		return model.VersionedDocument[model.SessionAttendance]{}, err
	}

	doc, err := s.executor.Collection().Create(ctx, sessionID, model.NewSessionAttendance(sessionID, capacity))
	if err != nil {
		return doc, err
	}

	fields := []zap.Field{zap.String("session_id", sessionID)}
	if capacity != nil {
		fields = append(fields, zap.Int("capacity", *capacity))
	}
	s.logger.Info("Session created", fields...)

	return doc, nil
}

// GetSession reads a session's attendance
func (s *AttendanceService) GetSession(ctx context.Context, sessionID string) (model.VersionedDocument[model.SessionAttendance], error) {
	if err := s.validator.ValidateID("session_id", sessionID); err != nil {
		return model.VersionedDocument[model.SessionAttendance]{}, err
	}
	return s.executor.Collection().Get(ctx, sessionID)
}

// Join adds userID to the session. It fails with AlreadyJoined when the
// user is present and SessionFull when the capacity is reached.
func (s *AttendanceService) Join(ctx context.Context, sessionID, userID string) (model.VersionedDocument[model.SessionAttendance], error) {
	if err := s.validator.ValidateIDs("session_id", sessionID, "user_id", userID); err != nil {
		return model.VersionedDocument[model.SessionAttendance]{}, err
	}

	doc, err := s.executor.Run(ctx, sessionID, joinSession(sessionID, userID))
	if err != nil {
		s.recordRejection("join", err)
		return doc, err
	}

	s.logger.Debug("User joined session",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.Int("attendees", len(doc.Value.Attendees)),
		zap.Bool("is_full", doc.Value.IsFull),
		zap.Int64("version", doc.Version))

	return doc, nil
}

// Leave removes userID from the session. It fails with NotAJoiner when the
// user is not an attendee; nothing is written in that case.
func (s *AttendanceService) Leave(ctx context.Context, sessionID, userID string) (model.VersionedDocument[model.SessionAttendance], error) {
	if err := s.validator.ValidateIDs("session_id", sessionID, "user_id", userID); err != nil {
		return model.VersionedDocument[model.SessionAttendance]{}, err
	}

	doc, err := s.executor.Run(ctx, sessionID, leaveSession(sessionID, userID))
	if err != nil {
		s.recordRejection("leave", err)
		return doc, err
	}

	s.logger.Debug("User left session",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.Int("attendees", len(doc.Value.Attendees)),
		zap.Int64("version", doc.Version))

	return doc, nil
}

func (s *AttendanceService) recordRejection(operation string, err error) {
	if s.metrics != nil && apperrors.IsBusinessRule(err) {
		s.metrics.RecordBusinessRejection(operation, apperrors.GetCode(err).String())
	}
}

// joinSession is the pure join mutation
func joinSession(sessionID, userID string) txn.Mutation[model.SessionAttendance] {
	return func(current model.SessionAttendance) (model.SessionAttendance, error) {
		current = current.Normalized()
		if current.HasAttendee(userID) {
			return current, apperrors.AlreadyJoined(sessionID, userID)
		}
		if current.AtCapacity() {
			return current, apperrors.SessionFull(sessionID, *current.Capacity)
		}
		return current.WithAttendee(userID), nil
	}
}

// leaveSession is the pure leave mutation. isFull is recomputed from
// capacity and size, never toggled.
func leaveSession(sessionID, userID string) txn.Mutation[model.SessionAttendance] {
	return func(current model.SessionAttendance) (model.SessionAttendance, error) {
		current = current.Normalized()
		if !current.HasAttendee(userID) {
			return current, apperrors.NotAJoiner(sessionID, userID)
		}
		return current.WithoutAttendee(userID), nil
	}
}
