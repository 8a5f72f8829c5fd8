package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"esgbu/pkg/domain"
)

// DefaultLockTTL is how long a group lock protects a group without renewal.
const DefaultLockTTL = 15 * time.Minute

// LockRequest asks for edit rights over one group of one administration for one survey.
type LockRequest struct {
	Kind             domain.AdministrationKind
	AdministrationID int64
	GroupID          int64
	SurveyID         int64
	UserID           int64
}

// Key returns the lock key targeted by the request.
func (r LockRequest) Key() domain.LockKey {
	return domain.LockKey{Kind: r.Kind, AdministrationID: r.AdministrationID, GroupID: r.GroupID, SurveyID: r.SurveyID}
}

func (r LockRequest) validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: administration kind %q", domain.ErrInvalidInput, r.Kind)
	}
	if r.AdministrationID <= 0 || r.GroupID <= 0 || r.SurveyID <= 0 || r.UserID <= 0 {
		return fmt.Errorf("%w: lock request needs positive administration, group, survey and user ids", domain.ErrInvalidInput)
	}
	return nil
}

// LockStatus describes the stored lock for a key. Expired locks are reported
// until the next acquisition sweeps them.
type LockStatus struct {
	Lock      domain.GroupLock
	Held      bool
	Expired   bool
	ExpiresAt time.Time
}

// AcquireGroupLock grants req.UserID the lock on req.Key(), renewing it when
// the user already holds it. Expired locks of every kind are swept first and
// the user's other locks are released when a new lock is taken.
// A lock held by someone else yields *domain.GroupBusyError.
func (s *Service) AcquireGroupLock(ctx context.Context, req LockRequest) (domain.GroupLock, error) {
	var lock domain.GroupLock
	err := s.run(ctx, opAcquireGroupLock, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: req.Key().String(), userID: req.UserID}
		if err := req.validate(); err != nil {
			return res, err
		}
		var err error
		lock, err = s.acquire(ctx, req)
		return res, err
	})
	return lock, err
}

// AcquireDataTypeLock locks the group that owns dataTypeID.
func (s *Service) AcquireDataTypeLock(ctx context.Context, kind domain.AdministrationKind, administrationID, dataTypeID, surveyID, userID int64) (domain.GroupLock, error) {
	var lock domain.GroupLock
	err := s.run(ctx, opAcquireDataTypeLock, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: strconv.FormatInt(dataTypeID, 10), userID: userID}
		groupID, err := s.groupOf(ctx, dataTypeID)
		if err != nil {
			return res, err
		}
		req := LockRequest{Kind: kind, AdministrationID: administrationID, GroupID: groupID, SurveyID: surveyID, UserID: userID}
		res.entityID = req.Key().String()
		if err := req.validate(); err != nil {
			return res, err
		}
		lock, err = s.acquire(ctx, req)
		return res, err
	})
	return lock, err
}

// ReleaseGroupLock drops the lock on key if userID holds it. Releasing a lock
// that is absent is not an error; releasing someone else's lock is.
func (s *Service) ReleaseGroupLock(ctx context.Context, key domain.LockKey, userID int64) error {
	return s.run(ctx, opReleaseGroupLock, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: key.String(), userID: userID}
		if !key.Kind.Valid() {
			return res, fmt.Errorf("%w: administration kind %q", domain.ErrInvalidInput, key.Kind)
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			existing, ok, err := tx.FindGroupLock(key)
			if err != nil || !ok {
				return err
			}
			if existing.UserID != userID && !existing.Expired(s.clock.Now(), s.lockTTL) {
				return s.busy(existing)
			}
			return tx.DeleteGroupLock(key)
		})
		return res, err
	})
}

// LockStatus reports the lock stored for key without sweeping.
func (s *Service) LockStatus(ctx context.Context, key domain.LockKey) (LockStatus, error) {
	var status LockStatus
	err := s.run(ctx, opLockStatus, func(ctx context.Context) (opResult, error) {
		res := opResult{entityID: key.String()}
		if !key.Kind.Valid() {
			return res, fmt.Errorf("%w: administration kind %q", domain.ErrInvalidInput, key.Kind)
		}
		return res, s.store.View(ctx, func(v domain.TransactionView) error {
			lock, ok, err := v.FindGroupLock(key)
			if err != nil || !ok {
				return err
			}
			status = LockStatus{
				Lock:      lock,
				Held:      true,
				Expired:   lock.Expired(s.clock.Now(), s.lockTTL),
				ExpiresAt: lock.ExpiresAt(s.lockTTL),
			}
			return nil
		})
	})
	return status, err
}

// acquire runs the lock transaction, retrying once when a concurrent insert
// for the same key wins the unique constraint.
func (s *Service) acquire(ctx context.Context, req LockRequest) (domain.GroupLock, error) {
	lock, err := s.tryAcquire(ctx, req)
	if !errors.Is(err, domain.ErrLockConflict) {
		return lock, err
	}
	s.logger.Warn("group lock insert conflict, retrying", "key", req.Key().String(), "user_id", req.UserID)
	lock, err = s.tryAcquire(ctx, req)
	if !errors.Is(err, domain.ErrLockConflict) {
		return lock, err
	}
	holder := domain.GroupLock{Kind: req.Kind, AdministrationID: req.AdministrationID, GroupID: req.GroupID, SurveyID: req.SurveyID}
	if viewErr := s.store.View(ctx, func(v domain.TransactionView) error {
		if current, ok, err := v.FindGroupLock(req.Key()); err != nil {
			return err
		} else if ok {
			holder = current
		}
		return nil
	}); viewErr != nil {
		return domain.GroupLock{}, viewErr
	}
	return domain.GroupLock{}, s.busy(holder)
}

func (s *Service) tryAcquire(ctx context.Context, req LockRequest) (domain.GroupLock, error) {
	var lock domain.GroupLock
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		lock, err = s.lockInTx(tx, req)
		return err
	})
	return lock, err
}

// lockInTx sweeps expired locks of every kind, then renews the user's lock on
// req.Key() or inserts it after dropping the user's locks anywhere else.
func (s *Service) lockInTx(tx domain.Transaction, req LockRequest) (domain.GroupLock, error) {
	key := req.Key()
	now := s.clock.Now()
	for _, kind := range domain.AllKinds() {
		if _, err := tx.DeleteExpiredGroupLocks(kind, now.Add(-s.lockTTL)); err != nil {
			return domain.GroupLock{}, err
		}
	}
	existing, ok, err := tx.FindGroupLock(key)
	if err != nil {
		return domain.GroupLock{}, err
	}
	if ok {
		if existing.UserID != req.UserID {
			return domain.GroupLock{}, s.busy(existing)
		}
		return tx.RenewGroupLock(key, now)
	}
	for _, kind := range domain.AllKinds() {
		if _, err := tx.DeleteUserGroupLocks(kind, req.UserID); err != nil {
			return domain.GroupLock{}, err
		}
	}
	return tx.InsertGroupLock(domain.GroupLock{
		Kind:             req.Kind,
		AdministrationID: req.AdministrationID,
		GroupID:          req.GroupID,
		SurveyID:         req.SurveyID,
		UserID:           req.UserID,
		LockDate:         now,
	})
}

func (s *Service) busy(holder domain.GroupLock) *domain.GroupBusyError {
	return &domain.GroupBusyError{
		Key:       holder.Key(),
		HolderID:  holder.UserID,
		LockDate:  holder.LockDate,
		ExpiresAt: holder.ExpiresAt(s.lockTTL),
	}
}

func (s *Service) groupOf(ctx context.Context, dataTypeID int64) (int64, error) {
	var groupID int64
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		dt, ok, err := v.FindDataType(dataTypeID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityDataType, ID: strconv.FormatInt(dataTypeID, 10)}
		}
		groupID = dt.GroupID
		return nil
	})
	return groupID, err
}
