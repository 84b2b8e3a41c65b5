package service

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/library-circulation/internal/apperr"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/model"
)

// Ledger is the single authority for copy status. Every status change goes
// through Transition, which is one conditional update against the persisted
// value.
type Ledger struct {
	tx     Transactor
	copies CopyStore
	now    func() time.Time
	log    *log.Logger
}

func NewLedger(tx Transactor, copies CopyStore, now func() time.Time, logger *log.Logger) *Ledger {
	if tx == nil || copies == nil {
		panic("service: nil dependency passed to NewLedger")
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{tx: tx, copies: copies, now: now, log: logging.Or(logger, "ledger")}
}

// Transition moves a copy to `to`. A nil fromExpected accepts any current
// status; the update is still guarded by the status that was read.
func (l *Ledger) Transition(ctx context.Context, id model.CopyID, fromExpected *model.CopyStatus, to model.CopyStatus) (model.Copy, error) {
	if !to.Valid() {
		return model.Copy{}, apperr.Validation("unknown copy status").With("status", string(to))
	}
	var out model.Copy
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		var from model.CopyStatus
		if fromExpected == nil {
			cur, err := l.getCopy(ctx, id)
			if err != nil {
				return err
			}
			from = cur.Status
		} else {
			from = *fromExpected
		}
		if !model.CanTransition(from, to) {
			return invalidTransition(id, from, from, to)
		}
		ok, err := l.copies.UpdateCopyStatus(ctx, id, from, to, l.now().UTC())
		if err != nil {
			return apperr.Infra("update copy status", err)
		}
		cur, err := l.getCopy(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return invalidTransition(id, from, cur.Status, to)
		}
		out = cur
		return nil
	})
	if err != nil {
		return model.Copy{}, err
	}
	l.log.Debugf("copy %s -> %s", id, to)
	return out, nil
}

func invalidTransition(id model.CopyID, expected, actual, to model.CopyStatus) error {
	return apperr.Conflict(apperr.CodeInvalidTransition, "copy status does not allow this transition").
		With("copyId", string(id)).
		With("expected", string(expected)).
		With("actual", string(actual)).
		With("to", string(to))
}

// RegisterCopy adds a new copy. New copies always start AVAILABLE.
func (l *Ledger) RegisterCopy(ctx context.Context, c model.Copy) (model.Copy, error) {
	if c.ID == "" || c.TitleID == "" {
		return model.Copy{}, apperr.Validation("copy id and title id are required")
	}
	c.Status = model.CopyAvailable
	c.UpdatedAt = l.now().UTC()
	if err := l.copies.InsertCopy(ctx, c); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return model.Copy{}, apperr.Conflict(apperr.CodeCopyExists, "copy already registered").With("copyId", string(c.ID))
		}
		return model.Copy{}, apperr.Infra("insert copy", err)
	}
	l.log.Infof("registered copy %s of title %s", c.ID, c.TitleID)
	return c, nil
}

func (l *Ledger) GetCopy(ctx context.Context, id model.CopyID) (model.Copy, error) {
	return l.getCopy(ctx, id)
}

func (l *Ledger) ListTitleCopies(ctx context.Context, titleID model.TitleID) ([]model.Copy, error) {
	copies, err := l.copies.ListCopiesByTitle(ctx, titleID)
	if err != nil {
		return nil, apperr.Infra("list copies", err)
	}
	return copies, nil
}

func (l *Ledger) getCopy(ctx context.Context, id model.CopyID) (model.Copy, error) {
	c, err := l.copies.GetCopy(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Copy{}, apperr.NotFound(apperr.CodeCopyNotFound, "copy not found").With("copyId", string(id))
	}
	if err != nil {
		return model.Copy{}, apperr.Infra("get copy", err)
	}
	return c, nil
}
