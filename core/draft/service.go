package draft

import (
	"context"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/autosave"
	"github.com/trezcool/gakuten/core/user"
)

// Store persists the drafts of one Kind.
type Store[T any] interface {
	autosave.Gateway[T]

	// DeleteOwnerRow returns autosave.ErrRowNotFound when the owner has no row.
	DeleteOwnerRow(ctx context.Context, ownerID string) error
	// ListRows returns the most recently updated rows first. limit <= 0 means no limit.
	ListRows(ctx context.Context, limit int) ([]autosave.Row[T], error)
}

// Service loads, saves and opens autosave sessions on the drafts of one Kind.
type Service[T any] struct {
	kind       Kind[T]
	store      Store[T]
	validate   *validator.Validate
	translator ut.Translator
	now        func() time.Time
}

func NewService[T any](kind Kind[T], store Store[T], validate *validator.Validate, translator ut.Translator) *Service[T] {
	return &Service[T]{
		kind:       kind,
		store:      store,
		validate:   validate,
		translator: translator,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (svc *Service[T]) Kind() Kind[T] {
	return svc.kind
}

// Get returns the owner's stored row, or an unsaved row holding the defaults (persisted is false).
func (svc *Service[T]) Get(ctx context.Context, owner user.User) (row autosave.Row[T], persisted bool, err error) {
	found, err := svc.store.FindOwnerRow(ctx, owner.ID)
	if err != nil {
		return row, false, errors.Wrapf(err, "loading %s", svc.kind.Name)
	}
	if found == nil {
		return autosave.Row[T]{OwnerID: owner.ID, Document: svc.kind.New(owner)}, false, nil
	}
	return *found, true, nil
}

// Load returns the owner's stored Document, or the defaults when nothing is stored yet (persisted is false).
func (svc *Service[T]) Load(ctx context.Context, owner user.User) (doc T, persisted bool, err error) {
	row, persisted, err := svc.Get(ctx, owner)
	return row.Document, persisted, err
}

// Validate checks doc against the Document's format rules.
// Autosaves skip it: drafts may be incomplete or temporarily invalid while being edited.
func (svc *Service[T]) Validate(doc T) error {
	if err := svc.validate.Struct(doc); err != nil {
		return core.TranslateValidationErrors(err, svc.translator)
	}
	return nil
}

// Save validates doc and upserts it directly, without debouncing.
func (svc *Service[T]) Save(ctx context.Context, owner user.User, doc T) (autosave.Row[T], error) {
	if svc.kind.Normalize != nil {
		svc.kind.Normalize(&doc)
	}
	if err := svc.Validate(doc); err != nil {
		return autosave.Row[T]{}, err
	}
	row, err := autosave.Upsert(ctx, svc.store, owner.ID, doc, svc.now())
	if err != nil {
		return autosave.Row[T]{}, errors.Wrapf(err, "saving %s", svc.kind.Name)
	}
	return row, nil
}

// Open returns an autosave Controller hydrated with the owner's Document.
func (svc *Service[T]) Open(ctx context.Context, owner user.User, opts autosave.Options) (*autosave.Controller[T], error) {
	doc, persisted, err := svc.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	if opts.Kind == "" {
		opts.Kind = svc.kind.Table
	}
	ctrl := autosave.NewController(svc.store, owner.ID, opts)
	if err = ctrl.Hydrate(doc, persisted); err != nil {
		return nil, errors.Wrapf(err, "hydrating %s", svc.kind.Name)
	}
	return ctrl, nil
}

// Reset deletes the owner's stored Document. The next Load returns the defaults.
func (svc *Service[T]) Reset(ctx context.Context, owner user.User) error {
	err := svc.store.DeleteOwnerRow(ctx, owner.ID)
	if err != nil && errors.Cause(err) != autosave.ErrRowNotFound {
		return errors.Wrapf(err, "resetting %s", svc.kind.Name)
	}
	return nil
}

func (svc *Service[T]) List(ctx context.Context, limit int) ([]autosave.Row[T], error) {
	rows, err := svc.store.ListRows(ctx, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", svc.kind.Name)
	}
	return rows, nil
}
