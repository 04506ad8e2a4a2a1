// Package owner builds the Owner aggregate (Owner, Parent, Address) of the
// draft being edited and attaches it to its request.
package owner

import (
	"sync"

	"civreg/internal/requests/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// Phase is the lifecycle of one in-progress owner form.
type Phase string

const (
	PhaseEmpty        Phase = "empty"
	PhaseEditing      Phase = "editing"
	PhaseSavedAsDraft Phase = "saved_as_draft"
	PhaseSubmitted    Phase = "submitted"
)

// Form holds the owner step's field values.
type Form struct {
	Owner   models.Owner
	Parent  models.Parent
	Address models.Address
}

// Validate checks every section for submission.
func (f Form) Validate() error {
	for _, v := range []any{f.Owner, f.Parent, f.Address} {
		if err := models.ValidateStruct(v); err != nil {
			return err
		}
	}
	return nil
}

// DraftIDSource publishes the session's current draft id.
type DraftIDSource interface {
	Current() (id.RequestID, bool)
	Subscribe(fn func(rid id.RequestID, ok bool)) func()
}

// FormStore is the form-data store: the owner fields of one draft plus the
// draft id they belong to. Switching to another draft id resets the form.
type FormStore struct {
	mu        sync.RWMutex
	form      Form
	phase     Phase
	requestID id.RequestID

	unsubscribe func()
}

func NewFormStore() *FormStore {
	return &FormStore{phase: PhaseEmpty}
}

// Follow tracks src's draft id until Unfollow.
func (f *FormStore) Follow(src DraftIDSource) {
	if rid, ok := src.Current(); ok {
		f.SetRequestID(rid)
	}
	unsubscribe := src.Subscribe(func(rid id.RequestID, ok bool) {
		if !ok {
			rid = 0
		}
		f.SetRequestID(rid)
	})
	f.mu.Lock()
	f.unsubscribe = unsubscribe
	f.mu.Unlock()
}

func (f *FormStore) Unfollow() {
	f.mu.Lock()
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// SetRequestID binds the form to rid. A different id starts an empty form,
// except that clearing the id after a submission keeps the submitted form.
func (f *FormStore) SetRequestID(rid id.RequestID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rid == f.requestID {
		return
	}
	if rid == 0 && f.phase == PhaseSubmitted {
		f.requestID = 0
		return
	}
	f.requestID = rid
	f.form = Form{}
	f.phase = PhaseEmpty
}

// RequestID is the draft id the form belongs to.
func (f *FormStore) RequestID() (id.RequestID, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.requestID, f.requestID != 0
}

// Snapshot returns a copy of the form and its phase.
func (f *FormStore) Snapshot() (Form, Phase) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.form, f.phase
}

// Edit applies a field change. A submitted form is read-only.
func (f *FormStore) Edit(change func(*Form)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase == PhaseSubmitted {
		return dErrors.New(dErrors.CodeInvalidState, "submitted form cannot be edited")
	}
	change(&f.form)
	f.phase = PhaseEditing
	return nil
}

// Load prefills the form from a stored owner aggregate.
func (f *FormStore) Load(rid id.RequestID, o *models.Owner) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestID = rid
	f.form = Form{}
	f.phase = PhaseEmpty
	if o == nil {
		return
	}
	f.form.Owner = *o.Clone()
	f.form.Owner.Parent, f.form.Owner.Address = nil, nil
	if o.Parent != nil {
		f.form.Parent = *o.Parent
	}
	if o.Address != nil {
		f.form.Address = *o.Address
	}
	f.phase = PhaseSavedAsDraft
}

// markSaved records a successful save of rid.
func (f *FormStore) markSaved(rid id.RequestID, isDraft bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestID = rid
	if isDraft {
		f.phase = PhaseSavedAsDraft
	} else {
		f.phase = PhaseSubmitted
	}
}

// Reset empties the form, for "start new request".
func (f *FormStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.form = Form{}
	f.phase = PhaseEmpty
	f.requestID = 0
}
