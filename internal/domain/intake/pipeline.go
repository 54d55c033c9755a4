package intake

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/events"
	"github.com/mia/mia/internal/store"
)

// CheckpointInput is a partial save. An empty ChildID means the child record
// does not exist yet and is created from the answers. Cleared lists answers
// blanked since the previous save.
type CheckpointInput struct {
	ParentID string
	ChildID  string
	Fields   map[string]any
	Cleared  []string
	Step     int
}

// CheckpointResult identifies the records a checkpoint wrote.
type CheckpointResult struct {
	ChildID      string `json:"childId"`
	IntakeFormID string `json:"intakeFormId"`
}

// Pipeline turns form state into Child and IntakeForm records.
type Pipeline struct {
	store  *store.Store
	schema *Schema
	events events.Publisher
	logger zerolog.Logger
}

func NewPipeline(s *store.Store, schema *Schema, pub events.Publisher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{store: s, schema: schema, events: pub, logger: logger}
}

func (p *Pipeline) Schema() *Schema { return p.schema }

// Checkpoint creates or updates the single intake form of a child without
// requiring completeness. Answers are merged into the stored ones; cleared
// answers are removed. A checkpoint always leaves the form incomplete.
func (p *Pipeline) Checkpoint(ctx context.Context, in CheckpointInput) (*CheckpointResult, error) {
	if in.Step < 1 || in.Step > p.schema.Total() {
		return nil, apperr.Validation("", apperr.FieldError{
			Field:   "currentStep",
			Message: fmt.Sprintf("must be between 1 and %d", p.schema.Total()),
		})
	}
	fields, errs := p.schema.Clean(in.Fields)
	if len(errs) > 0 {
		return nil, apperr.Validation("", errs...)
	}

	var childID, createdChild string
	var form *store.IntakeForm
	err := p.store.Tx.InTx(ctx, func(ctx context.Context) error {
		childID = in.ChildID
		if childID == "" {
			child, err := p.childFromFields(in.ParentID, fields)
			if err != nil {
				return err
			}
			if err := p.store.Children.Create(ctx, child); err != nil {
				return fmt.Errorf("create child: %w", err)
			}
			childID = child.ID
			createdChild = child.ID
			p.logger.Info().Str("child_id", childID).Str("parent_id", in.ParentID).Msg("child created from intake")
		} else if _, err := p.store.Children.Get(ctx, childID); err != nil {
			return err
		}

		var err error
		form, err = p.upsert(ctx, childID, func(existing *store.IntakeForm) (store.IntakeFormPatch, *store.IntakeForm) {
			step, done := in.Step, false
			if existing == nil {
				return store.IntakeFormPatch{}, &store.IntakeForm{
					ChildID:     childID,
					CurrentStep: step,
					FormData:    fields,
				}
			}
			merged := store.CloneMap(existing.FormData)
			if merged == nil {
				merged = map[string]any{}
			}
			for _, name := range in.Cleared {
				delete(merged, name)
			}
			for k, v := range fields {
				merged[k] = v
			}
			return store.IntakeFormPatch{CurrentStep: &step, IsCompleted: &done, FormData: merged}, nil
		})
		return err
	})
	if err != nil {
		if createdChild != "" {
			p.discardChild(ctx, createdChild)
		}
		return nil, err
	}

	p.logger.Debug().Str("child_id", childID).Str("intake_form_id", form.ID).Int("step", form.CurrentStep).Msg("intake checkpointed")
	events.Emit(ctx, p.events, p.logger, events.New(events.IntakeCheckpointed, childID, map[string]any{
		"intakeFormId": form.ID,
		"currentStep":  form.CurrentStep,
	}))
	return &CheckpointResult{ChildID: childID, IntakeFormID: form.ID}, nil
}

// Finalize validates the complete answer set, marks the intake form
// completed on the last step and projects child attributes onto the Child.
// The form is written before the child so a failure in between leaves the
// completed form authoritative. Concurrent finalizes are last-writer-wins.
func (p *Pipeline) Finalize(ctx context.Context, childID string, fields map[string]any) (*store.IntakeForm, error) {
	cleaned, err := p.schema.Validate(fields)
	if err != nil {
		return nil, err
	}
	if _, err := p.store.Children.Get(ctx, childID); err != nil {
		return nil, err
	}
	patch, err := p.childPatch(cleaned, true)
	if err != nil {
		return nil, err
	}

	var out *store.IntakeForm
	err = p.store.Tx.InTx(ctx, func(ctx context.Context) error {
		total, done := p.schema.Total(), true
		form, err := p.upsert(ctx, childID, func(existing *store.IntakeForm) (store.IntakeFormPatch, *store.IntakeForm) {
			if existing == nil {
				return store.IntakeFormPatch{}, &store.IntakeForm{
					ChildID:     childID,
					CurrentStep: total,
					IsCompleted: true,
					FormData:    cleaned,
				}
			}
			return store.IntakeFormPatch{CurrentStep: &total, IsCompleted: &done, FormData: cleaned}, nil
		})
		if err != nil {
			return err
		}
		if !patch.Empty() {
			if _, err := p.store.Children.Update(ctx, childID, patch); err != nil {
				return fmt.Errorf("project intake onto child: %w", err)
			}
		}
		out = form
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info().Str("child_id", childID).Str("intake_form_id", out.ID).Msg("intake finalized")
	events.Emit(ctx, p.events, p.logger, events.New(events.IntakeFinalized, childID, map[string]any{
		"intakeFormId": out.ID,
	}))
	return out, nil
}

// upsert creates the child's form when none exists, otherwise updates it.
// build receives the existing form (or nil) and returns either a patch or a
// new record. A create that loses a race to a concurrent create retries as
// an update.
func (p *Pipeline) upsert(ctx context.Context, childID string, build func(existing *store.IntakeForm) (store.IntakeFormPatch, *store.IntakeForm)) (*store.IntakeForm, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := p.store.IntakeForms.GetByChild(ctx, childID)
		if err != nil && !apperr.IsNotFound(err) {
			return nil, err
		}

		patch, create := build(existing)
		if create != nil {
			err := p.store.IntakeForms.Create(ctx, create)
			if apperr.IsConflict(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			return create, nil
		}
		return p.store.IntakeForms.Update(ctx, existing.ID, patch)
	}
	return nil, apperr.Conflict("childId", childID)
}

// childFromFields builds a new Child from the answers mapped onto child
// attributes. Name and date of birth are required.
func (p *Pipeline) childFromFields(parentID string, fields map[string]any) (*store.Child, error) {
	var errs []apperr.FieldError
	for _, name := range []string{p.fieldFor("name"), p.fieldFor("dateOfBirth")} {
		if _, ok := fields[name]; !ok {
			errs = append(errs, apperr.FieldError{Field: name, Message: name + " is required to create the child record"})
		}
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("", errs...)
	}
	patch, err := p.childPatch(fields, false)
	if err != nil {
		return nil, err
	}
	child := &store.Child{ParentID: parentID}
	patch.Apply(child)
	return child, nil
}

// discardChild removes a child created by a checkpoint whose form write
// failed, so a retried save does not create a second child. On Postgres the
// transaction already rolled it back and the delete finds nothing.
func (p *Pipeline) discardChild(ctx context.Context, childID string) {
	err := p.store.Children.Delete(ctx, childID)
	if err != nil && !apperr.IsNotFound(err) {
		p.logger.Error().Err(err).Str("child_id", childID).Msg("failed to discard child of failed checkpoint")
	}
}

func (p *Pipeline) fieldFor(attr string) string {
	for _, st := range p.schema.Steps {
		for _, f := range st.Fields {
			if f.Child == attr {
				return f.Name
			}
		}
	}
	return attr
}

// childPatch maps answers carrying a child attribute onto a ChildPatch.
// Absent answers leave the attribute untouched, unless clearAbsent is set,
// in which case absent optional attributes are cleared.
func (p *Pipeline) childPatch(fields map[string]any, clearAbsent bool) (store.ChildPatch, error) {
	var patch store.ChildPatch
	for _, st := range p.schema.Steps {
		for _, f := range st.Fields {
			if f.Child == "" {
				continue
			}
			raw, ok := fields[f.Name]
			if !ok {
				if clearAbsent && clearable(f.Child) {
					patch.Clear = append(patch.Clear, f.Child)
				}
				continue
			}
			str, _ := raw.(string)
			switch f.Child {
			case "name":
				patch.Name = &str
			case "dateOfBirth", "diagnosisDate":
				t, err := store.ParseDate(str)
				if err != nil {
					return patch, apperr.Validation("", apperr.FieldError{Field: f.Name, Message: "must be a date (YYYY-MM-DD)"})
				}
				if f.Child == "dateOfBirth" {
					patch.DateOfBirth = &t
				} else {
					patch.DiagnosisDate = &t
				}
			case "gender":
				patch.Gender = &str
			case "primaryLanguage":
				patch.PrimaryLanguage = &str
			case "currentDiagnosis":
				patch.CurrentDiagnosis = &str
			case "diagnosingProfessional":
				patch.DiagnosingProfessional = &str
			}
		}
	}
	return patch, nil
}

func clearable(attr string) bool {
	for _, a := range store.ClearableChildAttrs {
		if a == attr {
			return true
		}
	}
	return false
}

// GetForm returns a stored intake form.
func (p *Pipeline) GetForm(ctx context.Context, id string) (*store.IntakeForm, error) {
	return p.store.IntakeForms.Get(ctx, id)
}

// FormByChild returns the intake form of a child.
func (p *Pipeline) FormByChild(ctx context.Context, childID string) (*store.IntakeForm, error) {
	return p.store.IntakeForms.GetByChild(ctx, childID)
}

// CreateForm stores a new intake form posted directly by a client. A form
// posted as completed goes through the same validation and projection as
// Finalize.
func (p *Pipeline) CreateForm(ctx context.Context, f *store.IntakeForm) (*store.IntakeForm, error) {
	if _, err := p.store.Children.Get(ctx, f.ChildID); err != nil {
		return nil, err
	}
	if f.IsCompleted {
		if _, err := p.store.IntakeForms.GetByChild(ctx, f.ChildID); err == nil {
			return nil, apperr.Conflict("childId", f.ChildID)
		}
		return p.Finalize(ctx, f.ChildID, f.FormData)
	}
	if f.CurrentStep == 0 {
		f.CurrentStep = 1
	}
	if err := p.checkStep(f.CurrentStep); err != nil {
		return nil, err
	}
	cleaned, errs := p.schema.Clean(f.FormData)
	if len(errs) > 0 {
		return nil, apperr.Validation("", errs...)
	}
	f.FormData = cleaned
	if err := p.store.IntakeForms.Create(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// UpdateForm applies a partial update. Marking a form completed finalizes it
// with the merged answers.
func (p *Pipeline) UpdateForm(ctx context.Context, id string, patch store.IntakeFormPatch) (*store.IntakeForm, error) {
	cur, err := p.store.IntakeForms.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data := cur.FormData
	if patch.FormData != nil {
		data = patch.FormData
	}

	if patch.IsCompleted != nil && *patch.IsCompleted {
		return p.Finalize(ctx, cur.ChildID, data)
	}

	if patch.CurrentStep != nil {
		if err := p.checkStep(*patch.CurrentStep); err != nil {
			return nil, err
		}
	}
	if patch.FormData != nil {
		cleaned, errs := p.schema.Clean(patch.FormData)
		if len(errs) > 0 {
			return nil, apperr.Validation("", errs...)
		}
		patch.FormData = cleaned
	}
	if cur.IsCompleted && patch.IsCompleted == nil {
		step := p.schema.Total()
		if patch.CurrentStep != nil && *patch.CurrentStep != step {
			return nil, apperr.Validation("", apperr.FieldError{Field: "currentStep", Message: "a completed intake stays on the final step"})
		}
	}
	return p.store.IntakeForms.Update(ctx, id, patch)
}

func (p *Pipeline) checkStep(step int) error {
	if step < 1 || step > p.schema.Total() {
		return apperr.Validation("", apperr.FieldError{
			Field:   "currentStep",
			Message: fmt.Sprintf("must be between 1 and %d", p.schema.Total()),
		})
	}
	return nil
}
