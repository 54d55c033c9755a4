package intake

import (
	"context"
	"errors"
	"math"

	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/store"
)

// ErrSubmitRequested is returned by Advance on the final step. The caller
// is expected to Submit instead.
var ErrSubmitRequested = errors.New("final step reached, submit requested")

// Checkpointer persists a partial form.
type Checkpointer interface {
	Checkpoint(ctx context.Context, in CheckpointInput) (*CheckpointResult, error)
}

// Submitter persists a partial or a final form.
type Submitter interface {
	Checkpointer
	Finalize(ctx context.Context, childID string, fields map[string]any) (*store.IntakeForm, error)
}

// Form walks one user through the steps of a Schema and accumulates their
// answers. It is not safe for concurrent use; SessionRegistry serializes
// access for server-held forms.
type Form struct {
	schema    *Schema
	ownerID   string
	step      int
	fields    map[string]any
	cleared   map[string]bool
	childID   string
	formID    string
	completed bool
}

// NewForm starts an empty form at step 1 for ownerID.
func NewForm(schema *Schema, ownerID string) *Form {
	return &Form{
		schema:  schema,
		ownerID: ownerID,
		step:    1,
		fields:  map[string]any{},
		cleared: map[string]bool{},
	}
}

// Resume rebuilds a form from a stored checkpoint.
func Resume(schema *Schema, ownerID string, f *store.IntakeForm) *Form {
	form := NewForm(schema, ownerID)
	form.childID = f.ChildID
	form.formID = f.ID
	form.completed = f.IsCompleted
	form.step = clampStep(f.CurrentStep, schema.Total())
	form.fields = store.CloneMap(f.FormData)
	if form.fields == nil {
		form.fields = map[string]any{}
	}
	return form
}

func clampStep(step, total int) int {
	if step < 1 {
		return 1
	}
	if step > total {
		return total
	}
	return step
}

func (f *Form) Schema() *Schema   { return f.schema }
func (f *Form) OwnerID() string   { return f.ownerID }
func (f *Form) Step() int         { return f.step }
func (f *Form) Total() int        { return f.schema.Total() }
func (f *Form) ChildID() string   { return f.childID }
func (f *Form) FormID() string    { return f.formID }
func (f *Form) Completed() bool   { return f.completed }
func (f *Form) CurrentStep() Step { return f.schema.Steps[f.step-1] }

// Fields returns a copy of the accumulated answers.
func (f *Form) Fields() map[string]any {
	return store.CloneMap(f.fields)
}

// Progress is the rounded completion percentage for display.
func (f *Form) Progress() int {
	return int(math.Round(float64(f.step) / float64(f.schema.Total()) * 100))
}

// Advance moves to the next step. On the final step it returns
// ErrSubmitRequested and stays put. With StrictAdvance it refuses to leave a
// step whose required fields are missing.
func (f *Form) Advance() error {
	if f.schema.StrictAdvance {
		if missing := f.schema.MissingInStep(f.step, f.fields); len(missing) > 0 {
			return apperr.Validation("", missing...)
		}
	}
	if f.step >= f.schema.Total() {
		return ErrSubmitRequested
	}
	f.step++
	return nil
}

// Retreat moves to the previous step and never goes below step 1.
func (f *Form) Retreat() {
	if f.step > 1 {
		f.step--
	}
}

// Set records one answer. A blank value removes the answer. Setting a field
// whose visibility condition is not met is rejected.
func (f *Form) Set(name string, value any) error {
	field, ok := f.schema.Field(name)
	if !ok {
		return apperr.Validation("", apperr.FieldError{Field: name, Message: "unknown field"})
	}
	v, blank, err := f.schema.Normalize(field, value)
	if err != nil {
		return apperr.Validation("", apperr.FieldError{Field: name, Message: err.Error()})
	}
	if blank {
		if _, had := f.fields[name]; had {
			delete(f.fields, name)
			f.cleared[name] = true
		}
		return nil
	}
	if !f.schema.Visible(field, f.fields) {
		return apperr.Validation("", apperr.FieldError{Field: name, Message: "field is not shown until " + field.VisibleWhen + " is answered"})
	}
	f.fields[name] = v
	delete(f.cleared, name)
	return nil
}

// SetAll applies several answers in schema order so controlling fields are
// recorded before the fields they reveal. Nothing is applied on error.
func (f *Form) SetAll(values map[string]any) error {
	trial := &Form{
		schema:  f.schema,
		fields:  store.CloneMap(f.fields),
		cleared: make(map[string]bool, len(f.cleared)),
	}
	for k := range f.cleared {
		trial.cleared[k] = true
	}

	var errs []apperr.FieldError
	for _, name := range f.schemaOrder(values) {
		if err := trial.Set(name, values[name]); err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) {
				errs = append(errs, ae.Fields...)
				continue
			}
			return err
		}
	}
	if len(errs) > 0 {
		return apperr.Validation("", errs...)
	}
	f.fields = trial.fields
	f.cleared = trial.cleared
	return nil
}

func (f *Form) schemaOrder(values map[string]any) []string {
	var ordered []string
	seen := map[string]bool{}
	for _, st := range f.schema.Steps {
		for _, fd := range st.Fields {
			if _, ok := values[fd.Name]; ok {
				ordered = append(ordered, fd.Name)
				seen[fd.Name] = true
			}
		}
	}
	for _, name := range sortedKeys(values) {
		if !seen[name] {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

// SaveProgress checkpoints the current answers and step. On failure the
// form is left exactly as it was.
func (f *Form) SaveProgress(ctx context.Context, cp Checkpointer) (*CheckpointResult, error) {
	in := CheckpointInput{
		ParentID: f.ownerID,
		ChildID:  f.childID,
		Fields:   store.CloneMap(f.fields),
		Cleared:  f.clearedNames(),
		Step:     f.step,
	}
	res, err := cp.Checkpoint(ctx, in)
	if err != nil {
		return nil, err
	}
	f.childID = res.ChildID
	f.formID = res.IntakeFormID
	f.completed = false
	f.cleared = map[string]bool{}
	return res, nil
}

// Submit validates and finalizes the form. A form that was never saved is
// checkpointed first so the child record exists. On failure the answers and
// step are left untouched.
func (f *Form) Submit(ctx context.Context, s Submitter) (*store.IntakeForm, error) {
	if _, err := f.schema.Validate(f.fields); err != nil {
		return nil, err
	}
	if f.childID == "" {
		res, err := s.Checkpoint(ctx, CheckpointInput{
			ParentID: f.ownerID,
			Fields:   store.CloneMap(f.fields),
			Step:     f.step,
		})
		if err != nil {
			return nil, err
		}
		f.childID = res.ChildID
		f.formID = res.IntakeFormID
	}
	out, err := s.Finalize(ctx, f.childID, store.CloneMap(f.fields))
	if err != nil {
		return nil, err
	}
	f.formID = out.ID
	f.step = f.schema.Total()
	f.completed = true
	f.cleared = map[string]bool{}
	return out, nil
}

// Close discards all in-memory state without persisting anything.
func (f *Form) Close() {
	f.step = 1
	f.fields = map[string]any{}
	f.cleared = map[string]bool{}
	f.childID = ""
	f.formID = ""
	f.completed = false
}

func (f *Form) clearedNames() []string {
	if len(f.cleared) == 0 {
		return nil
	}
	m := make(map[string]any, len(f.cleared))
	for k := range f.cleared {
		m[k] = nil
	}
	return sortedKeys(m)
}

// Snapshot is the JSON view of a form.
type Snapshot struct {
	Step         int            `json:"currentStep"`
	TotalSteps   int            `json:"totalSteps"`
	StepID       string         `json:"stepId"`
	StepTitle    string         `json:"stepTitle"`
	Progress     int            `json:"progress"`
	Fields       map[string]any `json:"fields"`
	ChildID      string         `json:"childId,omitempty"`
	IntakeFormID string         `json:"intakeFormId,omitempty"`
	IsCompleted  bool           `json:"isCompleted"`
	Visible      []string       `json:"visibleFields"`
}

// Snapshot returns the presentation view of the current state, including
// which fields of the current step are shown.
func (f *Form) Snapshot() Snapshot {
	st := f.CurrentStep()
	var visible []string
	for _, fd := range st.Fields {
		if f.schema.Visible(fd, f.fields) {
			visible = append(visible, fd.Name)
		}
	}
	return Snapshot{
		Step:         f.step,
		TotalSteps:   f.schema.Total(),
		StepID:       st.ID,
		StepTitle:    st.Title,
		Progress:     f.Progress(),
		Fields:       f.Fields(),
		ChildID:      f.childID,
		IntakeFormID: f.formID,
		IsCompleted:  f.completed,
		Visible:      visible,
	}
}
