package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/filingdesk/filingdesk/internal/domain"
)

// WizardService orchestrates wizard draft operations: schema resolution,
// step navigation, field edits, uploads, and the terminal submission.
// It is the only writer of a Draft; adapters never mutate one directly.
type WizardService struct {
	drafts      domain.DraftRepository
	submissions domain.SubmissionRepository
	catalog     domain.Catalog
	queue       domain.UploadQueue
	submitter   domain.Submitter
	validator   domain.TransitionValidator
	spoolDir    string
}

// NewWizardService creates a service with the given adapters. spoolDir is
// where uploaded file content is staged until the async upload worker
// picks it up.
func NewWizardService(
	drafts domain.DraftRepository,
	submissions domain.SubmissionRepository,
	catalog domain.Catalog,
	queue domain.UploadQueue,
	submitter domain.Submitter,
	validator domain.TransitionValidator,
	spoolDir string,
) *WizardService {
	return &WizardService{
		drafts:      drafts,
		submissions: submissions,
		catalog:     catalog,
		queue:       queue,
		submitter:   submitter,
		validator:   validator,
		spoolDir:    spoolDir,
	}
}

// CreateDraft starts a wizard session for a service. The requested plan id
// (typically from a deep link) is validated against the service's plan set;
// an unknown id falls back to the lowest tier with an explicit log signal,
// since the plan determines pricing and deliverables. Contact fields
// declared with a prefill source are seeded from the verified session.
func (s *WizardService) CreateDraft(ctx context.Context, serviceID, planID string, sess domain.Session) (domain.Draft, error) {
	def, err := s.catalog.Service(serviceID)
	if err != nil {
		return domain.Draft{}, err
	}

	schema, known := domain.Resolve(def, planID)
	if !known {
		slog.WarnContext(ctx, "unknown plan requested, falling back to lowest tier",
			"service", serviceID,
			"requested_plan", planID,
			"fallback_plan", schema.Plan.ID,
		)
	}

	id, err := generateID()
	if err != nil {
		return domain.Draft{}, fmt.Errorf("generating draft id: %w", err)
	}

	draft := domain.NewDraft(id, serviceID, schema.Plan.ID, sess.Email, sess.Name)
	prefillFields(&draft, schema, sess)

	if err := s.drafts.Create(ctx, draft); err != nil {
		return domain.Draft{}, fmt.Errorf("creating draft: %w", err)
	}

	return draft, nil
}

func prefillFields(draft *domain.Draft, schema domain.ResolvedSchema, sess domain.Session) {
	for _, step := range schema.Steps {
		for _, f := range step.Fields {
			switch f.Prefill {
			case "email":
				if sess.Email != "" {
					draft.Fields[f.Key] = sess.Email
				}
			case "name":
				if sess.Name != "" {
					draft.Fields[f.Key] = sess.Name
				}
			}
		}
	}
}

// Get returns a draft by id.
func (s *WizardService) Get(ctx context.Context, id string) (domain.Draft, error) {
	return s.drafts.Get(ctx, id)
}

// Delete dismisses a wizard session. Uploads still in flight for the draft
// complete into nothing: their results are dropped, never applied.
func (s *WizardService) Delete(ctx context.Context, id string) error {
	return s.drafts.Delete(ctx, id)
}

// Schema returns the active steps for a service under a plan, with the
// same lowest-tier fallback as draft creation.
func (s *WizardService) Schema(ctx context.Context, serviceID, planID string) (domain.ResolvedSchema, error) {
	def, err := s.catalog.Service(serviceID)
	if err != nil {
		return domain.ResolvedSchema{}, err
	}
	schema, known := domain.Resolve(def, planID)
	if !known {
		slog.WarnContext(ctx, "unknown plan requested, falling back to lowest tier",
			"service", serviceID,
			"requested_plan", planID,
			"fallback_plan", schema.Plan.ID,
		)
	}
	return schema, nil
}

// Services lists all known service definitions.
func (s *WizardService) Services(ctx context.Context) []domain.ServiceDefinition {
	return s.catalog.Services()
}

// resolve loads the draft's service definition and resolves it under the
// draft's plan.
func (s *WizardService) resolve(ctx context.Context, draft domain.Draft) (domain.ResolvedSchema, error) {
	def, err := s.catalog.Service(draft.ServiceID)
	if err != nil {
		return domain.ResolvedSchema{}, err
	}
	schema, known := domain.Resolve(def, draft.PlanID)
	if !known {
		// Catalog reload removed the plan mid-session; degrade loudly.
		slog.WarnContext(ctx, "draft plan no longer defined, falling back to lowest tier",
			"draft", draft.ID,
			"plan", draft.PlanID,
			"fallback_plan", schema.Plan.ID,
		)
	}
	return schema, nil
}

// SetFields merges field values into the draft. Entered values are kept
// even when the current plan hides their fields; hidden fields are simply
// excluded at validation and submit time. Shrinking a repeatable group
// below its floor is rejected. Changing a field discards acknowledgments
// for soft warnings on the steps it belongs to: the confirmation applied
// to the old value.
func (s *WizardService) SetFields(ctx context.Context, draftID string, values map[string]any) (domain.Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}
	if !draft.Editable() {
		return domain.Draft{}, &domain.StepError{Op: "edit", Step: draft.CurrentStep, Reason: "draft is " + string(draft.Status)}
	}

	schema, err := s.resolve(ctx, draft)
	if err != nil {
		return domain.Draft{}, err
	}

	if err := checkGroupFloors(schema, draft.Fields, values); err != nil {
		return domain.Draft{}, err
	}

	touched := make(map[int]bool)
	for key, value := range values {
		draft.Fields[key] = value
		if n, ok := schema.StepOfField(key); ok {
			touched[n] = true
		}
	}
	dropAcknowledgments(&draft, schema, touched)

	if draft.Status == domain.StatusFailed {
		next, err := s.validator.Apply(ctx, draft.Status, domain.EventResumeEditing)
		if err != nil {
			return domain.Draft{}, err
		}
		draft.Status = next
	}

	if err := s.drafts.Update(ctx, draft); err != nil {
		return domain.Draft{}, fmt.Errorf("updating draft: %w", err)
	}
	return draft, nil
}

// checkGroupFloors rejects a field change that deletes repeatable-group
// entries below the service-mandated minimum. Growing an under-floor group
// is always allowed.
func checkGroupFloors(schema domain.ResolvedSchema, current map[string]any, incoming map[string]any) error {
	for _, step := range schema.Steps {
		for _, f := range step.Fields {
			if f.Kind != domain.KindGroup || f.MinEntries == 0 {
				continue
			}
			value, changed := incoming[f.Key]
			if !changed {
				continue
			}
			next, ok := value.([]any)
			if !ok {
				continue // kind mismatch is reported by validation, not here
			}
			prev, _ := current[f.Key].([]any)
			if len(next) < len(prev) && len(next) < f.MinEntries {
				return &domain.ValidationError{
					StepID: step.ID,
					FieldErrors: map[string]string{
						f.Key: fmt.Sprintf("%s requires at least %d entries", f.Label, f.MinEntries),
					},
				}
			}
		}
	}
	return nil
}

func dropAcknowledgments(draft *domain.Draft, schema domain.ResolvedSchema, touchedSteps map[int]bool) {
	for n := range touchedSteps {
		step, ok := schema.Step(n)
		if !ok {
			continue
		}
		for _, rule := range step.Rules {
			if rule.Severity == domain.SeveritySoft {
				delete(draft.Acknowledged, rule.Key)
			}
		}
	}
}

// SetPlan changes the selected plan tier. Only permitted from the
// plan-selection step (step 1); already-entered values are preserved for
// every field that remains visible under the new tier, and values for
// hidden fields are retained but inert.
func (s *WizardService) SetPlan(ctx context.Context, draftID, planID string) (domain.Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}
	if !draft.Editable() {
		return domain.Draft{}, &domain.StepError{Op: "set plan", Step: draft.CurrentStep, Reason: "draft is " + string(draft.Status)}
	}
	if draft.CurrentStep != 1 {
		return domain.Draft{}, domain.ErrPlanChangeOutside
	}

	def, err := s.catalog.Service(draft.ServiceID)
	if err != nil {
		return domain.Draft{}, err
	}
	schema, known := domain.Resolve(def, planID)
	if !known {
		slog.WarnContext(ctx, "unknown plan selected, falling back to lowest tier",
			"draft", draftID,
			"requested_plan", planID,
			"fallback_plan", schema.Plan.ID,
		)
	}

	draft.PlanID = schema.Plan.ID
	draft.Frontier = validatedFrontier(schema, draft)
	if draft.CurrentStep > draft.Frontier {
		draft.CurrentStep = draft.Frontier
	}

	if err := s.drafts.Update(ctx, draft); err != nil {
		return domain.Draft{}, fmt.Errorf("updating draft: %w", err)
	}
	return draft, nil
}

// validatedFrontier re-derives how far the draft may navigate under a
// newly resolved schema. The frontier keeps its reach only across the
// prefix of steps that still validate: a tier switch can reveal steps or
// required fields the user has never been gated through, and jumping past
// them would bypass the advance gate.
func validatedFrontier(schema domain.ResolvedSchema, draft domain.Draft) int {
	frontier := draft.Frontier
	if total := schema.TotalSteps(); frontier > total {
		frontier = total
	}
	for n := 1; n < frontier; n++ {
		step, ok := schema.Step(n)
		if !ok {
			return n
		}
		res := domain.ValidateStep(step, draft.Fields, draft.Acknowledged)
		if len(res.FieldErrors) > 0 || len(res.Warnings) > 0 {
			return n
		}
	}
	return frontier
}

// Advance moves the draft to the next step, gated on the current step's
// validation: hard errors always block; soft warnings block until the user
// has acknowledged them.
func (s *WizardService) Advance(ctx context.Context, draftID string) (domain.Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}

	schema, err := s.resolve(ctx, draft)
	if err != nil {
		return domain.Draft{}, err
	}

	step, ok := schema.Step(draft.CurrentStep)
	if !ok {
		return domain.Draft{}, &domain.StepError{Op: "advance", Step: draft.CurrentStep, Reason: "step is out of range for the current plan"}
	}

	res := domain.ValidateStep(step, draft.Fields, draft.Acknowledged)
	if len(res.FieldErrors) > 0 {
		return domain.Draft{}, &domain.ValidationError{StepID: step.ID, FieldErrors: res.FieldErrors}
	}
	if len(res.Warnings) > 0 {
		return domain.Draft{}, &domain.SoftWarningError{StepID: step.ID, Warnings: res.Warnings}
	}

	if err := draft.Advance(schema.TotalSteps()); err != nil {
		return domain.Draft{}, err
	}

	if err := s.drafts.Update(ctx, draft); err != nil {
		return domain.Draft{}, fmt.Errorf("updating draft: %w", err)
	}
	return draft, nil
}

// Retreat moves the draft to the previous step. No re-validation: the
// target step was valid when it was left, and it stays editable.
func (s *WizardService) Retreat(ctx context.Context, draftID string) (domain.Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}
	if err := draft.Retreat(); err != nil {
		return domain.Draft{}, err
	}
	if err := s.drafts.Update(ctx, draft); err != nil {
		return domain.Draft{}, fmt.Errorf("updating draft: %w", err)
	}
	return draft, nil
}

// Jump moves directly to an already-reached step. Jumping to a step the
// user has not validated their way to is rejected.
func (s *WizardService) Jump(ctx context.Context, draftID string, target int) (domain.Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}
	if err := draft.Jump(target); err != nil {
		return domain.Draft{}, err
	}
	if err := s.drafts.Update(ctx, draft); err != nil {
		return domain.Draft{}, fmt.Errorf("updating draft: %w", err)
	}
	return draft, nil
}

// Acknowledge records the user's explicit confirmation of soft warnings.
// Only keys defined as soft rules under the draft's current plan are
// accepted.
func (s *WizardService) Acknowledge(ctx context.Context, draftID string, keys []string) (domain.Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return domain.Draft{}, err
	}
	if !draft.Editable() {
		return domain.Draft{}, &domain.StepError{Op: "acknowledge", Step: draft.CurrentStep, Reason: "draft is " + string(draft.Status)}
	}

	schema, err := s.resolve(ctx, draft)
	if err != nil {
		return domain.Draft{}, err
	}

	soft := make(map[string]bool)
	for _, step := range schema.Steps {
		for _, rule := range step.Rules {
			if rule.Severity == domain.SeveritySoft {
				soft[rule.Key] = true
			}
		}
	}

	for _, key := range keys {
		if !soft[key] {
			return domain.Draft{}, fmt.Errorf("unknown warning key %q", key)
		}
		draft.Acknowledged[key] = true
	}

	if err := s.drafts.Update(ctx, draft); err != nil {
		return domain.Draft{}, fmt.Errorf("updating draft: %w", err)
	}
	return draft, nil
}
