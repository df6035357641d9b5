package app_test

import (
	"context"
	"errors"
	"maps"
	"strings"
	"testing"

	"github.com/filingdesk/filingdesk/internal/adapter/fsm"
	"github.com/filingdesk/filingdesk/internal/app"
	"github.com/filingdesk/filingdesk/internal/domain"
)

// --- Fixtures ---

func fptr(v float64) *float64 { return &v }

// partnershipService mirrors the shape of a real vertical: a contact step
// with prefill, a repeatable partner group with a 2-entry floor and
// per-partner PAN uploads, a premises step with a soft distance warning,
// plan-conditional fields, and a review step.
func partnershipService() domain.ServiceDefinition {
	return domain.ServiceDefinition{
		ID:   "partnership-registration",
		Name: "Partnership Firm Registration",
		Plans: []domain.PlanTier{
			{ID: "basic", Title: "Basic", Price: 299900},
			{ID: "premium", Title: "Premium", Price: 599900},
		},
		Steps: []domain.StepSpec{
			{
				ID:    "contact",
				Label: "Contact Details",
				Fields: []domain.FieldSpec{
					{Key: "email", Label: "Email", Kind: domain.KindText, Required: true, Prefill: "email"},
					{Key: "full_name", Label: "Full name", Kind: domain.KindText, Required: true, Prefill: "name"},
					{Key: "state_of_registration", Label: "State of registration", Kind: domain.KindText, Required: true, Plans: []string{"premium"}},
				},
			},
			{
				ID:    "partners",
				Label: "Partner Details",
				Fields: []domain.FieldSpec{
					{Key: "partners", Label: "Partners", Kind: domain.KindGroup, Required: true, MinEntries: 2},
				},
				Documents: []domain.DocumentSpec{
					{Key: "partner_pan", Label: "Partner PAN card", Category: "identity", Required: true, Repeat: true},
				},
			},
			{
				ID:    "premises",
				Label: "Business Premises",
				Fields: []domain.FieldSpec{
					{Key: "distance", Label: "Distance from protected site", Kind: domain.KindNumber, Required: true, Min: fptr(0)},
				},
				Documents: []domain.DocumentSpec{
					{Key: "address_proof", Label: "Address proof", Category: "premises", Required: false},
				},
				Rules: []domain.CrossRule{
					{Key: "distance_warning", Expr: "distance >= 50", Message: "premises is within 50 units of a protected site", Severity: domain.SeveritySoft},
				},
			},
			{
				ID:    "review",
				Label: "Review & Submit",
			},
		},
	}
}

// --- Mocks ---

type mockCatalog struct {
	defs map[string]domain.ServiceDefinition
}

func newMockCatalog(defs ...domain.ServiceDefinition) *mockCatalog {
	m := &mockCatalog{defs: make(map[string]domain.ServiceDefinition)}
	for _, d := range defs {
		m.defs[d.ID] = d
	}
	return m
}

func (m *mockCatalog) Service(id string) (domain.ServiceDefinition, error) {
	d, ok := m.defs[id]
	if !ok {
		return domain.ServiceDefinition{}, domain.ErrServiceNotFound
	}
	return d, nil
}

func (m *mockCatalog) Services() []domain.ServiceDefinition {
	out := make([]domain.ServiceDefinition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	return out
}

type mockDrafts struct {
	drafts map[string]domain.Draft
}

func newMockDrafts() *mockDrafts {
	return &mockDrafts{drafts: make(map[string]domain.Draft)}
}

func cloneDraft(d domain.Draft) domain.Draft {
	out := d
	out.Fields = maps.Clone(d.Fields)
	out.Documents = maps.Clone(d.Documents)
	out.Acknowledged = maps.Clone(d.Acknowledged)
	return out
}

func (m *mockDrafts) Create(_ context.Context, d domain.Draft) error {
	m.drafts[d.ID] = cloneDraft(d)
	return nil
}

func (m *mockDrafts) Get(_ context.Context, id string) (domain.Draft, error) {
	d, ok := m.drafts[id]
	if !ok {
		return domain.Draft{}, domain.ErrDraftNotFound
	}
	return cloneDraft(d), nil
}

func (m *mockDrafts) Update(_ context.Context, d domain.Draft) error {
	stored, ok := m.drafts[d.ID]
	if !ok {
		return domain.ErrDraftNotFound
	}
	// Document slots are owned by StageUpload/CompleteUpload, matching
	// the store's contract.
	next := cloneDraft(d)
	next.Documents = stored.Documents
	m.drafts[d.ID] = next
	return nil
}

func (m *mockDrafts) Delete(_ context.Context, id string) error {
	delete(m.drafts, id)
	return nil
}

func (m *mockDrafts) StageUpload(_ context.Context, draftID, key, filename string) (int, error) {
	d, ok := m.drafts[draftID]
	if !ok {
		return 0, domain.ErrDraftNotFound
	}
	generation := d.Documents[key].Generation + 1
	d.Documents = maps.Clone(d.Documents)
	d.Documents[key] = domain.UploadedDocument{
		Key: key, Filename: filename, Status: domain.UploadInFlight, Generation: generation,
	}
	m.drafts[draftID] = d
	return generation, nil
}

func (m *mockDrafts) FinishSubmit(_ context.Context, id string, status domain.Status) error {
	d, ok := m.drafts[id]
	if !ok || d.Status != domain.StatusSubmitting {
		return domain.ErrDraftNotFound
	}
	d.Status = status
	m.drafts[id] = d
	return nil
}

func (m *mockDrafts) BeginSubmit(_ context.Context, id string) (bool, error) {
	d, ok := m.drafts[id]
	if !ok {
		return false, domain.ErrDraftNotFound
	}
	if d.Status == domain.StatusSubmitting {
		return false, nil
	}
	d.Status = domain.StatusSubmitting
	m.drafts[id] = d
	return true, nil
}

func (m *mockDrafts) CompleteUpload(_ context.Context, draftID, key string, generation int, doc domain.UploadedDocument) (bool, error) {
	d, ok := m.drafts[draftID]
	if !ok {
		return false, nil
	}
	current, ok := d.Documents[key]
	if !ok || current.Generation != generation {
		return false, nil
	}
	d.Documents = maps.Clone(d.Documents)
	d.Documents[key] = doc
	m.drafts[draftID] = d
	return true, nil
}

type mockSubmissions struct {
	records map[string]domain.SubmissionRecord // by draft id
}

func newMockSubmissions() *mockSubmissions {
	return &mockSubmissions{records: make(map[string]domain.SubmissionRecord)}
}

func (m *mockSubmissions) Save(_ context.Context, rec domain.SubmissionRecord) error {
	if _, ok := m.records[rec.DraftID]; ok {
		return domain.ErrAlreadySubmitted
	}
	m.records[rec.DraftID] = rec
	return nil
}

func (m *mockSubmissions) GetByDraft(_ context.Context, draftID string) (domain.SubmissionRecord, error) {
	rec, ok := m.records[draftID]
	if !ok {
		return domain.SubmissionRecord{}, domain.ErrDraftNotFound
	}
	return rec, nil
}

type mockQueue struct {
	jobs []domain.UploadJob
}

func (m *mockQueue) Enqueue(_ context.Context, job domain.UploadJob) error {
	m.jobs = append(m.jobs, job)
	return nil
}

type mockSubmitter struct {
	calls    int
	lastBody domain.SubmissionPayload
	err      error
	onSubmit func() // runs while the POST is "in flight"
}

func (m *mockSubmitter) Submit(_ context.Context, _ string, payload domain.SubmissionPayload) (domain.SubmissionReceipt, error) {
	m.calls++
	m.lastBody = payload
	if m.onSubmit != nil {
		m.onSubmit()
	}
	if m.err != nil {
		return domain.SubmissionReceipt{}, m.err
	}
	return domain.SubmissionReceipt{SubmissionID: payload.SubmissionID, Status: "accepted"}, nil
}

type fixture struct {
	svc         *app.WizardService
	drafts      *mockDrafts
	submissions *mockSubmissions
	queue       *mockQueue
	submitter   *mockSubmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		drafts:      newMockDrafts(),
		submissions: newMockSubmissions(),
		queue:       &mockQueue{},
		submitter:   &mockSubmitter{},
	}
	f.svc = app.NewWizardService(
		f.drafts, f.submissions, newMockCatalog(partnershipService()),
		f.queue, f.submitter, fsm.New(), t.TempDir(),
	)
	return f
}

var testSession = domain.Session{Email: "asha@example.com", Name: "Asha Rao"}

// --- Tests ---

func TestCreateDraft_PrefillsContactFields(t *testing.T) {
	f := newFixture(t)

	draft, err := f.svc.CreateDraft(context.Background(), "partnership-registration", "basic", testSession)
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}

	if draft.Fields["email"] != "asha@example.com" {
		t.Errorf("email prefill = %v, want session email", draft.Fields["email"])
	}
	if draft.Fields["full_name"] != "Asha Rao" {
		t.Errorf("full_name prefill = %v, want session name", draft.Fields["full_name"])
	}
	if draft.CurrentStep != 1 || draft.Status != domain.StatusEditing {
		t.Errorf("new draft step/status = %d/%q", draft.CurrentStep, draft.Status)
	}
}

func TestCreateDraft_UnknownPlanFallsBack(t *testing.T) {
	f := newFixture(t)

	draft, err := f.svc.CreateDraft(context.Background(), "partnership-registration", "platinum", testSession)
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if draft.PlanID != "basic" {
		t.Errorf("PlanID = %q, want fallback %q", draft.PlanID, "basic")
	}
}

func TestCreateDraft_UnknownService(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateDraft(context.Background(), "no-such-service", "basic", testSession)
	if !errors.Is(err, domain.ErrServiceNotFound) {
		t.Errorf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestAdvance_GatedOnValidation(t *testing.T) {
	f := newFixture(t)
	draft, _ := f.svc.CreateDraft(context.Background(), "partnership-registration", "basic", testSession)

	// Contact step is prefilled, so advance passes.
	draft, err := f.svc.Advance(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("advance from contact: %v", err)
	}
	if draft.CurrentStep != 2 {
		t.Fatalf("CurrentStep = %d, want 2", draft.CurrentStep)
	}

	// Partner step: empty required group blocks.
	_, err = f.svc.Advance(context.Background(), draft.ID)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := vErr.FieldErrors["partners"]; !ok {
		t.Errorf("expected partners error, got %v", vErr.FieldErrors)
	}
}

func TestAdvance_PremiumRequiresConditionalField(t *testing.T) {
	f := newFixture(t)
	draft, _ := f.svc.CreateDraft(context.Background(), "partnership-registration", "premium", testSession)

	// state_of_registration is active and required under premium.
	_, err := f.svc.Advance(context.Background(), draft.ID)
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := vErr.FieldErrors["state_of_registration"]; !ok {
		t.Errorf("expected state_of_registration error, got %v", vErr.FieldErrors)
	}

	if _, err := f.svc.SetFields(context.Background(), draft.ID, map[string]any{"state_of_registration": "Karnataka"}); err != nil {
		t.Fatalf("SetFields: %v", err)
	}
	if _, err := f.svc.Advance(context.Background(), draft.ID); err != nil {
		t.Fatalf("advance after filling conditional field: %v", err)
	}
}

func TestSetPlan_PreservesEnteredFields(t *testing.T) {
	f := newFixture(t)
	draft, _ := f.svc.CreateDraft(context.Background(), "partnership-registration", "basic", testSession)

	// Switch basic -> premium on the plan-selection step; prefilled values
	// must survive, the premium-only field appears empty and editable.
	draft, err := f.svc.SetPlan(context.Background(), draft.ID, "premium")
	if err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	if draft.PlanID != "premium" {
		t.Errorf("PlanID = %q, want premium", draft.PlanID)
	}
	if draft.Fields["email"] != "asha@example.com" {
		t.Errorf("email was discarded on plan switch: %v", draft.Fields["email"])
	}
	if _, ok := draft.Fields["state_of_registration"]; ok {
		t.Error("premium-only field should start empty")
	}
}

func TestSetPlan_OnlyFromPlanSelectionStep(t *testing.T) {
	f := newFixture(t)
	draft, _ := f.svc.CreateDraft(context.Background(), "partnership-registration", "basic", testSession)
	if _, err := f.svc.Advance(context.Background(), draft.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	_, err := f.svc.SetPlan(context.Background(), draft.ID, "premium")
	if !errors.Is(err, domain.ErrPlanChangeOutside) {
		t.Errorf("expected ErrPlanChangeOutside, got %v", err)
	}
}

func TestSetPlan_RetractsFrontierPastRevealedFields(t *testing.T) {
	f := newFixture(t)
	draft := draftOnPremisesStep(t, f) // frontier 3 under basic

	if _, err := f.svc.Jump(context.Background(), draft.ID, 1); err != nil {
		t.Fatalf("Jump to 1: %v", err)
	}

	// Premium reveals a required contact field the user has never been
	// gated through; the frontier must retract to that step.
	switched, err := f.svc.SetPlan(context.Background(), draft.ID, "premium")
	if err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	if switched.Frontier != 1 {
		t.Errorf("Frontier = %d, want 1", switched.Frontier)
	}
	if _, err := f.svc.Jump(context.Background(), draft.ID, 3); err == nil {
		t.Error("jump past an unvalidated step must fail after the switch")
	}
}

func TestSetFields_RejectsGroupDeletionBelowFloor(t *testing.T) {
	f := newFixture(t)
	draft, _ := f.svc.CreateDraft(context.Background(), "partnership-registration", "basic", testSession)

	three := []any{
		map[string]any{"name": "A"},
		map[string]any{"name": "B"},
		map[string]any{"name": "C"},
	}
	if _, err := f.svc.SetFields(context.Background(), draft.ID, map[string]any{"partners": three}); err != nil {
		t.Fatalf("SetFields(3 partners): %v", err)
	}

	// Deleting the 3rd of 3 succeeds.
	two := three[:2]
	if _, err := f.svc.SetFields(context.Background(), draft.ID, map[string]any{"partners": two}); err != nil {
		t.Fatalf("SetFields(2 partners): %v", err)
	}

	// Deleting down to 1 is rejected.
	one := three[:1]
	_, err := f.svc.SetFields(context.Background(), draft.ID, map[string]any{"partners": one})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSoftWarning_AcknowledgeThenAdvance(t *testing.T) {
	f := newFixture(t)
	draft := draftOnPremisesStep(t, f)

	if _, err := f.svc.SetFields(context.Background(), draft.ID, map[string]any{"distance": float64(40)}); err != nil {
		t.Fatalf("SetFields(distance): %v", err)
	}

	// Below the 50-unit soft threshold: advance blocks with a warning.
	_, err := f.svc.Advance(context.Background(), draft.ID)
	var wErr *domain.SoftWarningError
	if !errors.As(err, &wErr) {
		t.Fatalf("expected SoftWarningError, got %v", err)
	}
	if _, ok := wErr.Warnings["distance_warning"]; !ok {
		t.Fatalf("expected distance_warning, got %v", wErr.Warnings)
	}

	if _, err := f.svc.Acknowledge(context.Background(), draft.ID, []string{"distance_warning"}); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	// Same value, acknowledged: advance succeeds.
	moved, err := f.svc.Advance(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("advance after acknowledgment: %v", err)
	}
	if moved.CurrentStep != 4 {
		t.Errorf("CurrentStep = %d, want 4 (review)", moved.CurrentStep)
	}
}

func TestSetFields_DropsAcknowledgmentOnChange(t *testing.T) {
	f := newFixture(t)
	draft := draftOnPremisesStep(t, f)

	setFields(t, f, draft.ID, map[string]any{"distance": float64(40)})
	if _, err := f.svc.Acknowledge(context.Background(), draft.ID, []string{"distance_warning"}); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	// Changing the value invalidates the earlier confirmation.
	setFields(t, f, draft.ID, map[string]any{"distance": float64(30)})

	_, err := f.svc.Advance(context.Background(), draft.ID)
	var wErr *domain.SoftWarningError
	if !errors.As(err, &wErr) {
		t.Fatalf("expected SoftWarningError after value change, got %v", err)
	}
}

func TestJump_OnlyToReachedSteps(t *testing.T) {
	f := newFixture(t)
	draft := draftOnPremisesStep(t, f) // frontier = 3

	if _, err := f.svc.Jump(context.Background(), draft.ID, 1); err != nil {
		t.Fatalf("jump to completed step 1: %v", err)
	}
	if _, err := f.svc.Jump(context.Background(), draft.ID, 3); err != nil {
		t.Fatalf("jump back to frontier step 3: %v", err)
	}
	if _, err := f.svc.Jump(context.Background(), draft.ID, 4); err == nil {
		t.Error("jump beyond the frontier should fail")
	}
}

// --- helpers ---

func setFields(t *testing.T, f *fixture, draftID string, values map[string]any) {
	t.Helper()
	if _, err := f.svc.SetFields(context.Background(), draftID, values); err != nil {
		t.Fatalf("SetFields(%v): %v", values, err)
	}
}

func advance(t *testing.T, f *fixture, draftID string) domain.Draft {
	t.Helper()
	d, err := f.svc.Advance(context.Background(), draftID)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	return d
}

// draftOnPremisesStep creates a basic-plan draft and walks it to step 3
// (premises), completing the partner step with two partners and a
// succeeded PAN upload for each.
func draftOnPremisesStep(t *testing.T, f *fixture) domain.Draft {
	t.Helper()

	draft, err := f.svc.CreateDraft(context.Background(), "partnership-registration", "basic", testSession)
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	advance(t, f, draft.ID)

	setFields(t, f, draft.ID, map[string]any{"partners": []any{
		map[string]any{"name": "A"},
		map[string]any{"name": "B"},
	}})
	uploadSucceeded(t, f, draft.ID, "partner_pan_0", "pan-a.pdf")
	uploadSucceeded(t, f, draft.ID, "partner_pan_1", "pan-b.pdf")

	return advance(t, f, draft.ID)
}

// uploadSucceeded begins an upload and immediately applies its completion,
// as the async worker would.
func uploadSucceeded(t *testing.T, f *fixture, draftID, key, filename string) {
	t.Helper()

	if _, err := f.svc.BeginUpload(context.Background(), draftID, key, filename, strings.NewReader("content")); err != nil {
		t.Fatalf("BeginUpload(%s): %v", key, err)
	}
	job := f.queue.jobs[len(f.queue.jobs)-1]
	err := f.svc.CompleteUpload(context.Background(), job, domain.UploadResult{
		ID:           "remote-" + key,
		FileURL:      "https://files.example.com/" + key,
		OriginalName: filename,
	})
	if err != nil {
		t.Fatalf("CompleteUpload(%s): %v", key, err)
	}
}
