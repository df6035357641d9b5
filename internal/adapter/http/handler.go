package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/filingdesk/filingdesk/internal/app"
	"github.com/filingdesk/filingdesk/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

// DocumentResponse is the API representation of one upload slot's state.
type DocumentResponse struct {
	Key      string `json:"key" doc:"Document slot key"`
	Filename string `json:"filename" doc:"User's original filename"`
	FileURL  string `json:"file_url,omitempty" doc:"Stable URL once the upload succeeded"`
	Status   string `json:"status" doc:"pending, in_flight, succeeded, or failed"`
	Error    string `json:"error,omitempty" doc:"Failure reason, when status is failed"`
}

// DraftResponse is the API representation of a wizard draft.
type DraftResponse struct {
	ID           string             `json:"id" doc:"Draft identifier"`
	ServiceID    string             `json:"service_id" doc:"Service being applied for"`
	PlanID       string             `json:"plan_id" doc:"Selected plan tier"`
	CurrentStep  int                `json:"current_step" doc:"1-based current step"`
	Frontier     int                `json:"frontier" doc:"Highest step reached so far"`
	Status       string             `json:"status" doc:"Lifecycle state"`
	Fields       map[string]any     `json:"fields" doc:"Entered field values"`
	Documents    []DocumentResponse `json:"documents" doc:"Upload slot states"`
	Acknowledged []string           `json:"acknowledged" doc:"Confirmed soft-warning keys"`
	CreatedAt    string             `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt    string             `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toDraftResponse(d domain.Draft) DraftResponse {
	docs := make([]DocumentResponse, 0, len(d.Documents))
	for _, key := range sortedDocKeys(d.Documents) {
		doc := d.Documents[key]
		docs = append(docs, DocumentResponse{
			Key:      doc.Key,
			Filename: doc.Filename,
			FileURL:  doc.RemoteURL,
			Status:   string(doc.Status),
			Error:    doc.Error,
		})
	}

	acked := make([]string, 0, len(d.Acknowledged))
	for key, ok := range d.Acknowledged {
		if ok {
			acked = append(acked, key)
		}
	}
	sort.Strings(acked)

	return DraftResponse{
		ID:           d.ID,
		ServiceID:    d.ServiceID,
		PlanID:       d.PlanID,
		CurrentStep:  d.CurrentStep,
		Frontier:     d.Frontier,
		Status:       string(d.Status),
		Fields:       d.Fields,
		Documents:    docs,
		Acknowledged: acked,
		CreatedAt:    d.CreatedAt.Format(timeFormat),
		UpdatedAt:    d.UpdatedAt.Format(timeFormat),
	}
}

// PlanResponse is one priced tier in a service listing.
type PlanResponse struct {
	ID       string   `json:"id" doc:"Plan identifier"`
	Title    string   `json:"title" doc:"Display title"`
	Price    int      `json:"price" doc:"Price in minor currency units"`
	Features []string `json:"features,omitempty" doc:"Included deliverables"`
}

// ServiceResponse is the catalog listing entry for one service.
type ServiceResponse struct {
	ID    string         `json:"id" doc:"Service identifier"`
	Name  string         `json:"name" doc:"Display name"`
	Plans []PlanResponse `json:"plans" doc:"Available tiers, lowest first"`
}

func toServiceResponse(def domain.ServiceDefinition) ServiceResponse {
	plans := make([]PlanResponse, len(def.Plans))
	for i, p := range def.Plans {
		plans[i] = PlanResponse{ID: p.ID, Title: p.Title, Price: p.Price, Features: p.Features}
	}
	return ServiceResponse{ID: def.ID, Name: def.Name, Plans: plans}
}

// FieldResponse describes one field of a resolved step.
type FieldResponse struct {
	Key        string   `json:"key" doc:"Field key"`
	Label      string   `json:"label" doc:"Display label"`
	Kind       string   `json:"kind" doc:"text, number, date, enum, bool, or group"`
	Required   bool     `json:"required" doc:"Whether a value must be present"`
	Options    []string `json:"options,omitempty" doc:"Valid values for enum fields"`
	MinEntries int      `json:"min_entries,omitempty" doc:"Entry floor for group fields"`
}

// DocumentSlotResponse describes one upload slot of a resolved step.
type DocumentSlotResponse struct {
	Key      string `json:"key" doc:"Slot key; repeatable slots suffix an entry index"`
	Label    string `json:"label" doc:"Display label"`
	Required bool   `json:"required" doc:"Whether submission requires this slot"`
	Repeat   bool   `json:"repeat,omitempty" doc:"One slot per repeatable-group entry"`
}

// StepResponse is one screen of the resolved wizard.
type StepResponse struct {
	ID        string                 `json:"id" doc:"Step identifier"`
	Label     string                 `json:"label" doc:"Display label"`
	Fields    []FieldResponse        `json:"fields" doc:"Active fields"`
	Documents []DocumentSlotResponse `json:"documents,omitempty" doc:"Requested uploads"`
}

// SchemaResponse is the step list active for a service under a plan.
type SchemaResponse struct {
	ServiceID string         `json:"service_id" doc:"Service identifier"`
	Plan      PlanResponse   `json:"plan" doc:"The plan the schema was resolved for"`
	Steps     []StepResponse `json:"steps" doc:"Active steps in wizard order"`
}

func toSchemaResponse(schema domain.ResolvedSchema) SchemaResponse {
	steps := make([]StepResponse, len(schema.Steps))
	for i, step := range schema.Steps {
		fields := make([]FieldResponse, len(step.Fields))
		for j, f := range step.Fields {
			fields[j] = FieldResponse{
				Key:        f.Key,
				Label:      f.Label,
				Kind:       string(f.Kind),
				Required:   f.Required,
				Options:    f.Options,
				MinEntries: f.MinEntries,
			}
		}
		var docs []DocumentSlotResponse
		for _, d := range step.Documents {
			docs = append(docs, DocumentSlotResponse{
				Key: d.Key, Label: d.Label, Required: d.Required, Repeat: d.Repeat,
			})
		}
		steps[i] = StepResponse{ID: step.ID, Label: step.Label, Fields: fields, Documents: docs}
	}
	return SchemaResponse{
		ServiceID: schema.Service.ID,
		Plan: PlanResponse{
			ID:       schema.Plan.ID,
			Title:    schema.Plan.Title,
			Price:    schema.Plan.Price,
			Features: schema.Plan.Features,
		},
		Steps: steps,
	}
}

// SubmissionResponse is the confirmed submission for a draft.
type SubmissionResponse struct {
	SubmissionID string `json:"submission_id" doc:"Confirmed submission identifier"`
	ServiceID    string `json:"service_id" doc:"Service submitted"`
	PlanID       string `json:"plan_id" doc:"Plan submitted under"`
	ConfirmedAt  string `json:"confirmed_at" doc:"Confirmation timestamp (ISO 8601)"`
}

// --- List services ---

type ListServicesOutput struct {
	Body []ServiceResponse
}

// --- Get schema ---

type GetSchemaInput struct {
	ServiceID string `path:"service_id" doc:"Service ID"`
	Plan      string `query:"plan" required:"false" doc:"Plan tier; unknown or empty falls back to the lowest tier"`
}

type GetSchemaOutput struct {
	Body SchemaResponse
}

// --- Create draft ---

type CreateDraftInput struct {
	Authorization string `header:"Authorization" doc:"Bearer session token"`
	Body          struct {
		ServiceID    string `json:"service_id,omitempty" doc:"Service to apply for; may be omitted when a continuation token is given"`
		PlanID       string `json:"plan_id,omitempty" doc:"Deep-linked plan; unknown ids fall back to the lowest tier"`
		Continuation string `json:"continuation,omitempty" doc:"Token from an earlier 401; resumes its service and plan"`
	}
}

type CreateDraftOutput struct {
	Body DraftResponse
}

// --- Get / delete draft ---

type DraftIDInput struct {
	Authorization string `header:"Authorization" doc:"Bearer session token"`
	ID            string `path:"id" doc:"Draft ID"`
}

type GetDraftOutput struct {
	Body DraftResponse
}

// --- Set fields ---

type SetFieldsInput struct {
	Authorization string `header:"Authorization" doc:"Bearer session token"`
	ID            string `path:"id" doc:"Draft ID"`
	Body          struct {
		Fields map[string]any `json:"fields" doc:"Field values to merge into the draft"`
	}
}

type SetFieldsOutput struct {
	Body DraftResponse
}

// --- Set plan ---

type SetPlanInput struct {
	Authorization string `header:"Authorization" doc:"Bearer session token"`
	ID            string `path:"id" doc:"Draft ID"`
	Body          struct {
		PlanID string `json:"plan_id" minLength:"1" doc:"Plan tier to switch to"`
	}
}

type SetPlanOutput struct {
	Body DraftResponse
}

// --- Navigate ---

type NavigateInput struct {
	Authorization string `header:"Authorization" doc:"Bearer session token"`
	ID            string `path:"id" doc:"Draft ID"`
	Body          struct {
		Action string `json:"action" doc:"Step movement to perform" enum:"advance,retreat,jump"`
		Target int    `json:"target,omitempty" doc:"Target step for jump (1-based)"`
	}
}

type NavigateOutput struct {
	Body DraftResponse
}

// --- Acknowledge warnings ---

type AcknowledgeInput struct {
	Authorization string `header:"Authorization" doc:"Bearer session token"`
	ID            string `path:"id" doc:"Draft ID"`
	Body          struct {
		Keys []string `json:"keys" minItems:"1" doc:"Soft-warning keys the user confirmed"`
	}
}

type AcknowledgeOutput struct {
	Body DraftResponse
}

// --- Upload document ---

type UploadDocumentInput struct {
	Authorization string `header:"Authorization" doc:"Bearer session token"`
	ID            string `path:"id" doc:"Draft ID"`
	Key           string `path:"key" doc:"Document slot key"`
	RawBody       huma.MultipartFormFiles[uploadForm]
}

type uploadForm struct {
	File huma.FormFile `form:"file" required:"true" doc:"File content"`
}

type UploadDocumentOutput struct {
	Body DraftResponse
}

// --- List completed documents ---

type ListDocumentsOutput struct {
	Body []DocumentResponse
}

// --- Submit ---

type SubmitOutput struct {
	Body SubmissionResponse
}

// Register adds all wizard API routes to the Huma API.
func Register(api huma.API, svc *app.WizardService, sessions domain.SessionVerifier) {
	h := &handler{svc: svc, sessions: sessions}

	huma.Register(api, huma.Operation{
		OperationID: "list-services",
		Method:      http.MethodGet,
		Path:        "/api/v1/services",
		Summary:     "List available services",
		Tags:        []string{"Catalog"},
	}, h.listServices)

	huma.Register(api, huma.Operation{
		OperationID: "get-service-schema",
		Method:      http.MethodGet,
		Path:        "/api/v1/services/{service_id}/schema",
		Summary:     "Get the wizard schema for a service under a plan",
		Tags:        []string{"Catalog"},
	}, h.getSchema)

	huma.Register(api, huma.Operation{
		OperationID: "create-draft",
		Method:      http.MethodPost,
		Path:        "/api/v1/drafts",
		Summary:     "Start a wizard draft",
		Tags:        []string{"Drafts"},
	}, h.createDraft)

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/api/v1/drafts/{id}",
		Summary:     "Get a draft by ID",
		Tags:        []string{"Drafts"},
	}, h.getDraft)

	huma.Register(api, huma.Operation{
		OperationID: "delete-draft",
		Method:      http.MethodDelete,
		Path:        "/api/v1/drafts/{id}",
		Summary:     "Dismiss a wizard draft",
		Tags:        []string{"Drafts"},
	}, h.deleteDraft)

	huma.Register(api, huma.Operation{
		OperationID: "set-draft-fields",
		Method:      http.MethodPatch,
		Path:        "/api/v1/drafts/{id}/fields",
		Summary:     "Merge field values into a draft",
		Tags:        []string{"Drafts"},
	}, h.setFields)

	huma.Register(api, huma.Operation{
		OperationID: "set-draft-plan",
		Method:      http.MethodPut,
		Path:        "/api/v1/drafts/{id}/plan",
		Summary:     "Change the selected plan tier",
		Tags:        []string{"Drafts"},
	}, h.setPlan)

	huma.Register(api, huma.Operation{
		OperationID: "navigate-draft",
		Method:      http.MethodPost,
		Path:        "/api/v1/drafts/{id}/navigation",
		Summary:     "Move between wizard steps",
		Tags:        []string{"Drafts"},
	}, h.navigate)

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-warnings",
		Method:      http.MethodPost,
		Path:        "/api/v1/drafts/{id}/acknowledgments",
		Summary:     "Confirm soft validation warnings",
		Tags:        []string{"Drafts"},
	}, h.acknowledge)

	huma.Register(api, huma.Operation{
		OperationID: "upload-document",
		Method:      http.MethodPost,
		Path:        "/api/v1/drafts/{id}/documents/{key}",
		Summary:     "Upload a document for a slot",
		Tags:        []string{"Documents"},
	}, h.uploadDocument)

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/api/v1/drafts/{id}/documents",
		Summary:     "List completed uploads for a draft",
		Tags:        []string{"Documents"},
	}, h.listDocuments)

	huma.Register(api, huma.Operation{
		OperationID: "submit-draft",
		Method:      http.MethodPost,
		Path:        "/api/v1/drafts/{id}/submission",
		Summary:     "Submit the completed application",
		Tags:        []string{"Drafts"},
	}, h.submit)
}

type handler struct {
	svc      *app.WizardService
	sessions domain.SessionVerifier
}

func (h *handler) listServices(ctx context.Context, _ *struct{}) (*ListServicesOutput, error) {
	defs := h.svc.Services(ctx)
	resp := make([]ServiceResponse, len(defs))
	for i, def := range defs {
		resp[i] = toServiceResponse(def)
	}
	return &ListServicesOutput{Body: resp}, nil
}

func (h *handler) getSchema(ctx context.Context, input *GetSchemaInput) (*GetSchemaOutput, error) {
	schema, err := h.svc.Schema(ctx, input.ServiceID, input.Plan)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &GetSchemaOutput{Body: toSchemaResponse(schema)}, nil
}

func (h *handler) createDraft(ctx context.Context, input *CreateDraftInput) (*CreateDraftOutput, error) {
	serviceID, planID := input.Body.ServiceID, input.Body.PlanID
	if input.Body.Continuation != "" {
		var err error
		serviceID, planID, err = h.sessions.Resume(input.Body.Continuation)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("continuation token is invalid or expired")
		}
	}
	if serviceID == "" {
		return nil, huma.Error422UnprocessableEntity("service_id or continuation is required")
	}

	sess, err := h.authenticate(ctx, input.Authorization)
	if err != nil {
		// The continuation token lets the client resume this exact
		// service and plan after a fresh sign-in.
		return nil, h.sessionError(serviceID, planID)
	}
	draft, err := h.svc.CreateDraft(ctx, serviceID, planID, sess)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &CreateDraftOutput{Body: toDraftResponse(draft)}, nil
}

func (h *handler) getDraft(ctx context.Context, input *DraftIDInput) (*GetDraftOutput, error) {
	if _, err := h.authenticate(ctx, input.Authorization); err != nil {
		return nil, err
	}
	draft, err := h.svc.Get(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &GetDraftOutput{Body: toDraftResponse(draft)}, nil
}

func (h *handler) deleteDraft(ctx context.Context, input *DraftIDInput) (*struct{}, error) {
	if _, err := h.authenticate(ctx, input.Authorization); err != nil {
		return nil, err
	}
	if err := h.svc.Delete(ctx, input.ID); err != nil {
		return nil, toHumaError(err)
	}
	return &struct{}{}, nil
}

func (h *handler) setFields(ctx context.Context, input *SetFieldsInput) (*SetFieldsOutput, error) {
	if _, err := h.authenticate(ctx, input.Authorization); err != nil {
		return nil, err
	}
	draft, err := h.svc.SetFields(ctx, input.ID, input.Body.Fields)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &SetFieldsOutput{Body: toDraftResponse(draft)}, nil
}

func (h *handler) setPlan(ctx context.Context, input *SetPlanInput) (*SetPlanOutput, error) {
	if _, err := h.authenticate(ctx, input.Authorization); err != nil {
		return nil, err
	}
	draft, err := h.svc.SetPlan(ctx, input.ID, input.Body.PlanID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &SetPlanOutput{Body: toDraftResponse(draft)}, nil
}

func (h *handler) navigate(ctx context.Context, input *NavigateInput) (*NavigateOutput, error) {
	if _, err := h.authenticate(ctx, input.Authorization); err != nil {
		return nil, err
	}

	var (
		draft domain.Draft
		err   error
	)
	switch input.Body.Action {
	case "advance":
		draft, err = h.svc.Advance(ctx, input.ID)
	case "retreat":
		draft, err = h.svc.Retreat(ctx, input.ID)
	case "jump":
		draft, err = h.svc.Jump(ctx, input.ID, input.Body.Target)
	default:
		return nil, huma.Error422UnprocessableEntity("unknown navigation action")
	}
	if err != nil {
		return nil, toHumaError(err)
	}
	return &NavigateOutput{Body: toDraftResponse(draft)}, nil
}

func (h *handler) acknowledge(ctx context.Context, input *AcknowledgeInput) (*AcknowledgeOutput, error) {
	if _, err := h.authenticate(ctx, input.Authorization); err != nil {
		return nil, err
	}
	draft, err := h.svc.Acknowledge(ctx, input.ID, input.Body.Keys)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &AcknowledgeOutput{Body: toDraftResponse(draft)}, nil
}

func (h *handler) uploadDocument(ctx context.Context, input *UploadDocumentInput) (*UploadDocumentOutput, error) {
	if _, err := h.authenticate(ctx, input.Authorization); err != nil {
		return nil, err
	}

	form := input.RawBody.Data()
	draft, err := h.svc.BeginUpload(ctx, input.ID, input.Key, form.File.Filename, form.File)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &UploadDocumentOutput{Body: toDraftResponse(draft)}, nil
}

func (h *handler) listDocuments(ctx context.Context, input *DraftIDInput) (*ListDocumentsOutput, error) {
	if _, err := h.authenticate(ctx, input.Authorization); err != nil {
		return nil, err
	}
	docs, err := h.svc.ListCompleted(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	resp := make([]DocumentResponse, len(docs))
	for i, doc := range docs {
		resp[i] = DocumentResponse{
			Key:      doc.Key,
			Filename: doc.Filename,
			FileURL:  doc.RemoteURL,
			Status:   string(doc.Status),
		}
	}
	return &ListDocumentsOutput{Body: resp}, nil
}

func (h *handler) submit(ctx context.Context, input *DraftIDInput) (*SubmitOutput, error) {
	if _, err := h.authenticate(ctx, input.Authorization); err != nil {
		return nil, err
	}
	rec, err := h.svc.Submit(ctx, input.ID)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &SubmitOutput{Body: SubmissionResponse{
		SubmissionID: rec.SubmissionID,
		ServiceID:    rec.ServiceID,
		PlanID:       rec.PlanID,
		ConfirmedAt:  rec.ConfirmedAt.Format(timeFormat),
	}}, nil
}

// authenticate resolves the Authorization header into a verified session.
func (h *handler) authenticate(ctx context.Context, header string) (domain.Session, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return domain.Session{}, huma.Error401Unauthorized("missing bearer token")
	}
	sess, err := h.sessions.Verify(ctx, token)
	if err != nil {
		return domain.Session{}, huma.Error401Unauthorized("session expired")
	}
	return sess, nil
}

// sessionError is the 401 for draft creation: it carries a continuation
// token naming the service and plan so the client can route the user back
// here after signing in again. Entered field data is not carried; an
// expired session forfeits it.
func (h *handler) sessionError(serviceID, planID string) error {
	token, err := h.sessions.Continuation(serviceID, planID)
	if err != nil {
		return huma.Error401Unauthorized("session expired")
	}
	return huma.Error401Unauthorized("session expired", &huma.ErrorDetail{
		Message:  "sign in again and resume with this token",
		Location: "continuation",
		Value:    token,
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	switch {
	case errors.Is(err, domain.ErrDraftNotFound):
		return huma.Error404NotFound("draft not found")
	case errors.Is(err, domain.ErrServiceNotFound):
		return huma.Error404NotFound("service not found")
	case errors.Is(err, domain.ErrDocumentNotFound):
		return huma.Error404NotFound("document slot not found")
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return huma.Error409Conflict("draft already has a confirmed submission")
	case errors.Is(err, domain.ErrSubmitInFlight):
		return huma.Error409Conflict("submission already in flight")
	case errors.Is(err, domain.ErrPlanChangeOutside):
		return huma.Error422UnprocessableEntity("plan can only be changed from the plan-selection step")
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		details := make([]error, 0, len(valErr.FieldErrors))
		for key, msg := range valErr.FieldErrors {
			details = append(details, &huma.ErrorDetail{
				Message:  msg,
				Location: "fields." + key,
			})
		}
		return huma.Error422UnprocessableEntity("step "+valErr.StepID+" has invalid fields", details...)
	}

	var softErr *domain.SoftWarningError
	if errors.As(err, &softErr) {
		details := make([]error, 0, len(softErr.Warnings))
		for key, msg := range softErr.Warnings {
			details = append(details, &huma.ErrorDetail{
				Message:  msg,
				Location: "warnings." + key,
			})
		}
		return huma.Error409Conflict("step "+softErr.StepID+" has unacknowledged warnings", details...)
	}

	var stepErr *domain.StepError
	if errors.As(err, &stepErr) {
		return huma.Error422UnprocessableEntity(stepErr.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	var subErr *domain.SubmissionError
	if errors.As(err, &subErr) {
		return huma.Error502BadGateway("submission failed; the draft returned to review and may be retried")
	}

	return huma.Error500InternalServerError("internal server error")
}

func sortedDocKeys(docs map[string]domain.UploadedDocument) []string {
	keys := make([]string, 0, len(docs))
	for key := range docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

