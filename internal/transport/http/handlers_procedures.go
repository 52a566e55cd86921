package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vcissuer/internal/domain"
	"vcissuer/internal/procedure"
	"vcissuer/internal/workflow"
	dErrors "vcissuer/pkg/domain-errors"
)

// IssuanceService is the workflow surface the backoffice endpoints need.
type IssuanceService interface {
	Execute(ctx context.Context, req workflow.PreSubmittedRequest, token, idToken string) (*workflow.ExecuteResult, error)
	UpdateSignedCredentials(ctx context.Context, batch []workflow.SignedCredential) error
	RetrySignUnsignedCredential(ctx context.Context, procedureID uuid.UUID) error
	Withdraw(ctx context.Context, procedureID uuid.UUID) error
	Reactivate(ctx context.Context, procedureID uuid.UUID) error
}

// ProcedureReader is the read-only slice of the procedure store used for the
// backoffice listing endpoints.
type ProcedureReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*procedure.Procedure, error)
	ListByOrganization(ctx context.Context, organizationIdentifier string) ([]*procedure.Procedure, error)
}

type ProcedureHandler struct {
	issuance   IssuanceService
	procedures ProcedureReader
}

func NewProcedureHandler(issuance IssuanceService, procedures ProcedureReader) *ProcedureHandler {
	return &ProcedureHandler{issuance: issuance, procedures: procedures}
}

// procedureView is the listing representation. The decoded credential is
// deliberately absent: listings are for dashboards, not artifact retrieval.
type procedureView struct {
	ProcedureID    uuid.UUID              `json:"procedure_id"`
	CredentialType domain.CredentialType  `json:"credential_type"`
	Status         domain.ProcedureStatus `json:"status"`
	Subject        string                 `json:"subject"`
	ValidUntil     time.Time              `json:"valid_until"`
	UpdatedAt      time.Time              `json:"updated"`
}

func viewOf(p *procedure.Procedure) procedureView {
	return procedureView{
		ProcedureID:    p.ID,
		CredentialType: p.CredentialType,
		Status:         p.Status,
		Subject:        p.Subject,
		ValidUntil:     p.ValidUntil,
		UpdatedAt:      p.UpdatedAt,
	}
}

func (h *ProcedureHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
		return
	}

	var req workflow.PreSubmittedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	result, err := h.issuance.Execute(r.Context(), req, token, r.Header.Get("X-ID-Token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *ProcedureHandler) handleList(w http.ResponseWriter, r *http.Request) {
	organizationID := r.URL.Query().Get("organization_id")
	if organizationID == "" {
		writeError(w, dErrors.New(dErrors.CodeMissingRequiredField, "organization_id query parameter is required"))
		return
	}

	procs, err := h.procedures.ListByOrganization(r.Context(), organizationID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]procedureView, 0, len(procs))
	for _, p := range procs {
		views = append(views, viewOf(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"credential_procedures": views})
}

func (h *ProcedureHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := procedureID(w, r)
	if !ok {
		return
	}
	proc, err := h.procedures.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := struct {
		procedureView
		Credential json.RawMessage `json:"credential"`
	}{viewOf(proc), proc.CredentialDecoded}
	writeJSON(w, http.StatusOK, view)
}

func (h *ProcedureHandler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.issuance.Withdraw)
}

func (h *ProcedureHandler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.issuance.Reactivate)
}

func (h *ProcedureHandler) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID) error) {
	id, ok := procedureID(w, r)
	if !ok {
		return
	}
	if err := apply(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProcedureHandler) handleRetrySign(w http.ResponseWriter, r *http.Request) {
	id, ok := procedureID(w, r)
	if !ok {
		return
	}
	if err := h.issuance.RetrySignUnsignedCredential(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ProcedureHandler) handleSignedBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Credentials []workflow.SignedCredential `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if len(body.Credentials) == 0 {
		writeError(w, dErrors.New(dErrors.CodeMissingRequiredField, "credentials list is empty"))
		return
	}

	if err := h.issuance.UpdateSignedCredentials(r.Context(), body.Credentials); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func procedureID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "procedureId"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "procedure id is not a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}
