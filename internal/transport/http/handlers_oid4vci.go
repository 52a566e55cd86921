package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vcissuer/internal/offer"
	"vcissuer/internal/workflow"
	dErrors "vcissuer/pkg/domain-errors"
)

// WalletService is the workflow surface the wallet-facing OID4VCI endpoints
// need.
type WalletService interface {
	GetCredentialOffer(ctx context.Context, transactionCode string) (string, error)
	RedeemCredentialOffer(ctx context.Context, nonce string) (*offer.CredentialOffer, error)
	GenerateCredentialResponse(ctx context.Context, accessToken string, req workflow.CredentialRequest) (*workflow.CredentialResponse, error)
	GetDeferredCredential(ctx context.Context, transactionID string) (*workflow.CredentialResponse, error)
}

type OID4VCIHandler struct {
	wallet WalletService
}

func NewOID4VCIHandler(wallet WalletService) *OID4VCIHandler {
	return &OID4VCIHandler{wallet: wallet}
}

// handleOfferByTransactionCode exchanges the emailed transaction code for a
// wallet deeplink. The code dies on first use regardless of outcome.
func (h *OID4VCIHandler) handleOfferByTransactionCode(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("transaction_code")
	if code == "" {
		writeError(w, dErrors.New(dErrors.CodeMissingRequiredField, "transaction_code query parameter is required"))
		return
	}

	deeplink, err := h.wallet.GetCredentialOffer(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"credential_offer_uri": deeplink})
}

func (h *OID4VCIHandler) handleOfferByNonce(w http.ResponseWriter, r *http.Request) {
	cached, err := h.wallet.RedeemCredentialOffer(r.Context(), chi.URLParam(r, "nonce"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cached)
}

func (h *OID4VCIHandler) handleCredential(w http.ResponseWriter, r *http.Request) {
	accessToken := bearerToken(r)
	if accessToken == "" {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
		return
	}

	var req workflow.CredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	resp, err := h.wallet.GenerateCredentialResponse(r.Context(), accessToken, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OID4VCIHandler) handleDeferredCredential(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if body.TransactionID == "" {
		writeError(w, dErrors.New(dErrors.CodeMissingRequiredField, "transaction_id is required"))
		return
	}

	resp, err := h.wallet.GetDeferredCredential(r.Context(), body.TransactionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
