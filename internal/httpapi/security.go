package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// ListAcl handles GET /v1/security/{allowlist,denylist}
func (h *Handlers) ListAcl(list storepkg.AclList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := h.deps.Node.ListAclEntries(r.Context(), list)
		if err != nil {
			writeFailure(w, r, h.logger, err, "")
			return
		}

		resp := AclListResponse{
			List:    string(list),
			Mode:    h.deps.Node.Settings().ACLMode.String(),
			Entries: make([]AclEntryResponse, 0, len(entries)),
		}
		for i := range entries {
			resp.Entries = append(resp.Entries, aclEntryResponse(&entries[i]))
		}
		writeJSON(w, resp, http.StatusOK)
	}
}

// AddAcl handles POST /v1/security/{allowlist,denylist}
func (h *Handlers) AddAcl(list storepkg.AclList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AclEntryRequest
		if !h.decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.IdentityHash) == "" {
			writeValidation(w, "identity_hash", "identity_hash is required")
			return
		}

		entry, err := h.deps.Node.AddAclEntry(r.Context(), list, req.IdentityHash, req.Note)
		if err != nil {
			writeFailure(w, r, h.logger, err, "")
			return
		}
		writeJSON(w, aclEntryResponse(entry), http.StatusCreated)
	}
}

// RemoveAcl handles DELETE /v1/security/{allowlist,denylist}/{identity_hash}
func (h *Handlers) RemoveAcl(list storepkg.AclList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := strings.TrimSpace(chi.URLParam(r, "identity_hash"))
		if identity == "" {
			writeValidation(w, "identity_hash", "identity_hash is required")
			return
		}

		if err := h.deps.Node.RemoveAclEntry(r.Context(), list, identity); err != nil {
			writeFailure(w, r, h.logger, err, ReasonAclEntryNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func aclEntryResponse(e *storepkg.AclEntry) AclEntryResponse {
	return AclEntryResponse{
		ID:           e.ID,
		IdentityHash: e.IdentityHash,
		Note:         e.Note,
		CreatedAt:    e.CreatedAt,
	}
}
