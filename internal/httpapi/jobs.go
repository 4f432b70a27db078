package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/retasync-go/pkg/envelope"
	"github.com/rmacdonaldsmith/retasync-go/pkg/meshnode"
	storepkg "github.com/rmacdonaldsmith/retasync-go/pkg/store"
)

// SubmitCommand handles POST /v1/jobs/commands/{operation}. The body is
// the JSON payload; destination, ttl_ms and transport come from the query.
func (h *Handlers) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var ttl time.Duration
	if raw := query.Get("ttl_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			writeValidation(w, "ttl_ms", "ttl_ms must be a non-negative integer")
			return
		}
		ttl = time.Duration(ms) * time.Millisecond
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	job, err := h.deps.Node.SubmitCommand(r.Context(), meshnode.CommandRequest{
		Operation:   chi.URLParam(r, "operation"),
		Payload:     body,
		Identity:    GetCaller(r).Identity,
		Destination: query.Get("destination"),
		TTL:         ttl,
		Transport:   envelope.TransportHint(query.Get("transport")),
	})
	if err != nil {
		writeFailure(w, r, h.logger, err, "")
		return
	}

	writeJSON(w, SubmitResponse{
		JobID:       job.JobID,
		StatusURL:   "/v1/jobs/" + job.JobID,
		SubmittedAt: job.SubmittedAt,
	}, http.StatusAccepted)
}

// SubmitUpload handles POST /v1/jobs/transfers/upload
func (h *Handlers) SubmitUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	transfer, err := h.deps.Node.SubmitTransfer(r.Context(), meshnode.TransferRequest{
		Identity:      GetCaller(r).Identity,
		Destination:   req.Destination,
		FileName:      req.FileName,
		MediaType:     req.MediaType,
		PayloadBase64: req.PayloadBase64,
	})
	if err != nil {
		writeFailure(w, r, h.logger, err, "")
		return
	}

	writeJSON(w, SubmitResponse{
		JobID:       transfer.TransferID,
		TransferID:  transfer.TransferID,
		StatusURL:   "/v1/transfers/" + transfer.TransferID,
		SubmittedAt: transfer.SubmittedAt,
	}, http.StatusAccepted)
}

// PublishEvent handles POST /v1/events/{event}
func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	receipt, err := h.deps.Node.PublishEvent(r.Context(), meshnode.EventRequest{
		Event:       chi.URLParam(r, "event"),
		Payload:     body,
		Identity:    GetCaller(r).Identity,
		Destination: r.URL.Query().Get("destination"),
	})
	if err != nil {
		writeFailure(w, r, h.logger, err, "")
		return
	}

	writeJSON(w, PublishResponse{
		MessageID:  receipt.MessageID,
		Transport:  string(receipt.Transport),
		AcceptedAt: receipt.AcceptedAt,
	}, http.StatusAccepted)
}

// GetJob handles GET /v1/jobs/{job_id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.Store.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		writeFailure(w, r, h.logger, err, ReasonJobNotFound)
		return
	}

	writeJSON(w, JobResponse{
		JobID:               job.JobID,
		Operation:           job.Operation,
		Status:              string(job.Status),
		Payload:             h.payloadJSON(job.Payload, job.JobID),
		SubmittedAt:         job.SubmittedAt,
		UpdatedAt:           job.UpdatedAt,
		FailureReason:       job.FailureReason,
		MessageID:           job.MessageID,
		SourceIdentity:      job.SourceIdentity,
		DestinationIdentity: job.DestinationIdentity,
		TTLMillis:           job.TTLMillis,
		DeadlineAt:          job.DeadlineAt,
		TransportHint:       job.TransportHint,
		RequestedTransport:  job.RequestedTransport,
	}, http.StatusOK)
}

// GetJobResult handles GET /v1/jobs/{job_id}/result
func (h *Handlers) GetJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := h.deps.Store.GetJob(r.Context(), jobID); err != nil {
		writeFailure(w, r, h.logger, err, ReasonJobNotFound)
		return
	}

	result, err := h.deps.Store.GetJobResult(r.Context(), jobID)
	if err != nil {
		writeFailure(w, r, h.logger, err, ReasonJobResultNotFound)
		return
	}

	writeJSON(w, JobResultResponse{
		JobID:       result.JobID,
		Result:      h.payloadJSON(result.Result, jobID),
		CompletedAt: result.CompletedAt,
	}, http.StatusOK)
}

// GetJobAttempts handles GET /v1/jobs/{job_id}/attempts
func (h *Handlers) GetJobAttempts(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := h.deps.Store.GetJob(r.Context(), jobID); err != nil {
		writeFailure(w, r, h.logger, err, ReasonJobNotFound)
		return
	}

	attempts, err := h.deps.Store.ListJobAttempts(r.Context(), jobID)
	if err != nil {
		writeFailure(w, r, h.logger, err, "")
		return
	}

	resp := AttemptsResponse{JobID: jobID, Attempts: make([]AttemptResponse, 0, len(attempts))}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, AttemptResponse{
			AttemptNo:  a.AttemptNo,
			Status:     string(a.Status),
			StartedAt:  a.StartedAt,
			FinishedAt: a.FinishedAt,
			Diagnostic: a.Diagnostic,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

// GetTransfer handles GET /v1/transfers/{transfer_id}
func (h *Handlers) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Store.GetTransfer(r.Context(), chi.URLParam(r, "transfer_id"))
	if err != nil {
		writeFailure(w, r, h.logger, err, ReasonTransferNotFound)
		return
	}
	writeJSON(w, transferResponse(t), http.StatusOK)
}

func transferResponse(t *storepkg.Transfer) TransferResponse {
	m := t.Metadata
	return TransferResponse{
		TransferID:          t.TransferID,
		Status:              string(t.Status),
		FileName:            m.FileName,
		MediaType:           m.MediaType,
		Size:                m.Size,
		Checksum:            m.Checksum,
		SourceIdentity:      m.SourceIdentity,
		DestinationIdentity: m.DestinationIdentity,
		ChunkSize:           m.ChunkSize,
		ChunksTotal:         m.ChunksTotal,
		ChunksSent:          m.ChunksSent,
		ChunksAcknowledged:  m.ChunksAcknowledged,
		Transport:           m.Transport,
		SubmittedAt:         t.SubmittedAt,
		UpdatedAt:           t.UpdatedAt,
		FailureReason:       t.FailureReason,
	}
}

// payloadJSON renders a stored MessagePack payload as JSON. Payloads that do not convert
// are omitted rather than failing the whole response.
func (h *Handlers) payloadJSON(payload []byte, id string) json.RawMessage {
	out, err := envelope.PayloadToJSON(payload)
	if err != nil {
		h.logger.Debug("payload is not JSON-convertible", zap.String("id", id), zap.Error(err))
		return nil
	}
	return out
}
