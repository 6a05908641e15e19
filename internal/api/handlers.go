package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pbt-oracle/internal/batch"
	"github.com/pbt-oracle/internal/errors"
	"github.com/pbt-oracle/internal/logging"
	"github.com/pbt-oracle/internal/types"
)

// handleMode processes the posted record synchronously and responds with
// the record plus its attached results, exactly as a batch run would
// write it.
func (s *Server) handleMode(mode batch.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		if err := parseJSONBody(w, r, &raw); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		rec, err := batch.DecodeRecord(raw)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		if rec.Spec.FunctionSignature == "" {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "function_signature is required", nil)
			return
		}

		status, err := s.processor.Process(r.Context(), mode, rec)
		if err != nil {
			logging.FromContext(r.Context()).WithError(err).WithField("mode", string(mode)).Error("record processing failed")
			respondServiceError(w, err)
			return
		}

		logging.FromContext(r.Context()).WithFields(map[string]interface{}{
			"mode":   string(mode),
			"status": string(status),
		}).Info("record processed")

		respondJSON(w, http.StatusOK, rec.Fields)
	}
}

// runResponse is a run with its completed records
type runResponse struct {
	Run     *types.RunSummary `json:"run"`
	Records []runRecordView   `json:"records"`
}

type runRecordView struct {
	Index     int             `json:"index"`
	Status    types.Status    `json:"status"`
	Record    json.RawMessage `json:"record"`
	CreatedAt string          `json:"createdAt"`
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Run ledger is not configured", nil)
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid run ID", map[string]interface{}{
			"id": id,
		})
		return
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	records, err := s.runs.ListRecords(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := runResponse{Run: run, Records: make([]runRecordView, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, runRecordView{
			Index:     rec.Index,
			Status:    rec.Status,
			Record:    json.RawMessage(rec.Payload),
			CreatedAt: rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondServiceError(w http.ResponseWriter, err error) {
	status, code, message := mapServiceError(err)
	var details map[string]interface{}
	if status < http.StatusInternalServerError {
		details = errors.Categorize(err).Details
	}
	respondError(w, status, code, message, details)
}
