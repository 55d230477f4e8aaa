package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/votetally/internal/domain"
	"github.com/Clark-Hu/votetally/internal/fraud"
	"github.com/Clark-Hu/votetally/internal/ledger"
)

const (
	maxRequestBody = 1 << 20 // 1 MiB
	voterHeader    = "X-Voter-Id"
)

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type voteRequest struct {
	Score *int `json:"score"`
}

type voteResponse struct {
	ItemID    string    `json:"itemId"`
	VoterID   string    `json:"voterId"`
	Score     int       `json:"score"`
	Reversed  bool      `json:"reversed"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type aggregateResponse struct {
	ItemID       string      `json:"itemId"`
	TotalVotes   int64       `json:"totalVotes"`
	AverageScore json.Number `json:"averageScore"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	itemID, err := decodeItemParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	voterID, ok := voterFromRequest(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid voter identity")
		return
	}

	score, err := decodeVoteRequest(w, r)
	if err != nil {
		s.respondDecodeError(w, err)
		return
	}

	vote, result, err := s.votes.CastVote(r.Context(), voterID, itemID, score)
	if err != nil {
		s.respondServiceError(w, r, err, "cast vote")
		return
	}

	status := http.StatusOK
	if result == ledger.Inserted {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, toVoteResponse(vote))
}

func (s *Server) handleGetVote(w http.ResponseWriter, r *http.Request) {
	itemID, err := decodeItemParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	voterID, ok := voterFromRequest(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid voter identity")
		return
	}

	vote, err := s.votes.GetVote(r.Context(), voterID, itemID)
	if err != nil {
		s.respondServiceError(w, r, err, "get vote")
		return
	}
	s.respondJSON(w, http.StatusOK, toVoteResponse(vote))
}

func (s *Server) handleGetAggregate(w http.ResponseWriter, r *http.Request) {
	itemID, err := decodeItemParam(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	agg, err := s.votes.GetAggregate(r.Context(), itemID)
	if err != nil {
		s.respondServiceError(w, r, err, "get aggregate")
		return
	}
	s.respondJSON(w, http.StatusOK, aggregateResponse{
		ItemID:       itemID,
		TotalVotes:   agg.TotalVotes,
		AverageScore: json.Number(agg.AverageScore.StringFixed(domain.AverageScale)),
	})
}

func (s *Server) handleTriggerFraudDetection(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}
	if s.fraud == nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Fraud detection is not configured")
		return
	}

	report, err := s.fraud.TriggerNow(r.Context())
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, report)
	case errors.Is(err, fraud.ErrRunInProgress), errors.Is(err, fraud.ErrLeaseHeld):
		s.respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		s.respondServiceError(w, r, err, "fraud detection")
	}
}

// decodeVoteRequest reads {"score": n}. A missing score is a validation error;
// range checks are left to the ledger.
func decodeVoteRequest(w http.ResponseWriter, r *http.Request) (int, error) {
	var req voteRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		return 0, err
	}
	if req.Score == nil {
		return 0, &domain.ValidationError{Field: "score", Message: "is required"}
	}
	return *req.Score, nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}

var errTrailingData = errors.New("request body must contain a single JSON object")

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	var validationError *domain.ValidationError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &validationError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationError.Error())
	case errors.As(err, &syntaxError), errors.Is(err, io.ErrUnexpectedEOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	case errors.As(err, &maxBytesError):
		s.respondError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Request body too large")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

// respondServiceError maps ledger and store errors onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var validationError *domain.ValidationError
	switch {
	case errors.As(err, &validationError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationError.Error())
	case errors.Is(err, domain.ErrVoteNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, domain.ErrInvariantViolation):
		s.logger.ErrorContext(r.Context(), "invariant violation", "operation", op, "error", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
	case errors.Is(err, domain.ErrTransientStore):
		s.logger.WarnContext(r.Context(), "store unavailable", "operation", op, "error", err)
		s.respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Temporarily unavailable, retry later")
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "operation", op, "error", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error")
	}
}

func toVoteResponse(v domain.Vote) voteResponse {
	return voteResponse{
		ItemID:    v.ItemID,
		VoterID:   v.VoterID,
		Score:     v.Score,
		Reversed:  v.Reversed,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

func decodeItemParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "itemID")
	if raw == "" {
		return "", fmt.Errorf("missing item parameter")
	}
	itemID, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid item parameter")
	}
	return itemID, nil
}

func voterFromRequest(r *http.Request) (string, bool) {
	voterID := strings.TrimSpace(r.Header.Get(voterHeader))
	return voterID, voterID != ""
}

func (s *Server) verifyBearer(header string) bool {
	if header == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token != "" && token == s.cfg.AuthToken
}
