package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clinicbook/internal/export"
	"clinicbook/internal/models"
	"clinicbook/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type createBookingRequest struct {
	SlotID   int64           `json:"slot_id"`
	Customer models.Customer `json:"customer"`
}

type selectSlotRequest struct {
	SlotID int64 `json:"slot_id"`
}

func (s *HTTPServer) handleListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.bookings.ListAvailableSlots(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (s *HTTPServer) handleAdmission(w http.ResponseWriter, r *http.Request) {
	slotID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || slotID <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid slot id")
		return
	}

	admission, err := s.bookings.Admit(r.Context(), slotID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, admission)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if body.SlotID <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "slot_id is required")
		return
	}

	reservation, err := s.bookings.StartBooking(r.Context(), body.SlotID, body.Customer)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	s.reservationAction(w, r, s.bookings.LookupByReference)
}

func (s *HTTPServer) handleClaimPayment(w http.ResponseWriter, r *http.Request) {
	s.reservationAction(w, r, s.bookings.ClaimPayment)
}

func (s *HTTPServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	s.reservationAction(w, r, s.bookings.ConfirmPayment)
}

func (s *HTTPServer) handleAdminConfirm(w http.ResponseWriter, r *http.Request) {
	s.reservationAction(w, r, s.bookings.AdminConfirm)
}

func (s *HTTPServer) handleAdminDecline(w http.ResponseWriter, r *http.Request) {
	s.reservationAction(w, r, s.bookings.AdminDecline)
}

func (s *HTTPServer) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	s.reservationAction(w, r, s.bookings.AdminCancel)
}

func (s *HTTPServer) reservationAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, ref string) (*models.Reservation, error),
) {
	ref := strings.TrimSpace(r.PathValue("reference"))
	if ref == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "reference is required")
		return
	}

	reservation, err := action(r.Context(), ref)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *HTTPServer) handleBeginSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.workflow.Begin(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, s.workflow.Get)
}

func (s *HTTPServer) handleSelectSlot(w http.ResponseWriter, r *http.Request) {
	var body selectSlotRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	s.sessionAction(w, r, func(ctx context.Context, id string) (*models.BookingSession, error) {
		return s.workflow.SelectSlot(ctx, id, body.SlotID)
	})
}

func (s *HTTPServer) handleCaptureDetails(w http.ResponseWriter, r *http.Request) {
	var body models.Customer
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	s.sessionAction(w, r, func(ctx context.Context, id string) (*models.BookingSession, error) {
		return s.workflow.CaptureDetails(ctx, id, body)
	})
}

func (s *HTTPServer) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, s.workflow.SubmitForPayment)
}

func (s *HTTPServer) handleSessionClaim(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, s.workflow.ClaimPayment)
}

func (s *HTTPServer) handleSessionConfirm(w http.ResponseWriter, r *http.Request) {
	s.sessionAction(w, r, s.workflow.ConfirmPayment)
}

func (s *HTTPServer) sessionAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, id string) (*models.BookingSession, error),
) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "session id is required")
		return
	}

	session, err := action(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleLedger(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter, err := parseLedgerFilter(query)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	if format != "" && format != "json" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "bad_request", "format must be json or xlsx")
		return
	}

	rows, err := s.bookings.ExportLedger(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if format != "xlsx" {
		writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
		return
	}

	name := fmt.Sprintf("ledger_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if err := export.WriteLedgerXLSX(w, rows); err != nil {
		s.log.Error().Err(err).Msg("failed to stream ledger workbook")
	}
}

func parseLedgerFilter(query url.Values) (models.LedgerFilter, error) {
	var filter models.LedgerFilter

	if raw := strings.TrimSpace(query.Get("slot_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filter, fmt.Errorf("invalid slot_id %q", raw)
		}
		filter.SlotID = &id
	}

	for _, raw := range splitCSV(query.Get("status")) {
		st := models.ReservationStatus(strings.ToLower(raw))
		if !st.Valid() {
			return filter, fmt.Errorf("unknown status %q", raw)
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	var err error
	if filter.From, err = parseTimeParam(query, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(query, "to"); err != nil {
		return filter, err
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return filter, errors.New("from must be before to")
	}
	return filter, nil
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates (UTC midnight).
func parseTimeParam(query url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s; expected RFC3339 or YYYY-MM-DD", name)
	}
	return &t, nil
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:   "validation_failed",
			Message: "customer details are invalid",
			Fields:  verr.Fields,
		})
	case errors.Is(err, service.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, service.ErrSlotFull):
		writeError(w, http.StatusConflict, "slot_full", err.Error())
	case errors.Is(err, service.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, service.ErrInvalidStep):
		writeError(w, http.StatusConflict, "invalid_step", err.Error())
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, service.ErrAllocationFailed), errors.Is(err, service.ErrStoreUnavailable):
		s.log.Error().Err(err).Msg("booking store unavailable")
		writeError(w, http.StatusServiceUnavailable, "try_again", "please try again shortly")
	default:
		s.log.Error().Err(err).Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
