package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/eventhub/ticketing-core/internal/service"
	"github.com/eventhub/ticketing-core/pkg/logger"
)

type HTTPHandler struct {
	seatService service.SeatInventoryService
	sagaService service.BookingSagaService
	sweeper     service.Sweeper
	logger      logger.Logger
	validator   *validator.Validate
}

func NewHTTPHandler(
	seatService service.SeatInventoryService,
	sagaService service.BookingSagaService,
	sweeper service.Sweeper,
	logger logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		seatService: seatService,
		sagaService: sagaService,
		sweeper:     sweeper,
		logger:      logger,
		validator:   validator.New(),
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/events/{eventId}/seats", func(r chi.Router) {
			r.Post("/lock", h.LockSeats)
			r.Post("/release", h.ReleaseSeats)
			r.Get("/availability", h.GetAvailability)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/{bookingId}", h.GetBooking)
			r.Post("/{bookingId}/payment", h.RequestPayment)
			r.Delete("/{bookingId}", h.CancelBooking)
		})
	})

	return r
}

// Request DTOs. Wire format is camelCase like the bus payloads.

type LockSeatsRequest struct {
	UserID  string   `json:"userId" validate:"required,uuid"`
	SeatIDs []string `json:"seatIds" validate:"required,min=1,dive,uuid"`
}

type ReleaseSeatsRequest struct {
	UserID  string   `json:"userId" validate:"required,uuid"`
	SeatIDs []string `json:"seatIds" validate:"required,min=1,dive,uuid"`
}

type CreateBookingRequest struct {
	EventID  string                   `json:"eventId" validate:"required,uuid"`
	UserID   string                   `json:"userId" validate:"required,uuid"`
	Currency string                   `json:"currency" validate:"required,len=3"`
	Seats    []CreateBookingSeatEntry `json:"seats" validate:"required,min=1,dive"`
}

type CreateBookingSeatEntry struct {
	SeatID  string `json:"seatId" validate:"required,uuid"`
	Section string `json:"section" validate:"required"`
	Row     string `json:"row"`
	Number  int    `json:"number"`
	Price   int64  `json:"price" validate:"gte=0"`
}

type RequestPaymentRequest struct {
	Gateway   string `json:"gateway" validate:"required"`
	ReturnURL string `json:"returnUrl" validate:"omitempty,url"`
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "ticketing-core",
		"sweeper": h.sweeper.GetStatus(),
	}
	h.respondJSON(w, http.StatusOK, response)
}

func (h *HTTPHandler) LockSeats(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathUUID(w, r, "eventId")
	if !ok {
		return
	}

	var req LockSeatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	seatIDs, err := parseUUIDs(req.SeatIDs)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid seat id", err)
		return
	}

	out, err := h.seatService.LockSeats(r.Context(), service.LockSeatsInput{
		EventID: eventID,
		SeatIDs: seatIDs,
		UserID:  userID,
	})
	if err != nil {
		h.respondServiceError(w, r, "Failed to lock seats", err)
		return
	}

	h.respondJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) ReleaseSeats(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathUUID(w, r, "eventId")
	if !ok {
		return
	}

	var req ReleaseSeatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	seatIDs, err := parseUUIDs(req.SeatIDs)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid seat id", err)
		return
	}

	err = h.seatService.ReleaseSeats(r.Context(), service.ReleaseSeatsInput{
		EventID: eventID,
		SeatIDs: seatIDs,
		UserID:  userID,
	})
	if err != nil {
		h.respondServiceError(w, r, "Failed to release seats", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Seats released"})
}

func (h *HTTPHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathUUID(w, r, "eventId")
	if !ok {
		return
	}

	out, err := h.seatService.Availability(r.Context(), eventID)
	if err != nil {
		h.respondServiceError(w, r, "Failed to get availability", err)
		return
	}

	h.respondJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		h.respondError(w, http.StatusBadRequest, "Idempotency-Key header is required", nil)
		return
	}

	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	eventID, _ := uuid.Parse(req.EventID)
	userID, _ := uuid.Parse(req.UserID)

	seats := make([]service.BookingSeatInput, 0, len(req.Seats))
	for _, s := range req.Seats {
		seatID, err := uuid.Parse(s.SeatID)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid seat id", err)
			return
		}
		seats = append(seats, service.BookingSeatInput{
			SeatID:  seatID,
			Section: s.Section,
			Row:     s.Row,
			Number:  s.Number,
			Price:   s.Price,
		})
	}

	booking, err := h.sagaService.Initiate(r.Context(), service.InitiateBookingInput{
		EventID:        eventID,
		UserID:         userID,
		IdempotencyKey: idempotencyKey,
		Seats:          seats,
		Currency:       req.Currency,
	})
	if err != nil {
		h.respondServiceError(w, r, "Failed to create booking", err)
		return
	}

	h.respondJSON(w, http.StatusCreated, booking)
}

func (h *HTTPHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.pathUUID(w, r, "bookingId")
	if !ok {
		return
	}

	booking, err := h.sagaService.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.respondServiceError(w, r, "Failed to get booking", err)
		return
	}

	h.respondJSON(w, http.StatusOK, booking)
}

func (h *HTTPHandler) RequestPayment(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.pathUUID(w, r, "bookingId")
	if !ok {
		return
	}

	var req RequestPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	booking, err := h.sagaService.RequestPayment(r.Context(), service.RequestPaymentInput{
		BookingID: bookingID,
		Gateway:   req.Gateway,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		h.respondServiceError(w, r, "Failed to request payment", err)
		return
	}

	h.respondJSON(w, http.StatusAccepted, booking)
}

func (h *HTTPHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.pathUUID(w, r, "bookingId")
	if !ok {
		return
	}

	userID, err := uuid.Parse(r.Header.Get("X-User-Id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "X-User-Id header is required", err)
		return
	}

	booking, err := h.sagaService.Cancel(r.Context(), bookingID, userID)
	if err != nil {
		h.respondServiceError(w, r, "Failed to cancel booking", err)
		return
	}

	h.respondJSON(w, http.StatusOK, booking)
}

// Helper functions

func (h *HTTPHandler) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid "+param, err)
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (h *HTTPHandler) respondServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, service.ErrBookingNotFound), errors.Is(err, service.ErrSeatNotFound):
		h.respondError(w, http.StatusNotFound, err.Error(), err)
	case errors.Is(err, service.ErrSeatUnavailable),
		errors.Is(err, service.ErrMaxSeatsExceeded),
		errors.Is(err, service.ErrSeatsNotHeld),
		errors.Is(err, service.ErrWrongSagaState):
		h.respondError(w, http.StatusConflict, err.Error(), err)
	case errors.Is(err, service.ErrNotBookingOwner):
		h.respondError(w, http.StatusForbidden, err.Error(), err)
	case errors.Is(err, service.ErrLockUnavailable):
		h.respondError(w, http.StatusServiceUnavailable, err.Error(), err)
	case errors.Is(err, service.ErrInvalidInput):
		h.respondError(w, http.StatusBadRequest, err.Error(), err)
	default:
		h.logger.Errorf(r.Context(), "delivery.http: %s: %v", message, err)
		h.respondError(w, http.StatusInternalServerError, message, err)
	}
}

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Errorf(context.Background(), "Failed to encode JSON response: %v", err)
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error": message,
		"code":  statusCode,
	}

	if err != nil {
		h.logger.Debugf(context.Background(), "Error response: %s: %v", message, err)
	}

	h.respondJSON(w, statusCode, response)
}
