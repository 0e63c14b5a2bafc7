package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/saulo-duarte/cbt-engine/internal/audit"
	"github.com/saulo-duarte/cbt-engine/internal/auth"
	"github.com/saulo-duarte/cbt-engine/internal/config"
)

type Handler struct {
	service  SessionService
	validate *validator.Validate
}

func NewHandler(s SessionService) *Handler {
	return &Handler{
		service:  s,
		validate: validator.New(),
	}
}

func (h *Handler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	log := config.WithContext(r.Context())

	userID, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}
	testID, ok := urlUUID(w, r, "testID")
	if !ok {
		return
	}

	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.StartAttempt(h.auditContext(r), StartInput{
		TenantID:    tenantID,
		UserID:      userID,
		TestID:      testID,
		ClassroomID: req.ClassroomID,
		Subject:     req.Subject,
		IsPractice:  req.IsPractice,
	})
	if err != nil {
		log.WithError(err).Warn("Start attempt rejected")
		writeError(w, err)
		return
	}

	config.JSON(w, http.StatusCreated, res)
}

func (h *Handler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	log := config.WithContext(r.Context())

	userID, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}
	attemptID, ok := urlUUID(w, r, "attemptID")
	if !ok {
		return
	}

	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.service.SubmitAttempt(h.auditContext(r), SubmitInput{
		TenantID:  tenantID,
		AttemptID: attemptID,
		UserID:    userID,
		Answers:   req.Answers,
	})
	if err != nil {
		log.WithError(err).Warn("Submission rejected")
		writeError(w, err)
		return
	}

	config.JSON(w, http.StatusOK, res)
}

func (h *Handler) GradeAnswer(w http.ResponseWriter, r *http.Request) {
	log := config.WithContext(r.Context())

	graderID, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}
	attemptID, ok := urlUUID(w, r, "attemptID")
	if !ok {
		return
	}

	var req gradeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.GradeEssayAnswer(h.auditContext(r), GradeInput{
		TenantID:   tenantID,
		AttemptID:  attemptID,
		QuestionID: req.QuestionID,
		GraderID:   graderID,
		Grade:      *req.Grade,
	}); err != nil {
		log.WithError(err).Warn("Grade rejected")
		writeError(w, err)
		return
	}

	config.JSON(w, http.StatusOK, map[string]string{"message": "Grade submitted successfully"})
}

func (h *Handler) RequestRescore(w http.ResponseWriter, r *http.Request) {
	log := config.WithContext(r.Context())

	requesterID, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}
	attemptID, ok := urlUUID(w, r, "attemptID")
	if !ok {
		return
	}

	if err := h.service.RequestRescore(h.auditContext(r), tenantID, attemptID, requesterID); err != nil {
		log.WithError(err).Warn("Rescore rejected")
		writeError(w, err)
		return
	}

	config.JSON(w, http.StatusAccepted, map[string]string{"message": "Rescore scheduled"})
}

func (h *Handler) PendingGrading(w http.ResponseWriter, r *http.Request) {
	log := config.WithContext(r.Context())

	_, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	pending, err := h.service.PendingGrading(r.Context(), tenantID)
	if err != nil {
		log.WithError(err).Error("Failed to list attempts pending grading")
		writeError(w, err)
		return
	}

	config.JSON(w, http.StatusOK, map[string]interface{}{"pending_grading": pending})
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (userID, tenantID uuid.UUID, ok bool) {
	claims, err := auth.GetUserClaimsFromContext(r.Context())
	if err != nil {
		config.Error(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	userID, tenantID, err = claims.IDs()
	if err != nil {
		config.Error(w, http.StatusUnauthorized, "invalid token")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, tenantID, true
}

// maxBodyBytes bounds every request body; a full answer sheet is far below it.
const maxBodyBytes = 1 << 20

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			config.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		config.WithContext(r.Context()).WithError(err).Warn("Invalid request body")
		config.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		config.Error(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) auditContext(r *http.Request) context.Context {
	return audit.WithIP(r.Context(), r.RemoteAddr)
}

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		config.Error(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotAvailable):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidSubject),
		errors.Is(err, ErrSubjectNotInTest),
		errors.Is(err, ErrNoQuestionsAvailable),
		errors.Is(err, ErrDeadlineExceeded):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadySubmitted), errors.Is(err, ErrNotSubmitted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		config.Error(w, status, "internal server error")
		return
	}
	config.Error(w, status, err.Error())
}
