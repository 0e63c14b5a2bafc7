package session

import (
	"github.com/go-chi/chi/v5"
	"github.com/saulo-duarte/cbt-engine/internal/auth"
	"github.com/saulo-duarte/cbt-engine/internal/user"
)

func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(auth.AuthMiddleware)

	student := auth.RequireRole(user.RoleStudent)
	staff := auth.RequireRole(user.RoleTeacher, user.RoleAdmin)

	r.With(student).Post("/tests/{testID}/attempts", h.StartAttempt)
	r.With(student).Post("/attempts/{attemptID}/submit", h.SubmitAttempt)
	r.With(staff).Get("/attempts/pending-grading", h.PendingGrading)
	r.With(staff).Post("/attempts/{attemptID}/grades", h.GradeAnswer)
	r.With(staff).Post("/attempts/{attemptID}/rescore", h.RequestRescore)
	return r
}
