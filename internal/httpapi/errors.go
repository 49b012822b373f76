package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/repository"
)

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var (
		notFound   *repository.NotFoundError
		badRequest *repository.BadRequestError
		conflict   *repository.ConflictError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &badRequest):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		jsonError(w, "internal server error", code)
		return
	}
	jsonError(w, err.Error(), code)
}

// validationMessage lists the failing fields, one per line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	lines := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		line := fmt.Sprintf("%s: failed '%s'", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			line += fmt.Sprintf(" (%s)", fe.Param())
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
