package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// statusFor maps a service error kind to its HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindAccess:
		return http.StatusForbidden
	case service.KindState:
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// failWith writes the error envelope for err. Unclassified errors are logged
// and reported as INTERNAL_ERROR without leaking details.
func failWith(c *gin.Context, log zerolog.Logger, err error) {
	kind := service.KindOf(err)
	status := statusFor(kind)

	code := response.ErrCode(service.CodeOf(err))
	if code == "" || kind == service.KindInternal {
		code = response.ErrInternal
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}
