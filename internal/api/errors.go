package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/javanstorm/qvmctl/internal/vm"
	"github.com/javanstorm/qvmctl/pkg/hypervisor"
)

// StatusFor maps an orchestrator error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, vm.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vm.ErrAlreadyExists),
		errors.Is(err, hypervisor.ErrAlreadyRunning),
		errors.Is(err, hypervisor.ErrNotRunning),
		errors.Is(err, vm.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, vm.ErrInvalid), errors.Is(err, vm.ErrInvalidImagePath):
		return http.StatusBadRequest
	case errors.Is(err, hypervisor.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, vm.ErrToolUnavailable), errors.Is(err, vm.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(StatusFor(err), errorBody{Error: err.Error()})
}
