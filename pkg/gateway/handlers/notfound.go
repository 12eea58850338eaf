package handlers

import (
	"net/http"

	"github.com/vango-go/vai-live-bridge/pkg/gateway/apierror"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apierror.Write(w, http.StatusNotFound, requestIDFromRequest(r), &apierror.Error{
		Type:    apierror.ErrNotFound,
		Message: "not found",
	})
}
