package api

import (
	"net/http"

	"cobblepod/internal/herr"

	"github.com/gin-gonic/gin"
)

// writeErrorResponse maps a herr.Kind to the HTTP status spec §7 assigns
// it and writes a {error, details?} JSON body.
func writeErrorResponse(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch herr.As(err) {
	case herr.KindPoisonInput, herr.KindHallucination:
		status = http.StatusBadRequest
	case herr.KindStaleState:
		status = http.StatusConflict
	case herr.KindTransientDownstream:
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
