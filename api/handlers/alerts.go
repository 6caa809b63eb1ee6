package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

const defaultAlertListLimit = 50

// ListAlerts returns the most recent alerts for a domain.
func ListAlerts(alerts interfaces.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListAlerts", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		domainID := c.Query("domainId")
		if domainID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "domainId query parameter is required"})
			return
		}
		tracing.TagDomain(span, domainID)

		limit := defaultAlertListLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		list, err := alerts.ListByDomain(ctx, domainID, limit)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"alerts": list})
	}
}
