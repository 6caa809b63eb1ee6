package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

// EnableWebhook re-activates a webhook endpoint that was disabled after
// consecutive delivery failures. Re-enabling resets the failure count.
func EnableWebhook(webhooks interfaces.WebhookRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "EnableWebhook", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		webhook, err := webhooks.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if webhook == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook not found"})
			return
		}

		if err := webhooks.SetActive(ctx, id, true); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "webhook enabled", "id": id})
	}
}
