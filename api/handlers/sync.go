package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dmarcwatch/dmarcwatch/dto"
	"github.com/dmarcwatch/dmarcwatch/interfaces"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

// TriggerSync enqueues a one-shot sync job for a mailbox account. The key
// carries a uuid suffix so a manual trigger never collides with the
// scheduler's recurring key for the same account.
func TriggerSync(accounts interfaces.MailboxAccountRepository, enqueuer interfaces.JobEnqueuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		account, err := accounts.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		key := interfaces.QueueMailboxSync + "-" + account.ID + "-" + uuid.New().String()
		if err := enqueuer.Enqueue(ctx, interfaces.QueueMailboxSync, key, dto.SyncMailbox{AccountID: account.ID}); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "sync enqueued", "id": account.ID})
	}
}

// CancelSync flags a running sync for cooperative cancellation.
func CancelSync(syncService interfaces.MailboxSyncService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CancelSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		if err := syncService.RequestCancel(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "cancel requested", "id": id})
	}
}
