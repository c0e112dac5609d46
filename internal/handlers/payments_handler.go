package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-shop-orderflow/internal/payments"
)

// paymentWebhook always answers 200 so the gateway stops redelivering; the envelope carries
// the outcome.
func (a *api) paymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	n, ok := notificationFrom(c)
	if !ok {
		c.JSON(http.StatusOK, payments.Result{Success: false, Error: "invalid_payload"})
		return
	}

	if a.cfg.Publisher.Enabled() && n.Type == payments.TypePayment && n.PaymentID() != "" {
		body, _ := json.Marshal(n)
		err := a.cfg.Publisher.Publish(ctx, string(body), map[string]string{
			"source":         "webhook",
			"payment_id":     n.PaymentID(),
			"correlation_id": c.GetHeader("X-Request-Id"),
		})
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"success": true, "queued": true})
			return
		}
		log.Printf("[webhook] enqueue payment=%s failed, processing inline: %v", n.PaymentID(), err)
	}

	c.JSON(http.StatusOK, a.cfg.Payments.ProcessWebhook(ctx, n))
}

// notificationFrom reads the notification from the JSON body, falling back to the
// ?type=payment&data.id= (or ?topic=payment&id=) query form.
func notificationFrom(c *gin.Context) (payments.Notification, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		log.Printf("[webhook] read body: %v", err)
		return payments.Notification{}, false
	}
	var n payments.Notification
	if len(raw) > 0 {
		n, err = payments.ParseNotification(raw)
		if err != nil {
			log.Printf("[webhook] %v", err)
			return n, false
		}
	}
	if n.Type == "" {
		n.Type = c.Query("type")
		if n.Type == "" {
			n.Type = c.Query("topic")
		}
	}
	if n.PaymentID() == "" {
		id := c.Query("data.id")
		if id == "" {
			id = c.Query("id")
		}
		n.Data.ID = payments.ID(id)
	}
	return n, true
}

func (a *api) paymentStatus(c *gin.Context) {
	view, err := a.cfg.Orders.PaymentStatus(c.Request.Context(), identity(c).UserID, c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": view})
}
