// Webhook HTTP handlers.
//
// This file exposes the two endpoints the messaging platform calls:
//   - GET  /   (subscription handshake)
//   - POST /   (event delivery)
//
// Both answer 200 with a plain-text body. Event errors are reported in the
// body as "ERROR: <err>\n" rather than through the status code, because the
// platform keeps retrying deliveries that do not get a 200.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-person-blocker/internal/http/middleware"
	"github.com/tbourn/go-person-blocker/internal/services"
)

// VerifyWebhook godoc
// @ID          verifyWebhook
// @Summary     Webhook subscription handshake
// @Description Echoes hub.challenge when present, otherwise returns a fixed greeting.
// @Tags        Webhook
// @Produce     plain
//
// @Param       hub.mode          query  string  false  "Subscription mode"  example(subscribe)
// @Param       hub.challenge     query  string  false  "Challenge to echo"
// @Param       hub.verify_token  query  string  false  "Verify token"
//
// @Success     200  {string}  string  "Challenge or greeting"
// @Failure     403  {string}  string  "Verify token mismatch"
// @Router      / [get]
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	out, err := h.webhook.VerifySubscription(c.Request.URL.Query())
	if errors.Is(err, services.ErrVerifyToken) {
		middleware.LoggerFrom(c).Warn().Msg("webhook verify token mismatch")
		c.String(http.StatusForbidden, err.Error())
		return
	}
	c.String(http.StatusOK, out)
}

// ReceiveWebhook godoc
// @ID          receiveWebhook
// @Summary     Receive webhook events
// @Description Processes an event delivery. Always answers 200; the body echoes the event or carries "ERROR: <err>".
// @Tags        Webhook
// @Accept      json
// @Produce     json
//
// @Param       body  body  domain.InboundEvent  true  "Event payload"
//
// @Success     200  {object}  domain.InboundEvent
// @Router      / [post]
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err == nil {
		err = h.webhook.HandleEvent(c.Request.Context(), body)
	}
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("webhook event failed")
		c.String(http.StatusOK, fmt.Sprintf("ERROR: %v\n", err))
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}
