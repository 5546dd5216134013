package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/learning-commerce/pkg/logger"
)

// HeaderCallbackToken — заголовок, которым Xendit подписывает вебхуки.
const HeaderCallbackToken = "X-Callback-Token"

// maxWebhookBody — предел размера тела вебхука.
const maxWebhookBody = 64 << 10

// WebhookHandler принимает уведомления платёжного шлюза.
type WebhookHandler struct {
	webhookService WebhookService
}

// NewWebhookHandler создаёт обработчик вебхуков.
func NewWebhookHandler(webhookService WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// WebhookResponse — подтверждение приёма вебхука.
type WebhookResponse struct {
	Status string `json:"status"`
}

// XenditInvoice обрабатывает вебхук счёта Xendit.
// Повторная доставка и неизвестные статусы подтверждаются 200, чтобы шлюз
// не повторял их бесконечно.
// POST /payments/webhook/xendit/invoices
func (h *WebhookHandler) XenditInvoice(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		badRequest(c, err, "XenditInvoice")
		return
	}
	if len(body) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "payload_too_large",
			Message: "Слишком большой payload вебхука",
		})
		return
	}

	outcome, err := h.webhookService.HandleXenditInvoice(ctx, c.GetHeader(HeaderCallbackToken), body)
	if err != nil {
		HandleError(c, err, "XenditInvoice")
		return
	}

	logger.Ctx(ctx).Debug().Str("outcome", string(outcome)).Msg("Вебхук Xendit подтверждён")
	c.JSON(http.StatusOK, WebhookResponse{Status: string(outcome)})
}
