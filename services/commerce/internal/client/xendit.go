// Package client содержит клиенты внешних сервисов commerce.
// XenditClient создаёт счета в платёжном шлюзе Xendit и разбирает его вебхуки.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/learning-commerce/pkg/circuitbreaker"
	"example.com/learning-commerce/pkg/logger"
	"example.com/learning-commerce/pkg/metrics"
	"example.com/learning-commerce/services/commerce/internal/domain"
)

// ProviderXendit — имя провайдера в журнале вебхуков.
const ProviderXendit = "xendit"

// XenditConfig — конфигурация клиента.
type XenditConfig struct {
	BaseURL string        // https://api.xendit.co
	APIKey  string        // секретный ключ, передаётся как Basic Auth username
	Timeout time.Duration // таймаут одного HTTP запроса
}

// CreateInvoiceRequest — параметры счёта.
type CreateInvoiceRequest struct {
	ExternalID         string // ROTX-... транзакции
	Amount             int64
	PayerEmail         string
	Description        string
	InvoiceDuration    time.Duration // сколько счёт живёт в шлюзе
	SuccessRedirectURL string
	FailureRedirectURL string
}

// Invoice — созданный счёт.
type Invoice struct {
	ID         string
	ExternalID string
	Status     string
	InvoiceURL string
	ExpiryDate time.Time
}

// APIError — ответ шлюза с кодом 4xx/5xx.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xendit %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// XenditClient — HTTP клиент Xendit Invoice API за circuit breaker.
type XenditClient struct {
	cfg     XenditConfig
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// NewXenditClient создаёт клиент. Отказы 4xx не открывают breaker: это ошибки запроса, а не шлюза.
func NewXenditClient(cfg XenditConfig) *XenditClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	settings := circuitbreaker.DefaultSettings()
	settings.IsFailure = isGatewayFailure

	return &XenditClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: circuitbreaker.NewWithSettings("xendit", settings),
	}
}

func isGatewayFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

type createInvoiceBody struct {
	ExternalID         string `json:"external_id"`
	Amount             int64  `json:"amount"`
	PayerEmail         string `json:"payer_email,omitempty"`
	Description        string `json:"description,omitempty"`
	InvoiceDuration    int64  `json:"invoice_duration,omitempty"`
	SuccessRedirectURL string `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string `json:"failure_redirect_url,omitempty"`
	Currency           string `json:"currency"`
}

type invoiceResponse struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	InvoiceURL string    `json:"invoice_url"`
	ExpiryDate time.Time `json:"expiry_date"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// CreateInvoice создаёт счёт. Недоступность шлюза (сеть, 5xx, открытый breaker)
// возвращается как domain.ErrGatewayUnavailable.
func (c *XenditClient) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	start := time.Now()

	inv, err := circuitbreaker.Do(ctx, c.breaker, func(ctx context.Context) (*Invoice, error) {
		return c.createInvoice(ctx, req)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.GatewayRequests.WithLabelValues("create_invoice", status).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("external_id", req.ExternalID).
			Msg("Ошибка создания счёта в Xendit")

		if isGatewayFailure(err) || errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		return nil, err
	}
	return inv, nil
}

func (c *XenditClient) createInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	body, err := json.Marshal(createInvoiceBody{
		ExternalID:         req.ExternalID,
		Amount:             req.Amount,
		PayerEmail:         req.PayerEmail,
		Description:        req.Description,
		InvoiceDuration:    int64(req.InvoiceDuration / time.Second),
		SuccessRedirectURL: req.SuccessRedirectURL,
		FailureRedirectURL: req.FailureRedirectURL,
		Currency:           "IDR",
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации счёта: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.cfg.APIKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	// Повтор запроса с тем же external_id не создаёт второй счёт.
	httpReq.Header.Set("X-IDEMPOTENCY-KEY", req.ExternalID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("запрос к Xendit: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа Xendit: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		return nil, &APIError{StatusCode: resp.StatusCode, Code: e.ErrorCode, Message: e.Message}
	}

	var out invoiceResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("разбор ответа Xendit: %w", err)
	}

	return &Invoice{
		ID:         out.ID,
		ExternalID: out.ExternalID,
		Status:     out.Status,
		InvoiceURL: out.InvoiceURL,
		ExpiryDate: out.ExpiryDate,
	}, nil
}

// invoiceCallback — тело вебхука Invoice API.
type invoiceCallback struct {
	ID             string      `json:"id"`
	ExternalID     string      `json:"external_id"`
	Status         string      `json:"status"`
	Amount         json.Number `json:"amount"`
	PaidAmount     json.Number `json:"paid_amount"`
	PaidAt         *time.Time  `json:"paid_at"`
	PaymentMethod  string      `json:"payment_method"`
	PaymentChannel string      `json:"payment_channel"`
}

// ParseInvoiceCallback разбирает вебхук Xendit в PaymentNotification.
// Статус нормализуется: SETTLED считается PAID.
func ParseInvoiceCallback(body []byte) (*domain.PaymentNotification, error) {
	var cb invoiceCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWebhook, err)
	}
	if cb.ID == "" || cb.ExternalID == "" || cb.Status == "" {
		return nil, fmt.Errorf("%w: нет id, external_id или status", domain.ErrInvalidWebhook)
	}

	amount, err := parseAmount(cb.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", domain.ErrInvalidWebhook, err)
	}
	paid, err := parseAmount(cb.PaidAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: paid_amount: %v", domain.ErrInvalidWebhook, err)
	}
	// Старые версии колбэка не присылают paid_amount
	if paid == 0 && domain.PaymentStatus(cb.Status).Normalize() == domain.PaymentStatusPaid {
		paid = amount
	}

	n := &domain.PaymentNotification{
		Provider:        ProviderXendit,
		ProviderEventID: cb.ID,
		ExternalID:      cb.ExternalID,
		Status:          domain.PaymentStatus(cb.Status).Normalize(),
		InvoiceAmount:   amount,
		PaidAmount:      paid,
		Method:          cb.PaymentMethod,
		Channel:         cb.PaymentChannel,
		Payload:         body,
	}
	if cb.PaidAt != nil {
		t := cb.PaidAt.UTC()
		n.PaidAt = &t
	}
	return n, nil
}

// parseAmount принимает целые и дробные суммы: Xendit присылает IDR как число.
func parseAmount(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
