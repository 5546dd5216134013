// Package templates рендерит письма по типу события уведомления.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"example.com/learning-commerce/pkg/events"
)

//go:embed html/*.html
var files embed.FS

// ErrUnsupportedType — для типа события нет письма.
var ErrUnsupportedType = errors.New("нет шаблона для типа события")

// kind описывает письмо одного типа события.
type kind struct {
	file    string
	subject func(v *View) string
}

var kinds = map[events.Type]kind{
	events.OrderCreated: {"html/order_created.html", func(v *View) string {
		return "Menunggu pembayaran " + v.InvoiceNumber
	}},
	events.OrderPaid: {"html/order_paid.html", func(v *View) string {
		return "Pembayaran diterima " + v.InvoiceNumber
	}},
	events.OrderExpired: {"html/order_expired.html", func(v *View) string {
		return "Pesanan kedaluwarsa " + v.InvoiceNumber
	}},
	events.AccessGranted: {"html/access_granted.html", func(v *View) string {
		return "Akses aktif: " + v.Title()
	}},
	events.AccessRevoked: {"html/access_revoked.html", func(v *View) string {
		return "Akses dicabut: " + v.Title()
	}},
	events.PlanChanged: {"html/plan_changed.html", func(v *View) string {
		return "Paket diperbarui: " + v.Title()
	}},
}

// View — данные письма, уже отформатированные для получателя.
type View struct {
	Name          string
	InvoiceNumber string
	OrderID       string
	Amount        string
	ProductName   string
	AccessType    string
	StartedAt     string
	ExpiredAt     string
	Reason        string
}

// Title — название продукта или тип доступа.
func (v *View) Title() string {
	if v.ProductName != "" {
		return v.ProductName
	}
	return v.AccessType
}

// Renderer собирает тему и HTML письма.
type Renderer struct {
	loc     *time.Location
	printer *message.Printer
	byType  map[events.Type]*template.Template
}

// New парсит шаблоны. Даты выводятся в часовом поясе loc.
func New(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}

	layout, err := template.ParseFS(files, "html/layout.html")
	if err != nil {
		return nil, fmt.Errorf("шаблон layout: %w", err)
	}

	byType := make(map[events.Type]*template.Template, len(kinds))
	for typ, k := range kinds {
		clone, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		t, err := clone.ParseFS(files, k.file)
		if err != nil {
			return nil, fmt.Errorf("шаблон %s: %w", typ, err)
		}
		byType[typ] = t
	}

	return &Renderer{
		loc:     loc,
		printer: message.NewPrinter(language.Indonesian),
		byType:  byType,
	}, nil
}

// Render возвращает тему и тело письма для события.
func (r *Renderer) Render(e *events.Event, recipientName string) (subject, body string, err error) {
	t, ok := r.byType[e.Type]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, e.Type)
	}

	v := r.view(e, recipientName)

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", v); err != nil {
		return "", "", fmt.Errorf("рендер %s: %w", e.Type, err)
	}
	return kinds[e.Type].subject(v), buf.String(), nil
}

func (r *Renderer) view(e *events.Event, name string) *View {
	if name == "" {
		name = "Pelanggan"
	}
	v := &View{
		Name:          name,
		InvoiceNumber: e.InvoiceNumber,
		OrderID:       e.OrderID,
		Amount:        r.printer.Sprintf("Rp %d", e.Amount),
		ProductName:   e.Data["product_name"],
		AccessType:    e.Data["access_type"],
		Reason:        e.Data["reason"],
		StartedAt:     r.formatTime(e.Data["started_at"]),
		ExpiredAt:     r.formatTime(e.Data["expired_at"]),
	}
	if months, err := strconv.Atoi(e.Data["duration_months"]); err == nil && months > 0 && v.AccessType != "" {
		v.AccessType = fmt.Sprintf("%s %d bulan", v.AccessType, months)
	}
	return v
}

// formatTime переводит RFC3339 в бизнес-часовой пояс. Нераспознанное значение
// выводится как есть.
func (r *Renderer) formatTime(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.In(r.loc).Format("02 Jan 2006 15:04 MST")
}
