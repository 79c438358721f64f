// Package email sends transactional order confirmations through Resend.
package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"github.com/lonestartortillas/pricing-api/internal/domain/checkout"
)

// Sender delivers order confirmations. It implements checkout.Notifier:
// delivery failures are logged, never propagated, so a broken email provider
// cannot fail a checkout.
type Sender struct {
	client *resend.Client
	from   string
	lg     *zap.Logger
}

// NewSender creates a Sender using the given Resend API key.
func NewSender(apiKey, fromEmail, fromName string, lg *zap.Logger) *Sender {
	return &Sender{
		client: resend.NewClient(apiKey),
		from:   fmt.Sprintf("%s <%s>", fromName, fromEmail),
		lg:     lg,
	}
}

// OrderConfirmed sends the confirmation email for a completed order.
func (s *Sender) OrderConfirmed(ctx context.Context, o *checkout.Order) {
	subject := fmt.Sprintf("Order %s confirmed", o.Number)

	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{o.Email},
		Subject: subject,
		Html:    renderHTML(o),
		Text:    renderText(o),
	})
	if err != nil {
		s.lg.Error("send order confirmation",
			zap.String("order", o.Number),
			zap.Error(err),
		)
		return
	}

	s.lg.Info("order confirmation sent",
		zap.String("order", o.Number),
		zap.String("email_id", sent.Id),
	)
}

func renderText(o *checkout.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for your order %s!\n\n", o.Number)
	for _, item := range o.Items {
		fmt.Fprintf(&b, "  %dx %s @ $%s\n", item.Quantity, item.Name, item.UnitPrice.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nSubtotal: $%s\n", o.Subtotal.StringFixed(2))
	for _, d := range o.Discounts {
		fmt.Fprintf(&b, "Discount %s: -$%s\n", d.Code, d.Amount.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: $%s\n", o.Total.StringFixed(2))
	return b.String()
}

func renderHTML(o *checkout.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Thanks for your order %s!</h2><ul>", o.Number)
	for _, item := range o.Items {
		fmt.Fprintf(&b, "<li>%dx %s @ $%s</li>", item.Quantity, item.Name, item.UnitPrice.StringFixed(2))
	}
	b.WriteString("</ul>")
	fmt.Fprintf(&b, "<p>Subtotal: $%s</p>", o.Subtotal.StringFixed(2))
	for _, d := range o.Discounts {
		fmt.Fprintf(&b, "<p>Discount %s: -$%s</p>", d.Code, d.Amount.StringFixed(2))
	}
	fmt.Fprintf(&b, "<p><strong>Total: $%s</strong></p>", o.Total.StringFixed(2))
	return b.String()
}
