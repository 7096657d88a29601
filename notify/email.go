// Package notify delivers the daily digest of the best-scoring listings.
package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/jordan-wright/email"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/models"
)

// Notifier delivers a ranked set of listings.
type Notifier interface {
	Notify(ctx context.Context, listings []*models.Listing) error
}

// SendFunc dispatches a rendered message.
type SendFunc func(msg *email.Email, addr string, auth smtp.Auth) error

func smtpSend(msg *email.Email, addr string, auth smtp.Auth) error {
	return msg.Send(addr, auth)
}

// EmailNotifier renders listings into an HTML and plain-text email.
type EmailNotifier struct {
	from       string
	recipients []string
	host       string
	port       int
	username   string
	password   string
	send       SendFunc
	now        func() time.Time
}

// NewEmailNotifier builds a notifier from the digest and SMTP settings in cfg.
func NewEmailNotifier(cfg *config.Config) *EmailNotifier {
	return &EmailNotifier{
		from:       cfg.DigestFrom,
		recipients: cfg.DigestRecipients,
		host:       cfg.SMTPHost,
		port:       cfg.SMTPPort,
		username:   cfg.SMTPUsername,
		password:   cfg.SMTPPassword,
		send:       smtpSend,
		now:        time.Now,
	}
}

// SetSender replaces the SMTP dispatch, mainly for tests.
func (n *EmailNotifier) SetSender(send SendFunc) {
	if send != nil {
		n.send = send
	}
}

// Notify sends one digest email. An empty listing set sends nothing.
func (n *EmailNotifier) Notify(ctx context.Context, listings []*models.Listing) error {
	if len(listings) == 0 {
		slog.Info("digest skipped, no listings")
		return nil
	}
	if len(n.recipients) == 0 {
		return fmt.Errorf("digest has no recipients")
	}

	msg, err := n.render(listings)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	err = n.send(msg, addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = n.send(msg, addr, nil)
	}
	if err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	slog.Info("digest sent",
		slog.Int("listings", len(listings)),
		slog.Int("recipients", len(n.recipients)),
	)
	return nil
}

type digestData struct {
	Date     string
	Listings []*models.Listing
}

func (n *EmailNotifier) render(listings []*models.Listing) (*email.Email, error) {
	data := digestData{
		Date:     n.now().Format("Jan 2, 2006"),
		Listings: listings,
	}

	var text, html bytes.Buffer
	if err := textDigest.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("render text digest: %w", err)
	}
	if err := htmlDigest.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render html digest: %w", err)
	}

	msg := email.NewEmail()
	msg.From = n.from
	msg.To = n.recipients
	msg.Subject = fmt.Sprintf("Auction deals for %s: %d picks", data.Date, len(listings))
	msg.Text = text.Bytes()
	msg.HTML = html.Bytes()
	return msg, nil
}

var funcs = map[string]any{
	"inc":     func(i int) int { return i + 1 },
	"dollars": formatDollars,
	"hours":   formatHours,
}

var textDigest = template.Must(template.New("text").Funcs(funcs).Parse(
	`Top auction deals, {{.Date}}
{{range $i, $l := .Listings}}
{{inc $i}}. {{$l.Title}} (score {{$l.DealScore}})
   Bid {{dollars $l.CurrentBid}}, est. value {{dollars $l.MarketValue}}, {{$l.DiscountPct}}% under
   {{hours $l.HoursLeft}} left, {{$l.BidCount}} bids{{if $l.NoReserve}}, no reserve{{end}}
   {{$l.URL}}
{{end}}`))

var htmlDigest = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(
	`<html><body>
<h2>Top auction deals, {{.Date}}</h2>
<table cellpadding="6" style="border-collapse:collapse">
<tr><th>#</th><th>Vehicle</th><th>Bid</th><th>Est. value</th><th>Discount</th><th>Ends in</th><th>Score</th></tr>
{{range $i, $l := .Listings}}<tr>
<td>{{inc $i}}</td>
<td><a href="{{$l.URL}}">{{$l.Title}}</a>{{if $l.NoReserve}} <b>No Reserve</b>{{end}}</td>
<td>{{dollars $l.CurrentBid}}</td>
<td>{{dollars $l.MarketValue}}</td>
<td>{{$l.DiscountPct}}%</td>
<td>{{hours $l.HoursLeft}}</td>
<td>{{$l.DealScore}}</td>
</tr>
{{end}}</table>
</body></html>`))

func formatDollars(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}

func formatHours(h float64) string {
	if h < 1 {
		return fmt.Sprintf("%dm", int(h*60))
	}
	if h < 48 {
		return fmt.Sprintf("%.1fh", h)
	}
	return fmt.Sprintf("%.0fd", h/24)
}
