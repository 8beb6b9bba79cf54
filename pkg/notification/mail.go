package notification

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/solbot-labs/engine/pkg/core"
	log "github.com/sirupsen/logrus"
)

// Mail is the email Notifier: a low-bandwidth fallback for operators who
// don't want a Telegram bot running, wired the same way as core.Notifier's
// other implementations (see noop.go, telegram.go).
type Mail struct {
	auth              smtp.Auth
	smtpServerPort    int
	smtpServerAddress string
	to                string
	from              string
}

// MailParams configures Mail's SMTP connection.
type MailParams struct {
	SMTPServerPort    int
	SMTPServerAddress string
	To                string
	From              string
	Password          string
}

// NewMail builds a Mail notifier from params, authenticating with PLAIN auth
// against the configured SMTP server.
func NewMail(params MailParams) Mail {
	return Mail{
		from:              params.From,
		to:                params.To,
		smtpServerPort:    params.SMTPServerPort,
		smtpServerAddress: params.SMTPServerAddress,
		auth: smtp.PlainAuth(
			"",
			params.From,
			params.Password,
			params.SMTPServerAddress,
		),
	}
}

// Notify sends text as the body of a plain-text email to the configured
// recipient.
func (m Mail) Notify(text string) {
	serverAddress := fmt.Sprintf("%s:%d", m.smtpServerAddress, m.smtpServerPort)

	message := fmt.Sprintf(
		`To: "solbot operator" <%s>
From: "solbot" <%s>
%s`,
		m.to,
		m.from,
		text,
	)

	err := smtp.SendMail(
		serverAddress,
		m.auth,
		m.from,
		[]string{m.to},
		[]byte(message),
	)

	if err != nil {
		log.WithError(err).Error("notification/mail: failed to send email")
	}
}

// OnOrder sends an order lifecycle notification, mirroring telegram.go's
// OPEN/PLACED vs FILLED vs CANCELED/REJECTED grouping of spec §4.7's status
// machine so the two notifiers never disagree on what counts as "new".
func (m Mail) OnOrder(order core.Order) {
	var title string

	switch order.Status {
	case core.OrderStatusFilled:
		title = fmt.Sprintf("ORDER FILLED - %s", order.Pair)
	case core.OrderStatusOpen, core.OrderStatusPlaced:
		title = fmt.Sprintf("NEW ORDER - %s", order.Pair)
	case core.OrderStatusCanceled, core.OrderStatusRejected:
		title = fmt.Sprintf("ORDER CANCELED / REJECTED - %s", order.Pair)
	default:
		title = fmt.Sprintf("ORDER UPDATE (%s) - %s", order.Status, order.Pair)
	}

	message := fmt.Sprintf("Subject: %s\n%s %s purpose=%s strategy=%s\n%s",
		title, order.Side, order.Type, order.Purpose, order.StrategyTag, order)
	m.Notify(message)
}

// OnError sends an error notification, unwrapping a core.PlacementError to
// surface its retry-classification code the way telegram.go does.
func (m Mail) OnError(err error) {
	var sb strings.Builder
	sb.WriteString("Subject: ERROR\n")

	var placementErr *core.PlacementError
	if errors.As(err, &placementErr) {
		fmt.Fprintf(&sb, "Code: %s\n", placementErr.Code)
	}
	sb.WriteString(err.Error())

	m.Notify(sb.String())
}

var _ core.Notifier = Mail{}
