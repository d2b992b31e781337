// Package notify delivers the end-of-run result batch over email.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jordan-wright/email"

	"ipoclerk/lib/workflow"
)

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	Recipients   []string `json:"recipients"`
}

type Mailer struct {
	config SmtpConfig
	send   func(mail *email.Email, addr string, auth smtp.Auth) error
}

func NewMailer(config SmtpConfig) *Mailer {
	return &Mailer{
		config: config,
		send: func(mail *email.Email, addr string, auth smtp.Auth) error {
			return mail.Send(addr, auth)
		},
	}
}

// NotifyBatch emails the full result list of one run. Callers treat this
// as best effort, the returned error is for logging only.
func (m *Mailer) NotifyBatch(ctx context.Context, results []workflow.Result) error {
	if len(m.config.Recipients) == 0 {
		return nil
	}

	succeeded := 0
	for _, res := range results {
		if res.OK {
			succeeded++
		}
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("ipoclerk <%s>", m.config.EmailAddress)
	mail.To = m.config.Recipients
	mail.Subject = fmt.Sprintf("ipoclerk run: %d/%d accounts succeeded", succeeded, len(results))
	mail.Text = []byte(renderBatch(results))

	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	auth := smtp.PlainAuth("", m.config.EmailAddress, m.config.Password, m.config.Server)

	err := m.send(mail, addr, auth)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = m.send(mail, addr, nil)
	}
	return err
}

func renderBatch(results []workflow.Result) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"account", "outcome", "reference", "message", "time"})
	for _, res := range results {
		outcome := "ok"
		if !res.OK {
			outcome = "FAILED"
		}
		t.AppendRow(table.Row{
			res.Account,
			outcome,
			res.Ref,
			res.Message,
			res.Time.Format("2006-01-02 15:04:05"),
		})
	}
	return t.Render()
}
