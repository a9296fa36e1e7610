package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"math"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/axnihao/otp-service/internal/core/port"
	"github.com/axnihao/otp-service/internal/infra/config"
	"github.com/axnihao/otp-service/internal/infra/logger"
)

const subjectFormat = "Your verification code - valid for %d minutes"

var bodyTemplate = template.Must(template.New("otp_email").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Verification code</title>
</head>
<body style="font-family:Arial,sans-serif;background:#f5f5f5;margin:0;padding:0;">
  <table width="100%" cellpadding="0" cellspacing="0" style="background:#f5f5f5;padding:40px 0;">
    <tr>
      <td align="center">
        <table width="480" cellpadding="0" cellspacing="0"
               style="background:#ffffff;border-radius:8px;padding:40px;box-shadow:0 2px 8px rgba(0,0,0,0.08);">
          <tr>
            <td align="center" style="padding-bottom:24px;">
              <h1 style="color:#1a73e8;font-size:24px;margin:0;">{{.FromName}}</h1>
            </td>
          </tr>
          <tr>
            <td style="font-size:16px;color:#333;padding-bottom:16px;">
              Hello,<br/><br/>
              Your verification code is shown below. Please use it within
              <strong>{{.ValidMinutes}} minutes</strong>:
            </td>
          </tr>
          <tr>
            <td align="center" style="padding:24px 0;">
              <span style="display:inline-block;letter-spacing:8px;font-size:36px;
                           font-weight:bold;color:#1a73e8;background:#eaf2ff;
                           padding:16px 32px;border-radius:8px;">
                {{.Code}}
              </span>
            </td>
          </tr>
          <tr>
            <td style="font-size:14px;color:#666;padding-top:16px;border-top:1px solid #eee;">
              Security notice:
              <ul style="margin:8px 0;padding-left:20px;">
                <li>Never share this code with anyone, including support staff.</li>
                <li>The code expires automatically after {{.ValidMinutes}} minutes.</li>
                <li>If you did not request this code, you can ignore this email.</li>
              </ul>
            </td>
          </tr>
          <tr>
            <td style="font-size:12px;color:#aaa;padding-top:24px;text-align:center;">
              &copy; {{.FromName}} | This email was sent automatically, please do not reply.
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`))

type bodyData struct {
	FromName     string
	Code         string
	ValidMinutes int
}

// Notifier delivers one-time codes over SMTP.
type Notifier struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	logger   *zap.Logger
}

// NewNotifier constructs an SMTP-backed notifier from configuration.
func NewNotifier(cfg config.SMTPSettings, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}

	return &Notifier{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		fromName: cfg.FromName,
		logger:   log,
	}
}

// Send delivers the plaintext code to the address owner. The validity window
// is rendered into the message so the owner knows how long the code lives.
func (n *Notifier) Send(ctx context.Context, address, code string, validity time.Duration) error {
	body, minutes, err := renderBody(n.fromName, code, validity)
	if err != nil {
		return fmt.Errorf("render otp email: %w", err)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", n.from, n.fromName)
	m.SetHeader("To", address)
	m.SetHeader("Subject", fmt.Sprintf(subjectFormat, minutes))
	m.SetBody("text/html", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send otp email: %w", err)
	}

	n.logger.Info("otp email delivered",
		zap.String("address", logger.MaskEmail(address)),
		zap.Int("valid_minutes", minutes),
	)

	return nil
}

func renderBody(fromName, code string, validity time.Duration) (string, int, error) {
	minutes := int(math.Ceil(validity.Minutes()))
	if minutes < 1 {
		minutes = 1
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, bodyData{
		FromName:     fromName,
		Code:         code,
		ValidMinutes: minutes,
	}); err != nil {
		return "", 0, err
	}

	return buf.String(), minutes, nil
}

var _ port.Notifier = (*Notifier)(nil)
