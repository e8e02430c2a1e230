package services

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/planforge/backend/internal/config"
	"github.com/planforge/backend/internal/models"
	"github.com/planforge/backend/pkg/logger"
)

// EmailService sends invitation mail over SMTP. When mail is disabled the
// send is a logged no-op so invitation flows still work in development.
type EmailService struct {
	cfg config.EmailConfig
}

func NewEmailService(cfg config.EmailConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// SendInvitation mails a project invitation link to its recipient.
func (s *EmailService) SendInvitation(invitation *models.ProjectInvitation) error {
	if !s.cfg.Enabled || s.cfg.Host == "" {
		logger.Infof("[Email] Mail disabled, skipping invitation to %s for project %q", invitation.Email, invitation.ProjectName)
		return nil
	}

	subject := fmt.Sprintf("[PlanForge] %s invited you to %s", invitation.InviterName, invitation.ProjectName)
	body := s.buildInvitationBody(invitation)

	return s.sendEmail([]string{invitation.Email}, subject, body)
}

func (s *EmailService) buildInvitationBody(inv *models.ProjectInvitation) string {
	var sb strings.Builder

	sb.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	sb.WriteString("<h2>Project Invitation</h2>")
	sb.WriteString(fmt.Sprintf("<p><b>%s</b> invited you to join the project <b>%s</b>.</p>", inv.InviterName, inv.ProjectName))
	sb.WriteString(fmt.Sprintf("<p><a href=\"/invitations/%s/accept\">Accept invitation</a></p>", inv.Token))
	sb.WriteString(fmt.Sprintf("<p style=\"color: #888; font-size: 12px;\">This invitation expires at %s.</p>", inv.ExpiresAt.Format("2006-01-02 15:04")))
	sb.WriteString("</body></html>")

	return sb.String()
}

func (s *EmailService) sendEmail(to []string, subject, body string) error {
	from := s.cfg.From
	if from == "" {
		from = s.cfg.Username
	}

	headers := make(map[string]string)
	headers["From"] = from
	headers["To"] = strings.Join(to, ",")
	headers["Subject"] = subject
	headers["MIME-Version"] = "1.0"
	headers["Content-Type"] = "text/html; charset=UTF-8"

	var message strings.Builder
	for k, v := range headers {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	message.WriteString("\r\n")
	message.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	var err error
	if s.cfg.UseTLS {
		err = s.sendEmailTLS(addr, auth, from, to, message.String())
	} else {
		err = smtp.SendMail(addr, auth, from, to, []byte(message.String()))
	}

	if err != nil {
		logger.Errorf("[Email] Failed to send to %v: %v", to, err)
		return err
	}

	logger.Infof("[Email] Sent invitation mail to %v", to)
	return nil
}

func (s *EmailService) sendEmailTLS(addr string, auth smtp.Auth, from string, to []string, message string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return err
		}
	}

	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write([]byte(message)); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	return client.Quit()
}
