package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"go.uber.org/zap"
)

type SMTPNotifier struct {
	host   string
	port   int
	from   string
	logger *zap.Logger
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(host string, port int, from string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, logger: logger, send: smtp.SendMail}
}

func (n *SMTPNotifier) NotifyFailure(_ context.Context, notice port.FailureNotice) error {
	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	msg := composeFailureMail(n.from, notice)

	err := n.send(addr, nil, n.from, []string{notice.UserEmail}, msg)
	if err != nil {
		n.logger.Error("failed to send failure notification email",
			zap.String("to", notice.UserEmail),
			zap.String("job_id", notice.JobID),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("failure notification email sent",
		zap.String("to", notice.UserEmail),
		zap.String("job_id", notice.JobID),
	)
	return nil
}

func composeFailureMail(from string, notice port.FailureNotice) []byte {
	subject := fmt.Sprintf("AeroMinds - Reconstruction Failed [Job %s]", notice.JobID)

	var body strings.Builder
	body.WriteString("Hello,\r\n\r\n")
	body.WriteString("Your 3D reconstruction job has failed and will not be retried.\r\n\r\n")
	fmt.Fprintf(&body, "Job ID: %s\r\n", notice.JobID)
	fmt.Fprintf(&body, "Video: %s\r\n", notice.VideoKey)
	if notice.Stage != "" {
		fmt.Fprintf(&body, "Stage: %s\r\n", notice.Stage)
	}
	fmt.Fprintf(&body, "Error: %s\r\n", notice.Error)
	if notice.Diagnostics != "" {
		body.WriteString("\r\nLast output of the failing step:\r\n\r\n")
		for _, line := range strings.Split(notice.Diagnostics, "\n") {
			body.WriteString("    " + strings.TrimRight(line, "\r") + "\r\n")
		}
	}
	body.WriteString("\r\nVideos with more overlap between frames and steady lighting usually reconstruct better.\r\n\r\n")
	body.WriteString("-- AeroMinds Reconstruction Service")

	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		from, notice.UserEmail, subject, body.String(),
	))
}
