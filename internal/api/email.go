package api

import (
	"encoding/base64"
	"errors"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"
)

// sendMailWithTimeout runs fn and returns an error if it doesn't complete
// within timeout. It does not forcibly cancel the underlying network dial;
// it's a soft timeout suitable for transactional sends.
func sendMailWithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errors.New("smtp send timed out")
	}
}

func smtpConfig() (addr, host, from, user, pass string, err error) {
	host = os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}
	from = os.Getenv("SMTP_FROM")
	user = os.Getenv("SMTP_USERNAME")
	pass = os.Getenv("SMTP_PASSWORD")
	if host == "" || from == "" {
		return "", "", "", "", "", errors.New("SMTP_HOST and SMTP_FROM must be set")
	}
	return host + ":" + port, host, from, user, pass, nil
}

func smtpTimeout() time.Duration {
	tout := 10 * time.Second
	if v := os.Getenv("VF_SMTP_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			tout = time.Duration(ms) * time.Millisecond
		}
	}
	return tout
}

// sendMail delivers a prepared message through SMTP, guarded by the shared
// smtp_send circuit breaker and recorded as an external op.
func sendMail(to string, msg []byte) error {
	addr, host, from, user, pass, err := smtpConfig()
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}
	cb := GetBreaker("smtp_send")
	if !cb.Allow() {
		return errors.New("smtp circuit open")
	}
	start := time.Now()
	err = sendMailWithTimeout(smtpTimeout(), func() error {
		return smtp.SendMail(addr, auth, from, []string{to}, msg)
	})
	RecordExternalOp("smtp_send", time.Since(start), err == nil)
	if err != nil {
		cb.ReportFailure()
		return err
	}
	cb.ReportSuccess()
	return nil
}

// SendPosterEmail emails the rendered poster PDF as an attachment, with the
// signed download link in the body as a fallback for mailbox size limits.
func SendPosterEmail(to, downloadURL string, pdf []byte) error {
	_, _, from, _, _, err := smtpConfig()
	if err != nil {
		return err
	}
	boundary := "vf-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: Your VoiceFrame poster is ready\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=" + boundary + "\r\n\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString("Thanks for your order!\r\n\r\n")
	b.WriteString("Your poster is attached as a PDF. You can also download it here:\r\n")
	b.WriteString(downloadURL + "\r\n\r\n")
	b.WriteString("The QR code on the poster plays your audio clip.\r\n")
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: application/pdf; name=\"voiceframe-poster.pdf\"\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"voiceframe-poster.pdf\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	enc := base64.StdEncoding.EncodeToString(pdf)
	// wrap at 76 chars per RFC 2045
	for len(enc) > 76 {
		b.WriteString(enc[:76] + "\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc + "\r\n")
	b.WriteString("--" + boundary + "--\r\n")

	return sendMail(to, []byte(b.String()))
}

// SendTestEmail sends a plain test message (admin SMTP check).
func SendTestEmail(to string) error {
	msg := []byte("To: " + to + "\r\n" +
		"Subject: VoiceFrame SMTP test\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		"This is a test email from VoiceFrame. If you received this, your SMTP settings are working.\r\n")
	return sendMail(to, msg)
}
