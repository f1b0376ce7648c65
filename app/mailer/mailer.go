package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"
)

const epubContentType = mail.ContentType("application/epub+zip")

// Brevo enforces a 4MB per-file attachment limit (20MB total message).
// Typical article digests are well under 1MB; warn when approaching.
const attachmentWarnBytes = 3500 * 1024

// Mailer sends compiled ebooks to Kindle addresses through an SMTP relay.
// It implements the delivery.Dispatcher contract: no internal retries, a
// failed send is terminal for the attempt.
type Mailer struct {
	client *mail.Client
	sender string
}

// New constructs the process-wide mailer. The sender identity is fixed;
// recipients supply only their Kindle address.
func New(host string, port int, login, password, sender string) (*Mailer, error) {
	client, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(login),
		mail.WithPassword(password),
		mail.WithTLSPolicy(mail.TLSMandatory))
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &Mailer{client: client, sender: sender}, nil
}

// Dispatch sends one email carrying the EPUB attachment. The body is a
// non-empty HTML fragment because Kindle's ingestion pipeline rejects
// bodyless mail (error E009).
func (m *Mailer) Dispatch(ctx context.Context, to, subject, filename string, epub []byte) error {
	if len(epub) > attachmentWarnBytes {
		slog.Warn("EPUB attachment approaching relay size limit",
			"filename", filename, "bytes", len(epub))
	}

	msg := mail.NewMsg()
	if err := msg.From(m.sender); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, "<div></div>")

	if err := msg.AttachReader(filename, bytes.NewReader(epub),
		mail.WithFileContentType(epubContentType)); err != nil {
		return fmt.Errorf("failed to attach epub: %w", err)
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Debug("Email dispatched", "to", to, "filename", filename, "bytes", len(epub))
	return nil
}
