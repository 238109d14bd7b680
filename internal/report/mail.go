package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Message is one report mail.
type Message struct {
	Subject string
	Text    string
	// Attachment is the path of a file to attach, ignored when it does not exist.
	Attachment string
}

// Sender delivers report mails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds the mail server account.
type SMTPConfig struct {
	Host       string
	Port       int
	From       string
	Password   string
	Recipients []string
}

// SMTPMailer sends multipart mails, over implicit TLS on port 465 and
// STARTTLS elsewhere.
type SMTPMailer struct {
	cfg     SMTPConfig
	timeout time.Duration
	now     func() time.Time
}

// NewSMTPMailer creates a mailer. Port defaults to 465.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.Recipients) == 0 {
		return nil, errors.New("mail server, sender and recipients are required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 465
	}
	return &SMTPMailer{cfg: cfg, timeout: 30 * time.Second, now: time.Now}, nil
}

// Send builds the mail and hands it to the server.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	body, err := m.compose(msg)
	if err != nil {
		return fmt.Errorf("compose mail: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	c, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if m.cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	for _, rcpt := range m.cfg.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	return c.Quit()
}

func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))
	tlsCfg := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}

	if m.cfg.Port == 465 {
		d := &tls.Dialer{Config: tlsCfg}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		c, err := smtp.NewClient(conn, m.cfg.Host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp hello: %w", err)
		}
		return c, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp hello: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(tlsCfg); err != nil {
			c.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return c, nil
}

// compose renders a multipart/mixed mail: the text as plain and preformatted
// HTML alternatives, followed by the attachment.
func (m *SMTPMailer) compose(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.cfg.Recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	var alt bytes.Buffer
	altW := multipart.NewWriter(&alt)
	if err := writeText(altW, "text/plain", msg.Text); err != nil {
		return nil, err
	}
	page := `<html><body><pre style="font:monospace">` + html.EscapeString(msg.Text) + `</pre></body></html>`
	if err := writeText(altW, "text/html", page); err != nil {
		return nil, err
	}
	if err := altW.Close(); err != nil {
		return nil, err
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altW.Boundary()))
	pw, err := mixed.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := pw.Write(alt.Bytes()); err != nil {
		return nil, err
	}

	if msg.Attachment != "" {
		if err := attach(mixed, msg.Attachment); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeText(w *multipart.Writer, contentType, text string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=utf-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(text)); err != nil {
		return err
	}
	return qp.Close()
}

func attach(w *multipart.Writer, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	h := textproto.MIMEHeader{}
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(path)}))
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}

	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := fmt.Fprintf(pw, "%s\r\n", enc[:76]); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err = fmt.Fprintf(pw, "%s\r\n", enc)
	return err
}
