// Package transport sends one message via SMTP, fetches/flags unread
// messages via IMAP, and tests credentials against both legs without
// sending mail.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"warmit/apperrors"
	"warmit/models"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	gomail "gopkg.in/gomail.v2"
)

// Credentials bundles the connection details transport needs for one
// Account leg; passwords arrive already decrypted by the caller (via the
// Credential Vault) so this package never touches ciphertext.
type Credentials struct {
	SMTPHost string
	SMTPPort int
	SMTPTLS  models.TLSMode

	IMAPHost string
	IMAPPort int
	IMAPSSL  models.TLSMode

	Username string
	Password string
}

// Message is the content to send; Client builds the multipart/alternative
// MIME shape from it.
type Message struct {
	From       string
	FromName   string
	To         string
	Subject    string
	PlainBody  string
	TrackingURL string // appended as an <img> pixel to the HTML part, if set
	InReplyTo  string
	References string
}

// InboundMessage is one fetched IMAP message.
type InboundMessage struct {
	UID       uint32
	From      string
	Subject   string
	MessageID string
	Date      time.Time
	TextBody  string
}

// Client is the mail transport interface.
type Client interface {
	SendSMTP(ctx context.Context, creds Credentials, msg Message) (messageID string, err error)
	FetchUnreadIMAP(ctx context.Context, creds Credentials, limit int) ([]InboundMessage, error)
	FlagSeenIMAP(ctx context.Context, creds Credentials, uids []uint32) error
	TestCredentials(ctx context.Context, creds Credentials) error
}

type client struct{}

func New() Client { return &client{} }

func htmlBody(plain, trackingURL string) string {
	html := strings.ReplaceAll(plain, "\n", "<br>\n")
	if trackingURL != "" {
		html += fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none"/>`, trackingURL)
	}
	return html
}

func (c *client) SendSMTP(ctx context.Context, creds Credentials, msg Message) (string, error) {
	m := gomail.NewMessage()
	from := msg.From
	if msg.FromName != "" {
		from = m.FormatAddress(msg.From, msg.FromName)
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(msg.From))

	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	if msg.InReplyTo != "" {
		m.SetHeader("In-Reply-To", msg.InReplyTo)
	}
	if msg.References != "" {
		m.SetHeader("References", msg.References)
	}
	m.SetBody("text/plain", msg.PlainBody)
	m.AddAlternative("text/html", htmlBody(msg.PlainBody, msg.TrackingURL))

	dialer := gomail.NewDialer(creds.SMTPHost, creds.SMTPPort, creds.Username, creds.Password)
	dialer.LocalName = "localhost"
	dialer.TLSConfig = &tls.Config{ServerName: creds.SMTPHost}
	if creds.SMTPTLS == models.TLSModeNone {
		dialer.TLSConfig.InsecureSkipVerify = true
	}

	deadline := 30 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		done := make(chan error, 1)
		go func() { done <- dialer.DialAndSend(m) }()

		select {
		case err := <-done:
			if err == nil {
				return messageID, nil
			}
			lastErr = err
			logrus.WithFields(logrus.Fields{"to": msg.To, "host": creds.SMTPHost, "attempt": attempt}).WithError(err).Warn("smtp send failed")
			if !isTemporary(err) || attempt == maxAttempts {
				return "", apperrors.Wrap(apperrors.TransportFailure, "smtp send", err)
			}
			time.Sleep(time.Duration(attempt*attempt) * time.Second)
		case <-time.After(deadline):
			return "", apperrors.New(apperrors.TransportFailure, "smtp send timed out")
		case <-ctx.Done():
			return "", apperrors.Wrap(apperrors.TransportFailure, "smtp send canceled", ctx.Err())
		}
	}
	return "", apperrors.Wrap(apperrors.TransportFailure, "smtp send", lastErr)
}

func domainOf(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return "localhost"
}

func (c *client) dialIMAP(creds Credentials) (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", creds.IMAPHost, creds.IMAPPort)

	var cl *imapclient.Client
	var err error
	switch creds.IMAPSSL {
	case models.TLSModeSSL:
		cl, err = imapclient.DialTLS(addr, &tls.Config{ServerName: creds.IMAPHost})
	case models.TLSModeStartTLS:
		cl, err = imapclient.Dial(addr)
		if err == nil {
			err = cl.StartTLS(&tls.Config{ServerName: creds.IMAPHost})
		}
	default:
		cl, err = imapclient.Dial(addr)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TransportFailure, "imap dial", err)
	}

	if err := cl.Login(creds.Username, creds.Password); err != nil {
		cl.Logout()
		return nil, apperrors.Wrap(apperrors.TransportFailure, "imap login", err)
	}
	if _, err := cl.Select("INBOX", false); err != nil {
		cl.Logout()
		return nil, apperrors.Wrap(apperrors.TransportFailure, "imap select", err)
	}
	return cl, nil
}

// FetchUnreadIMAP fetches up to limit unread messages using BODY.PEEK[] so
// the fetch itself never sets \Seen on a message the caller hasn't fully
// handled yet.
func (c *client) FetchUnreadIMAP(ctx context.Context, creds Credentials, limit int) ([]InboundMessage, error) {
	cl, err := c.dialIMAP(creds)
	if err != nil {
		return nil, err
	}
	defer cl.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := cl.Search(criteria)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TransportFailure, "imap search", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > limit {
		uids = uids[:limit]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	done := make(chan error, 1)
	go func() { done <- cl.Fetch(seqset, items, messages) }()

	var out []InboundMessage
	for msg := range messages {
		im := InboundMessage{UID: msg.Uid}
		if msg.Envelope != nil {
			im.Subject = msg.Envelope.Subject
			im.MessageID = msg.Envelope.MessageId
			im.Date = msg.Envelope.Date
			if len(msg.Envelope.From) > 0 {
				im.From = formatAddress(msg.Envelope.From[0])
			}
		}
		im.TextBody = extractTextBody(msg, section)
		out = append(out, im)
	}
	if err := <-done; err != nil {
		return nil, apperrors.Wrap(apperrors.TransportFailure, "imap fetch", err)
	}
	return out, nil
}

func formatAddress(addr *imap.Address) string {
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName)
	}
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}

func extractTextBody(msg *imap.Message, section *imap.BodySectionName) string {
	r := msg.GetBody(section)
	if r == nil {
		return ""
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		if h, ok := part.Header.(*mail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			if strings.HasPrefix(ct, "text/plain") {
				buf := make([]byte, 64*1024)
				n, _ := part.Body.Read(buf)
				sb.Write(buf[:n])
			}
		}
	}
	return sb.String()
}

// FlagSeenIMAP marks the given UIDs \Seen. Used by the Bounce Detector's
// idempotent processed-marking and by the Conversation Engine to mark
// messages seen once they have been handled.
func (c *client) FlagSeenIMAP(ctx context.Context, creds Credentials, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	cl, err := c.dialIMAP(creds)
	if err != nil {
		return err
	}
	defer cl.Logout()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}
	if err := cl.UidStore(seqset, item, flags, nil); err != nil {
		return apperrors.Wrap(apperrors.TransportFailure, "imap store flags", err)
	}
	return nil
}

// TestCredentials probes both legs without sending mail.
func (c *client) TestCredentials(ctx context.Context, creds Credentials) error {
	if creds.SMTPHost != "" {
		dialer := gomail.NewDialer(creds.SMTPHost, creds.SMTPPort, creds.Username, creds.Password)
		dialer.TLSConfig = &tls.Config{ServerName: creds.SMTPHost}
		sender, err := dialer.Dial()
		if err != nil {
			return apperrors.Wrap(apperrors.TransportFailure, "smtp credential probe", err)
		}
		sender.Close()
	}

	if creds.IMAPHost != "" {
		cl, err := c.dialIMAP(creds)
		if err != nil {
			return err
		}
		cl.Logout()
	}
	return nil
}

// isTemporary reports whether err looks like a transient SMTP/network
// failure worth retrying.
func isTemporary(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"try again", "temporary", "421", "450", "451", "452"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if ok {
		*target = ne
	}
	return ok
}
