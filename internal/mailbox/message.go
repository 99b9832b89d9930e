package mailbox

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/nhle/mail-triage/internal/model"
)

// Message is one fetched mail.
type Message struct {
	UID       uint32
	MessageID string
	From      string
	Subject   string
	Date      time.Time
	TextBody  string
	HTMLBody  string
}

// Body returns the plain text body, falling back to the HTML part with
// markup removed.
func (m Message) Body() string {
	if strings.TrimSpace(m.TextBody) != "" {
		return strings.TrimSpace(m.TextBody)
	}
	return stripHTML(m.HTMLBody)
}

// EmailID derives a stable id so polling the same message twice never
// creates a second record. Messages without a Message-ID fall back to
// their sender, subject and date.
func (m Message) EmailID() string {
	key := strings.TrimSpace(m.MessageID)
	if key == "" {
		key = m.From + "\x00" + m.Subject + "\x00" + m.Date.UTC().Format(time.RFC3339Nano)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailtriage:"+key)).String()
}

// Email converts the message into a New email.
func (m Message) Email() model.Email {
	received := m.Date
	if received.IsZero() {
		received = time.Now()
	}
	return model.Email{
		ID:         m.EmailID(),
		Sender:     m.From,
		Subject:    m.Subject,
		Body:       m.Body(),
		ReceivedAt: received.UTC(),
		Status:     model.StatusNew,
	}
}

func formatAddress(name, addr string) string {
	switch {
	case name == "":
		return addr
	case addr == "":
		return name
	}
	return name + " <" + addr + ">"
}

// parseMIMEBody extracts the text/plain and text/html parts of a raw
// RFC 5322 message. Attachments are skipped.
func parseMIMEBody(raw []byte) (textBody, htmlBody string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}
	return textBody, htmlBody
}

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	htmlBlockPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	blankRunPattern  = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// stripHTML removes HTML tags and decodes common entities.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := htmlBlockPattern.ReplaceAllString(html, "")
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>", "</tr>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}
	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)
	result = blankRunPattern.ReplaceAllString(result, "\n\n")

	return strings.TrimSpace(result)
}
