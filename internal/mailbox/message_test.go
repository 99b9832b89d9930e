package mailbox

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-triage/internal/model"
)

const multipartMessage = "From: Ann <ann@example.com>\r\n" +
	"Subject: Lunch\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Lunch on Tuesday?\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Lunch on <b>Tuesday</b>?</p>\r\n" +
	"--b1--\r\n"

func TestParseMIMEBody(t *testing.T) {
	text, html := parseMIMEBody([]byte(multipartMessage))
	assert.Equal(t, "Lunch on Tuesday?", strings.TrimSpace(text))
	assert.Contains(t, html, "<b>Tuesday</b>")
}

func TestParseMIMEBody_SinglePart(t *testing.T) {
	raw := "From: bob@example.com\r\nContent-Type: text/plain\r\n\r\nHello there\r\n"
	text, html := parseMIMEBody([]byte(raw))
	assert.Equal(t, "Hello there", strings.TrimSpace(text))
	assert.Empty(t, html)
}

func TestStripHTML(t *testing.T) {
	in := "<html><style>p{color:red}</style><p>Hi&nbsp;Ann,</p><p></p><p></p><p>See you &amp; Bob</p></html>"
	assert.Equal(t, "Hi Ann,\n\nSee you & Bob", stripHTML(in))
	assert.Empty(t, stripHTML(""))
}

func TestMessage_Body(t *testing.T) {
	assert.Equal(t, "plain", Message{TextBody: " plain \n", HTMLBody: "<p>html</p>"}.Body())
	assert.Equal(t, "html", Message{TextBody: "  ", HTMLBody: "<p>html</p>"}.Body())
}

func TestMessage_EmailID(t *testing.T) {
	a := Message{MessageID: "<abc@example.com>"}
	b := Message{MessageID: "<abc@example.com>", Subject: "different"}
	c := Message{MessageID: "<xyz@example.com>"}

	assert.Equal(t, a.EmailID(), b.EmailID())
	assert.NotEqual(t, a.EmailID(), c.EmailID())

	_, err := uuid.Parse(a.EmailID())
	require.NoError(t, err)

	date := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	d := Message{From: "ann@example.com", Subject: "Hi", Date: date}
	e := Message{From: "ann@example.com", Subject: "Hi", Date: date.Add(time.Minute)}
	assert.NotEqual(t, d.EmailID(), e.EmailID())
}

func TestMessage_Email(t *testing.T) {
	date := time.Date(2025, 3, 4, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	m := Message{
		MessageID: "<abc@example.com>",
		From:      formatAddress("Ann", "ann@example.com"),
		Subject:   "Lunch",
		Date:      date,
		HTMLBody:  "<p>Lunch?</p>",
	}

	e := m.Email()
	assert.Equal(t, m.EmailID(), e.ID)
	assert.Equal(t, "Ann <ann@example.com>", e.Sender)
	assert.Equal(t, "Lunch?", e.Body)
	assert.Equal(t, model.StatusNew, e.Status)
	assert.Equal(t, time.UTC, e.ReceivedAt.Location())
	assert.True(t, date.Equal(e.ReceivedAt))
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "ann@example.com", formatAddress("", "ann@example.com"))
	assert.Equal(t, "Ann", formatAddress("Ann", ""))
	assert.Equal(t, "Ann <ann@example.com>", formatAddress("Ann", "ann@example.com"))
}
