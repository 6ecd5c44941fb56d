// Package compose renders the daily rewind email for one recipient, and the
// occasional announcement sent to everyone.
package compose

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/Sternrassler/rewind-dispatch/pkg/aggregator"
	"github.com/Sternrassler/rewind-dispatch/pkg/recipients"
)

// DefaultFeedbackURL is linked from every message.
const DefaultFeedbackURL = "https://tally.so/r/3X10Y4"

// Message is a rendered email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	// FromName overrides the transport's display name when set.
	FromName string `json:"from_name,omitempty"`
}

// Composer builds messages. It holds no per-run state.
type Composer struct {
	// BaseURL of the public site, used for the preferences and unsubscribe links.
	BaseURL           string
	FeedbackURL       string
	UnsubscribeSecret string
}

type recordView struct {
	Offset  int
	Plural  bool
	Date    string
	URL     string
	Title   string
	Authors string
	Topic   string
}

var dailyTemplate = template.Must(template.New("daily").Parse(
	`Hi {{.Name}},<br><br>Here's your research rewind for today.<br><br>` +
		`{{range .Records}}<b>{{.Offset}} year{{if .Plural}}s{{end}} ago ({{.Date}}):</b> ` +
		`<a href="{{.URL}}" target="_blank" rel="noopener noreferrer">{{.Title}}</a>{{if .Authors}} - {{.Authors}}{{end}} ` +
		`<br>(Topic: {{.Topic}})<br><br>{{end}}` +
		`Edit your preferences anytime by <a href="{{.BaseURL}}" target="_blank" rel="noopener noreferrer">re-signing up</a> with the same email address.<br>` +
		`<a href="{{.FeedbackURL}}" target="_blank" rel="noopener noreferrer">Feedback?</a> <br> ` +
		`<a href="{{.UnsubscribeURL}}" target="_blank" rel="noopener noreferrer">Unsubscribe</a>`))

var confirmationTemplate = template.Must(template.New("confirm").Parse(
	`Hi {{.Name}}, <br><br>Thanks for signing up for Research Rewind! You'll start receiving papers daily at 6am ET.<br><br>` +
		`Edit your preferences anytime by <a href="{{.BaseURL}}" target="_blank" rel="noopener noreferrer">re-signing up</a> with the same email address.<br>` +
		`<a href="{{.FeedbackURL}}" target="_blank" rel="noopener noreferrer">Feedback?</a><br>` +
		`<a href="{{.UnsubscribeURL}}" target="_blank" rel="noopener noreferrer">Unsubscribe</a>`))

var announcementFooter = template.Must(template.New("footer").Parse(
	`{{if or .EditPrefs .Unsubscribe}}<br><br>{{end}}` +
		`{{if .EditPrefs}}Edit your preferences anytime by <a href="{{.BaseURL}}" target="_blank" rel="noopener noreferrer">re-signing up</a> with the same email address.{{end}}` +
		`{{if and .EditPrefs .Unsubscribe}}<br>{{end}}` +
		`{{if .Unsubscribe}}<a href="{{.UnsubscribeURL}}" target="_blank" rel="noopener noreferrer">Unsubscribe</a>{{end}}`))

// Announcement is a one-off message sent outside the daily schedule.
type Announcement struct {
	Subject string
	// HTMLBody is operator markup and is not escaped. The placeholders
	// {name} and {email} are replaced with the recipient's escaped values.
	HTMLBody           string
	IncludeEditPrefs   bool
	IncludeUnsubscribe bool
	FromName           string
}

type footerView struct {
	pageView
	EditPrefs   bool
	Unsubscribe bool
}

type pageView struct {
	Name           string
	Records        []recordView
	BaseURL        string
	FeedbackURL    string
	UnsubscribeURL string
}

// Compose renders the daily message for r. All upstream text is escaped.
func (c Composer) Compose(workday string, r recipients.Recipient, records []aggregator.Record) (Message, error) {
	view := c.page(r)
	for _, rec := range records {
		view.Records = append(view.Records, recordView{
			Offset:  rec.Offset,
			Plural:  rec.Offset > 1,
			Date:    rec.Paper.PublicationDate,
			URL:     rec.Paper.URL,
			Title:   rec.Paper.Title,
			Authors: FormatAuthors(rec.Paper.Authors),
			Topic:   rec.Paper.Category,
		})
	}

	var buf bytes.Buffer
	if err := dailyTemplate.Execute(&buf, view); err != nil {
		return Message{}, fmt.Errorf("render message: %w", err)
	}
	return Message{
		To:      r.Email,
		Subject: "Research Rewind " + workday,
		HTML:    buf.String(),
	}, nil
}

// Confirmation renders the signup confirmation for r.
func (c Composer) Confirmation(r recipients.Recipient) (Message, error) {
	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, c.page(r)); err != nil {
		return Message{}, fmt.Errorf("render confirmation: %w", err)
	}
	return Message{
		To:      r.Email,
		Subject: "Research Rewind - Confirmation",
		HTML:    buf.String(),
	}, nil
}

// Announcement renders a for r, appending the requested footer links.
func (c Composer) Announcement(r recipients.Recipient, a Announcement) (Message, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = "there"
	}
	body := strings.NewReplacer(
		"{name}", template.HTMLEscapeString(name),
		"{email}", template.HTMLEscapeString(r.Email),
	).Replace(a.HTMLBody)

	var buf bytes.Buffer
	buf.WriteString(body)
	view := footerView{pageView: c.page(r), EditPrefs: a.IncludeEditPrefs, Unsubscribe: a.IncludeUnsubscribe}
	if err := announcementFooter.Execute(&buf, view); err != nil {
		return Message{}, fmt.Errorf("render announcement: %w", err)
	}
	return Message{
		To:       r.Email,
		Subject:  a.Subject,
		HTML:     buf.String(),
		FromName: a.FromName,
	}, nil
}

func (c Composer) page(r recipients.Recipient) pageView {
	feedback := c.FeedbackURL
	if feedback == "" {
		feedback = DefaultFeedbackURL
	}
	return pageView{
		Name:           r.Name,
		BaseURL:        c.BaseURL,
		FeedbackURL:    feedback,
		UnsubscribeURL: c.UnsubscribeURL(r.Email),
	}
}

// UnsubscribeURL returns the signed unsubscribe link for email.
func (c Composer) UnsubscribeURL(email string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", UnsubscribeToken(email, c.UnsubscribeSecret))
	return strings.TrimRight(c.BaseURL, "/") + "/api/unsubscribe?" + q.Encode()
}

// FormatAuthors joins up to three names; longer lists keep the first three
// and the last, with "..." between.
func FormatAuthors(authors []string) string {
	if len(authors) > 3 {
		return strings.Join(authors[:3], ", ") + ", ..., " + authors[len(authors)-1]
	}
	return strings.Join(authors, ", ")
}

// UnsubscribeToken is hex(sha256(email + secret)).
func UnsubscribeToken(email, secret string) string {
	sum := sha256.Sum256([]byte(email + secret))
	return hex.EncodeToString(sum[:])
}

// VerifyUnsubscribeToken checks token in constant time.
func VerifyUnsubscribeToken(email, token, secret string) bool {
	want := UnsubscribeToken(email, secret)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(token))) == 1
}
