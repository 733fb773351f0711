package mailfmt

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.io/infrasutra/mailstash/internal/model"
)

// IntroLength is the most characters of body text kept as a message intro.
const IntroLength = 200

var (
	htmlTag    = regexp.MustCompile(`(?s)<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// ParseRaw builds a message from a complete RFC 5322 document. When the
// document is malformed the fields read so far are returned with the error.
func ParseRaw(r io.Reader) (model.StoredMessage, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return model.StoredMessage{}, err
	}
	now := Now().UTC()
	msg := model.NewStoredMessage(model.Message{
		ID:        uuid.NewString(),
		To:        []model.Address{},
		Size:      int64(len(raw)),
		CreatedAt: now,
		UpdatedAt: now,
	})

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return msg, err
	}

	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if id, err := reader.Header.MessageID(); err == nil {
		msg.MsgID = id
	}
	if date, err := reader.Header.Date(); err == nil && !date.IsZero() {
		msg.CreatedAt = date.UTC()
		msg.UpdatedAt = msg.CreatedAt
	}
	if list, err := reader.Header.AddressList("From"); err == nil && len(list) > 0 {
		msg.From = model.Address{Address: normalizeEmail(list[0].Address), Name: list[0].Name}
	}
	for _, key := range []string{"To", "Cc"} {
		list, err := reader.Header.AddressList(key)
		if err != nil {
			continue
		}
		for _, addr := range list {
			msg.To = append(msg.To, model.Address{Address: normalizeEmail(addr.Address), Name: addr.Name})
		}
	}

	var text, html string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			msg.Intro = intro(text, html)
			return msg, err
		}
		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
				if text == "" {
					text = string(body)
				}
			case strings.HasPrefix(mediaType, "text/html"):
				if html == "" {
					html = string(body)
				}
			}
		case *mail.AttachmentHeader:
			msg.HasAttachments = true
		}
	}
	msg.Intro = intro(text, html)
	return msg, nil
}

func intro(text, html string) string {
	if strings.TrimSpace(text) == "" {
		text = htmlTag.ReplaceAllString(html, " ")
	}
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if utf8.RuneCountInString(text) <= IntroLength {
		return text
	}
	return string([]rune(text)[:IntroLength])
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
