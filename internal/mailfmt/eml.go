// Package mailfmt converts stored messages to and from mail text formats.
package mailfmt

import (
	"fmt"
	"io"
	"mime"
	netmail "net/mail"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/encoding/ianaindex"

	"github.io/infrasutra/mailstash/internal/model"
)

const crlf = "\r\n"

var (
	lineSplit   = regexp.MustCompile(`\r?\n`)
	headerLine  = regexp.MustCompile(`^([\w-]+):\s*(.*)$`)
	toSplit     = regexp.MustCompile(`,\s*`)
	wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

	// Now is used for messages that carry no usable Date header.
	Now = time.Now
)

// ExportEML renders msg as a minimal RFC 822 style document whose body is
// the message intro.
func ExportEML(msg model.StoredMessage) string {
	lines := append(headerBlock(msg),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		msg.Intro,
	)
	return strings.Join(lines, crlf)
}

// ImportEML reads the headers and body of an EML document. It never fails:
// unrecognised lines are skipped and missing fields keep their zero value,
// except the date which falls back to the current time.
func ImportEML(text string) model.StoredMessage {
	headers := map[string]string{}
	var body []string
	inBody := false
	for _, line := range lineSplit.Split(text, -1) {
		if !inBody && line == "" {
			inBody = true
			continue
		}
		if inBody {
			body = append(body, line)
			continue
		}
		if match := headerLine.FindStringSubmatch(line); match != nil {
			headers[strings.ToLower(match[1])] = match[2]
		}
	}

	msg := model.NewStoredMessage(model.Message{
		From:    model.Address{Address: headers["from"]},
		To:      []model.Address{},
		Subject: decodeHeader(headers["subject"]),
		Intro:   strings.Join(body, "\n"),
	})
	if to, ok := headers["to"]; ok {
		for _, addr := range toSplit.Split(to, -1) {
			if addr = strings.TrimSpace(addr); addr != "" {
				msg.To = append(msg.To, model.Address{Address: addr})
			}
		}
	}
	msg.CreatedAt = parseDate(headers["date"])
	msg.UpdatedAt = msg.CreatedAt
	return msg
}

func headerBlock(msg model.StoredMessage) []string {
	return []string{
		"From: " + msg.From.Address,
		"To: " + strings.Join(msg.Addresses(), ", "),
		"Subject: " + msg.Subject,
		"Date: " + formatDate(msg.CreatedAt),
	}
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseDate accepts the RFC 3339 dates this package writes as well as RFC
// 5322 dates from real mail.
func parseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC()
	}
	if t, err := netmail.ParseDate(value); err == nil {
		return t.UTC()
	}
	return Now().UTC()
}

// decodeHeader resolves RFC 2047 encoded words. Values that cannot be
// decoded are returned unchanged.
func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(input), nil
}
