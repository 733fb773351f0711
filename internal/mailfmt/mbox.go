package mailfmt

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-mbox"

	"github.io/infrasutra/mailstash/internal/model"
)

var (
	fromLine       = regexp.MustCompile(`(?m)^(>*From )`)
	quotedFromLine = regexp.MustCompile(`(?m)^>(>+From )`)
)

// ExportMBOX concatenates messages, in order, each behind a "From " envelope
// line.
func ExportMBOX(messages []model.StoredMessage) string {
	blocks := make([]string, 0, len(messages))
	for _, msg := range messages {
		var b strings.Builder
		fmt.Fprintf(&b, "From %s %s%s", msg.From.Address, formatDate(msg.CreatedAt), crlf)
		for _, line := range headerBlock(msg) {
			b.WriteString(line + crlf)
		}
		b.WriteString(crlf)
		b.WriteString(quoteFrom(msg.Intro) + crlf)
		b.WriteString(crlf)
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, crlf)
}

// ImportMBOX reads every message of an mbox stream with ImportEML. The
// blank separator lines that follow each body are dropped.
func ImportMBOX(r io.Reader) ([]model.StoredMessage, error) {
	reader := mbox.NewReader(r)
	messages := []model.StoredMessage{}
	for {
		part, err := reader.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return messages, fmt.Errorf("read mbox: %w", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return messages, fmt.Errorf("read mbox message: %w", err)
		}
		msg := ImportEML(string(data))
		msg.Intro = unquoteFrom(strings.TrimRight(msg.Intro, "\r\n"))
		messages = append(messages, msg)
	}
	return messages, nil
}

// quoteFrom prefixes body lines that begin with any number of '>' followed
// by "From " with one more '>' (mboxrd), so they are not read as envelopes.
func quoteFrom(body string) string {
	return fromLine.ReplaceAllString(body, ">$1")
}

// unquoteFrom undoes quoteFrom for the lines the mbox reader leaves alone.
// The reader already strips the '>' from lines starting with ">From ".
func unquoteFrom(body string) string {
	return quotedFromLine.ReplaceAllString(body, "$1")
}
