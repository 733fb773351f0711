// Command mailstash-send delivers a batch of test messages to the SMTP
// intake and reports how many messages the local store holds afterwards.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

type localPage struct {
	Total int `json:"total"`
}

func main() {
	baseURL := flag.String("url", getenvDefault("MAILSTASH_URL", "http://localhost:3025"), "HTTP address of mailstash")
	smtpAddr := flag.String("smtp", getenvDefault("MAILSTASH_SMTP", "localhost:2025"), "SMTP intake address")
	count := flag.Int("n", 10, "number of messages to send")
	from := flag.String("from", "sender@mailstash.dev", "envelope sender")
	to := flag.String("to", "receiver@mailstash.dev", "comma separated recipients")
	flag.Parse()

	var auth sasl.Client
	username, password := os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD")
	if username != "" || password != "" {
		auth = sasl.NewPlainClient("", username, password)
	}

	recipients := strings.Split(*to, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}

	sent := 0
	for i := 1; i <= *count; i++ {
		subject := fmt.Sprintf("Mailstash test #%d", i)
		msg := buildTestMessage(*from, recipients, subject)
		if err := smtp.SendMail(*smtpAddr, auth, *from, recipients, bytes.NewReader(msg)); err != nil {
			fmt.Fprintln(os.Stderr, "smtp error:", err)
			continue
		}
		sent++
	}
	fmt.Printf("sent %d of %d messages\n", sent, *count)

	total, err := localTotal(*baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list local messages:", err)
		os.Exit(1)
	}
	fmt.Printf("local store holds %d messages\n", total)
}

func buildTestMessage(from string, to []string, subject string) []byte {
	boundary := "mailstash-" + uuid.NewString()
	text := "Hello!\n\nThis is a mailstash intake test.\n\nRecipients: " + strings.Join(to, ", ") + "\n"
	html := "<html><body><h2>Mailstash intake test</h2><p>Please confirm this <strong>verification</strong> message.</p></body></html>"
	lines := []string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"Date: " + time.Now().Format(time.RFC1123Z),
		"Message-ID: <" + uuid.NewString() + "@mailstash.dev>",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + boundary,
		"",
		"--" + boundary,
		"Content-Type: text/plain; charset=utf-8",
		"",
		text,
		"--" + boundary,
		"Content-Type: text/html; charset=utf-8",
		"",
		html,
		"--" + boundary + "--",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func localTotal(baseURL string) (int, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/api/local?limit=1")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var page localPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return 0, err
	}
	return page.Total, nil
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
