// Package rules holds the client-side message rules: keyword categories,
// user filters and auto-archiving.
package rules

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.io/infrasutra/mailstash/internal/model"
)

var ErrInvalidFilter = errors.New("invalid filter")

const dateOnly = "2006-01-02"

// MatchKeyword reports whether keyword occurs, ignoring case, in the subject
// or intro of msg. An empty keyword matches everything.
func MatchKeyword(msg model.Message, keyword string) bool {
	keyword = strings.ToLower(keyword)
	return strings.Contains(strings.ToLower(msg.Subject), keyword) ||
		strings.Contains(strings.ToLower(msg.Intro), keyword)
}

// Categorize returns the ids of the categories with a keyword found in msg.
func Categorize(msg model.Message, categories []model.Category) []string {
	ids := []string{}
	for _, category := range categories {
		for _, keyword := range category.Keywords {
			if strings.TrimSpace(keyword) == "" {
				continue
			}
			if MatchKeyword(msg, keyword) {
				ids = append(ids, category.ID)
				break
			}
		}
	}
	return ids
}

func Validate(filter model.Filter) error {
	if strings.TrimSpace(filter.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFilter)
	}
	for _, cond := range filter.Conditions {
		switch cond.Field {
		case model.FieldSender, model.FieldSubject, model.FieldContent:
			switch cond.Operator {
			case model.OpContains, model.OpEquals, model.OpStartsWith, model.OpEndsWith:
			case model.OpBefore, model.OpAfter:
				return fmt.Errorf("%w: %s only applies to date", ErrInvalidFilter, cond.Operator)
			default:
				return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, cond.Operator)
			}
		case model.FieldDate:
			switch cond.Operator {
			case model.OpBefore, model.OpAfter, model.OpEquals:
			default:
				return fmt.Errorf("%w: date does not support %q", ErrInvalidFilter, cond.Operator)
			}
			if _, err := parseDate(cond.Value); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
			}
		default:
			return fmt.Errorf("%w: unknown field %q", ErrInvalidFilter, cond.Field)
		}
	}
	switch filter.Action {
	case model.ActionArchive, model.ActionMarkRead:
	case model.ActionCategorize:
		if strings.TrimSpace(filter.ActionValue) == "" {
			return fmt.Errorf("%w: categorize needs a category id", ErrInvalidFilter)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidFilter, filter.Action)
	}
	return nil
}

// Matches reports whether every condition of filter holds for msg. A filter
// without conditions matches nothing.
func Matches(filter model.Filter, msg model.StoredMessage) bool {
	if len(filter.Conditions) == 0 {
		return false
	}
	for _, cond := range filter.Conditions {
		if !matchCondition(cond, msg) {
			return false
		}
	}
	return true
}

// Apply runs the enabled filters that match msg, in order, and returns the
// updated message with the ids of the filters that fired.
func Apply(msg model.StoredMessage, filters []model.Filter) (model.StoredMessage, []string) {
	applied := []string{}
	msg.CategoryIDs = slices.Clone(msg.CategoryIDs)
	if msg.CategoryIDs == nil {
		msg.CategoryIDs = []string{}
	}
	for _, filter := range filters {
		if !filter.Enabled || !Matches(filter, msg) {
			continue
		}
		switch filter.Action {
		case model.ActionArchive:
			msg.Archived = true
		case model.ActionMarkRead:
			msg.Seen = true
		case model.ActionCategorize:
			if filter.ActionValue != "" && !slices.Contains(msg.CategoryIDs, filter.ActionValue) {
				msg.CategoryIDs = append(msg.CategoryIDs, filter.ActionValue)
			}
		default:
			continue
		}
		applied = append(applied, filter.ID)
	}
	return msg, applied
}

// AutoArchive archives the messages created more than days before now and
// returns how many changed. days below 1 count as 1.
func AutoArchive(messages []model.StoredMessage, days int, now time.Time) int {
	if days < 1 {
		days = 1
	}
	cutoff := now.AddDate(0, 0, -days)
	changed := 0
	for i := range messages {
		if messages[i].Archived || !messages[i].CreatedAt.Before(cutoff) {
			continue
		}
		messages[i].Archived = true
		changed++
	}
	return changed
}

func matchCondition(cond model.FilterCondition, msg model.StoredMessage) bool {
	if cond.Field == model.FieldDate {
		return matchDate(cond, msg.CreatedAt)
	}
	var subject string
	switch cond.Field {
	case model.FieldSender:
		subject = msg.From.Address
	case model.FieldSubject:
		subject = msg.Subject
	case model.FieldContent:
		subject = msg.Intro
	default:
		return false
	}
	subject = strings.ToLower(subject)
	value := strings.ToLower(cond.Value)
	switch cond.Operator {
	case model.OpContains:
		return strings.Contains(subject, value)
	case model.OpEquals:
		return subject == value
	case model.OpStartsWith:
		return strings.HasPrefix(subject, value)
	case model.OpEndsWith:
		return strings.HasSuffix(subject, value)
	}
	return false
}

func matchDate(cond model.FilterCondition, created time.Time) bool {
	value, err := parseDate(cond.Value)
	if err != nil {
		return false
	}
	created = created.UTC()
	switch cond.Operator {
	case model.OpBefore:
		return created.Before(value)
	case model.OpAfter:
		return created.After(value)
	case model.OpEquals:
		return created.Format(dateOnly) == value.Format(dateOnly)
	}
	return false
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(dateOnly, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not YYYY-MM-DD or RFC 3339", value)
	}
	return t.UTC(), nil
}
