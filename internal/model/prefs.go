package model

import "time"

type Category struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

type FilterField string

const (
	FieldSender  FilterField = "sender"
	FieldSubject FilterField = "subject"
	FieldContent FilterField = "content"
	FieldDate    FilterField = "date"
)

type FilterOperator string

const (
	OpContains   FilterOperator = "contains"
	OpEquals     FilterOperator = "equals"
	OpStartsWith FilterOperator = "startsWith"
	OpEndsWith   FilterOperator = "endsWith"
	OpBefore     FilterOperator = "before"
	OpAfter      FilterOperator = "after"
)

type FilterAction string

const (
	ActionArchive    FilterAction = "archive"
	ActionCategorize FilterAction = "categorize"
	ActionMarkRead   FilterAction = "mark-read"
)

type FilterCondition struct {
	Field    FilterField    `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    string         `json:"value"`
}

// Filter is a user rule: when every condition matches, Action is applied.
type Filter struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Conditions  []FilterCondition `json:"conditions"`
	Action      FilterAction      `json:"action"`
	ActionValue string            `json:"actionValue,omitempty"`
	Enabled     bool              `json:"enabled"`
}

type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Account is a remote mailbox the user has logged into. The bearer token
// is kept in the system keyring, not here.
type Account struct {
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	LastActive time.Time `json:"lastActive"`
}
