package model

import "time"

type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Message is a message as the remote mail service describes it.
type Message struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"accountId,omitempty"`
	MsgID          string    `json:"msgid,omitempty"`
	From           Address   `json:"from"`
	To             []Address `json:"to"`
	Subject        string    `json:"subject"`
	Intro          string    `json:"intro"`
	Seen           bool      `json:"seen"`
	IsDeleted      bool      `json:"isDeleted"`
	HasAttachments bool      `json:"hasAttachments"`
	Size           int64     `json:"size"`
	DownloadURL    string    `json:"downloadUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// StoredMessage is a local copy of a Message with client-only state.
type StoredMessage struct {
	Message
	CategoryIDs []string `json:"categoryIds"`
	Archived    bool     `json:"archived"`
}

func NewStoredMessage(msg Message) StoredMessage {
	return StoredMessage{Message: msg, CategoryIDs: []string{}}
}

// Addresses returns the bare recipient addresses.
func (m Message) Addresses() []string {
	result := make([]string, 0, len(m.To))
	for _, to := range m.To {
		result = append(result, to.Address)
	}
	return result
}
