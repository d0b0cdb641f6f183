package domain

import (
	"fmt"
	"unicode/utf8"
)

// MaxNoteTitleLength is the longest title, in runes, a note may carry.
const MaxNoteTitleLength = 200

// Note is the sample entity served by every adapter.
type Note struct {
	ID    int64  `db:"id" json:"id"`
	Title string `db:"title" json:"title"`
	Body  string `db:"body" json:"body"`
}

// NewNote creates a new, not yet persisted Note
func NewNote(title, body string) *Note {
	return &Note{
		Title: title,
		Body:  body,
	}
}

// Validate validates a Note instance
func (n *Note) Validate() error {
	if n == nil {
		return ErrNilEntity
	}

	if n.Title == "" {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrMissingRequiredField.Message,
			fmt.Errorf("note title is required"))
	}

	if utf8.RuneCountInString(n.Title) > MaxNoteTitleLength {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrFieldTooLong.Message,
			fmt.Errorf("note title exceeds %d characters", MaxNoteTitleLength))
	}

	return nil
}
