package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNote(t *testing.T) {
	note := NewNote("Groceries", "milk, eggs")

	assert.Equal(t, int64(0), note.ID)
	assert.Equal(t, "Groceries", note.Title)
	assert.Equal(t, "milk, eggs", note.Body)
}

func TestNote_Validate(t *testing.T) {
	tests := []struct {
		name    string
		note    *Note
		wantErr error
	}{
		{
			name: "valid note",
			note: &Note{Title: "Groceries"},
		},
		{
			name:    "nil note",
			note:    nil,
			wantErr: ErrNilEntity,
		},
		{
			name:    "missing title",
			note:    &Note{Body: "orphan body"},
			wantErr: ErrMissingRequiredField,
		},
		{
			name:    "title too long",
			note:    &Note{Title: strings.Repeat("x", MaxNoteTitleLength+1)},
			wantErr: ErrFieldTooLong,
		},
		{
			name: "multibyte title at the limit",
			note: &Note{Title: strings.Repeat("é", MaxNoteTitleLength)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.note.Validate()
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, HasCode(err, ErrCodeValidation))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	cause := errors.New("driver: connection reset")
	err := ErrEntityNotTracked.WithCause(cause)

	assert.ErrorIs(t, err, ErrEntityNotTracked)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEntityNotPersisted)

	wrapped := fmt.Errorf("tracking: delete: %w", err)
	assert.ErrorIs(t, wrapped, ErrEntityNotTracked)
	assert.True(t, HasCode(wrapped, ErrCodeInvalidOperation))
	assert.False(t, HasCode(wrapped, ErrCodeDisposed))
	assert.False(t, HasCode(cause, ErrCodeInvalidOperation))
}

func TestDomainError_Error(t *testing.T) {
	assert.Equal(t, "[DISPOSED] transaction has been disposed", ErrTransactionDisposed.Error())

	err := NewDomainErrorWithCause(ErrCodeInternalError, "flush failed", errors.New("disk full"))
	assert.Equal(t, "[INTERNAL_ERROR] flush failed: disk full", err.Error())
}

func TestIsolationLevel_String(t *testing.T) {
	assert.Equal(t, "read_committed", IsolationReadCommitted.String())
	assert.Equal(t, "chaos", IsolationChaos.String())
	assert.Equal(t, "isolation(42)", IsolationLevel(42).String())
	assert.False(t, IsolationLevel(42).IsValid())
	assert.True(t, IsolationSnapshot.IsValid())
}

func TestParseIsolationLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    IsolationLevel
		wantErr bool
	}{
		{input: "", want: IsolationUnspecified},
		{input: "serializable", want: IsolationSerializable},
		{input: "Read-Committed", want: IsolationReadCommitted},
		{input: "repeatable read", want: IsolationRepeatableRead},
		{input: " SNAPSHOT ", want: IsolationSnapshot},
		{input: "read_uncommitted", want: IsolationReadUncommitted},
		{input: "chaos", want: IsolationChaos},
		{input: "linearizable", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseIsolationLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnsupportedIsolation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
