package memory

import "github.com/xhad/cyberrag/internal/models"

// Buffer keeps the most recent user and assistant turns, oldest first.
type Buffer struct {
	maxLength int
	messages  []models.Message
}

func New(maxLength int) (*Buffer, error) {
	if maxLength < 1 {
		return nil, models.Errorf(models.KindInvalidInput, "new buffer", "max length must be positive, got %d", maxLength)
	}
	return &Buffer{maxLength: maxLength}, nil
}

// Append adds a turn and drops the oldest turns beyond capacity.
func (b *Buffer) Append(role models.Role, content string) error {
	if role != models.RoleUser && role != models.RoleAssistant {
		return models.Errorf(models.KindInvalidRole, "append", "role must be user or assistant, got %q", role)
	}

	b.messages = append(b.messages, models.Message{Role: role, Content: content})
	if excess := len(b.messages) - b.maxLength; excess > 0 {
		b.messages = append(b.messages[:0:0], b.messages[excess:]...)
	}
	return nil
}

// Snapshot returns a copy the caller may modify freely.
func (b *Buffer) Snapshot() []models.Message {
	out := make([]models.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *Buffer) Clear() {
	b.messages = nil
}

func (b *Buffer) Len() int { return len(b.messages) }

func (b *Buffer) MaxLength() int { return b.maxLength }
