package llm

import (
	"errors"

	"github.com/xhad/cyberrag/internal/models"
)

// Result is either an answer or a classified failure, never both.
type Result struct {
	text string
	err  *models.Error
}

func Ok(text string) Result {
	return Result{text: text}
}

// Fail builds an error result whose detail is shown to the user as-is.
func Fail(kind models.Kind, detail string) Result {
	return Result{err: models.NewError(kind, "", errors.New(detail))}
}

// FailWith classifies err, keeping an existing Kind when err already has one.
func FailWith(kind models.Kind, err error) Result {
	var e *models.Error
	if errors.As(err, &e) {
		return Result{err: e}
	}
	return Result{err: models.NewError(kind, "", err)}
}

func (r Result) OK() bool { return r.err == nil }

// Text is the answer, or "" for a failed result.
func (r Result) Text() string { return r.text }

func (r Result) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

func (r Result) Kind() models.Kind {
	if r.err == nil {
		return models.KindUnknown
	}
	return r.err.Kind
}

// String renders the result for display; failures get an "Error: " prefix.
func (r Result) String() string {
	if r.err != nil {
		return "Error: " + r.err.Error()
	}
	return r.text
}
