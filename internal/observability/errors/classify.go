// Package errors normalizes errors into low-cardinality labels for metrics and logs.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
)

// Classify returns a label for err. AppErrors use their code and context errors become
// "timeout" or "canceled". Anything else is named after its innermost concrete type,
// e.g. *net.OpError becomes "net_operror".
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case apperrors.GetCode(err) != "":
		return string(apperrors.GetCode(err))
	case goerrors.Is(err, context.DeadlineExceeded):
		return string(apperrors.ErrCodeTimeout)
	case goerrors.Is(err, context.Canceled):
		return string(apperrors.ErrCodeCanceled)
	}
	return typeLabel(innermost(err))
}

func innermost(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func typeLabel(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.String() == "" {
		return "unknown"
	}
	return strings.ReplaceAll(strings.ToLower(t.String()), ".", "_")
}
