package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
)

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: ftp", domain.ErrInvalidURL), domain.KindInvalidURL},
		{fmt.Errorf("fetch: %w", fmt.Errorf("%w: 10.0.0.1", domain.ErrBlockedTarget)), domain.KindBlockedTarget},
		{fmt.Errorf("%w: 503", domain.ErrHTTPStatus), domain.KindHTTPStatus},
		{context.Canceled, domain.KindCancelled},
		{fmt.Errorf("dial: %w", context.DeadlineExceeded), domain.KindNetwork},
		{errors.New("boom"), domain.KindUnknown},
	}
	for _, tt := range tests {
		if got := domain.ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
