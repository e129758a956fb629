package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/catalogimport/internal/rows"
	"github.com/JonMunkholm/catalogimport/internal/staging"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"no data rows", ErrNoDataRows, "IMP001"},
		{"wrapped empty input", fmt.Errorf("count rows: %w", rows.ErrEmptyInput), "FILE005"},
		{"encoding", fmt.Errorf("%w (near byte 12)", rows.ErrInvalidEncoding), "FILE003"},
		{"unreadable", rows.ErrUnreadable, "FILE002"},
		{"too large", staging.ErrTooLarge, "FILE001"},
		{"busy", staging.ErrTooManyUploads, "UPL002"},
		{"deadline", fmt.Errorf("upsert batch of 5000: %w", context.DeadlineExceeded), "UPL005"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB004"},
		{"case insensitive", errors.New("ERROR: DEADLOCK detected (SQLSTATE 40P01)"), "DB007"},
		{"unknown", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err).Code; got != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	want := "The file has a header but no data rows (Code: IMP001). Add at least one product row below the header"
	if got := FormatUserError(ErrNoDataRows); got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil must not be user facing")
	}
	if !IsUserFacing(rows.ErrEmptyInput) {
		t.Error("empty input should be user facing")
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("unknown errors are not user facing")
	}
}

func TestIsPermanent(t *testing.T) {
	permanent := []error{
		rows.ErrEmptyInput,
		fmt.Errorf("count rows: %w", rows.ErrInvalidEncoding),
		ErrNoDataRows,
		staging.ErrNotFound,
	}
	for _, err := range permanent {
		if !IsPermanent(err) {
			t.Errorf("IsPermanent(%v) = false, want true", err)
		}
	}

	transient := []error{nil, context.Canceled, errors.New("connection reset by peer")}
	for _, err := range transient {
		if IsPermanent(err) {
			t.Errorf("IsPermanent(%v) = true, want false", err)
		}
	}
}
