package importer

// User-facing failure messages with support codes.
//
// Codes are grouped by prefix:
//
//	IMP - import content problems (no data rows)
//	FILE - upload file problems (size, encoding, format, empty)
//	UPL - submission problems (busy, missing staged upload, cancelled)
//	DB - catalog database problems (connectivity, deadlock, timeout)
//	CAT - catalog reads
//	ERR000 - fallback; check logs for the technical error
//
// Sentinel errors are matched first with errors.Is. Driver errors that carry
// no sentinel are matched by case-insensitive substring, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/rows"
	"github.com/JonMunkholm/catalogimport/internal/staging"
)

// UserMessage is what a poller or subscriber sees for a failed job.
type UserMessage struct {
	Message string
	Action  string
	Code    string
}

func (m UserMessage) String() string {
	return fmt.Sprintf("%s (Code: %s). %s", m.Message, m.Code, m.Action)
}

var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrNoDataRows, UserMessage{"The file has a header but no data rows", "Add at least one product row below the header", "IMP001"}},
	{rows.ErrEmptyInput, UserMessage{"The uploaded file is empty", "Upload a CSV or XLSX file with a header and data rows", "FILE005"}},
	{rows.ErrInvalidEncoding, UserMessage{"File contains invalid characters", "Save the file as UTF-8", "FILE003"}},
	{rows.ErrUnreadable, UserMessage{"File could not be read", "Check that the file is a valid CSV or XLSX document", "FILE002"}},
	{staging.ErrTooLarge, UserMessage{"File exceeds the maximum upload size", "Split the file into smaller files", "FILE001"}},
	{ErrNoFile, UserMessage{"No file was provided", "Attach the file in the \"file\" form field", "FILE004"}},
	{staging.ErrTooManyUploads, UserMessage{"System is busy processing other uploads", "Wait a moment and try again", "UPL002"}},
	{staging.ErrNotFound, UserMessage{"The uploaded file is no longer available", "Upload the file again", "UPL003"}},
	{catalog.ErrNotFound, UserMessage{"Product not found", "Check the SKU and try again", "CAT001"}},
	{context.Canceled, UserMessage{"Import was cancelled", "Upload the file again", "UPL004"}},
	{context.DeadlineExceeded, UserMessage{"Import timed out", "Try a smaller file or try again later", "UPL005"}},
}

var patternMessages = []struct {
	pattern string
	msg     UserMessage
}{
	{"connection refused", UserMessage{"Unable to connect to the catalog database", "Try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Catalog database connection was interrupted", "Try again", "DB005"}},
	{"deadlock", UserMessage{"Catalog database was busy with conflicting writes", "Try again", "DB007"}},
	{"timeout", UserMessage{"Catalog database operation timed out", "Try a smaller file or try again later", "DB006"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user message. A nil error maps to
// the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}
	text := strings.ToLower(err.Error())
	for _, p := range patternMessages {
		if strings.Contains(text, p.pattern) {
			return p.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders err as "Message (Code: X). Action".
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	return MapError(err).String()
}

// IsUserFacing reports whether err maps to something more specific than
// ERR000.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}
