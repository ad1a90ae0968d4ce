package media

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/yungbote/studio-ingest/internal/platform/httpx"
)

// ClassificationError covers an unreachable vision service and responses that carry no usable result.
type ClassificationError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *ClassificationError) Error() string {
	if e == nil {
		return "classification failed"
	}
	msg := "classification failed"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ClassificationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ProviderMessage is the reason plus whatever the vision service reported,
// without caller-supplied text.
func (e *ClassificationError) ProviderMessage() string {
	if e == nil {
		return ""
	}
	return joinProviderText(e.Reason, e.Err)
}

func (e *ClassificationError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return httpx.StatusCode(e.Err)
}

// UploadError covers transport failures and non-2xx responses from the object store.
type UploadError struct {
	Key        string
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	if e == nil {
		return "upload failed"
	}
	msg := "upload failed"
	if e.Key != "" {
		msg += fmt.Sprintf(" key=%q", e.Key)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil && (e.Message == "" || !strings.Contains(e.Err.Error(), e.Message)) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UploadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *UploadError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return httpx.StatusCode(e.Err)
}

// ProviderMessage is what the object store reported. Key is never included.
func (e *UploadError) ProviderMessage() string {
	if e == nil {
		return ""
	}
	return joinProviderText(e.Message, e.Err)
}

func (e *UploadError) RateLimited() bool {
	return e != nil && isRateLimited(e.HTTPStatusCode(), e.ProviderMessage())
}

type Stage string

const (
	StageClassify Stage = "classify"
	StageUpload   Stage = "upload"
	StageRename   Stage = "rename"
	StageRetag    Stage = "retag"
	StageCatalog  Stage = "catalog"
	StageLedger   Stage = "ledger"
)

// ReconciliationError is the single failure type Reconcile returns. When Stage is
// rename or later, the provisional object has already been uploaded and is orphaned.
type ReconciliationError struct {
	ItemID         string
	Stage          Stage
	ProvisionalKey string
	Err            error
}

func (e *ReconciliationError) Error() string {
	if e == nil {
		return "reconciliation failed"
	}
	msg := fmt.Sprintf("reconcile item %q failed at %s", e.ItemID, e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReconciliationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ReconciliationError) Orphaned() bool {
	if e == nil {
		return false
	}
	switch e.Stage {
	case StageRename, StageRetag, StageCatalog, StageLedger:
		return true
	default:
		return false
	}
}

type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "invalid input"
	}
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

func NewSlotValidationError(slot int) *ValidationError {
	return &ValidationError{
		Field:  "slot",
		Value:  slot,
		Reason: fmt.Sprintf("must be within %d..%d", MinSlot, MaxSlot),
	}
}

type FailureClass string

const (
	FailureRateLimited FailureClass = "rate_limited"
	FailureTimeout     FailureClass = "timeout"
	FailureValidation  FailureClass = "validation"
	FailureOther       FailureClass = "other"
)

// BacksOff reports whether a failure of this class delays the next dispatch.
func (c FailureClass) BacksOff() bool { return c == FailureRateLimited }

// rateLimitText matches provider phrasing, including camelCase reasons such as
// GCS's userRateLimitExceeded.
var rateLimitText = regexp.MustCompile(`(?i)(rate[ _-]?limit|quota[ _-]?exceeded|(\b|_)(rate|quota|limit|429|too many requests)(\b|_))`)

func isRateLimited(status int, msg string) bool {
	if status == 429 {
		return true
	}
	return rateLimitText.MatchString(msg)
}

type providerMessager interface {
	ProviderMessage() string
}

// providerText collects upstream-reported text from an error tree. Wrapper
// text (fmt.Errorf prefixes, item ids, object keys) is skipped; only typed
// provider messages and leaf errors are read.
func providerText(err error) []string {
	if err == nil {
		return nil
	}
	if pm, ok := err.(providerMessager); ok {
		if msg := pm.ProviderMessage(); msg != "" {
			return []string{msg}
		}
		return nil
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		var out []string
		for _, inner := range u.Unwrap() {
			out = append(out, providerText(inner)...)
		}
		return out
	case interface{ Unwrap() error }:
		if inner := u.Unwrap(); inner != nil {
			return providerText(inner)
		}
	}
	return []string{err.Error()}
}

func joinProviderText(own string, err error) string {
	parts := providerText(err)
	if own != "" {
		parts = append([]string{own}, parts...)
	}
	return strings.Join(parts, ": ")
}

// ClassifyFailure buckets any pipeline error for logging and backoff decisions.
// Rate limiting is read from the status code first, then from provider text only.
func ClassifyFailure(err error) FailureClass {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return FailureValidation
	}
	if isRateLimited(httpx.StatusCode(err), strings.Join(providerText(err), "\n")) {
		return FailureRateLimited
	}
	if httpx.IsTimeout(err) {
		return FailureTimeout
	}
	return FailureOther
}

func IsRateLimited(err error) bool { return ClassifyFailure(err) == FailureRateLimited }
