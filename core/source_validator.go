package core

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// structValidator is safe for concurrent use and caches struct metadata
var structValidator = validator.New()

// ValidationOptions controls the source path policy
type ValidationOptions struct {
	// MaxPathLength is the longest accepted source path (default: 500)
	MaxPathLength int
	// AllowAbsolutePaths admits paths with a leading "/" (default: false).
	// Enable only when evidence lives in a sandboxed store.
	AllowAbsolutePaths bool
}

// DefaultValidationOptions returns the strict default policy
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxPathLength:      DefaultMaxPathLength,
		AllowAbsolutePaths: false,
	}
}

// ValidateSource sanitizes a source descriptor before evidence is admitted.
// raw may be a path string, a field map, or an already-built ForensicsSource
// (validation is idempotent). The returned source is always a fresh copy.
func ValidateSource(raw interface{}, opts ValidationOptions) (*ForensicsSource, error) {
	if opts.MaxPathLength <= 0 {
		opts.MaxPathLength = DefaultMaxPathLength
	}

	var source ForensicsSource
	switch v := raw.(type) {
	case nil:
		return nil, NewValidationError("source", "source is required")
	case string:
		source = ForensicsSource{SourcePath: v}
	case ForensicsSource:
		source = v.Clone()
	case *ForensicsSource:
		if v == nil {
			return nil, NewValidationError("source", "source is required")
		}
		source = v.Clone()
	case map[string]interface{}:
		decoded, err := sourceFromMap(v)
		if err != nil {
			return nil, err
		}
		source = decoded
	default:
		return nil, NewValidationError("source", "unsupported source descriptor type %T", raw)
	}

	source.SourcePath = strings.TrimSpace(source.SourcePath)
	if err := validateSourcePath(source.SourcePath, opts); err != nil {
		return nil, err
	}

	if source.SourceType == "" {
		source.SourceType = SourceTypeOther
	}
	source.SourceType = SourceType(strings.ToLower(string(source.SourceType)))
	if !source.SourceType.IsValid() {
		return nil, NewValidationError("source_type", "unknown source type %q", source.SourceType)
	}

	if source.AcquisitionTime != nil {
		t := source.AcquisitionTime.UTC()
		source.AcquisitionTime = &t
	}

	source.SourceHash = strings.ToLower(strings.TrimSpace(source.SourceHash))
	if source.SourceHash == "" {
		source.SourceHash = DeriveSourceHash(source)
	}

	if err := structValidator.Struct(source); err != nil {
		return nil, translateValidatorError(err)
	}

	return &source, nil
}

// validateSourcePath enforces length and traversal rules on a source path
func validateSourcePath(path string, opts ValidationOptions) error {
	if path == "" {
		return NewValidationError("source_path", "source path is required")
	}
	if utf8.RuneCountInString(path) > opts.MaxPathLength {
		return NewValidationError("source_path", "source path exceeds %d characters", opts.MaxPathLength)
	}
	if strings.Contains(path, "..") {
		return NewValidationError("source_path", "path traversal detected: '..' not allowed")
	}
	if strings.Contains(path, `\`) {
		return NewValidationError("source_path", "backslashes are not allowed in source paths")
	}
	if strings.HasPrefix(path, "/") && !opts.AllowAbsolutePaths {
		return NewValidationError("source_path", "absolute paths are not allowed")
	}
	return nil
}

// DeriveSourceHash derives a reproducible identifier for a source that arrived without one.
// Only descriptor fields participate, so the same descriptor always yields the same hash.
func DeriveSourceHash(source ForensicsSource) string {
	acquired := ""
	if source.AcquisitionTime != nil {
		acquired = FormatTimestamp(*source.AcquisitionTime)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{source.SourcePath, string(source.SourceType), acquired}, "|")))
	return hex.EncodeToString(sum[:])
}

// sourceFromMap decodes a field map into a ForensicsSource
func sourceFromMap(m map[string]interface{}) (ForensicsSource, error) {
	var source ForensicsSource

	path, err := stringField(m, "source_path")
	if err != nil {
		return source, err
	}
	if path == "" {
		// "path" is accepted as an alias, as in exported case manifests
		if path, err = stringField(m, "path"); err != nil {
			return source, err
		}
	}
	source.SourcePath = path

	sourceType, err := stringField(m, "source_type")
	if err != nil {
		return source, err
	}
	source.SourceType = SourceType(sourceType)

	if source.SourceHash, err = stringField(m, "source_hash"); err != nil {
		return source, err
	}
	if source.Investigator, err = stringField(m, "investigator"); err != nil {
		return source, err
	}

	if raw, ok := m["source_size"]; ok && raw != nil {
		size, ok := toInt64(raw)
		if !ok {
			return source, NewValidationError("source_size", "must be an integer, got %T", raw)
		}
		if size < 0 {
			return source, NewValidationError("source_size", "must not be negative")
		}
		source.SourceSize = size
	}

	if raw, ok := m["acquisition_time"]; ok && raw != nil {
		t, err := ParseTimestamp(raw)
		if err != nil {
			return source, NewValidationError("acquisition_time", "%v", err)
		}
		source.AcquisitionTime = &t
	}

	return source, nil
}

// stringField extracts an optional string field from a map
func stringField(m map[string]interface{}, key string) (string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", NewValidationError(key, "must be a string, got %T", raw)
	}
	return s, nil
}

// translateValidatorError converts validator output into a ValidationError
func translateValidatorError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return NewValidationError(toSnakeCase(fe.Field()), "failed %q constraint", fe.Tag())
	}
	return NewValidationError("", "%v", err)
}

// toSnakeCase converts a Go field name (SourcePath) to its wire name (source_path)
func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// toInt64 converts JSON/YAML decoded numbers to int64
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case fmt.Stringer:
		var out int64
		if _, err := fmt.Sscan(n.String(), &out); err != nil {
			return 0, false
		}
		return out, true
	default:
		return 0, false
	}
}
