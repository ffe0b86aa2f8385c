package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSource_StringPath(t *testing.T) {
	source, err := ValidateSource("cases/0042/disk.img", DefaultValidationOptions())
	require.NoError(t, err)

	assert.Equal(t, "cases/0042/disk.img", source.SourcePath)
	assert.Equal(t, SourceTypeOther, source.SourceType)
	assert.Len(t, source.SourceHash, 64, "missing hash should be derived as sha256 hex")
}

func TestValidateSource_RejectsBadPaths(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"traversal", "cases/../etc/passwd"},
		{"backslash", `cases\disk.img`},
		{"absolute", "/var/evidence/disk.img"},
		{"too long", strings.Repeat("a", DefaultMaxPathLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateSource(tt.path, DefaultValidationOptions())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "source_path", verr.Field)
		})
	}
}

func TestValidateSource_MaxLengthPathAccepted(t *testing.T) {
	_, err := ValidateSource(strings.Repeat("a", DefaultMaxPathLength), DefaultValidationOptions())
	assert.NoError(t, err)

	// length counts characters, not bytes: 306 characters, 606 bytes
	_, err = ValidateSource("cases/"+strings.Repeat("é", 300), DefaultValidationOptions())
	assert.NoError(t, err)

	_, err = ValidateSource(strings.Repeat("é", DefaultMaxPathLength+1), DefaultValidationOptions())
	assert.Error(t, err)
}

func TestValidateSource_AbsolutePathAllowedByOption(t *testing.T) {
	opts := DefaultValidationOptions()
	opts.AllowAbsolutePaths = true

	source, err := ValidateSource("/var/evidence/disk.img", opts)
	require.NoError(t, err)
	assert.Equal(t, "/var/evidence/disk.img", source.SourcePath)

	_, err = ValidateSource("/var/evidence/../../etc/shadow", opts)
	assert.Error(t, err, "traversal is rejected even when absolute paths are allowed")
}

func TestValidateSource_FieldMap(t *testing.T) {
	raw := map[string]interface{}{
		"source_type":      "memory",
		"source_path":      "cases/0042/mem.raw",
		"source_hash":      "ABCDEF0123",
		"source_size":      float64(4096),
		"acquisition_time": "2024-03-01T10:00:00+02:00",
		"investigator":     "j.doe",
	}

	source, err := ValidateSource(raw, DefaultValidationOptions())
	require.NoError(t, err)

	assert.Equal(t, SourceTypeMemory, source.SourceType)
	assert.Equal(t, "abcdef0123", source.SourceHash, "hash is lowercased")
	assert.Equal(t, int64(4096), source.SourceSize)
	assert.Equal(t, "j.doe", source.Investigator)
	require.NotNil(t, source.AcquisitionTime)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), *source.AcquisitionTime)
}

func TestValidateSource_PathAlias(t *testing.T) {
	source, err := ValidateSource(map[string]interface{}{"path": "exports/app.log", "source_type": "log"}, DefaultValidationOptions())
	require.NoError(t, err)
	assert.Equal(t, "exports/app.log", source.SourcePath)
	assert.Equal(t, SourceTypeLog, source.SourceType)
}

func TestValidateSource_FieldMapErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   map[string]interface{}
		field string
	}{
		{"unknown type", map[string]interface{}{"source_path": "a.img", "source_type": "tape"}, "source_type"},
		{"non-string path", map[string]interface{}{"source_path": 42}, "source_path"},
		{"negative size", map[string]interface{}{"source_path": "a.img", "source_size": -1}, "source_size"},
		{"fractional size", map[string]interface{}{"source_path": "a.img", "source_size": 1.5}, "source_size"},
		{"bad acquisition time", map[string]interface{}{"source_path": "a.img", "acquisition_time": "yesterday"}, "acquisition_time"},
		{"non-hex hash", map[string]interface{}{"source_path": "a.img", "source_hash": "not-a-hash"}, "source_hash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateSource(tt.raw, DefaultValidationOptions())
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateSource_Idempotent(t *testing.T) {
	first, err := ValidateSource(map[string]interface{}{"source_path": "cases/a.img", "source_type": "IMAGE"}, DefaultValidationOptions())
	require.NoError(t, err)

	second, err := ValidateSource(first, DefaultValidationOptions())
	require.NoError(t, err)

	assert.Equal(t, *first, *second)
	assert.NotSame(t, first, second, "revalidation returns a fresh copy")
}

func TestValidateSource_UnsupportedType(t *testing.T) {
	_, err := ValidateSource(42, DefaultValidationOptions())
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ValidateSource(nil, DefaultValidationOptions())
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDeriveSourceHash_Reproducible(t *testing.T) {
	acquired := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	source := ForensicsSource{SourcePath: "cases/a.img", SourceType: SourceTypeImage, AcquisitionTime: &acquired}

	assert.Equal(t, DeriveSourceHash(source), DeriveSourceHash(source.Clone()))

	other := source.Clone()
	other.SourcePath = "cases/b.img"
	assert.NotEqual(t, DeriveSourceHash(source), DeriveSourceHash(other))
}
