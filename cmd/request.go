package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"custodian/core"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// maxRequestFileSize bounds request files read by the CLI
const maxRequestFileSize = 1024 * 1024

// requestSchema is the JSON schema of an analysis request file
const requestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["source"],
  "additionalProperties": false,
  "properties": {
    "source": {"$ref": "#/definitions/source"},
    "additional_sources": {
      "type": "array",
      "maxItems": 16,
      "items": {"$ref": "#/definitions/source"}
    },
    "start_time": {"type": "string", "format": "date-time"},
    "end_time": {"type": "string", "format": "date-time"},
    "event_types": {
      "type": "array",
      "items": {"type": "string", "minLength": 1, "maxLength": 100}
    },
    "correlation_rules": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "time_threshold": {"type": "integer", "minimum": 0, "maximum": 86400}
      }
    },
    "max_events": {"type": "integer", "minimum": 0},
    "investigator": {"type": "string", "maxLength": 200}
  },
  "definitions": {
    "source": {
      "oneOf": [
        {"type": "string", "minLength": 1},
        {
          "type": "object",
          "anyOf": [{"required": ["source_path"]}, {"required": ["path"]}],
          "properties": {
            "source_path": {"type": "string"},
            "path": {"type": "string"},
            "source_type": {"enum": ["image", "memory", "log", "registry", "other"]},
            "source_hash": {"type": "string"},
            "source_size": {"type": "integer", "minimum": 0},
            "acquisition_time": {"type": ["string", "integer", "number"]},
            "investigator": {"type": "string"}
          }
        }
      ]
    }
  }
}`

// loadRequestFile reads a JSON or YAML analysis request, validates it against
// requestSchema and decodes it
func loadRequestFile(filename string) (*core.AnalysisRequest, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	if info.Size() > maxRequestFileSize {
		return nil, fmt.Errorf("request file too large: %d bytes (max %d)", info.Size(), maxRequestFileSize)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML request: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("failed to convert YAML request: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported request file %q: use .json, .yaml or .yml", filename)
	}

	return parseRequest(data)
}

// parseRequest validates a JSON request document and decodes it
func parseRequest(data []byte) (*core.AnalysisRequest, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(requestSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate request: %w", err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}
		return nil, fmt.Errorf("request validation failed: %s", strings.Join(messages, "; "))
	}

	var req core.AnalysisRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}
