package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// CanonicalJSON renders v with sorted object keys and verbatim numbers.
// Two values with the same content always produce the same bytes,
// regardless of map insertion order.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal for canonical form: %w", err)
	}
	generic, err := decodeGeneric(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// ComputeIntegrityHash returns the sha256 digest of the result's canonical form.
//
// The digest covers every field except integrity_hash itself. The events list
// is folded into an events_digest alongside event_count, so results that differ
// only in their events hash differently.
func ComputeIntegrityHash(result *AnalysisResult) (string, error) {
	if result == nil {
		return "", errors.New("nil analysis result")
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal analysis result: %w", err)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return "", err
	}
	return digestDocument(doc)
}

// VerifyIntegrity recomputes the digest and compares it with the stored hash
func VerifyIntegrity(result *AnalysisResult) (bool, error) {
	computed, err := ComputeIntegrityHash(result)
	if err != nil {
		return false, err
	}
	return computed == result.IntegrityHash, nil
}

// VerifyIntegrityJSON verifies a serialized result without decoding it into
// an AnalysisResult. It returns the recomputed digest and whether it matches.
func VerifyIntegrityJSON(data []byte) (string, bool, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return "", false, err
	}
	stored, _ := doc["integrity_hash"].(string)
	computed, err := digestDocument(doc)
	if err != nil {
		return "", false, err
	}
	return computed, stored != "" && computed == stored, nil
}

// EventsDigest hashes the canonical form of an event list
func EventsDigest(events []*TimelineEvent) (string, error) {
	canonical, err := CanonicalJSON(events)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// digestDocument hashes a decoded result document. doc is modified.
func digestDocument(doc map[string]interface{}) (string, error) {
	delete(doc, "integrity_hash")

	events := doc["events"]
	delete(doc, "events")
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to marshal events: %w", err)
	}
	eventsSum := sha256.Sum256(eventsJSON)
	doc["events_digest"] = hex.EncodeToString(eventsSum[:])

	count := 0
	if list, ok := events.([]interface{}); ok {
		count = len(list)
	}
	doc["event_count"] = count

	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical result: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func decodeDocument(raw []byte) (map[string]interface{}, error) {
	generic, err := decodeGeneric(raw)
	if err != nil {
		return nil, err
	}
	doc, ok := generic.(map[string]interface{})
	if !ok {
		return nil, errors.New("analysis result is not a JSON object")
	}
	return doc, nil
}

// decodeGeneric decodes JSON keeping numbers as json.Number so re-encoding is lossless
func decodeGeneric(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode canonical form: %w", err)
	}
	return out, nil
}
