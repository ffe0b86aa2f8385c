package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"custodian/core"
	"custodian/metrics"
)

// Export formats understood by FileSupplier
const (
	FormatJSON    = "json"
	FormatJSONL   = "jsonl"
	FormatMsgpack = "msgpack"
)

const (
	// DefaultMaxRecords bounds how many records one export may contribute
	DefaultMaxRecords = 1000000
	// maxLineSize is the longest JSONL line accepted
	maxLineSize = 1024 * 1024
)

// ErrUnsupportedFormat is returned for exports with an unknown file suffix
var ErrUnsupportedFormat = errors.New("unsupported export format")

// FileSupplierOptions configures a FileSupplier
type FileSupplierOptions struct {
	// Root is prepended to relative source paths
	Root string
	// RecordsPerSecond throttles decoding; 0 disables the limiter
	RecordsPerSecond int
	Burst            int
	// MaxRecords stops reading after this many records (0 = DefaultMaxRecords)
	MaxRecords int
}

// FileSupplier reads pre-extracted event exports from disk. The format is
// chosen by suffix: .json (array, or object with an "events" array),
// .jsonl/.ndjson (one object per line) and .msgpack/.mpk (a stream of maps
// or arrays of maps).
type FileSupplier struct {
	root       string
	limiter    *rate.Limiter
	maxRecords int
	logger     *zap.SugaredLogger
}

// NewFileSupplier creates a file-backed supplier
func NewFileSupplier(opts FileSupplierOptions, logger *zap.SugaredLogger) *FileSupplier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	maxRecords := opts.MaxRecords
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	var limiter *rate.Limiter
	if opts.RecordsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = opts.RecordsPerSecond
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RecordsPerSecond), burst)
	}

	return &FileSupplier{
		root:       opts.Root,
		limiter:    limiter,
		maxRecords: maxRecords,
		logger:     logger,
	}
}

// DetectFormat maps a file name to an export format
func DetectFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".msgpack", ".mpk":
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Supply reads every record of the export named by source.SourcePath
func (s *FileSupplier) Supply(ctx context.Context, source core.ForensicsSource) (*Batch, error) {
	path := s.resolve(source.SourcePath)
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export %s: %w", source.SourcePath, err)
	}
	defer f.Close()

	batch := &Batch{Records: make([]map[string]interface{}, 0), Format: format}
	emit := func(record map[string]interface{}) error {
		if len(batch.Records) >= s.maxRecords {
			batch.Truncated = true
			return errStopReading
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		batch.Records = append(batch.Records, record)
		return nil
	}

	switch format {
	case FormatJSON:
		err = s.readJSON(f, batch, emit)
	case FormatJSONL:
		err = s.readJSONL(f, batch, emit)
	case FormatMsgpack:
		err = s.readMsgpack(f, batch, emit)
	}
	if err != nil && !errors.Is(err, errStopReading) {
		return nil, fmt.Errorf("failed to read %s export %s: %w", format, source.SourcePath, err)
	}

	if batch.Truncated {
		s.logger.Warnw("Export truncated at record limit",
			"source_path", source.SourcePath,
			"max_records", s.maxRecords)
	}
	if batch.Malformed > 0 {
		s.logger.Warnw("Skipped malformed export records",
			"source_path", source.SourcePath,
			"malformed", batch.Malformed)
	}
	metrics.IngestRecords.WithLabelValues(format).Add(float64(len(batch.Records)))
	s.logger.Debugw("Export read",
		"source_path", source.SourcePath,
		"format", format,
		"records", len(batch.Records))
	return batch, nil
}

var errStopReading = errors.New("record limit reached")

func (s *FileSupplier) resolve(sourcePath string) string {
	if filepath.IsAbs(sourcePath) || s.root == "" {
		return filepath.Clean(sourcePath)
	}
	return filepath.Join(s.root, sourcePath)
}

func (s *FileSupplier) readJSON(r io.Reader, batch *Batch, emit func(map[string]interface{}) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return err
	}

	var items []interface{}
	switch v := doc.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		events, ok := v["events"].([]interface{})
		if !ok {
			return errors.New(`JSON export must be an array or an object with an "events" array`)
		}
		items = events
	default:
		return fmt.Errorf("unexpected JSON export root %T", doc)
	}

	for _, item := range items {
		record, ok := item.(map[string]interface{})
		if !ok {
			batch.Malformed++
			continue
		}
		if err := emit(record); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSupplier) readJSONL(r io.Reader, batch *Batch, emit func(map[string]interface{}) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var record map[string]interface{}
		if err := dec.Decode(&record); err != nil || record == nil {
			batch.Malformed++
			continue
		}
		if err := emit(record); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *FileSupplier) readMsgpack(r io.Reader, batch *Batch, emit func(map[string]interface{}) error) error {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	// Numbers decode as int64/uint64/float64 regardless of wire width
	dec.UseLooseInterfaceDecoding(true)

	for {
		var value interface{}
		err := dec.Decode(&value)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch v := value.(type) {
		case map[string]interface{}:
			if err := emit(v); err != nil {
				return err
			}
		case []interface{}:
			for _, item := range v {
				record, ok := item.(map[string]interface{})
				if !ok {
					batch.Malformed++
					continue
				}
				if err := emit(record); err != nil {
					return err
				}
			}
		default:
			batch.Malformed++
		}
	}
}
