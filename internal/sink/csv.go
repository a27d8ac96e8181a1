package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"chainsweep/internal/progress"
)

// csvFile wraps an opened CSV file with its writer.
type csvFile struct {
	file   *os.File
	writer *csv.Writer
}

// csvHeaders is fixed rather than derived from the event's keys, since
// DecodedEvent is a concrete struct rather than a generic map: Args is
// flattened into a single column so the column set never changes
// event-to-event.
var csvHeaders = []string{
	"contract_address", "event_name", "block_height", "tx_hash",
	"tx_index", "log_index", "block_time", "args",
}

// CSVExporter persists decoded events into one CSV file per event name in
// the configured output directory.
type CSVExporter struct {
	outputDir string
	mu        sync.Mutex
	files     map[string]*csvFile
}

func NewCSVExporter(outputDir string) (*CSVExporter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create csv output directory: %w", err)
	}
	return &CSVExporter{
		outputDir: outputDir,
		files:     make(map[string]*csvFile),
	}, nil
}

func (s *CSVExporter) Write(e progress.DecodedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := e.EventName
	if name == "" {
		name = "unknown"
	}

	cf, ok := s.files[name]
	if !ok {
		fp := filepath.Join(s.outputDir, fmt.Sprintf("%s.csv", name))
		_, statErr := os.Stat(fp)
		exists := statErr == nil

		f, err := os.OpenFile(fp, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("sink: open csv file %s: %w", fp, err)
		}

		w := csv.NewWriter(f)
		if !exists {
			if err := w.Write(csvHeaders); err != nil {
				f.Close()
				return fmt.Errorf("sink: write csv header for %s: %w", fp, err)
			}
			w.Flush()
			if err := w.Error(); err != nil {
				f.Close()
				return fmt.Errorf("sink: flush csv header for %s: %w", fp, err)
			}
		}

		cf = &csvFile{file: f, writer: w}
		s.files[name] = cf
	}

	row := []string{
		e.ContractAddress,
		e.EventName,
		fmt.Sprint(e.BlockHeight),
		e.TxHash,
		fmt.Sprint(e.TxIndex),
		fmt.Sprint(e.LogIndex),
		e.BlockTime.UTC().Format("2006-01-02T15:04:05Z"),
		renderArgs(e.Args),
	}

	if err := cf.writer.Write(row); err != nil {
		return err
	}
	cf.writer.Flush()
	return cf.writer.Error()
}

func (s *CSVExporter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, cf := range s.files {
		cf.writer.Flush()
		if err := cf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func renderArgs(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ";"
		}
		out += k + "=" + args[k]
	}
	return out
}
