package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// marshal encodes result as an indented JSON document. Screenshots are not
// part of it.
func marshal(result *schemas.ScanResult) ([]byte, error) {
	return json.MarshalIndent(result, "", "    ")
}

// FileSink writes one JSON document per target to a directory, named
// "{rank}-{domain}.json", and every screenshot next to it as
// "{rank}-{domain}-{label}.png".
type FileSink struct {
	dir string
	log *zap.Logger
}

// NewFileSink creates dir if needed and returns a sink writing into it.
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &FileSink{dir: dir, log: logger.Named("files")}, nil
}

// DataPath returns the path of the JSON document for a target.
func (f *FileSink) DataPath(rank int, domain string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%d-%s.json", rank, domain))
}

// ScreenshotPath returns the path of a labelled screenshot for a target.
func (f *FileSink) ScreenshotPath(rank int, domain, label string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%d-%s-%s.png", rank, domain, label))
}

// Save writes the data document, then the screenshots.
func (f *FileSink) Save(ctx context.Context, result *schemas.ScanResult) error {
	doc, err := marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := os.WriteFile(f.DataPath(result.Rank, result.Domain), doc, 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	for label, png := range result.Screenshots {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.WriteFile(f.ScreenshotPath(result.Rank, result.Domain, label), png, 0o644); err != nil {
			return fmt.Errorf("failed to write screenshot %s: %w", label, err)
		}
	}
	f.log.Debug("Saved result.",
		zap.String("domain", result.Domain),
		zap.Int("screenshots", len(result.Screenshots)))
	return nil
}

// Close is a no-op.
func (f *FileSink) Close() error { return nil }
