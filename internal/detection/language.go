// internal/detection/language.go
package detection

import (
	"errors"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

// ErrLanguageUndetectable is returned when the text is empty or no language
// model is confident enough.
var ErrLanguageUndetectable = errors.New("language could not be detected")

// LanguageDetector maps page text to a lower-case ISO 639-1 code.
type LanguageDetector interface {
	Detect(text string) (string, error)
}

// LinguaDetector detects languages with lingua-go. The underlying detector
// loads its models lazily, so one instance is shared by all workers.
type LinguaDetector struct {
	once     sync.Once
	detector lingua.LanguageDetector
	mu       sync.Mutex
}

// NewLinguaDetector returns a detector over every language lingua knows.
func NewLinguaDetector() *LinguaDetector {
	return &LinguaDetector{}
}

func (d *LinguaDetector) Detect(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrLanguageUndetectable
	}
	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().FromAllLanguages().Build()
	})
	d.mu.Lock()
	language, ok := d.detector.DetectLanguageOf(text)
	d.mu.Unlock()
	if !ok {
		return "", ErrLanguageUndetectable
	}
	return strings.ToLower(language.IsoCode639_1().String()), nil
}
