// Package export serializes sessions for download and re-import, and
// renders character sheets to PDF.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ritual/api/internal/game"
)

var (
	// ErrImportParse indicates the uploaded file is not a session export.
	ErrImportParse = errors.New("import file did not parse as a session")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies
	// are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

// Result contains one export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// SessionFile is the download/upload envelope around a session document.
type SessionFile struct {
	Code       string       `json:"code"`
	ExportedAt time.Time    `json:"exportedAt"`
	Session    game.Session `json:"session"`
}

// ExportSession serializes a session document for download.
func ExportSession(code string, doc game.Session) (*Result, error) {
	payload, err := json.MarshalIndent(SessionFile{
		Code:       code,
		ExportedAt: time.Now().UTC(),
		Session:    game.Normalize(doc),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session export: %w", err)
	}
	return &Result{
		Data:     append(payload, '\n'),
		Filename: "session-" + sanitizeFilename(code) + ".json",
		MimeType: "application/json",
	}, nil
}

// ParseSession decodes an uploaded export. Both the envelope form and a
// bare session document are accepted; anything else is ErrImportParse.
func ParseSession(data []byte) (game.Session, error) {
	var file SessionFile
	if err := json.Unmarshal(data, &file); err == nil && !file.ExportedAt.IsZero() {
		return game.Normalize(file.Session), nil
	}

	var doc game.Session
	if err := json.Unmarshal(data, &doc); err != nil {
		return game.Session{}, fmt.Errorf("%w: %v", ErrImportParse, err)
	}
	if doc.Map == "" && doc.Tokens == nil && doc.Players == nil && doc.Monsters == nil {
		return game.Session{}, ErrImportParse
	}
	return game.Normalize(doc), nil
}

// sanitizeFilename keeps filenames to letters, digits, and separators.
func sanitizeFilename(title string) string {
	result := ""
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		}
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "session"
	}
	return result
}
