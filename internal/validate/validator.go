// Package validate implements tiered upload validation: strict for binary
// formats, structured for machine-readable text, lenient for plain text.
package validate

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	pdf "github.com/dslipak/pdf"
	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/ragstore/internal/domain"
)

// Format tags produced by validation; the extractor dispatches on these.
const (
	FormatPDF  = "pdf"
	FormatJSON = "json"
	FormatXML  = "xml"
	FormatYAML = "yaml"
	FormatHTML = "html"
	FormatText = "text"
)

// MaxFileSize is the upload ceiling.
const MaxFileSize = 100 << 20 // 100 MiB

// magicProbeSize bounds how much of the head is inspected for magic bytes.
const magicProbeSize = 2048

var strictExtensions = map[string]string{
	".pdf": FormatPDF,
}

var structuredExtensions = map[string]string{
	".json": FormatJSON,
	".xml":  FormatXML,
	".yaml": FormatYAML,
	".yml":  FormatYAML,
}

var lenientExtensions = map[string]string{
	".txt":      FormatText,
	".md":       FormatText,
	".markdown": FormatText,
	".csv":      FormatText,
	".tsv":      FormatText,
	".log":      FormatText,
	".rst":      FormatText,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".py":       FormatText,
	".go":       FormatText,
	".js":       FormatText,
	".ts":       FormatText,
	".java":     FormatText,
	".c":        FormatText,
	".cpp":      FormatText,
	".h":        FormatText,
	".rb":       FormatText,
	".rs":       FormatText,
	".sh":       FormatText,
	".sql":      FormatText,
	".toml":     FormatText,
	".ini":      FormatText,
	".cfg":      FormatText,
	".conf":     FormatText,
}

// Result carries the detected format and the raw bytes for extraction.
type Result struct {
	Format string
	Data   []byte
}

// File validates uploaded bytes against the tier selected by the filename
// extension. Returned errors wrap domain.ErrValidation and carry an
// actionable diagnostic.
func File(filename string, data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file %q is empty", domain.ErrValidation, filename)
	}

	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: file %q is %d bytes, limit is %d (100 MiB); split the document or remove embedded media",
			domain.ErrValidation, filename, len(data), MaxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(filename))

	if format, ok := strictExtensions[ext]; ok {
		if err := validateStrict(filename, ext, data); err != nil {
			return nil, err
		}
		return &Result{Format: format, Data: data}, nil
	}

	if format, ok := structuredExtensions[ext]; ok {
		if err := validateStructured(filename, format, data); err != nil {
			return nil, err
		}
		return &Result{Format: format, Data: data}, nil
	}

	if format, ok := lenientExtensions[ext]; ok {
		if err := validateLenient(filename, data); err != nil {
			return nil, err
		}
		return &Result{Format: format, Data: data}, nil
	}

	return nil, fmt.Errorf("%w: unsupported file extension %q for %q; supported: %s",
		domain.ErrValidation, ext, filename, supportedExtensions())
}

// validateStrict requires the magic bytes to match the claimed extension
// and the file to actually open.
func validateStrict(filename, ext string, data []byte) error {
	detected := detectMagic(data)

	if ext == ".pdf" {
		if detected != FormatPDF {
			return fmt.Errorf("%w: %q claims extension .pdf but content looks like %q; "+
				"rename the file to match its real format, or export it as a genuine PDF",
				domain.ErrValidation, filename, detected)
		}

		reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return fmt.Errorf("%w: %q has a PDF header but cannot be opened (%v); "+
				"the file may be truncated, encrypted, or corrupted",
				domain.ErrValidation, filename, err)
		}
		if reader.NumPage() < 1 {
			return fmt.Errorf("%w: %q contains no pages", domain.ErrValidation, filename)
		}
	}

	return nil
}

// validateStructured requires a clean parse and reports the failure
// position.
func validateStructured(filename, format string, data []byte) error {
	switch format {
	case FormatJSON:
		var payload interface{}
		if err := json.Unmarshal(data, &payload); err != nil {
			line, col := 1, 1
			var offset int64 = -1
			if syntaxErr, ok := err.(*json.SyntaxError); ok {
				offset = syntaxErr.Offset
			} else if typeErr, ok := err.(*json.UnmarshalTypeError); ok {
				offset = typeErr.Offset
			}
			if offset >= 0 {
				line, col = offsetToPosition(data, offset)
			}
			return fmt.Errorf("%w: %q is not valid JSON at line %d, column %d: %v; near %q",
				domain.ErrValidation, filename, line, col, err, snippetAt(data, offset))
		}

	case FormatXML:
		decoder := xml.NewDecoder(bytes.NewReader(data))
		for {
			_, err := decoder.Token()
			if err == io.EOF {
				break
			}
			if err != nil {
				line := 0
				if syntaxErr, ok := err.(*xml.SyntaxError); ok {
					line = syntaxErr.Line
				}
				return fmt.Errorf("%w: %q is not well-formed XML at line %d: %v",
					domain.ErrValidation, filename, line, err)
			}
		}

	case FormatYAML:
		var payload interface{}
		if err := yaml.Unmarshal(data, &payload); err != nil {
			// yaml.v3 errors already carry "line N" positions.
			return fmt.Errorf("%w: %q is not valid YAML: %v", domain.ErrValidation, filename, err)
		}
	}

	return nil
}

// validateLenient only requires valid UTF-8.
func validateLenient(filename string, data []byte) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("%w: %q is not valid UTF-8 text; re-save the file with UTF-8 encoding "+
			"or upload it under a binary extension", domain.ErrValidation, filename)
	}
	return nil
}

// detectMagic inspects the head of the file for known signatures.
func detectMagic(data []byte) string {
	probe := data
	if len(probe) > magicProbeSize {
		probe = probe[:magicProbeSize]
	}

	switch {
	case bytes.HasPrefix(probe, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(probe, []byte{0x50, 0x4B, 0x03, 0x04}):
		return "zip"
	case bytes.HasPrefix(probe, []byte{0x1F, 0x8B}):
		return "gzip"
	case bytes.HasPrefix(probe, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "png"
	case bytes.HasPrefix(probe, []byte{0xFF, 0xD8, 0xFF}):
		return "jpeg"
	}

	trimmed := bytes.TrimLeft(probe, " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("<?xml")):
		return FormatXML
	case bytes.HasPrefix(trimmed, []byte("<!DOCTYPE html")), bytes.HasPrefix(trimmed, []byte("<html")):
		return FormatHTML
	case len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['):
		return FormatJSON
	}

	if utf8.Valid(probe) {
		return FormatText
	}
	return "binary"
}

func offsetToPosition(data []byte, offset int64) (line, col int) {
	line, col = 1, 1
	for i := int64(0); i < offset && i < int64(len(data)); i++ {
		if data[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func snippetAt(data []byte, offset int64) string {
	if offset < 0 || len(data) == 0 {
		return ""
	}
	start := offset - 20
	if start < 0 {
		start = 0
	}
	end := offset + 20
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return string(data[start:end])
}

func supportedExtensions() string {
	var exts []string
	for _, group := range []map[string]string{strictExtensions, structuredExtensions, lenientExtensions} {
		for ext := range group {
			exts = append(exts, ext)
		}
	}
	// Stable order keeps the diagnostic deterministic.
	for i := 0; i < len(exts); i++ {
		for j := i + 1; j < len(exts); j++ {
			if exts[j] < exts[i] {
				exts[i], exts[j] = exts[j], exts[i]
			}
		}
	}
	return strings.Join(exts, ", ")
}
