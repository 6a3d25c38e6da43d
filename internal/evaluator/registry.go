// Package evaluator is the reference evaluator: it partitions a script
// into cells, tracks cell identity across computes, and reports a syntax
// check per new cell over the channel protocol.
package evaluator

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"

	"github.com/morozRed/worksheet/internal/protocol"
)

// Cell is one evaluation unit found by a Splitter.
type Cell struct {
	Text  string
	Range protocol.Range
	// ErrorLine is the 1-based document line of the first syntax error, or 0.
	ErrorLine int
}

// Splitter partitions a script of one language into cells.
type Splitter interface {
	// Language returns the language name (e.g., "fsharp", "python")
	Language() string

	// Extensions returns file extensions this splitter handles
	Extensions() []string

	// Split returns the cells of content in document order
	Split(content []byte) ([]Cell, error)
}

// Registry holds all registered splitters
type Registry struct {
	splitters map[string]Splitter // language name -> splitter
	extToLang map[string]string   // extension -> language name
	fallback  Splitter
}

func NewRegistry(fallback Splitter) *Registry {
	return &Registry{
		splitters: make(map[string]Splitter),
		extToLang: make(map[string]string),
		fallback:  fallback,
	}
}

// DefaultRegistry knows F# scripts and Python, and splits anything else
// into blank-line separated paragraphs.
func DefaultRegistry() *Registry {
	r := NewRegistry(ParagraphSplitter{})
	r.Register(FSharpSplitter{})
	r.Register(NewPythonSplitter())
	return r
}

func (r *Registry) Register(s Splitter) {
	lang := s.Language()
	r.splitters[lang] = s
	for _, ext := range s.Extensions() {
		r.extToLang[strings.ToLower(ext)] = lang
	}
}

// ForFile returns the splitter for path, or the fallback.
func (r *Registry) ForFile(path string) (Splitter, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := r.extToLang[ext]; ok {
		if s, ok := r.splitters[lang]; ok {
			return s, true
		}
	}
	return r.fallback, r.fallback != nil
}

func (r *Registry) SupportedExtensions() []string {
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// CellIdentity derives a cell's identity from its text.
func CellIdentity(text string) protocol.CellID {
	return protocol.NewCellID(hashContent([]byte(text)))
}

func hashContent(content []byte) string {
	h := sha256.New()
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))[:16] // short hash
}
