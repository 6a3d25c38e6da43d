package evaluator

import (
	"strings"

	"github.com/morozRed/worksheet/internal/protocol"
)

// FSharpSplitter ends a cell at every line terminated by ";;".
type FSharpSplitter struct{}

func (FSharpSplitter) Language() string {
	return "fsharp"
}

func (FSharpSplitter) Extensions() []string {
	return []string{".fsx", ".fsscript"}
}

func (FSharpSplitter) Split(content []byte) ([]Cell, error) {
	lines := splitLines(string(content))
	var out []Cell
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(stripLineComment(line))
		if start < 0 {
			if trimmed == "" {
				continue
			}
			start = i
		}
		if strings.HasSuffix(trimmed, ";;") {
			out = append(out, newLineCell(lines, start, i+1))
			start = -1
		}
	}
	if start >= 0 {
		end := len(lines)
		for end > start && strings.TrimSpace(lines[end-1]) == "" {
			end--
		}
		out = append(out, newLineCell(lines, start, end))
	}
	return out, nil
}

// ParagraphSplitter treats blank-line separated blocks as cells.
type ParagraphSplitter struct{}

func (ParagraphSplitter) Language() string {
	return "text"
}

func (ParagraphSplitter) Extensions() []string {
	return nil
}

func (ParagraphSplitter) Split(content []byte) ([]Cell, error) {
	lines := splitLines(string(content))
	var out []Cell
	start := -1
	for i, line := range lines {
		blank := strings.TrimSpace(line) == ""
		switch {
		case blank && start >= 0:
			out = append(out, newLineCell(lines, start, i))
			start = -1
		case !blank && start < 0:
			start = i
		}
	}
	if start >= 0 {
		out = append(out, newLineCell(lines, start, len(lines)))
	}
	return out, nil
}

// splitLines splits after every newline; the pieces keep their newline.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// newLineCell spans whole lines [from, to).
func newLineCell(lines []string, from, to int) Cell {
	text := strings.Join(lines[from:to], "")
	cell := Cell{
		Text:  text,
		Range: protocol.Range{FromLine: from, ToLine: to},
	}
	if line, ok := checkDelimiters(lines[from:to]); !ok {
		cell.ErrorLine = from + line + 1
	}
	return cell
}

func stripLineComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 && strings.Count(line[:i], `"`)%2 == 0 {
		return line[:i]
	}
	return line
}

// checkDelimiters reports the 0-based line of the first unbalanced
// bracket or unterminated string.
func checkDelimiters(lines []string) (int, bool) {
	type open struct {
		char rune
		line int
	}
	closers := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []open
	for i, line := range lines {
		inString := false
		escaped := false
		for _, r := range stripLineComment(line) {
			if inString {
				switch {
				case escaped:
					escaped = false
				case r == '\\':
					escaped = true
				case r == '"':
					inString = false
				}
				continue
			}
			switch r {
			case '"':
				inString = true
			case '(', '[', '{':
				stack = append(stack, open{char: r, line: i})
			case ')', ']', '}':
				if len(stack) == 0 || stack[len(stack)-1].char != closers[r] {
					return i, false
				}
				stack = stack[:len(stack)-1]
			}
		}
		if inString {
			return i, false
		}
	}
	if len(stack) > 0 {
		return stack[0].line, false
	}
	return 0, true
}
