package evaluator

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/morozRed/worksheet/internal/protocol"
)

// PythonSplitter groups top-level statements into cells; a blank line
// between two statements starts a new cell.
type PythonSplitter struct {
	parser *sitter.Parser
}

func NewPythonSplitter() *PythonSplitter {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &PythonSplitter{parser: p}
}

func (p *PythonSplitter) Language() string {
	return "python"
}

func (p *PythonSplitter) Extensions() []string {
	return []string{".py", ".pyw"}
}

func (p *PythonSplitter) Split(content []byte) ([]Cell, error) {
	tree, err := p.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse python: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var (
		out   []Cell
		group []*sitter.Node
	)
	flush := func() {
		if len(group) == 0 {
			return
		}
		out = append(out, pythonCell(content, group))
		group = nil
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if len(group) > 0 && node.StartPoint().Row > group[len(group)-1].EndPoint().Row+1 {
			flush()
		}
		group = append(group, node)
	}
	flush()
	return out, nil
}

func pythonCell(content []byte, nodes []*sitter.Node) Cell {
	first, last := nodes[0], nodes[len(nodes)-1]
	start, end := first.StartPoint(), last.EndPoint()
	toLine := int(end.Row) + 1
	if end.Column == 0 && end.Row > start.Row {
		toLine = int(end.Row)
	}

	cell := Cell{
		Text:  string(content[first.StartByte():last.EndByte()]),
		Range: protocol.Range{FromLine: int(start.Row), ToLine: toLine},
	}
	for _, node := range nodes {
		if errNode := firstError(node); errNode != nil {
			cell.ErrorLine = int(errNode.StartPoint().Row) + 1
			break
		}
	}
	return cell
}

func firstError(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.Type() == "ERROR" || node.IsMissing() {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstError(node.Child(i)); found != nil {
			return found
		}
	}
	return node
}
