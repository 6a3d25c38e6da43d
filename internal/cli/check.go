package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/morozRed/worksheet/internal/evaluator"
	"github.com/morozRed/worksheet/internal/worksheet"
)

type CheckSummary struct {
	Path       string      `json:"path"`
	Applicable bool        `json:"applicable"`
	Extensions []string    `json:"extensions"`
	Language   string      `json:"language,omitempty"`
	Cells      []CheckCell `json:"cells,omitempty"`
}

type CheckCell struct {
	ID        string `json:"id"`
	FromLine  int    `json:"from_line"`
	ToLine    int    `json:"to_line"`
	ErrorLine int    `json:"error_line,omitempty"`
}

func RunCheck(cmd *cobra.Command, args []string) error {
	current, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", args[0], err)
	}
	summary := CheckSummary{
		Path:       path,
		Applicable: worksheet.IsApplicable(path, current.Config.Extensions),
		Extensions: current.Config.Extensions,
	}

	if summary.Applicable {
		content, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		splitter, _ := evaluator.DefaultRegistry().ForFile(path)
		summary.Language = splitter.Language()
		if err == nil {
			found, splitErr := splitter.Split(content)
			if splitErr != nil {
				return fmt.Errorf("failed to split %s: %w", path, splitErr)
			}
			for _, cell := range found {
				summary.Cells = append(summary.Cells, CheckCell{
					ID:        evaluator.CellIdentity(cell.Text).String(),
					FromLine:  cell.Range.FromLine,
					ToLine:    cell.Range.ToLine,
					ErrorLine: cell.ErrorLine,
				})
			}
		}
	}

	if asJSON {
		return PrintJSON(summary)
	}

	fmt.Printf("check: %s\n", summary.Path)
	fmt.Printf("applicable: %s (extensions: %s)\n", yesNo(summary.Applicable), joinOrNone(summary.Extensions))
	if !summary.Applicable {
		return nil
	}
	fmt.Printf("language: %s cells=%d\n", summary.Language, len(summary.Cells))
	for _, cell := range summary.Cells {
		status := "ok"
		if cell.ErrorLine > 0 {
			status = fmt.Sprintf("syntax error at line %d", cell.ErrorLine)
		}
		fmt.Printf("  %s lines %d-%d: %s\n", cell.ID, cell.FromLine+1, cell.ToLine, status)
	}
	return nil
}
