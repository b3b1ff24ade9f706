package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

// EditFileInput parameters for fs:edit_file.
type EditFileInput struct {
	Path    string `json:"path" jsonschema:"required,description=Absolute path to the file"`
	OldText string `json:"old_text" jsonschema:"required,description=Exact existing text to replace"`
	NewText string `json:"new_text" jsonschema:"required,description=Replacement text"`
}

func (t *fileTools) editFile(ctx context.Context, input *EditFileInput) (string, error) {
	if err := validatePath(input.Path, t.workspacePath); err != nil {
		return "", err
	}
	if input.OldText == "" {
		return "", fmt.Errorf("old_text must not be empty")
	}

	data, err := os.ReadFile(input.Path)
	if err != nil {
		return "", err
	}
	content := string(data)
	switch occurrences := strings.Count(content, input.OldText); {
	case occurrences == 0:
		return "", fmt.Errorf("old_text not found in file")
	case occurrences > 1:
		return "", fmt.Errorf("old_text matches multiple locations (%d); provide a unique snippet", occurrences)
	}

	updated := strings.Replace(content, input.OldText, input.NewText, 1)
	if err := os.WriteFile(input.Path, []byte(updated), fileMode); err != nil {
		return "", err
	}
	return "Edited " + input.Path, nil
}

// NewEditFileTool creates fs:edit_file.
func NewEditFileTool(workspacePath string) (tool.InvokableTool, error) {
	t := &fileTools{workspacePath: workspacePath}
	return utils.InferTool("edit_file", "Edit one exact snippet in a file via old_text -> new_text replacement", t.editFile)
}
