package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

const (
	fileMode        = 0644
	dirMode         = 0755
	defaultGrepHits = 100
)

// validatePath checks that the given path is within the workspace boundary.
// Symlinks are resolved on both sides. An empty workspace disables the check.
func validatePath(path, workspacePath string) error {
	if workspacePath == "" {
		return nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absPath = resolveExisting(filepath.Clean(absPath))
	cleanWorkspace := resolveExisting(filepath.Clean(workspacePath))

	if !strings.HasPrefix(absPath, cleanWorkspace+string(filepath.Separator)) && absPath != cleanWorkspace {
		return fmt.Errorf("access denied: path %q is outside workspace %q", absPath, cleanWorkspace)
	}
	return nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and re-appends the part that does not exist yet.
func resolveExisting(path string) string {
	rest := ""
	current := path
	for {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		rest = filepath.Join(filepath.Base(current), rest)
		current = parent
	}
}

// ReadFileInput parameters for fs:read_file
type ReadFileInput struct {
	Path   string `json:"path" jsonschema:"required,description=Absolute path to the file"`
	Offset int    `json:"offset" jsonschema:"description=Starting line number (0-based)"`
	Limit  int    `json:"limit" jsonschema:"description=Maximum number of lines to read"`
}

// ReadFileOutput result of fs:read_file
type ReadFileOutput struct {
	Content    string `json:"content"`
	TotalLines int    `json:"total_lines"`
}

type fileTools struct {
	workspacePath string
}

func (t *fileTools) readFile(ctx context.Context, input *ReadFileInput) (*ReadFileOutput, error) {
	if err := validatePath(input.Path, t.workspacePath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(input.Path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)
	if input.Offset > 0 {
		if input.Offset >= len(lines) {
			lines = []string{}
		} else {
			lines = lines[input.Offset:]
		}
	}
	if input.Limit > 0 && input.Limit < len(lines) {
		lines = lines[:input.Limit]
	}

	return &ReadFileOutput{Content: strings.Join(lines, "\n"), TotalLines: total}, nil
}

// WriteFileInput parameters for fs:write_file
type WriteFileInput struct {
	Path    string `json:"path" jsonschema:"required,description=Absolute path to the file"`
	Content string `json:"content" jsonschema:"required,description=Content to write"`
}

func (t *fileTools) writeFile(ctx context.Context, input *WriteFileInput) (string, error) {
	if err := validatePath(input.Path, t.workspacePath); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(input.Path), dirMode); err != nil {
		return "", err
	}
	if err := os.WriteFile(input.Path, []byte(input.Content), fileMode); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(input.Content), input.Path), nil
}

// DeleteFileInput parameters for fs:delete_file
type DeleteFileInput struct {
	Path string `json:"path" jsonschema:"required,description=Absolute path to the file"`
}

func (t *fileTools) deleteFile(ctx context.Context, input *DeleteFileInput) (string, error) {
	if err := validatePath(input.Path, t.workspacePath); err != nil {
		return "", err
	}
	info, err := os.Stat(input.Path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", input.Path)
	}
	if err := os.Remove(input.Path); err != nil {
		return "", err
	}
	return "Deleted " + input.Path, nil
}

// ListDirInput parameters for fs:list_dir
type ListDirInput struct {
	Path string `json:"path" jsonschema:"required,description=Directory path to list"`
}

func (t *fileTools) listDir(ctx context.Context, input *ListDirInput) ([]string, error) {
	if err := validatePath(input.Path, t.workspacePath); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(input.Path)
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		result = append(result, name)
	}
	return result, nil
}

// GrepInput parameters for fs:grep
type GrepInput struct {
	Pattern    string `json:"pattern" jsonschema:"required,description=Regular expression to search for"`
	Path       string `json:"path" jsonschema:"required,description=File or directory to search"`
	MaxResults int    `json:"max_results" jsonschema:"description=Maximum number of matching lines"`
}

// GrepMatch is one matching line.
type GrepMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *fileTools) grep(ctx context.Context, input *GrepInput) ([]GrepMatch, error) {
	if err := validatePath(input.Path, t.workspacePath); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	limit := input.MaxResults
	if limit <= 0 {
		limit = defaultGrepHits
	}

	matches := make([]GrepMatch, 0)
	walkErr := filepath.WalkDir(input.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != input.Path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		found, err := grepFile(path, re, limit-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		if len(matches) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return matches, nil
}

func grepFile(path string, re *regexp.Regexp, limit int) ([]GrepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []GrepMatch
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() && len(out) < limit {
		line++
		text := scanner.Text()
		if re.MatchString(text) {
			out = append(out, GrepMatch{File: path, Line: line, Text: text})
		}
	}
	return out, scanner.Err()
}

// NewReadFileTool creates fs:read_file
func NewReadFileTool(workspacePath string) (tool.InvokableTool, error) {
	t := &fileTools{workspacePath: workspacePath}
	return utils.InferTool("read_file", "Read the contents of a file", t.readFile)
}

// NewWriteFileTool creates fs:write_file
func NewWriteFileTool(workspacePath string) (tool.InvokableTool, error) {
	t := &fileTools{workspacePath: workspacePath}
	return utils.InferTool("write_file", "Create or overwrite a file with the given content", t.writeFile)
}

// NewDeleteFileTool creates fs:delete_file
func NewDeleteFileTool(workspacePath string) (tool.InvokableTool, error) {
	t := &fileTools{workspacePath: workspacePath}
	return utils.InferTool("delete_file", "Delete a single file", t.deleteFile)
}

// NewListDirTool creates fs:list_dir
func NewListDirTool(workspacePath string) (tool.InvokableTool, error) {
	t := &fileTools{workspacePath: workspacePath}
	return utils.InferTool("list_dir", "List contents of a directory", t.listDir)
}

// NewGrepTool creates fs:grep
func NewGrepTool(workspacePath string) (tool.InvokableTool, error) {
	t := &fileTools{workspacePath: workspacePath}
	return utils.InferTool("grep", "Search files for lines matching a regular expression", t.grep)
}
