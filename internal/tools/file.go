package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Limits for file tool output so a single call cannot flood the client.
const (
	defaultReadLimit   = 500     // lines per read when the caller gives none
	maxReadBytes       = 1 << 20 // hard cap on bytes returned by file_read
	maxSearchMatches   = 200
	maxSearchFileBytes = 4 << 20 // files larger than this are skipped by file_search
)

// FileTools exposes workspace file access. Every path is resolved against
// the workspace root and rejected if it escapes it, including via "..".
type FileTools struct {
	root string
}

// NewFileTools confines file operations to the given root directory.
func NewFileTools(root string) (*FileTools, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("tools: failed to resolve workspace root: %w", err)
	}
	return &FileTools{root: abs}, nil
}

// resolve maps a tool-supplied path onto the workspace and enforces
// confinement.
func (f *FileTools) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: path is required", ErrBadInput)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute paths are not allowed", ErrBadInput)
	}
	abs := filepath.Clean(filepath.Join(f.root, rel))
	if abs != f.root && !strings.HasPrefix(abs, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes the workspace", ErrBadInput)
	}
	return abs, nil
}

type fileReadInput struct {
	Path   string `json:"path" jsonschema_description:"Workspace-relative file path."`
	Offset int    `json:"offset,omitempty" jsonschema_description:"Line offset (0-based) to start reading from."`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Maximum lines to return (default 500)."`
}

type fileReadOutput struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Lines     int    `json:"lines"`
	Truncated bool   `json:"truncated,omitempty"`
}

type fileWriteInput struct {
	Path    string `json:"path" jsonschema_description:"Workspace-relative file path."`
	Content string `json:"content" jsonschema_description:"Full file content to write."`
}

type fileAppendInput struct {
	Path    string `json:"path" jsonschema_description:"Workspace-relative file path."`
	Content string `json:"content" jsonschema_description:"Content to append to the file."`
}

type fileListInput struct {
	Path string `json:"path,omitempty" jsonschema_description:"Workspace-relative directory (default: workspace root)."`
}

type fileListEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

type fileInfoInput struct {
	Path string `json:"path" jsonschema_description:"Workspace-relative path to stat."`
}

type fileInfoOutput struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Mode     string    `json:"mode"`
	Modified time.Time `json:"modified"`
}

type fileSearchInput struct {
	Query string `json:"query" jsonschema_description:"Case-insensitive substring to search for."`
	Path  string `json:"path,omitempty" jsonschema_description:"Workspace-relative directory to search under (default: workspace root)."`
}

type fileSearchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

type fileSearchOutput struct {
	Matches   []fileSearchMatch `json:"matches"`
	Truncated bool              `json:"truncated,omitempty"`
}

// Definitions returns the file tool set.
func (f *FileTools) Definitions() []Definition {
	return []Definition{
		{
			Name:        "file_read",
			Description: "Read a file within the workspace, with optional line offset and limit.",
			InputSchema: GenerateSchema[fileReadInput](),
			Handler:     f.read,
		},
		{
			Name:        "file_write",
			Description: "Create or overwrite a file within the workspace, creating parent directories as needed.",
			InputSchema: GenerateSchema[fileWriteInput](),
			Handler:     f.write,
		},
		{
			Name:        "file_append",
			Description: "Append content to a file within the workspace, creating it if missing.",
			InputSchema: GenerateSchema[fileAppendInput](),
			Handler:     f.append,
		},
		{
			Name:        "file_list",
			Description: "List the entries of a workspace directory.",
			InputSchema: GenerateSchema[fileListInput](),
			Handler:     f.list,
		},
		{
			Name:        "file_info",
			Description: "Stat a workspace path: size, mode, type, modification time.",
			InputSchema: GenerateSchema[fileInfoInput](),
			Handler:     f.info,
		},
		{
			Name:        "file_search",
			Description: "Search workspace files for a case-insensitive substring, returning matching lines.",
			InputSchema: GenerateSchema[fileSearchInput](),
			Handler:     f.search,
		},
	}
}

func (f *FileTools) read(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[fileReadInput](input)
	if err != nil {
		return nil, err
	}
	path, err := f.resolve(in.Path)
	if err != nil {
		return nil, err
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", in.Path, err)
	}
	defer fh.Close()

	limit := in.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	offset := in.Offset
	if offset < 0 {
		offset = 0
	}

	var b strings.Builder
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 64*1024), maxReadBytes)
	line, kept, truncated := 0, 0, false
	for scanner.Scan() {
		if line >= offset && kept < limit {
			if b.Len()+len(scanner.Bytes()) > maxReadBytes {
				truncated = true
				break
			}
			b.Write(scanner.Bytes())
			b.WriteByte('\n')
			kept++
		}
		line++
		if kept >= limit && line > offset+limit {
			truncated = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", in.Path, err)
	}
	return fileReadOutput{Path: in.Path, Content: b.String(), Lines: kept, Truncated: truncated}, nil
}

func (f *FileTools) write(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[fileWriteInput](input)
	if err != nil {
		return nil, err
	}
	path, err := f.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", in.Path, err)
	}
	return map[string]any{"path": in.Path, "bytes": len(in.Content)}, nil
}

func (f *FileTools) append(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[fileAppendInput](input)
	if err != nil {
		return nil, err
	}
	path, err := f.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s for append: %w", in.Path, err)
	}
	defer fh.Close()
	n, err := fh.WriteString(in.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to append to %s: %w", in.Path, err)
	}
	return map[string]any{"path": in.Path, "bytes": n}, nil
}

func (f *FileTools) list(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[fileListInput](input)
	if err != nil {
		return nil, err
	}
	rel := in.Path
	if rel == "" {
		rel = "."
	}
	path, err := f.resolve(rel)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", rel, err)
	}
	out := make([]fileListEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, fileListEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return map[string]any{"path": rel, "entries": out}, nil
}

func (f *FileTools) info(_ context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[fileInfoInput](input)
	if err != nil {
		return nil, err
	}
	path, err := f.resolve(in.Path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", in.Path, err)
	}
	return fileInfoOutput{
		Path:     in.Path,
		Size:     fi.Size(),
		IsDir:    fi.IsDir(),
		Mode:     fi.Mode().String(),
		Modified: fi.ModTime().UTC(),
	}, nil
}

func (f *FileTools) search(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decodeInput[fileSearchInput](input)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrBadInput)
	}
	rel := in.Path
	if rel == "" {
		rel = "."
	}
	base, err := f.resolve(rel)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(in.Query)
	out := fileSearchOutput{Matches: []fileSearchMatch{}}
	err = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil || out.Truncated {
			return filepath.SkipAll
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != base {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxSearchFileBytes {
			return nil
		}

		fh, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer fh.Close()

		relPath, _ := filepath.Rel(f.root, path)
		scanner := bufio.NewScanner(fh)
		scanner.Buffer(make([]byte, 64*1024), maxSearchFileBytes)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			text := scanner.Text()
			if strings.Contains(strings.ToLower(text), query) {
				out.Matches = append(out.Matches, fileSearchMatch{Path: relPath, Line: lineNo, Text: text})
				if len(out.Matches) >= maxSearchMatches {
					out.Truncated = true
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return out, nil
}
