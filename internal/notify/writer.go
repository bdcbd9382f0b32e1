package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/marrow-mcp/marrow/internal/memory"
)

// Drop is the wire format of an inbox entry file.
type Drop struct {
	Key      string   `json:"key,omitempty"`
	Category string   `json:"category,omitempty"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
}

func (d *Drop) toEntry() *memory.Entry {
	key := d.Key
	if key == "" {
		key = "mem:" + uuid.NewString()
	}
	category := d.Category
	if category == "" {
		category = "general"
	}
	return &memory.Entry{
		Key:      key,
		Category: category,
		Content:  d.Content,
		Tags:     d.Tags,
	}
}

// WriteDrop places an entry file into the inbox under dataPath. The file is
// written to a temp name and renamed so the watcher never reads a partial
// drop.
func WriteDrop(dataPath string, drop Drop) error {
	if drop.Content == "" {
		return fmt.Errorf("notify: drop content is required")
	}
	dir := filepath.Join(dataPath, "inbox")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(drop, "", "  ")
	if err != nil {
		return err
	}

	name := uuid.NewString()
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, name+inboxSuffix))
}
