// Package notify implements cross-process memory ingestion through a
// filesystem inbox. Sidecar processes drop entry files into {data}/inbox/;
// the watcher picks them up and stores them, so external tooling can feed
// the memory store without speaking the protocol.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/marrow-mcp/marrow/internal/memory"
)

// inboxSuffix marks files the watcher consumes. Anything else in the inbox
// is ignored.
const inboxSuffix = ".entry"

// InboxWatcher watches the inbox directory and ingests dropped entries.
type InboxWatcher struct {
	dir     string
	store   memory.Store
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewInboxWatcher creates a watcher for {dataPath}/inbox/.
func NewInboxWatcher(dataPath string, store memory.Store) *InboxWatcher {
	return &InboxWatcher{
		dir:   filepath.Join(dataPath, "inbox"),
		store: store,
		done:  make(chan struct{}),
	}
}

// Dir returns the watched inbox directory.
func (iw *InboxWatcher) Dir() string {
	return iw.dir
}

// Start begins watching. Files already sitting in the inbox are drained
// first, then new drops are picked up as they appear. Call Stop to clean up.
func (iw *InboxWatcher) Start() error {
	if err := os.MkdirAll(iw.dir, 0o700); err != nil {
		return err
	}

	iw.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(iw.dir); err != nil {
		_ = w.Close()
		return err
	}
	iw.watcher = w

	go iw.loop()
	log.Printf("notify: watching %s for dropped entries", iw.dir)
	return nil
}

// Stop shuts down the watcher and waits for the loop to exit.
func (iw *InboxWatcher) Stop() {
	if iw.watcher != nil {
		_ = iw.watcher.Close()
	}
	<-iw.done
}

func (iw *InboxWatcher) loop() {
	defer close(iw.done)
	for {
		select {
		case evt, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(evt.Name, inboxSuffix) {
				iw.ingestFile(evt.Name)
			}
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (iw *InboxWatcher) drainExisting() {
	entries, err := os.ReadDir(iw.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), inboxSuffix) {
			iw.ingestFile(filepath.Join(iw.dir, entry.Name()))
		}
	}
}

// ingestFile consumes one dropped file. The file is removed whether or not
// it parses; a bad drop should not be retried forever.
func (iw *InboxWatcher) ingestFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already consumed by another process
	}
	_ = os.Remove(path)

	var drop Drop
	if err := json.Unmarshal(data, &drop); err != nil {
		log.Printf("notify: invalid entry file %s: %v", filepath.Base(path), err)
		return
	}
	if drop.Content == "" {
		log.Printf("notify: entry file %s has no content, skipping", filepath.Base(path))
		return
	}

	entry := drop.toEntry()
	if err := iw.store.Store(context.Background(), entry); err != nil {
		log.Printf("notify: failed to ingest %s: %v", entry.ID(), err)
		return
	}
	log.Printf("notify: ingested %s from inbox", entry.ID())
}
