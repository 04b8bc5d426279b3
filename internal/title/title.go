// Package title supplies the page title announced to agents and reports when
// it changes.
package title

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Source is a page title that can change over time.
type Source interface {
	Title() string
	// Observe calls fn with each new title until stop is called.
	Observe(fn func(string)) (stop func(), err error)
}

// Static is a title that never changes.
type Static string

func (s Static) Title() string { return string(s) }

func (s Static) Observe(func(string)) (func(), error) { return func() {}, nil }

// File reads the title from the first line of a file and watches it.
type File struct {
	path string

	mu   sync.Mutex
	last string
}

func NewFile(path string) *File {
	f := &File{path: path}
	f.last = f.read()
	return f
}

func (f *File) read() string {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimSpace(line)
}

func (f *File) Title() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Observe watches the file's directory so editors that replace the file on
// save are still picked up.
func (f *File) Observe(fn func(string)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", f.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		target := filepath.Clean(f.path)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				t := f.read()
				f.mu.Lock()
				changed := t != f.last
				f.last = t
				f.mu.Unlock()
				if changed {
					fn(t)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("TITLE: watcher error: %v", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.Close()
			<-done
		})
	}, nil
}
