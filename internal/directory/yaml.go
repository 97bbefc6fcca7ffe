package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type rosterFile struct {
	Users map[string]Entry `yaml:"users"`
}

// LoadYAML parses a roster file of the form
//
//	users:
//	  u1: {username: Alice, email: a@example.com, token: tok, contacts: [u2]}
func LoadYAML(path string) (map[string]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var f rosterFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	return f.Users, nil
}

// WatchYAML reloads path into r whenever it changes, until ctx is done. The
// parent directory is watched so editors that replace the file are picked up.
// A file that fails to parse leaves the previous contents in place.
func WatchYAML(ctx context.Context, path string, r *Roster, log *logrus.Entry) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("roster watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}
	log = log.WithFields(logrus.Fields{"module": "directory", "roster": path})

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				users, err := LoadYAML(path)
				if err != nil {
					log.WithField("error", err.Error()).Warn("roster reload failed, keeping previous")
					continue
				}
				r.Replace(users)
				log.WithField("users", len(users)).Info("roster reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithField("error", err.Error()).Warn("roster watcher error")
			}
		}
	}()
	return nil
}
