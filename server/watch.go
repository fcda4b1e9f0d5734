package server

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const rescanOps = fsnotify.Create | fsnotify.Remove | fsnotify.Rename | fsnotify.Write

// Watch rescans the root whenever a file under it is created, removed,
// renamed or written. It blocks until ctx is done.
func (s *Server) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := s.watchTree(w, s.root); err != nil {
		return err
	}
	s.logger.Info("watching for changes", "root", s.root)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&rescanOps == 0 {
				continue
			}
			s.logger.Debug("file event", "op", ev.Op, "path", ev.Name)
			if ev.Has(fsnotify.Create) {
				if err := s.watchTree(w, ev.Name); err != nil {
					s.logger.Warn("watch", "path", ev.Name, "err", err)
				}
			}
			if err := s.Scan(); err != nil {
				s.logger.Error("rescan", "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher", "err", err)
		case <-ctx.Done():
			return nil
		}
	}
}

// watchTree adds dir and every directory below it that is not excluded.
// Paths that are not directories are ignored.
func (s *Server) watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != s.root {
			if rel, err := filepath.Rel(s.root, p); err == nil && s.excluded(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		return w.Add(p)
	})
}
