/*
DESCRIPTION
  watch.go re-runs a callback whenever a trace file is rewritten, for
  iterating on a trace without restarting the process.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package main

import (
	"github.com/fsnotify/fsnotify"

	"github.com/ausocean/utils/logging"
)

// watchTrace blocks, invoking onChange each time path is written or
// created, until the watcher's channels are closed or the process is
// terminated. Watcher errors are logged and watching continues.
func watchTrace(path string, l logging.Logger, onChange func()) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		l.Error("could not start trace watcher", "error", err)
		return
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		l.Error("could not watch trace file", "path", path, "error", err)
		return
	}

	l.Info("watching trace file for changes", "path", path)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				l.Debug("trace file changed, re-running", "path", path)
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.Error("trace watcher error", "error", err)
		}
	}
}
