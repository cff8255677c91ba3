// Package watch reloads resources when their files change.
//
// A Watcher follows a directory tree with fsnotify. Writes are debounced so
// an editor saving a file in several steps triggers a single reload, which
// is scheduled through Manager.ReloadResource. Files that are not loaded
// are ignored.
package watch
