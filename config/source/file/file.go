package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/pkg/routine"
	"github.com/pkg/errors"
)

type File struct {
	path   string
	notify chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	w      *fsnotify.Watcher
}

// NewFile watches the directory holding path, so editors that replace the
// file by rename are noticed too.
func NewFile(path string) (*File, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "file watcher")
	}
	if err = w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(path))
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &File{
		path:   path,
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		w:      w,
	}
	routine.GoSafe(ctx, f.watch)
	return f, nil
}

func (f *File) watch() {
	for {
		select {
		case <-f.ctx.Done():
			return
		case event, ok := <-f.w.Events:
			if !ok {
				return
			}
			// we only care about the config file being written or created
			const writeOrCreateMask = fsnotify.Write | fsnotify.Create
			if event.Op&writeOrCreateMask != 0 && filepath.Clean(event.Name) == f.path {
				logger.Log(f.ctx, logger.InfoLevel, map[string]interface{}{"file": event.Name}, "file modify")
				select {
				case f.notify <- struct{}{}:
				default:
				}
			}
		case e, ok := <-f.w.Errors:
			if !ok {
				return
			}
			logger.Log(f.ctx, logger.ErrorLevel, map[string]interface{}{"error": e}, "file watch error")
		}
	}
}

func (f *File) Load() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f *File) Watch() <-chan struct{} {
	return f.notify
}

func (f *File) Close() error {
	var err error
	f.once.Do(func() {
		f.cancel()
		err = f.w.Close()
	})
	return err
}

func (f *File) Format() string {
	return strings.TrimPrefix(filepath.Ext(f.path), ".")
}
