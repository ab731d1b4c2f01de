package store

import (
	"fmt"

	"github.com/keshon/datastore"
)

// File persists through a datastore JSON file: atomic writes, checksums,
// backups and autosave come from the library; this wrapper only adds the
// scope contract.
type File struct {
	ds *datastore.DataStore
}

// Open creates or loads the datastore at path.
func Open(path string) (*File, error) {
	ds, err := datastore.New(path)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	return &File{ds: ds}, nil
}

func (f *File) Get(scope Scope, key string, out any) (bool, error) {
	value, ok := f.ds.Get(scope.Key(key))
	if !ok {
		return false, nil
	}
	if err := roundTrip(value, out); err != nil {
		return true, err
	}
	return true, nil
}

func (f *File) Set(scope Scope, key string, value any) error {
	f.ds.Add(scope.Key(key), value)
	return nil
}

func (f *File) Delete(scope Scope, key string) error {
	f.ds.Delete(scope.Key(key))
	return nil
}

func (f *File) Close() error {
	return f.ds.Close()
}
