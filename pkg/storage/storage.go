// Package storage ships finished call recordings to an external
// store and pulls them back by object name.
package storage

import (
	"errors"
	"fmt"

	"github.com/voxmesh/voxmesh/pkg/config"
)

var ErrNoStorage = errors.New("no cloud storage configured")

type CloudStorage interface {
	Save(name string, localPath string) error
	Load(name string) ([]byte, error)
	// IsNoop reports whether this storage discards everything.
	IsNoop() bool
}

// GetCloudStorage picks a provider from the config. Callers always
// get a usable storage back, a broken or unknown provider degrades
// to the no-op stub with the error telling why.
func GetCloudStorage(conf config.Storage) (CloudStorage, error) {
	var st CloudStorage
	var err error
	switch conf.Provider {
	case "gcs":
		st, err = NewGoogleCloudClient(conf.Bucket)
	case "oracle":
		st, err = NewOracleDataStorageClient(conf.Key)
	case "", "none":
		st = NewNoopCloudStorage()
	default:
		err = fmt.Errorf("unknown storage provider %q", conf.Provider)
	}
	if err != nil || st == nil {
		st = NewNoopCloudStorage()
	}
	return st, err
}
