/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fileutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DirEmpty returns true if the dir at dirPath is empty
func DirEmpty(dirPath string) (bool, error) {
	f, err := os.Open(dirPath)
	if err != nil {
		return false, errors.Wrapf(err, "error opening dir [%s]", dirPath)
	}
	defer f.Close()

	if _, err := f.Readdirnames(1); err != io.EOF {
		return false, errors.Wrapf(err, "error checking if dir [%s] is empty", dirPath)
	}
	return true, nil
}

// CreateDirIfMissing makes sure that the dir exists, durably recording a
// newly created one in its parent, and returns whether the dir is empty.
func CreateDirIfMissing(dirPath string) (bool, error) {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return false, errors.Wrapf(err, "error while creating dir: %s", dirPath)
	}
	if err := SyncDir(filepath.Dir(dirPath)); err != nil {
		return false, err
	}
	return DirEmpty(dirPath)
}

// SyncDir fsyncs the given dir
func SyncDir(dirPath string) error {
	dir, err := os.Open(dirPath)
	if err != nil {
		return errors.Wrapf(err, "error while opening dir:%s", dirPath)
	}
	defer dir.Close()
	return errors.Wrapf(dir.Sync(), "error while synching dir:%s", dirPath)
}
