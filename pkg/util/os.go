// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"fmt"
	"os"
)

const (
	// the owner can make/remove files inside the directory
	privateDirMode = 0700
)

// Exist reports whether dirpath exists and is a directory.
func Exist(dirpath string) bool {
	info, err := os.Stat(dirpath)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// EnsureDir creates dirpath (and parents) with private permissions when it
// does not exist yet. An existing directory is not an error.
func EnsureDir(dirpath string) error {
	if Exist(dirpath) {
		return nil
	}
	if err := os.MkdirAll(dirpath, privateDirMode); err != nil {
		return fmt.Errorf("create dir %s: %w", dirpath, err)
	}
	return nil
}

// RemoveQuietly deletes path and ignores a missing file. It is meant for
// cleanup paths where the caller already has a more important error.
func RemoveQuietly(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
