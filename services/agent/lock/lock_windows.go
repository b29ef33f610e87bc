// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build windows

package lock

import "os"

// TODO: implement with golang.org/x/sys/windows.LockFileEx; until
// then Windows relies on badger's own directory guard.
func flockExclusive(f *os.File) error {
	return nil
}

func flockRelease(f *os.File) error {
	return nil
}
