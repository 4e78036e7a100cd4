// Package boltdbtest provides utilities for testing against BoltDB databases.
package boltdbtest

import (
	"os"
	"sync"
)

// TempFile returns the name of a temporary file to be used for a BoltDB
// database.
//
// It returns a function that deletes the temporary file.
func TempFile() (string, func()) {
	f, err := os.CreateTemp("", "*.boltdb")
	if err != nil {
		panic(err)
	}

	if err := f.Close(); err != nil {
		panic(err)
	}

	file := f.Name()

	if err := os.Remove(file); err != nil {
		panic(err)
	}

	var once sync.Once
	return file, func() {
		once.Do(func() {
			os.Remove(file)
		})
	}
}
