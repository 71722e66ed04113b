package buildsys

import (
	"encoding/gob"
	"os"
)

// WriteCache stores the report of the last run in file
func WriteCache(file string, report *Report) error {
	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(report)
	if err != nil {
		return err
	}

	return handle.Close()
}

// ReadCache loads a report previously written by WriteCache
func ReadCache(file string) (*Report, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	var result Report
	err = gob.NewDecoder(handle).Decode(&result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}
