package mlfgame

import (
	"encoding/gob"
	"io"
	"os"

	gzip "github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

// WriteGzipGob gob-encodes v into a gzip stream written to w.
func WriteGzipGob(w io.Writer, v interface{}) error {
	gzw := gzip.NewWriter(w)
	if err := gob.NewEncoder(gzw).Encode(v); err != nil {
		gzw.Close()
		return err
	}

	return gzw.Close()
}

// ReadGzipGob decodes a value written by WriteGzipGob into v.
func ReadGzipGob(r io.Reader, v interface{}) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gzr.Close()

	return gob.NewDecoder(gzr).Decode(v)
}

// SaveFile writes v to the given file with WriteGzipGob.
func SaveFile(filename string, v interface{}) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := WriteGzipGob(f, v); err != nil {
		f.Close()
		return errors.Wrapf(err, "error saving %v", filename)
	}

	return f.Close()
}

// LoadFile reads a value saved with SaveFile into v.
func LoadFile(filename string, v interface{}) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := ReadGzipGob(f, v); err != nil {
		return errors.Wrapf(err, "error loading %v", filename)
	}

	return nil
}

// LoadParams loads and validates game parameters saved with SaveFile.
func LoadParams(filename string) (*Params, error) {
	var params Params
	if err := LoadFile(filename, &params); err != nil {
		return nil, err
	}

	if err := params.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%v", filename)
	}

	return &params, nil
}
