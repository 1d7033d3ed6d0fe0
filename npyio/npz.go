package npyio

import (
	"bufio"
	"os"
	"sort"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
)

// MakeNPZ writes the named arrays to output as an .npz archive.
func MakeNPZ(output string, arrays map[string]Array) error {
	f, err := os.Create(output)
	if err != nil {
		return err
	}

	b := bufio.NewWriter(f)
	z := zip.NewWriter(b)
	if err := writeArrays(z, arrays); err != nil {
		f.Close()
		return errors.Wrapf(err, "error writing %v", output)
	}

	if err := z.Close(); err != nil {
		f.Close()
		return err
	}
	if err := b.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeArrays(z *zip.Writer, arrays map[string]Array) error {
	names := make([]string, 0, len(arrays))
	for name := range arrays {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		w, err := z.Create(name + ".npy")
		if err != nil {
			return err
		}

		if err := Write(w, arrays[name]); err != nil {
			return errors.Wrapf(err, "array %v", name)
		}
	}

	return nil
}
