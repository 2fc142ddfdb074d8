package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsageBytes returns the total size of paths. Directories are summed recursively,
// missing paths count as 0 and the data directory lock file is ignored.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// DiskUsageByEntry returns the size of each top-level entry of dir, keyed by name
// (the record database, ANN index directory, keyword index and fallback file).
// A missing dir yields an empty map.
func DiskUsageByEntry(dir string) (map[string]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	usage := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.Name() == lockFileName {
			continue
		}
		n, err := pathSize(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		usage[e.Name()] = n
	}
	return usage, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Files can vanish while a pass rewrites an index.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() == lockFileName {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
