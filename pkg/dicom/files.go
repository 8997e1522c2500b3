package dicom

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/synaptica-ai/vision-uploader/pkg/common/logger"
)

// FindFiles walks dir and returns every regular file whose extension matches
// ext, case-insensitively, in lexical order.
func FindFiles(dir, ext string) ([]string, error) {
	ext = "." + strings.TrimPrefix(strings.ToLower(ext), ".")

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.ToLower(filepath.Ext(path)) == ext {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadFiles parses every path. Files that fail to parse are logged and
// skipped so one corrupt object does not stop a run.
func LoadFiles(paths []string) []*Dataset {
	datasets := make([]*Dataset, 0, len(paths))
	for _, path := range paths {
		ds, err := LoadFile(path)
		if err != nil {
			logger.Log.WithError(err).WithField("path", path).Warn("skipping unreadable DICOM file")
			continue
		}
		datasets = append(datasets, ds)
	}
	return datasets
}

// Group is a set of datasets sharing one value of a grouping attribute.
type Group struct {
	Key      string
	Datasets []*Dataset
}

// GroupByField partitions datasets by the value of the named attribute,
// keeping groups in first-seen order.
func GroupByField(datasets []*Dataset, keyword string) ([]Group, error) {
	tag, ok := LookupKeyword(keyword)
	if !ok {
		return nil, fmt.Errorf("unknown DICOM keyword %q", keyword)
	}
	return GroupByTag(datasets, tag), nil
}

func GroupByTag(datasets []*Dataset, tag Tag) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, ds := range datasets {
		key := ds.Value(tag)
		i, seen := index[key]
		if !seen {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Datasets = append(groups[i].Datasets, ds)
	}
	return groups
}
