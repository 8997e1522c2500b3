package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

const accessionColumn = "New AccessionNumber"

// readAccessions returns the accession column of an upload map. Blank cells
// are skipped; duplicates are kept for the scheduler to collapse.
func readAccessions(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == accessionColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("no %q column", accessionColumn)
	}

	var accessions []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if col < len(record) && strings.TrimSpace(record[col]) != "" {
			accessions = append(accessions, strings.TrimSpace(record[col]))
		}
	}
	return accessions, nil
}

func readAccessionsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	accessions, err := readAccessions(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return accessions, nil
}
