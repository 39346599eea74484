// Package genesis загружает начальное распределение средств из YAML-файла.
package genesis

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/marketplace/internal/model"
)

type file struct {
	Alloc map[string]uint64 `yaml:"alloc"`
}

// Load читает файл распределения средств. Пустой путь означает пустое распределение.
func Load(path string) (map[model.Identity]uint64, error) {
	if path == "" {
		return map[model.Identity]uint64{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse разбирает распределение средств вида:
//
//	alloc:
//	  "0x5A321C2eD3E8aD7d725D5D4a4dD5aB5a6E7d8F9C": 1000
func Parse(r io.Reader) (map[model.Identity]uint64, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}

	alloc := make(map[model.Identity]uint64, len(f.Alloc))
	for raw, amount := range f.Alloc {
		id, err := model.ParseIdentity(raw)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc: %w", err)
		}
		if _, dup := alloc[id]; dup {
			return nil, fmt.Errorf("genesis alloc: duplicate account %s", id)
		}
		alloc[id] = amount
	}
	return alloc, nil
}
