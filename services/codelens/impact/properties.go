// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// resolveFileDefaults walks the configured resource paths for property
// and YAML files and extracts literal values for the requested
// properties (exact names or trailing-* prefixes).
func resolveFileDefaults(resourcePaths, properties []string) []FileDefault {
	var out []FileDefault
	for _, root := range resourcePaths {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if d.Name() == ".git" || d.Name() == "target" {
					return filepath.SkipDir
				}
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".properties":
				out = append(out, defaultsFromProperties(path, properties)...)
			case ".yml", ".yaml":
				out = append(out, defaultsFromYAML(path, properties)...)
			}
			return nil
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Property != out[j].Property {
			return out[i].Property < out[j].Property
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out
}

// defaultsFromProperties parses key=value lines.
func defaultsFromProperties(path string, properties []string) []FileDefault {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []FileDefault
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		sep := strings.IndexAny(line, "=:")
		if sep <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		for _, p := range properties {
			if propertyMatches(p, key) {
				out = append(out, FileDefault{Property: key, Value: value, FilePath: path})
				break
			}
		}
	}
	return out
}

// defaultsFromYAML flattens nested keys into dotted property names.
func defaultsFromYAML(path string, properties []string) []FileDefault {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	flat := make(map[string]string)
	flattenYAML("", doc, flat)

	var out []FileDefault
	for key, value := range flat {
		for _, p := range properties {
			if propertyMatches(p, key) {
				out = append(out, FileDefault{Property: key, Value: value, FilePath: path})
				break
			}
		}
	}
	return out
}

func flattenYAML(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			full := key
			if prefix != "" {
				full = prefix + "." + key
			}
			flattenYAML(full, child, out)
		}
	case []any:
		// Lists are joined; property impact cares about scalar defaults.
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprintf("%v", item)
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprintf("%v", v)
	}
}
