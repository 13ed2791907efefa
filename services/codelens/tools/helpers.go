// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Parameter extraction helpers. Planner parameters arrive as
// map[string]any decoded from JSON, so numbers may be float64, ints, or
// strings depending on who built the plan.

// stringParam returns params[key] as a string, or def when absent.
func stringParam(params map[string]any, key, def string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", key, raw)
	}
	return s, nil
}

// intParam returns params[key] as an int, tolerating float64 and
// numeric strings.
func intParam(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("parameter %q must be an integer: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("parameter %q must be an integer, got %T", key, raw)
	}
}

// floatParam returns params[key] as a float64.
func floatParam(params map[string]any, key string, def float64) (float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %q must be a number: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, raw)
	}
}

// boolParam returns params[key] as a bool, tolerating "true"/"false".
func boolParam(params map[string]any, key string, def bool) (bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("parameter %q must be a boolean: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("parameter %q must be a boolean, got %T", key, raw)
	}
}

// stringSliceParam returns params[key] as []string, tolerating a JSON
// array of any or a comma-separated string.
func stringSliceParam(params map[string]any, key string) ([]string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %q must contain strings, got %T", key, item)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %q must be a string list, got %T", key, raw)
	}
}

// rePropertyName matches dotted configuration property names in free
// text, e.g. spring.datasource.url or my.feature.enabled*.
var rePropertyName = regexp.MustCompile(`\b[a-z][\w-]*(?:\.[\w-]+)+\*?`)

// extractPropertyNames pulls likely property names out of a query when
// the caller supplied none.
func extractPropertyNames(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range rePropertyName.FindAllString(query, -1) {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// genericWords are too vague to anchor a structural lookup.
var genericWords = map[string]bool{
	"code": true, "class": true, "method": true, "function": true,
	"file": true, "error": true, "exception": true, "the": true,
	"what": true, "where": true, "how": true, "show": true, "find": true,
}

// extractIdentifiers pulls CamelCase or dotted identifiers out of a
// query, filtering generic words.
var reIdentifier = regexp.MustCompile(`\b[A-Z][A-Za-z0-9]+(?:\.[A-Za-z_][A-Za-z0-9_]*)*\b|\b[a-z][A-Za-z0-9]*[A-Z][A-Za-z0-9]*\b`)

func extractIdentifiers(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range reIdentifier.FindAllString(query, -1) {
		if genericWords[strings.ToLower(m)] {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
