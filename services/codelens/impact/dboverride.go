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
	"regexp"
	"strings"
)

// Heuristic for configuration persisted in a database: a repository
// interface named like a config holder, with a finder that references
// the property's leaf name, can override the file value at runtime.
var (
	reConfigInterface = regexp.MustCompile(`\binterface\s+(\w*(?:Config|Setting|Option)\w*)\b`)
	reFinderMethod    = regexp.MustCompile(`\b((?:find|get|read|query)[A-Z]\w*)\s*\(`)
)

// detectDatabaseOverrides scans one source file for the heuristic.
func detectDatabaseOverrides(filePath, source string, properties []string) []DatabaseOverride {
	m := reConfigInterface.FindStringSubmatch(source)
	if m == nil {
		return nil
	}
	interfaceName := m[1]

	var out []DatabaseOverride
	for _, finder := range reFinderMethod.FindAllStringSubmatch(source, -1) {
		method := finder[1]
		lowerMethod := strings.ToLower(method)
		for _, p := range properties {
			leaf := propertyLeaf(p)
			if leaf == "" || !strings.Contains(lowerMethod, strings.ToLower(leaf)) {
				continue
			}
			out = append(out, DatabaseOverride{
				InterfaceName: interfaceName,
				FinderMethod:  method,
				FilePath:      filePath,
				Note:          "property may be overridden by a persisted value; check " + interfaceName + "." + method,
			})
			break
		}
	}
	return out
}

// propertyLeaf returns the last dot segment of a property name, with
// any wildcard suffix stripped.
func propertyLeaf(property string) string {
	property = strings.TrimSuffix(property, "*")
	property = strings.TrimSuffix(property, ".")
	if idx := strings.LastIndex(property, "."); idx >= 0 {
		property = property[idx+1:]
	}
	return property
}
