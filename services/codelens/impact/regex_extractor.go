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

// regexExtractor is the fast line-oriented detector. It trades a little
// precision for never needing a parse tree, and serves as the fallback
// when the AST extractor cannot parse a file.
type regexExtractor struct{}

var (
	reValueAnnotation = regexp.MustCompile(`@Value\s*\(\s*"\$\{([^}:"]+)(?::([^}"]*))?\}"\s*\)`)
	reEnvLookup       = regexp.MustCompile(`(\w*[eE]nvironment)\s*\.\s*getProperty\s*\(\s*"([^"]+)"`)
	rePropertyBag     = regexp.MustCompile(`(\w*[pP]roperties)\s*\.\s*(?:getProperty|get)\s*\(\s*"([^"]+)"`)
	rePrefixBinding   = regexp.MustCompile(`@ConfigurationProperties\s*\(\s*(?:prefix\s*=\s*)?"([^"]+)"`)
	reConditional     = regexp.MustCompile(`@Conditional(?:OnProperty|OnBean)\s*\(([^)]*)\)`)
	reConditionalName = regexp.MustCompile(`(?:name|value|prefix)\s*=\s*"([^"]+)"`)

	rePackageDecl = regexp.MustCompile(`^\s*package\s+([\w.]+)\s*;`)
	reClassDecl   = regexp.MustCompile(`\b(?:class|interface|enum|record)\s+(\w+)`)
	reAnnotation  = regexp.MustCompile(`^\s*(@\w+)`)
	reMemberName  = regexp.MustCompile(`\b(\w+)\s*[;=(]`)
)

// Extract scans source line by line for property references matching any
// of the requested property names (exact or trailing-* prefix).
func (regexExtractor) Extract(filePath, source string, properties []string) []Reference {
	lines := strings.Split(source, "\n")

	var (
		pkg              string
		classFQN         string
		classAnnotations []string
		pendingAnns      []string
		refs             []Reference
	)

	matchAny := func(candidate string) (string, bool) {
		for _, p := range properties {
			if propertyMatches(p, candidate) {
				return candidate, true
			}
		}
		return "", false
	}

	// memberNear finds the declared field or method name at or just
	// below an annotation line.
	memberNear := func(idx int) string {
		for j := idx; j < len(lines) && j <= idx+3; j++ {
			trimmed := strings.TrimSpace(lines[j])
			if trimmed == "" || strings.HasPrefix(trimmed, "@") || strings.HasPrefix(trimmed, "//") {
				continue
			}
			all := reMemberName.FindAllStringSubmatch(trimmed, -1)
			if len(all) > 0 {
				return all[len(all)-1][1]
			}
		}
		return ""
	}

	for i, line := range lines {
		lineNo := i + 1

		if pkg == "" {
			if m := rePackageDecl.FindStringSubmatch(line); m != nil {
				pkg = m[1]
				continue
			}
		}
		if m := reAnnotation.FindStringSubmatch(line); m != nil {
			pendingAnns = append(pendingAnns, m[1])
		}
		if m := reClassDecl.FindStringSubmatch(line); m != nil && classFQN == "" {
			classFQN = m[1]
			if pkg != "" {
				classFQN = pkg + "." + classFQN
			}
			classAnnotations = pendingAnns
			pendingAnns = nil
		}

		emit := func(prop string, kind ReferenceKind, access AccessPattern, member, def string) {
			refs = append(refs, Reference{
				Property:      prop,
				ClassFQN:      classFQN,
				ComponentType: inferComponentType(classFQN, classAnnotations),
				Critical:      isCritical(classFQN),
				FilePath:      filePath,
				Line:          lineNo,
				Member:        member,
				Kind:          kind,
				AccessPattern: access,
				DefaultValue:  def,
			})
		}

		inCondition := strings.Contains(line, "if ") || strings.Contains(line, "if(") ||
			strings.Contains(line, "while") || strings.Contains(line, "for ") ||
			strings.Contains(line, "for(") || strings.Contains(line, "? ")

		if m := reValueAnnotation.FindStringSubmatch(line); m != nil {
			if prop, ok := matchAny(m[1]); ok {
				access := AccessDirect
				if m[2] != "" {
					access = AccessFallback
				}
				emit(prop, KindValueAnnotation, access, memberNear(i+1), m[2])
			}
		}
		if m := reEnvLookup.FindStringSubmatch(line); m != nil {
			if prop, ok := matchAny(m[2]); ok {
				access := AccessDirect
				if inCondition {
					access = AccessConditional
				}
				emit(prop, KindEnvironmentLookup, access, "", "")
			}
		}
		if m := rePropertyBag.FindStringSubmatch(line); m != nil {
			if prop, ok := matchAny(m[2]); ok {
				access := AccessDirect
				if inCondition {
					access = AccessConditional
				}
				emit(prop, KindPropertyBag, access, "", "")
			}
		}
		if m := rePrefixBinding.FindStringSubmatch(line); m != nil {
			prefix := m[1]
			for _, p := range properties {
				// A prefix binding covers every property under it.
				want := strings.TrimSuffix(p, "*")
				if strings.HasPrefix(want, prefix) || strings.HasPrefix(prefix, want) {
					emit(strings.TrimSuffix(p, "*"), KindPrefixBinding, AccessBinding, "", "")
					break
				}
			}
		}
		if m := reConditional.FindStringSubmatch(line); m != nil {
			for _, nm := range reConditionalName.FindAllStringSubmatch(m[1], -1) {
				if prop, ok := matchAny(nm[1]); ok {
					emit(prop, KindConditional, AccessConditional, "", "")
				}
			}
		}
	}
	return refs
}
