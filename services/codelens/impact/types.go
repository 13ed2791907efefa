// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact resolves how named configuration properties flow
// through a codebase: who reads them, who binds them, who conditionally
// switches on them, and how badly a change would hurt.
package impact

import "strings"

// ReferenceKind classifies how a property is consumed.
type ReferenceKind string

const (
	// KindValueAnnotation is attribute-style injection: @Value("${name}").
	KindValueAnnotation ReferenceKind = "@Value"

	// KindEnvironmentLookup is environment.getProperty(...).
	KindEnvironmentLookup ReferenceKind = "Environment.getProperty"

	// KindPropertyBag is properties.getProperty(...) or properties.get(...).
	KindPropertyBag ReferenceKind = "Properties.getProperty"

	// KindPrefixBinding is @ConfigurationProperties("prefix").
	KindPrefixBinding ReferenceKind = "@ConfigurationProperties"

	// KindConditional is @ConditionalOnProperty / @ConditionalOnBean.
	KindConditional ReferenceKind = "@ConditionalOnProperty"
)

// ComponentType is the architectural role of the containing class.
type ComponentType string

const (
	ComponentController    ComponentType = "Controller"
	ComponentService       ComponentType = "Service"
	ComponentRepository    ComponentType = "Repository"
	ComponentConfiguration ComponentType = "Configuration"
	ComponentGeneric       ComponentType = "Component"
	ComponentOther         ComponentType = "Other"
)

// AccessPattern describes how the value is consumed at the use site.
type AccessPattern string

const (
	AccessDirect      AccessPattern = "direct"
	AccessFallback    AccessPattern = "fallback"
	AccessConditional AccessPattern = "conditional"
	AccessBinding     AccessPattern = "binding"
)

// Severity rates the blast radius of changing a property.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// mediumClassThreshold is the distinct-class count above which a
// non-critical property is rated MEDIUM.
const mediumClassThreshold = 5

// Reference is one detected property use.
type Reference struct {
	Property      string        `json:"property"`
	ClassFQN      string        `json:"class_fqn"`
	ComponentType ComponentType `json:"component_type"`
	Critical      bool          `json:"critical"`
	FilePath      string        `json:"file_path"`
	Line          int           `json:"line"`

	// Member is the field or method name at the use site.
	Member string `json:"member,omitempty"`

	Kind          ReferenceKind `json:"kind"`
	AccessPattern AccessPattern `json:"access_pattern"`

	// DefaultValue is the inline fallback (@Value("${name:default}")),
	// when present.
	DefaultValue string `json:"default_value,omitempty"`
}

// DatabaseOverride records a repository interface that may serve the
// property from persisted state at runtime.
type DatabaseOverride struct {
	InterfaceName string `json:"interface_name"`
	FinderMethod  string `json:"finder_method"`
	FilePath      string `json:"file_path"`
	Note          string `json:"note"`
}

// FileDefault is a literal value found in a property or YAML file.
type FileDefault struct {
	Property string `json:"property"`
	Value    string `json:"value"`
	FilePath string `json:"file_path"`
}

// PropertyImpact is the full analysis for one requested property.
type PropertyImpact struct {
	Property          string             `json:"property"`
	Severity          Severity           `json:"severity"`
	References        []Reference        `json:"references"`
	AffectedClasses   []string           `json:"affected_classes"`
	DatabaseOverrides []DatabaseOverride `json:"database_overrides,omitempty"`
	FileDefaults      []FileDefault      `json:"file_defaults,omitempty"`
}

// Result aggregates the analysis across all requested properties.
type Result struct {
	Impacts       []PropertyImpact `json:"impacts"`
	FilesScanned  int              `json:"files_scanned"`
	ElapsedMillis int64            `json:"elapsed_ms"`
}

// propertyMatches reports whether candidate satisfies the requested
// property name, which may end in '*' for prefix matching.
func propertyMatches(requested, candidate string) bool {
	if strings.HasSuffix(requested, "*") {
		return strings.HasPrefix(candidate, strings.TrimSuffix(requested, "*"))
	}
	return requested == candidate
}

// criticalSegments mark a package or class as a critical component.
var criticalSegments = []string{"security", "auth", "core", "persistence"}

// isCritical reports whether the class lives in a critical package, its
// name indicates security responsibilities, or it is a configuration
// class (a property change there typically rewires beans).
func isCritical(classFQN string) bool {
	lower := strings.ToLower(classFQN)
	pkg := lower
	if idx := strings.LastIndex(lower, "."); idx >= 0 {
		pkg = lower[:idx]
	}
	for _, seg := range criticalSegments {
		if strings.Contains(pkg, seg) {
			return true
		}
	}
	simple := lower
	if idx := strings.LastIndex(lower, "."); idx >= 0 {
		simple = lower[idx+1:]
	}
	if strings.Contains(simple, "security") || strings.Contains(simple, "auth") {
		return true
	}
	return strings.HasSuffix(simple, "config") || strings.HasSuffix(simple, "configuration")
}

// inferComponentType infers the architectural role from annotations,
// the class-name suffix, and the package segment, in that order.
func inferComponentType(classFQN string, annotations []string) ComponentType {
	for _, a := range annotations {
		switch strings.TrimPrefix(a, "@") {
		case "RestController", "Controller":
			return ComponentController
		case "Service":
			return ComponentService
		case "Repository":
			return ComponentRepository
		case "Configuration", "ConfigurationProperties":
			return ComponentConfiguration
		case "Component":
			return ComponentGeneric
		}
	}

	simple := classFQN
	if idx := strings.LastIndex(classFQN, "."); idx >= 0 {
		simple = classFQN[idx+1:]
	}
	switch {
	case strings.HasSuffix(simple, "Controller"):
		return ComponentController
	case strings.HasSuffix(simple, "Service"):
		return ComponentService
	case strings.HasSuffix(simple, "Repository"), strings.HasSuffix(simple, "Dao"):
		return ComponentRepository
	case strings.HasSuffix(simple, "Config"), strings.HasSuffix(simple, "Configuration"):
		return ComponentConfiguration
	}

	lowerPkg := strings.ToLower(classFQN)
	switch {
	case strings.Contains(lowerPkg, ".controller"):
		return ComponentController
	case strings.Contains(lowerPkg, ".service"):
		return ComponentService
	case strings.Contains(lowerPkg, ".repository"), strings.Contains(lowerPkg, ".dao"):
		return ComponentRepository
	case strings.Contains(lowerPkg, ".config"):
		return ComponentConfiguration
	}
	return ComponentOther
}
