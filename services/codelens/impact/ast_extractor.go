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
	"context"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// astExtractor detects property references from a real parse tree. It
// is the primary detector: precise member attribution, reliable line
// numbers, and conditional-context detection via ancestor inspection.
//
// Parsers are not safe for concurrent use, so one is created per call.
type astExtractor struct{}

var rePlaceholder = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// Extract parses source as Java and walks the tree for property uses.
func (astExtractor) Extract(ctx context.Context, filePath, source string, properties []string) ([]Reference, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(java.GetLanguage())
	src := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	defer tree.Close()

	w := &astWalker{
		src:        src,
		filePath:   filePath,
		properties: properties,
	}
	w.walk(tree.RootNode())
	return w.refs, nil
}

type astWalker struct {
	src        []byte
	filePath   string
	properties []string

	pkg              string
	classFQN         string
	classAnnotations []string

	refs []Reference
}

func (w *astWalker) matchAny(candidate string) bool {
	for _, p := range w.properties {
		if propertyMatches(p, candidate) {
			return true
		}
	}
	return false
}

func (w *astWalker) walk(node *sitter.Node) {
	switch node.Type() {
	case "package_declaration":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "scoped_identifier" || child.Type() == "identifier" {
				w.pkg = child.Content(w.src)
			}
		}

	case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
		// Innermost type wins for nested classes; references inside a
		// nested type attribute to it.
		prevFQN, prevAnns := w.classFQN, w.classAnnotations
		if name := node.ChildByFieldName("name"); name != nil {
			w.classFQN = name.Content(w.src)
			if w.pkg != "" {
				w.classFQN = w.pkg + "." + w.classFQN
			}
		}
		w.classAnnotations = annotationNames(node, w.src)
		for i := 0; i < int(node.NamedChildCount()); i++ {
			w.walk(node.NamedChild(i))
		}
		w.classFQN, w.classAnnotations = prevFQN, prevAnns
		return

	case "annotation", "marker_annotation":
		w.visitAnnotation(node)

	case "method_invocation":
		w.visitInvocation(node)
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		w.walk(node.NamedChild(i))
	}
}

func (w *astWalker) visitAnnotation(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	args := ""
	if a := node.ChildByFieldName("arguments"); a != nil {
		args = a.Content(w.src)
	}
	line := int(node.StartPoint().Row) + 1

	switch nameNode.Content(w.src) {
	case "Value":
		for _, m := range rePlaceholder.FindAllStringSubmatch(args, -1) {
			prop := strings.TrimSpace(m[1])
			if !w.matchAny(prop) {
				continue
			}
			access := AccessDirect
			if m[2] != "" {
				access = AccessFallback
			}
			w.emit(prop, KindValueAnnotation, access, memberOf(node, w.src), m[2], line)
		}

	case "ConfigurationProperties":
		prefix := firstStringLiteral(args)
		if prefix == "" {
			return
		}
		for _, p := range w.properties {
			want := strings.TrimSuffix(p, "*")
			if strings.HasPrefix(want, prefix) || strings.HasPrefix(prefix, want) {
				w.emit(want, KindPrefixBinding, AccessBinding, memberOf(node, w.src), "", line)
				return
			}
		}

	case "ConditionalOnProperty", "ConditionalOnBean":
		for _, lit := range allStringLiterals(args) {
			if w.matchAny(lit) {
				w.emit(lit, KindConditional, AccessConditional, memberOf(node, w.src), "", line)
			}
		}
	}
}

func (w *astWalker) visitInvocation(node *sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	objNode := node.ChildByFieldName("object")
	if nameNode == nil || objNode == nil {
		return
	}
	method := nameNode.Content(w.src)
	receiver := strings.ToLower(objNode.Content(w.src))

	var kind ReferenceKind
	switch {
	case method == "getProperty" && strings.Contains(receiver, "environment"):
		kind = KindEnvironmentLookup
	case (method == "getProperty" || method == "get") && strings.Contains(receiver, "properties"):
		kind = KindPropertyBag
	default:
		return
	}

	argsNode := node.ChildByFieldName("arguments")
	if argsNode == nil {
		return
	}
	prop := firstStringLiteral(argsNode.Content(w.src))
	if prop == "" || !w.matchAny(prop) {
		return
	}

	access := AccessDirect
	if insideCondition(node) {
		access = AccessConditional
	}
	w.emit(prop, kind, access, enclosingMethodName(node, w.src), "", int(node.StartPoint().Row)+1)
}

func (w *astWalker) emit(prop string, kind ReferenceKind, access AccessPattern, member, def string, line int) {
	w.refs = append(w.refs, Reference{
		Property:      prop,
		ClassFQN:      w.classFQN,
		ComponentType: inferComponentType(w.classFQN, w.classAnnotations),
		Critical:      isCritical(w.classFQN),
		FilePath:      w.filePath,
		Line:          line,
		Member:        member,
		Kind:          kind,
		AccessPattern: access,
		DefaultValue:  def,
	})
}

// annotationNames collects @Names from a type declaration's modifiers.
func annotationNames(decl *sitter.Node, src []byte) []string {
	var names []string
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		child := decl.NamedChild(i)
		if child.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			ann := child.NamedChild(j)
			if ann.Type() != "annotation" && ann.Type() != "marker_annotation" {
				continue
			}
			if name := ann.ChildByFieldName("name"); name != nil {
				names = append(names, "@"+name.Content(src))
			}
		}
	}
	return names
}

// memberOf resolves the field or method an annotation decorates.
func memberOf(ann *sitter.Node, src []byte) string {
	for n := ann.Parent(); n != nil; n = n.Parent() {
		switch n.Type() {
		case "field_declaration":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				if child.Type() == "variable_declarator" {
					if name := child.ChildByFieldName("name"); name != nil {
						return name.Content(src)
					}
				}
			}
			return ""
		case "method_declaration", "constructor_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				return name.Content(src)
			}
			return ""
		case "class_declaration", "interface_declaration":
			return ""
		}
	}
	return ""
}

// enclosingMethodName finds the method containing a use site.
func enclosingMethodName(node *sitter.Node, src []byte) string {
	for n := node.Parent(); n != nil; n = n.Parent() {
		if n.Type() == "method_declaration" || n.Type() == "constructor_declaration" {
			if name := n.ChildByFieldName("name"); name != nil {
				return name.Content(src)
			}
		}
	}
	return ""
}

// insideCondition reports whether the node sits under a branch or loop.
func insideCondition(node *sitter.Node) bool {
	for n := node.Parent(); n != nil; n = n.Parent() {
		switch n.Type() {
		case "if_statement", "while_statement", "for_statement",
			"enhanced_for_statement", "ternary_expression", "switch_expression":
			return true
		case "method_declaration", "class_declaration":
			return false
		}
	}
	return false
}

// firstStringLiteral extracts the first double-quoted literal in text.
func firstStringLiteral(text string) string {
	all := allStringLiterals(text)
	if len(all) == 0 {
		return ""
	}
	return all[0]
}

var reStringLit = regexp.MustCompile(`"([^"]*)"`)

func allStringLiterals(text string) []string {
	var out []string
	for _, m := range reStringLit.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}
