// Package schema models the user-defined recursive field schemas that rules
// declare for extraction. A schema is a tree of nodes, each of which is a
// leaf field, an object with named children, an array of a single item
// shape, or a table with named columns.
//
// Field paths are dotted strings ("order.lines.qty"). Array and table nodes
// broadcast: a path that traverses an array node addresses that member in
// every element.
package schema

import (
	"fmt"
	"strings"
)

// NodeType identifies the kind of a schema node.
type NodeType string

const (
	TypeField  NodeType = "field"
	TypeObject NodeType = "object"
	TypeArray  NodeType = "array"
	TypeTable  NodeType = "table"
)

// Node is a single node in a rule's field schema. Exactly one of
// Properties, Items or Columns is populated depending on Type.
type Node struct {
	Type     NodeType `json:"type"`
	Label    string   `json:"label,omitempty"`
	Required bool     `json:"required,omitempty"`
	// ConfidenceThreshold overrides the rule default for this field.
	// Values are percentages in [0,100]; nil means inherit.
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`

	Properties map[string]*Node `json:"properties,omitempty"`
	Items      *Node            `json:"items,omitempty"`
	Columns    map[string]*Node `json:"columns,omitempty"`
}

// Resolve returns the node addressed by the dotted path, descending through
// array and table nodes implicitly (broadcast). An empty path returns the
// root.
func (n *Node) Resolve(path string) (*Node, error) {
	if n == nil {
		return nil, fmt.Errorf("schema: nil root")
	}
	if path == "" {
		return n, nil
	}
	cur := n
	for _, part := range strings.Split(path, ".") {
		// Step into array/table element shape before matching the key.
		for cur.Type == TypeArray && cur.Items != nil {
			cur = cur.Items
		}
		var next *Node
		switch cur.Type {
		case TypeObject:
			next = cur.Properties[part]
		case TypeTable:
			next = cur.Columns[part]
		default:
			return nil, fmt.Errorf("schema: path %q traverses leaf node", path)
		}
		if next == nil {
			return nil, fmt.Errorf("schema: path %q not found", path)
		}
		cur = next
	}
	return cur, nil
}

// Walk calls fn for every node in the tree with its dotted path. Array and
// table element shapes are visited under the parent path (broadcast
// semantics: one path addresses all elements).
func (n *Node) Walk(fn func(path string, node *Node)) {
	n.walk("", fn)
}

func (n *Node) walk(prefix string, fn func(string, *Node)) {
	if n == nil {
		return
	}
	fn(prefix, n)
	join := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}
	switch n.Type {
	case TypeObject:
		for key, child := range n.Properties {
			child.walk(join(key), fn)
		}
	case TypeArray:
		if n.Items != nil && n.Items.Type != TypeField {
			n.Items.walk(prefix, fn)
		}
	case TypeTable:
		for key, col := range n.Columns {
			col.walk(join(key), fn)
		}
	}
}

// LeafPaths returns the dotted paths of every leaf field in the schema,
// in no particular order.
func (n *Node) LeafPaths() []string {
	var paths []string
	n.Walk(func(path string, node *Node) {
		if node.Type == TypeField && path != "" {
			paths = append(paths, path)
		}
	})
	return paths
}

// IsCollection reports whether the node holds indexed children.
func (n *Node) IsCollection() bool {
	return n != nil && (n.Type == TypeArray || n.Type == TypeTable)
}

// Validate checks structural consistency of the schema tree.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("schema: nil node")
	}
	if t := n.ConfidenceThreshold; t != nil && (*t < 0 || *t > 100) {
		return fmt.Errorf("schema: confidence threshold %v out of [0,100]", *t)
	}
	switch n.Type {
	case TypeField:
		if len(n.Properties) > 0 || n.Items != nil || len(n.Columns) > 0 {
			return fmt.Errorf("schema: field node must not have children")
		}
	case TypeObject:
		for key, child := range n.Properties {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	case TypeArray:
		if n.Items == nil {
			return fmt.Errorf("schema: array node requires items")
		}
		if err := n.Items.Validate(); err != nil {
			return fmt.Errorf("items: %w", err)
		}
	case TypeTable:
		if len(n.Columns) == 0 {
			return fmt.Errorf("schema: table node requires columns")
		}
		for key, col := range n.Columns {
			if err := col.Validate(); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	default:
		return fmt.Errorf("schema: unknown node type %q", n.Type)
	}
	return nil
}
