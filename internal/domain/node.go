// Package domain holds the shared types that flow between every other
// package in the engine: graph primitives, alerts, actions, plans, and
// audit entries. No package in internal/domain talks to disk or the
// network; it is pure data.
package domain

// NodeKind is the type of principal or resource a Node represents.
type NodeKind string

const (
	NodeUser     NodeKind = "user"
	NodeGroup    NodeKind = "group"
	NodeRole     NodeKind = "role"
	NodePolicy   NodeKind = "policy"
	NodeResource NodeKind = "resource"
	NodeService  NodeKind = "service"
)

const (
	PrivilegeMin = 0
	PrivilegeMax = 100
)

// Node is a vertex in the identity graph. Nodes are owned exclusively by
// the graph store: created on ingest, replaced wholesale on re-ingest,
// never mutated by detection or response.
type Node struct {
	ID             string            `json:"id"`
	Kind           NodeKind          `json:"kind"`
	DisplayName    string            `json:"display_name"`
	PrivilegeLevel int               `json:"privilege_level"`
	Attrs          map[string]string `json:"attrs,omitempty"`
}

// Clamp clamps PrivilegeLevel into [PrivilegeMin, PrivilegeMax] in place.
func (n *Node) Clamp() {
	if n.PrivilegeLevel < PrivilegeMin {
		n.PrivilegeLevel = PrivilegeMin
	}
	if n.PrivilegeLevel > PrivilegeMax {
		n.PrivilegeLevel = PrivilegeMax
	}
}
