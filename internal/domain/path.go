package domain

// Path is an ordered sequence of node identifiers, at least two long,
// together with the edge taken between each consecutive pair. Every
// consecutive pair must be connected by at least one edge in the graph
// at the time the path was produced.
type Path struct {
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// Len returns the number of nodes on the path.
func (p Path) Len() int {
	return len(p.Nodes)
}

// Source returns the first node id on the path.
func (p Path) Source() string {
	if len(p.Nodes) == 0 {
		return ""
	}
	return p.Nodes[0]
}

// Target returns the last node id on the path.
func (p Path) Target() string {
	if len(p.Nodes) == 0 {
		return ""
	}
	return p.Nodes[len(p.Nodes)-1]
}
