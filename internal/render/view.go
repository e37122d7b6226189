// Package render turns cluster nodes into map markers carrying a NodeView
// that tells a tap handler what was hit.
package render

// NodeView is the semantic payload of a marker: a ClusterView or a NoiseView.
type NodeView interface {
	Weight() int
	isNodeView()
}

// ClusterView describes an aggregate marker. It exposes no point payload.
type ClusterView struct {
	NodeID int
	Count  int
}

func (v ClusterView) Weight() int { return v.Count }
func (ClusterView) isNodeView()   {}

// NoiseView describes a single point drawn on its own.
type NoiseView struct {
	NodeID  int
	Payload any
}

func (NoiseView) Weight() int { return 1 }
func (NoiseView) isNodeView() {}
