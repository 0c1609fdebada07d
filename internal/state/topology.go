package state

import (
	"fmt"
	"sort"
)

type NodeKind string

const (
	NodeHomeserver NodeKind = "homeserver"
	NodeClient     NodeKind = "client"
)

type EdgeKind string

const (
	EdgeFederation EdgeKind = "federation"
	EdgeClient     EdgeKind = "client"
)

// Node is one box in the network diagram.
type Node struct {
	ID      string
	Kind    NodeKind
	Domain  string
	Ordinal int
	UserID  string
}

// Edge connects two nodes. Federation edges exist for every ordered pair of
// homeservers; Domain is the sending server.
type Edge struct {
	ID     string
	Source string
	Target string
	Kind   EdgeKind
	Domain string
}

// Topology is the diagram scaffolding derived from the session config.
type Topology struct {
	Nodes []Node
	Edges []Edge
}

// ClientNodeID names the node of the ordinal-th worker of domain.
func ClientNodeID(domain string, ordinal int) string {
	return fmt.Sprintf("%s/client%d", domain, ordinal+1)
}

// FederationEdgeID names the edge carrying requests from src to dst.
func FederationEdgeID(src, dst string) string {
	return src + "->" + dst
}

func buildTopology(homeservers []string, workers map[string]WorkerAction) Topology {
	domains := append([]string(nil), homeservers...)
	known := make(map[string]bool, len(domains))
	for _, d := range domains {
		known[d] = true
	}
	byDomain := map[string][]WorkerAction{}
	var extra []string
	for _, w := range workers {
		if !known[w.Domain] {
			known[w.Domain] = true
			extra = append(extra, w.Domain)
		}
		byDomain[w.Domain] = append(byDomain[w.Domain], w)
	}
	sort.Strings(extra)
	domains = append(domains, extra...)

	var topo Topology
	for _, d := range domains {
		topo.Nodes = append(topo.Nodes, Node{ID: d, Kind: NodeHomeserver, Domain: d})
	}
	for _, d := range domains {
		ws := byDomain[d]
		sort.Slice(ws, func(i, j int) bool { return ws[i].Ordinal < ws[j].Ordinal })
		for _, w := range ws {
			id := ClientNodeID(d, w.Ordinal)
			topo.Nodes = append(topo.Nodes, Node{ID: id, Kind: NodeClient, Domain: d, Ordinal: w.Ordinal, UserID: w.UserID})
			topo.Edges = append(topo.Edges, Edge{ID: id + "->" + d, Source: id, Target: d, Kind: EdgeClient, Domain: d})
		}
	}
	for _, src := range homeservers {
		for _, dst := range homeservers {
			if src == dst {
				continue
			}
			topo.Edges = append(topo.Edges, Edge{
				ID: FederationEdgeID(src, dst), Source: src, Target: dst, Kind: EdgeFederation, Domain: src,
			})
		}
	}
	return topo
}
