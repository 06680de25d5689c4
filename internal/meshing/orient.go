package meshing

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/arrajeevchandar/aerominds/internal/geometry"
)

type graphEdge struct {
	a, b   int
	weight float64
	dist   float64
}

// OrientNormals makes normal signs consistent across the cloud. It builds
// the symmetric k nearest neighbour graph weighted by 1-|ni.nj|, takes its
// minimum spanning forest and walks each tree breadth first from its lowest
// index point, flipping every child that disagrees with its parent. Roots
// keep their sign, so only relative consistency is guaranteed.
//
// Equal weights are ordered by Euclidean distance and then by the index pair,
// which makes the result independent of scheduling.
func OrientNormals(ctx context.Context, pc *geometry.PointCloud, k int, workers int) error {
	n := pc.Len()
	if n < 2 {
		return nil
	}
	if !pc.HasNormals() {
		return fmt.Errorf("orient normals: cloud has no normals")
	}
	if k > n-1 {
		k = n - 1
	}

	ix := geometry.NewIndex(pc.Points)
	nbrs := make([][]geometry.Neighbor, n)
	err := parallelFor(ctx, n, workers, func(from, to int) error {
		for i := from; i < to; i++ {
			nbrs[i] = ix.KNearestOf(i, k)
		}
		return nil
	})
	if err != nil {
		return err
	}

	edges := make([]graphEdge, 0, n*k)
	for i, list := range nbrs {
		for _, nb := range list {
			a, b := i, nb.Index
			if a > b {
				a, b = b, a
			}
			w := 1 - math.Abs(pc.Normals[a].Dot(pc.Normals[b]))
			edges = append(edges, graphEdge{a: a, b: b, weight: w, dist: nb.Distance})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		ei, ej := edges[i], edges[j]
		if ei.weight != ej.weight {
			return ei.weight < ej.weight
		}
		if ei.dist != ej.dist {
			return ei.dist < ej.dist
		}
		if ei.a != ej.a {
			return ei.a < ej.a
		}
		return ei.b < ej.b
	})

	if err := ctx.Err(); err != nil {
		return err
	}

	tree := kruskal(n, edges)
	propagateSigns(pc, tree)
	return nil
}

// kruskal returns the adjacency lists of the minimum spanning forest.
// Duplicate edges are harmless: the second copy always closes a cycle.
func kruskal(n int, sorted []graphEdge) [][]int {
	parent := identity(n)
	rank := make([]int, n)
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	adj := make([][]int, n)
	for _, e := range sorted {
		ra, rb := find(e.a), find(e.b)
		if ra == rb {
			continue
		}
		switch {
		case rank[ra] < rank[rb]:
			parent[ra] = rb
		case rank[ra] > rank[rb]:
			parent[rb] = ra
		default:
			parent[rb] = ra
			rank[ra]++
		}
		adj[e.a] = append(adj[e.a], e.b)
		adj[e.b] = append(adj[e.b], e.a)
	}
	return adj
}

func propagateSigns(pc *geometry.PointCloud, adj [][]int) {
	visited := make([]bool, len(adj))
	queue := make([]int, 0, len(adj))
	for root := range adj {
		if visited[root] {
			continue
		}
		visited[root] = true
		queue = append(queue[:0], root)
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for _, v := range adj[u] {
				if visited[v] {
					continue
				}
				visited[v] = true
				if pc.Normals[u].Dot(pc.Normals[v]) < 0 {
					pc.Normals[v] = pc.Normals[v].Mul(-1)
				}
				queue = append(queue, v)
			}
		}
	}
}
