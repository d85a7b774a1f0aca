package cluster

import (
	"context"

	"gonum.org/v1/gonum/floats"
)

const unvisited = -2

// DBSCAN groups points by density. A point is a core point when at least
// minSamples points (itself included) lie within eps of it. Labels are dense
// from 0 in discovery order; points reachable from no core point get -1.
type DBSCAN struct {
	Eps        float64
	MinSamples int
}

// Name identifies the method in clusters.json.
func (DBSCAN) Name() string { return "dbscan" }

// Group labels every embedding.
func (d DBSCAN) Group(ctx context.Context, points [][]float64) ([]int, error) {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}
	next := 0
	for i := range points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if labels[i] != unvisited {
			continue
		}
		seeds := d.neighbours(points, i)
		if len(seeds) < d.MinSamples {
			labels[i] = -1
			continue
		}
		labels[i] = next
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == -1 {
				labels[j] = next
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = next
			if more := d.neighbours(points, j); len(more) >= d.MinSamples {
				seeds = append(seeds, more...)
			}
		}
		next++
	}
	return labels, nil
}

func (d DBSCAN) neighbours(points [][]float64, i int) []int {
	var out []int
	for j := range points {
		if floats.Distance(points[i], points[j], 2) <= d.Eps {
			out = append(out, j)
		}
	}
	return out
}

// L2Normalize scales each vector to unit length in place; zero vectors are left alone.
func L2Normalize(vectors [][]float64) {
	for _, v := range vectors {
		if n := floats.Norm(v, 2); n > 0 {
			floats.Scale(1/n, v)
		}
	}
}
