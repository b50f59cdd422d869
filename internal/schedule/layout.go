package schedule

import (
	"cmp"
	"slices"
	"time"

	"tutorcal/internal/model"
)

const minutesPerDay = 24 * 60

// span is an occurrence reduced to what column packing needs.
type span struct {
	index int
	id    string
	start int // minutes since midnight of the start day
	end   int
}

// Layout assigns every occurrence of a single day to a display column.
//
// Occurrences are sorted by (start, end) and grouped into clusters of direct
// or transitive overlap. Inside a cluster each occurrence takes the lowest
// column whose previous occupant has already ended. The result is keyed by
// occurrence id and does not depend on the order of dayOccurrences.
//
// Minutes are read in loc (time.Local if nil), the location the day was
// grouped by, whatever zone each occurrence was scheduled in.
func Layout[D any](dayOccurrences []model.Occurrence[D], loc *time.Location) map[string]model.LayoutSlot {
	out := make(map[string]model.LayoutSlot, len(dayOccurrences))
	for clusterID, cluster := range clusterSpans(sortedSpans(dayOccurrences, loc)) {
		columns, assigned := packColumns(cluster)
		for i, sp := range cluster {
			out[sp.id] = model.LayoutSlot{
				Column:    assigned[i],
				Columns:   columns,
				ClusterID: clusterID,
			}
		}
	}
	return out
}

// Clusters returns the occurrence ids of each cluster, in the order Layout
// numbers them.
func Clusters[D any](dayOccurrences []model.Occurrence[D], loc *time.Location) [][]string {
	clusters := clusterSpans(sortedSpans(dayOccurrences, loc))
	out := make([][]string, len(clusters))
	for i, cluster := range clusters {
		ids := make([]string, len(cluster))
		for j, sp := range cluster {
			ids[j] = sp.id
		}
		out[i] = ids
	}
	return out
}

func sortedSpans[D any](occs []model.Occurrence[D], loc *time.Location) []span {
	if loc == nil {
		loc = time.Local
	}
	spans := make([]span, len(occs))
	for i, occ := range occs {
		start, end := minutesOf(occ.StartAt, occ.EndAt, loc)
		spans[i] = span{index: i, id: occ.ID, start: start, end: end}
	}
	// Ties on (start, end) fall back to id so shuffled input lays out the
	// same way; index only separates duplicate ids.
	slices.SortFunc(spans, func(a, b span) int {
		return cmp.Or(
			cmp.Compare(a.start, b.start),
			cmp.Compare(a.end, b.end),
			cmp.Compare(a.id, b.id),
			cmp.Compare(a.index, b.index),
		)
	})
	return spans
}

// minutesOf measures start and end from midnight of the start day, so an
// occurrence running past midnight ends after minute 1440.
func minutesOf(startAt, endAt time.Time, loc *time.Location) (int, int) {
	s := startAt.In(loc)
	e := endAt.In(loc)
	start := s.Hour()*60 + s.Minute()
	end := int(dayOf(e, loc)-dayOf(s, loc))*minutesPerDay + e.Hour()*60 + e.Minute()
	if end < start {
		end = start
	}
	return start, end
}

func clusterSpans(spans []span) [][]span {
	var clusters [][]span
	clusterEnd := 0
	for _, sp := range spans {
		n := len(clusters)
		if n > 0 && sp.start < clusterEnd {
			clusters[n-1] = append(clusters[n-1], sp)
			clusterEnd = max(clusterEnd, sp.end)
			continue
		}
		clusters = append(clusters, []span{sp})
		clusterEnd = sp.end
	}
	return clusters
}

// packColumns greedily places each span in the lowest free column and
// returns the column count with the per-span assignment.
func packColumns(cluster []span) (int, []int) {
	var columnEnds []int
	assigned := make([]int, len(cluster))
	for i, sp := range cluster {
		col := -1
		for c, end := range columnEnds {
			if end <= sp.start {
				col = c
				break
			}
		}
		if col < 0 {
			col = len(columnEnds)
			columnEnds = append(columnEnds, sp.end)
		} else {
			columnEnds[col] = sp.end
		}
		assigned[i] = col
	}
	return len(columnEnds), assigned
}

// CapResult reports how a column cap hides part of a layout.
type CapResult struct {
	// Hidden holds ids laid out at or beyond the cap.
	Hidden map[string]bool
	// HiddenByCluster counts hidden occurrences per cluster id.
	HiddenByCluster map[int]int
}

// Cap applies a rendering cap of maxColumns to a Layout result. It reports
// what would sit behind a "+N more" affordance; slots are not modified.
// A cap below 1 hides nothing.
func Cap(slots map[string]model.LayoutSlot, maxColumns int) CapResult {
	res := CapResult{Hidden: map[string]bool{}, HiddenByCluster: map[int]int{}}
	if maxColumns < 1 {
		return res
	}
	for id, slot := range slots {
		if slot.Column >= maxColumns {
			res.Hidden[id] = true
			res.HiddenByCluster[slot.ClusterID]++
		}
	}
	return res
}
