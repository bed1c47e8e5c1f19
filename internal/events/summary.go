package events

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"
)

// KindSummary aggregates the durations of one event kind
type KindSummary struct {
	Kind         Kind    `json:"kind"`
	Count        int     `json:"count"`
	TotalSeconds float64 `json:"total_seconds"`
	MeanSeconds  float64 `json:"mean_seconds"`
	MedianSecs   float64 `json:"median_seconds"`
	MaxSeconds   float64 `json:"max_seconds"`
	P95Seconds   float64 `json:"p95_seconds"`
	Anomalous    int     `json:"anomalous"`
}

// Summary is a per-kind breakdown, ordered like Kinds()
type Summary struct {
	Total int           `json:"total"`
	Kinds []KindSummary `json:"kinds"`
}

// Summarize computes duration statistics per kind. Point-in-time kinds
// (Drowsiness, Driver Absence) report counts with zero durations.
func Summarize(evs []Event) Summary {
	grouped := lo.GroupBy(evs, func(ev Event) Kind { return ev.Kind })

	kinds := lo.Keys(grouped)
	order := lo.SliceToMap(Kinds(), func(k Kind) (Kind, int) {
		return k, lo.IndexOf(Kinds(), k)
	})
	sort.Slice(kinds, func(i, j int) bool {
		oi, iok := order[kinds[i]]
		oj, jok := order[kinds[j]]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return kinds[i] < kinds[j]
	})

	out := Summary{Total: len(evs), Kinds: make([]KindSummary, 0, len(kinds))}
	for _, k := range kinds {
		group := grouped[k]
		durations := stats.Float64Data(lo.Map(group, func(ev Event, _ int) float64 { return ev.DurationSeconds }))

		ks := KindSummary{
			Kind:      k,
			Count:     len(group),
			Anomalous: lo.CountBy(group, func(ev Event) bool { return ev.Anomalous }),
		}
		ks.TotalSeconds = orZero(stats.Sum(durations))
		ks.MeanSeconds = orZero(stats.Mean(durations))
		ks.MedianSecs = orZero(stats.Median(durations))
		ks.MaxSeconds = orZero(stats.Max(durations))
		ks.P95Seconds = orZero(stats.Percentile(durations, 95))

		out.Kinds = append(out.Kinds, ks)
	}
	return out
}

// orZero keeps NaN out of JSON responses
func orZero(v float64, err error) float64 {
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return v
}
