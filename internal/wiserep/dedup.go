package wiserep

import (
	"sort"
	"time"
)

// UploadSetActor is the bulk-upload account whose re-uploads produce
// duplicate rows with identical observation fields.
const UploadSetActor = "ofer-UploadSet"

// LastModifiedLayout is the date format of the Last-modified column.
const LastModifiedLayout = "2006-01-02"

// Duplicate reasons.
const (
	ReasonObservation = "observation"
	ReasonUploadSet   = "upload-set"
)

// DuplicatePair names two entries describing the same observation. A
// precedes B in table order.
type DuplicatePair struct {
	A, B   string
	Reason string
}

// FindDuplicatePairs compares every distinct pair of entries on observation
// date, instrument and observer.
func FindDuplicatePairs(h *Haul) []DuplicatePair {
	recs := h.Records()
	var pairs []DuplicatePair
	for i := 0; i < len(recs); i++ {
		for j := i + 1; j < len(recs); j++ {
			a, b := recs[i], recs[j]
			if a.ObsDate != b.ObsDate || a.Instrument != b.Instrument || a.Observer != b.Observer {
				continue
			}
			reason := ReasonObservation
			if a.ModifiedBy == UploadSetActor && b.ModifiedBy == UploadSetActor {
				reason = ReasonUploadSet
			}
			pairs = append(pairs, DuplicatePair{A: a.Filename, B: b.Filename, Reason: reason})
		}
	}
	return pairs
}

// Resolution reports what Resolve removed.
type Resolution struct {
	// HostRemoved is set when the event's host spectrum was in the haul.
	HostRemoved bool
	// Empty is set when nothing was left after host removal.
	Empty bool
	// RapidRemoved lists rapid reductions dropped in favour of other files.
	RapidRemoved []string
	// Pairs are the equivalent pairs found after rapid removal.
	Pairs []DuplicatePair
	// Candidates is the number of distinct files appearing in Pairs.
	Candidates int
	// DuplicatesRemoved lists files dropped as older copies.
	DuplicatesRemoved []string
	// Overflow is set when more than two files were duplicate candidates.
	Overflow bool
	// BadDates lists candidates whose Last-modified did not parse.
	BadDates []string
}

// Resolve removes the host spectrum, rapid reductions and older duplicate
// copies from h in place. Running it again on its output removes nothing.
func Resolve(h *Haul, hostFilename string) Resolution {
	var res Resolution
	if hostFilename != "" {
		res.HostRemoved = h.Remove(hostFilename)
	}
	if h.Len() == 0 {
		res.Empty = true
		return res
	}
	if h.Len() == 1 {
		return res
	}

	for _, rec := range h.Records() {
		if rec.ReductionStatus == StatusRapid {
			h.Remove(rec.Filename)
			res.RapidRemoved = append(res.RapidRemoved, rec.Filename)
		}
	}

	res.Pairs = FindDuplicatePairs(h)
	groups := groupPairs(h, res.Pairs)
	for _, g := range groups {
		res.Candidates += len(g)
	}
	if res.Candidates < 2 {
		return res
	}
	res.Overflow = res.Candidates > 2

	for _, g := range groups {
		keep, bad := latest(h, g)
		res.BadDates = append(res.BadDates, bad...)
		for _, name := range g {
			if name == keep {
				continue
			}
			h.Remove(name)
			res.DuplicatesRemoved = append(res.DuplicatesRemoved, name)
		}
	}
	return res
}

// groupPairs merges pairs into equivalence classes. Each class lists its
// members in table order and classes are ordered by their first member.
func groupPairs(h *Haul, pairs []DuplicatePair) [][]string {
	if len(pairs) == 0 {
		return nil
	}
	parent := make(map[string]string)
	var find func(string) string
	find = func(x string) string {
		p, ok := parent[x]
		if !ok || p == x {
			parent[x] = x
			return x
		}
		root := find(p)
		parent[x] = root
		return root
	}
	for _, p := range pairs {
		ra, rb := find(p.A), find(p.B)
		if ra != rb {
			parent[rb] = ra
		}
	}

	position := make(map[string]int)
	for i, name := range h.Filenames() {
		position[name] = i
	}
	members := make(map[string][]string)
	for name := range parent {
		root := find(name)
		members[root] = append(members[root], name)
	}
	groups := make([][]string, 0, len(members))
	for _, g := range members {
		sort.Slice(g, func(i, j int) bool { return position[g[i]] < position[g[j]] })
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return position[groups[i][0]] < position[groups[j][0]] })
	return groups
}

// latest returns the most recently modified member of group, preferring the
// later entry on ties. Unparseable dates count as oldest.
func latest(h *Haul, group []string) (string, []string) {
	var (
		keep     string
		keepTime time.Time
		bad      []string
	)
	for _, name := range group {
		rec, _ := h.Record(name)
		ts, err := time.Parse(LastModifiedLayout, rec.LastModified)
		if err != nil {
			bad = append(bad, name)
			ts = time.Time{}
		}
		if keep == "" || !ts.Before(keepTime) {
			keep, keepTime = name, ts
		}
	}
	return keep, bad
}
