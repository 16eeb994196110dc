package state

// MergeResult counts what a merge pulled in from the persisted copy.
type MergeResult struct {
	UsersAdded      int
	SlidesAdded     int
	SlidesReplaced  int
	ActivitiesAdded int
}

// Changed reports whether the merge modified the working copy.
func (r MergeResult) Changed() bool {
	return r.UsersAdded+r.SlidesAdded+r.SlidesReplaced+r.ActivitiesAdded > 0
}

// Merge reconciles the working copy mem with the persisted copy disk, mutating mem.
//
// Users only present on disk are adopted; a username known to mem is never overwritten.
// Presentations are keyed by presentation_id: disk-only records are appended, and a record
// present in both is replaced wholesale when the disk copy's last_modified is strictly later.
// Activities from disk that are not already present (structural equality) are appended in
// disk order.
//
// Last-timestamp-wins replaces whole records: two sessions editing different fields of the
// same presentation lose one side's edit.
func Merge(mem, disk *SharedState) MergeResult {
	var res MergeResult
	if mem == nil || disk == nil {
		return res
	}
	mem.Normalize()

	for name, u := range disk.Users {
		if u == nil {
			continue
		}
		if _, ok := mem.Users[name]; ok {
			continue
		}
		c := u.Clone()
		c.Username = name
		mem.Users[name] = c
		res.UsersAdded++
	}

	index := make(map[string]int, len(mem.Slides))
	for i, p := range mem.Slides {
		index[p.PresentationID] = i
	}
	for _, dp := range disk.Slides {
		if dp == nil || dp.PresentationID == "" {
			continue
		}
		i, ok := index[dp.PresentationID]
		if !ok {
			mem.Slides = append(mem.Slides, dp.Clone())
			index[dp.PresentationID] = len(mem.Slides) - 1
			res.SlidesAdded++
			continue
		}
		if dp.LastModified.After(mem.Slides[i].LastModified) {
			mem.Slides[i] = dp.Clone()
			res.SlidesReplaced++
		}
	}

	seen := make(map[activityKey]struct{}, len(mem.Activities))
	for _, a := range mem.Activities {
		seen[a.key()] = struct{}{}
	}
	for _, a := range disk.Activities {
		k := a.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		mem.Activities = append(mem.Activities, a)
		res.ActivitiesAdded++
	}

	return res
}
