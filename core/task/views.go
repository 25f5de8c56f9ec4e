package task

import (
	"sort"
	"time"
)

// Derived views over the cached task collection. All functions here are pure:
// they never touch the store and may be recomputed on every render.

// DueBuckets splits pending tasks by calendar day relative to `now`:
// overdue (before today), due today, and due later this week (today excluded).
// Tasks without a due date and completed tasks fall in no bucket.
type DueBuckets struct {
	Overdue  []Task `json:"overdue"`
	Today    []Task `json:"today"`
	ThisWeek []Task `json:"thisWeek"`
}

func BucketByDue(tasks []Task, now time.Time) DueBuckets {
	b := DueBuckets{
		Overdue:  []Task{},
		Today:    []Task{},
		ThisWeek: []Task{},
	}
	today := startOfDay(now)
	weekEnd := endOfWeek(now)

	for _, t := range tasks {
		if t.Status != StatusPending || t.DueDate == nil {
			continue
		}
		due := startOfDay(t.DueDate.In(now.Location()))
		switch {
		case due.Before(today):
			b.Overdue = append(b.Overdue, t)
		case due.Equal(today):
			b.Today = append(b.Today, t)
		case !due.After(weekEnd):
			b.ThisWeek = append(b.ThisWeek, t)
		}
	}
	return b
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// endOfWeek returns the start of the week's last day, weeks running
// Sunday through Saturday.
func endOfWeek(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 6-int(t.Weekday()))
}

// CourseStats are per-course completion counts.
type CourseStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Progress  int `json:"progress"` // completion percentage, 0 for an empty course
}

// StatsForCourse computes completion stats over the tasks of one course.
func StatsForCourse(tasks []Task, courseID string) CourseStats {
	var stats CourseStats
	for _, t := range tasks {
		if t.CourseID != courseID {
			continue
		}
		stats.Total++
		if t.Status == StatusCompleted {
			stats.Completed++
		} else {
			stats.Pending++
		}
	}
	if stats.Total > 0 {
		stats.Progress = int(float64(100*stats.Completed)/float64(stats.Total) + 0.5)
	}
	return stats
}

// Filter narrows a task list by status and/or priority; "all" or the empty
// string leaves that dimension unfiltered. The two predicates are independent
// conjunctions.
type Filter struct {
	CourseID string `query:"courseId"`
	Status   string `query:"status"`
	Priority string `query:"priority"`
}

func (f Filter) match(t Task) bool {
	if f.CourseID != "" && t.CourseID != f.CourseID {
		return false
	}
	if f.Status != "" && f.Status != "all" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && f.Priority != "all" && t.Priority != f.Priority {
		return false
	}
	return true
}

func ApplyFilter(tasks []Task, f Filter) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Sort orderings for course pages.
const (
	SortDueDate  = "dueDate"
	SortPriority = "priority"
)

// SortTasks returns a sorted copy. Due-date ordering puts tasks without a due
// date after every task that has one, regardless of direction; priority
// ordering is high, medium, low.
func SortTasks(tasks []Task, by string) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)

	switch by {
	case SortPriority:
		sort.SliceStable(out, func(i, j int) bool {
			return priorityOrder[out[i].Priority] < priorityOrder[out[j].Priority]
		})
	default: // SortDueDate
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].DueDate, out[j].DueDate
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return a.Before(*b)
			}
		})
	}
	return out
}

// PendingCountByCourse counts pending tasks per course id (sidebar badges).
func PendingCountByCourse(tasks []Task) map[string]int {
	counts := make(map[string]int)
	for _, t := range tasks {
		if t.Status == StatusPending {
			counts[t.CourseID]++
		}
	}
	return counts
}
