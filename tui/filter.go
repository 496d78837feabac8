package tui

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"siteplan/domain"
)

// filterTasks keeps the tasks whose name, manager or category fuzzily match
// query, in board order.
func filterTasks(tasks []domain.Task, query string) []domain.Task {
	query = strings.TrimSpace(query)
	if query == "" {
		return tasks
	}
	haystack := make([]string, len(tasks))
	for i, t := range tasks {
		haystack[i] = t.Name + " " + t.Manager + " " + t.Category
	}
	matches := fuzzy.Find(query, haystack)
	idx := make([]int, len(matches))
	for i, m := range matches {
		idx[i] = m.Index
	}
	sort.Ints(idx)
	out := make([]domain.Task, len(idx))
	for i, j := range idx {
		out[i] = tasks[j]
	}
	return out
}
