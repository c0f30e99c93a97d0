package httpx

import (
	_ "embed"
	"net/http"
	"sort"
	"time"

	"github.com/splax/instantiate/internal/domain"
)

//go:embed templates/stacks.mustache
var stacksPage string

const pageTimeFormat = "2006-01-02 15:04:05 MST"

// PageRenderer renders HTML templates with escaped values.
type PageRenderer interface {
	RenderHTML(text string, vars any) (string, error)
}

func (r *Router) handleStacksPage(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	stacks, err := r.listStacks(req)
	if err != nil {
		r.logger.Error("list stacks failed", "error", err)
		http.Error(w, "could not list stacks", http.StatusInternalServerError)
		return
	}
	html, err := r.pages.RenderHTML(stacksPage, stacksView(stacks))
	if err != nil {
		r.logger.Error("render stacks page failed", "error", err)
		http.Error(w, "could not render stacks", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

func stacksView(stacks []domain.StackRecord) map[string]any {
	rows := make([]map[string]any, 0, len(stacks))
	for _, stack := range stacks {
		rows = append(rows, map[string]any{
			"projectId":   stack.ProjectID,
			"projectName": stack.ProjectName,
			"mrId":        stack.MRID,
			"mrName":      stack.MRName,
			"provider":    string(stack.Provider),
			"status":      string(stack.Status),
			"ports":       sortedPorts(stack.Ports),
			"links":       sortedLinks(stack.Links),
			"createdAt":   formatPageTime(stack.CreatedAt),
			"updatedAt":   formatPageTime(stack.UpdatedAt),
		})
	}
	return map[string]any{"stacks": rows, "empty": len(rows) == 0}
}

func sortedPorts(ports map[string]int) []map[string]any {
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]any{"name": name, "port": ports[name]})
	}
	return out
}

func sortedLinks(links map[string]string) []map[string]any {
	names := make([]string, 0, len(links))
	for name := range links {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]any{"name": name, "url": links[name]})
	}
	return out
}

func formatPageTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(pageTimeFormat)
}
