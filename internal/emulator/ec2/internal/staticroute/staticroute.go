/*
Package staticroute derives the directory listing routes of an instance metadata tree from its
leaf endpoints. Requesting a directory of the metadata service returns its children one per line,
with a trailing slash on children that are themselves directories.
*/
package staticroute

import (
	"sort"
	"strings"
)

// Route is a directory endpoint and the children it lists.
type Route struct {
	Endpoint string
	Children []string
}

// Builder accumulates leaf endpoints. Adding "/foo/bar/baz" produces the routes
//
//	""         -> foo/
//	"/foo"     -> bar/
//	"/foo/bar" -> baz
type Builder struct {
	dirs map[string]map[string]struct{}
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{dirs: make(map[string]map[string]struct{})}
}

// Add records endpoint, a slash separated path. A missing leading slash is implied.
func (b *Builder) Add(endpoint string) {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	endpoint = strings.TrimSuffix(endpoint, "/")

	parts := strings.Split(endpoint, "/")
	for i := len(parts) - 1; i > 0; i-- {
		dir := strings.Join(parts[:i], "/")
		if b.dirs[dir] == nil {
			b.dirs[dir] = make(map[string]struct{})
		}
		b.dirs[dir][parts[i]] = struct{}{}
	}
}

// Build returns one Route per directory sorted by endpoint. The root directory has an empty
// Endpoint.
func (b *Builder) Build() []Route {
	routes := make([]Route, 0, len(b.dirs))

	for dir, children := range b.dirs {
		r := Route{Endpoint: dir}
		for child := range children {
			if _, ok := b.dirs[dir+"/"+child]; ok {
				child += "/"
			}
			r.Children = append(r.Children, child)
		}
		sort.Strings(r.Children)
		routes = append(routes, r)
	}

	sort.Slice(routes, func(i, j int) bool { return routes[i].Endpoint < routes[j].Endpoint })

	if len(routes) == 0 {
		return nil
	}
	return routes
}
