// Package notice fetches notice listing pages and turns their links into notices.
package notice

// Notice is one item of a listing page. ID and Link start out identical; a
// post-processing step may rewrite Link and must keep ID in sync when they were equal.
type Notice struct {
	ID    string `json:"id"`
	Link  string `json:"link"`
	Title string `json:"title"`
}

// FetchResult is what a single source fetch produces.
type FetchResult struct {
	Source  string    `json:"source"`
	Notices []*Notice `json:"notices"`
}

// Source describes a listing page to fetch.
type Source struct {
	Name        string
	URL         string
	Referer     string
	LinkPattern string
}
