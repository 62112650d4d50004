package frontier

// Crawl bounds. Requests outside these ranges are clamped.
const (
	MinPages        = 1
	MaxPagesLimit   = 12
	DefaultMaxPages = 6
	MaxDepthLimit   = 3
	DefaultMaxDepth = 2
)

// Entry is a queued URL and the BFS depth it was discovered at.
type Entry struct {
	URL   string
	Depth int
}

// Frontier is a FIFO crawl queue. A URL is enqueued at most once, even if it is
// rediscovered before being visited.
type Frontier struct {
	queue    []Entry
	queued   map[string]struct{}
	visited  map[string]struct{}
	maxDepth int
}

// New seeds a Frontier with root at depth 0.
func New(root string, maxDepth int) *Frontier {
	f := &Frontier{
		queued:   make(map[string]struct{}),
		visited:  make(map[string]struct{}),
		maxDepth: maxDepth,
	}
	f.push(Entry{URL: root, Depth: 0})
	return f
}

// Next pops the oldest entry and marks it visited.
func (f *Frontier) Next() (Entry, bool) {
	if len(f.queue) == 0 {
		return Entry{}, false
	}
	e := f.queue[0]
	f.queue = f.queue[1:]
	f.visited[e.URL] = struct{}{}
	return e, true
}

// Discover enqueues links found on from at depth from.Depth+1, in document order.
// Nothing is enqueued once from has reached the depth cap. It returns the number
// of new entries.
func (f *Frontier) Discover(from Entry, links []string) int {
	if from.Depth >= f.maxDepth {
		return 0
	}
	added := 0
	for _, link := range links {
		if f.push(Entry{URL: link, Depth: from.Depth + 1}) {
			added++
		}
	}
	return added
}

// Len reports how many entries are waiting.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// Visited reports whether url has been dequeued.
func (f *Frontier) Visited(url string) bool {
	_, ok := f.visited[url]
	return ok
}

func (f *Frontier) push(e Entry) bool {
	if e.URL == "" {
		return false
	}
	if _, seen := f.queued[e.URL]; seen {
		return false
	}
	f.queued[e.URL] = struct{}{}
	f.queue = append(f.queue, e)
	return true
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampPages bounds a page budget to [1, limit], never above MaxPagesLimit.
func ClampPages(v, limit int) int {
	if limit <= 0 || limit > MaxPagesLimit {
		limit = MaxPagesLimit
	}
	return Clamp(v, MinPages, limit)
}

// ClampDepth bounds a depth budget to [0, limit], never above MaxDepthLimit.
func ClampDepth(v, limit int) int {
	if limit < 0 || limit > MaxDepthLimit {
		limit = MaxDepthLimit
	}
	return Clamp(v, 0, limit)
}
