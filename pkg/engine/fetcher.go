package engine

import (
	"github.com/nainya/pagestore/pkg/buffer"
	"github.com/nainya/pagestore/pkg/page"
)

// latestTimestamp is the upper bound poolFetcher passes to the Version
// Manager's Fetch on every cache miss. spec.md §2's control-flow
// narrative has the Buffer Pool ask the Version Manager to materialize
// a page "at the transaction's read timestamp", but pkg/buffer.Pool's
// Fix (and therefore its Fetcher) was built with no readTimestamp
// parameter: a frame is cached once per (file, PageID), which has no
// good way to hold several timestamped versions of the same page at
// once. poolFetcher resolves this by always asking for the newest
// version at or below latestTimestamp, which — since no real write
// timestamp will ever reach this constant — means "the newest version
// there is". A caller that needs a page as of a specific, older
// readTimestamp (a snapshot read under spec.md §5) must call the file's
// versionlog.Manager.Fetch directly with that timestamp instead of
// going through the pool; see DESIGN.md's "Buffer Pool fix() vs.
// readTimestamp" entry.
const latestTimestamp = page.Timestamp(^uint64(0))

// poolFetcher adapts Manager to pkg/buffer.Fetcher: a cache miss in the
// Buffer Pool is resolved by asking the missed page's Version Manager
// for its latest committed content, matching spec.md §2's control flow
// (Buffer Pool miss → Version Manager → Master Data or Version Log).
type poolFetcher struct {
	m *Manager
}

func (pf *poolFetcher) FetchPage(file buffer.FileKey, id page.ID) ([]byte, error) {
	e, err := pf.m.entry(file)
	if err != nil {
		return nil, err
	}
	return e.versions.Fetch(id, latestTimestamp)
}
