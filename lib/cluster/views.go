package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ValentinKolb/kvbind/lib/store"
)

// ErrNoSuchView is returned for queries on an unregistered view
var ErrNoSuchView = errors.New("no such view")

// Row is one emitted view row
type Row struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ViewFunc maps an item to the rows it emits
type ViewFunc func(item store.Item) []Row

// ViewQuery holds the parameters of a view query
type ViewQuery struct {
	Key          *string
	Keys         []string
	StartKey     *string
	EndKey       *string
	Limit        int // 0 = unlimited
	Skip         int
	Descending   bool
	InclusiveEnd bool
}

// ViewResult is the response of a view query
type ViewResult struct {
	TotalRows int   `json:"total_rows"`
	Rows      []Row `json:"rows"`
}

// RegisterView installs (or replaces) the view ddoc/name for all buckets
func (c *Cluster) RegisterView(ddoc, name string, fn ViewFunc) {
	c.views.Store(viewID(ddoc, name), fn)
}

// QueryView runs a registered view over all items of a bucket
func (c *Cluster) QueryView(bucket, ddoc, name string, q ViewQuery) (ViewResult, error) {
	fn, ok := c.views.Load(viewID(ddoc, name))
	if !ok {
		return ViewResult{}, fmt.Errorf("%w: %s/%s", ErrNoSuchView, ddoc, name)
	}
	return c.query(bucket, fn, q)
}

// AllDocs lists the items of a bucket as rows with the CAS as revision
func (c *Cluster) AllDocs(bucket string, q ViewQuery) (ViewResult, error) {
	return c.query(bucket, func(item store.Item) []Row {
		return []Row{{ID: item.Key, Key: item.Key, Value: map[string]string{"rev": strconv.FormatUint(item.CAS, 10)}}}
	}, q)
}

func (c *Cluster) query(bucket string, fn ViewFunc, q ViewQuery) (ViewResult, error) {
	b, ok := c.Bucket(bucket)
	if !ok {
		return ViewResult{}, fmt.Errorf("%w: %s", ErrNoSuchBucket, bucket)
	}

	var rows []Row
	b.store.Scan(func(item store.Item) bool {
		rows = append(rows, fn(item)...)
		return true
	})
	total := len(rows)

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Key != rows[j].Key {
			return rows[i].Key < rows[j].Key
		}
		return rows[i].ID < rows[j].ID
	})
	if q.Descending {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	filtered := rows[:0]
	for _, r := range rows {
		if q.matches(r.Key) {
			filtered = append(filtered, r)
		}
	}
	rows = filtered

	if q.Skip > 0 {
		if q.Skip >= len(rows) {
			rows = nil
		} else {
			rows = rows[q.Skip:]
		}
	}
	if q.Limit > 0 && q.Limit < len(rows) {
		rows = rows[:q.Limit]
	}
	if rows == nil {
		rows = []Row{}
	}
	return ViewResult{TotalRows: total, Rows: rows}, nil
}

// matches applies the key filters. With Descending, StartKey is the upper
// and EndKey the lower bound.
func (q ViewQuery) matches(key string) bool {
	if q.Key != nil && key != *q.Key {
		return false
	}
	if len(q.Keys) > 0 {
		found := false
		for _, k := range q.Keys {
			if k == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	before := func(a, b string) bool { return a < b }
	if q.Descending {
		before = func(a, b string) bool { return a > b }
	}
	if q.StartKey != nil && before(key, *q.StartKey) {
		return false
	}
	if q.EndKey != nil {
		if before(*q.EndKey, key) {
			return false
		}
		if !q.InclusiveEnd && key == *q.EndKey {
			return false
		}
	}
	return true
}

func (c *Cluster) registerBuiltinViews() {
	// emits every item with its value
	c.RegisterView("kvbind", "all", func(item store.Item) []Row {
		return []Row{{ID: item.Key, Key: item.Key, Value: jsonValue(item.Value)}}
	})
	// emits the flags of every item as key
	c.RegisterView("kvbind", "by_flags", func(item store.Item) []Row {
		return []Row{{ID: item.Key, Key: strconv.FormatUint(uint64(item.Flags), 10), Value: nil}}
	})
}

func viewID(ddoc, name string) string {
	return ddoc + "/" + name
}

// jsonValue returns b as a JSON document if it is one, otherwise as string
func jsonValue(b []byte) any {
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}
