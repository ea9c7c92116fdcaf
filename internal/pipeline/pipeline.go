// Package pipeline memoizes the derived views of a dataset. The expensive
// part (filtering and per-site aggregation) is cached per dataset and filter
// selection; the cheap views layered on top are computed on every call so
// that a changed sort, period or metric never invalidates the aggregates.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/siteinventory/spdash/internal/inventory"
	"github.com/siteinventory/spdash/internal/model"
)

// Options selects what a View shows.
type Options struct {
	Filters inventory.Filters
	Table   inventory.TableQuery
	Period  inventory.Period
	Metric  inventory.Metric

	// Now anchors the staleness threshold. Zero means the pipeline clock.
	Now time.Time
}

// View holds every derived structure for one dataset and option set.
type View struct {
	Dataset    *model.Dataset
	Roles      model.Roles
	Rows       []model.Row
	Sites      []model.SiteAggregate
	Summary    model.Summary
	Table      []model.SiteAggregate
	Threshold  time.Time
	Stale      []model.StaleSite
	Gravity    []model.GravityEntry
	FileTypes  []model.TypeCount
	Extensions []string
}

// base is the cached part of a View.
type base struct {
	rows       []model.Row
	sites      []model.SiteAggregate
	summary    model.Summary
	fileTypes  []model.TypeCount
	extensions []string
}

// Pipeline computes Views. It is safe for concurrent use.
type Pipeline struct {
	cache    *ttlCache[string, *base]
	datasets *ttlCache[string, *model.Dataset]
	group    singleflight.Group
	now      func() time.Time
	computed atomic.Int64
	decoded  atomic.Int64
}

// New creates a Pipeline whose cached aggregates expire after ttl of
// disuse. A non-positive ttl selects DefaultCacheTTL.
func New(ttl time.Duration) *Pipeline {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Pipeline{
		cache:    newTTLCache[string, *base](ttl),
		datasets: newTTLCache[string, *model.Dataset](ttl),
		now:      time.Now,
	}
}

// View returns the derived views of ds under opts. A nil dataset yields an
// empty view.
func (p *Pipeline) View(ds *model.Dataset, opts Options) *View {
	if ds == nil {
		ds = &model.Dataset{Rows: []model.Row{}}
	}
	b := p.base(ds, opts.Filters)

	now := opts.Now
	if now.IsZero() {
		now = p.now()
	}
	threshold := inventory.StaleThreshold(opts.Period, now)
	metric := opts.Metric
	if metric == "" {
		metric = inventory.MetricFiles
	}

	return &View{
		Dataset:    ds,
		Roles:      ds.Roles,
		Rows:       b.rows,
		Sites:      b.sites,
		Summary:    b.summary,
		Table:      inventory.Table(b.sites, opts.Table),
		Threshold:  threshold,
		Stale:      inventory.StaleSites(b.sites, ds.Roles, threshold),
		Gravity:    inventory.DataGravity(b.sites, metric),
		FileTypes:  b.fileTypes,
		Extensions: b.extensions,
	}
}

// Sweep evicts expired aggregates and datasets. It returns the number
// removed.
func (p *Pipeline) Sweep() int {
	return p.cache.Sweep() + p.datasets.Sweep()
}

// Dataset returns the decoded dataset with the given ID, calling load only
// when it is not cached. Datasets never change once loaded, so a cached
// entry stays valid for its ID. A loaded dataset with a different ID, as
// when the session replaced it in between, is returned but not cached.
func (p *Pipeline) Dataset(id string, load func() (*model.Dataset, error)) (*model.Dataset, error) {
	if ds, ok := p.datasets.Get(id); ok {
		return ds, nil
	}
	v, err, _ := p.group.Do("dataset/"+id, func() (any, error) {
		ds, err := load()
		if err != nil {
			return nil, err
		}
		p.decoded.Add(1)
		if ds.ID == id {
			p.datasets.Set(id, ds)
		}
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Dataset), nil
}

// Remember caches a dataset that was just loaded.
func (p *Pipeline) Remember(ds *model.Dataset) {
	if ds != nil && ds.ID != "" {
		p.datasets.Set(ds.ID, ds)
	}
}

func (p *Pipeline) base(ds *model.Dataset, f inventory.Filters) *base {
	key := cacheKey(ds, f)
	if b, ok := p.cache.Get(key); ok {
		return b
	}
	v, _, _ := p.group.Do(key, func() (any, error) {
		if b, ok := p.cache.Get(key); ok {
			return b, nil
		}
		b := compute(ds, f)
		p.computed.Add(1)
		p.cache.Set(key, b)
		return b, nil
	})
	return v.(*base)
}

func compute(ds *model.Dataset, f inventory.Filters) *base {
	rows := inventory.Filter(ds.Rows, ds.Roles, f)
	sites := inventory.Aggregate(rows, ds.Roles)
	return &base{
		rows:       rows,
		sites:      sites,
		summary:    inventory.Summarize(sites),
		fileTypes:  inventory.FileTypes(rows, ds.Roles),
		extensions: inventory.Extensions(ds.Rows, ds.Roles),
	}
}

// cacheKey identifies a dataset snapshot and filter selection. The content
// hash is included so two loads of different bytes never share an entry,
// even if an ID were reused.
func cacheKey(ds *model.Dataset, f inventory.Filters) string {
	h := sha256.New()
	h.Write([]byte(ds.ID))
	h.Write([]byte{0})
	h.Write([]byte(ds.SHA256))
	h.Write([]byte{0})
	// Filters has only string fields, so encoding cannot fail.
	_ = json.NewEncoder(h).Encode(f)
	return hex.EncodeToString(h.Sum(nil))
}
