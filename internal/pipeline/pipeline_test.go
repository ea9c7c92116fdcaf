package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteinventory/spdash/internal/ingest"
	"github.com/siteinventory/spdash/internal/inventory"
	"github.com/siteinventory/spdash/internal/model"
)

const sample = "Site,File Name,File Size,Last Modified,Description\n" +
	"alpha,a.pdf,100,2020-01-01,Everyone\n" +
	"alpha,b.docx,50,2024-05-01,Members\n" +
	"beta,c.png,10,2019-03-01,Site Owners\n" +
	"gamma,d.aspx,5,2024-06-01,Visitors\n"

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	return New(time.Minute)
}

func TestView(t *testing.T) {
	ds, err := ingest.Load("sample.csv", []byte(sample))
	require.NoError(t, err)
	p := newPipeline(t)

	v := p.View(ds, Options{Now: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)})

	assert.Len(t, v.Rows, 4)
	require.Len(t, v.Sites, 3)
	assert.Equal(t, "alpha", v.Sites[0].SiteName)
	assert.Equal(t, 3, v.Summary.TotalSites)
	assert.Equal(t, 1, v.Summary.EveryoneSites)
	assert.Equal(t, time.Date(2023, 12, 15, 0, 0, 0, 0, time.UTC), v.Threshold)

	require.Len(t, v.Stale, 2)
	assert.Equal(t, "beta", v.Stale[0].SiteName)
	assert.Equal(t, "alpha", v.Stale[1].SiteName)

	require.Len(t, v.Gravity, 3)
	assert.Equal(t, 1, v.Gravity[0].Rank)

	assert.Equal(t, []string{"aspx", "docx", "pdf", "png"}, v.Extensions)
	assert.Len(t, v.FileTypes, 4)
	assert.Equal(t, v.Sites, v.Table)
}

func TestView_FiltersKeepExtensionDomain(t *testing.T) {
	ds, err := ingest.Load("sample.csv", []byte(sample))
	require.NoError(t, err)
	p := newPipeline(t)

	v := p.View(ds, Options{Filters: inventory.Filters{Category: "Business"}})

	assert.Len(t, v.Rows, 2)
	require.Len(t, v.Sites, 1)
	assert.Equal(t, int64(2), v.Sites[0].Files)
	assert.Equal(t, []string{"aspx", "docx", "pdf", "png"}, v.Extensions)
}

func TestView_MemoizesAggregates(t *testing.T) {
	ds, err := ingest.Load("sample.csv", []byte(sample))
	require.NoError(t, err)
	p := newPipeline(t)

	first := p.View(ds, Options{})
	second := p.View(ds, Options{
		Table:  inventory.TableQuery{SortBy: inventory.SortName},
		Period: inventory.Period5Years,
		Metric: inventory.MetricStorage,
	})
	assert.Equal(t, int64(1), p.computed.Load())
	assert.Equal(t, first.Sites, second.Sites)

	p.View(ds, Options{Filters: inventory.Filters{Risk: "Low"}})
	assert.Equal(t, int64(2), p.computed.Load())

	reloaded, err := ingest.Load("sample.csv", []byte(sample))
	require.NoError(t, err)
	p.View(reloaded, Options{})
	assert.Equal(t, int64(3), p.computed.Load(), "a new dataset must not reuse prior aggregates")
}

func TestView_ConcurrentCallsShareComputation(t *testing.T) {
	ds, err := ingest.Load("sample.csv", []byte(sample))
	require.NoError(t, err)
	p := newPipeline(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := p.View(ds, Options{})
			assert.Len(t, v.Sites, 3)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), p.computed.Load())
}

func TestDataset_DecodesOncePerID(t *testing.T) {
	ds, err := ingest.Load("sample.csv", []byte(sample))
	require.NoError(t, err)
	p := newPipeline(t)

	loads := 0
	load := func() (*model.Dataset, error) {
		loads++
		return ds, nil
	}
	for i := 0; i < 3; i++ {
		got, err := p.Dataset(ds.ID, load)
		require.NoError(t, err)
		assert.Same(t, ds, got)
	}
	assert.Equal(t, 1, loads)
	assert.Equal(t, int64(1), p.decoded.Load())

	_, err = p.Dataset("other", func() (*model.Dataset, error) { return nil, errors.New("boom") })
	assert.EqualError(t, err, "boom")
}

func TestDataset_ReplacedBetweenReadsIsNotCached(t *testing.T) {
	replacement, err := ingest.Load("new.csv", []byte(sample))
	require.NoError(t, err)
	p := newPipeline(t)

	got, err := p.Dataset("stale-id", func() (*model.Dataset, error) { return replacement, nil })
	require.NoError(t, err)
	assert.Same(t, replacement, got)

	loads := 0
	_, err = p.Dataset("stale-id", func() (*model.Dataset, error) {
		loads++
		return replacement, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "a dataset must only be cached under its own ID")
}

func TestRemember(t *testing.T) {
	ds, err := ingest.Load("sample.csv", []byte(sample))
	require.NoError(t, err)
	p := newPipeline(t)

	p.Remember(ds)
	got, err := p.Dataset(ds.ID, func() (*model.Dataset, error) {
		t.Fatal("remembered dataset must not be loaded again")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, ds, got)
}

func TestView_NilDataset(t *testing.T) {
	v := newPipeline(t).View(nil, Options{})
	assert.Empty(t, v.Sites)
	assert.Empty(t, v.Stale)
	assert.Empty(t, v.Gravity)
	assert.Zero(t, v.Summary.PublicPct)
}

func TestView_DefaultNow(t *testing.T) {
	p := newPipeline(t)
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	v := p.View(nil, Options{Period: inventory.Period12Months})
	assert.Equal(t, time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC), v.Threshold)
}
