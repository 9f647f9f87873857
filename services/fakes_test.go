package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
	"github.com/jmmfcoutinho/idealista-web-scraper/storage"
)

// memStore is an in-memory storage.Store used by the driver tests.
type memStore struct {
	mu sync.Mutex

	listings  map[int64]*models.Listing // keyed by external id
	history   []*models.ListingHistory
	districts map[string]*models.District
	concelhos map[string]*models.Concelho
	runs      []*models.ScrapeRun

	nextID  int64
	commits int
}

func newMemStore() *memStore {
	return &memStore{
		listings:  make(map[int64]*models.Listing),
		districts: make(map[string]*models.District),
		concelhos: make(map[string]*models.Concelho),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func copyListing(l *models.Listing) *models.Listing {
	dup := *l
	return &dup
}

func (m *memStore) GetListingByExternalID(_ context.Context, externalID int64) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[externalID]
	if !ok {
		return nil, nil
	}
	return copyListing(l), nil
}

func (m *memStore) InsertListing(_ context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[l.ExternalID]; ok {
		return fmt.Errorf("duplicate external id %d", l.ExternalID)
	}
	l.ID = m.id()
	m.listings[l.ExternalID] = copyListing(l)
	return nil
}

func (m *memStore) UpdateListing(_ context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[l.ExternalID]; !ok {
		return fmt.Errorf("no listing with external id %d", l.ExternalID)
	}
	m.listings[l.ExternalID] = copyListing(l)
	return nil
}

func (m *memStore) InsertListingHistory(_ context.Context, h *models.ListingHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = m.id()
	dup := *h
	m.history = append(m.history, &dup)
	return nil
}

func (m *memStore) GetDistrictBySlug(_ context.Context, slug string) (*models.District, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.districts[slug]
	if !ok {
		return nil, nil
	}
	dup := *d
	return &dup, nil
}

func (m *memStore) InsertDistrict(_ context.Context, d *models.District) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.id()
	dup := *d
	m.districts[d.Slug] = &dup
	return nil
}

func (m *memStore) UpdateDistrict(_ context.Context, d *models.District) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := *d
	m.districts[d.Slug] = &dup
	return nil
}

func (m *memStore) GetConcelhoBySlug(_ context.Context, slug string) (*models.Concelho, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.concelhos[slug]
	if !ok {
		return nil, nil
	}
	dup := *c
	return &dup, nil
}

func (m *memStore) InsertConcelho(_ context.Context, c *models.Concelho) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	dup := *c
	m.concelhos[c.Slug] = &dup
	return nil
}

func (m *memStore) UpdateConcelho(_ context.Context, c *models.Concelho) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := *c
	m.concelhos[c.Slug] = &dup
	return nil
}

// memTx passes operations straight through; Commit only counts.
type memTx struct {
	*memStore
}

func (t memTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commits++
	return nil
}

func (t memTx) Rollback() error { return nil }

func (m *memStore) Begin(context.Context) (storage.Tx, error) {
	return memTx{m}, nil
}

func (m *memStore) CreateRun(_ context.Context, run *models.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = m.id()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) FinishRun(_ context.Context, run *models.ScrapeRun) error {
	return nil
}

func (m *memStore) ListListingsNeedingDetails(_ context.Context, limit int) ([]*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Listing
	for _, l := range m.listings {
		if l.IsActive && (l.Description == nil || l.EnergyClass == nil) {
			out = append(out, copyListing(l))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListListingsForExport(_ context.Context, _ storage.ExportFilters) ([]*storage.ExportRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*storage.ExportRow
	for _, l := range m.listings {
		out = append(out, &storage.ExportRow{Listing: *l})
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) listing(externalID int64) *models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listings[externalID]
}

// fakeClient serves canned HTML by URL and records the request order.
type fakeClient struct {
	mu       sync.Mutex
	pages    map[string]string
	requests []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{pages: make(map[string]string)}
}

func (c *fakeClient) GetHTML(_ context.Context, url, _ string) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, url)
	c.mu.Unlock()

	if html, ok := c.pages[url]; ok {
		return html, nil
	}
	return "", fmt.Errorf("no page for %s", url)
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) requested(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.requests {
		if r == url {
			return true
		}
	}
	return false
}

// cardFixture describes one listing card rendered into fixture HTML.
type cardFixture struct {
	id      int64
	title   string
	price   int
	details []string
}

// searchPage renders a search results page the real parser accepts.
func searchPage(cards []cardFixture, page, lastPage int, hasNext bool) string {
	var b strings.Builder
	b.WriteString("<html><body><h1 id=\"h1-container\">999 casas</h1><section>")
	for _, c := range cards {
		fmt.Fprintf(&b, `<article class="item" data-element-id="%d">`, c.id)
		fmt.Fprintf(&b, `<a class="item-link" href="/imovel/%d/">%s</a>`, c.id, c.title)
		fmt.Fprintf(&b, `<span class="item-price">%d €</span>`, c.price)
		b.WriteString(`<span class="item-location">Cascais</span>`)
		for _, d := range c.details {
			fmt.Fprintf(&b, `<span class="item-detail">%s</span>`, d)
		}
		b.WriteString("</article>")
	}
	b.WriteString("</section><div class=\"pagination\"><ul>")
	fmt.Fprintf(&b, `<li class="selected"><span>%d</span></li>`, page)
	fmt.Fprintf(&b, `<li><a href="/comprar-casas/cascais/pagina-%d">%d</a></li>`, lastPage, lastPage)
	if hasNext {
		b.WriteString(`<li class="next"><a href="/next">Seguinte</a></li>`)
	}
	b.WriteString("</ul></div></body></html>")
	return b.String()
}
