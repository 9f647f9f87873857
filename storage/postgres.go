package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/jmmfcoutinho/idealista-web-scraper/migrations"
	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

// Postgres persists crawl data to PostgreSQL.
type Postgres struct {
	querier
	db *sql.DB
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewPostgres opens a connection, waits for the server to come up, and
// runs pending schema migrations.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &Postgres{querier: querier{q: db}, db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// Begin starts a transactional unit of work.
func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &pgTx{querier: querier{q: tx}, tx: tx}, nil
}

type pgTx struct {
	querier
	tx *sql.Tx
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

// CreateRun inserts a new scrape run row and populates its ID.
func (p *Postgres) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO scrape_runs (run_type, status, started_at, config)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, run.RunType, run.Status, run.StartedAt, nullJSON(run.Config)).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("postgres: create run: %w", err)
	}
	return nil
}

// FinishRun writes the terminal status and final counters for a run.
func (p *Postgres) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE scrape_runs
		SET status = $1, ended_at = $2, error_message = $3,
		    listings_processed = $4, listings_created = $5, listings_updated = $6
		WHERE id = $7
	`, run.Status, run.EndedAt, run.ErrorText,
		run.ListingsProcessed, run.ListingsCreated, run.ListingsUpdated, run.ID)
	if err != nil {
		return fmt.Errorf("postgres: finish run: %w", err)
	}
	return nil
}

// ListListingsNeedingDetails selects active listings still missing
// detail-page fields.
func (p *Postgres) ListListingsNeedingDetails(ctx context.Context, limit int) ([]*models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE is_active = TRUE
		  AND (description IS NULL OR energy_class IS NULL)
		ORDER BY last_seen DESC`
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: listings needing details: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ListListingsForExport reads listings joined with their geography,
// narrowed by the given filters.
func (p *Postgres) ListListingsForExport(ctx context.Context, filters ExportFilters) ([]*ExportRow, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filters.ActiveOnly {
		conds = append(conds, "l.is_active = TRUE")
	}
	if filters.Operation != "" {
		conds = append(conds, "l.operation = "+arg(filters.Operation))
	}
	if filters.Since != nil {
		conds = append(conds, "l.last_seen >= "+arg(*filters.Since))
	}
	if len(filters.Concelhos) > 0 {
		conds = append(conds, "c.slug = ANY("+arg(pqStringArray(filters.Concelhos))+")")
	}
	if len(filters.Districts) > 0 {
		conds = append(conds, "d.slug = ANY("+arg(pqStringArray(filters.Districts))+")")
	}

	query := `
		SELECT ` + prefixColumns("l", listingColumns) + `,
		       c.name, c.slug, d.name, d.slug
		FROM listings l
		LEFT JOIN concelhos c ON c.id = l.concelho_id
		LEFT JOIN districts d ON d.id = c.district_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY l.id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: export query: %w", err)
	}
	defer rows.Close()

	var out []*ExportRow
	for rows.Next() {
		row := &ExportRow{}
		dest := listingDest(&row.Listing)
		dest = append(dest, &row.ConcelhoName, &row.ConcelhoSlug, &row.DistrictName, &row.DistrictSlug)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan export row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// querier implements the row-level operations over either a *sql.DB or
// a *sql.Tx.
type querier struct {
	q dbtx
}

const listingColumns = `id, external_id, concelho_id, operation, property_type, url,
	title, price, price_per_sqm,
	area_gross, area_useful, typology, bedrooms, bathrooms, floor,
	has_elevator, has_garage, has_pool, has_garden, has_terrace, has_balcony,
	has_air_conditioning, has_central_heating, is_luxury, has_sea_view,
	energy_class, condition, year_built,
	street, neighborhood, parish,
	description, agency_name, agency_url, reference,
	tags, image_url, first_seen, last_seen, is_active, raw_data`

func listingDest(l *models.Listing) []any {
	return []any{
		&l.ID, &l.ExternalID, &l.ConcelhoID, &l.Operation, &l.PropertyType, &l.URL,
		&l.Title, &l.Price, &l.PricePerSqm,
		&l.AreaGross, &l.AreaUseful, &l.Typology, &l.Bedrooms, &l.Bathrooms, &l.Floor,
		&l.HasElevator, &l.HasGarage, &l.HasPool, &l.HasGarden, &l.HasTerrace, &l.HasBalcony,
		&l.HasAirConditioning, &l.HasCentralHeating, &l.IsLuxury, &l.HasSeaView,
		&l.EnergyClass, &l.Condition, &l.YearBuilt,
		&l.Street, &l.Neighborhood, &l.Parish,
		&l.Description, &l.AgencyName, &l.AgencyURL, &l.Reference,
		&l.Tags, &l.ImageURL, &l.FirstSeen, &l.LastSeen, &l.IsActive, &l.RawData,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	l := &models.Listing{}
	if err := row.Scan(listingDest(l)...); err != nil {
		return nil, fmt.Errorf("postgres: scan listing: %w", err)
	}
	return l, nil
}

func (q querier) GetListingByExternalID(ctx context.Context, externalID int64) (*models.Listing, error) {
	row := q.q.QueryRowContext(ctx,
		"SELECT "+listingColumns+" FROM listings WHERE external_id = $1", externalID)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

func (q querier) InsertListing(ctx context.Context, l *models.Listing) error {
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO listings (
			external_id, concelho_id, operation, property_type, url,
			title, price, price_per_sqm,
			area_gross, area_useful, typology, bedrooms, bathrooms, floor,
			has_elevator, has_garage, has_pool, has_garden, has_terrace, has_balcony,
			has_air_conditioning, has_central_heating, is_luxury, has_sea_view,
			energy_class, condition, year_built,
			street, neighborhood, parish,
			description, agency_name, agency_url, reference,
			tags, image_url, first_seen, last_seen, is_active, raw_data
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38, $39, $40
		)
		RETURNING id
	`, listingArgs(l)...).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("postgres: insert listing %d: %w", l.ExternalID, err)
	}
	return nil
}

func (q querier) UpdateListing(ctx context.Context, l *models.Listing) error {
	args := listingArgs(l)
	args = append(args, l.ID)
	_, err := q.q.ExecContext(ctx, `
		UPDATE listings SET
			external_id = $1, concelho_id = $2, operation = $3, property_type = $4, url = $5,
			title = $6, price = $7, price_per_sqm = $8,
			area_gross = $9, area_useful = $10, typology = $11, bedrooms = $12, bathrooms = $13, floor = $14,
			has_elevator = $15, has_garage = $16, has_pool = $17, has_garden = $18, has_terrace = $19, has_balcony = $20,
			has_air_conditioning = $21, has_central_heating = $22, is_luxury = $23, has_sea_view = $24,
			energy_class = $25, condition = $26, year_built = $27,
			street = $28, neighborhood = $29, parish = $30,
			description = $31, agency_name = $32, agency_url = $33, reference = $34,
			tags = $35, image_url = $36, first_seen = $37, last_seen = $38, is_active = $39, raw_data = $40
		WHERE id = $41
	`, args...)
	if err != nil {
		return fmt.Errorf("postgres: update listing %d: %w", l.ExternalID, err)
	}
	return nil
}

func listingArgs(l *models.Listing) []any {
	return []any{
		l.ExternalID, l.ConcelhoID, l.Operation, l.PropertyType, l.URL,
		l.Title, l.Price, l.PricePerSqm,
		l.AreaGross, l.AreaUseful, l.Typology, l.Bedrooms, l.Bathrooms, l.Floor,
		l.HasElevator, l.HasGarage, l.HasPool, l.HasGarden, l.HasTerrace, l.HasBalcony,
		l.HasAirConditioning, l.HasCentralHeating, l.IsLuxury, l.HasSeaView,
		l.EnergyClass, l.Condition, l.YearBuilt,
		l.Street, l.Neighborhood, l.Parish,
		l.Description, l.AgencyName, l.AgencyURL, l.Reference,
		l.Tags, l.ImageURL, l.FirstSeen, l.LastSeen, l.IsActive, nullJSON(l.RawData),
	}
}

func (q querier) InsertListingHistory(ctx context.Context, h *models.ListingHistory) error {
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO listing_history (listing_id, price, scraped_at, changes)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, h.ListingID, h.Price, h.ScrapedAt, nullJSON(h.Changes)).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("postgres: insert history for listing %d: %w", h.ListingID, err)
	}
	return nil
}

func (q querier) GetDistrictBySlug(ctx context.Context, slug string) (*models.District, error) {
	d := &models.District{}
	err := q.q.QueryRowContext(ctx, `
		SELECT id, name, slug, listing_count, last_scraped, created_at
		FROM districts WHERE slug = $1
	`, slug).Scan(&d.ID, &d.Name, &d.Slug, &d.ListingCount, &d.LastScraped, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: district by slug: %w", err)
	}
	return d, nil
}

func (q querier) InsertDistrict(ctx context.Context, d *models.District) error {
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO districts (name, slug, listing_count, last_scraped)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, d.Name, d.Slug, d.ListingCount, d.LastScraped).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert district %q: %w", d.Slug, err)
	}
	return nil
}

func (q querier) UpdateDistrict(ctx context.Context, d *models.District) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE districts SET name = $1, listing_count = $2, last_scraped = $3
		WHERE id = $4
	`, d.Name, d.ListingCount, d.LastScraped, d.ID)
	if err != nil {
		return fmt.Errorf("postgres: update district %q: %w", d.Slug, err)
	}
	return nil
}

func (q querier) GetConcelhoBySlug(ctx context.Context, slug string) (*models.Concelho, error) {
	c := &models.Concelho{}
	err := q.q.QueryRowContext(ctx, `
		SELECT id, district_id, name, slug, listing_count, last_scraped, created_at
		FROM concelhos WHERE slug = $1
	`, slug).Scan(&c.ID, &c.DistrictID, &c.Name, &c.Slug, &c.ListingCount, &c.LastScraped, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: concelho by slug: %w", err)
	}
	return c, nil
}

func (q querier) InsertConcelho(ctx context.Context, c *models.Concelho) error {
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO concelhos (district_id, name, slug, listing_count, last_scraped)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, c.DistrictID, c.Name, c.Slug, c.ListingCount, c.LastScraped).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert concelho %q: %w", c.Slug, err)
	}
	return nil
}

func (q querier) UpdateConcelho(ctx context.Context, c *models.Concelho) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE concelhos SET district_id = $1, name = $2, listing_count = $3, last_scraped = $4
		WHERE id = $5
	`, c.DistrictID, c.Name, c.ListingCount, c.LastScraped, c.ID)
	if err != nil {
		return fmt.Errorf("postgres: update concelho %q: %w", c.Slug, err)
	}
	return nil
}

// nullJSON maps an empty raw message to SQL NULL.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// pqStringArray renders a Postgres text array literal. lib/pq accepts
// this form for = ANY($n) parameters.
func pqStringArray(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

// prefixColumns qualifies each column in a comma-separated list with a
// table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
