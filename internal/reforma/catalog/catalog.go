// Package catalog provides tenant-scoped reads over the farm's reference
// data: operators, sites, raw materials, suppliers, animal types and feed
// formulas. The dialogue pipeline resolves the human references typed in chat
// ("maíz", "MAIZ001", "Nutrisur") to internal identifiers through this
// package.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/cache"
)

// Entity identifies a catalog entity family for lookups.
type Entity string

const (
	EntityRawMaterial Entity = "raw-material"
	EntitySupplier    Entity = "supplier"
	EntityAnimalType  Entity = "animal-type"
	EntityFeedFormula Entity = "feed-formula"
)

// ErrUnknownOperator is returned when a sender has no operator registration.
var ErrUnknownOperator = errors.New("catalog: unknown operator")

// Ref is a resolved catalog reference.
type Ref struct {
	ID   string
	Code string
	Name string
}

// Site is one production site of a farm.
type Site struct {
	ID       string
	Name     string
	Position int
}

// Operator maps a chat identity to a tenant user.
type Operator struct {
	MXID        string
	UserID      string
	FarmID      string
	DisplayName string
}

// StockLine is one raw material's stock position.
type StockLine struct {
	Code      string
	Name      string
	CurrentKg float64
	MinKg     float64
}

// Reader performs tenant-scoped catalog reads. List-shaped reads go through
// an injected TTL cache; authoritative point checks (Exists) always hit the
// database directly.
type Reader struct {
	db    *sql.DB
	cache *cache.Cache
}

// NewReader creates a Reader. A nil cache disables caching entirely.
func NewReader(db *sql.DB, c *cache.Cache) *Reader {
	if c == nil {
		c = cache.Disabled()
	}
	return &Reader{db: db, cache: c}
}

// Invalidate drops the cached ref list for one entity family of a farm.
// Called after a record is committed so the next lookup sees it.
func (r *Reader) Invalidate(farmID string, entity Entity) {
	r.cache.Invalidate(string(entity) + ":" + farmID)
}

// Operator resolves a sender identity to its tenant registration.
func (r *Reader) Operator(ctx context.Context, mxid string) (*Operator, error) {
	op := &Operator{MXID: mxid}
	var farmID, displayName sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, farm_id, display_name FROM operators WHERE mxid = ?
	`, mxid).Scan(&op.UserID, &farmID, &displayName)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownOperator
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up operator: %w", err)
	}
	op.FarmID = farmID.String
	op.DisplayName = displayName.String
	return op, nil
}

// Sites returns the farm's sites ordered by position.
func (r *Reader) Sites(ctx context.Context, farmID string) ([]Site, error) {
	v, err := r.cache.Get(ctx, "sites:"+farmID, func(ctx context.Context) (any, error) {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, name, position FROM sites WHERE farm_id = ? ORDER BY position, name
		`, farmID)
		if err != nil {
			return nil, fmt.Errorf("failed to query sites: %w", err)
		}
		defer rows.Close()

		var sites []Site
		for rows.Next() {
			var s Site
			if err := rows.Scan(&s.ID, &s.Name, &s.Position); err != nil {
				return nil, fmt.Errorf("failed to scan site: %w", err)
			}
			sites = append(sites, s)
		}
		return sites, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]Site), nil
}

// Refs returns every (id, code, name) triple of the entity family for the
// farm, through the cache.
func (r *Reader) Refs(ctx context.Context, farmID string, entity Entity) ([]Ref, error) {
	table, hasCode, err := entityTable(entity)
	if err != nil {
		return nil, err
	}

	key := string(entity) + ":" + farmID
	v, err := r.cache.Get(ctx, key, func(ctx context.Context) (any, error) {
		query := "SELECT id, code, name FROM " + table + " WHERE farm_id = ? ORDER BY code"
		if !hasCode {
			query = "SELECT id, '', name FROM " + table + " WHERE farm_id = ? ORDER BY name"
		}
		rows, err := r.db.QueryContext(ctx, query, farmID)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s refs: %w", entity, err)
		}
		defer rows.Close()

		var refs []Ref
		for rows.Next() {
			var ref Ref
			if err := rows.Scan(&ref.ID, &ref.Code, &ref.Name); err != nil {
				return nil, fmt.Errorf("failed to scan %s ref: %w", entity, err)
			}
			refs = append(refs, ref)
		}
		return refs, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]Ref), nil
}

// Lookup resolves a human reference (code or name, as typed) to a catalog
// entry, scoped to the farm. Matching is case-insensitive: exact code, then
// exact name, then name containment. Returns (nil, nil) when unresolved so
// the normalizer can turn it into a soft error instead of aborting.
func (r *Reader) Lookup(ctx context.Context, farmID string, entity Entity, identifier string) (*Ref, error) {
	needle := strings.ToLower(strings.TrimSpace(identifier))
	if needle == "" {
		return nil, nil
	}

	refs, err := r.Refs(ctx, farmID, entity)
	if err != nil {
		return nil, err
	}

	for i := range refs {
		if refs[i].Code != "" && strings.ToLower(refs[i].Code) == needle {
			return &refs[i], nil
		}
	}
	for i := range refs {
		if strings.ToLower(refs[i].Name) == needle {
			return &refs[i], nil
		}
	}
	for i := range refs {
		if strings.Contains(strings.ToLower(refs[i].Name), needle) {
			return &refs[i], nil
		}
	}
	return nil, nil
}

// Exists reports whether a record with the given natural key already exists
// for the farm. This is the uniqueness check behind validation, so it always
// reads the database directly, never the cache.
func (r *Reader) Exists(ctx context.Context, farmID string, entity Entity, naturalKey string) (bool, error) {
	table, hasCode, err := entityTable(entity)
	if err != nil {
		return false, err
	}
	if !hasCode {
		return false, fmt.Errorf("catalog: %s has no natural key", entity)
	}

	var n int
	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM "+table+" WHERE farm_id = ? AND UPPER(code) = UPPER(?)",
		farmID, naturalKey,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", entity, err)
	}
	return n > 0, nil
}

// Stock returns the stock position of every raw material for the farm.
func (r *Reader) Stock(ctx context.Context, farmID string) ([]StockLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, name, current_stock_kg, min_stock_kg
		FROM raw_materials
		WHERE farm_id = ?
		ORDER BY code
	`, farmID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock: %w", err)
	}
	defer rows.Close()

	var lines []StockLine
	for rows.Next() {
		var l StockLine
		if err := rows.Scan(&l.Code, &l.Name, &l.CurrentKg, &l.MinKg); err != nil {
			return nil, fmt.Errorf("failed to scan stock line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Alerts returns the raw materials at or below their minimum stock.
func (r *Reader) Alerts(ctx context.Context, farmID string) ([]StockLine, error) {
	stock, err := r.Stock(ctx, farmID)
	if err != nil {
		return nil, err
	}
	var alerts []StockLine
	for _, l := range stock {
		if l.MinKg > 0 && l.CurrentKg <= l.MinKg {
			alerts = append(alerts, l)
		}
	}
	return alerts, nil
}

func entityTable(entity Entity) (table string, hasCode bool, err error) {
	switch entity {
	case EntityRawMaterial:
		return "raw_materials", true, nil
	case EntitySupplier:
		return "suppliers", true, nil
	case EntityAnimalType:
		return "animal_types", false, nil
	case EntityFeedFormula:
		return "feed_formulas", true, nil
	default:
		return "", false, fmt.Errorf("catalog: unknown entity %q", entity)
	}
}
