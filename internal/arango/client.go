package arango

import (
	"context"
	"errors"
	"fmt"
	"time"

	driver "github.com/arangodb/go-driver"
	driverhttp "github.com/arangodb/go-driver/http"

	"helium-graph-etl/internal/models"
)

// ErrFatalConnect marks an unrecoverable target connection failure; main
// exits with code 2.
var ErrFatalConnect = errors.New("arango connection failed")

// OnDuplicate selects the sink's behavior for key collisions on bulk
// import, mirroring the Arango import API's onDuplicate modes.
type OnDuplicate string

const (
	OnDuplicateUpdate  OnDuplicate = "update"
	OnDuplicateIgnore  OnDuplicate = "ignore"
	OnDuplicateReplace OnDuplicate = "replace"
)

func (d OnDuplicate) importMode() driver.ImportOnDuplicate {
	switch d {
	case OnDuplicateIgnore:
		return driver.ImportOnDuplicateIgnore
	case OnDuplicateReplace:
		return driver.ImportOnDuplicateReplace
	default:
		return driver.ImportOnDuplicateUpdate
	}
}

// ImportStats reports the outcome of one bulk upsert, keeping creates,
// updates, and per-document failures apart.
type ImportStats struct {
	Created int
	Updated int
	Errors  int
}

func importStats(s driver.ImportDocumentStatistics) ImportStats {
	return ImportStats{
		Created: int(s.Created),
		Updated: int(s.Updated),
		Errors:  int(s.Errors),
	}
}

type Config struct {
	URL           string
	Username      string
	Password      string
	Database      string
	UpsertTimeout time.Duration
}

// Factory opens independent sink clients. Parallel workers must each Open
// their own; a connection is never shared across goroutines.
type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) Open(ctx context.Context) (*Client, error) {
	return Connect(ctx, f.cfg)
}

// Client is the write adapter for the graph target store.
type Client struct {
	db            driver.Database
	upsertTimeout time.Duration
}

// Connect dials the target store and ensures the database exists.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	conn, err := driverhttp.NewConnection(driverhttp.ConnectionConfig{
		Endpoints: []string{cfg.URL},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatalConnect, err)
	}

	client, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(cfg.Username, cfg.Password),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatalConnect, err)
	}

	exists, err := client.DatabaseExists(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatalConnect, err)
	}
	var db driver.Database
	if exists {
		db, err = client.Database(ctx, cfg.Database)
	} else {
		db, err = client.CreateDatabase(ctx, cfg.Database, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatalConnect, err)
	}

	return &Client{db: db, upsertTimeout: cfg.UpsertTimeout}, nil
}

var documentCollections = []string{"accounts", "cities", "balances"}
var edgeCollections = []string{"payments", "witnesses"}

// EnsureCollections creates the document and edge collections if absent and
// ensures the GeoJSON index on hotspots.geo_location. The index must exist
// before any hotspot is read for analytics.
func (c *Client) EnsureCollections(ctx context.Context) error {
	if err := c.ensureCollection(ctx, "hotspots", driver.CollectionTypeDocument); err != nil {
		return err
	}
	for _, name := range documentCollections {
		if err := c.ensureCollection(ctx, name, driver.CollectionTypeDocument); err != nil {
			return err
		}
	}
	for _, name := range edgeCollections {
		if err := c.ensureCollection(ctx, name, driver.CollectionTypeEdge); err != nil {
			return err
		}
	}
	return c.EnsureGeoIndex(ctx, "hotspots", "geo_location")
}

func (c *Client) ensureCollection(ctx context.Context, name string, typ driver.CollectionType) error {
	exists, err := c.db.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	_, err = c.db.CreateCollection(ctx, name, &driver.CreateCollectionOptions{
		Type:        typ,
		WaitForSync: true,
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// EnsureGeoIndex creates a GeoJSON index on the named field if absent.
func (c *Client) EnsureGeoIndex(ctx context.Context, collection, field string) error {
	col, err := c.db.Collection(ctx, collection)
	if err != nil {
		return fmt.Errorf("collection %s: %w", collection, err)
	}
	_, _, err = col.EnsureGeoIndex(ctx, []string{field}, &driver.EnsureGeoIndexOptions{
		GeoJSON: true,
	})
	if err != nil {
		return fmt.Errorf("ensure geo index on %s.%s: %w", collection, field, err)
	}
	return nil
}

// BulkUpsert imports documents with the given duplicate policy, waiting for
// durable acknowledgement before reporting counts. Per-document failures
// are counted rather than failing the batch.
func (c *Client) BulkUpsert(ctx context.Context, collection string, docs []any, onDuplicate OnDuplicate) (ImportStats, error) {
	var stats ImportStats
	if len(docs) == 0 {
		return stats, nil
	}

	col, err := c.db.Collection(ctx, collection)
	if err != nil {
		return stats, fmt.Errorf("collection %s: %w", collection, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.upsertTimeout)
	defer cancel()
	dctx := driver.WithWaitForSync(ctx, true)

	raw, err := col.ImportDocuments(dctx, docs, &driver.ImportDocumentOptions{
		OnDuplicate: onDuplicate.importMode(),
	})
	if err != nil {
		return stats, fmt.Errorf("bulk upsert %s: %w", collection, err)
	}
	return importStats(raw), nil
}

// AppendDailyBalances upserts balance documents, appending the window's
// daily_balances onto any existing array instead of replacing it.
func (c *Client) AppendDailyBalances(ctx context.Context, docs []any) (ImportStats, error) {
	var stats ImportStats
	if len(docs) == 0 {
		return stats, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.upsertTimeout)
	defer cancel()

	const q = `
		FOR doc IN @docs
			UPSERT { _key: doc._key }
			INSERT doc
			UPDATE { daily_balances: APPEND(OLD.daily_balances, doc.daily_balances, true) }
			IN balances OPTIONS { waitForSync: true }`
	cursor, err := c.db.Query(ctx, q, map[string]interface{}{"docs": docs})
	if err != nil {
		return stats, fmt.Errorf("append daily balances: %w", err)
	}
	cursor.Close()
	stats.Updated = len(docs)
	return stats, nil
}

// RemoveWitnessesBefore prunes witness edges older than the cutoff.
func (c *Client) RemoveWitnessesBefore(ctx context.Context, cutoff int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.upsertTimeout)
	defer cancel()

	const q = `
		FOR witness IN witnesses
			FILTER witness.time < @cutoff
			REMOVE witness IN witnesses OPTIONS { waitForSync: true }`
	cursor, err := c.db.Query(ctx, q, map[string]interface{}{"cutoff": cutoff})
	if err != nil {
		return fmt.Errorf("remove witnesses before %d: %w", cutoff, err)
	}
	cursor.Close()
	return nil
}

// CityKeys returns every key in the cities collection.
func (c *Client) CityKeys(ctx context.Context) ([]string, error) {
	const q = `FOR city IN cities RETURN city._key`
	cursor, err := c.db.Query(ctx, q, nil)
	if err != nil {
		return nil, fmt.Errorf("city keys: %w", err)
	}
	defer cursor.Close()

	var keys []string
	for {
		var key string
		_, err := cursor.ReadDocument(ctx, &key)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("city keys: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CityWitnessEdges projects the valid outbound witness edges of a city's
// hotspots, weighting each by the great-circle distance between endpoints.
func (c *Client) CityWitnessEdges(ctx context.Context, cityKey string) ([]models.GraphEdge, error) {
	const q = `
		FOR hotspot IN hotspots
			FILTER hotspot.location_details.city_key == @city
			FOR v, e, p IN 1..1 OUTBOUND hotspot witnesses
				FILTER e.is_valid
				LET distance_m = GEO_DISTANCE(p.vertices[0].geo_location, p.vertices[1].geo_location)
				RETURN {
					from: PARSE_IDENTIFIER(e._from).key,
					to: PARSE_IDENTIFIER(e._to).key,
					distance_m: distance_m
				}`
	cursor, err := c.db.Query(ctx, q, map[string]interface{}{"city": cityKey})
	if err != nil {
		return nil, fmt.Errorf("city %s witness edges: %w", cityKey, err)
	}
	defer cursor.Close()

	var edges []models.GraphEdge
	for {
		var edge models.GraphEdge
		_, err := cursor.ReadDocument(ctx, &edge)
		if driver.IsNoMoreDocuments(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("city %s witness edges: %w", cityKey, err)
		}
		edges = append(edges, edge)
	}
	return edges, nil
}
