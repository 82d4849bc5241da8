// Package syncer runs full synchronization passes against the remote
// database and exposes them as a single-flight background job.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirrorkit/notionmirror/internal/notion"
	"github.com/mirrorkit/notionmirror/internal/props"
	"github.com/mirrorkit/notionmirror/internal/settings"
	"github.com/mirrorkit/notionmirror/internal/store"
)

const (
	tracerName         = "github.com/mirrorkit/notionmirror/internal/syncer"
	resolveConcurrency = 3
)

// Result is the outcome of one full synchronization pass.
type Result struct {
	OK         bool   `json:"ok"`
	Mode       string `json:"mode"`
	Fetched    int    `json:"fetched_count"`
	Upserted   int    `json:"upserted_count"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ProgressFunc reports processed/total after each record upsert.
type ProgressFunc func(processed, total int)

// Syncer executes the end-to-end pass: schema discovery, page sweep,
// relation-target resolution, display materialization, bookkeeping.
type Syncer struct {
	store    *store.Store
	settings *settings.Store
	logger   *slog.Logger
	metrics  *syncMetrics
	tracer   oteltrace.Tracer
}

func New(st *store.Store, cfg *settings.Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:    st,
		settings: cfg,
		logger:   logger,
		metrics:  getDefaultMetrics(),
		tracer:   otel.Tracer(tracerName),
	}
}

// resolvedSettings is the configuration one pass runs with.
type resolvedSettings struct {
	token          string
	databaseID     string
	dataSourceName string
	baseURL        string
	version        string
}

func (s *Syncer) resolveSettings() (*resolvedSettings, error) {
	values, err := s.settings.ForModule(settings.ModuleNotion)
	if err != nil {
		return nil, err
	}

	rs := &resolvedSettings{
		token:          values[settings.KeyAPIKey],
		databaseID:     values[settings.KeyDatabaseID],
		dataSourceName: values[settings.KeyDataSourceName],
		baseURL:        values[settings.KeyBaseURL],
		version:        values[settings.KeyAPIVersion],
	}
	if rs.baseURL == "" {
		rs.baseURL = settings.DefaultBaseURL
	}
	if rs.version == "" {
		rs.version = settings.DefaultAPIVersion
	}

	var missing []string
	if rs.token == "" {
		missing = append(missing, "API key")
	}
	if rs.databaseID == "" {
		missing = append(missing, "database ID")
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Missing: missing}
	}
	return rs, nil
}

// ensureDatabaseID returns the canonical database id: the one persisted on
// the first run wins, so a later settings edit cannot silently repoint an
// existing mirror.
func (s *Syncer) ensureDatabaseID(configured string) (string, error) {
	stored, err := s.store.GetMeta(store.MetaDatabaseID)
	if err != nil {
		return "", err
	}
	if stored != "" {
		return stored, nil
	}
	if err := s.store.SetMeta(store.MetaDatabaseID, configured); err != nil {
		return "", err
	}
	return configured, nil
}

// selectDataSource picks the sub-source to sync: the previously used id if
// it still exists, else the configured name, else the first listed. A nil
// return means the database exposes no sub-sources and must be queried
// directly.
func (s *Syncer) selectDataSource(db *notion.Database, desiredName string) (*notion.DataSourceRef, error) {
	if len(db.DataSources) == 0 {
		return nil, nil
	}

	storedID, err := s.store.GetMeta(store.MetaDataSourceID)
	if err != nil {
		return nil, err
	}
	if storedID != "" {
		for i := range db.DataSources {
			if db.DataSources[i].ID == storedID {
				return &db.DataSources[i], nil
			}
		}
	}

	if desiredName != "" {
		for i := range db.DataSources {
			if db.DataSources[i].Name == desiredName {
				return &db.DataSources[i], nil
			}
		}
		var available []string
		for _, ds := range db.DataSources {
			if ds.Name != "" {
				available = append(available, ds.Name)
			}
		}
		return nil, &DataSourceNotFoundError{Name: desiredName, Available: available}
	}

	return &db.DataSources[0], nil
}

// rowFromPage flattens one record into wide-table column values. Every
// mapped column is written, so values cleared remotely become NULL locally.
func rowFromPage(p notion.Page, m props.Map) map[string]any {
	archived := 0
	if p.Archived {
		archived = 1
	}
	row := map[string]any{
		"id":               p.ID,
		"last_edited_time": p.LastEditedTime,
		"created_time":     p.CreatedTime,
		"archived":         archived,
		"url":              p.URL,
	}
	for name, entry := range m {
		if entry.Column == "" {
			continue
		}
		row[entry.Column] = props.ExtractValue(p.Properties[name], entry.RemoteType)
	}
	return row
}

// extractRelations pulls the relation edges out of a record's properties,
// preserving remote order as 0-based positions.
func extractRelations(p notion.Page, m props.Map) ([]store.RelationEdge, []string) {
	var edges []store.RelationEdge
	var targets []string
	for name, raw := range p.Properties {
		entry, ok := m[name]
		if !ok || entry.RemoteType != "relation" {
			continue
		}
		var payload struct {
			Relation []struct {
				ID string `json:"id"`
			} `json:"relation"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		for i, rel := range payload.Relation {
			if rel.ID == "" {
				continue
			}
			edges = append(edges, store.RelationEdge{
				FromID:        p.ID,
				PropertyName:  name,
				ToID:          rel.ID,
				Position:      i,
				DisplayColumn: entry.Column,
				DisplayValue:  rel.ID,
			})
			targets = append(targets, rel.ID)
		}
	}
	return edges, targets
}

// Run executes one full pass. It never panics across this boundary; any
// failure lands in the result. Failures before the page sweep leave the
// mirror untouched; sweep failures report partial counts; relation-target
// failures are per-target and non-fatal.
func (s *Syncer) Run(ctx context.Context, mode string, progress ProgressFunc) Result {
	start := time.Now()
	result := Result{Mode: mode}
	finish := func(err error) Result {
		result.DurationMS = time.Since(start).Milliseconds()
		if err != nil {
			result.Error = err.Error()
			s.metrics.runsTotal.WithLabelValues("error").Inc()
			s.logger.Error("sync failed", "mode", mode, "fetched", result.Fetched, "error", err)
		} else {
			result.OK = true
			s.metrics.runsTotal.WithLabelValues("ok").Inc()
			s.logger.Info("sync completed", "mode", mode, "fetched", result.Fetched, "upserted", result.Upserted, "duration_ms", result.DurationMS)
		}
		s.metrics.runDuration.Observe(time.Since(start).Seconds())
		return result
	}

	ctx, span := s.tracer.Start(ctx, "sync.run", oteltrace.WithAttributes(attribute.String("sync.mode", mode)))
	defer span.End()

	// Phase 1: settings.
	rs, err := s.resolveSettings()
	if err != nil {
		return finish(err)
	}
	client := notion.NewClient(notion.ClientOptions{
		Token:   rs.token,
		BaseURL: rs.baseURL,
		Version: rs.version,
		Logger:  s.logger,
	})

	// Phase 2: canonical database identity.
	databaseID, err := s.ensureDatabaseID(rs.databaseID)
	if err != nil {
		return finish(fmt.Errorf("resolve database id: %w", err))
	}

	// Phase 3: schema container discovery.
	db, err := s.discoverDatabase(ctx, client, databaseID)
	if err != nil {
		return finish(err)
	}
	desiredName := rs.dataSourceName
	if desiredName == "" {
		desiredName, _ = s.store.GetMeta(store.MetaDataSourceName)
	}
	chosen, err := s.selectDataSource(db, desiredName)
	if err != nil {
		return finish(err)
	}

	var propertiesRaw json.RawMessage
	queryPages := func(ctx context.Context, fn func(notion.Page) error) error {
		return client.QueryDatabase(ctx, databaseID, nil, fn)
	}
	if chosen != nil {
		if chosen.ID == "" {
			return finish(fmt.Errorf("selected data source has no id"))
		}
		if err := s.store.SetMeta(store.MetaDataSourceID, chosen.ID); err != nil {
			return finish(err)
		}
		if chosen.Name != "" {
			if err := s.store.SetMeta(store.MetaDataSourceName, chosen.Name); err != nil {
				return finish(err)
			}
		}
		ds, err := client.RetrieveDataSource(ctx, chosen.ID)
		if err != nil {
			return finish(fmt.Errorf("load data source %s: %w", chosen.ID, err))
		}
		propertiesRaw = ds.PropertiesRaw
		dataSourceID := chosen.ID
		queryPages = func(ctx context.Context, fn func(notion.Page) error) error {
			return client.QueryDataSource(ctx, dataSourceID, nil, fn)
		}
	} else {
		if err := s.store.SetMeta(store.MetaDataSourceID, ""); err != nil {
			return finish(err)
		}
		propertiesRaw = db.PropertiesRaw
	}

	// Phase 4: schema build and persistence.
	propertyMap, err := s.buildSchema(ctx, propertiesRaw)
	if err != nil {
		return finish(err)
	}

	// Phase 5: full page sweep.
	targets, err := s.sweep(ctx, queryPages, propertyMap, &result, progress)
	if err != nil {
		return finish(err)
	}

	// Phase 6: relation target resolution, best effort.
	s.resolveRelationTargets(ctx, client, targets)

	// Phase 7: display materialization.
	if err := s.store.MaterializeRelationColumns(propertyMap); err != nil {
		return finish(fmt.Errorf("materialize relation columns: %w", err))
	}

	// Phase 8: bookkeeping.
	now := time.Now().UTC().Format(time.RFC3339)
	for key, value := range map[string]string{
		store.MetaLastFullSync:        now,
		store.MetaLastIncrementalSync: now,
		store.MetaAPIVersion:          rs.version,
	} {
		if err := s.store.SetMeta(key, value); err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}

func (s *Syncer) discoverDatabase(ctx context.Context, client *notion.Client, databaseID string) (*notion.Database, error) {
	ctx, span := s.tracer.Start(ctx, "sync.discover_database")
	defer span.End()

	db, err := client.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("load database %s: %w", databaseID, err)
	}
	return db, nil
}

func (s *Syncer) buildSchema(ctx context.Context, propertiesRaw json.RawMessage) (props.Map, error) {
	_, span := s.tracer.Start(ctx, "sync.build_schema")
	defer span.End()

	defs, err := props.ParseDefinitions(propertiesRaw)
	if err != nil {
		return nil, err
	}
	propertyMap := props.BuildMap(defs)

	if err := s.store.SaveSchemaJSON(propertiesRaw); err != nil {
		return nil, err
	}
	if err := s.store.SavePropertyMap(propertyMap); err != nil {
		return nil, err
	}
	if err := s.store.EnsureWideTable(propertyMap); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("sync.properties", len(propertyMap)))
	return propertyMap, nil
}

func (s *Syncer) sweep(ctx context.Context, queryPages func(context.Context, func(notion.Page) error) error, m props.Map, result *Result, progress ProgressFunc) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "sync.page_sweep")
	defer span.End()

	// Collect first so the progress callback can report a real total.
	var pages []notion.Page
	if err := queryPages(ctx, func(p notion.Page) error {
		pages = append(pages, p)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	total := len(pages)
	span.SetAttributes(attribute.Int("sync.records", total))
	if progress != nil {
		progress(0, total)
	}

	syncedAt := time.Now().UTC().Format(time.RFC3339)
	var targets []string
	seenTargets := make(map[string]bool)

	for _, p := range pages {
		result.Fetched++
		s.metrics.pagesFetched.Inc()

		if err := s.store.UpsertRawPage(p.ID, p.Raw, p.LastEditedTime, p.CreatedTime, p.Archived, syncedAt); err != nil {
			return targets, err
		}
		if err := s.store.UpsertRow(rowFromPage(p, m)); err != nil {
			return targets, err
		}
		edges, pageTargets := extractRelations(p, m)
		if err := s.store.ReplaceRelations(p.ID, edges); err != nil {
			return targets, err
		}
		for _, id := range pageTargets {
			if !seenTargets[id] {
				seenTargets[id] = true
				targets = append(targets, id)
			}
		}

		result.Upserted++
		s.metrics.rowsUpserted.Inc()
		if progress != nil {
			progress(result.Upserted, total)
		}
	}
	return targets, nil
}

// resolveRelationTargets fetches stale or unknown relation targets into the
// page cache with a small bounded worker pool. Individual failures are
// logged and skipped; a half-resolved cache is better than no sync.
func (s *Syncer) resolveRelationTargets(ctx context.Context, client *notion.Client, targetIDs []string) {
	ctx, span := s.tracer.Start(ctx, "sync.resolve_relation_targets")
	defer span.End()

	stale, err := s.store.StaleOrMissingTargets(targetIDs, store.DefaultMaxTargetAge)
	if err != nil {
		s.logger.Warn("relation target staleness check failed", "error", err)
		return
	}
	span.SetAttributes(
		attribute.Int("sync.targets_seen", len(targetIDs)),
		attribute.Int("sync.targets_stale", len(stale)),
	)
	if len(stale) == 0 {
		return
	}

	syncedAt := time.Now().UTC().Format(time.RFC3339)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for _, id := range stale {
		g.Go(func() error {
			page, err := client.RetrievePage(ctx, id)
			if err != nil {
				s.metrics.targetsFailed.Inc()
				s.logger.Warn("failed to resolve relation target", "target_id", id, "error", err)
				return nil
			}
			title := page.Title()
			if title == "" {
				title = id
			}
			if err := s.store.UpsertCachedPage(store.CachedPage{
				ID:             id,
				Title:          title,
				URL:            page.URL,
				LastEditedTime: page.LastEditedTime,
				SyncedAt:       syncedAt,
			}, page.Raw); err != nil {
				s.metrics.targetsFailed.Inc()
				s.logger.Warn("failed to cache relation target", "target_id", id, "error", err)
				return nil
			}
			s.metrics.targetsResolved.Inc()
			return nil
		})
	}
	g.Wait()
}
