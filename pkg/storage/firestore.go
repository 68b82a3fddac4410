package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/wattwindow/pkg/log"
	"github.com/raterudder/wattwindow/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements Database using Google Cloud Firestore.
// Each zone is a document in "zones" with "prices" and "windows"
// sub-collections. The zone document's windowGeneration field names the
// window generation readers should see.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// project id may be inferred from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) zoneDoc(zone string) (*firestore.DocumentRef, error) {
	if zone == "" {
		return nil, fmt.Errorf("zone cannot be empty")
	}
	return f.client.Collection("zones").Doc(zone), nil
}

func (f *FirestoreProvider) getCollection(zone, name string) (*firestore.CollectionRef, error) {
	doc, err := f.zoneDoc(zone)
	if err != nil {
		return nil, err
	}
	return doc.Collection(name), nil
}

// priceDocID starts with the RFC3339 timestamp so document id range queries
// order by time.
func priceDocID(p types.PriceObservation) string {
	return p.Timestamp.UTC().Format(time.RFC3339) + "_" + string(p.Source)
}

// UpsertPrices writes each observation to the zone's "prices" collection as a
// JSON blob, replacing any existing document with the same key.
func (f *FirestoreProvider) UpsertPrices(ctx context.Context, prices []types.PriceObservation) error {
	if len(prices) == 0 {
		return nil
	}
	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(prices))
	for _, price := range prices {
		if !price.Source.Valid() || price.Timestamp.IsZero() {
			bw.End()
			return fmt.Errorf("invalid price observation: %s", price.Key())
		}
		coll, err := f.getCollection(price.Zone, "prices")
		if err != nil {
			bw.End()
			return err
		}
		jsonBytes, err := json.Marshal(price)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to marshal price: %w", err)
		}
		job, err := bw.Set(coll.Doc(priceDocID(price)), map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": price.Timestamp,
			"source":    string(price.Source),
		})
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue price upsert: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to upsert price: %w", err)
		}
	}
	return nil
}

// GetPrices retrieves prices using document ID range queries.
func (f *FirestoreProvider) GetPrices(ctx context.Context, q PriceQuery) ([]types.PriceObservation, error) {
	coll, err := f.getCollection(q.Zone, "prices")
	if err != nil {
		return nil, err
	}

	query := coll.Where(firestore.DocumentID, ">=", coll.Doc(q.Start.UTC().Format(time.RFC3339)))
	if !q.End.IsZero() {
		// ids continue past the timestamp so bound by the next second
		endDocID := q.End.UTC().Truncate(time.Second).Add(time.Second).Format(time.RFC3339)
		query = query.Where(firestore.DocumentID, "<", coll.Doc(endDocID))
	}
	iter := query.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var prices []types.PriceObservation
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating prices: %w", err)
		}

		var p types.PriceObservation
		if err := decodeJSONField(ctx, doc, &p); err != nil {
			return nil, err
		}
		if p.Timestamp.Before(q.Start) || (!q.End.IsZero() && p.Timestamp.After(q.End)) {
			continue
		}
		if q.Source != "" && p.Source != q.Source {
			continue
		}
		prices = append(prices, p)
	}
	return prices, nil
}

// currentGeneration returns the zone's window generation or an empty string
// if none was written yet.
func (f *FirestoreProvider) currentGeneration(ctx context.Context, zone string) (string, error) {
	ref, err := f.zoneDoc(zone)
	if err != nil {
		return "", err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get zone %s: %w", zone, err)
	}
	v, err := doc.DataAt("windowGeneration")
	if err != nil {
		return "", nil
	}
	gen, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("zone %s windowGeneration is not a string", zone)
	}
	return gen, nil
}

func (f *FirestoreProvider) generationWindows(ctx context.Context, zone, generation string) ([]types.PriceWindow, error) {
	if generation == "" {
		return nil, nil
	}
	coll, err := f.getCollection(zone, "windows")
	if err != nil {
		return nil, err
	}
	iter := coll.Where("generation", "==", generation).Documents(ctx)
	defer iter.Stop()

	var windows []types.PriceWindow
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating windows: %w", err)
		}
		var w types.PriceWindow
		if err := decodeJSONField(ctx, doc, &w); err != nil {
			return nil, err
		}
		w.Generation = generation
		windows = append(windows, w)
	}
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].StartTime.Before(windows[j].StartTime)
	})
	return windows, nil
}

// errGenerationMoved aborts a swap whose zone was repointed by a concurrent
// rebuild after this one read it.
var errGenerationMoved = errors.New("window generation moved")

// maxSwapAttempts bounds how often ReplaceWindows restarts after losing a
// race with a concurrent rebuild of the same zone.
const maxSwapAttempts = 5

// ReplaceWindows writes the surviving and new windows under a new
// generation, repoints the zone at it, then deletes the generation it
// replaced. Readers only follow the zone's pointer so they never see a
// partial set. The pointer only moves if it still names the generation the
// survivors were read from, otherwise the swap starts over from the newer
// generation.
func (f *FirestoreProvider) ReplaceWindows(ctx context.Context, zone string, staleBefore, dayStart, dayEnd time.Time, windows []types.PriceWindow) error {
	zoneRef, err := f.zoneDoc(zone)
	if err != nil {
		return err
	}
	coll := zoneRef.Collection("windows")

	newGen := uuid.NewString()
	if len(windows) > 0 && windows[0].Generation != "" {
		newGen = windows[0].Generation
	}

	for attempt := 1; ; attempt++ {
		oldGen, err := f.swapWindows(ctx, zoneRef, coll, newGen, staleBefore, dayStart, dayEnd, windows)
		if err == nil {
			// the old generation is unreachable now, failing to delete it
			// only leaves garbage behind
			if oldGen != "" && oldGen != newGen {
				if err := f.deleteGeneration(ctx, coll, oldGen); err != nil {
					log.Ctx(ctx).WarnContext(ctx, "failed to delete old window generation", slog.String("zone", zone), slog.String("generation", oldGen), slog.Any("error", err))
				}
			}
			return nil
		}
		if !errors.Is(err, errGenerationMoved) {
			return err
		}
		// our writes are unreachable, clear them before retrying so survivors
		// that are no longer current don't linger under newGen
		if err := f.deleteGeneration(ctx, coll, newGen); err != nil {
			return fmt.Errorf("failed to clear lost window generation: %w", err)
		}
		if attempt >= maxSwapAttempts {
			return fmt.Errorf("failed to swap windows for %s after %d attempts: %w", zone, attempt, errGenerationMoved)
		}
		log.Ctx(ctx).DebugContext(ctx, "window generation moved, retrying swap", slog.String("zone", zone), slog.Int("attempt", attempt))
	}
}

// swapWindows writes one generation and repoints the zone at it if nobody
// else did first. It returns the generation that was replaced.
func (f *FirestoreProvider) swapWindows(ctx context.Context, zoneRef *firestore.DocumentRef, coll *firestore.CollectionRef, newGen string, staleBefore, dayStart, dayEnd time.Time, windows []types.PriceWindow) (string, error) {
	zone := zoneRef.ID
	oldGen, err := f.currentGeneration(ctx, zone)
	if err != nil {
		return "", err
	}
	existing, err := f.generationWindows(ctx, zone, oldGen)
	if err != nil {
		return "", err
	}

	var next []types.PriceWindow
	for _, w := range existing {
		if !replacedWindow(w, staleBefore, dayStart, dayEnd) {
			next = append(next, w)
		}
	}
	next = append(next, windows...)

	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(next))
	for _, w := range next {
		w.Zone = zone
		w.AvgPrice = types.RoundPrice(w.AvgPrice)
		jsonBytes, err := json.Marshal(w)
		if err != nil {
			bw.End()
			return "", fmt.Errorf("failed to marshal window: %w", err)
		}
		docID := newGen + "_" + w.StartTime.UTC().Format(time.RFC3339)
		job, err := bw.Set(coll.Doc(docID), map[string]interface{}{
			"json":       string(jsonBytes),
			"generation": newGen,
			"start":      w.StartTime,
		})
		if err != nil {
			bw.End()
			return "", fmt.Errorf("failed to queue window write: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return "", fmt.Errorf("failed to write window: %w", err)
		}
	}

	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(zoneRef)
		current := ""
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return fmt.Errorf("failed to get zone %s: %w", zone, err)
			}
		} else if v, err := doc.DataAt("windowGeneration"); err == nil {
			current, _ = v.(string)
		}
		if current != oldGen {
			return errGenerationMoved
		}
		return tx.Set(zoneRef, map[string]interface{}{
			"windowGeneration": newGen,
			"updated":          time.Now(),
		}, firestore.MergeAll)
	})
	if err != nil {
		if errors.Is(err, errGenerationMoved) {
			return "", err
		}
		return "", fmt.Errorf("failed to update window generation: %w", err)
	}
	return oldGen, nil
}

// deleteGeneration deletes every window document of one generation.
func (f *FirestoreProvider) deleteGeneration(ctx context.Context, coll *firestore.CollectionRef, generation string) error {
	iter := coll.Where("generation", "==", generation).Documents(ctx)
	defer iter.Stop()

	bw := f.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return fmt.Errorf("error iterating windows: %w", err)
		}
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue window delete: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to delete window: %w", err)
		}
	}
	return nil
}

// GetWindows returns the current generation's windows starting between
// start and end.
func (f *FirestoreProvider) GetWindows(ctx context.Context, zone string, start, end time.Time) ([]types.PriceWindow, error) {
	gen, err := f.currentGeneration(ctx, zone)
	if err != nil {
		return nil, err
	}
	all, err := f.generationWindows(ctx, zone, gen)
	if err != nil {
		return nil, err
	}
	var windows []types.PriceWindow
	for _, w := range all {
		if w.StartTime.Before(start) || w.StartTime.After(end) {
			continue
		}
		windows = append(windows, w)
	}
	return windows, nil
}

func decodeJSONField(ctx context.Context, doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}
