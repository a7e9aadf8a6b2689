// Package store implements the document store on Couchbase: the consistency
// map lives in the "consistency" bucket as a single document, and every
// accepted event is stored content-addressed in the "events" bucket, indexed
// for the historical query path.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchbase/gocb/v2"

	"github.com/sedproject/sed/pkg/wire"
)

const (
	eventsBucket      = "events"
	consistencyBucket = "consistency"

	// consistencyDocID is the single document holding the whole map.
	consistencyDocID = "consistency"

	// Buckets may still be warming up when the bus starts; keep retrying
	// for a minute before giving up.
	bucketRetries       = 60
	bucketRetryInterval = time.Second
)

// Couchbase is the gocb-backed document store. It satisfies the bus's
// DocumentStore interface.
type Couchbase struct {
	cluster     *gocb.Cluster
	events      *gocb.Collection
	consistency *gocb.Collection
}

// Connect opens the cluster and both buckets, retrying while the buckets
// warm up, and ensures the secondary indexes the query path relies on.
func Connect(ctx context.Context, host, username, password string) (*Couchbase, error) {
	cluster, err := gocb.Connect("couchbase://"+host, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to couchbase at %s: %w", host, err)
	}

	events, err := openBucket(ctx, cluster, eventsBucket)
	if err != nil {
		return nil, err
	}
	consistency, err := openBucket(ctx, cluster, consistencyBucket)
	if err != nil {
		return nil, err
	}

	s := &Couchbase{
		cluster:     cluster,
		events:      events,
		consistency: consistency,
	}
	s.ensureIndexes(ctx)
	return s, nil
}

// openBucket waits for one bucket to become ready, retrying while Couchbase
// warms up.
func openBucket(ctx context.Context, cluster *gocb.Cluster, name string) (*gocb.Collection, error) {
	bucket := cluster.Bucket(name)

	var err error
	for attempt := 1; attempt <= bucketRetries; attempt++ {
		err = bucket.WaitUntilReady(bucketRetryInterval, nil)
		if err == nil {
			slog.Info("Connected to couchbase bucket", "bucket", name)
			return bucket.DefaultCollection(), nil
		}
		slog.Warn("Couchbase bucket not ready, retrying",
			"bucket", name, "attempt", attempt, "retries_remaining", bucketRetries-attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("open bucket %s: %w", name, ctx.Err())
		default:
		}
	}
	return nil, fmt.Errorf("open bucket %s: %w", name, err)
}

// ensureIndexes creates the secondary indexes on event_type and
// timestamp_raw. "Already exists" is fine — the indexes survive restarts.
func (s *Couchbase) ensureIndexes(ctx context.Context) {
	mgr := s.cluster.QueryIndexes()
	for _, field := range []string{"event_type", "timestamp_raw"} {
		err := mgr.CreateIndex(eventsBucket, "ix_"+field, []string{field}, &gocb.CreateQueryIndexOptions{
			IgnoreIfExists: true,
			Context:        ctx,
		})
		if err != nil {
			slog.Warn("Failed to create secondary index", "index", field, "error", err)
		} else {
			slog.Info("Secondary index ready", "index", field)
		}
	}
}

// LoadConsistency fetches the persisted consistency map. A missing document
// yields an empty map.
func (s *Couchbase) LoadConsistency(ctx context.Context) (map[wire.Key]uint32, error) {
	res, err := s.consistency.Get(consistencyDocID, &gocb.GetOptions{Context: ctx})
	if err != nil {
		if errors.Is(err, gocb.ErrDocumentNotFound) {
			slog.Info("No consistency document, starting empty")
			return make(map[wire.Key]uint32), nil
		}
		return nil, fmt.Errorf("get consistency document: %w", err)
	}

	m := make(map[wire.Key]uint32)
	if err := res.Content(&m); err != nil {
		return nil, fmt.Errorf("decode consistency document: %w", err)
	}
	return m, nil
}

// SaveConsistency replaces the persisted consistency map.
func (s *Couchbase) SaveConsistency(ctx context.Context, m map[wire.Key]uint32) error {
	if _, err := s.consistency.Upsert(consistencyDocID, m, &gocb.UpsertOptions{Context: ctx}); err != nil {
		return fmt.Errorf("upsert consistency document: %w", err)
	}
	return nil
}

// SaveEvent stores one accepted event under its content-addressed ID.
func (s *Couchbase) SaveEvent(ctx context.Context, id string, ev wire.Event) error {
	if _, err := s.events.Upsert(id, ev, &gocb.UpsertOptions{Context: ctx}); err != nil {
		return fmt.Errorf("upsert event document %s: %w", id, err)
	}
	return nil
}

// QueryEvents returns events matching the type filter with timestamp_raw
// strictly greater than since, ascending. A filter containing "*" matches
// every type.
func (s *Couchbase) QueryEvents(ctx context.Context, eventTypes []string, since int64) ([]wire.Event, error) {
	statement, params := queryStatement(eventTypes, since)

	rows, err := s.cluster.Query(statement, &gocb.QueryOptions{
		PositionalParameters: params,
		Context:              ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []wire.Event
	for rows.Next() {
		var ev wire.Event
		if err := rows.Row(&ev); err != nil {
			return nil, fmt.Errorf("decode event row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// Ping checks cluster reachability for the health endpoint.
func (s *Couchbase) Ping(ctx context.Context) error {
	_, err := s.cluster.Ping(&gocb.PingOptions{Context: ctx})
	if err != nil {
		return fmt.Errorf("ping couchbase: %w", err)
	}
	return nil
}

// Close releases the cluster connections.
func (s *Couchbase) Close() error {
	return s.cluster.Close(nil)
}

// queryStatement builds the N1QL statement for one historical query. A
// wildcard in the type filter drops the type predicate entirely.
func queryStatement(eventTypes []string, since int64) (string, []interface{}) {
	statement := "SELECT RAW e FROM `" + eventsBucket + "` e WHERE e.timestamp_raw > $1"
	params := []interface{}{since}
	if !containsWildcard(eventTypes) {
		statement += " AND e.event_type IN $2"
		params = append(params, eventTypes)
	}
	statement += " ORDER BY e.timestamp_raw ASC"
	return statement, params
}

func containsWildcard(eventTypes []string) bool {
	for _, t := range eventTypes {
		if t == wire.Wildcard {
			return true
		}
	}
	return false
}
