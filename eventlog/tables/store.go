// Package tables stores the event log in Azure Table Storage.
//
// Each stream is one partition. Row keys are inverted, zero padded versions
// so the newest event is the first row of its partition and the head of a
// stream can be read with a single Top=1 query.
package tables

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

const (
	snapshotRowKey   = "latest"
	rowKeyWidth      = 19
	snapshotAttempts = 3
)

// Store implements eventlog.Backend on two Azure tables.
type Store struct {
	events    *aztables.Client
	snapshots *aztables.Client
}

var _ eventlog.Backend = (*Store)(nil)

// ClientOptions are the retry settings used for every table client.
func ClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    30 * time.Second,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// New creates a Store from a storage account connection string.
func New(connStr, eventsTable, snapshotsTable string) (*Store, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, ClientOptions())
	if err != nil {
		return nil, errors.Wrap(err, "tables service client")
	}
	return &Store{
		events:    svc.NewClient(eventsTable),
		snapshots: svc.NewClient(snapshotsTable),
	}, nil
}

func (s *Store) Close() error { return nil }

type eventEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	EventID       string `json:"EventId"`
	AggregateType string `json:"AggregateType"`
	AggregateID   string `json:"AggregateId"`
	EventType     string `json:"EventType"`
	Payload       string `json:"Payload"`
	Metadata      string `json:"Metadata"`
	CreatedAt     string `json:"CreatedAt"`
}

type snapshotEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Version      string `json:"Version"`
	State        string `json:"State"`
	CreatedAt    string `json:"CreatedAt"`
}

func partitionKey(k eventlog.StreamKey) string {
	return k.String()
}

// rowKey inverts version so rows sort newest first.
func rowKey(version int64) string {
	return fmt.Sprintf("%0*d", rowKeyWidth, math.MaxInt64-version)
}

func versionFromRowKey(rk string) (int64, error) {
	n, err := strconv.ParseInt(rk, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse row key %q", rk)
	}
	return math.MaxInt64 - n, nil
}

func parseStreamKey(pk string) (eventlog.StreamKey, bool) {
	t, id, ok := strings.Cut(pk, ":")
	if !ok {
		return eventlog.StreamKey{}, false
	}
	return eventlog.Stream(eventlog.AggregateType(t), id), true
}

func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func encodeEvent(evt eventlog.Event) ([]byte, error) {
	md, err := sonic.MarshalString(evt.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "encode metadata")
	}
	return sonic.Marshal(eventEntity{
		PartitionKey:  partitionKey(evt.Stream()),
		RowKey:        rowKey(evt.Version),
		EventID:       evt.ID,
		AggregateType: string(evt.AggregateType),
		AggregateID:   evt.AggregateID,
		EventType:     evt.Type,
		Payload:       string(evt.Payload),
		Metadata:      md,
		CreatedAt:     evt.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func decodeEvent(data []byte) (eventlog.Event, error) {
	var ent eventEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return eventlog.Event{}, errors.Wrap(err, "decode event entity")
	}
	version, err := versionFromRowKey(ent.RowKey)
	if err != nil {
		return eventlog.Event{}, err
	}
	evt := eventlog.Event{
		ID:            ent.EventID,
		AggregateType: eventlog.AggregateType(ent.AggregateType),
		AggregateID:   ent.AggregateID,
		Type:          ent.EventType,
		Version:       version,
	}
	if ent.Payload != "" {
		evt.Payload = []byte(ent.Payload)
	}
	if ent.Metadata != "" {
		if err := sonic.UnmarshalString(ent.Metadata, &evt.Metadata); err != nil {
			return eventlog.Event{}, errors.Wrap(err, "decode metadata")
		}
	}
	if evt.CreatedAt, err = time.Parse(time.RFC3339Nano, ent.CreatedAt); err != nil {
		return eventlog.Event{}, errors.Wrap(err, "decode created at")
	}
	return evt, nil
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func (s *Store) head(ctx context.Context, pk string) (int64, error) {
	filter := "PartitionKey eq " + quote(pk)
	sel := "RowKey"
	top := int32(1)
	pager := s.events.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel, Top: &top})
	if !pager.More() {
		return 0, nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "read stream head")
	}
	if len(resp.Entities) == 0 {
		return 0, nil
	}
	var ent eventEntity
	if err := sonic.Unmarshal(resp.Entities[0], &ent); err != nil {
		return 0, errors.Wrap(err, "decode stream head")
	}
	return versionFromRowKey(ent.RowKey)
}

func (s *Store) AppendEvent(ctx context.Context, evt eventlog.Event) (eventlog.Event, error) {
	head, err := s.head(ctx, partitionKey(evt.Stream()))
	if err != nil {
		return eventlog.Event{}, err
	}
	if evt.Version != head+1 {
		return eventlog.Event{}, eventlog.Conflict(evt.Stream(), evt.Version, head)
	}
	payload, err := encodeEvent(evt)
	if err != nil {
		return eventlog.Event{}, err
	}
	if _, err := s.events.AddEntity(ctx, payload, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return eventlog.Event{}, eventlog.Conflict(evt.Stream(), evt.Version, -1)
		}
		return eventlog.Event{}, errors.Wrap(err, "add event entity")
	}
	return evt, nil
}

func (s *Store) ListEvents(ctx context.Context, stream eventlog.StreamKey, fromVersion int64) ([]eventlog.Event, error) {
	filter := "PartitionKey eq " + quote(partitionKey(stream)) + " and RowKey lt " + quote(rowKey(fromVersion))
	pager := s.events.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []eventlog.Event
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list event entities")
		}
		for _, raw := range resp.Entities {
			evt, err := decodeEvent(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, evt)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) getSnapshot(ctx context.Context, stream eventlog.StreamKey) (eventlog.Snapshot, azcore.ETag, error) {
	resp, err := s.snapshots.GetEntity(ctx, partitionKey(stream), snapshotRowKey, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return eventlog.Snapshot{}, "", eventlog.ErrNotFound
		}
		return eventlog.Snapshot{}, "", errors.Wrap(err, "get snapshot entity")
	}
	var ent snapshotEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return eventlog.Snapshot{}, "", errors.Wrap(err, "decode snapshot entity")
	}
	version, err := strconv.ParseInt(ent.Version, 10, 64)
	if err != nil {
		return eventlog.Snapshot{}, "", errors.Wrap(err, "decode snapshot version")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	if err != nil {
		return eventlog.Snapshot{}, "", errors.Wrap(err, "decode snapshot created at")
	}
	return eventlog.Snapshot{
		AggregateType: stream.AggregateType,
		AggregateID:   stream.AggregateID,
		Version:       version,
		State:         []byte(ent.State),
		CreatedAt:     createdAt,
	}, resp.ETag, nil
}

func (s *Store) LatestSnapshot(ctx context.Context, stream eventlog.StreamKey) (eventlog.Snapshot, error) {
	snap, _, err := s.getSnapshot(ctx, stream)
	return snap, err
}

// PutSnapshot uses ETag preconditions so a concurrent writer holding a newer
// snapshot is never overwritten.
func (s *Store) PutSnapshot(ctx context.Context, snapshot eventlog.Snapshot) error {
	stream := snapshot.Stream()
	payload, err := sonic.Marshal(snapshotEntity{
		PartitionKey: partitionKey(stream),
		RowKey:       snapshotRowKey,
		Version:      strconv.FormatInt(snapshot.Version, 10),
		State:        string(snapshot.State),
		CreatedAt:    snapshot.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return errors.Wrap(err, "encode snapshot entity")
	}
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		current, etag, err := s.getSnapshot(ctx, stream)
		switch {
		case errors.Is(err, eventlog.ErrNotFound):
			_, err = s.snapshots.AddEntity(ctx, payload, nil)
			if statusCode(err) == http.StatusConflict {
				continue
			}
			return errors.Wrap(err, "add snapshot entity")
		case err != nil:
			return err
		case current.Version > snapshot.Version:
			return eventlog.ErrStaleSnapshot
		}
		_, err = s.snapshots.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
			IfMatch:    &etag,
			UpdateMode: aztables.UpdateModeReplace,
		})
		if statusCode(err) == http.StatusPreconditionFailed {
			continue
		}
		return errors.Wrap(err, "update snapshot entity")
	}
	return errors.Errorf("snapshot for %s kept changing after %d attempts", stream, snapshotAttempts)
}

func (s *Store) DeleteEvent(ctx context.Context, stream eventlog.StreamKey, version int64) error {
	_, err := s.events.DeleteEntity(ctx, partitionKey(stream), rowKey(version), nil)
	if statusCode(err) == http.StatusNotFound {
		return eventlog.ErrNotFound
	}
	return errors.Wrap(err, "delete event entity")
}

// ListStreams scans partition and row keys only. Rows arrive ordered by
// partition then row key, so the first row seen per partition is its head.
func (s *Store) ListStreams(ctx context.Context, aggregateType eventlog.AggregateType) ([]eventlog.StreamInfo, error) {
	sel := "PartitionKey,RowKey"
	opts := &aztables.ListEntitiesOptions{Select: &sel}
	if aggregateType != "" {
		filter := "PartitionKey ge " + quote(string(aggregateType)+":") +
			" and PartitionKey lt " + quote(string(aggregateType)+";")
		opts.Filter = &filter
	}
	pager := s.events.NewListEntitiesPager(opts)
	var (
		out  []eventlog.StreamInfo
		last string
	)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list stream keys")
		}
		for _, raw := range resp.Entities {
			var ent eventEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, errors.Wrap(err, "decode stream key")
			}
			if ent.PartitionKey == last {
				continue
			}
			last = ent.PartitionKey
			key, ok := parseStreamKey(ent.PartitionKey)
			if !ok {
				continue
			}
			version, err := versionFromRowKey(ent.RowKey)
			if err != nil {
				return nil, err
			}
			out = append(out, eventlog.StreamInfo{Stream: key, Version: version})
		}
	}
	return out, nil
}
