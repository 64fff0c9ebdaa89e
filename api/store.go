package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"portscope/scanner"
)

// ArchiveStore keeps final snapshots of finished scans.
type ArchiveStore interface {
	Save(ctx context.Context, snap scanner.Snapshot) error
	Get(ctx context.Context, id string) (*ArchivedScan, error)
	Ping(ctx context.Context) error
}

var (
	// ErrArchiveNotFound indicates the scan was never archived or has expired.
	ErrArchiveNotFound = errors.New("archived scan not found")
)

// RedisArchive implements ArchiveStore with one Redis hash per scan.
type RedisArchive struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisArchive constructs a Redis-backed archive whose entries expire after ttl.
func NewRedisArchive(client *redis.Client, ttl time.Duration) *RedisArchive {
	return &RedisArchive{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisArchive) scanKey(id string) string {
	return fmt.Sprintf("scan:%s", id)
}

// Save writes snap and (re)sets the key expiry in one transaction.
func (s *RedisArchive) Save(ctx context.Context, snap scanner.Snapshot) error {
	data, err := serializeSnapshot(snap, s.now().UTC())
	if err != nil {
		return err
	}
	key := s.scanKey(snap.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves an archived scan by id.
func (s *RedisArchive) Get(ctx context.Context, id string) (*ArchivedScan, error) {
	res, err := s.client.HGetAll(ctx, s.scanKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrArchiveNotFound
	}
	return deserializeSnapshot(res)
}

// Ping checks connectivity to Redis.
func (s *RedisArchive) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func serializeSnapshot(snap scanner.Snapshot, archivedAt time.Time) (map[string]interface{}, error) {
	results, err := json.Marshal(snap.Results)
	if err != nil {
		return nil, err
	}
	logs, err := json.Marshal(snap.Logs)
	if err != nil {
		return nil, err
	}

	startedAt := ""
	if snap.StartedAt != nil {
		startedAt = snap.StartedAt.Format(time.RFC3339Nano)
	}
	finishedAt := ""
	if snap.FinishedAt != nil {
		finishedAt = snap.FinishedAt.Format(time.RFC3339Nano)
	}

	return map[string]interface{}{
		"id":                snap.ID,
		"state":             string(snap.State),
		"host":              snap.Host,
		"ports":             snap.Ports,
		"probed":            snap.Probed,
		"total":             snap.Total,
		"closed":            snap.Closed,
		"filtered":          snap.Filtered,
		"effective_workers": snap.EffectiveWorkers,
		"requested_workers": snap.RequestedWorkers,
		"system_cores":      snap.SystemCores,
		"results":           string(results),
		"logs":              string(logs),
		"started_at":        startedAt,
		"finished_at":       finishedAt,
		"archived_at":       archivedAt.Format(time.RFC3339Nano),
	}, nil
}

func deserializeSnapshot(data map[string]string) (*ArchivedScan, error) {
	snap := scanner.Snapshot{
		ID:    data["id"],
		State: scanner.JobState(data["state"]),
		Host:  data["host"],
		Ports: data["ports"],
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"probed", &snap.Probed},
		{"total", &snap.Total},
		{"closed", &snap.Closed},
		{"filtered", &snap.Filtered},
		{"effective_workers", &snap.EffectiveWorkers},
		{"requested_workers", &snap.RequestedWorkers},
		{"system_cores", &snap.SystemCores},
	}
	for _, f := range ints {
		raw, ok := data[f.field]
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.field, err)
		}
		*f.dst = n
	}
	snap.MaxRecommendedWorkers = snap.SystemCores * 2

	snap.Results = []scanner.PortResult{}
	if raw, ok := data["results"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &snap.Results); err != nil {
			return nil, err
		}
	}
	snap.Logs = []scanner.LogEntry{}
	if raw, ok := data["logs"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &snap.Logs); err != nil {
			return nil, err
		}
	}
	snap.NextLogIndex = len(snap.Logs)

	var err error
	if snap.StartedAt, err = parseOptionalTime(data["started_at"]); err != nil {
		return nil, err
	}
	if snap.FinishedAt, err = parseOptionalTime(data["finished_at"]); err != nil {
		return nil, err
	}
	if snap.State.Terminal() {
		snap.ProgressPercent = 100
	}
	if snap.StartedAt != nil && snap.FinishedAt != nil {
		d := snap.FinishedAt.Sub(*snap.StartedAt).Seconds()
		snap.DurationSeconds = &d
	}

	archivedAt, err := parseOptionalTime(data["archived_at"])
	if err != nil {
		return nil, err
	}
	archived := &ArchivedScan{Snapshot: snap}
	if archivedAt != nil {
		archived.ArchivedAt = *archivedAt
	}
	return archived, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
