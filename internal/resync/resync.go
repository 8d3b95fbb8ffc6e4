// Package resync re-reads booth and session snapshots over REST. The push
// channel keeps no backlog, so a client that reconnects uses it to catch up
// on what it missed.
package resync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"expo-booking-backend/internal/channel"
	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/ledger"
	"expo-booking-backend/internal/logger"
)

// Snapshot is the state of one resource as served by the API.
type Snapshot struct {
	Kind          event.ResourceKind `json:"kind"`
	ID            string             `json:"id"`
	ExpoID        string             `json:"expoId"`
	Number        string             `json:"number"`
	Status        ledger.Status      `json:"status"`
	Capacity      int                `json:"capacity"`
	HolderCount   int                `json:"holderCount"`
	WaitlistCount int                `json:"waitlistCount"`
	Closed        bool               `json:"closed"`
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Code, e.Message)
}

type resourceJSON struct {
	ID     string `json:"id"`
	ExpoID string `json:"expoId"`
	Number string `json:"number"`
	Code   string `json:"code"`
	State  struct {
		Status        ledger.Status `json:"status"`
		Capacity      int           `json:"capacity"`
		HolderCount   int           `json:"holderCount"`
		WaitlistCount int           `json:"waitlistCount"`
		Closed        bool          `json:"closed"`
	} `json:"state"`
}

func (r resourceJSON) snapshot(kind event.ResourceKind) Snapshot {
	number := r.Number
	if kind == event.ResourceSession {
		number = r.Code
	}
	return Snapshot{
		Kind:          kind,
		ID:            r.ID,
		ExpoID:        r.ExpoID,
		Number:        number,
		Status:        r.State.Status,
		Capacity:      r.State.Capacity,
		HolderCount:   r.State.HolderCount,
		WaitlistCount: r.State.WaitlistCount,
		Closed:        r.State.Closed,
	}
}

// Fetcher reads snapshots from the REST API.
type Fetcher struct {
	base   string
	token  string
	client *http.Client
}

// NewFetcher creates a fetcher for the API rooted at baseURL, e.g.
// "https://expo.example/api".
func NewFetcher(baseURL, token string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{base: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

// Booths returns the snapshots of every booth of an expo.
func (f *Fetcher) Booths(ctx context.Context, expoID string) ([]Snapshot, error) {
	return f.list(ctx, event.ResourceBooth, "/expos/"+url.PathEscape(expoID)+"/booths", "booths")
}

// Sessions returns the snapshots of every session of an expo.
func (f *Fetcher) Sessions(ctx context.Context, expoID string) ([]Snapshot, error) {
	return f.list(ctx, event.ResourceSession, "/expos/"+url.PathEscape(expoID)+"/sessions", "sessions")
}

// Resource returns the snapshot of a single booth or session.
func (f *Fetcher) Resource(ctx context.Context, kind event.ResourceKind, id string) (Snapshot, error) {
	key := string(kind)
	var body map[string]json.RawMessage
	if err := f.get(ctx, "/"+key+"s/"+url.PathEscape(id), &body); err != nil {
		return Snapshot{}, err
	}
	var r resourceJSON
	if err := json.Unmarshal(body[key], &r); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}
	return r.snapshot(kind), nil
}

// Expo fetches booths and sessions of an expo concurrently. Booths come first.
func (f *Fetcher) Expo(ctx context.Context, expoID string) ([]Snapshot, error) {
	var booths, sessions []Snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		booths, err = f.Booths(ctx, expoID)
		return err
	})
	g.Go(func() (err error) {
		sessions, err = f.Sessions(ctx, expoID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(booths, sessions...), nil
}

func (f *Fetcher) list(ctx context.Context, kind event.ResourceKind, path, key string) ([]Snapshot, error) {
	var body map[string]json.RawMessage
	if err := f.get(ctx, path, &body); err != nil {
		return nil, err
	}
	var rows []resourceJSON
	if err := json.Unmarshal(body[key], &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	out := make([]Snapshot, len(rows))
	for i, r := range rows {
		out[i] = r.snapshot(kind)
	}
	return out, nil
}

func (f *Fetcher) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Message}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	return nil
}

// Attach re-fetches the given expos whenever c reconnects after losing its
// connection and hands the snapshots to onSnapshot. The first connect is not
// resynced. Fetching runs on its own goroutine so channel handlers never block.
func Attach(c *channel.Client, f *Fetcher, expoIDs []string, onSnapshot func([]Snapshot), log *zap.Logger) {
	log = logger.OrNop(log)
	var lost atomic.Bool
	c.On(channel.KeyDisconnected, func(m channel.Message) {
		if m.Err != nil {
			lost.Store(true)
		}
	})
	c.On(channel.KeyConnected, func(channel.Message) {
		if !lost.Swap(false) {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			for _, id := range expoIDs {
				snaps, err := f.Expo(ctx, id)
				if err != nil {
					log.Warn("resync failed", zap.String("expo_id", id), zap.Error(err))
					continue
				}
				log.Info("resynced expo", zap.String("expo_id", id), zap.Int("resources", len(snaps)))
				onSnapshot(snaps)
			}
		}()
	})
}
