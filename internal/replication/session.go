package replication

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/storage"
)

// session replicates one local collection with one remote database.
type session struct {
	client      *Client
	coll        *storage.Collection
	checkpoints *storage.CheckpointStore

	name         string // remote database
	collection   string
	checkpointID string
	// household restricts pushes to documents tagged with it.
	household string
	batchSize int
	pullOnly  bool
	// ensure creates the remote database before the first sync.
	ensure bool
}

// syncOnce pushes local changes then pulls remote ones until both sides
// are caught up. onActive is called whenever a batch moves documents.
func (s *session) syncOnce(ctx context.Context, onActive func()) error {
	if onActive == nil {
		onActive = func() {}
	}
	if !s.pullOnly {
		if err := s.push(ctx, onActive); err != nil {
			return fmt.Errorf("push %s: %w", s.name, err)
		}
	}
	if err := s.pull(ctx, onActive); err != nil {
		return fmt.Errorf("pull %s: %w", s.name, err)
	}
	return nil
}

func (s *session) push(ctx context.Context, onActive func()) error {
	cp, err := s.checkpoints.Load(ctx, s.checkpointID)
	if err != nil {
		return err
	}

	for {
		changes, err := s.coll.Changes(ctx, cp.LocalSeq, s.batchSize)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}

		revs := make(map[string][]string)
		histories := make(map[string][]string)
		for _, ch := range changes {
			doc, history, err := s.coll.GetRaw(ctx, ch.ID)
			if err != nil {
				return err
			}
			if s.household != "" && householdOf(doc.Body) != s.household {
				continue
			}
			revs[doc.ID] = []string{doc.Rev}
			histories[doc.ID] = history
		}

		if len(revs) > 0 {
			missing, err := s.client.RevsDiff(ctx, s.name, revs)
			if err != nil {
				return err
			}

			var docs []map[string]any
			for id := range missing {
				doc, history, err := s.coll.GetRaw(ctx, id)
				if err != nil {
					return err
				}
				if !slices.Contains(missing[id], doc.Rev) {
					continue
				}
				remote, err := toRemote(doc, history)
				if err != nil {
					return err
				}
				docs = append(docs, remote)
			}
			if len(docs) > 0 {
				onActive()
				if err := s.client.BulkDocs(ctx, s.name, docs); err != nil {
					return err
				}
				slog.Debug("Pushed documents", "database", s.name, "count", len(docs))
			}
		}

		cp.LocalSeq = changes[len(changes)-1].Seq
		if err := s.checkpoints.Save(ctx, s.checkpointID, cp); err != nil {
			return err
		}
		if len(changes) < s.batchSize {
			return nil
		}
	}
}

func (s *session) pull(ctx context.Context, onActive func()) error {
	cp, err := s.checkpoints.Load(ctx, s.checkpointID)
	if err != nil {
		return err
	}

	for {
		results, lastSeq, err := s.client.Changes(ctx, s.name, cp.RemoteSeq, s.batchSize)
		if err != nil {
			return err
		}

		var refs []bulkGetRef
		for _, ch := range results {
			rev, history, _, found, err := s.coll.Revision(ctx, ch.ID)
			if err != nil {
				return err
			}
			for _, c := range ch.Changes {
				if found && (c.Rev == rev || slices.Contains(history, c.Rev)) {
					continue
				}
				refs = append(refs, bulkGetRef{ID: ch.ID, Rev: c.Rev})
			}
		}

		if len(refs) > 0 {
			onActive()
			docs, err := s.client.BulkGet(ctx, s.name, refs)
			if err != nil {
				return err
			}
			applied := 0
			for _, remote := range docs {
				doc, history, err := fromRemote(remote)
				if err != nil {
					return err
				}
				changed, err := s.coll.PutReplicated(ctx, doc, history)
				if err != nil {
					return err
				}
				if changed {
					applied++
				}
			}
			slog.Debug("Pulled documents", "database", s.name, "fetched", len(docs), "applied", applied)
		}

		if lastSeq != "" {
			cp.RemoteSeq = lastSeq
		}
		if err := s.checkpoints.Save(ctx, s.checkpointID, cp); err != nil {
			return err
		}
		if len(results) < s.batchSize {
			return nil
		}
	}
}

// runLive keeps the session in sync until ctx is done. Failures are retried
// with backoff forever. After catching up it waits for a local write or the
// poll interval.
func (s *session) runLive(ctx context.Context, wake <-chan struct{}, poll time.Duration, retry common.RetryOptions, report func(Status, error)) {
	for {
		err := common.RetryForever(ctx, func() error {
			return s.syncOnce(ctx, func() { report(StatusActive, nil) })
		}, retry, func(err error, attempt int, delay time.Duration) {
			slog.Warn("Sync session failed, retrying",
				"database", s.name, "attempt", attempt, "delay", delay, "error", err)
			report(StatusError, err)
		})
		if err != nil {
			return
		}
		report(StatusPaused, nil)

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(poll):
		}
	}
}
