// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package answers persists final analysis answers in BadgerDB.
//
// # Key Layout
//
//	answer/<id>                  JSON-encoded datatypes.AnalysisResponse
//	recent/<unix nanos, 20 digits>/<id>   empty marker, ordered by time
//
// The zero-padded timestamp makes lexical key order equal to time order, so
// the newest answers are found by a reverse prefix scan.
package answers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
)

const (
	answerPrefix = "answer/"
	recentPrefix = "recent/"
)

// DefaultListLimit is used by ListRecent when limit <= 0.
const DefaultListLimit = 20

// ErrNotFound is returned when no answer has the requested id.
var ErrNotFound = errors.New("answer not found")

// Store is the answer history.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	db        *badger.DB
	gc        *gcRunner
	retention time.Duration
}

// Open opens or creates the answer store described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, retention: cfg.Retention}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Put stores answer under answer.ID, replacing any previous version.
func (s *Store) Put(ctx context.Context, answer *datatypes.AnalysisResponse) error {
	if answer == nil || answer.ID == "" {
		return errors.New("answer with id is required")
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}

	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		if old, err := s.get(txn, answer.ID); err == nil {
			if err := txn.Delete(recentKey(old)); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.SetEntry(s.entry(answerKey(answer.ID), data)); err != nil {
			return fmt.Errorf("write answer: %w", err)
		}
		if err := txn.SetEntry(s.entry(recentKey(answer), nil)); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		return nil
	})
}

// Get returns the answer with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*datatypes.AnalysisResponse, error) {
	var answer *datatypes.AnalysisResponse
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		var err error
		answer, err = s.get(txn, id)
		return err
	})
	return answer, err
}

// ListRecent returns summaries of the newest answers, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]datatypes.AnalysisSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	out := make([]datatypes.AnalysisSummary, 0, limit)

	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(recentPrefix)
		for it.Seek(append([]byte(recentPrefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if len(out) >= limit {
				break
			}
			key := string(it.Item().Key())
			id := key[len(recentPrefix)+21:]
			answer, err := s.get(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, answer.Summary())
		}
		return nil
	})
	return out, err
}

// Delete removes the answer with id, or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	return withTxn(ctx, s.db, func(txn *badger.Txn) error {
		answer, err := s.get(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(recentKey(answer)); err != nil {
			return err
		}
		return txn.Delete(answerKey(id))
	})
}

func (s *Store) get(txn *badger.Txn, id string) (*datatypes.AnalysisResponse, error) {
	item, err := txn.Get(answerKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read answer %s: %w", id, err)
	}
	var answer datatypes.AnalysisResponse
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &answer)
	}); err != nil {
		return nil, fmt.Errorf("decode answer %s: %w", id, err)
	}
	return &answer, nil
}

func (s *Store) entry(key, value []byte) *badger.Entry {
	e := badger.NewEntry(key, value)
	if s.retention > 0 {
		e = e.WithTTL(s.retention)
	}
	return e
}

func answerKey(id string) []byte {
	return []byte(answerPrefix + id)
}

func recentKey(answer *datatypes.AnalysisResponse) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", recentPrefix, answer.Timestamp.UnixNano(), answer.ID))
}
