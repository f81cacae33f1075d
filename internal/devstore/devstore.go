// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package devstore persists the last-known player and server state to disk.
// After a restart the registry is seeded from the store, so the API serves
// player names, models and settings before the servers have answered a
// single query.
package devstore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/autolog/squeezebox-controller/internal/logging"
	"github.com/autolog/squeezebox-controller/internal/state"
)

const (
	playerKeyPrefix = "player:"
	serverKeyPrefix = "server:"
)

// Store is a Badger-backed record of the domain model. It implements
// state.ChangeListener, so installing it on the registry keeps the record
// current without touching the dispatcher.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens or creates the store at dir.
func Open(dir string, syncWrites bool) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(syncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &Store{
		db:  db,
		log: logging.With().Str("component", "devstore").Logger(),
	}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) put(key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("state snapshot not marshalled")
		return
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("state snapshot not persisted")
	}
}

// PlayerChanged implements state.ChangeListener.
func (s *Store) PlayerChanged(p *state.Player) {
	s.put(playerKeyPrefix+p.MAC, p)
}

// ServerChanged implements state.ChangeListener.
func (s *Store) ServerChanged(srv *state.Server) {
	s.put(serverKeyPrefix+srv.ID, srv)
}

// Players returns every persisted player snapshot.
func (s *Store) Players() ([]*state.Player, error) {
	var players []*state.Player
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(playerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var p state.Player
				if err := json.Unmarshal(val, &p); err != nil {
					return err
				}
				players = append(players, &p)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load players: %w", err)
	}
	return players, nil
}

// Player returns one persisted player snapshot.
func (s *Store) Player(mac string) (*state.Player, bool, error) {
	var p state.Player
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(playerKeyPrefix + mac))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load player %s: %w", mac, err)
	}
	return &p, true, nil
}

// RemovePlayer deletes a player snapshot, for players forgotten server-side.
func (s *Store) RemovePlayer(mac string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(playerKeyPrefix + mac))
	})
}

// Seed loads every persisted player into the registry as disconnected.
// Players whose server is no longer configured are skipped; their snapshots
// remain in the store in case the server comes back.
func (s *Store) Seed(registry *state.Registry, serverIDs []string) error {
	configured := make(map[string]struct{}, len(serverIDs))
	for _, id := range serverIDs {
		configured[id] = struct{}{}
	}

	players, err := s.Players()
	if err != nil {
		return err
	}
	seeded := 0
	for _, saved := range players {
		if _, ok := configured[saved.ServerID]; !ok {
			continue
		}
		mac := saved.MAC
		registry.EnsurePlayer(saved.ServerID, mac)
		registry.UpdatePlayer(mac, func(p *state.Player) {
			p.Name = saved.Name
			p.Model = saved.Model
			p.IPAddress = saved.IPAddress
			p.Volume = saved.Volume
			p.MaintainSync = saved.MaintainSync
			p.Repeat = saved.Repeat
			p.Shuffle = saved.Shuffle
			p.CoverArtFile = saved.CoverArtFile
			// Connectivity is never restored: the player is offline
			// until its server lists it again.
			p.Connected = false
			p.Status = state.StatusDisconnected
			p.PowerUI = string(state.StatusDisconnected)
		})
		seeded++
	}
	s.log.Info().Int("players", seeded).Msg("registry seeded from state store")
	return nil
}
