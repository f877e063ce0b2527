// Copyright (c) 2019-2020 ubirch GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	driverName = "postgres"
	tableName  = "suit_sequence"
	maxRetries = 5
)

var createTable = fmt.Sprintf(
	"CREATE TABLE IF NOT EXISTS %s("+
		"uid VARCHAR(255) NOT NULL PRIMARY KEY, "+
		"sequence_number BIGINT NOT NULL);", tableName)

// PoolParams mirrors the connection-pool tuning knobs the rest of the
// ambient stack exposes through its configuration layer.
type PoolParams struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Postgres is a SequenceStore backed by a postgres table, with its
// connection pool stats exported to Prometheus.
type Postgres struct {
	db *sql.DB
}

// Ensure Postgres implements the SequenceStore interface.
var _ SequenceStore = (*Postgres)(nil)

// NewPostgres opens a connection pool to dataSourceName, applies
// params, ensures the sequence table exists, and registers its pool
// statistics under reg.
func NewPostgres(dataSourceName string, params PoolParams, reg prometheus.Registerer) (*Postgres, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(params.MaxOpenConns)
	db.SetMaxIdleConns(params.MaxIdleConns)
	db.SetConnMaxLifetime(params.ConnMaxLifetime)
	db.SetConnMaxIdleTime(params.ConnMaxIdleTime)

	if err = db.Ping(); err != nil {
		return nil, err
	}

	log.Print("preparing postgres sequence store")

	if _, err = db.Exec(createTable); err != nil {
		return nil, err
	}

	if reg != nil {
		collector := sqlstats.NewStatsCollector(tableName, db)
		if err := reg.Register(collector); err != nil {
			log.Warnf("could not register db pool stats collector: %v", err)
		}
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, uid uuid.UUID) (uint64, bool, error) {
	var seq uint64

	query := fmt.Sprintf("SELECT sequence_number FROM %s WHERE uid = $1", tableName)

	for i := 0; i < maxRetries; i++ {
		err := p.db.QueryRowContext(ctx, query, uid.String()).Scan(&seq)
		if err != nil {
			if isConnectionNotAvailable(err) {
				log.Debugf("Get sequence connectionNotAvailable (%d of %d): %v", i+1, maxRetries, err)
				continue
			}
			if err == sql.ErrNoRows {
				return 0, false, nil
			}
			return 0, false, err
		}
		return seq, true, nil
	}

	return 0, false, fmt.Errorf("exceeded %d retries fetching sequence number for %s", maxRetries, uid)
}

func (p *Postgres) Advance(ctx context.Context, uid uuid.UUID, seq uint64) error {
	for i := 0; i < maxRetries; i++ {
		err := p.tryAdvance(ctx, uid, seq)
		if err != nil && isConnectionNotAvailable(err) {
			log.Debugf("Advance sequence connectionNotAvailable (%d of %d): %v", i+1, maxRetries, err)
			continue
		}
		return err
	}
	return fmt.Errorf("exceeded %d retries advancing sequence number for %s", maxRetries, uid)
}

func (p *Postgres) tryAdvance(ctx context.Context, uid uuid.UUID, seq uint64) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}

	var rollback = true
	defer func() {
		if rollback {
			_ = tx.Rollback()
		}
	}()

	var current uint64
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT sequence_number FROM %s WHERE uid = $1 FOR UPDATE", tableName), uid.String()).Scan(&current)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (uid, sequence_number) VALUES ($1, $2)", tableName), uid.String(), seq)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if seq <= current {
			rollback = true
			return ErrRollback
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET sequence_number = $1 WHERE uid = $2", tableName), seq, uid.String())
		if err != nil {
			return err
		}
	}

	rollback = false
	return tx.Commit()
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func isConnectionNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok &&
		(pqErr.Code == "53300" || // too_many_connections
			pqErr.Code == "53400") { // configuration_limit_exceeded
		time.Sleep(100 * time.Millisecond)
		return true
	}
	return false
}
