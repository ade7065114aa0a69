// Package store persists audit reports per agent.
package store

import (
	"context"
	"fmt"
	"time"

	"call-audit-go/internal/config"
	"call-audit-go/internal/types"
)

// Record is one saved report with its provenance.
type Record struct {
	AgentName string            `json:"agent_name" bson:"agent_name"`
	Date      string            `json:"date" bson:"date"`
	FileName  string            `json:"file_name" bson:"file_name"`
	Report    types.AuditReport `json:"report" bson:"report"`
	CreatedAt time.Time         `json:"created_at" bson:"created_at"`
}

// Store is insert-only: Save never overwrites an existing record.
type Store interface {
	Save(ctx context.Context, agent, date, file string, report types.AuditReport) error
	// List returns an agent's records, newest date first, newest insert first
	// within a date.
	List(ctx context.Context, agent string) ([]Record, error)
	DeleteAgent(ctx context.Context, agent string) (int64, error)
	Close(ctx context.Context) error
}

// Open connects the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "mongo":
		return NewMongo(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection)
	case "badger":
		return NewBadger(BadgerOptions{Dir: cfg.BadgerDir})
	case "none", "":
		return Nop{}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// checkDate enforces the YYYY-MM-DD form that List ordering relies on.
func checkDate(date string) error {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return fmt.Errorf("%w: got %q", types.ErrInvalidDate, date)
	}
	return nil
}

// Nop discards every report.
type Nop struct{}

func (Nop) Save(context.Context, string, string, string, types.AuditReport) error { return nil }
func (Nop) List(context.Context, string) ([]Record, error)                        { return []Record{}, nil }
func (Nop) DeleteAgent(context.Context, string) (int64, error)                    { return 0, nil }
func (Nop) Close(context.Context) error                                           { return nil }
