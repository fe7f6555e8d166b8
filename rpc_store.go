package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// RPCRecord is one served wallet call. Parameter values are never stored,
// only their names.
type RPCRecord struct {
	ID         string         `gorm:"column:id;type:varchar(36);primaryKey"`
	Method     string         `gorm:"column:method;type:varchar(64);not null;index"`
	Kind       string         `gorm:"column:kind;type:varchar(64);not null;default:''"`
	Sender     string         `gorm:"column:sender;type:varchar(42);not null;default:''"`
	UserID     string         `gorm:"column:user_id;type:varchar(255);not null;default:''"`
	ParamNames pq.StringArray `gorm:"column:param_names;type:text[]"`
	Outcome    string         `gorm:"column:outcome;type:varchar(16);not null"`
	ErrorKind  string         `gorm:"column:error_kind;type:varchar(64);not null;default:''"`
	TxHash     string         `gorm:"column:tx_hash;type:varchar(66);not null;default:''"`
	ChainID    string         `gorm:"column:chain_id;type:varchar(78);not null;default:''"`
	DurationMs int64          `gorm:"column:duration_ms;not null;default:0"`
	// Meta holds non-sensitive call details such as the request id.
	Meta      datatypes.JSON `gorm:"column:meta;type:text"`
	CreatedAt time.Time      `gorm:"column:created_at;index"`
}

// TableName specifies the table name for the RPCRecord model
func (RPCRecord) TableName() string {
	return "rpc_journal"
}

// ToHistoryEntry converts the record to its API shape.
func (r RPCRecord) ToHistoryEntry() rpc.HistoryEntry {
	return rpc.HistoryEntry{
		ID:         r.ID,
		Method:     r.Method,
		Kind:       r.Kind,
		From:       r.Sender,
		ParamNames: []string(r.ParamNames),
		Outcome:    r.Outcome,
		ErrorKind:  r.ErrorKind,
		TxHash:     r.TxHash,
		ChainID:    r.ChainID,
		DurationMs: r.DurationMs,
		CreatedAt:  r.CreatedAt,
	}
}

// HistoryFilter narrows a journal query. Empty fields match everything.
type HistoryFilter struct {
	Method  string
	Outcome string
}

func (f HistoryFilter) apply(db *gorm.DB) *gorm.DB {
	if f.Method != "" {
		db = db.Where("method = ?", f.Method)
	}
	if f.Outcome != "" {
		db = db.Where("outcome = ?", f.Outcome)
	}
	return db
}

// RPCStore handles the request journal
type RPCStore struct {
	db *gorm.DB
}

// NewRPCStore creates a new RPCStore instance
func NewRPCStore(db *gorm.DB) *RPCStore {
	return &RPCStore{db: db}
}

// Store saves rec, assigning an id and creation time when missing.
func (s *RPCStore) Store(ctx context.Context, rec *RPCRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(rec).Error, "failed to store rpc record")
}

// List returns journal rows, newest first unless options say otherwise.
func (s *RPCStore) List(ctx context.Context, filter HistoryFilter, options *rpc.ListOptions) ([]RPCRecord, error) {
	query := applyListOptions(s.db.WithContext(ctx), "created_at", rpc.SortTypeDescending, options)
	query = filter.apply(query)

	var records []RPCRecord
	err := query.Find(&records).Error
	return records, errors.Wrap(err, "failed to list rpc records")
}

// Count returns the number of journal rows matching filter.
func (s *RPCStore) Count(ctx context.Context, filter HistoryFilter) (int64, error) {
	query := filter.apply(s.db.WithContext(ctx).Model(&RPCRecord{}))

	var count int64
	err := query.Count(&count).Error
	return count, errors.Wrap(err, "failed to count rpc records")
}

func encodeMeta(meta map[string]any) datatypes.JSON {
	if len(meta) == 0 {
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
