package audit

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"fusionswap/core/events"
	"fusionswap/core/types"
)

// ErrChainBroken is returned by Verify when a stored entry does not link to
// its predecessor.
var ErrChainBroken = errors.New("audit: hash chain broken")

const chainDomain = "fusion-audit-v1"

// Entry is one persisted engine event. Hash commits to the previous entry's
// hash, so rewriting any row invalidates every later row.
type Entry struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Type      string    `gorm:"size:64;index" json:"type"`
	OrderHash string    `gorm:"size:66;index" json:"orderHash,omitempty"`
	Payload   string    `gorm:"type:text" json:"payload"`
	PrevHash  string    `gorm:"size:64" json:"prevHash"`
	Hash      string    `gorm:"size:64;uniqueIndex" json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName pins the table name.
func (Entry) TableName() string { return "fusion_audit_entries" }

// Log is an append-only event log backed by sqlite. It implements
// events.Emitter.
type Log struct {
	mu     sync.Mutex
	db     *gorm.DB
	head   [32]byte
	seq    uint64
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the sqlite file at path. An empty path opens a
// private in-memory database.
func Open(path string) (*Log, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	return New(db)
}

// New migrates the schema on db and restores the chain head.
func New(db *gorm.DB) (*Log, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: database required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	l := &Log{db: db, logger: slog.Default().With(slog.String("component", "audit")), now: time.Now}
	var last Entry
	err := db.Order("seq desc").Limit(1).Take(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, fmt.Errorf("audit: load head: %w", err)
	default:
		head, err := decodeHash(last.Hash)
		if err != nil {
			return nil, err
		}
		l.head = head
		l.seq = last.Seq
	}
	return l, nil
}

// SetLogger replaces the logger used to report append failures from Emit.
func (l *Log) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// SetNowFunc overrides the clock used for CreatedAt.
func (l *Log) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Emit implements events.Emitter. Append failures are logged; the engine has
// already committed the transition.
func (l *Log) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	record := &types.Event{Type: evt.EventType()}
	if payload, ok := evt.(events.Payload); ok && payload.Event() != nil {
		record = payload.Event()
	}
	if _, err := l.Append(record); err != nil {
		l.logger.Error("audit append failed", slog.String("event", record.Type), slog.Any("error", err))
	}
}

// Append links evt to the chain head and stores it.
func (l *Log) Append(evt *types.Event) (*Entry, error) {
	if evt == nil {
		return nil, fmt.Errorf("audit: nil event")
	}
	payload, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, fmt.Errorf("audit: encode attributes: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := l.seq + 1
	hash := chainHash(l.head, seq, evt.Type, payload)
	entry := &Entry{
		Seq:       seq,
		Type:      evt.Type,
		OrderHash: evt.Attributes["orderHash"],
		Payload:   string(payload),
		PrevHash:  hex.EncodeToString(l.head[:]),
		Hash:      hex.EncodeToString(hash[:]),
		CreatedAt: l.now().UTC(),
	}
	if err := l.db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("audit: insert: %w", err)
	}
	l.head = hash
	l.seq = seq
	return entry, nil
}

// Head returns the sequence number and hash of the newest entry.
func (l *Log) Head() (uint64, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq, hex.EncodeToString(l.head[:])
}

// Entries lists entries in sequence order, optionally restricted to one
// order. A non-positive limit returns every match.
func (l *Log) Entries(orderHash string, limit int) ([]Entry, error) {
	query := l.db.Order("seq asc")
	if orderHash = strings.ToLower(strings.TrimSpace(orderHash)); orderHash != "" {
		query = query.Where("order_hash = ?", orderHash)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var out []Entry
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}

// Verify recomputes the whole chain.
func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []Entry
	if err := l.db.Order("seq asc").Find(&entries).Error; err != nil {
		return fmt.Errorf("audit: load: %w", err)
	}
	var prev [32]byte
	for i, entry := range entries {
		if entry.Seq != uint64(i+1) {
			return fmt.Errorf("%w: gap before seq %d", ErrChainBroken, entry.Seq)
		}
		if entry.PrevHash != hex.EncodeToString(prev[:]) {
			return fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, entry.Seq)
		}
		want := chainHash(prev, entry.Seq, entry.Type, []byte(entry.Payload))
		if entry.Hash != hex.EncodeToString(want[:]) {
			return fmt.Errorf("%w: seq %d hash mismatch", ErrChainBroken, entry.Seq)
		}
		prev = want
	}
	return nil
}

// Close releases the underlying connection pool.
func (l *Log) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func chainHash(prev [32]byte, seq uint64, eventType string, payload []byte) [32]byte {
	buf := new(bytes.Buffer)
	buf.WriteString(chainDomain)
	buf.Write(prev[:])
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	buf.Write(seqBytes[:])
	writeDelimited(buf, []byte(eventType))
	writeDelimited(buf, payload)
	return blake3.Sum256(buf.Bytes())
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

func decodeHash(raw string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != len(out) {
		return out, fmt.Errorf("%w: malformed head hash", ErrChainBroken)
	}
	copy(out[:], decoded)
	return out, nil
}
