package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/praxis-systems/aegis/pkg/canon"
	"github.com/praxis-systems/aegis/pkg/merkle"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"

	// DefaultBlockSize is the number of entries per block before sealing.
	DefaultBlockSize = 100
)

// SealHandler is invoked after a block has been sealed and committed.
type SealHandler func(block *Block)

// Store is the SQL-backed ledger. Appends are serialized by a mutex so
// sequence allocation and hash chaining stay strictly ordered even with
// concurrent callers.
type Store struct {
	db        *sql.DB
	dialect   string
	blockSize int
	logger    *slog.Logger
	clock     func() time.Time

	mu        sync.Mutex
	nextSeq   uint64
	headHash  *string
	current   *Block
	lastBlock uint64

	sealHandlers []SealHandler
}

// Option configures a Store.
type Option func(*Store)

// WithBlockSize sets the number of entries per block.
func WithBlockSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithClock overrides the time source. Tests use this to make entry
// timestamps, and therefore entry hashes, deterministic.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open connects to the database named by databaseURL, runs migrations and
// loads the chain head. URLs with a postgres:// or postgresql:// scheme use
// the Postgres driver; everything else is treated as a SQLite DSN, with an
// optional sqlite:// prefix.
func Open(databaseURL string, opts ...Option) (*Store, error) {
	db, dialect, err := openDB(databaseURL)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:        db,
		dialect:   dialect,
		blockSize: DefaultBlockSize,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadHead(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func openDB(databaseURL string) (*sql.DB, string, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("ledger: open postgres: %w", err)
		}
		return db, dialectPostgres, nil
	}

	dsn := strings.TrimPrefix(databaseURL, "sqlite://")
	if dsn == "" {
		dsn = "file:ledger.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("ledger: open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db, dialectSQLite, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// RegisterSealHandler adds a callback fired after each committed seal.
// Handlers run synchronously on the sealing goroutine and must not call
// back into the store's write path.
func (s *Store) RegisterSealHandler(h SealHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealHandlers = append(s.sealHandlers, h)
}

// BlockSize returns the configured entries-per-block threshold.
func (s *Store) BlockSize() int { return s.blockSize }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id              TEXT PRIMARY KEY,
			sequence_number BIGINT NOT NULL UNIQUE,
			event_data      TEXT NOT NULL,
			previous_hash   TEXT,
			entry_hash      TEXT NOT NULL,
			block_id        TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			is_verified     BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_sequence
			ON ledger_entries (sequence_number)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_block
			ON ledger_entries (block_id)`,
		`CREATE TABLE IF NOT EXISTS ledger_blocks (
			id                   TEXT PRIMARY KEY,
			block_number         BIGINT NOT NULL UNIQUE,
			entry_count          BIGINT NOT NULL DEFAULT 0,
			first_entry_sequence BIGINT NOT NULL,
			last_entry_sequence  BIGINT NOT NULL,
			merkle_root          TEXT NOT NULL DEFAULT '',
			merkle_tree_data     TEXT NOT NULL DEFAULT '[]',
			created_at           TEXT NOT NULL,
			sealed_at            TEXT,
			is_verified          BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_blocks_number
			ON ledger_blocks (block_number)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ledger: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) loadHead() error {
	var maxSeq sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(sequence_number) FROM ledger_entries`).Scan(&maxSeq); err != nil {
		return fmt.Errorf("ledger: load head sequence: %w", err)
	}
	s.nextSeq = 1
	if maxSeq.Valid {
		s.nextSeq = uint64(maxSeq.Int64) + 1
		var head string
		err := s.db.QueryRow(s.q(`SELECT entry_hash FROM ledger_entries WHERE sequence_number = ?`),
			maxSeq.Int64).Scan(&head)
		if err != nil {
			return fmt.Errorf("ledger: load head hash: %w", err)
		}
		s.headHash = &head
	}

	var maxBlock sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(block_number) FROM ledger_blocks`).Scan(&maxBlock); err != nil {
		return fmt.Errorf("ledger: load block number: %w", err)
	}
	if maxBlock.Valid {
		s.lastBlock = uint64(maxBlock.Int64)
	}

	row := s.db.QueryRow(`SELECT ` + blockColumns + ` FROM ledger_blocks
		WHERE sealed_at IS NULL ORDER BY block_number DESC LIMIT 1`)
	block, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: load open block: %w", err)
	}
	s.current = block
	return nil
}

// q rewrites ? placeholders to $N for Postgres.
func (s *Store) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// AppendEvent validates the event, assigns the next sequence number, links
// the entry to the current head and persists it transactionally. When the
// open block reaches the configured size it is sealed in the same
// transaction. On any failure the transaction rolls back and the in-memory
// head is left untouched.
func (s *Store) AppendEvent(ctx context.Context, event *Event) (*Entry, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock().UTC()
	}
	eventData, err := event.encode()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin append: %w", err)
	}
	defer tx.Rollback()

	var sealed []*Block
	block := s.current
	if block != nil && block.EntryCount >= s.blockSize {
		// A full block left open (after a block-size reconfiguration or
		// an interrupted seal) is closed before a new one starts.
		if err := s.sealBlockTx(ctx, tx, block); err != nil {
			return nil, err
		}
		sealed = append(sealed, block)
		block = nil
	}
	if block == nil {
		block = &Block{
			ID:                 uuid.New(),
			BlockNumber:        s.lastBlock + 1,
			FirstEntrySequence: s.nextSeq,
			LastEntrySequence:  s.nextSeq,
			CreatedAt:          s.clock().UTC(),
		}
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO ledger_blocks
			(id, block_number, entry_count, first_entry_sequence, last_entry_sequence,
			 merkle_root, merkle_tree_data, created_at, sealed_at, is_verified)
			VALUES (?, ?, 0, ?, ?, '', '[]', ?, NULL, FALSE)`),
			block.ID.String(), block.BlockNumber, block.FirstEntrySequence,
			block.LastEntrySequence, canon.Time(block.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("ledger: create block: %w", err)
		}
	}

	entry := &Entry{
		ID:             uuid.New(),
		SequenceNumber: s.nextSeq,
		EventData:      eventData,
		PreviousHash:   s.headHash,
		BlockID:        block.ID,
		CreatedAt:      s.clock().UTC(),
		IsVerified:     true,
	}
	entry.EntryHash, err = entry.CalculateHash()
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO ledger_entries
		(id, sequence_number, event_data, previous_hash, entry_hash, block_id, created_at, is_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, TRUE)`),
		entry.ID.String(), entry.SequenceNumber, entry.EventData,
		nullableString(entry.PreviousHash), entry.EntryHash,
		entry.BlockID.String(), canon.Time(entry.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("ledger: insert entry: %w", err)
	}

	block.EntryCount++
	block.LastEntrySequence = entry.SequenceNumber
	_, err = tx.ExecContext(ctx, s.q(`UPDATE ledger_blocks
		SET entry_count = ?, last_entry_sequence = ? WHERE id = ?`),
		block.EntryCount, block.LastEntrySequence, block.ID.String())
	if err != nil {
		return nil, fmt.Errorf("ledger: update block: %w", err)
	}

	if block.EntryCount >= s.blockSize {
		if err := s.sealBlockTx(ctx, tx, block); err != nil {
			return nil, err
		}
		sealed = append(sealed, block)
		block = nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit append: %w", err)
	}

	s.nextSeq++
	s.headHash = &entry.EntryHash
	if block != nil {
		s.lastBlock = block.BlockNumber
		s.current = block
	} else {
		s.lastBlock = sealed[len(sealed)-1].BlockNumber
		s.current = nil
	}

	// One append can seal two blocks: a full leftover block closed up
	// front plus the new block filling immediately. Every seal notifies.
	for _, b := range sealed {
		s.logger.Info("ledger block sealed",
			"block_number", b.BlockNumber,
			"entry_count", b.EntryCount,
			"merkle_root", b.MerkleRoot)
		s.notifySeal(b)
	}
	return entry, nil
}

// sealBlockTx computes the Merkle root over the block's entry hashes and
// marks the block sealed, all inside the caller's transaction.
func (s *Store) sealBlockTx(ctx context.Context, tx *sql.Tx, block *Block) error {
	rows, err := tx.QueryContext(ctx, s.q(`SELECT entry_hash FROM ledger_entries
		WHERE block_id = ? ORDER BY sequence_number`), block.ID.String())
	if err != nil {
		return fmt.Errorf("ledger: load block hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return fmt.Errorf("ledger: scan block hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: iterate block hashes: %w", err)
	}
	rows.Close()

	tree, err := merkle.New(hashes)
	if err != nil {
		return fmt.Errorf("ledger: seal block %d: %w", block.BlockNumber, err)
	}

	treeData, err := json.Marshal(tree.Levels())
	if err != nil {
		return fmt.Errorf("ledger: encode tree: %w", err)
	}
	sealedAt := s.clock().UTC()

	_, err = tx.ExecContext(ctx, s.q(`UPDATE ledger_blocks
		SET merkle_root = ?, merkle_tree_data = ?, sealed_at = ?, is_verified = TRUE
		WHERE id = ?`),
		tree.Root(), string(treeData), canon.Time(sealedAt), block.ID.String())
	if err != nil {
		return fmt.Errorf("ledger: seal block %d: %w", block.BlockNumber, err)
	}

	block.MerkleRoot = tree.Root()
	block.MerkleTreeData = tree.Levels()
	block.SealedAt = &sealedAt
	block.IsVerified = true
	return nil
}

func (s *Store) notifySeal(block *Block) {
	for _, h := range s.sealHandlers {
		h(block)
	}
}

// SealCurrentBlock closes the open block regardless of fill level. It is a
// no-op when there is no open block or the open block is empty, so calling
// it twice in a row is safe.
func (s *Store) SealCurrentBlock(ctx context.Context) (*Block, error) {
	s.mu.Lock()

	block := s.current
	if block == nil || block.EntryCount == 0 {
		s.mu.Unlock()
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("ledger: begin seal: %w", err)
	}
	if err := s.sealBlockTx(ctx, tx, block); err != nil {
		tx.Rollback()
		s.mu.Unlock()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("ledger: commit seal: %w", err)
	}
	s.current = nil
	s.mu.Unlock()

	s.logger.Info("ledger block sealed",
		"block_number", block.BlockNumber,
		"entry_count", block.EntryCount,
		"merkle_root", block.MerkleRoot)
	s.notifySeal(block)
	return block, nil
}

// GetEntry returns the entry with the given sequence number.
func (s *Store) GetEntry(ctx context.Context, sequence uint64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+entryColumns+` FROM ledger_entries
		WHERE sequence_number = ?`), sequence)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: sequence %d", ErrEntryNotFound, sequence)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get entry %d: %w", sequence, err)
	}
	return entry, nil
}

// GetBlock returns the block with the given block number.
func (s *Store) GetBlock(ctx context.Context, blockNumber uint64) (*Block, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+blockColumns+` FROM ledger_blocks
		WHERE block_number = ?`), blockNumber)
	block, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: block %d", ErrBlockNotFound, blockNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get block %d: %w", blockNumber, err)
	}
	return block, nil
}

// GetBlockEntries returns the entries of a block in sequence order.
func (s *Store) GetBlockEntries(ctx context.Context, blockNumber uint64) ([]*Entry, error) {
	block, err := s.GetBlock(ctx, blockNumber)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+entryColumns+` FROM ledger_entries
		WHERE block_id = ? ORDER BY sequence_number`), block.ID.String())
	if err != nil {
		return nil, fmt.Errorf("ledger: block %d entries: %w", blockNumber, err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan block entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListEntries returns up to limit entries starting at the given sequence.
func (s *Store) ListEntries(ctx context.Context, fromSequence uint64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+entryColumns+` FROM ledger_entries
		WHERE sequence_number >= ? ORDER BY sequence_number LIMIT ?`), fromSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// VerifyChainIntegrity walks entries in [start, end], recomputing each hash
// and checking every previous_hash link. A zero end means the current head.
// The returned detail names the first broken entry, or is empty when the
// chain is intact.
func (s *Store) VerifyChainIntegrity(ctx context.Context, start, end uint64) (bool, string, error) {
	if start == 0 {
		start = 1
	}
	if end == 0 {
		s.mu.Lock()
		end = s.nextSeq - 1
		s.mu.Unlock()
	}
	if end < start {
		return true, "", nil
	}

	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+entryColumns+` FROM ledger_entries
		WHERE sequence_number >= ? AND sequence_number <= ? ORDER BY sequence_number`),
		start, end)
	if err != nil {
		return false, "", fmt.Errorf("ledger: verify chain: %w", err)
	}
	defer rows.Close()

	var prevHash *string
	expected := start
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return false, "", fmt.Errorf("ledger: verify chain: %w", err)
		}
		if entry.SequenceNumber != expected {
			return false, fmt.Sprintf("gap in chain: expected sequence %d, found %d",
				expected, entry.SequenceNumber), nil
		}
		if !entry.VerifyIntegrity() {
			return false, fmt.Sprintf("entry %d hash mismatch", entry.SequenceNumber), nil
		}
		// Only the genesis entry may omit previous_hash, and it must.
		if entry.SequenceNumber == 1 && entry.PreviousHash != nil {
			return false, "entry 1 must not carry a previous_hash", nil
		}
		// The first entry of a mid-chain range has no in-range predecessor
		// to check against.
		if prevHash != nil {
			if entry.PreviousHash == nil || *entry.PreviousHash != *prevHash {
				return false, fmt.Sprintf("entry %d previous_hash does not match entry %d",
					entry.SequenceNumber, entry.SequenceNumber-1), nil
			}
		}
		h := entry.EntryHash
		prevHash = &h
		expected++
	}
	if err := rows.Err(); err != nil {
		return false, "", fmt.Errorf("ledger: verify chain: %w", err)
	}
	if expected <= end {
		return false, fmt.Sprintf("chain ends at %d, expected %d", expected-1, end), nil
	}
	return true, "", nil
}

// VerifyBlockIntegrity checks a sealed block: every entry hash recomputes,
// the entry count matches, and the Merkle root rebuilt from the entry
// hashes equals the stored root.
func (s *Store) VerifyBlockIntegrity(ctx context.Context, blockNumber uint64) (bool, string, error) {
	block, err := s.GetBlock(ctx, blockNumber)
	if err != nil {
		return false, "", err
	}
	if !block.Sealed() {
		return false, fmt.Sprintf("block %d is not sealed", blockNumber), nil
	}
	entries, err := s.GetBlockEntries(ctx, blockNumber)
	if err != nil {
		return false, "", err
	}
	if len(entries) != block.EntryCount {
		return false, fmt.Sprintf("block %d has %d entries, recorded %d",
			blockNumber, len(entries), block.EntryCount), nil
	}

	hashes := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.VerifyIntegrity() {
			return false, fmt.Sprintf("entry %d hash mismatch", entry.SequenceNumber), nil
		}
		hashes = append(hashes, entry.EntryHash)
	}

	tree, err := merkle.New(hashes)
	if err != nil {
		return false, "", fmt.Errorf("ledger: rebuild block %d tree: %w", blockNumber, err)
	}
	if tree.Root() != block.MerkleRoot {
		return false, fmt.Sprintf("block %d merkle root mismatch", blockNumber), nil
	}
	return true, "", nil
}

// EntryProof returns a Merkle inclusion proof for the entry at the given
// sequence, against its sealed block. The proof is generated from the
// persisted tree levels when available, otherwise rebuilt from the entries.
func (s *Store) EntryProof(ctx context.Context, sequence uint64) (*merkle.Proof, *Block, error) {
	entry, err := s.GetEntry(ctx, sequence)
	if err != nil {
		return nil, nil, err
	}

	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+blockColumns+` FROM ledger_blocks
		WHERE id = ?`), entry.BlockID.String())
	block, err := scanBlock(row)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: block for entry %d", ErrBlockNotFound, sequence)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: proof block: %w", err)
	}
	if !block.Sealed() {
		return nil, nil, fmt.Errorf("%w: block %d", ErrBlockNotSealed, block.BlockNumber)
	}

	var tree *merkle.Tree
	if len(block.MerkleTreeData) > 0 {
		tree, err = merkle.FromLevels(block.MerkleTreeData)
	} else {
		var entries []*Entry
		entries, err = s.GetBlockEntries(ctx, block.BlockNumber)
		if err == nil {
			hashes := make([]string, 0, len(entries))
			for _, e := range entries {
				hashes = append(hashes, e.EntryHash)
			}
			tree, err = merkle.New(hashes)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: proof tree: %w", err)
	}

	proof, err := tree.GenerateProof(entry.EntryHash)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: proof for entry %d: %w", sequence, err)
	}
	return &proof, block, nil
}

// Statistics summarizes ledger state.
type Statistics struct {
	TotalEntries     uint64 `json:"total_entries"`
	TotalBlocks      uint64 `json:"total_blocks"`
	SealedBlocks     uint64 `json:"sealed_blocks"`
	UnsealedBlocks   uint64 `json:"unsealed_blocks"`
	CurrentSequence  uint64 `json:"current_sequence"`
	OpenBlockEntries int    `json:"open_block_entries"`
	BlockSize        int    `json:"block_size"`
}

// Statistics returns entry and block counts plus the current head sequence.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{BlockSize: s.blockSize}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries`).Scan(&stats.TotalEntries); err != nil {
		return nil, fmt.Errorf("ledger: statistics: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_blocks`).Scan(&stats.TotalBlocks); err != nil {
		return nil, fmt.Errorf("ledger: statistics: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_blocks WHERE sealed_at IS NOT NULL`).Scan(&stats.SealedBlocks); err != nil {
		return nil, fmt.Errorf("ledger: statistics: %w", err)
	}
	stats.UnsealedBlocks = stats.TotalBlocks - stats.SealedBlocks

	s.mu.Lock()
	stats.CurrentSequence = s.nextSeq - 1
	if s.current != nil {
		stats.OpenBlockEntries = s.current.EntryCount
	}
	s.mu.Unlock()
	return stats, nil
}

const entryColumns = `id, sequence_number, event_data, previous_hash, entry_hash,
	block_id, created_at, is_verified`

const blockColumns = `id, block_number, entry_count, first_entry_sequence,
	last_entry_sequence, merkle_root, merkle_tree_data, created_at, sealed_at, is_verified`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry     Entry
		id        string
		blockID   string
		prevHash  sql.NullString
		createdAt string
	)
	err := row.Scan(&id, &entry.SequenceNumber, &entry.EventData, &prevHash,
		&entry.EntryHash, &blockID, &createdAt, &entry.IsVerified)
	if err != nil {
		return nil, err
	}
	if entry.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	if entry.BlockID, err = uuid.Parse(blockID); err != nil {
		return nil, fmt.Errorf("parse block id: %w", err)
	}
	if prevHash.Valid {
		entry.PreviousHash = &prevHash.String
	}
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse entry time: %w", err)
	}
	return &entry, nil
}

func scanBlock(row rowScanner) (*Block, error) {
	var (
		block     Block
		id        string
		treeData  string
		createdAt string
		sealedAt  sql.NullString
	)
	err := row.Scan(&id, &block.BlockNumber, &block.EntryCount, &block.FirstEntrySequence,
		&block.LastEntrySequence, &block.MerkleRoot, &treeData, &createdAt,
		&sealedAt, &block.IsVerified)
	if err != nil {
		return nil, err
	}
	if block.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse block id: %w", err)
	}
	if treeData != "" && treeData != "[]" {
		if err := json.Unmarshal([]byte(treeData), &block.MerkleTreeData); err != nil {
			return nil, fmt.Errorf("parse tree data: %w", err)
		}
	}
	if block.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse block time: %w", err)
	}
	if sealedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, sealedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse sealed time: %w", err)
		}
		block.SealedAt = &t
	}
	return &block, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
