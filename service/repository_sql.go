package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AnTengye/contractrisk/model"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore is a Repository over database/sql. Timestamps are stored as unix
// nanoseconds so the same schema works on every supported driver.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenDatabase connects to the configured database and pings it.
func OpenDatabase(driver, dsn string) (*sql.DB, error) {
	name, err := driverName(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn must be provided", driver)
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", name, err)
	}
	if name == "sqlite3" {
		// a single connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func driverName(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	case "pgx", "postgres", "postgresql":
		return "pgx", nil
	}
	return "", fmt.Errorf("unsupported driver: %s", driver)
}

// NewSQLStore wraps db and creates the tables when missing.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	name, err := driverName(driver)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, driver: name}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	textType, keyType, tableSuffix := "TEXT", "TEXT", ""
	if s.driver == "mysql" {
		textType, keyType, tableSuffix = "LONGTEXT", "VARCHAR(64)", " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			id ` + keyType + ` NOT NULL PRIMARY KEY,
			user_id ` + keyType + ` NOT NULL,
			title VARCHAR(512) NOT NULL,
			file_name VARCHAR(512) NOT NULL,
			mime_type VARCHAR(255) NOT NULL,
			file_size BIGINT NOT NULL,
			storage_key VARCHAR(1024) NOT NULL DEFAULT '',
			file_url ` + textType + `,
			extracted_text ` + textType + ` NOT NULL,
			word_count INTEGER NOT NULL,
			page_count INTEGER NOT NULL,
			status VARCHAR(32) NOT NULL,
			error_msg ` + textType + `,
			analysis_id VARCHAR(64) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)` + tableSuffix,
		`CREATE TABLE IF NOT EXISTS analyses (
			id ` + keyType + ` NOT NULL PRIMARY KEY,
			contract_id ` + keyType + ` NOT NULL,
			user_id ` + keyType + ` NOT NULL,
			payload ` + textType + ` NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE (contract_id)
		)` + tableSuffix,
	}
	// mysql has no CREATE INDEX IF NOT EXISTS
	if s.driver != "mysql" {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_contracts_user ON contracts(user_id, created_at)`)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

const contractColumns = `id, user_id, title, file_name, mime_type, file_size, storage_key, file_url,
	extracted_text, word_count, page_count, status, error_msg, analysis_id, created_at, updated_at`

func (s *SQLStore) CreateContract(ctx context.Context, rec *model.ContractRecord) error {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Title, rec.FileName, rec.MIMEType, rec.FileSize, rec.StorageKey, rec.FileURL,
		rec.ExtractedText, rec.WordCount, rec.PageCount, rec.Status, rec.ErrorMsg, rec.AnalysisID,
		rec.CreatedAt.UnixNano(), updated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*model.ContractRecord, error) {
	var (
		rec              model.ContractRecord
		fileURL, errMsg  sql.NullString
		created, updated int64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.FileName, &rec.MIMEType, &rec.FileSize,
		&rec.StorageKey, &fileURL, &rec.ExtractedText, &rec.WordCount, &rec.PageCount, &rec.Status,
		&errMsg, &rec.AnalysisID, &created, &updated)
	if err != nil {
		return nil, err
	}
	rec.FileURL = fileURL.String
	rec.ErrorMsg = errMsg.String
	rec.CreatedAt = time.Unix(0, created)
	rec.UpdatedAt = time.Unix(0, updated)
	return &rec, nil
}

func (s *SQLStore) GetContract(ctx context.Context, id string) (*model.ContractRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`), id)
	rec, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select contract: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) ListContracts(ctx context.Context, userID, status string) ([]*model.ContractRecord, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var result []*model.ContractRecord
	for rows.Next() {
		rec, err := scanContract(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contract: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *SQLStore) CountContracts(ctx context.Context, userID, status string) (int, error) {
	query := `SELECT COUNT(*) FROM contracts WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contracts: %w", err)
	}
	return n, nil
}

func (s *SQLStore) currentStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT status FROM contracts WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRecordNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select status: %w", err)
	}
	return status, nil
}

// UpdateStatus conditions the update on the status it read so a concurrent
// writer cannot be overwritten.
func (s *SQLStore) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	from, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(from, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}
	return s.swapStatus(ctx, id, from, status, errMsg)
}

func (s *SQLStore) RestartForRerun(ctx context.Context, id string) error {
	from, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanRerun(from) {
		return fmt.Errorf("%w: cannot rerun from %s", ErrInvalidTransition, from)
	}
	return s.swapStatus(ctx, id, from, model.StatusProcessing, "")
}

func (s *SQLStore) swapStatus(ctx context.Context, id, from, to, errMsg string) error {
	res, err := s.exec(ctx, `UPDATE contracts SET status = ?, error_msg = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, errMsg, time.Now().UnixNano(), id, from)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

// SaveAnalysis replaces the current analysis and repoints the contract in
// one transaction.
func (s *SQLStore) SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE contracts SET analysis_id = ?, updated_at = ? WHERE id = ?`),
		rec.ID, now.UnixNano(), rec.ContractID)
	if err != nil {
		return fmt.Errorf("update contract analysis: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM analyses WHERE contract_id = ?`), rec.ContractID); err != nil {
		return fmt.Errorf("delete previous analysis: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO analyses (id, contract_id, user_id, payload, risk_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.ContractID, rec.UserID, string(rec.Payload), rec.RiskScore, created.UnixNano(), updated.UnixNano())
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) GetAnalysis(ctx context.Context, contractID string) (*model.AnalysisRecord, error) {
	var (
		rec              model.AnalysisRecord
		payload          string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, contract_id, user_id, payload, risk_score, created_at, updated_at
		FROM analyses WHERE contract_id = ?`), contractID).
		Scan(&rec.ID, &rec.ContractID, &rec.UserID, &payload, &rec.RiskScore, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select analysis: %w", err)
	}
	rec.Payload = []byte(payload)
	rec.CreatedAt = time.Unix(0, created)
	rec.UpdatedAt = time.Unix(0, updated)
	return &rec, nil
}

func (s *SQLStore) DeleteContract(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM analyses WHERE contract_id = ?`), id); err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM contracts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete contract: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRecordNotFound
	}
	return tx.Commit()
}
