package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"newsletter/internal/apperr"
	"newsletter/internal/logger"
	"newsletter/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS articles (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	date INTEGER NOT NULL,
	content TEXT NOT NULL,
	domain TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS keywords (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	keyword TEXT NOT NULL,
	article_seq INTEGER NOT NULL REFERENCES articles(seq) ON DELETE CASCADE,
	frequency INTEGER NOT NULL CHECK (frequency > 0),
	UNIQUE(keyword, article_seq)
);

CREATE INDEX IF NOT EXISTS idx_articles_date ON articles(date);
CREATE INDEX IF NOT EXISTS idx_articles_domain ON articles(domain);
CREATE INDEX IF NOT EXISTS idx_keywords_keyword ON keywords(keyword);
CREATE INDEX IF NOT EXISTS idx_keywords_article_seq ON keywords(article_seq);
`

const upsertKeyword = `
INSERT INTO keywords (keyword, article_seq, frequency) VALUES (?, ?, ?)
ON CONFLICT(keyword, article_seq) DO UPDATE SET frequency = excluded.frequency`

// SQLiteStore is the relational Store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

// NewSQLiteStore opens (and migrates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has one writer; one connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info("database initialized", "driver", "sqlite", "path", path)
	return &SQLiteStore{db: db, log: log.With("component", "sqlite"), now: time.Now}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"))
}

func (s *SQLiteStore) InsertArticle(ctx context.Context, a *models.Article) (int64, error) {
	const op = "SQLiteStore.InsertArticle"

	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Storage(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO articles (url, title, date, content, domain, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.URL, a.Title, a.Date.UTC().Unix(), a.Content, a.Domain, a.ContentHash, a.CreatedAt.UTC().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, apperr.Duplicate(op, a.URL)
		}
		return 0, apperr.Storage(op, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.Storage(op, err)
	}

	a.Keywords = dedupeKeywords(a.Keywords)
	if err := insertKeywords(ctx, tx, seq, a.Keywords); err != nil {
		return 0, apperr.Storage(op, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Storage(op, err)
	}
	a.Seq = seq
	return seq, nil
}

func insertKeywords(ctx context.Context, tx *sql.Tx, seq int64, kws []models.KeywordOccurrence) error {
	if len(kws) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, upsertKeyword)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, kw := range kws {
		if _, err := stmt.ExecContext(ctx, kw.Keyword, seq, kw.Frequency); err != nil {
			return fmt.Errorf("keyword %q: %w", kw.Keyword, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ReplaceKeywords(ctx context.Context, seq int64, kws []models.KeywordOccurrence) error {
	const op = "SQLiteStore.ReplaceKeywords"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE seq = ?`, seq).Scan(&exists)
	if err != nil {
		return apperr.Storage(op, err)
	}
	if exists == 0 {
		return apperr.NotFound(op, fmt.Sprintf("article %d not found", seq))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM keywords WHERE article_seq = ?`, seq); err != nil {
		return apperr.Storage(op, err)
	}
	if err := insertKeywords(ctx, tx, seq, dedupeKeywords(kws)); err != nil {
		return apperr.Storage(op, err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

// DeleteArticle removes the article and its keywords in one transaction. The
// explicit keyword delete does not depend on foreign key enforcement.
func (s *SQLiteStore) DeleteArticle(ctx context.Context, seq int64) error {
	const op = "SQLiteStore.DeleteArticle"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM keywords WHERE article_seq = ?`, seq); err != nil {
		return apperr.Storage(op, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE seq = ?`, seq)
	if err != nil {
		return apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n == 0 {
		return apperr.NotFound(op, fmt.Sprintf("article %d not found", seq))
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage(op, err)
	}
	return nil
}

func (s *SQLiteStore) GetArticle(ctx context.Context, seq int64) (*models.Article, error) {
	const op = "SQLiteStore.GetArticle"

	var (
		a               models.Article
		date, createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, url, title, date, content, domain, content_hash, created_at
		 FROM articles WHERE seq = ?`, seq).
		Scan(&a.Seq, &a.URL, &a.Title, &date, &a.Content, &a.Domain, &a.ContentHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, fmt.Sprintf("article %d not found", seq))
	}
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	a.Date = unixToTime(date)
	a.CreatedAt = unixToTime(createdAt)

	kws, err := s.keywordsFor(ctx, []int64{seq})
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	a.Keywords = kws[seq]
	if a.Keywords == nil {
		a.Keywords = []models.KeywordOccurrence{}
	}
	return &a, nil
}

func (s *SQLiteStore) ArticleExists(ctx context.Context, url string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE url = ?`, url).Scan(&n); err != nil {
		return false, apperr.Storage("SQLiteStore.ArticleExists", err)
	}
	return n > 0, nil
}

const articleListColumns = `seq, url, title, date, domain, content_hash, created_at`

func scanArticles(rows *sql.Rows) ([]models.Article, error) {
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		var (
			a               models.Article
			date, createdAt int64
		)
		if err := rows.Scan(&a.Seq, &a.URL, &a.Title, &date, &a.Domain, &a.ContentHash, &createdAt); err != nil {
			return nil, err
		}
		a.Date = unixToTime(date)
		a.CreatedAt = unixToTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// withKeywords loads keywords for already-scanned articles. Rows must be
// closed first: the pool has a single connection.
func (s *SQLiteStore) withKeywords(ctx context.Context, arts []models.Article) ([]models.Article, error) {
	if len(arts) == 0 {
		return []models.Article{}, nil
	}
	seqs := make([]int64, len(arts))
	for i := range arts {
		seqs[i] = arts[i].Seq
	}
	kws, err := s.keywordsFor(ctx, seqs)
	if err != nil {
		return nil, err
	}
	for i := range arts {
		arts[i].Keywords = kws[arts[i].Seq]
		if arts[i].Keywords == nil {
			arts[i].Keywords = []models.KeywordOccurrence{}
		}
	}
	return arts, nil
}

func (s *SQLiteStore) keywordsFor(ctx context.Context, seqs []int64) (map[int64][]models.KeywordOccurrence, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT article_seq, keyword, frequency FROM keywords
		 WHERE article_seq IN (`+placeholders+`)
		 ORDER BY article_seq, frequency DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]models.KeywordOccurrence, len(seqs))
	for rows.Next() {
		var (
			seq int64
			kw  models.KeywordOccurrence
		)
		if err := rows.Scan(&seq, &kw.Keyword, &kw.Frequency); err != nil {
			return nil, err
		}
		out[seq] = append(out[seq], kw)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecentArticles(ctx context.Context, since time.Time, limit int) ([]models.Article, error) {
	const op = "SQLiteStore.RecentArticles"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+articleListColumns+` FROM articles
		 WHERE date >= ?
		 ORDER BY date DESC, seq DESC
		 LIMIT ?`, since.UTC().Unix(), limit)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	arts, err := scanArticles(rows)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	arts, err = s.withKeywords(ctx, arts)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return arts, nil
}

func (s *SQLiteStore) SearchArticles(ctx context.Context, f models.ArticleFilter) ([]models.Article, error) {
	const op = "SQLiteStore.SearchArticles"

	query := `SELECT ` + articleListColumns + ` FROM articles WHERE 1=1`
	var args []any

	if f.Query != "" {
		query += ` AND (title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`
		pattern := "%" + escapeLike(f.Query) + "%"
		args = append(args, pattern, pattern)
	}
	if !f.StartDate.IsZero() {
		query += ` AND date >= ?`
		args = append(args, f.StartDate.UTC().Unix())
	}
	if !f.EndDate.IsZero() {
		query += ` AND date <= ?`
		args = append(args, f.EndDate.UTC().Unix())
	}
	query += ` ORDER BY date DESC, seq DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	arts, err := scanArticles(rows)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	arts, err = s.withKeywords(ctx, arts)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return arts, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLiteStore) ListArticles(ctx context.Context, offset, limit int) ([]models.ArticleSummary, int, error) {
	const op = "SQLiteStore.ListArticles"

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&total); err != nil {
		return nil, 0, apperr.Storage(op, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, url, title, date, domain, content_hash, created_at, length(content)
		 FROM articles
		 ORDER BY date DESC, seq DESC
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, apperr.Storage(op, err)
	}

	var (
		arts    []models.Article
		lengths []int
	)
	for rows.Next() {
		var (
			a               models.Article
			date, createdAt int64
			length          int
		)
		if err := rows.Scan(&a.Seq, &a.URL, &a.Title, &date, &a.Domain, &a.ContentHash, &createdAt, &length); err != nil {
			rows.Close()
			return nil, 0, apperr.Storage(op, err)
		}
		a.Date = unixToTime(date)
		a.CreatedAt = unixToTime(createdAt)
		arts = append(arts, a)
		lengths = append(lengths, length)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, 0, apperr.Storage(op, err)
	}

	arts, err = s.withKeywords(ctx, arts)
	if err != nil {
		return nil, 0, apperr.Storage(op, err)
	}

	out := make([]models.ArticleSummary, len(arts))
	for i, a := range arts {
		out[i] = models.ArticleSummary{Article: a, KeywordCount: len(a.Keywords), ContentLength: lengths[i]}
	}
	return out, total, nil
}

func (s *SQLiteStore) KeywordRows(ctx context.Context, since, until time.Time) ([]models.KeywordRow, error) {
	const op = "SQLiteStore.KeywordRows"

	rows, err := s.db.QueryContext(ctx,
		`SELECT k.keyword, k.frequency, a.seq, a.title, a.url, a.date
		 FROM keywords k
		 JOIN articles a ON a.seq = k.article_seq
		 WHERE a.date >= ? AND a.date <= ?
		 ORDER BY a.seq, k.id`, since.UTC().Unix(), until.UTC().Unix())
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	var out []models.KeywordRow
	for rows.Next() {
		var (
			r    models.KeywordRow
			date int64
		)
		if err := rows.Scan(&r.Keyword, &r.Frequency, &r.ArticleSeq, &r.Title, &r.URL, &date); err != nil {
			return nil, apperr.Storage(op, err)
		}
		r.Date = unixToTime(date)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) RelatedArticles(ctx context.Context, keyword string, limit int) ([]models.RelatedArticle, error) {
	const op = "SQLiteStore.RelatedArticles"

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT a.seq, a.title, a.url, a.date
		 FROM articles a
		 JOIN keywords k ON k.article_seq = a.seq
		 WHERE k.keyword = ?
		 ORDER BY a.date DESC, a.seq DESC
		 LIMIT ?`, keyword, limit)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()

	out := []models.RelatedArticle{}
	for rows.Next() {
		var (
			r    models.RelatedArticle
			date int64
		)
		if err := rows.Scan(&r.Seq, &r.Title, &r.URL, &date); err != nil {
			return nil, apperr.Storage(op, err)
		}
		r.Date = unixToTime(date)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	const op = "SQLiteStore.Stats"

	st := &models.Stats{HourlyStats: []models.HourlyStat{}}

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT domain) FROM articles`).
		Scan(&st.TotalArticles, &st.UniqueDomains)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT keyword), COALESCE(AVG(frequency), 0.0) FROM keywords`).
		Scan(&st.TotalKeywords, &st.UniqueKeywords, &st.AvgKeywordFrequency)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT domain FROM articles GROUP BY domain ORDER BY COUNT(*) DESC, domain LIMIT 1`).
		Scan(&st.TopDomain)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Storage(op, err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT keyword FROM keywords GROUP BY keyword ORDER BY SUM(frequency) DESC, keyword LIMIT 1`).
		Scan(&st.TopKeyword)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Storage(op, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT strftime('%H', created_at, 'unixepoch') AS hour, COUNT(*)
		 FROM articles GROUP BY hour ORDER BY hour`)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var h models.HourlyStat
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			return nil, apperr.Storage(op, err)
		}
		st.HourlyStats = append(st.HourlyStats, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return st, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.Storage("SQLiteStore.Ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
