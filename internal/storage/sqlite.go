package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sjawhar/mock-interviewer/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DefaultLatestLimit caps ListLatestInterviews when no limit is given.
const DefaultLatestLimit = 20

// timeLayout is fixed width so text ordering in SQL matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStore struct {
	db    *sql.DB
	newID func() string
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "mock-interviewer.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, newID: uuid.NewString}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS interviews (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			level TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			techstack TEXT NOT NULL DEFAULT '[]',
			questions TEXT NOT NULL DEFAULT '[]',
			finalized INTEGER NOT NULL DEFAULT 0,
			cover_image TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create interviews table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS feedback (
			id TEXT PRIMARY KEY,
			interview_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			total_score INTEGER NOT NULL,
			category_scores TEXT NOT NULL DEFAULT '[]',
			strengths TEXT NOT NULL DEFAULT '[]',
			areas_for_improvement TEXT NOT NULL DEFAULT '[]',
			final_assessment TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE(interview_id, user_id)
		);
	`); err != nil {
		return fmt.Errorf("create feedback table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_interviews_user ON interviews(user_id, created_at)"); err != nil {
		return fmt.Errorf("create interviews index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_interviews_latest ON interviews(finalized, created_at)"); err != nil {
		return fmt.Errorf("create latest interviews index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_feedback_user ON feedback(user_id, created_at)"); err != nil {
		return fmt.Errorf("create feedback index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateInterview stores iv under a new id, ignoring iv.ID.
func (s *SQLiteStore) CreateInterview(ctx context.Context, iv domain.Interview) (string, error) {
	if strings.TrimSpace(iv.UserID) == "" {
		return "", errors.New("interview user id is required")
	}
	techstack, err := encodeList(iv.Techstack)
	if err != nil {
		return "", fmt.Errorf("encode techstack: %w", err)
	}
	questions, err := encodeList(iv.Questions)
	if err != nil {
		return "", fmt.Errorf("encode questions: %w", err)
	}
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now()
	}

	id := s.newID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interviews(id, user_id, role, level, type, techstack, questions, finalized, cover_image, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		iv.UserID,
		iv.Role,
		iv.Level,
		iv.Type,
		techstack,
		questions,
		iv.Finalized,
		iv.CoverImage,
		formatTime(iv.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("create interview for user %s: %w", iv.UserID, err)
	}
	return id, nil
}

const interviewColumns = `id, user_id, role, level, type, techstack, questions, finalized, cover_image, created_at`

func (s *SQLiteStore) GetInterview(ctx context.Context, id string) (domain.Interview, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+interviewColumns+` FROM interviews WHERE id = ?`, id)
	iv, err := scanInterview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Interview{}, fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Interview{}, fmt.Errorf("query interview %s: %w", id, err)
	}
	return iv, nil
}

// ListInterviewsByUser returns every interview owned by userID, newest first.
func (s *SQLiteStore) ListInterviewsByUser(ctx context.Context, userID string) ([]domain.Interview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+interviewColumns+`
		 FROM interviews
		 WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query interviews for user %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	return scanInterviews(rows)
}

// ListLatestInterviews returns finalized interviews of users other than
// excludeUserID, newest first.
func (s *SQLiteStore) ListLatestInterviews(ctx context.Context, excludeUserID string, limit int) ([]domain.Interview, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+interviewColumns+`
		 FROM interviews
		 WHERE finalized = 1 AND user_id != ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		excludeUserID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest interviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanInterviews(rows)
}

func (s *SQLiteStore) MarkInterviewFinalized(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE interviews SET finalized = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("finalize interview %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize interview rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("interview %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateFeedback inserts fb unless feedback for the same interview and user
// already exists, in which case the existing id is returned.
func (s *SQLiteStore) CreateFeedback(ctx context.Context, fb domain.Feedback) (string, error) {
	categories, err := json.Marshal(nonNil(fb.CategoryScores))
	if err != nil {
		return "", fmt.Errorf("encode category scores: %w", err)
	}
	strengths, err := encodeList(fb.Strengths)
	if err != nil {
		return "", fmt.Errorf("encode strengths: %w", err)
	}
	areas, err := encodeList(fb.AreasForImprovement)
	if err != nil {
		return "", fmt.Errorf("encode areas for improvement: %w", err)
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}

	id := s.newID()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO feedback(id, interview_id, user_id, role, total_score, category_scores, strengths, areas_for_improvement, final_assessment, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		fb.InterviewID,
		fb.UserID,
		fb.Role,
		fb.TotalScore,
		string(categories),
		strengths,
		areas,
		fb.FinalAssessment,
		formatTime(fb.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("create feedback for interview %s: %w", fb.InterviewID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("create feedback rows affected: %w", err)
	}
	if rows > 0 {
		return id, nil
	}

	existing, err := s.GetFeedbackByInterviewAndUser(ctx, fb.InterviewID, fb.UserID)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", fmt.Errorf("create feedback for interview %s: insert ignored without existing row", fb.InterviewID)
	}
	return existing.ID, nil
}

const feedbackColumns = `id, interview_id, user_id, role, total_score, category_scores, strengths, areas_for_improvement, final_assessment, created_at`

// GetFeedbackByInterviewAndUser returns nil, nil when no feedback exists.
func (s *SQLiteStore) GetFeedbackByInterviewAndUser(ctx context.Context, interviewID, userID string) (*domain.Feedback, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE interview_id = ? AND user_id = ?`,
		interviewID,
		userID,
	)
	fb, err := scanFeedback(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query feedback for interview %s: %w", interviewID, err)
	}
	return &fb, nil
}

// ListFeedbackByUser returns a user's feedback history, newest first.
func (s *SQLiteStore) ListFeedbackByUser(ctx context.Context, userID string) ([]domain.Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedbackColumns+`
		 FROM feedback
		 WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query feedback for user %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	list := make([]domain.Feedback, 0, 8)
	for rows.Next() {
		fb, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		list = append(list, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback rows: %w", err)
	}
	return list, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInterview(row scanner) (domain.Interview, error) {
	var (
		iv                   domain.Interview
		techstack, questions string
		createdAt            string
	)
	if err := row.Scan(&iv.ID, &iv.UserID, &iv.Role, &iv.Level, &iv.Type, &techstack, &questions, &iv.Finalized, &iv.CoverImage, &createdAt); err != nil {
		return domain.Interview{}, err
	}
	if err := json.Unmarshal([]byte(techstack), &iv.Techstack); err != nil {
		return domain.Interview{}, fmt.Errorf("decode interview %s techstack: %w", iv.ID, err)
	}
	if err := json.Unmarshal([]byte(questions), &iv.Questions); err != nil {
		return domain.Interview{}, fmt.Errorf("decode interview %s questions: %w", iv.ID, err)
	}
	parsed, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.Interview{}, fmt.Errorf("parse interview %s created_at: %w", iv.ID, err)
	}
	iv.CreatedAt = parsed
	return iv, nil
}

func scanInterviews(rows *sql.Rows) ([]domain.Interview, error) {
	interviews := make([]domain.Interview, 0, 16)
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interview: %w", err)
		}
		interviews = append(interviews, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interview rows: %w", err)
	}
	return interviews, nil
}

func scanFeedback(row scanner) (domain.Feedback, error) {
	var (
		fb                           domain.Feedback
		categories, strengths, areas string
		createdAt                    string
	)
	if err := row.Scan(&fb.ID, &fb.InterviewID, &fb.UserID, &fb.Role, &fb.TotalScore, &categories, &strengths, &areas, &fb.FinalAssessment, &createdAt); err != nil {
		return domain.Feedback{}, err
	}
	if err := json.Unmarshal([]byte(categories), &fb.CategoryScores); err != nil {
		return domain.Feedback{}, fmt.Errorf("decode feedback %s category scores: %w", fb.ID, err)
	}
	if err := json.Unmarshal([]byte(strengths), &fb.Strengths); err != nil {
		return domain.Feedback{}, fmt.Errorf("decode feedback %s strengths: %w", fb.ID, err)
	}
	if err := json.Unmarshal([]byte(areas), &fb.AreasForImprovement); err != nil {
		return domain.Feedback{}, fmt.Errorf("decode feedback %s areas: %w", fb.ID, err)
	}
	parsed, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return domain.Feedback{}, fmt.Errorf("parse feedback %s created_at: %w", fb.ID, err)
	}
	fb.CreatedAt = parsed
	return fb, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeList(items []string) (string, error) {
	data, err := json.Marshal(nonNil(items))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
