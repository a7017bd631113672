package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	"judgehub/internal/judge/model"
	appErr "judgehub/pkg/errors"
)

const (
	defaultRecordCacheTTL      = 10 * time.Second
	defaultRecordCacheEmptyTTL = 2 * time.Second
	recordCacheKeyPrefix       = "judge:record:cache:"
)

// RecordsTableDDL creates the table used by MySQLRecordStore.
const RecordsTableDDL = `
CREATE TABLE IF NOT EXISTS records (
	domain_id      VARCHAR(64)  NOT NULL,
	rid            VARCHAR(64)  NOT NULL,
	pid            VARCHAR(64)  NOT NULL,
	uid            BIGINT       NOT NULL,
	contest_id     VARCHAR(64)  NULL,
	contest_type   VARCHAR(16)  NULL,
	kind           VARCHAR(16)  NOT NULL DEFAULT 'judge',
	status         INT          NOT NULL DEFAULT 0,
	score          DOUBLE       NOT NULL DEFAULT 0,
	time_ms        DOUBLE       NOT NULL DEFAULT 0,
	memory_kb      BIGINT       NOT NULL DEFAULT 0,
	progress       DOUBLE       NULL,
	test_cases     JSON         NOT NULL,
	judge_texts    JSON         NOT NULL,
	compiler_texts JSON         NOT NULL,
	judge_at       DATETIME(3)  NULL,
	judger         BIGINT       NULL,
	rejudged       TINYINT(1)   NOT NULL DEFAULT 0,
	PRIMARY KEY (domain_id, rid)
)`

const recordColumns = "domain_id, rid, pid, uid, contest_id, contest_type, kind, status, score, time_ms, memory_kb, progress, test_cases, judge_texts, compiler_texts, judge_at, judger, rejudged"

// MySQLRecordStore stores records in one row with JSON array columns.
// Reads go through a short-lived cache that every write invalidates.
type MySQLRecordStore struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewMySQLRecordStore creates a MySQL-backed record store. cacheClient may be nil.
func NewMySQLRecordStore(database db.Database, cacheClient cache.Cache) *MySQLRecordStore {
	return &MySQLRecordStore{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultRecordCacheTTL,
		emptyTTL: defaultRecordCacheEmptyTTL,
	}
}

// EnsureSchema creates the records table if needed.
func (s *MySQLRecordStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, RecordsTableDDL); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "create records table failed")
	}
	return nil
}

// Get loads a record.
func (s *MySQLRecordStore) Get(ctx context.Context, domainID, recordID string) (*model.Record, error) {
	if err := validateRecordIdentity(domainID, recordID); err != nil {
		return nil, err
	}
	if s.cache == nil {
		return s.getFromDB(ctx, nil, domainID, recordID)
	}
	record, err := cache.GetWithCached[*model.Record](
		ctx,
		s.cache,
		recordCacheKey(domainID, recordID),
		cache.JitterTTL(s.ttl),
		cache.JitterTTL(s.emptyTTL),
		func(r *model.Record) bool { return r == nil },
		marshalRecord,
		unmarshalRecord,
		func(ctx context.Context) (*model.Record, error) {
			record, err := s.getFromDB(ctx, nil, domainID, recordID)
			if appErr.Is(err, appErr.RecordNotFound) {
				return nil, nil
			}
			return record, err
		},
	)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, appErr.RecordNotFoundError(domainID, recordID)
	}
	return record, nil
}

// Update applies sets, appends and unsets in one UPDATE inside a transaction
// and returns the row as committed.
func (s *MySQLRecordStore) Update(ctx context.Context, domainID, recordID string, update model.RecordUpdate) (*model.Record, error) {
	if err := validateRecordIdentity(domainID, recordID); err != nil {
		return nil, err
	}
	query, args, err := buildRecordUpdateSQL(domainID, recordID, update)
	if err != nil {
		return nil, err
	}

	var updated *model.Record
	write := func(ctx context.Context) error {
		return s.db.Transaction(ctx, func(tx db.Transaction) error {
			if err := s.lockRow(ctx, tx, domainID, recordID); err != nil {
				return err
			}
			if query != "" {
				if _, err := tx.Exec(ctx, query, args...); err != nil {
					return appErr.Wrapf(err, appErr.RecordUpdateFailed, "update record failed")
				}
			}
			record, err := s.getFromDB(ctx, tx, domainID, recordID)
			if err != nil {
				return err
			}
			updated = record
			return nil
		})
	}
	if s.cache != nil {
		err = cache.UpdateCached(ctx, s.cache, recordCacheKey(domainID, recordID), write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Reset clears judging output and puts the record back to waiting.
func (s *MySQLRecordStore) Reset(ctx context.Context, domainID, recordID string, rejudge bool) error {
	if err := validateRecordIdentity(domainID, recordID); err != nil {
		return err
	}
	query := `
		UPDATE records
		SET status = ?, score = 0, time_ms = 0, memory_kb = 0,
			progress = NULL, judge_at = NULL, judger = NULL,
			test_cases = JSON_ARRAY(), judge_texts = JSON_ARRAY(), compiler_texts = JSON_ARRAY(),
			rejudged = rejudged OR ?
		WHERE domain_id = ? AND rid = ?
	`
	write := func(ctx context.Context) error {
		return s.db.Transaction(ctx, func(tx db.Transaction) error {
			if err := s.lockRow(ctx, tx, domainID, recordID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, query, int(model.StatusWaiting), rejudge, domainID, recordID); err != nil {
				return appErr.Wrapf(err, appErr.RecordResetFailed, "reset record failed")
			}
			return nil
		})
	}
	if s.cache != nil {
		return cache.UpdateCached(ctx, s.cache, recordCacheKey(domainID, recordID), write)
	}
	return write(ctx)
}

// Insert seeds a record row.
func (s *MySQLRecordStore) Insert(ctx context.Context, record *model.Record) error {
	if record == nil {
		return appErr.ValidationError("record", "required")
	}
	if err := validateRecordIdentity(record.DomainID, record.ID); err != nil {
		return err
	}
	cases, err := json.Marshal(nonNilCases(record.TestCases))
	if err != nil {
		return fmt.Errorf("marshal test cases failed: %w", err)
	}
	judgeTexts, _ := json.Marshal(nonNilStrings(record.JudgeTexts))
	compilerTexts, _ := json.Marshal(nonNilStrings(record.CompilerTexts))
	kind := record.Kind
	if kind == "" {
		kind = model.RecordKindJudge
	}
	var contestID, contestType sql.NullString
	if record.InContest() {
		contestID = sql.NullString{String: record.Contest.ID, Valid: true}
		contestType = sql.NullString{String: record.Contest.Type, Valid: true}
	}

	query := "INSERT INTO records (" + recordColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err = s.db.Exec(ctx, query,
		record.DomainID, record.ID, record.ProblemID, record.UserID,
		contestID, contestType, string(kind),
		int(record.Status), record.Score, record.Time, record.Memory, nullFloat(record.Progress),
		string(cases), string(judgeTexts), string(compilerTexts),
		nullTime(record.JudgeAt), nullInt(record.Judger), record.Rejudged,
	)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return appErr.New(appErr.InvalidParams).WithMessagef("record %s/%s already exists", record.DomainID, record.ID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "insert record failed")
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, recordCacheKey(record.DomainID, record.ID))
	}
	return nil
}

func (s *MySQLRecordStore) lockRow(ctx context.Context, tx db.Transaction, domainID, recordID string) error {
	var one int
	err := tx.QueryRow(ctx, "SELECT 1 FROM records WHERE domain_id = ? AND rid = ? FOR UPDATE", domainID, recordID).Scan(&one)
	if err != nil {
		if db.IsNoRows(err) {
			return appErr.RecordNotFoundError(domainID, recordID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "lock record failed")
	}
	return nil
}

func (s *MySQLRecordStore) getFromDB(ctx context.Context, tx db.Transaction, domainID, recordID string) (*model.Record, error) {
	query := "SELECT " + recordColumns + " FROM records WHERE domain_id = ? AND rid = ? LIMIT 1"
	row := db.GetQuerier(s.db, tx).QueryRow(ctx, query, domainID, recordID)

	record := &model.Record{}
	var (
		contestID, contestType           sql.NullString
		kind                             string
		status                           int
		progress                         sql.NullFloat64
		cases, judgeTexts, compilerTexts []byte
		judgeAt                          sql.NullTime
		judger                           sql.NullInt64
	)
	if err := row.Scan(
		&record.DomainID, &record.ID, &record.ProblemID, &record.UserID,
		&contestID, &contestType, &kind,
		&status, &record.Score, &record.Time, &record.Memory, &progress,
		&cases, &judgeTexts, &compilerTexts,
		&judgeAt, &judger, &record.Rejudged,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.RecordNotFoundError(domainID, recordID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query record failed")
	}

	record.Kind = model.RecordKind(kind)
	record.Status = model.Status(status)
	if contestID.Valid && contestID.String != "" {
		record.Contest = &model.ContestRef{ID: contestID.String, Type: contestType.String}
	}
	if progress.Valid {
		p := progress.Float64
		record.Progress = &p
	}
	if judgeAt.Valid {
		at := judgeAt.Time
		record.JudgeAt = &at
	}
	if judger.Valid {
		j := judger.Int64
		record.Judger = &j
	}
	if err := json.Unmarshal(cases, &record.TestCases); err != nil {
		return nil, appErr.Wrapf(err, appErr.RecordDecodeFailed, "decode test cases failed")
	}
	if err := json.Unmarshal(judgeTexts, &record.JudgeTexts); err != nil {
		return nil, appErr.Wrapf(err, appErr.RecordDecodeFailed, "decode judge texts failed")
	}
	if err := json.Unmarshal(compilerTexts, &record.CompilerTexts); err != nil {
		return nil, appErr.Wrapf(err, appErr.RecordDecodeFailed, "decode compiler texts failed")
	}
	return record, nil
}

// buildRecordUpdateSQL renders one UPDATE for the whole RecordUpdate.
// An empty update yields an empty query.
func buildRecordUpdateSQL(domainID, recordID string, update model.RecordUpdate) (string, []interface{}, error) {
	var (
		assignments []string
		args        []interface{}
	)
	set := update.Set
	if set.Status != nil {
		assignments = append(assignments, "status = ?")
		args = append(args, int(*set.Status))
	}
	if set.Score != nil {
		assignments = append(assignments, "score = ?")
		args = append(args, *set.Score)
	}
	if set.Time != nil {
		assignments = append(assignments, "time_ms = ?")
		args = append(args, *set.Time)
	}
	if set.Memory != nil {
		assignments = append(assignments, "memory_kb = ?")
		args = append(args, *set.Memory)
	}
	if set.Progress != nil {
		assignments = append(assignments, "progress = ?")
		args = append(args, *set.Progress)
	}
	if set.JudgeAt != nil {
		assignments = append(assignments, "judge_at = ?")
		args = append(args, set.JudgeAt.UTC())
	}
	if set.Judger != nil {
		assignments = append(assignments, "judger = ?")
		args = append(args, *set.Judger)
	}

	if tc := update.Push.TestCase; tc != nil {
		payload, err := json.Marshal(tc)
		if err != nil {
			return "", nil, fmt.Errorf("marshal test case failed: %w", err)
		}
		assignments = append(assignments, "test_cases = JSON_ARRAY_APPEND(test_cases, '$', CAST(? AS JSON))")
		args = append(args, string(payload))
	}
	if text := update.Push.JudgeText; text != nil {
		assignments = append(assignments, "judge_texts = JSON_ARRAY_APPEND(judge_texts, '$', ?)")
		args = append(args, *text)
	}
	if text := update.Push.CompilerText; text != nil {
		assignments = append(assignments, "compiler_texts = JSON_ARRAY_APPEND(compiler_texts, '$', ?)")
		args = append(args, *text)
	}

	for _, f := range update.Unset {
		column, ok := unsetColumns[f]
		if !ok {
			return "", nil, appErr.ValidationError("unset", "unsupported field "+string(f))
		}
		assignments = append(assignments, column+" = NULL")
	}

	if len(assignments) == 0 {
		return "", nil, nil
	}
	args = append(args, domainID, recordID)
	return "UPDATE records SET " + strings.Join(assignments, ", ") + " WHERE domain_id = ? AND rid = ?", args, nil
}

var unsetColumns = map[model.Field]string{
	model.FieldProgress: "progress",
	model.FieldJudgeAt:  "judge_at",
	model.FieldJudger:   "judger",
}

func recordCacheKey(domainID, recordID string) string {
	return recordCacheKeyPrefix + domainID + ":" + recordID
}

func marshalRecord(record *model.Record) string {
	if record == nil {
		return ""
	}
	data, err := json.Marshal(record)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalRecord(data string) (*model.Record, error) {
	var record model.Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func nonNilCases(items []model.TestCase) []model.TestCase {
	if items == nil {
		return []model.TestCase{}
	}
	return items
}

func nonNilStrings(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

var _ RecordStore = (*MySQLRecordStore)(nil)
