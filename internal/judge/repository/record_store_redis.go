package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/judge/model"
	appErr "judgehub/pkg/errors"
)

const recordKeyPrefix = "judge:record:"

// Hash fields of a stored record.
const (
	fieldDomainID    = "domainId"
	fieldRecordID    = "rid"
	fieldProblemID   = "pid"
	fieldUserID      = "uid"
	fieldContestID   = "contestId"
	fieldContestType = "contestType"
	fieldKind        = "kind"
	fieldStatus      = "status"
	fieldScore       = "score"
	fieldTime        = "time"
	fieldMemory      = "memory"
	fieldProgress    = "progress"
	fieldJudgeAt     = "judgeAt"
	fieldJudger      = "judger"
	fieldRejudged    = "rejudged"
)

// The record hash and its three lists share a hash tag so scripts touch a single slot.
type recordKeys struct {
	hash          string
	testCases     string
	judgeTexts    string
	compilerTexts string
}

func newRecordKeys(domainID, recordID string) recordKeys {
	base := recordKeyPrefix + "{" + domainID + ":" + recordID + "}"
	return recordKeys{
		hash:          base,
		testCases:     base + ":cases",
		judgeTexts:    base + ":judge",
		compilerTexts: base + ":compiler",
	}
}

func (k recordKeys) list() []string {
	return []string{k.hash, k.testCases, k.judgeTexts, k.compilerTexts}
}

const loadRecordLua = `
local function loadRecord()
  return {
    redis.call("HGETALL", KEYS[1]),
    redis.call("LRANGE", KEYS[2], 0, -1),
    redis.call("LRANGE", KEYS[3], 0, -1),
    redis.call("LRANGE", KEYS[4], 0, -1),
  }
end
`

// ARGV: nset, field/value pairs, nunset, fields, then a (flag, value) pair per list.
var updateRecordScript = cache.NewScript(loadRecordLua + `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
local i = 1
local nset = tonumber(ARGV[i])
i = i + 1
if nset > 0 then
  local args = {}
  for j = 1, nset * 2 do
    args[j] = ARGV[i]
    i = i + 1
  end
  redis.call("HSET", KEYS[1], unpack(args))
end
local nunset = tonumber(ARGV[i])
i = i + 1
if nunset > 0 then
  local fields = {}
  for j = 1, nunset do
    fields[j] = ARGV[i]
    i = i + 1
  end
  redis.call("HDEL", KEYS[1], unpack(fields))
end
for k = 2, 4 do
  local flag = ARGV[i]
  local value = ARGV[i + 1]
  i = i + 2
  if flag == "1" then
    redis.call("RPUSH", KEYS[k], value)
  end
end
return loadRecord()
`)

var getRecordScript = cache.NewScript(loadRecordLua + `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
return loadRecord()
`)

// ARGV: npairs, field/value pairs to set, then the fields to remove.
// The sequence lists are dropped; a missing record is left missing.
var resetRecordScript = cache.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local npairs = tonumber(ARGV[1])
local args = {}
for j = 1, npairs * 2 do
  args[j] = ARGV[1 + j]
end
redis.call("HSET", KEYS[1], unpack(args))
local fields = {}
for j = 2 + npairs * 2, #ARGV do
  fields[#fields + 1] = ARGV[j]
end
if #fields > 0 then
  redis.call("HDEL", KEYS[1], unpack(fields))
end
redis.call("DEL", KEYS[2], KEYS[3], KEYS[4])
return 1
`)

// RedisRecordStore keeps each record in a hash plus one list per append-only sequence.
type RedisRecordStore struct {
	cache cache.Cache
}

// NewRedisRecordStore creates a Redis-backed record store.
func NewRedisRecordStore(cacheClient cache.Cache) *RedisRecordStore {
	return &RedisRecordStore{cache: cacheClient}
}

// Get loads a record.
func (s *RedisRecordStore) Get(ctx context.Context, domainID, recordID string) (*model.Record, error) {
	if err := validateRecordIdentity(domainID, recordID); err != nil {
		return nil, err
	}
	keys := newRecordKeys(domainID, recordID)
	reply, err := s.cache.Eval(ctx, getRecordScript, keys.list())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load record failed")
	}
	if reply == nil {
		return nil, appErr.RecordNotFoundError(domainID, recordID)
	}
	return decodeRecordReply(reply)
}

// Update applies one atomic record update and returns the result.
func (s *RedisRecordStore) Update(ctx context.Context, domainID, recordID string, update model.RecordUpdate) (*model.Record, error) {
	if err := validateRecordIdentity(domainID, recordID); err != nil {
		return nil, err
	}
	args, err := buildUpdateArgs(update)
	if err != nil {
		return nil, err
	}
	keys := newRecordKeys(domainID, recordID)
	reply, err := s.cache.Eval(ctx, updateRecordScript, keys.list(), args...)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.RecordUpdateFailed, "update record failed")
	}
	if reply == nil {
		return nil, appErr.RecordNotFoundError(domainID, recordID)
	}
	return decodeRecordReply(reply)
}

// Reset clears judging output and puts the record back to waiting.
func (s *RedisRecordStore) Reset(ctx context.Context, domainID, recordID string, rejudge bool) error {
	if err := validateRecordIdentity(domainID, recordID); err != nil {
		return err
	}
	pairs := [][2]string{
		{fieldStatus, strconv.Itoa(int(model.StatusWaiting))},
		{fieldScore, "0"},
		{fieldTime, "0"},
		{fieldMemory, "0"},
	}
	if rejudge {
		pairs = append(pairs, [2]string{fieldRejudged, "1"})
	}
	args := make([]interface{}, 0, 1+len(pairs)*2+3)
	args = append(args, len(pairs))
	for _, p := range pairs {
		args = append(args, p[0], p[1])
	}
	args = append(args, fieldProgress, fieldJudgeAt, fieldJudger)

	reply, err := s.cache.Eval(ctx, resetRecordScript, newRecordKeys(domainID, recordID).list(), args...)
	if err != nil {
		return appErr.Wrapf(err, appErr.RecordResetFailed, "reset record failed")
	}
	if n, _ := reply.(int64); n == 0 {
		return appErr.RecordNotFoundError(domainID, recordID)
	}
	return nil
}

// Insert seeds a record with its sequences.
func (s *RedisRecordStore) Insert(ctx context.Context, record *model.Record) error {
	if record == nil {
		return appErr.ValidationError("record", "required")
	}
	if err := validateRecordIdentity(record.DomainID, record.ID); err != nil {
		return err
	}
	keys := newRecordKeys(record.DomainID, record.ID)
	n, err := s.cache.Exists(ctx, keys.hash)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "check record failed")
	}
	if n > 0 {
		return appErr.New(appErr.InvalidParams).WithMessagef("record %s/%s already exists", record.DomainID, record.ID)
	}
	cases := make([]interface{}, 0, len(record.TestCases))
	for _, tc := range record.TestCases {
		payload, err := json.Marshal(tc)
		if err != nil {
			return fmt.Errorf("marshal test case failed: %w", err)
		}
		cases = append(cases, string(payload))
	}
	return s.cache.TxPipeline(ctx, func(pipe cache.Pipeliner) error {
		pipe.Del(keys.testCases, keys.judgeTexts, keys.compilerTexts)
		pipe.HMSet(keys.hash, encodeRecordHash(record))
		pipe.RPush(keys.testCases, cases...)
		pipe.RPush(keys.judgeTexts, stringsToArgs(record.JudgeTexts)...)
		pipe.RPush(keys.compilerTexts, stringsToArgs(record.CompilerTexts)...)
		return nil
	})
}

func validateRecordIdentity(domainID, recordID string) error {
	if domainID == "" {
		return appErr.ValidationError("domainId", "required")
	}
	if recordID == "" {
		return appErr.ValidationError("rid", "required")
	}
	return nil
}

func buildUpdateArgs(update model.RecordUpdate) ([]interface{}, error) {
	sets := encodeRecordSet(update.Set)
	args := make([]interface{}, 0, 2+len(sets)*2+len(update.Unset)+6)

	args = append(args, strconv.Itoa(len(sets)))
	for _, kv := range sets {
		args = append(args, kv[0], kv[1])
	}
	args = append(args, strconv.Itoa(len(update.Unset)))
	for _, f := range update.Unset {
		args = append(args, string(f))
	}

	if update.Push.TestCase != nil {
		payload, err := json.Marshal(update.Push.TestCase)
		if err != nil {
			return nil, fmt.Errorf("marshal test case failed: %w", err)
		}
		args = append(args, "1", string(payload))
	} else {
		args = append(args, "0", "")
	}
	args = append(args, pushArg(update.Push.JudgeText)...)
	args = append(args, pushArg(update.Push.CompilerText)...)
	return args, nil
}

func pushArg(v *string) []interface{} {
	if v == nil {
		return []interface{}{"0", ""}
	}
	return []interface{}{"1", *v}
}

// encodeRecordSet returns field/value pairs in a fixed order.
func encodeRecordSet(set model.RecordSet) [][2]string {
	var out [][2]string
	if set.Status != nil {
		out = append(out, [2]string{fieldStatus, strconv.Itoa(int(*set.Status))})
	}
	if set.Score != nil {
		out = append(out, [2]string{fieldScore, formatFloat(*set.Score)})
	}
	if set.Time != nil {
		out = append(out, [2]string{fieldTime, formatFloat(*set.Time)})
	}
	if set.Memory != nil {
		out = append(out, [2]string{fieldMemory, strconv.FormatInt(*set.Memory, 10)})
	}
	if set.Progress != nil {
		out = append(out, [2]string{fieldProgress, formatFloat(*set.Progress)})
	}
	if set.JudgeAt != nil {
		out = append(out, [2]string{fieldJudgeAt, set.JudgeAt.UTC().Format(time.RFC3339Nano)})
	}
	if set.Judger != nil {
		out = append(out, [2]string{fieldJudger, strconv.FormatInt(*set.Judger, 10)})
	}
	return out
}

func encodeRecordHash(r *model.Record) map[string]interface{} {
	kind := r.Kind
	if kind == "" {
		kind = model.RecordKindJudge
	}
	fields := map[string]interface{}{
		fieldDomainID:  r.DomainID,
		fieldRecordID:  r.ID,
		fieldProblemID: r.ProblemID,
		fieldUserID:    strconv.FormatInt(r.UserID, 10),
		fieldKind:      string(kind),
		fieldStatus:    strconv.Itoa(int(r.Status)),
		fieldScore:     formatFloat(r.Score),
		fieldTime:      formatFloat(r.Time),
		fieldMemory:    strconv.FormatInt(r.Memory, 10),
	}
	if r.InContest() {
		fields[fieldContestID] = r.Contest.ID
		fields[fieldContestType] = r.Contest.Type
	}
	if r.Progress != nil {
		fields[fieldProgress] = formatFloat(*r.Progress)
	}
	if r.JudgeAt != nil {
		fields[fieldJudgeAt] = r.JudgeAt.UTC().Format(time.RFC3339Nano)
	}
	if r.Judger != nil {
		fields[fieldJudger] = strconv.FormatInt(*r.Judger, 10)
	}
	if r.Rejudged {
		fields[fieldRejudged] = "1"
	}
	return fields
}

func decodeRecordReply(reply interface{}) (*model.Record, error) {
	parts, ok := reply.([]interface{})
	if !ok || len(parts) != 4 {
		return nil, appErr.New(appErr.RecordDecodeFailed).WithMessage("unexpected record reply shape")
	}
	flat, err := replyStrings(parts[0])
	if err != nil {
		return nil, err
	}
	if len(flat)%2 != 0 {
		return nil, appErr.New(appErr.RecordDecodeFailed).WithMessage("odd record hash reply")
	}
	hash := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		hash[flat[i]] = flat[i+1]
	}
	record, err := decodeRecordHash(hash)
	if err != nil {
		return nil, err
	}

	cases, err := replyStrings(parts[1])
	if err != nil {
		return nil, err
	}
	record.TestCases = make([]model.TestCase, 0, len(cases))
	for _, raw := range cases {
		var tc model.TestCase
		if err := json.Unmarshal([]byte(raw), &tc); err != nil {
			return nil, appErr.Wrapf(err, appErr.RecordDecodeFailed, "decode test case failed")
		}
		record.TestCases = append(record.TestCases, tc)
	}
	if record.JudgeTexts, err = replyStrings(parts[2]); err != nil {
		return nil, err
	}
	if record.CompilerTexts, err = replyStrings(parts[3]); err != nil {
		return nil, err
	}
	return record, nil
}

func decodeRecordHash(hash map[string]string) (*model.Record, error) {
	record := &model.Record{
		DomainID:  hash[fieldDomainID],
		ID:        hash[fieldRecordID],
		ProblemID: hash[fieldProblemID],
		Kind:      model.RecordKind(hash[fieldKind]),
		Rejudged:  hash[fieldRejudged] == "1",
	}
	var err error
	if record.UserID, err = parseIntField(hash, fieldUserID); err != nil {
		return nil, err
	}
	status, err := parseIntField(hash, fieldStatus)
	if err != nil {
		return nil, err
	}
	record.Status = model.Status(status)
	if record.Score, err = parseFloatField(hash, fieldScore); err != nil {
		return nil, err
	}
	if record.Time, err = parseFloatField(hash, fieldTime); err != nil {
		return nil, err
	}
	if record.Memory, err = parseIntField(hash, fieldMemory); err != nil {
		return nil, err
	}
	if id := hash[fieldContestID]; id != "" {
		record.Contest = &model.ContestRef{ID: id, Type: hash[fieldContestType]}
	}
	if _, ok := hash[fieldProgress]; ok {
		p, err := parseFloatField(hash, fieldProgress)
		if err != nil {
			return nil, err
		}
		record.Progress = &p
	}
	if raw, ok := hash[fieldJudgeAt]; ok {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.RecordDecodeFailed, "decode judgeAt failed")
		}
		record.JudgeAt = &at
	}
	if _, ok := hash[fieldJudger]; ok {
		judger, err := parseIntField(hash, fieldJudger)
		if err != nil {
			return nil, err
		}
		record.Judger = &judger
	}
	return record, nil
}

func replyStrings(v interface{}) ([]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, appErr.New(appErr.RecordDecodeFailed).WithMessagef("unexpected reply type %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, appErr.New(appErr.RecordDecodeFailed).WithMessagef("unexpected reply item %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseIntField(hash map[string]string, field string) (int64, error) {
	raw, ok := hash[field]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.RecordDecodeFailed, "decode %s failed", field)
	}
	return v, nil
}

func parseFloatField(hash map[string]string, field string) (float64, error) {
	raw, ok := hash[field]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.RecordDecodeFailed, "decode %s failed", field)
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stringsToArgs(items []string) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}

var _ RecordStore = (*RedisRecordStore)(nil)
