package directory

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"voice-guard-go/internal/apperr"
	"voice-guard-go/internal/logger"
	"voice-guard-go/internal/types"
)

func testRoster() *Roster {
	return NewRoster(map[string]Entry{
		"u1": {Username: "Alice", Contacts: []string{"c1", "c2", "c1", "", "u1"}},
		"c1": {Email: "c1@example.com", Token: "tok-c1"},
		"c2": {Token: "tok-c2"},
		"u2": {},
	})
}

func TestResolve(t *testing.T) {
	circle, err := NewResolver(testRoster(), logger.Discard().Entry).Resolve(context.Background(), "u1")
	require.NoError(t, err)

	want := types.Circle{
		UserID:   "u1",
		Username: "Alice",
		Contacts: []types.Contact{
			{UserID: "c1", Email: "c1@example.com", NotificationToken: "tok-c1"},
			{UserID: "c2", NotificationToken: "tok-c2"},
		},
	}
	if diff := cmp.Diff(want, circle); diff != "" {
		t.Fatalf("circle mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveEmptyIsNotAnError(t *testing.T) {
	circle, err := NewResolver(testRoster(), logger.Discard().Entry).Resolve(context.Background(), "u2")
	require.NoError(t, err)
	assert.Empty(t, circle.Contacts)
	assert.Equal(t, "u2", circle.DisplayName())

	circle, err = NewResolver(testRoster(), logger.Discard().Entry).Resolve(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, circle.Contacts)
}

type failingDir struct {
	Roster
	failOn string
}

func (f *failingDir) Token(ctx context.Context, id string) (string, error) {
	if id == f.failOn {
		return "", errors.New("connection reset")
	}
	return f.Roster.Token(ctx, id)
}

func TestResolveContactFailureIsIsolated(t *testing.T) {
	dir := &failingDir{failOn: "c2"}
	dir.Replace(testRoster().users)
	circle, err := NewResolver(dir, logger.Discard().Entry).Resolve(context.Background(), "u1")
	require.NoError(t, err)

	want := []types.Contact{
		{UserID: "c1", Email: "c1@example.com", NotificationToken: "tok-c1"},
		{UserID: "c2"},
	}
	if diff := cmp.Diff(want, circle.Contacts); diff != "" {
		t.Fatalf("contacts mismatch (-want +got):\n%s", diff)
	}
}

type badEmailDir struct {
	*Roster
	bad string
}

func (d badEmailDir) Email(ctx context.Context, id string) (string, error) {
	if id == d.bad {
		return "", errors.New("json: cannot unmarshal number into Go value of type string")
	}
	return d.Roster.Email(ctx, id)
}

func TestResolveKeepsOtherContactsWhenOneRecordIsBroken(t *testing.T) {
	dir := badEmailDir{Roster: NewRoster(map[string]Entry{
		"u1":   {Contacts: []string{"bad", "good"}},
		"bad":  {Token: "tok-bad"},
		"good": {Email: "good@example.com", Token: "tok-good"},
	}), bad: "bad"}

	circle, err := NewResolver(dir, logger.Discard().Entry).Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []types.Contact{
		{UserID: "bad", NotificationToken: "tok-bad"},
		{UserID: "good", Email: "good@example.com", NotificationToken: "tok-good"},
	}, circle.Contacts)
}

type unreachableDir struct{ *Roster }

func (unreachableDir) ContactIDs(context.Context, string) ([]string, error) {
	return nil, errors.New("dial tcp: i/o timeout")
}

func TestResolveTransportFailure(t *testing.T) {
	_, err := NewResolver(unreachableDir{testRoster()}, logger.Discard().Entry).Resolve(context.Background(), "u1")
	assert.Equal(t, apperr.Directory, apperr.KindOf(err))
}

type countingDir struct {
	Directory
	calls int32
	fail  bool
}

func (c *countingDir) Username(ctx context.Context, id string) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.fail {
		return "", errors.New("unreachable")
	}
	return c.Directory.Username(ctx, id)
}

func (c *countingDir) ContactIDs(ctx context.Context, id string) ([]string, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.Directory.ContactIDs(ctx, id)
}

func TestCached(t *testing.T) {
	inner := &countingDir{Directory: testRoster()}
	c := NewCached(inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		name, err := c.Username(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", name)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))

	ids, err := c.ContactIDs(ctx, "u1")
	require.NoError(t, err)
	ids[0] = "mutated"
	ids, err = c.ContactIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c1", ids[0], "cached slice must not be shared with callers")
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

type tokenDir struct {
	*Roster
	tokenCalls int32
}

func (d *tokenDir) Token(ctx context.Context, id string) (string, error) {
	atomic.AddInt32(&d.tokenCalls, 1)
	return d.Roster.Token(ctx, id)
}

func TestCachedReadsTokensFresh(t *testing.T) {
	roster := testRoster()
	inner := &tokenDir{Roster: roster}
	c := NewCached(inner, time.Hour)
	ctx := context.Background()

	tok, err := c.Token(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "tok-c1", tok)

	roster.Replace(map[string]Entry{"c1": {Email: "new@example.com", Token: "tok-new-device"}})
	tok, err = c.Token(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "tok-new-device", tok)
	email, err := c.Email(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", email)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.tokenCalls))
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	inner := &countingDir{Directory: testRoster(), fail: true}
	c := NewCached(inner, time.Minute)
	_, err := c.Username(context.Background(), "u1")
	require.Error(t, err)
	inner.fail = false
	name, err := c.Username(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

func TestParseContactIDs(t *testing.T) {
	cases := map[string][]string{
		`null`:                          nil,
		`["a","b",null]`:                {"a", "b"},
		`{"b":true,"a":true,"c":false}`: {"a", "b"},
		`{"-N2":"y","-N1":"x"}`:         {"x", "y"},
	}
	for raw, want := range cases {
		got, err := parseContactIDs(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := parseContactIDs(json.RawMessage(`"nope"`))
	assert.Error(t, err)
}

func TestStringValue(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{``, "", true},
		{`null`, "", true},
		{`" a@example.com "`, "a@example.com", true},
		{`12345`, "", false},
		{`{"token":"x"}`, "", false},
		{`true`, "", false},
	}
	for _, tc := range cases {
		got, ok := stringValue(json.RawMessage(tc.raw))
		assert.Equal(t, tc.want, got, tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
	}
}

func TestUserPath(t *testing.T) {
	p, err := userPath("abc123", "email")
	require.NoError(t, err)
	assert.Equal(t, "users/abc123/email", p)
	for _, bad := range []string{"", "a/b", "a.b", "a#b", "a$b", "a[0]"} {
		_, err := userPath(bad, "email")
		assert.Error(t, err, bad)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  u1:
    username: Alice
    contacts: [c1]
  c1:
    email: c1@example.com
    token: tok
`), 0o600))
	users, err := LoadYAML(path)
	require.NoError(t, err)
	assert.Equal(t, Entry{Username: "Alice", Contacts: []string{"c1"}}, users["u1"])
	assert.Equal(t, "tok", users["c1"].Token)
}

func TestWatchYAMLReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  u1: {username: Alice}\n"), 0o600))
	users, err := LoadYAML(path)
	require.NoError(t, err)
	r := NewRoster(users)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchYAML(ctx, path, r, logger.Discard().Entry))

	require.NoError(t, os.WriteFile(path, []byte("users:\n  u1: {username: Alicia}\n  u2: {}\n"), 0o600))
	require.Eventually(t, func() bool {
		name, _ := r.Username(ctx, "u1")
		return name == "Alicia" && r.Len() == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func writeSheet(t *testing.T, rows [][]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellName, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestLoadSheetMatchesWholeHeaders(t *testing.T) {
	path := writeSheet(t, [][]any{
		{"Provider", "Device ID", "user_id", "Display Name", "Email Address", "Push Token", "Friends"},
		{"gmail", "dev-9", "u1", "Alice", "a@example.com", "tok-a", "c1"},
	})
	users, err := LoadSheet(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]Entry{
		"u1": {Username: "Alice", Email: "a@example.com", Token: "tok-a", Contacts: []string{"c1"}},
	}, users)

	_, err = LoadSheet(writeSheet(t, [][]any{{"Provider", "Device ID"}, {"gmail", "dev-9"}}))
	assert.Error(t, err, "no user id column")
}

func TestLoadSheet(t *testing.T) {
	path := writeSheet(t, [][]any{
		{"User ID", "Username", "Email", "FCM Token", "Contacts"},
		{"u1", "Alice", "", "", "c1; c2"},
		{"c1", "", "c1@example.com", "tok-c1", ""},
		{"", "ignored", "", "", ""},
	})

	users, err := LoadSheet(path)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, Entry{Username: "Alice", Contacts: []string{"c1", "c2"}}, users["u1"])
	assert.Equal(t, Entry{Email: "c1@example.com", Token: "tok-c1", Contacts: []string{}}, users["c1"])
}
