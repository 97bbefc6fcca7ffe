package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-guard-go/internal/acquisition"
	"voice-guard-go/internal/apperr"
	"voice-guard-go/internal/directory"
	"voice-guard-go/internal/logger"
	"voice-guard-go/internal/notify"
	"voice-guard-go/internal/policy"
	"voice-guard-go/internal/types"
)

type memStore map[string][]byte

func (m memStore) Open(_ context.Context, loc acquisition.Locator) (io.ReadCloser, error) {
	b, ok := m[loc.String()]
	if !ok {
		return nil, acquisition.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fakeNormalizer struct{ calls int32 }

func (f *fakeNormalizer) Normalize(_ context.Context, in types.AudioArtifact) (types.AudioArtifact, error) {
	atomic.AddInt32(&f.calls, 1)
	out := filepath.Join(filepath.Dir(in.Path), "normalized.wav")
	if err := os.WriteFile(out, []byte("RIFF"), 0o600); err != nil {
		return types.AudioArtifact{}, err
	}
	return types.AudioArtifact{Path: out, Format: types.FormatLinear, SampleRate: 16000}, nil
}

type fakeTranscriber struct{}

func (fakeTranscriber) Transcribe(_ context.Context, a types.AudioArtifact) (types.TranscriptArtifact, error) {
	path := filepath.Join(filepath.Dir(a.Path), "transcript.txt")
	if err := os.WriteFile(path, []byte("help"), 0o600); err != nil {
		return types.TranscriptArtifact{}, err
	}
	return types.TranscriptArtifact{Path: path, Text: "help"}, nil
}

type fakeScorer struct {
	score float64
	err   error
	calls int32

	mu    sync.Mutex
	names []string
}

func (f *fakeScorer) Score(_ context.Context, audio types.AudioArtifact, tr types.TranscriptArtifact) (float64, error) {
	atomic.AddInt32(&f.calls, 1)
	if _, err := os.Stat(audio.Path); err != nil {
		return 0, err
	}
	if _, err := os.Stat(tr.Path); err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.names = append(f.names, audio.Name, tr.Name)
	f.mu.Unlock()
	return f.score, f.err
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Email
}

func (m *recordingMailer) Send(_ context.Context, e notify.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range e.Attachments {
		if _, err := os.Stat(a.Path); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, e)
	return nil
}

func (m *recordingMailer) to() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.sent {
		out = append(out, e.To)
	}
	sort.Strings(out)
	return out
}

type recordingPusher struct {
	mu     sync.Mutex
	tokens []string
}

func (p *recordingPusher) SendBatch(_ context.Context, msgs []notify.PushMessage) ([]notify.PushResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.PushResult, len(msgs))
	for i, m := range msgs {
		p.tokens = append(p.tokens, m.Token)
		out[i] = notify.PushResult{Token: m.Token}
	}
	return out, nil
}

type brokenResolver struct{}

func (brokenResolver) Resolve(_ context.Context, userID string) (types.Circle, error) {
	return types.Circle{UserID: userID}, apperr.New(apperr.Directory, "username", errors.New("dial tcp: timeout"))
}

type harness struct {
	orch    *Orchestrator
	scratch string
	norm    *fakeNormalizer
	scorer  *fakeScorer
	mailer  *recordingMailer
	pusher  *recordingPusher
}

func newHarness(t *testing.T, score float64, scoreErr error, resolver Resolver) *harness {
	t.Helper()
	h := &harness{
		scratch: t.TempDir(),
		norm:    &fakeNormalizer{},
		scorer:  &fakeScorer{score: score, err: scoreErr},
		mailer:  &recordingMailer{},
		pusher:  &recordingPusher{},
	}
	log := logger.Discard().Entry
	if resolver == nil {
		resolver = directory.NewResolver(directory.NewRoster(map[string]directory.Entry{
			"u1":    {Username: "Alice", Contacts: []string{"a", "b", "c"}},
			"a":     {Email: "a@example.com", Token: "tok-a"},
			"b":     {Token: "tok-b"},
			"c":     {Email: "c@example.com"},
			"loner": {Username: "Lonely"},
		}), log)
	}
	h.orch = New(Deps{
		Acquirer:    acquisition.NewAcquirer(memStore{"gs://bucket/u1/clip.m4a": []byte("aac-bytes")}),
		Normalizer:  h.norm,
		Transcriber: fakeTranscriber{},
		Scorer:      h.scorer,
		Resolver:    resolver,
		Notifier:    notify.NewNotifier(h.mailer, h.pusher, 4, log),
	}, Options{
		ScratchDir:     h.scratch,
		AuthorityEmail: "desk@police.example",
		Policy:         policy.New(policy.DefaultAuthority, policy.DefaultContacts),
		Timeout:        5 * time.Second,
	}, log)
	return h
}

func (h *harness) assertScratchReleased(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch artifacts must be released")
}

func source() acquisition.Source {
	return acquisition.Source{Locator: "gs://bucket/u1/clip.m4a"}
}

func TestHighScoreNotifiesAuthorityAndContacts(t *testing.T) {
	h := newHarness(t, 95, nil, nil)
	res, err := h.orch.Run(context.Background(), types.Incident{UserID: "u1"}, source())
	require.NoError(t, err)

	assert.Equal(t, 95.0, res.Score)
	assert.Equal(t, policy.LevelAuthority, res.Level)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, []State{Received, Acquiring, Normalizing, Transcribing, Scoring, PolicyEvaluated, NotifyingAuthority, NotifyingContacts, Completed}, res.Trail)

	assert.Equal(t, []string{"a@example.com", "c@example.com", "desk@police.example"}, h.mailer.to(), "authority email + one per contact with an address")
	sort.Strings(h.pusher.tokens)
	assert.Equal(t, []string{"tok-a", "tok-b"}, h.pusher.tokens, "one push per contact with a token")

	require.Len(t, res.Actions, 2)
	assert.Len(t, res.Actions[1].Recipients, 3)
	h.assertScratchReleased(t)
}

func TestContactsOnlyBand(t *testing.T) {
	h := newHarness(t, 80, nil, nil)
	res, err := h.orch.Run(context.Background(), types.Incident{UserID: "u1"}, source())
	require.NoError(t, err)
	assert.Equal(t, policy.LevelContacts, res.Level)
	assert.Equal(t, []string{"a@example.com", "c@example.com"}, h.mailer.to())
	assert.NotContains(t, res.Trail, NotifyingAuthority)
}

func TestLowScoreSendsNothing(t *testing.T) {
	h := newHarness(t, 40, nil, brokenResolver{})
	res, err := h.orch.Run(context.Background(), types.Incident{UserID: "u1"}, source())
	require.NoError(t, err)
	assert.Equal(t, policy.LevelSafe, res.Level)
	assert.Equal(t, Completed, res.State)
	assert.Empty(t, h.mailer.to())
	assert.Empty(t, h.pusher.tokens)
}

func TestZeroContactsStillCompletes(t *testing.T) {
	h := newHarness(t, 85, nil, nil)
	res, err := h.orch.Run(context.Background(), types.Incident{UserID: "loner"}, source())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 85.0, res.Score)
	assert.Empty(t, h.mailer.to())
	assert.Empty(t, h.pusher.tokens)
}

func TestScoringFailureAborts(t *testing.T) {
	h := newHarness(t, 0, apperr.New(apperr.Scoring, "analyze", errors.New("unexpected status 500")), nil)
	res, err := h.orch.Run(context.Background(), types.Incident{UserID: "u1"}, source())
	require.Error(t, err)
	assert.Equal(t, apperr.Scoring, apperr.KindOf(err))
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, []State{Received, Acquiring, Normalizing, Transcribing, Scoring, Failed}, res.Trail)
	assert.Empty(t, h.mailer.to())
	assert.Empty(t, h.pusher.tokens)
	h.assertScratchReleased(t)
}

func TestAcquisitionFailureStopsEarly(t *testing.T) {
	h := newHarness(t, 99, nil, nil)
	_, err := h.orch.Run(context.Background(), types.Incident{UserID: "u1"}, acquisition.Source{Locator: "gs://bucket/missing.m4a"})
	assert.Equal(t, apperr.Acquisition, apperr.KindOf(err))
	assert.Zero(t, atomic.LoadInt32(&h.norm.calls))
	assert.Zero(t, atomic.LoadInt32(&h.scorer.calls))
	h.assertScratchReleased(t)
}

func TestDirectoryFailureDoesNotFailIncident(t *testing.T) {
	h := newHarness(t, 93, nil, brokenResolver{})
	res, err := h.orch.Run(context.Background(), types.Incident{UserID: "u1"}, source())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, []string{"desk@police.example"}, h.mailer.to())
}

func TestRelayWithoutUserOnlyScores(t *testing.T) {
	h := newHarness(t, 97, nil, nil)
	res, err := h.orch.Relay(context.Background(), types.Incident{},
		Upload{Name: "call_2024.m4a", Body: strings.NewReader("aac-bytes")},
		Upload{Name: "call_2024.txt", Body: strings.NewReader("help")})
	require.NoError(t, err)
	assert.Equal(t, []string{"call_2024.m4a", "call_2024.txt"}, h.scorer.names, "uploads reach the scorer under the client's names")
	assert.Equal(t, 97.0, res.Score)
	assert.Equal(t, policy.LevelAuthority, res.Level)
	assert.Zero(t, atomic.LoadInt32(&h.norm.calls), "relay skips normalization")
	assert.Empty(t, h.mailer.to())
	h.assertScratchReleased(t)
}

func TestRelayWithUserNotifies(t *testing.T) {
	h := newHarness(t, 78, nil, nil)
	res, err := h.orch.Relay(context.Background(), types.Incident{UserID: "u1"},
		Upload{Name: "a.wav", Body: strings.NewReader("RIFF")},
		Upload{Name: "t.txt", Body: strings.NewReader("help")})
	require.NoError(t, err)
	assert.Equal(t, policy.LevelContacts, res.Level)
	assert.Equal(t, []string{"a@example.com", "c@example.com"}, h.mailer.to())
	h.assertScratchReleased(t)
}

func TestConcurrentIncidentsAreIsolated(t *testing.T) {
	h := newHarness(t, 91, nil, nil)
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.Run(context.Background(), types.Incident{UserID: "u1"}, source())
			assert.NoError(t, err)
			ids[i] = res.IncidentID
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "incident ids must be unique")
		seen[id] = true
	}
	assert.Len(t, h.mailer.to(), 8*3)
	h.assertScratchReleased(t)
}

func TestContactChannelsFollowWhatIsOnFile(t *testing.T) {
	h := newHarness(t, 76, nil, nil)
	res, err := h.orch.Run(context.Background(), types.Incident{UserID: "u1"}, source())
	require.NoError(t, err)
	require.Equal(t, Completed, res.State)

	emails := h.mailer.to()
	sort.Strings(h.pusher.tokens)
	// a has both, b only a token, c only an address.
	assert.Equal(t, []string{"a@example.com", "c@example.com"}, emails)
	assert.Equal(t, []string{"tok-a", "tok-b"}, h.pusher.tokens)

	report := res.Reports[types.NotifyContacts]
	sent, failed := report.Count(notify.ChannelEmail)
	assert.Equal(t, 2, sent)
	assert.Zero(t, failed)
	sent, failed = report.Count(notify.ChannelPush)
	assert.Equal(t, 2, sent)
	assert.Zero(t, failed)
}

type partialDir struct {
	*directory.Roster
	bad string
}

func (p partialDir) Email(ctx context.Context, userID string) (string, error) {
	if userID == p.bad {
		return "", errors.New("json: cannot unmarshal number into Go value of type string")
	}
	return p.Roster.Email(ctx, userID)
}

func TestOneBrokenContactDoesNotSilenceTheOthers(t *testing.T) {
	roster := directory.NewRoster(map[string]directory.Entry{
		"u1":   {Username: "Alice", Contacts: []string{"bad", "good"}},
		"bad":  {Token: "tok-bad"},
		"good": {Email: "good@example.com", Token: "tok-good"},
	})
	resolver := directory.NewResolver(partialDir{Roster: roster, bad: "bad"}, logger.Discard().Entry)
	h := newHarness(t, 80, nil, resolver)

	res, err := h.orch.Run(context.Background(), types.Incident{UserID: "u1"}, source())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, []string{"good@example.com"}, h.mailer.to())
	sort.Strings(h.pusher.tokens)
	assert.Equal(t, []string{"tok-bad", "tok-good"}, h.pusher.tokens)
}
