// Package pipeline runs one incident from audio acquisition to alert fan-out.
package pipeline

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-guard-go/internal/acquisition"
	"voice-guard-go/internal/apperr"
	"voice-guard-go/internal/logger"
	"voice-guard-go/internal/notify"
	"voice-guard-go/internal/policy"
	"voice-guard-go/internal/types"
)

type State string

const (
	Received           State = "received"
	Acquiring          State = "acquiring"
	Normalizing        State = "normalizing"
	Transcribing       State = "transcribing"
	Scoring            State = "scoring"
	PolicyEvaluated    State = "policy_evaluated"
	NotifyingAuthority State = "notifying_authority"
	NotifyingContacts  State = "notifying_contacts"
	Completed          State = "completed"
	Failed             State = "failed"
)

type Acquirer interface {
	Acquire(ctx context.Context, ws *acquisition.Workspace, src acquisition.Source) (types.AudioArtifact, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, in types.AudioArtifact) (types.AudioArtifact, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio types.AudioArtifact) (types.TranscriptArtifact, error)
}

type Scorer interface {
	Score(ctx context.Context, audio types.AudioArtifact, tr types.TranscriptArtifact) (float64, error)
}

type Resolver interface {
	Resolve(ctx context.Context, userID string) (types.Circle, error)
}

type Notifier interface {
	Deliver(ctx context.Context, b notify.Batch) notify.Report
}

type Deps struct {
	Acquirer    Acquirer
	Normalizer  Normalizer
	Transcriber Transcriber
	Scorer      Scorer
	Resolver    Resolver
	Notifier    Notifier
}

type Options struct {
	ScratchDir     string
	AuthorityEmail string
	Policy         policy.Engine
	// Timeout caps one whole incident. Stages are not individually bounded.
	Timeout time.Duration
}

// Result is what one run produced. Score and Level are meaningful once
// State has passed PolicyEvaluated.
type Result struct {
	IncidentID string                             `json:"incident_id"`
	Score      float64                            `json:"danger_score"`
	Level      string                             `json:"level"`
	Actions    []types.AlertAction                `json:"actions,omitempty"`
	State      State                              `json:"state"`
	Trail      []State                            `json:"trail"`
	Reports    map[types.ActionKind]notify.Report `json:"-"`
	DurationMs int64                              `json:"duration_ms"`
	Error      string                             `json:"error,omitempty"`
}

type Orchestrator struct {
	deps Deps
	opts Options
	log  *logrus.Entry
}

func New(deps Deps, opts Options, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{deps: deps, opts: opts, log: log.WithField("component", "pipeline")}
}

// run is the per-incident bookkeeping. It is never shared between incidents.
type run struct {
	inc   types.Incident
	res   Result
	log   *logrus.Entry
	start time.Time
}

func (o *Orchestrator) begin(inc *types.Incident) *run {
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	r := &run{
		inc:   *inc,
		res:   Result{IncidentID: inc.ID, State: Received, Trail: []State{Received}},
		log:   logger.WithIncident(o.log, inc.ID, inc.UserID),
		start: time.Now(),
	}
	r.log.Info("incident received")
	return r
}

func (r *run) enter(s State) {
	r.res.State = s
	r.res.Trail = append(r.res.Trail, s)
}

// stage runs fn in state s. A failure moves the run straight to Failed.
func (r *run) stage(s State, fn func() error) error {
	r.enter(s)
	start := time.Now()
	err := fn()
	fields := logrus.Fields{"stage": s, "duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		r.log.WithFields(fields).WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_kind": apperr.KindOf(err),
		}).Error("stage failed")
		r.enter(Failed)
		r.res.Error = err.Error()
		return err
	}
	r.log.WithFields(fields).Debug("stage finished")
	return nil
}

func (r *run) done() Result {
	r.res.DurationMs = time.Since(r.start).Milliseconds()
	r.log.WithFields(logrus.Fields{
		"state":        r.res.State,
		"danger_score": r.res.Score,
		"level":        r.res.Level,
		"duration_ms":  r.res.DurationMs,
	}).Info("incident finished")
	return r.res
}

func (o *Orchestrator) workspace(r *run) (*acquisition.Workspace, error) {
	ws, err := acquisition.NewWorkspace(o.opts.ScratchDir, r.inc.ID)
	if err != nil {
		return nil, apperr.New(apperr.Acquisition, "scratch", err)
	}
	return ws, nil
}

func (o *Orchestrator) release(r *run, ws *acquisition.Workspace) {
	if err := ws.Release(); err != nil {
		r.log.WithField("error", err.Error()).Warn("scratch release failed")
	}
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.Timeout > 0 {
		return context.WithTimeout(ctx, o.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// Run executes the full pipeline: acquire, normalize, transcribe, score,
// evaluate policy and notify. Any error before PolicyEvaluated fails the
// incident; delivery problems after it are only logged.
func (o *Orchestrator) Run(ctx context.Context, inc types.Incident, src acquisition.Source) (Result, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	r := o.begin(&inc)
	r.log.WithField("source", src.String()).Info("starting full pipeline")

	var (
		ws    *acquisition.Workspace
		audio types.AudioArtifact
		tr    types.TranscriptArtifact
		score float64
	)
	err := r.stage(Acquiring, func() error {
		var err error
		if ws, err = o.workspace(r); err != nil {
			return err
		}
		audio, err = o.deps.Acquirer.Acquire(ctx, ws, src)
		return err
	})
	if ws != nil {
		defer o.release(r, ws)
	}
	if err != nil {
		return r.done(), err
	}

	if err := r.stage(Normalizing, func() error {
		var err error
		audio, err = o.deps.Normalizer.Normalize(ctx, audio)
		return err
	}); err != nil {
		return r.done(), err
	}

	if err := r.stage(Transcribing, func() error {
		var err error
		tr, err = o.deps.Transcriber.Transcribe(ctx, audio)
		return err
	}); err != nil {
		return r.done(), err
	}

	if err := r.stage(Scoring, func() error {
		var err error
		score, err = o.deps.Scorer.Score(ctx, audio, tr)
		return err
	}); err != nil {
		return r.done(), err
	}

	o.fanOut(ctx, r, score, audio, tr)
	return r.done(), nil
}

// Upload is a file received inline with the request.
type Upload struct {
	Name string
	Body io.Reader
}

// Relay scores client-supplied audio and transcript as-is, skipping
// normalization and transcription. Without a user id only the score is
// produced; with one, policy and fan-out run as in Run.
func (o *Orchestrator) Relay(ctx context.Context, inc types.Incident, audioFile, textFile Upload) (Result, error) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	r := o.begin(&inc)
	r.log.WithField("audio_name", audioFile.Name).Info("starting relay")

	var (
		ws    *acquisition.Workspace
		audio types.AudioArtifact
		tr    types.TranscriptArtifact
		score float64
	)
	err := r.stage(Acquiring, func() error {
		var err error
		if ws, err = o.workspace(r); err != nil {
			return err
		}
		audio, err = o.deps.Acquirer.Acquire(ctx, ws, acquisition.Source{Inline: audioFile.Body, Name: audioFile.Name})
		if err != nil {
			return err
		}
		tr, err = saveTranscript(ws, textFile)
		return err
	})
	if ws != nil {
		defer o.release(r, ws)
	}
	if err != nil {
		return r.done(), err
	}

	if err := r.stage(Scoring, func() error {
		var err error
		score, err = o.deps.Scorer.Score(ctx, audio, tr)
		return err
	}); err != nil {
		return r.done(), err
	}

	if inc.UserID == "" {
		r.enter(PolicyEvaluated)
		r.res.Score = score
		r.res.Actions = o.opts.Policy.Evaluate(score)
		r.res.Level = policy.Level(r.res.Actions)
		r.log.Info("no user id on relay, skipping notifications")
		r.enter(Completed)
		return r.done(), nil
	}
	o.fanOut(ctx, r, score, audio, tr)
	return r.done(), nil
}

func saveTranscript(ws *acquisition.Workspace, up Upload) (types.TranscriptArtifact, error) {
	b, err := io.ReadAll(up.Body)
	if err != nil {
		return types.TranscriptArtifact{}, apperr.New(apperr.Acquisition, "read transcript upload", err)
	}
	path := ws.Path("transcript.txt")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return types.TranscriptArtifact{}, apperr.New(apperr.Acquisition, "write transcript", err)
	}
	return types.TranscriptArtifact{Path: path, Name: up.Name, Text: string(b)}, nil
}

// fanOut evaluates policy once and runs the notification stages. Nothing
// here can fail the incident.
func (o *Orchestrator) fanOut(ctx context.Context, r *run, score float64, audio types.AudioArtifact, tr types.TranscriptArtifact) {
	r.enter(PolicyEvaluated)
	actions := o.opts.Policy.Evaluate(score)
	r.res.Score = score
	r.res.Level = policy.Level(actions)
	r.log.WithFields(logrus.Fields{"danger_score": score, "level": r.res.Level, "actions": len(actions)}).Info("policy evaluated")
	if len(actions) == 0 {
		r.enter(Completed)
		return
	}

	circle := types.Circle{UserID: r.inc.UserID}
	if o.deps.Resolver != nil {
		c, err := o.deps.Resolver.Resolve(ctx, r.inc.UserID)
		if err != nil {
			r.log.WithFields(logrus.Fields{"error": err.Error(), "error_kind": apperr.KindOf(err)}).Error("contact resolution failed, continuing without contacts")
		} else {
			circle = c
		}
	}

	alert := notify.NewAlert(r.inc, circle, score, audio, tr)
	r.res.Reports = map[types.ActionKind]notify.Report{}
	for i := range actions {
		a := &actions[i]
		var batch notify.Batch
		switch a.Kind {
		case types.NotifyAuthority:
			r.enter(NotifyingAuthority)
			if o.opts.AuthorityEmail == "" {
				r.log.Warn("authority threshold reached but no authority email configured")
				continue
			}
			a.Recipients = []types.Contact{{UserID: "authority", Email: o.opts.AuthorityEmail}}
			batch.Emails = []notify.Email{notify.AuthorityEmail(alert, o.opts.AuthorityEmail)}
		case types.NotifyContacts:
			r.enter(NotifyingContacts)
			a.Recipients = circle.Contacts
			batch = contactBatch(alert, circle.Contacts)
		}
		if batch.Empty() {
			r.log.WithField("action", a.Kind).Info("no reachable recipients")
			continue
		}
		r.res.Reports[a.Kind] = o.deps.Notifier.Deliver(ctx, batch)
	}
	r.res.Actions = actions
	r.enter(Completed)
}

// contactBatch sends email only to contacts with an address and push only to
// contacts with a token.
func contactBatch(a notify.Alert, contacts []types.Contact) notify.Batch {
	var b notify.Batch
	for _, c := range contacts {
		if c.Email != "" {
			b.Emails = append(b.Emails, notify.ContactEmail(a, c.Email))
		}
		if c.NotificationToken != "" {
			b.Pushes = append(b.Pushes, notify.ContactPush(a, c.NotificationToken))
		}
	}
	return b
}
