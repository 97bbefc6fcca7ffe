package main

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	firebase "firebase.google.com/go/v4"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"voice-guard-go/internal/acquisition"
	"voice-guard-go/internal/audio"
	"voice-guard-go/internal/config"
	"voice-guard-go/internal/directory"
	"voice-guard-go/internal/httpx"
	"voice-guard-go/internal/logger"
	"voice-guard-go/internal/notify"
	"voice-guard-go/internal/pipeline"
	"voice-guard-go/internal/policy"
	"voice-guard-go/internal/scorer"
	"voice-guard-go/internal/transcription"
)

// wiring creates the Firebase app only when some component asks for it, so
// local runs against a YAML roster with push disabled need no credentials.
type wiring struct {
	cfg     config.Config
	log     *logrus.Entry
	app     *firebase.App
	closers []func() error
}

func (w *wiring) clientOptions() []option.ClientOption {
	if w.cfg.Firebase.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(w.cfg.Firebase.CredentialsFile)}
}

func (w *wiring) firebaseApp(ctx context.Context) (*firebase.App, error) {
	if w.app != nil {
		return w.app, nil
	}
	fc := &firebase.Config{
		ProjectID:     w.cfg.Firebase.ProjectID,
		DatabaseURL:   w.cfg.Firebase.DatabaseURL,
		StorageBucket: w.cfg.Firebase.StorageBucket,
	}
	app, err := firebase.NewApp(ctx, fc, w.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	w.app = app
	return app, nil
}

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			w.log.WithField("error", err.Error()).Warn("close failed")
		}
	}
}

// build assembles the orchestrator from cfg. remote enables gs:// acquisition;
// without it only inline sources can be processed.
func build(ctx context.Context, cfg config.Config, log *logger.Logger, remote bool) (*pipeline.Orchestrator, func(), error) {
	w := &wiring{cfg: cfg, log: log.WithField("module", "wire")}
	orch, err := w.orchestrator(ctx, log.Entry, remote)
	if err != nil {
		w.close()
		return nil, nil, err
	}
	return orch, w.close, nil
}

func (w *wiring) orchestrator(ctx context.Context, log *logrus.Entry, remote bool) (*pipeline.Orchestrator, error) {
	cfg := w.cfg

	var store acquisition.BlobStore
	if remote {
		app, err := w.firebaseApp(ctx)
		if err != nil {
			return nil, err
		}
		client, err := app.Storage(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		store = acquisition.NewGCSStore(client)
	}

	recognizer, err := w.recognizer(ctx)
	if err != nil {
		return nil, err
	}

	dir, err := w.directory(ctx)
	if err != nil {
		return nil, err
	}

	notifier, err := w.notifier(ctx, log)
	if err != nil {
		return nil, err
	}

	httpClient := httpx.New(cfg.Timeout, cfg.RetryMaxElapsed)
	deps := pipeline.Deps{
		Acquirer:    acquisition.NewAcquirer(store),
		Normalizer:  audio.NewNormalizer(&audio.FFmpeg{Bin: cfg.Audio.FFmpegPath, SampleRate: cfg.Audio.TargetRate}, log),
		Transcriber: transcription.NewService(recognizer, log),
		Scorer:      scorer.NewClient(cfg.ScoringURL, httpClient, log),
		Resolver:    directory.NewResolver(dir, log),
		Notifier:    notifier,
	}
	opts := pipeline.Options{
		ScratchDir:     cfg.ScratchDir,
		AuthorityEmail: cfg.AuthorityEmail,
		Policy:         policy.New(cfg.Thresholds.Authority, cfg.Thresholds.Contacts),
		Timeout:        cfg.Timeout,
	}
	w.log.WithFields(logrus.Fields{
		"scoring_url":         cfg.ScoringURL,
		"authority_threshold": cfg.Thresholds.Authority,
		"contacts_threshold":  cfg.Thresholds.Contacts,
		"directory":           cfg.Directory.Backend,
		"mock_transcribe":     cfg.Speech.Mock,
		"remote_audio":        remote,
	}).Info("pipeline wired")
	return pipeline.New(deps, opts, log), nil
}

func (w *wiring) recognizer(ctx context.Context) (transcription.Recognizer, error) {
	if w.cfg.Speech.Mock {
		w.log.Warn("using mock transcription")
		return transcription.Mock{}, nil
	}
	client, err := speech.NewClient(ctx, w.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	w.closers = append(w.closers, client.Close)
	return transcription.NewGoogleRecognizer(client, w.cfg.Speech.LanguageCode), nil
}

func (w *wiring) directory(ctx context.Context) (directory.Directory, error) {
	cfg := w.cfg.Directory
	var dir directory.Directory
	switch cfg.Backend {
	case "rtdb":
		app, err := w.firebaseApp(ctx)
		if err != nil {
			return nil, err
		}
		client, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("database client: %w", err)
		}
		dir = directory.NewRTDB(client, w.log)
	case "yaml":
		users, err := directory.LoadYAML(cfg.Path)
		if err != nil {
			return nil, err
		}
		roster := directory.NewRoster(users)
		if err := directory.WatchYAML(ctx, cfg.Path, roster, w.log); err != nil {
			w.log.WithField("error", err.Error()).Warn("roster hot reload disabled")
		}
		dir = roster
	case "xlsx":
		users, err := directory.LoadSheet(cfg.Path)
		if err != nil {
			return nil, err
		}
		dir = directory.NewRoster(users)
	default:
		return nil, fmt.Errorf("unknown directory backend %q", cfg.Backend)
	}
	if cfg.CacheTTL > 0 {
		dir = directory.NewCached(dir, cfg.CacheTTL)
	}
	return dir, nil
}

func (w *wiring) notifier(ctx context.Context, log *logrus.Entry) (*notify.Notifier, error) {
	cfg := w.cfg

	var mailer notify.Mailer
	if smtp, err := notify.NewSMTPMailer(cfg.SMTP); err != nil {
		w.log.WithField("error", err.Error()).Warn("email delivery disabled")
	} else if cfg.Notify.MailRate > 0 {
		mailer = notify.NewThrottled(smtp, cfg.Notify.MailRate, cfg.Notify.MailBurst)
	} else {
		mailer = smtp
	}

	var pusher notify.Pusher
	if !cfg.Notify.PushDisabled {
		app, err := w.firebaseApp(ctx)
		if err != nil {
			return nil, err
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("messaging client: %w", err)
		}
		pusher = notify.NewFCMPusher(client)
	}
	return notify.NewNotifier(mailer, pusher, cfg.Notify.Concurrency, log), nil
}
