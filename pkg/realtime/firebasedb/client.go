// Package firebasedb implements realtime.Store on top of the Firebase
// Realtime Database admin SDK.
package firebasedb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/sirupsen/logrus"
	"github.com/vitalwatch/platform/pkg/common/logger"
	"github.com/vitalwatch/platform/pkg/realtime"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

type Options struct {
	ProjectID       string
	DatabaseURL     string
	CredentialsFile string
	// EmulatorToken authenticates against a local emulator instead of a service account.
	EmulatorToken string
	PollInterval  time.Duration
}

// NewApp initializes the Firebase app shared by the database and auth clients.
func NewApp(ctx context.Context, opts Options) (*firebase.App, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.EmulatorToken != "":
		clientOpts = append(clientOpts, option.WithTokenSource(
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.EmulatorToken}),
		))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   opts.ProjectID,
		DatabaseURL: opts.DatabaseURL,
	}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	return app, nil
}

type Store struct {
	client   *db.Client
	interval time.Duration
}

var _ realtime.Store = (*Store)(nil)

func New(ctx context.Context, app *firebase.App, opts Options) (*Store, error) {
	client, err := app.DatabaseWithURL(ctx, opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect realtime database: %w", err)
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Store{client: client, interval: poll}, nil
}

func (s *Store) ref(path string) (*db.Ref, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, realtime.ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if !realtime.ValidKey(seg) {
			return nil, fmt.Errorf("%w: %q", realtime.ErrInvalidPath, path)
		}
	}
	return s.client.NewRef(path), nil
}

func (s *Store) Get(ctx context.Context, path string, v interface{}) (bool, error) {
	ref, err := s.ref(path)
	if err != nil {
		return false, err
	}
	var raw json.RawMessage
	if err := ref.Get(ctx, &raw); err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}
	snap := realtime.Snapshot{Path: path, Raw: raw}
	if !snap.Exists() {
		return false, nil
	}
	if err := snap.Decode(v); err != nil {
		return true, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (s *Store) Set(ctx context.Context, path string, v interface{}) error {
	ref, err := s.ref(path)
	if err != nil {
		return err
	}
	if err := ref.Set(ctx, v); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *Store) Push(ctx context.Context, path string, v interface{}) (string, error) {
	ref, err := s.ref(path)
	if err != nil {
		return "", err
	}
	child, err := ref.Push(ctx, v)
	if err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}
	return child.Key, nil
}

// CreateIfAbsent runs a transaction that keeps any existing value in place.
// The update function may be retried by the SDK, so created reflects the last run.
func (s *Store) CreateIfAbsent(ctx context.Context, path string, v interface{}) (bool, error) {
	ref, err := s.ref(path)
	if err != nil {
		return false, err
	}

	var created bool
	err = ref.Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var current json.RawMessage
		if err := node.Unmarshal(&current); err != nil {
			return nil, err
		}
		if (realtime.Snapshot{Raw: current}).Exists() {
			created = false
			return current, nil
		}
		created = true
		return v, nil
	})
	if err != nil {
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	return created, nil
}

func (s *Store) QueryEqual(ctx context.Context, path, child, value string) (map[string]json.RawMessage, error) {
	ref, err := s.ref(path)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	if err := ref.OrderByChild(child).EqualTo(value).Get(ctx, &out); err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", path, child, err)
	}
	if out == nil {
		out = map[string]json.RawMessage{}
	}
	return out, nil
}

// Watch delivers the current value before returning and then polls the
// path with ETag requests, invoking fn only when the content changed. The
// subscription ends when ctx is cancelled or the returned handle is called.
func (s *Store) Watch(ctx context.Context, path string, fn realtime.Listener) (realtime.Unsubscribe, error) {
	ref, err := s.ref(path)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	etag, err := ref.GetWithETag(ctx, &raw)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	fn(realtime.Snapshot{Path: path, Raw: raw})

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go s.watch(watchCtx, ref, path, etag, fn, done)

	return realtime.Once(func() {
		cancel()
		<-done
	}), nil
}

func (s *Store) watch(ctx context.Context, ref *db.Ref, path, etag string, fn realtime.Listener, done chan<- struct{}) {
	defer close(done)
	log := logger.WithFields(logrus.Fields{"path": path})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var raw json.RawMessage
		changed, next, err := ref.GetIfChanged(ctx, etag, &raw)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("Realtime watch poll failed")
			continue
		}
		if !changed {
			continue
		}
		etag = next
		fn(realtime.Snapshot{Path: path, Raw: raw})
	}
}
