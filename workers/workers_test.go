package workers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"

	"git-arcade/models"
	"git-arcade/multiplayer"
	"git-arcade/realtime"
	"git-arcade/services"
	"git-arcade/store"
	"git-arcade/utils"
)

const bundleJSON = `{
  "worlds": [{"world_id": 1, "world_level": 1, "world_name": "Branching Out"}],
  "challenges": [{"challenge_id": 1, "world_id": 1, "question_template": "Create [BRANCH]", "correct_answer_template": "git branch [BRANCH]", "start_state_id": 10}],
  "git_states": [{"state_id": 10, "status_template": "On branch main"}],
  "valid_transitions": [],
  "dynamic_variables": [{"variable_name": "BRANCH", "value_pool": ["feature"]}]
}`

func newLoader(t *testing.T, source string) (*ContentLoader, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(nil, clockwork.NewFakeClock())
	return &ContentLoader{
		Source:  source,
		Content: services.NewContentService(st, services.NewVariableCache(st)),
	}, st
}

func assertImported(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	w, err := st.GetWorldBySlug(context.Background(), "branching-out")
	if err != nil {
		t.Fatalf("world not imported: %v", err)
	}
	if w.ID != 1 {
		t.Fatalf("unexpected world %+v", w)
	}
}

func TestContentLoaderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, []byte(bundleJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	l, st := newLoader(t, path)
	if err := l.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	assertImported(t, st)
}

func TestContentLoaderFromHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bundleJSON))
	}))
	defer srv.Close()

	l, st := newLoader(t, srv.URL+"/bundle.json")
	l.HTTPClient = srv.Client()
	if err := l.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	assertImported(t, st)
}

type bucket map[string]string

func (b bucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := b[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestContentLoaderFromS3(t *testing.T) {
	l, st := newLoader(t, "s3://arcade/content/bundle.json")
	if err := l.Load(context.Background()); err == nil {
		t.Fatal("expected an error without an S3 client")
	}

	l.S3 = func(context.Context) (utils.ObjectGetter, error) {
		return bucket{"arcade/content/bundle.json": bundleJSON}, nil
	}
	if err := l.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	assertImported(t, st)
}

func TestContentLoaderRejectsBadBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	if err := os.WriteFile(path, []byte(`{"planets": []}`), 0o600); err != nil {
		t.Fatal(err)
	}
	l, _ := newLoader(t, path)
	if err := l.Load(context.Background()); err == nil {
		t.Fatal("expected a decode error for unknown fields")
	}

	l, _ = newLoader(t, "")
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("an empty source should be a no-op, got %v", err)
	}
}

func TestHousekeepingSweepsStaleQueue(t *testing.T) {
	clock := clockwork.NewRealClock()
	hub := realtime.NewHub()
	st := store.NewMemoryStore(hub, clock)
	deps := &multiplayer.Deps{Store: st, Hub: hub, Clock: clock, Config: multiplayer.DefaultConfig()}

	ctx := context.Background()
	stale := &models.QueueEntry{UserID: "alice", Username: "alice", CreatedAt: clock.Now().Add(-time.Hour)}
	if err := st.InsertQueueEntry(ctx, stale); err != nil {
		t.Fatal(err)
	}

	hk, err := StartHousekeeping(ctx, multiplayer.NewSweeper(deps, nil), clock, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer hk.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := st.GetQueueEntry(ctx, "alice"); errors.Is(err, store.ErrNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stale queue entry was not swept")
}
